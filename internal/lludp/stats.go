package lludp

import (
	"sync/atomic"
	"time"
)

// ServerStats holds the process-wide transport counters. Every send and
// receive path increments them independently; readers only ever see a
// snapshot, so eventual consistency across counters is acceptable.
type ServerStats struct {
	start time.Time
	now   func() time.Time

	packetsSent       atomic.Uint64
	packetsReceived   atomic.Uint64
	bytesSent         atomic.Uint64
	bytesReceived     atomic.Uint64
	connections       atomic.Uint64
	activeSessions    atomic.Int64
	errors            atomic.Uint64
	heartbeatsSent    atomic.Uint64
	reliableResends   atomic.Uint64
	reliableAbandoned atomic.Uint64
	loginAttempts     atomic.Uint64
	successfulLogins  atomic.Uint64
}

// NewStats starts a counter set anchored at the given clock's current time.
func NewStats(clock func() time.Time) *ServerStats {
	if clock == nil {
		clock = time.Now
	}
	return &ServerStats{start: clock(), now: clock}
}

// PacketSent records one outbound datagram of the given size.
func (s *ServerStats) PacketSent(size int) {
	s.packetsSent.Add(1)
	s.bytesSent.Add(uint64(size))
}

// PacketReceived records one inbound datagram of the given size.
func (s *ServerStats) PacketReceived(size int) {
	s.packetsReceived.Add(1)
	s.bytesReceived.Add(uint64(size))
}

// ConnectionOpened records a freshly established circuit.
func (s *ServerStats) ConnectionOpened() {
	s.connections.Add(1)
	s.activeSessions.Add(1)
}

// ConnectionClosed records a circuit leaving the registry.
func (s *ServerStats) ConnectionClosed() { s.activeSessions.Add(-1) }

// ErrorCounted records one dropped or failed datagram.
func (s *ServerStats) ErrorCounted() { s.errors.Add(1) }

// HeartbeatSent records one ping-check emission.
func (s *ServerStats) HeartbeatSent() { s.heartbeatsSent.Add(1) }

// ReliableResent records one retransmission attempt.
func (s *ServerStats) ReliableResent() { s.reliableResends.Add(1) }

// ReliableAbandoned records a reliable packet dropped after exhausting resends.
func (s *ServerStats) ReliableAbandoned() { s.reliableAbandoned.Add(1) }

// LoginAttempt records one circuit establishment request, successful or not.
func (s *ServerStats) LoginAttempt(ok bool) {
	s.loginAttempts.Add(1)
	if ok {
		s.successfulLogins.Add(1)
	}
}

// Snapshot is a plain copy of the counters plus derived rates.
type Snapshot struct {
	PacketsSent       uint64
	PacketsReceived   uint64
	BytesSent         uint64
	BytesReceived     uint64
	Connections       uint64
	ActiveSessions    int64
	Errors            uint64
	HeartbeatsSent    uint64
	ReliableResends   uint64
	ReliableAbandoned uint64
	LoginAttempts     uint64
	SuccessfulLogins  uint64
	Uptime            time.Duration
	PacketsPerSecond  float64
	ErrorRate         float64
	LoginSuccessRate  float64
}

// Snapshot copies the counters and computes the derived rates.
func (s *ServerStats) Snapshot() Snapshot {
	snap := Snapshot{
		PacketsSent:       s.packetsSent.Load(),
		PacketsReceived:   s.packetsReceived.Load(),
		BytesSent:         s.bytesSent.Load(),
		BytesReceived:     s.bytesReceived.Load(),
		Connections:       s.connections.Load(),
		ActiveSessions:    s.activeSessions.Load(),
		Errors:            s.errors.Load(),
		HeartbeatsSent:    s.heartbeatsSent.Load(),
		ReliableResends:   s.reliableResends.Load(),
		ReliableAbandoned: s.reliableAbandoned.Load(),
		LoginAttempts:     s.loginAttempts.Load(),
		SuccessfulLogins:  s.successfulLogins.Load(),
		Uptime:            s.now().Sub(s.start),
	}
	if secs := snap.Uptime.Seconds(); secs > 0 {
		snap.PacketsPerSecond = float64(snap.PacketsSent+snap.PacketsReceived) / secs
	}
	if total := snap.PacketsSent + snap.PacketsReceived; total > 0 {
		snap.ErrorRate = float64(snap.Errors) / float64(total)
	}
	if snap.LoginAttempts > 0 {
		snap.LoginSuccessRate = float64(snap.SuccessfulLogins) / float64(snap.LoginAttempts)
	}
	return snap
}

// MetricMap renders the snapshot as the named metrics served by the health
// and operational surfaces.
func (s *ServerStats) MetricMap() map[string]float64 {
	snap := s.Snapshot()
	return map[string]float64{
		"connections":        float64(snap.Connections),
		"active_sessions":    float64(snap.ActiveSessions),
		"packets_received":   float64(snap.PacketsReceived),
		"packets_sent":       float64(snap.PacketsSent),
		"bytes_received":     float64(snap.BytesReceived),
		"bytes_sent":         float64(snap.BytesSent),
		"errors":             float64(snap.Errors),
		"heartbeats_sent":    float64(snap.HeartbeatsSent),
		"reliable_resends":   float64(snap.ReliableResends),
		"reliable_abandoned": float64(snap.ReliableAbandoned),
		"login_attempts":     float64(snap.LoginAttempts),
		"successful_logins":  float64(snap.SuccessfulLogins),
		"packets_per_second": snap.PacketsPerSecond,
		"error_rate":         snap.ErrorRate,
		"uptime_seconds":     snap.Uptime.Seconds(),
	}
}
