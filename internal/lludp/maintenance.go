package lludp

import (
	"net"
	"time"

	"verdantia/simulator/internal/logging"
	"verdantia/simulator/internal/protocol"
)

// tickInterval is the maintenance cadence: eviction, heartbeats and the
// reliable resend sweep all ride the same pass.
const tickInterval = 100 * time.Millisecond

// statsLogInterval is the cadence of the observational stats log line.
const statsLogInterval = 30 * time.Second

// ackBatch is a circuit's owed acks collected during a maintenance pass.
type ackBatch struct {
	addr net.Addr
	acks []uint32
}

func (s *Server) runMaintenance() {
	defer s.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.tick(s.clock())
		}
	}
}

// tick walks the registry exactly once: it marks timed-out circuits, emits
// due heartbeats, sweeps reliable resends and flushes leftover acks.
// Evictions are applied after the pass so the walk never mutates the set it
// is iterating.
func (s *Server) tick(now time.Time) {
	var (
		evicted   []uint32
		pings     []outboundFrame
		ackFlush  []ackBatch
		resends   []outboundFrame
		abandoned = make(map[uint32][]uint32)
	)

	for _, code := range s.registry.Codes() {
		s.registry.Update(code, func(c *CircuitInfo) {
			//1.- Stale circuits are only marked here; removal happens after
			//    the pass completes.
			if now.Sub(c.LastActivity) > s.cfg.ClientTimeout {
				evicted = append(evicted, c.Code)
				return
			}

			//2.- Heartbeat when the ping interval has elapsed.
			if now.Sub(c.LastPingAt) >= s.cfg.PingInterval {
				c.LastPingID++
				c.LastPingAt = now
				pings = append(pings, outboundFrame{
					addr:  c.Address,
					frame: buildStartPingCheck(c.LastPingID, oldestUnacked(c)),
				})
			}

			//3.- Retransmit or abandon overdue reliable packets.
			var gone []uint32
			s.sweepReliableLocked(c, now, &resends, &gone)
			if len(gone) > 0 {
				abandoned[c.Code] = gone
			}

			//4.- Acks that did not ride an immediate reply go out now.
			if len(c.PendingAcks) > 0 {
				ackFlush = append(ackFlush, ackBatch{addr: c.Address, acks: c.PendingAcks})
				c.PendingAcks = nil
			}
		})
	}

	//5.- All sends happen outside the registry lock.
	for _, ping := range pings {
		if err := s.sendPacket(ping.addr, protocol.New(0, 0, ping.frame)); err != nil {
			s.log.Warn("heartbeat send failed", logging.Error(err))
			continue
		}
		s.stats.HeartbeatSent()
	}
	s.flushResends(resends)
	for _, flush := range ackFlush {
		if err := s.sendAcks(flush.addr, flush.acks); err != nil {
			s.log.Warn("ack flush failed", logging.Error(err))
		}
	}
	for code, sequences := range abandoned {
		s.reportAbandoned(code, sequences)
	}

	for _, code := range evicted {
		removed, ok := s.registry.Remove(code)
		if !ok {
			continue
		}
		_ = s.login.EndSession(removed.SessionID)
		s.log.Info("circuit timed out",
			logging.Uint32("circuit", removed.Code),
			logging.String("agent", removed.AgentID.String()),
			logging.Duration("idle", now.Sub(removed.LastActivity)))
		if s.observer != nil {
			s.observer.CircuitDown(removed.Code, "timeout")
		}
	}
}

// oldestUnacked reports the lowest in-flight outbound sequence, advertised
// in ping-checks so the peer can detect ack loss.
func oldestUnacked(c *CircuitInfo) uint32 {
	oldest := uint32(0)
	for seq := range c.Reliable {
		if oldest == 0 || seq < oldest {
			oldest = seq
		}
	}
	return oldest
}

// runStatsLog periodically reports aggregate counters. Read-only.
func (s *Server) runStatsLog() {
	defer s.wg.Done()
	ticker := time.NewTicker(statsLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.logStats()
		}
	}
}

func (s *Server) logStats() {
	snap := s.stats.Snapshot()
	s.log.Info("transport stats",
		logging.Int("circuits", s.registry.Len()),
		logging.Int("authenticated", s.registry.AuthenticatedCount()),
		logging.Uint64("packets_received", snap.PacketsReceived),
		logging.Uint64("packets_sent", snap.PacketsSent),
		logging.Uint64("bytes_received", snap.BytesReceived),
		logging.Uint64("bytes_sent", snap.BytesSent),
		logging.Uint64("errors", snap.Errors),
		logging.Uint64("reliable_resends", snap.ReliableResends),
		logging.Float64("packets_per_second", snap.PacketsPerSecond),
		logging.Float64("error_rate", snap.ErrorRate))
}
