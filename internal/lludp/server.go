package lludp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"verdantia/simulator/internal/config"
	"verdantia/simulator/internal/core"
	"verdantia/simulator/internal/logging"
	"verdantia/simulator/internal/login"
	"verdantia/simulator/internal/protocol"
)

// ErrNoCircuit reports a send addressed to an unregistered circuit code.
var ErrNoCircuit = errors.New("lludp: no such circuit")

// DefaultShutdownGrace is how long EmergencyShutdown lets notification
// packets flush before tearing the transport down.
const DefaultShutdownGrace = 2 * time.Second

// readPollInterval bounds how long the receive loop blocks before it
// re-checks the running flag.
const readPollInterval = 250 * time.Millisecond

// Direction labels a datagram for taps and traces.
type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// TapFunc observes every datagram crossing the socket, for trace capture.
type TapFunc func(dir Direction, addr net.Addr, frame []byte)

// Observer receives transport lifecycle notifications. Implementations must
// not block; they are invoked from the receive and maintenance paths.
type Observer interface {
	CircuitUp(code uint32, agent core.UserID)
	CircuitDown(code uint32, reason string)
	ChatRelayed(code uint32, chatType uint8, recipients int)
	DeliveryAbandoned(code uint32, sequence uint32)
}

// HealthReport is the facade's health-check contract for the hosting process.
type HealthReport struct {
	Running bool
	Message string
	Metrics map[string]float64
}

// Server owns the UDP socket, the circuit registry and the statistics, and
// runs the receive loop plus the maintenance scheduler.
type Server struct {
	cfg      *config.Config
	log      *logging.Logger
	login    *login.Service
	conn     net.PacketConn
	registry *Registry
	stats    *ServerStats

	typed map[uint32]handlerFunc
	raw   map[uint8]handlerFunc

	clock         func() time.Time
	observer      Observer
	tap           TapFunc
	shutdownGrace time.Duration

	regionID   core.RegionID
	regionName string

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// Option customises Server construction.
type Option func(*Server)

// WithClock overrides the wall clock, enabling deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithObserver attaches a lifecycle observer.
func WithObserver(obs Observer) Option {
	return func(s *Server) { s.observer = obs }
}

// WithTap attaches a datagram tap.
func WithTap(tap TapFunc) Option {
	return func(s *Server) { s.tap = tap }
}

// WithShutdownGrace overrides the emergency-shutdown flush delay.
func WithShutdownGrace(grace time.Duration) Option {
	return func(s *Server) {
		if grace >= 0 {
			s.shutdownGrace = grace
		}
	}
}

// New binds the UDP socket and assembles the transport. A bind failure is
// fatal to the server's purpose and is returned to the caller.
func New(cfg *config.Config, svc *login.Service, log *logging.Logger, opts ...Option) (*Server, error) {
	conn, err := net.ListenPacket("udp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", cfg.BindAddr, err)
	}
	return newWithConn(cfg, svc, log, conn, opts...), nil
}

// newWithConn wires the transport around an already-open socket. Tests use
// it to substitute an in-memory connection.
func newWithConn(cfg *config.Config, svc *login.Service, log *logging.Logger, conn net.PacketConn, opts ...Option) *Server {
	s := &Server{
		cfg:           cfg,
		log:           log,
		login:         svc,
		conn:          conn,
		clock:         time.Now,
		shutdownGrace: DefaultShutdownGrace,
		regionID:      core.NewRegionID(),
		regionName:    cfg.RegionName,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.stats = NewStats(s.clock)
	s.registry = NewRegistry(s.stats)
	s.typed, s.raw = dispatchTables()
	return s
}

// LocalAddr reports the bound socket address.
func (s *Server) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Registry exposes the circuit registry to the operational surfaces.
func (s *Server) Registry() *Registry { return s.registry }

// Stats exposes the transport counters.
func (s *Server) Stats() *ServerStats { return s.stats }

// Running reports whether the transport loops are live.
func (s *Server) Running() bool { return s.running.Load() }

// Start spawns the receive loop and the maintenance scheduler. Starting a
// running server is a no-op.
func (s *Server) Start() {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.log.Info("transport started",
		logging.String("bind_addr", s.conn.LocalAddr().String()),
		logging.String("region", s.regionName))
	s.wg.Add(3)
	go s.readLoop()
	go s.runMaintenance()
	go s.runStatsLog()
}

// Stop flips the running flag, closes the socket and waits for the loops to
// exit. In-flight sends are not drained; shutdown is best-effort.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	close(s.done)
	_ = s.conn.Close()
	s.wg.Wait()
	s.log.Info("transport stopped",
		logging.Int("circuits", s.registry.Len()))
}

func (s *Server) readLoop() {
	defer s.wg.Done()
	buf := make([]byte, s.cfg.MaxPacketSize+64)
	for s.running.Load() {
		_ = s.conn.SetReadDeadline(time.Now().Add(readPollInterval))
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if !s.running.Load() {
				return
			}
			s.stats.ErrorCounted()
			s.log.Warn("socket receive failed", logging.Error(err))
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		s.dispatch(frame, addr)
	}
}

// write puts one frame on the wire and keeps the counters and tap current.
func (s *Server) write(addr net.Addr, frame []byte) error {
	if s.tap != nil {
		s.tap(Outbound, addr, frame)
	}
	if _, err := s.conn.WriteTo(frame, addr); err != nil {
		s.stats.ErrorCounted()
		return fmt.Errorf("send to %s: %w", addr, err)
	}
	s.stats.PacketSent(len(frame))
	return nil
}

// sendPacket encodes and writes a packet that already carries its sequence.
func (s *Server) sendPacket(addr net.Addr, p *protocol.Packet) error {
	frame, err := p.Encode()
	if err != nil {
		s.stats.ErrorCounted()
		return fmt.Errorf("encode: %w", err)
	}
	return s.write(addr, frame)
}

// SendToCircuit stamps the circuit's next outbound sequence onto the packet
// and sends it. Reliable packets are handed to the delivery manager.
func (s *Server) SendToCircuit(code uint32, p *protocol.Packet) error {
	if p.Header.Reliable() {
		return s.SendReliable(code, p)
	}
	var addr net.Addr
	ok := s.registry.Update(code, func(c *CircuitInfo) {
		c.SequenceOut++
		p.Header.Sequence = c.SequenceOut
		addr = c.Address
	})
	if !ok {
		return ErrNoCircuit
	}
	return s.sendPacket(addr, p)
}

// BroadcastToAuthenticated fans the packet out to every authenticated
// circuit, each with its own outbound sequence. It reports the number of
// circuits reached; individual send failures are logged and counted.
func (s *Server) BroadcastToAuthenticated(p *protocol.Packet) int {
	sent := 0
	for _, c := range s.registry.All() {
		if !c.Authenticated {
			continue
		}
		clone := *p
		if err := s.SendToCircuit(c.Code, &clone); err != nil {
			s.log.Warn("broadcast send failed",
				logging.Uint32("circuit", c.Code), logging.Error(err))
			continue
		}
		sent++
	}
	return sent
}

// broadcastWithin fans frames out to authenticated circuits within radius
// metres of origin. The build callback produces the packet per recipient.
func (s *Server) broadcastWithin(origin core.Vector3, radius float64, build func(CircuitInfo) *protocol.Packet) int {
	sent := 0
	for _, c := range s.registry.All() {
		if !c.Authenticated {
			continue
		}
		if c.Position.DistanceTo(origin) > radius {
			continue
		}
		if err := s.SendToCircuit(c.Code, build(c)); err != nil {
			s.log.Warn("ranged broadcast send failed",
				logging.Uint32("circuit", c.Code), logging.Error(err))
			continue
		}
		sent++
	}
	return sent
}

// BroadcastChat relays a chat utterance to every authenticated circuit in
// range of the origin, using the audible distance for the chat type.
func (s *Server) BroadcastChat(source core.UserID, fromName string, chatType uint8, origin core.Vector3, message string) int {
	radius := chatRangeFor(chatType, s.cfg.ChatRange)
	payload := buildChatFromSimulator(fromName, source, chatType, origin, message)
	return s.broadcastWithin(origin, radius, func(CircuitInfo) *protocol.Packet {
		return protocol.New(0, 0, payload)
	})
}

// EmergencyShutdown notifies every authenticated circuit that the region is
// going away, waits out the flush grace, and stops the transport.
func (s *Server) EmergencyShutdown(reason string) {
	if !s.running.Load() {
		return
	}
	s.log.Warn("emergency shutdown", logging.String("reason", reason))
	payload := buildKickUser(reason)
	for _, c := range s.registry.All() {
		if !c.Authenticated {
			continue
		}
		if err := s.SendToCircuit(c.Code, protocol.New(0, 0, payload)); err != nil {
			s.log.Warn("shutdown notify failed",
				logging.Uint32("circuit", c.Code), logging.Error(err))
		}
		if s.observer != nil {
			s.observer.CircuitDown(c.Code, "shutdown")
		}
	}
	time.Sleep(s.shutdownGrace)
	s.Stop()
}

// Health reports the running state and the named metric map.
func (s *Server) Health() HealthReport {
	report := HealthReport{
		Running: s.running.Load(),
		Message: "stopped",
		Metrics: s.stats.MetricMap(),
	}
	if report.Running {
		report.Message = "running"
	}
	report.Metrics["circuits"] = float64(s.registry.Len())
	report.Metrics["authenticated_circuits"] = float64(s.registry.AuthenticatedCount())
	return report
}
