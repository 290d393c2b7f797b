package lludp

import (
	"net"
	"time"

	"verdantia/simulator/internal/logging"
	"verdantia/simulator/internal/protocol"
)

// SendReliable assigns the circuit's next outbound sequence, encodes the
// packet once, records the exact wire bytes for retransmission and sends
// them. Resends always replay the recorded frame; re-encoding could drift
// the header and defeat the viewer's duplicate detection.
func (s *Server) SendReliable(code uint32, p *protocol.Packet) error {
	var (
		addr   net.Addr
		frame  []byte
		encErr error
	)
	ok := s.registry.Update(code, func(c *CircuitInfo) {
		c.SequenceOut++
		p.Header.Flags |= protocol.FlagReliable
		p.Header.Sequence = c.SequenceOut
		frame, encErr = p.Encode()
		if encErr != nil {
			return
		}
		c.Reliable[p.Header.Sequence] = &ReliableEntry{
			Frame:  frame,
			SentAt: s.clock(),
		}
		addr = c.Address
	})
	if !ok {
		return ErrNoCircuit
	}
	if encErr != nil {
		s.stats.ErrorCounted()
		return encErr
	}
	return s.write(addr, frame)
}

// Ack retires the in-flight entry for the acknowledged sequence. Duplicate
// and unknown acks are tolerated silently; the wire may replay them.
func (s *Server) Ack(code uint32, sequence uint32) {
	s.registry.Update(code, func(c *CircuitInfo) {
		delete(c.Reliable, sequence)
	})
}

// sweepReliableLocked walks one circuit's in-flight packets inside a registry
// mutator. Entries past the resend timeout are either queued for
// retransmission (bounded by max resends) or abandoned. The caller performs
// the actual sends after the lock is released.
func (s *Server) sweepReliableLocked(c *CircuitInfo, now time.Time, resends *[]outboundFrame, abandoned *[]uint32) {
	for seq, entry := range c.Reliable {
		if now.Sub(entry.SentAt) <= s.cfg.ResendTimeout {
			continue
		}
		if entry.ResendCount < s.cfg.MaxResends {
			entry.ResendCount++
			entry.SentAt = now
			*resends = append(*resends, outboundFrame{addr: c.Address, frame: entry.Frame})
			continue
		}
		//1.- Exhausted: best-effort delivery gives up silently.
		delete(c.Reliable, seq)
		*abandoned = append(*abandoned, seq)
	}
}

// outboundFrame is a send deferred until the registry lock is released.
type outboundFrame struct {
	addr  net.Addr
	frame []byte
}

// flushResends replays recorded frames and keeps the resend counter current.
func (s *Server) flushResends(resends []outboundFrame) {
	for _, out := range resends {
		if err := s.write(out.addr, out.frame); err != nil {
			s.log.Warn("reliable resend failed", logging.Error(err))
			continue
		}
		s.stats.ReliableResent()
	}
}

// reportAbandoned surfaces abandoned deliveries to the stats counters, the
// debug log and the lifecycle observer.
func (s *Server) reportAbandoned(code uint32, sequences []uint32) {
	for _, seq := range sequences {
		s.stats.ReliableAbandoned()
		s.log.Debug("reliable delivery abandoned",
			logging.Uint32("circuit", code), logging.Uint32("sequence", seq))
		if s.observer != nil {
			s.observer.DeliveryAbandoned(code, seq)
		}
	}
}
