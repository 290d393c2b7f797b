package lludp

import (
	"verdantia/simulator/internal/logging"
	"verdantia/simulator/internal/protocol"
)

// handleStartPingCheck echoes the ping id straight back so the viewer can
// measure round-trip time.
func handleStartPingCheck(s *Server, in *inbound) error {
	r := newWireReader(in.pkt.Payload)
	pingID := r.u8()
	_ = r.u32() // oldest unacked, informational
	if r.err != nil {
		s.stats.ErrorCounted()
		return nil
	}
	return s.SendToCircuit(in.circuit.Code, protocol.New(0, 0, buildCompletePingCheck(pingID)))
}

// handleRawStartPingCheck is the un-ID'd form of the same probe.
func handleRawStartPingCheck(s *Server, in *inbound) error {
	r := newWireReader(in.pkt.Payload[1:])
	pingID := r.u8()
	if r.err != nil {
		s.stats.ErrorCounted()
		return nil
	}
	return s.SendToCircuit(in.circuit.Code, protocol.New(0, 0, buildCompletePingCheck(pingID)))
}

// handleCompletePingCheck closes the loop on a heartbeat this server sent.
func handleCompletePingCheck(s *Server, in *inbound) error {
	r := newWireReader(in.pkt.Payload)
	s.recordPingEcho(in.circuit.Code, r.u8(), r.err == nil)
	return nil
}

func handleRawCompletePingCheck(s *Server, in *inbound) error {
	r := newWireReader(in.pkt.Payload[1:])
	s.recordPingEcho(in.circuit.Code, r.u8(), r.err == nil)
	return nil
}

// recordPingEcho updates RTT bookkeeping when the echoed id matches the
// heartbeat most recently sent on the circuit. Stale echoes are ignored.
func (s *Server) recordPingEcho(code uint32, pingID uint8, parsed bool) {
	if !parsed {
		s.stats.ErrorCounted()
		return
	}
	now := s.clock()
	s.registry.Update(code, func(c *CircuitInfo) {
		if c.LastPingID != pingID {
			return
		}
		c.LastRTT = now.Sub(c.LastPingAt)
	})
}

// handlePacketAck retires reliable entries named by a raw PacketAck frame.
func handlePacketAck(s *Server, in *inbound) error {
	acks := parsePacketAck(in.pkt.Payload)
	if acks == nil {
		s.stats.ErrorCounted()
		s.log.Debug("malformed packet ack",
			logging.Uint32("circuit", in.circuit.Code))
		return nil
	}
	for _, seq := range acks {
		s.Ack(in.circuit.Code, seq)
	}
	return nil
}
