package lludp

import (
	"verdantia/simulator/internal/protocol"
)

// handleAgentUpdate refreshes the circuit's cached position and look-at from
// the viewer's camera block. These arrive tens of times per second and are
// deliberately cheap: parse, verify identity, store.
func handleAgentUpdate(s *Server, in *inbound) error {
	r := newWireReader(in.pkt.Payload)
	agent := r.userID()
	session := r.sessionID()
	_ = r.quaternion() // body rotation
	_ = r.quaternion() // head rotation
	_ = r.u8()         // agent state
	center := r.vector3()
	at := r.vector3()
	if r.err != nil {
		s.stats.ErrorCounted()
		return nil
	}
	if agent != in.circuit.AgentID || session != in.circuit.SessionID {
		s.stats.ErrorCounted()
		return nil
	}
	// Out-of-order updates overwrite each other harmlessly; the newest
	// datagram to arrive wins.
	s.registry.Update(in.circuit.Code, func(c *CircuitInfo) {
		c.Position = center
		c.LookAt = at
	})
	return nil
}

// handleCompleteAgentMovement confirms the agent's arrival with an
// AgentMovementComplete reply carrying the landing position.
func handleCompleteAgentMovement(s *Server, in *inbound) error {
	r := newWireReader(in.pkt.Payload)
	agent := r.userID()
	session := r.sessionID()
	code := r.u32()
	if r.err != nil || agent != in.circuit.AgentID || session != in.circuit.SessionID || code != in.circuit.Code {
		s.stats.ErrorCounted()
		return nil
	}
	body := buildMovementComplete(agent, session, in.circuit.Position, in.circuit.LookAt, uint32(s.clock().Unix()))
	reply := protocol.New(0, 0, body).WithMessageID(protocol.MsgAgentMovementComplete)
	return s.SendReliable(in.circuit.Code, reply)
}
