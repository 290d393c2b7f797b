package lludp

import (
	"verdantia/simulator/internal/logging"
	"verdantia/simulator/internal/protocol"
)

// defaultAgentBalance is the stub balance reported while the economy lives
// outside the transport.
const defaultAgentBalance int32 = 1000

// handleMoneyBalanceRequest answers with the stub balance.
func handleMoneyBalanceRequest(s *Server, in *inbound) error {
	r := newWireReader(in.pkt.Payload)
	agent := r.userID()
	session := r.sessionID()
	if r.err != nil || agent != in.circuit.AgentID || session != in.circuit.SessionID {
		s.stats.ErrorCounted()
		return nil
	}
	reply := protocol.New(0, 0, buildMoneyBalanceReply(agent, defaultAgentBalance)).
		WithMessageID(protocol.MsgMoneyBalanceReply)
	return s.SendReliable(in.circuit.Code, reply)
}

// handleRequestImage is a stub: asset delivery is a collaborator concern,
// so image requests are accepted and dropped.
func handleRequestImage(s *Server, in *inbound) error {
	s.log.Debug("image request dropped",
		logging.Uint32("circuit", in.circuit.Code))
	return nil
}

// handleObjectUpdateCached acknowledges the viewer's cache probe without
// content; the activity stamp alone keeps the circuit fresh.
func handleObjectUpdateCached(s *Server, in *inbound) error {
	return nil
}

// handleAgentAnimation is a stub: animation state is not tracked here.
func handleAgentAnimation(s *Server, in *inbound) error {
	return nil
}

// handleTeleportRequest is a stub: a single-region deploy has nowhere to
// teleport to, so the request is logged and dropped.
func handleTeleportRequest(s *Server, in *inbound) error {
	s.log.Debug("teleport request dropped",
		logging.Uint32("circuit", in.circuit.Code))
	return nil
}
