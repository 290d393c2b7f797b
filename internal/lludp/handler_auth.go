package lludp

import (
	"verdantia/simulator/internal/core"
	"verdantia/simulator/internal/logging"
	"verdantia/simulator/internal/protocol"
)

// useCircuitCode is the parsed establishment request.
type useCircuitCode struct {
	Code      uint32
	SessionID core.SessionID
	AgentID   core.UserID
	Client    ClientInfo
}

func parseUseCircuitCode(payload []byte) (useCircuitCode, error) {
	r := newWireReader(payload)
	msg := useCircuitCode{
		Code:      r.u32(),
		SessionID: r.sessionID(),
		AgentID:   r.userID(),
	}
	if r.err != nil {
		return useCircuitCode{}, r.err
	}
	//1.- Viewer build details are optional trailing fields.
	if r.off < len(r.buf) {
		msg.Client = ClientInfo{
			Name:     r.string16(),
			Version:  r.string16(),
			Platform: r.string16(),
			Channel:  r.string16(),
		}
		if r.err != nil {
			msg.Client = ClientInfo{}
		}
	}
	return msg, nil
}

// handleUseCircuitCode runs circuit establishment: the only path that may
// create a CircuitInfo. Duplicate requests from an established address are
// idempotent; invalid credentials earn an explicit denial packet.
func handleUseCircuitCode(s *Server, in *inbound) error {
	msg, err := parseUseCircuitCode(in.pkt.Payload)
	if err != nil {
		s.stats.ErrorCounted()
		s.log.Debug("malformed establishment request",
			logging.String("from", in.addr.String()), logging.Error(err))
		return nil
	}

	//1.- Re-establishment from a live circuit must not create a duplicate.
	//    A new code from the same address is a reconnect: the old circuit
	//    goes away before the fresh one is validated.
	if in.known {
		if in.circuit.Code == msg.Code {
			s.log.Debug("duplicate establishment request",
				logging.Uint32("circuit", msg.Code))
			return nil
		}
		if removed, ok := s.registry.Remove(in.circuit.Code); ok {
			_ = s.login.EndSession(removed.SessionID)
			s.log.Info("circuit replaced by reconnect",
				logging.Uint32("old_circuit", removed.Code),
				logging.Uint32("new_circuit", msg.Code))
			if s.observer != nil {
				s.observer.CircuitDown(removed.Code, "reconnect")
			}
		}
	}
	if _, taken := s.registry.Get(msg.Code); taken {
		s.stats.ErrorCounted()
		s.log.Warn("circuit code already bound elsewhere",
			logging.Uint32("circuit", msg.Code),
			logging.String("from", in.addr.String()))
		return nil
	}

	//2.- The session grant must name this agent and this circuit code.
	if !s.login.ValidateCircuit(msg.SessionID, msg.AgentID, msg.Code) {
		s.stats.LoginAttempt(false)
		s.log.Warn("circuit establishment denied",
			logging.Uint32("circuit", msg.Code),
			logging.String("agent", msg.AgentID.String()))
		return s.sendPacket(in.addr, protocol.New(0, 0, buildKickUser("circuit establishment denied")))
	}

	//3.- Insert the authenticated circuit at the spawn point.
	now := s.clock()
	circuit := NewCircuit(msg.Code, in.addr, now)
	circuit.AgentID = msg.AgentID
	circuit.SessionID = msg.SessionID
	circuit.Client = msg.Client
	circuit.Position = SpawnPosition
	circuit.RegionID = s.regionID
	circuit.Authenticated = true
	circuit.SequenceIn = in.pkt.Header.Sequence
	if in.pkt.Header.Reliable() {
		circuit.PendingAcks = append(circuit.PendingAcks, in.pkt.Header.Sequence)
	}
	if err := s.registry.Insert(circuit); err != nil {
		s.stats.ErrorCounted()
		s.log.Warn("circuit insert raced", logging.Uint32("circuit", msg.Code))
		return nil
	}
	s.stats.LoginAttempt(true)
	s.log.Info("circuit established",
		logging.Uint32("circuit", msg.Code),
		logging.String("agent", msg.AgentID.String()),
		logging.String("from", in.addr.String()))
	if s.observer != nil {
		s.observer.CircuitUp(msg.Code, msg.AgentID)
	}

	//4.- Greet the viewer; the handshake rides reliable delivery. The ack
	//    owed for the establishment request follows it.
	handshake := protocol.New(0, 0, buildRegionHandshake(s.regionName, s.regionID, 0))
	err = s.SendReliable(msg.Code, handshake)
	s.flushAcks(msg.Code)
	return err
}

// handleLogoutRequest removes the circuit immediately rather than waiting
// for the timeout sweep.
func handleLogoutRequest(s *Server, in *inbound) error {
	r := newWireReader(in.pkt.Payload)
	agent := r.userID()
	session := r.sessionID()
	if r.err != nil || agent != in.circuit.AgentID || session != in.circuit.SessionID {
		s.stats.ErrorCounted()
		return nil
	}

	if removed, ok := s.registry.Remove(in.circuit.Code); ok {
		_ = s.login.EndSession(removed.SessionID)
		s.log.Info("circuit logged out",
			logging.Uint32("circuit", removed.Code),
			logging.String("agent", removed.AgentID.String()))
		if s.observer != nil {
			s.observer.CircuitDown(removed.Code, "logout")
		}
	}
	return nil
}
