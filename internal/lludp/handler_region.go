package lludp

import (
	"verdantia/simulator/internal/logging"
	"verdantia/simulator/internal/protocol"
)

// handleRegionHandshakeReply acknowledges the viewer's handshake completion
// and pushes the first-state terrain stubs. Full scene content is owned by
// collaborators above the transport.
func handleRegionHandshakeReply(s *Server, in *inbound) error {
	r := newWireReader(in.pkt.Payload)
	agent := r.userID()
	session := r.sessionID()
	_ = r.u32() // viewer flags
	if r.err != nil || agent != in.circuit.AgentID || session != in.circuit.SessionID {
		s.stats.ErrorCounted()
		return nil
	}

	s.log.Debug("region handshake completed",
		logging.Uint32("circuit", in.circuit.Code))
	for _, kind := range []uint8{LayerLand, LayerWind, LayerCloud} {
		if err := s.SendToCircuit(in.circuit.Code, protocol.New(0, 0, buildLayerData(kind))); err != nil {
			return err
		}
	}
	return nil
}
