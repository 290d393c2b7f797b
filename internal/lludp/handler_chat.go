package lludp

import (
	"verdantia/simulator/internal/logging"
)

// publicChatChannel is the only channel relayed to nearby circuits; the
// rest are viewer-private script channels.
const publicChatChannel = 0

// handleChatFromViewer relays an utterance to every authenticated circuit
// within the chat type's audible range of the speaker.
func handleChatFromViewer(s *Server, in *inbound) error {
	r := newWireReader(in.pkt.Payload)
	agent := r.userID()
	session := r.sessionID()
	message := r.string16()
	chatType := r.u8()
	channel := r.i32()
	if r.err != nil {
		s.stats.ErrorCounted()
		return nil
	}
	if agent != in.circuit.AgentID || session != in.circuit.SessionID {
		s.stats.ErrorCounted()
		return nil
	}
	if channel != publicChatChannel || message == "" {
		return nil
	}

	speaker := in.circuit.Client.Name
	if speaker == "" {
		speaker = agent.String()
	}
	recipients := s.BroadcastChat(agent, speaker, chatType, in.circuit.Position, message)
	s.log.Debug("chat relayed",
		logging.Uint32("circuit", in.circuit.Code),
		logging.Int("chat_type", int(chatType)),
		logging.Int("recipients", recipients))
	if s.observer != nil {
		s.observer.ChatRelayed(in.circuit.Code, chatType, recipients)
	}
	return nil
}
