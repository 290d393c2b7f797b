package lludp

import (
	"net"

	"verdantia/simulator/internal/logging"
	"verdantia/simulator/internal/protocol"
)

// handlerFunc processes one routed packet. Returned errors are send-side
// failures only; the dispatcher logs them and keeps the loop alive.
type handlerFunc func(s *Server, in *inbound) error

// inbound bundles everything a handler needs about one received datagram.
type inbound struct {
	addr    net.Addr
	pkt     *protocol.Packet
	circuit CircuitInfo
	known   bool
}

// dispatchTables builds the closed message-id and raw-control routing maps.
// The id set is fixed by the wire protocol, so the tables are too.
func dispatchTables() (map[uint32]handlerFunc, map[uint8]handlerFunc) {
	typed := map[uint32]handlerFunc{
		protocol.MsgStartPingCheck:        handleStartPingCheck,
		protocol.MsgCompletePingCheck:     handleCompletePingCheck,
		protocol.MsgUseCircuitCode:        handleUseCircuitCode,
		protocol.MsgAgentUpdate:           handleAgentUpdate,
		protocol.MsgAgentAnimation:        handleAgentAnimation,
		protocol.MsgRequestImage:          handleRequestImage,
		protocol.MsgChatFromViewer:        handleChatFromViewer,
		protocol.MsgTeleportRequest:       handleTeleportRequest,
		protocol.MsgRegionHandshakeReply:  handleRegionHandshakeReply,
		protocol.MsgMoneyBalanceRequest:   handleMoneyBalanceRequest,
		protocol.MsgCompleteAgentMovement: handleCompleteAgentMovement,
		protocol.MsgLogoutRequest:         handleLogoutRequest,
		protocol.MsgObjectUpdateCached:    handleObjectUpdateCached,
	}
	raw := map[uint8]handlerFunc{
		protocol.RawStartPingCheck:    handleRawStartPingCheck,
		protocol.RawCompletePingCheck: handleRawCompletePingCheck,
		protocol.RawPacketAck:         handlePacketAck,
	}
	return typed, raw
}

// dispatch is the single inbound path every received datagram passes
// through. Nothing here may panic or abort the receive loop: malformed input
// is dropped with a debug log and an error count.
func (s *Server) dispatch(data []byte, addr net.Addr) {
	if s.tap != nil {
		s.tap(Inbound, addr, data)
	}

	//1.- Parse. Malformed or foreign datagrams are dropped silently.
	pkt, err := protocol.Decode(data)
	if err != nil {
		s.stats.ErrorCounted()
		s.log.Debug("dropping malformed datagram",
			logging.String("from", addr.String()), logging.Error(err))
		return
	}
	s.stats.PacketReceived(len(data))

	//2.- Refresh the sending circuit: activity stamp, inbound sequence
	//    high-water mark, and an owed ack when the frame was reliable.
	circuit, known := s.registry.ByAddress(addr)
	if known {
		now := s.clock()
		s.registry.Update(circuit.Code, func(c *CircuitInfo) {
			c.LastActivity = now
			if pkt.Header.Sequence > c.SequenceIn {
				c.SequenceIn = pkt.Header.Sequence
			}
			if pkt.Header.Reliable() {
				c.PendingAcks = append(c.PendingAcks, pkt.Header.Sequence)
			}
		})
		//3.- Acks piggybacked on any frame retire in-flight entries.
		for _, seq := range pkt.AppendedAcks {
			s.Ack(circuit.Code, seq)
		}
	}

	in := &inbound{addr: addr, pkt: pkt, circuit: circuit, known: known}
	if err := s.route(in); err != nil {
		s.stats.ErrorCounted()
		s.log.Error("handler send failed",
			logging.String("from", addr.String()), logging.Error(err))
	}

	//4.- Owed acks go back immediately rather than waiting for the sweep.
	if known {
		s.flushAcks(circuit.Code)
	}
}

func (s *Server) route(in *inbound) error {
	//1.- Typed packets route by message number. Only UseCircuitCode may
	//    arrive from an address with no circuit; everything else is rejected.
	if in.pkt.HasMessageID {
		handler, ok := s.typed[in.pkt.MessageID]
		if !ok {
			s.stats.ErrorCounted()
			s.log.Debug("unknown message id",
				logging.Uint32("message_id", in.pkt.MessageID),
				logging.String("from", in.addr.String()))
			return nil
		}
		if !in.known && in.pkt.MessageID != protocol.MsgUseCircuitCode {
			s.stats.ErrorCounted()
			s.log.Debug("packet for unknown circuit",
				logging.Uint32("message_id", in.pkt.MessageID),
				logging.String("from", in.addr.String()))
			return nil
		}
		return handler(s, in)
	}

	//2.- Raw control frames route by their first payload byte. An empty
	//    payload is a no-op, and bare ack frames carry only appended acks.
	if len(in.pkt.Payload) == 0 {
		return nil
	}
	handler, ok := s.raw[in.pkt.Payload[0]]
	if !ok {
		s.stats.ErrorCounted()
		s.log.Debug("unknown raw control type",
			logging.Int("control", int(in.pkt.Payload[0])),
			logging.String("from", in.addr.String()))
		return nil
	}
	if !in.known {
		s.stats.ErrorCounted()
		s.log.Debug("raw frame for unknown circuit",
			logging.Int("control", int(in.pkt.Payload[0])),
			logging.String("from", in.addr.String()))
		return nil
	}
	return handler(s, in)
}

// flushAcks drains the circuit's owed acks into one PacketAck frame.
func (s *Server) flushAcks(code uint32) {
	var (
		addr net.Addr
		acks []uint32
	)
	s.registry.Update(code, func(c *CircuitInfo) {
		if len(c.PendingAcks) == 0 {
			return
		}
		acks = c.PendingAcks
		c.PendingAcks = nil
		addr = c.Address
	})
	if len(acks) == 0 {
		return
	}
	if err := s.sendAcks(addr, acks); err != nil {
		s.log.Warn("ack send failed",
			logging.Uint32("circuit", code), logging.Error(err))
	}
}

// maxAcksPerFrame keeps the ack count byte clear of the 0xFF escape and the
// frame inside one datagram.
const maxAcksPerFrame = 200

// sendAcks emits PacketAck frames, chunking when many acks are owed.
func (s *Server) sendAcks(addr net.Addr, acks []uint32) error {
	for len(acks) > 0 {
		n := len(acks)
		if n > maxAcksPerFrame {
			n = maxAcksPerFrame
		}
		if err := s.sendPacket(addr, protocol.New(0, 0, buildPacketAck(acks[:n]))); err != nil {
			return err
		}
		acks = acks[n:]
	}
	return nil
}
