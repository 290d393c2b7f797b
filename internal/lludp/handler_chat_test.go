package lludp

import (
	"testing"

	"verdantia/simulator/internal/core"
	"verdantia/simulator/internal/protocol"
)

func chatPayload(c *CircuitInfo, message string, chatType uint8, channel int32) []byte {
	payload := appendUUID(nil, c.AgentID.UUID)
	payload = appendUUID(payload, c.SessionID)
	payload = appendString16(payload, message)
	payload = append(payload, chatType)
	return appendU32(payload, uint32(channel))
}

func TestChatFanOutIsRangeFiltered(t *testing.T) {
	clk := newTestClock()
	s, conn, _ := newTestServer(t, clk)

	speakerAddr := clientAddr(44000)
	nearAddr := clientAddr(44001)
	farAddr := clientAddr(44002)
	speaker := insertTestCircuit(t, s, 1, speakerAddr, core.Zero3)
	insertTestCircuit(t, s, 2, nearAddr, core.NewVector3(10, 0, 0))
	insertTestCircuit(t, s, 3, farAddr, core.NewVector3(200, 0, 0))
	conn.reset()

	// A shout carries 100m; the circuit at 200m must stay silent.
	dispatchPacket(t, s, speakerAddr,
		protocol.New(0, 1, chatPayload(speaker, "hello", ChatTypeShout, publicChatChannel)).
			WithMessageID(protocol.MsgChatFromViewer))

	if got := conn.framesTo(farAddr); len(got) != 0 {
		t.Fatalf("out-of-range circuit received %d frames", len(got))
	}
	near := conn.framesTo(nearAddr)
	if len(near) != 1 {
		t.Fatalf("in-range circuit received %d frames, want 1", len(near))
	}
	relay, err := protocol.Decode(near[0])
	if err != nil {
		t.Fatalf("decode relay: %v", err)
	}
	if relay.MessageID != uint32(protocol.RawChatFromSimulator) {
		t.Fatalf("relay decodes as message %d, want chat from simulator", relay.MessageID)
	}
	r := newWireReader(relay.Payload)
	name := r.string16()
	source := r.userID()
	gotType := r.u8()
	_ = r.vector3()
	message := r.string16()
	if r.err != nil {
		t.Fatalf("relay layout: %v", r.err)
	}
	if source != speaker.AgentID || gotType != ChatTypeShout || message != "hello" {
		t.Fatalf("relay fields: name=%q source=%v type=%d msg=%q", name, source, gotType, message)
	}
	// The speaker hears their own chat.
	if got := conn.framesTo(speakerAddr); len(got) != 1 {
		t.Fatalf("speaker received %d frames, want 1", len(got))
	}
}

func TestWhisperRangeIsTighterThanSay(t *testing.T) {
	clk := newTestClock()
	s, conn, _ := newTestServer(t, clk)

	speakerAddr := clientAddr(44000)
	listenerAddr := clientAddr(44001)
	speaker := insertTestCircuit(t, s, 1, speakerAddr, core.Zero3)
	insertTestCircuit(t, s, 2, listenerAddr, core.NewVector3(15, 0, 0))
	conn.reset()

	// 15m away: audible for say (20m), not for whisper (10m).
	dispatchPacket(t, s, speakerAddr,
		protocol.New(0, 1, chatPayload(speaker, "psst", ChatTypeWhisper, publicChatChannel)).
			WithMessageID(protocol.MsgChatFromViewer))
	if got := conn.framesTo(listenerAddr); len(got) != 0 {
		t.Fatalf("whisper reached 15m: %d frames", len(got))
	}

	dispatchPacket(t, s, speakerAddr,
		protocol.New(0, 2, chatPayload(speaker, "hello", ChatTypeSay, publicChatChannel)).
			WithMessageID(protocol.MsgChatFromViewer))
	if got := conn.framesTo(listenerAddr); len(got) != 1 {
		t.Fatalf("say did not reach 15m: %d frames", len(got))
	}
}

func TestChatOnPrivateChannelIsNotRelayed(t *testing.T) {
	clk := newTestClock()
	s, conn, _ := newTestServer(t, clk)
	speakerAddr := clientAddr(44000)
	speaker := insertTestCircuit(t, s, 1, speakerAddr, core.Zero3)
	insertTestCircuit(t, s, 2, clientAddr(44001), core.Zero3)
	conn.reset()

	dispatchPacket(t, s, speakerAddr,
		protocol.New(0, 1, chatPayload(speaker, "script ping", ChatTypeSay, 7)).
			WithMessageID(protocol.MsgChatFromViewer))

	if conn.writeCount() != 0 {
		t.Fatalf("private-channel chat produced %d frames", conn.writeCount())
	}
}

func TestChatFromForeignIdentityIsDropped(t *testing.T) {
	clk := newTestClock()
	s, conn, _ := newTestServer(t, clk)
	speakerAddr := clientAddr(44000)
	speaker := insertTestCircuit(t, s, 1, speakerAddr, core.Zero3)
	conn.reset()

	forged := *speaker
	forged.AgentID = core.NewUserID()
	dispatchPacket(t, s, speakerAddr,
		protocol.New(0, 1, chatPayload(&forged, "spoof", ChatTypeSay, publicChatChannel)).
			WithMessageID(protocol.MsgChatFromViewer))

	if conn.writeCount() != 0 {
		t.Fatal("forged chat was relayed")
	}
	if snap := s.stats.Snapshot(); snap.Errors != 1 {
		t.Fatalf("errors = %d, want 1", snap.Errors)
	}
}
