package lludp

import (
	"testing"

	"verdantia/simulator/internal/core"
	"verdantia/simulator/internal/protocol"
)

func agentUpdatePayload(c *CircuitInfo, center, at core.Vector3) []byte {
	payload := appendUUID(nil, c.AgentID.UUID)
	payload = appendUUID(payload, c.SessionID)
	for i := 0; i < 8; i++ { // body and head rotation
		payload = appendF32(payload, 0)
	}
	payload = append(payload, 0) // agent state
	payload = appendVector3(payload, center)
	payload = appendVector3(payload, at)
	return payload
}

func TestAgentUpdateRefreshesPosition(t *testing.T) {
	clk := newTestClock()
	s, _, _ := newTestServer(t, clk)
	addr := clientAddr(46000)
	c := insertTestCircuit(t, s, 7, addr, core.Zero3)

	center := core.NewVector3(64, 32, 25)
	at := core.NewVector3(1, 0, 0)
	dispatchPacket(t, s, addr,
		protocol.New(0, 1, agentUpdatePayload(c, center, at)).WithMessageID(protocol.MsgAgentUpdate))

	got, _ := s.registry.Get(7)
	if got.Position != center || got.LookAt != at {
		t.Fatalf("position=%v look_at=%v", got.Position, got.LookAt)
	}
}

func TestAgentUpdateFromForeignIdentityIsDropped(t *testing.T) {
	clk := newTestClock()
	s, _, _ := newTestServer(t, clk)
	addr := clientAddr(46000)
	c := insertTestCircuit(t, s, 7, addr, core.NewVector3(1, 2, 3))

	forged := *c
	forged.SessionID = core.NewSessionID()
	dispatchPacket(t, s, addr,
		protocol.New(0, 1, agentUpdatePayload(&forged, core.NewVector3(9, 9, 9), core.Zero3)).
			WithMessageID(protocol.MsgAgentUpdate))

	got, _ := s.registry.Get(7)
	if got.Position != c.Position {
		t.Fatal("forged update moved the agent")
	}
	if snap := s.stats.Snapshot(); snap.Errors != 1 {
		t.Fatalf("errors = %d, want 1", snap.Errors)
	}
}

func TestTruncatedAgentUpdateIsDropped(t *testing.T) {
	clk := newTestClock()
	s, _, _ := newTestServer(t, clk)
	addr := clientAddr(46000)
	c := insertTestCircuit(t, s, 7, addr, core.Zero3)

	full := agentUpdatePayload(c, core.NewVector3(5, 5, 5), core.Zero3)
	dispatchPacket(t, s, addr,
		protocol.New(0, 1, full[:40]).WithMessageID(protocol.MsgAgentUpdate))

	got, _ := s.registry.Get(7)
	if got.Position != core.Zero3 {
		t.Fatal("truncated update moved the agent")
	}
}

func TestCompleteAgentMovementConfirmsArrival(t *testing.T) {
	clk := newTestClock()
	s, conn, _ := newTestServer(t, clk)
	addr := clientAddr(46000)
	c := insertTestCircuit(t, s, 7, addr, core.NewVector3(128, 128, 21))
	conn.reset()

	payload := appendUUID(nil, c.AgentID.UUID)
	payload = appendUUID(payload, c.SessionID)
	payload = appendU32(payload, 7)
	dispatchPacket(t, s, addr,
		protocol.New(0, 1, payload).WithMessageID(protocol.MsgCompleteAgentMovement))

	frames := conn.framesTo(addr)
	if len(frames) != 1 {
		t.Fatalf("captured %d frames, want 1 confirmation", len(frames))
	}
	reply, err := protocol.Decode(frames[0])
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.MessageID != protocol.MsgAgentMovementComplete {
		t.Fatalf("reply message id = %d", reply.MessageID)
	}
	if !reply.Header.Reliable() {
		t.Fatal("movement confirmation not sent reliably")
	}
	r := newWireReader(reply.Payload)
	gotAgent := r.userID()
	_ = r.sessionID()
	gotPos := r.vector3()
	if r.err != nil {
		t.Fatalf("reply layout: %v", r.err)
	}
	if gotAgent != c.AgentID || gotPos != c.Position {
		t.Fatalf("reply agent=%v position=%v", gotAgent, gotPos)
	}
}

func TestCompleteAgentMovementWrongCircuitCode(t *testing.T) {
	clk := newTestClock()
	s, conn, _ := newTestServer(t, clk)
	addr := clientAddr(46000)
	c := insertTestCircuit(t, s, 7, addr, core.Zero3)
	conn.reset()

	payload := appendUUID(nil, c.AgentID.UUID)
	payload = appendUUID(payload, c.SessionID)
	payload = appendU32(payload, 8)
	dispatchPacket(t, s, addr,
		protocol.New(0, 1, payload).WithMessageID(protocol.MsgCompleteAgentMovement))

	if conn.writeCount() != 0 {
		t.Fatal("mismatched circuit code was confirmed")
	}
}
