package lludp

import (
	"bytes"
	"testing"
	"time"

	"verdantia/simulator/internal/core"
	"verdantia/simulator/internal/protocol"
)

func TestSendReliableAssignsMonotonicSequences(t *testing.T) {
	clk := newTestClock()
	s, conn, _ := newTestServer(t, clk)
	addr := clientAddr(41000)
	insertTestCircuit(t, s, 7, addr, core.Zero3)

	for i := 0; i < 10; i++ {
		if err := s.SendReliable(7, protocol.New(0, 0, []byte{protocol.RawChatFromSimulator})); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	frames := conn.framesTo(addr)
	if len(frames) != 10 {
		t.Fatalf("captured %d frames, want 10", len(frames))
	}
	var last uint32
	seen := make(map[uint32]bool)
	for i, frame := range frames {
		pkt, err := protocol.Decode(frame)
		if err != nil {
			t.Fatalf("decode frame %d: %v", i, err)
		}
		if !pkt.Header.Reliable() {
			t.Fatalf("frame %d not flagged reliable", i)
		}
		if pkt.Header.Sequence <= last {
			t.Fatalf("sequence not strictly increasing: %d after %d", pkt.Header.Sequence, last)
		}
		if seen[pkt.Header.Sequence] {
			t.Fatalf("sequence %d reused", pkt.Header.Sequence)
		}
		seen[pkt.Header.Sequence] = true
		last = pkt.Header.Sequence
	}
	c, _ := s.registry.Get(7)
	if len(c.Reliable) != 10 {
		t.Fatalf("expected 10 in-flight entries, got %d", len(c.Reliable))
	}
}

func TestAckRetiresInFlightEntry(t *testing.T) {
	clk := newTestClock()
	s, _, _ := newTestServer(t, clk)
	insertTestCircuit(t, s, 7, clientAddr(41000), core.Zero3)

	if err := s.SendReliable(7, protocol.New(0, 0, []byte{0x01})); err != nil {
		t.Fatalf("send: %v", err)
	}
	c, _ := s.registry.Get(7)
	if len(c.Reliable) != 1 {
		t.Fatalf("expected 1 in-flight entry, got %d", len(c.Reliable))
	}
	var seq uint32
	for q := range c.Reliable {
		seq = q
	}

	s.Ack(7, seq)
	c, _ = s.registry.Get(7)
	if len(c.Reliable) != 0 {
		t.Fatal("acked entry still in flight")
	}
	// Duplicate acks are tolerated.
	s.Ack(7, seq)
}

func TestResendBoundaryExactlyMaxResends(t *testing.T) {
	clk := newTestClock()
	s, conn, _ := newTestServer(t, clk)
	addr := clientAddr(41000)
	insertTestCircuit(t, s, 7, addr, core.Zero3)

	if err := s.SendReliable(7, protocol.New(0, 0, []byte{0x42, 0x43})); err != nil {
		t.Fatalf("send: %v", err)
	}
	original := conn.framesTo(addr)[0]

	//1.- Each overdue sweep resends once, up to the configured bound.
	for i := 0; i < s.cfg.MaxResends; i++ {
		clk.Advance(s.cfg.ResendTimeout + time.Millisecond)
		s.tick(clk.Now())
		c, _ := s.registry.Get(7)
		if len(c.Reliable) != 1 {
			t.Fatalf("entry vanished after %d resends", i+1)
		}
	}
	frames := conn.framesTo(addr)
	if len(frames) != 1+s.cfg.MaxResends {
		t.Fatalf("captured %d frames, want %d", len(frames), 1+s.cfg.MaxResends)
	}
	for i, frame := range frames[1:] {
		if !bytes.Equal(frame, original) {
			t.Fatalf("resend %d not bit-identical to original", i+1)
		}
	}

	//2.- The next overdue sweep abandons the entry, never resending again.
	clk.Advance(s.cfg.ResendTimeout + time.Millisecond)
	s.tick(clk.Now())
	c, _ := s.registry.Get(7)
	if len(c.Reliable) != 0 {
		t.Fatal("exhausted entry still in flight")
	}
	if got := conn.framesTo(addr); len(got) != 1+s.cfg.MaxResends {
		t.Fatalf("abandonment sent another frame: %d total", len(got))
	}
	snap := s.stats.Snapshot()
	if snap.ReliableResends != uint64(s.cfg.MaxResends) {
		t.Fatalf("reliable_resends = %d, want %d", snap.ReliableResends, s.cfg.MaxResends)
	}
	if snap.ReliableAbandoned != 1 {
		t.Fatalf("reliable_abandoned = %d, want 1", snap.ReliableAbandoned)
	}
}

func TestAckedEntryIsNeverResent(t *testing.T) {
	clk := newTestClock()
	s, conn, _ := newTestServer(t, clk)
	addr := clientAddr(41000)
	insertTestCircuit(t, s, 7, addr, core.Zero3)

	if err := s.SendReliable(7, protocol.New(0, 0, []byte{0x42})); err != nil {
		t.Fatalf("send: %v", err)
	}
	c, _ := s.registry.Get(7)
	for seq := range c.Reliable {
		s.Ack(7, seq)
	}

	clk.Advance(s.cfg.ResendTimeout + time.Millisecond)
	s.tick(clk.Now())
	if frames := conn.framesTo(addr); len(frames) != 1 {
		t.Fatalf("acked packet resent: %d frames captured", len(frames))
	}
	if snap := s.stats.Snapshot(); snap.ReliableResends != 0 {
		t.Fatalf("reliable_resends = %d after ack", snap.ReliableResends)
	}
}

func TestSendReliableToUnknownCircuit(t *testing.T) {
	clk := newTestClock()
	s, _, _ := newTestServer(t, clk)
	if err := s.SendReliable(99, protocol.New(0, 0, []byte{0x01})); err != ErrNoCircuit {
		t.Fatalf("expected ErrNoCircuit, got %v", err)
	}
}
