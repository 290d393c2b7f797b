package protocol

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestEncodeDecodeTypedPacket(t *testing.T) {
	cases := []struct {
		name  string
		id    uint32
		flags uint8
	}{
		{"high frequency id", MsgUseCircuitCode, FlagReliable},
		{"single byte boundary", 0xFE, 0},
		{"escaped id", 303, FlagReliable},
		{"large id", 70000, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := New(tc.flags, 42, []byte{9, 8, 7}).WithMessageID(tc.id)
			wire, err := in.Encode()
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			out, err := Decode(wire)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !out.HasMessageID || out.MessageID != tc.id {
				t.Fatalf("message id: got (%v, %d) want %d", out.HasMessageID, out.MessageID, tc.id)
			}
			if out.Header.Sequence != 42 || out.Header.Flags != tc.flags {
				t.Fatalf("header mismatch: %+v", out.Header)
			}
			if !bytes.Equal(out.Payload, []byte{9, 8, 7}) {
				t.Fatalf("payload mismatch: %v", out.Payload)
			}
			if in.Size() != len(wire) {
				t.Fatalf("size: got %d want %d", in.Size(), len(wire))
			}
		})
	}
}

func TestEncodeDecodeAckFrame(t *testing.T) {
	in := Ack([]uint32{5, 6, 7}).WithAcks([]uint32{5, 6, 7})
	wire, err := in.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.HasMessageID {
		t.Fatal("ack frame decoded with a message id")
	}
	if len(out.AppendedAcks) != 3 || out.AppendedAcks[0] != 5 || out.AppendedAcks[2] != 7 {
		t.Fatalf("acks mismatch: %v", out.AppendedAcks)
	}
}

func TestRawPacketAckKeepsControlByte(t *testing.T) {
	payload := []byte{RawPacketAck, 1, 0, 0, 0, 9}
	wire, err := New(0, 3, payload).Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.HasMessageID {
		t.Fatal("raw ack frame decoded with a message id")
	}
	if !bytes.Equal(out.Payload, payload) {
		t.Fatalf("payload mismatch: %v", out.Payload)
	}
}

func TestZeroCodingRoundTrip(t *testing.T) {
	payload := append([]byte{1, 2}, make([]byte, 300)...)
	payload = append(payload, 3)
	in := New(FlagZerocoded, 1, payload).WithMessageID(MsgAgentUpdate)
	wire, err := in.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(wire) >= len(payload) {
		t.Fatalf("zero coding did not shrink the frame: %d >= %d", len(wire), len(payload))
	}
	out, err := Decode(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(out.Payload, payload) {
		t.Fatalf("payload mismatch after zero coding: %d vs %d bytes", len(out.Payload), len(payload))
	}
}

func TestDecodeRejectsTruncatedFrames(t *testing.T) {
	cases := [][]byte{
		nil,
		{0x40},
		{0x40, 0, 0, 0, 1},
		{FlagAppendedAcks, 0, 0, 0, 1, 0},
		{FlagAppendedAcks, 0, 0, 0, 1, 0, 2}, // claims 2 acks, carries none
		{0, 0, 0, 0, 1, 0, 0xFF, 0xFF, 1},    // escaped id cut short
	}
	for i, wire := range cases {
		if _, err := Decode(wire); err == nil {
			t.Fatalf("case %d: expected error for %v", i, wire)
		}
	}
}

func TestDecodeRandomNoiseNeverPanics(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		buf := make([]byte, rng.Intn(64))
		rng.Read(buf)
		// Outcome does not matter; absence of a panic does.
		_, _ = Decode(buf)
	}
}

func TestOversizedFrameRejected(t *testing.T) {
	in := New(0, 1, make([]byte, MaxPacketSize))
	if _, err := in.Encode(); err == nil {
		t.Fatal("expected oversize error")
	}
	if in.FitsMTU() {
		t.Fatal("oversized packet claims to fit the MTU")
	}
}
