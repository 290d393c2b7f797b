package core

import (
	"math"
	"testing"
)

func TestVectorDistance(t *testing.T) {
	cases := []struct {
		name string
		a, b Vector3
		want float64
	}{
		{"origin", Zero3, Zero3, 0},
		{"axis", NewVector3(10, 0, 0), Zero3, 10},
		{"diagonal", NewVector3(3, 4, 0), Zero3, 5},
		{"offset", NewVector3(128, 128, 21), NewVector3(128, 138, 21), 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.DistanceTo(tc.b); math.Abs(got-tc.want) > 1e-6 {
				t.Fatalf("distance %v -> %v: got %v want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestUserIDRoundTrip(t *testing.T) {
	id := NewUserID()
	raw, err := id.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	parsed, err := UserIDFromBytes(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != id {
		t.Fatalf("round trip mismatch: %v != %v", parsed, id)
	}
	if id.IsZero() {
		t.Fatal("fresh id reported zero")
	}
}

func TestUserIDFromBytesRejectsShortInput(t *testing.T) {
	if _, err := UserIDFromBytes([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for truncated id")
	}
}
