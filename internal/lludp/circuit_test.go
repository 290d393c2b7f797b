package lludp

import (
	"errors"
	"testing"
	"time"

	"verdantia/simulator/internal/core"
)

func newBareRegistry() (*Registry, *ServerStats) {
	stats := NewStats(nil)
	return NewRegistry(stats), stats
}

func TestRegistryInsertAndLookup(t *testing.T) {
	reg, stats := newBareRegistry()
	addr := clientAddr(40001)
	c := NewCircuit(7, addr, time.Now())
	c.Authenticated = true

	if err := reg.Insert(c); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got, ok := reg.Get(7); !ok || got.Code != 7 {
		t.Fatalf("Get(7) = %+v, %v", got, ok)
	}
	if got, ok := reg.ByAddress(addr); !ok || got.Code != 7 {
		t.Fatalf("ByAddress = %+v, %v", got, ok)
	}
	if reg.Len() != 1 || reg.AuthenticatedCount() != 1 {
		t.Fatalf("Len=%d AuthenticatedCount=%d", reg.Len(), reg.AuthenticatedCount())
	}
	if snap := stats.Snapshot(); snap.Connections != 1 || snap.ActiveSessions != 1 {
		t.Fatalf("stats after insert: %+v", snap)
	}
}

func TestRegistryRejectsDuplicateCode(t *testing.T) {
	reg, _ := newBareRegistry()
	if err := reg.Insert(NewCircuit(7, clientAddr(40001), time.Now())); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := reg.Insert(NewCircuit(7, clientAddr(40002), time.Now()))
	if !errors.Is(err, ErrDuplicateCircuit) {
		t.Fatalf("expected ErrDuplicateCircuit, got %v", err)
	}
	if reg.Len() != 1 {
		t.Fatalf("duplicate insert changed registry size: %d", reg.Len())
	}
}

func TestRegistryRemoveDecrementsSessions(t *testing.T) {
	reg, stats := newBareRegistry()
	addr := clientAddr(40001)
	if err := reg.Insert(NewCircuit(7, addr, time.Now())); err != nil {
		t.Fatalf("insert: %v", err)
	}

	removed, ok := reg.Remove(7)
	if !ok || removed.Code != 7 {
		t.Fatalf("Remove = %+v, %v", removed, ok)
	}
	if _, ok := reg.Get(7); ok {
		t.Fatal("removed circuit still resolvable by code")
	}
	if _, ok := reg.ByAddress(addr); ok {
		t.Fatal("removed circuit still resolvable by address")
	}
	if snap := stats.Snapshot(); snap.ActiveSessions != 0 {
		t.Fatalf("active sessions after remove: %d", snap.ActiveSessions)
	}
	if _, ok := reg.Remove(7); ok {
		t.Fatal("second remove reported success")
	}
}

func TestRegistryUpdateKeepsSequencesMonotonic(t *testing.T) {
	reg, _ := newBareRegistry()
	if err := reg.Insert(NewCircuit(7, clientAddr(40001), time.Now())); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var seen []uint32
	for i := 0; i < 50; i++ {
		reg.Update(7, func(c *CircuitInfo) {
			c.SequenceOut++
			seen = append(seen, c.SequenceOut)
		})
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("sequence_out not strictly increasing: %d then %d", seen[i-1], seen[i])
		}
	}
	if !reg.Update(7, func(c *CircuitInfo) {}) {
		t.Fatal("update on live circuit reported failure")
	}
	if reg.Update(99, func(c *CircuitInfo) {}) {
		t.Fatal("update on absent circuit reported success")
	}
}

func TestRegistryAllSnapshots(t *testing.T) {
	reg, _ := newBareRegistry()
	for code := uint32(1); code <= 3; code++ {
		c := NewCircuit(code, clientAddr(40000+int(code)), time.Now())
		c.Position = core.NewVector3(float32(code), 0, 0)
		if err := reg.Insert(c); err != nil {
			t.Fatalf("insert %d: %v", code, err)
		}
	}

	all := reg.All()
	if len(all) != 3 {
		t.Fatalf("All() returned %d circuits", len(all))
	}
	// Mutating a snapshot must not leak back into the registry.
	all[0].Position = core.NewVector3(999, 0, 0)
	stored, _ := reg.Get(all[0].Code)
	if stored.Position.X == 999 {
		t.Fatal("snapshot mutation visible in registry")
	}
}
