// Package lludp is the simulator's transport and session core: the circuit
// registry, reliable delivery over UDP, the inbound dispatcher with its typed
// handlers, and the maintenance scheduler, all fronted by the Server facade.
package lludp

import (
	"errors"
	"net"
	"sync"
	"time"

	"verdantia/simulator/internal/core"
)

// ErrDuplicateCircuit reports an insert for a code that is already registered.
var ErrDuplicateCircuit = errors.New("lludp: circuit code already registered")

// ReliableEntry tracks one in-flight reliable packet. Frame holds the exact
// bytes that went on the wire; retransmissions must be bit-identical so the
// viewer's duplicate detection keeps working.
type ReliableEntry struct {
	Frame       []byte
	SentAt      time.Time
	ResendCount int
}

// ClientInfo describes the viewer build reported during establishment.
type ClientInfo struct {
	Name     string
	Version  string
	Platform string
	Channel  string
}

// CircuitInfo is the per-viewer session state. The Registry owns every
// instance; handlers read snapshots and apply changes through Update, never
// holding their own copy as source of truth.
type CircuitInfo struct {
	Code            uint32
	Address         net.Addr
	AgentID         core.UserID
	SessionID       core.SessionID
	SecureSessionID core.SessionID
	Client          ClientInfo

	SequenceIn  uint32
	SequenceOut uint32
	PendingAcks []uint32
	Reliable    map[uint32]*ReliableEntry

	CreatedAt    time.Time
	LastActivity time.Time
	LastPingID   uint8
	LastPingAt   time.Time
	LastRTT      time.Duration

	Position core.Vector3
	LookAt   core.Vector3
	RegionID core.RegionID

	Authenticated bool
}

// NewCircuit builds a circuit record for a freshly authenticated viewer.
func NewCircuit(code uint32, addr net.Addr, now time.Time) *CircuitInfo {
	return &CircuitInfo{
		Code:         code,
		Address:      addr,
		Reliable:     make(map[uint32]*ReliableEntry),
		CreatedAt:    now,
		LastActivity: now,
		LastPingAt:   now,
	}
}

// Registry is the concurrent circuit map, keyed by circuit code with a
// secondary address index. A single RWMutex guards both maps; mutation holds
// the write lock only for the duration of the mutator, never across sends.
type Registry struct {
	mu     sync.RWMutex
	byCode map[uint32]*CircuitInfo
	byAddr map[string]uint32
	stats  *ServerStats
}

// NewRegistry builds an empty registry wired to the given counters.
func NewRegistry(stats *ServerStats) *Registry {
	return &Registry{
		byCode: make(map[uint32]*CircuitInfo),
		byAddr: make(map[string]uint32),
		stats:  stats,
	}
}

// Insert registers a new circuit and bumps the connection counters. A code
// can map to at most one circuit at a time.
func (r *Registry) Insert(c *CircuitInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byCode[c.Code]; ok {
		return ErrDuplicateCircuit
	}
	r.byCode[c.Code] = c
	r.byAddr[c.Address.String()] = c.Code
	r.stats.ConnectionOpened()
	return nil
}

// Remove drops a circuit and decrements the active-session counter. It
// returns a snapshot of the removed circuit for the caller's bookkeeping.
func (r *Registry) Remove(code uint32) (CircuitInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byCode[code]
	if !ok {
		return CircuitInfo{}, false
	}
	delete(r.byCode, code)
	delete(r.byAddr, c.Address.String())
	r.stats.ConnectionClosed()
	return *c, true
}

// Update applies the mutator to the addressed circuit under the write lock.
// The mutator must not block or send; collect any outbound frames and write
// them after Update returns.
func (r *Registry) Update(code uint32, mutate func(*CircuitInfo)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byCode[code]
	if !ok {
		return false
	}
	mutate(c)
	return true
}

// Get returns a shallow snapshot of the circuit. The Reliable map in the
// snapshot is shared with the registry; treat it as read-only and go through
// Update for changes.
func (r *Registry) Get(code uint32) (CircuitInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byCode[code]
	if !ok {
		return CircuitInfo{}, false
	}
	return *c, true
}

// ByAddress resolves the circuit bound to a sender endpoint.
func (r *Registry) ByAddress(addr net.Addr) (CircuitInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	code, ok := r.byAddr[addr.String()]
	if !ok {
		return CircuitInfo{}, false
	}
	c, ok := r.byCode[code]
	if !ok {
		return CircuitInfo{}, false
	}
	return *c, true
}

// All returns shallow snapshots of every registered circuit.
func (r *Registry) All() []CircuitInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CircuitInfo, 0, len(r.byCode))
	for _, c := range r.byCode {
		out = append(out, *c)
	}
	return out
}

// Codes returns every registered circuit code.
func (r *Registry) Codes() []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uint32, 0, len(r.byCode))
	for code := range r.byCode {
		out = append(out, code)
	}
	return out
}

// Len reports the number of registered circuits.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCode)
}

// AuthenticatedCount reports how many circuits completed establishment.
func (r *Registry) AuthenticatedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.byCode {
		if c.Authenticated {
			n++
		}
	}
	return n
}
