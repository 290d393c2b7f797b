// Package events carries the simulator's lifecycle event stream: circuit
// establishment and teardown, chat relays and abandoned deliveries. Events
// are retained in order and replayed to subscribers that reconnect, with
// per-subscriber acknowledgement state providing at-least-once delivery.
package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"verdantia/simulator/internal/core"
)

// Kind labels one event class on the stream.
type Kind string

const (
	KindCircuitUp         Kind = "circuit_up"
	KindCircuitDown       Kind = "circuit_down"
	KindChat              Kind = "chat"
	KindDeliveryAbandoned Kind = "delivery_abandoned"
)

// DefaultRetention bounds how many events the stream keeps for replay.
const DefaultRetention = 512

// Envelope is one ordered event on the stream.
type Envelope struct {
	Sequence    uint64    `json:"sequence"`
	Kind        Kind      `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
	CircuitCode uint32    `json:"circuit_code,omitempty"`
	AgentID     string    `json:"agent_id,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	ChatType    uint8     `json:"chat_type,omitempty"`
	Recipients  int       `json:"recipients,omitempty"`
	PacketSeq   uint32    `json:"packet_seq,omitempty"`
}

// Clone copies the envelope so subscribers cannot mutate retained state.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}

type subscriberState struct {
	id      string
	ch      chan *Envelope
	active  bool
	lastAck uint64
	pending []uint64
}

// Stream is the ordered, retained event log with subscriber fan-out.
type Stream struct {
	mu          sync.Mutex
	retention   int
	nextSeq     uint64
	logOrder    []uint64
	logPayloads map[uint64]*Envelope
	subscribers map[string]*subscriberState
	clock       func() time.Time
}

// NewStream builds a stream retaining up to retention events for replay.
func NewStream(retention int) *Stream {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Stream{
		retention:   retention,
		logPayloads: make(map[uint64]*Envelope),
		subscribers: make(map[string]*subscriberState),
		clock:       time.Now,
	}
}

// Publish appends the event to the log and delivers it to live subscribers.
// Subscribers that cannot keep up keep the sequence pending and receive it
// on their next replay.
func (s *Stream) Publish(env *Envelope) (uint64, error) {
	if s == nil {
		return 0, errors.New("nil stream")
	}
	if env == nil {
		return 0, errors.New("event required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	//1.- Assign the next sequence and retain the payload.
	s.nextSeq++
	env.Sequence = s.nextSeq
	if env.Timestamp.IsZero() {
		env.Timestamp = s.clock()
	}
	s.logOrder = append(s.logOrder, env.Sequence)
	s.logPayloads[env.Sequence] = env.Clone()
	for len(s.logOrder) > s.retention {
		delete(s.logPayloads, s.logOrder[0])
		s.logOrder = s.logOrder[1:]
	}

	//2.- Best-effort delivery; slow subscribers catch up via replay.
	for _, state := range s.subscribers {
		state.pending = append(state.pending, env.Sequence)
		if !state.active {
			continue
		}
		select {
		case state.ch <- env.Clone():
		default:
		}
	}
	return env.Sequence, nil
}

// PublishCircuitUp records a completed establishment.
func (s *Stream) PublishCircuitUp(code uint32, agent core.UserID) (uint64, error) {
	return s.Publish(&Envelope{Kind: KindCircuitUp, CircuitCode: code, AgentID: agent.String()})
}

// PublishCircuitDown records a circuit leaving the registry.
func (s *Stream) PublishCircuitDown(code uint32, reason string) (uint64, error) {
	return s.Publish(&Envelope{Kind: KindCircuitDown, CircuitCode: code, Reason: reason})
}

// PublishChat records a relayed utterance.
func (s *Stream) PublishChat(code uint32, chatType uint8, recipients int) (uint64, error) {
	return s.Publish(&Envelope{Kind: KindChat, CircuitCode: code, ChatType: chatType, Recipients: recipients})
}

// PublishDeliveryAbandoned records a reliable packet dropped after
// exhausting its resends.
func (s *Stream) PublishDeliveryAbandoned(code uint32, packetSeq uint32) (uint64, error) {
	return s.Publish(&Envelope{Kind: KindDeliveryAbandoned, CircuitCode: code, PacketSeq: packetSeq})
}

// Subscription is one subscriber's ordered view of the stream.
type Subscription struct {
	id     string
	stream *Stream
	events chan *Envelope
	once   sync.Once
}

// Subscribe attaches the logical subscriber and replays every retained event
// past its last acknowledgement.
func (s *Stream) Subscribe(ctx context.Context, subscriberID string, buffer int) (*Subscription, error) {
	if s == nil {
		return nil, errors.New("nil stream")
	}
	if subscriberID == "" {
		return nil, errors.New("subscriber id must be provided")
	}
	if buffer <= 0 {
		buffer = 32
	}

	s.mu.Lock()
	state, ok := s.subscribers[subscriberID]
	if !ok {
		state = &subscriberState{id: subscriberID}
		s.subscribers[subscriberID] = state
	}
	replay := make([]*Envelope, 0, len(s.logOrder))
	pending := make([]uint64, 0, len(s.logOrder))
	for _, seq := range s.logOrder {
		if seq <= state.lastAck {
			continue
		}
		pending = append(pending, seq)
		if payload, ok := s.logPayloads[seq]; ok {
			replay = append(replay, payload.Clone())
		}
	}
	ch := make(chan *Envelope, buffer)
	state.ch = ch
	state.active = true
	state.pending = pending
	s.mu.Unlock()

	go func() {
		//1.- Replay outstanding events immediately after subscription.
		for _, env := range replay {
			select {
			case <-ctx.Done():
				return
			case ch <- env:
			}
		}
	}()

	return &Subscription{id: subscriberID, stream: s, events: ch}, nil
}

// Events exposes the ordered delivery channel.
func (s *Subscription) Events() <-chan *Envelope {
	if s == nil {
		return nil
	}
	return s.events
}

// Ack marks the sequence processed so reconnects skip it.
func (s *Subscription) Ack(sequence uint64) error {
	if s == nil || s.stream == nil {
		return errors.New("subscription closed")
	}
	return s.stream.ack(s.id, sequence)
}

// Close marks the subscription inactive while keeping acknowledgement state.
func (s *Subscription) Close() {
	if s == nil || s.stream == nil {
		return
	}
	s.once.Do(func() {
		s.stream.mu.Lock()
		if state, ok := s.stream.subscribers[s.id]; ok {
			state.active = false
			state.ch = nil
		}
		s.stream.mu.Unlock()
	})
}

func (s *Stream) ack(subscriberID string, sequence uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.subscribers[subscriberID]
	if !ok {
		return errors.New("unknown subscriber")
	}
	if sequence > state.lastAck {
		state.lastAck = sequence
	}
	remaining := state.pending[:0]
	for _, seq := range state.pending {
		if seq > state.lastAck {
			remaining = append(remaining, seq)
		}
	}
	state.pending = remaining
	return nil
}

// Pending reports how many events the subscriber has not yet acknowledged.
func (s *Stream) Pending(subscriberID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.subscribers[subscriberID]
	if !ok {
		return 0
	}
	return len(state.pending)
}

// TransportObserver bridges the transport's lifecycle notifications onto
// the stream. Publishes never block the receive or maintenance paths.
type TransportObserver struct {
	Stream *Stream
}

func (o TransportObserver) CircuitUp(code uint32, agent core.UserID) {
	_, _ = o.Stream.PublishCircuitUp(code, agent)
}

func (o TransportObserver) CircuitDown(code uint32, reason string) {
	_, _ = o.Stream.PublishCircuitDown(code, reason)
}

func (o TransportObserver) ChatRelayed(code uint32, chatType uint8, recipients int) {
	_, _ = o.Stream.PublishChat(code, chatType, recipients)
}

func (o TransportObserver) DeliveryAbandoned(code uint32, sequence uint32) {
	_, _ = o.Stream.PublishDeliveryAbandoned(code, sequence)
}
