// Package observer fans committed game changes and turn progress out to any
// number of passive subscribers. Publishing never blocks: a subscriber that
// falls behind loses its oldest queued messages.
package observer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/allannapier/gangsofclaude-sub000/internal/engine"
	"github.com/allannapier/gangsofclaude-sub000/internal/oracle"
)

// Kind tags a broadcast message.
type Kind string

const (
	KindEvents       Kind = "events"
	KindState        Kind = "state"
	KindFamilyStatus Kind = "family_status"
	KindOracleStatus Kind = "oracle_status"
)

// Message is the envelope every subscriber receives, JSON-encoded.
type Message struct {
	Seq  uint64 `json:"seq"`
	Kind Kind   `json:"kind"`
	Turn int    `json:"turn"`
	Data any    `json:"data"`
}

// Subscription is one observer's queue. Read encoded messages from C.
type Subscription struct {
	C <-chan []byte

	id   uint64
	ch   chan []byte
	hub  *Hub
	once sync.Once
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.unsubscribe(s.id) })
}

// Hub is the broadcast point.
type Hub struct {
	buffer int

	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64

	seq     atomic.Uint64
	dropped atomic.Uint64
}

// NewHub creates a hub whose subscribers queue up to buffer messages.
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{buffer: buffer, subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a new observer.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	ch := make(chan []byte, h.buffer)
	s := &Subscription{C: ch, id: h.nextID, ch: ch, hub: h}
	h.subs[s.id] = s
	slog.Debug("observer subscribed", "id", s.id, "subscribers", len(h.subs))
	return s
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(s.ch)
		slog.Debug("observer unsubscribed", "id", id, "subscribers", len(h.subs))
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many queued messages have been discarded for slow
// subscribers.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Publish encodes one message and offers it to every subscriber.
func (h *Hub) Publish(kind Kind, turn int, data any) error {
	msg := Message{Seq: h.seq.Add(1), Kind: kind, Turn: turn, Data: data}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.subs {
		if !sendLatest(s.ch, b) {
			h.dropped.Add(1)
		}
	}
	return nil
}

// sendLatest queues b, evicting the oldest queued message if the queue is
// full. It reports false when something was evicted.
func sendLatest(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
	return false
}

// CommitHook publishes the fresh events and then the new state.
func (h *Hub) CommitHook() engine.CommitHook {
	return func(state *engine.SaveState, fresh []engine.GameEvent) {
		if len(fresh) > 0 {
			h.publish(KindEvents, state.Turn, fresh)
		}
		h.publish(KindState, state.Turn, state)
	}
}

// FamilyStatus publishes turn progress. Use as Orchestrator.OnStatus.
func (h *Hub) FamilyStatus(s engine.FamilyStatus) {
	h.publish(KindFamilyStatus, s.Turn, s)
}

// OracleStatus publishes retry transitions. Use as Controller.OnStatus.
func (h *Hub) OracleStatus(s oracle.Status) {
	h.publish(KindOracleStatus, s.Turn, s)
}

func (h *Hub) publish(kind Kind, turn int, data any) {
	if err := h.Publish(kind, turn, data); err != nil {
		slog.Warn("observer publish failed", "kind", kind, "err", err)
	}
}
