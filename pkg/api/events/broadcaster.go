// Package events provides in-process fanout of retrieval and memory events
// to websocket subscribers.
package events

import (
	"sync"
	"time"

	"github.com/arguendo/recall/pkg/memory"
)

// Event is the canonical event payload broadcast to websocket subscribers.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Broadcaster broadcasts events to in-process subscribers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a broadcaster instance.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe subscribes to events with a buffered channel.
func (b *Broadcaster) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; !ok {
		return
	}
	delete(b.subscribers, ch)
	close(ch)
}

// Broadcast broadcasts a generic event to all subscribers.
func (b *Broadcaster) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	subs := make([]chan Event, 0, len(b.subscribers))
	for ch := range b.subscribers {
		subs = append(subs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Drop on overflow to keep broadcasters non-blocking.
		}
	}
}

// BroadcastMemoryWritten emits an event after a record is committed.
func (b *Broadcaster) BroadcastMemoryWritten(sessionID, recordID string, seq uint64) {
	b.Broadcast(Event{
		Type: "memory.written",
		Payload: map[string]any{
			"session_id": sessionID,
			"record_id":  recordID,
			"seq":        seq,
		},
	})
}

// BroadcastMemoryCleared emits an event after a session (or everything, when
// sessionID is empty) is cleared.
func (b *Broadcaster) BroadcastMemoryCleared(sessionID string, removed int) {
	payload := map[string]any{
		"removed": removed,
	}
	if sessionID != "" {
		payload["session_id"] = sessionID
	}

	b.Broadcast(Event{
		Type:    "memory.cleared",
		Payload: payload,
	})
}

// Close closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, ch)
	}
}

// ObserverBridge forwards retrieval branch signals to the broadcaster so
// dashboards see mode selections and fallbacks as they happen.
type ObserverBridge struct {
	broadcaster *Broadcaster
}

// NewObserverBridge creates a bridge that publishes retrieval branch events.
func NewObserverBridge(b *Broadcaster) *ObserverBridge {
	return &ObserverBridge{broadcaster: b}
}

var _ memory.BranchObserver = (*ObserverBridge)(nil)

func (o *ObserverBridge) ModeSelected(mode memory.Mode) {
	o.broadcaster.Broadcast(Event{
		Type:    "retrieval.mode_selected",
		Payload: map[string]any{"mode": string(mode)},
	})
}

func (o *ObserverBridge) FusionFallback() {
	o.broadcaster.Broadcast(Event{
		Type:    "retrieval.fusion_fallback",
		Payload: map[string]any{},
	})
}

func (o *ObserverBridge) PrecisionBlendback(blended int) {
	o.broadcaster.Broadcast(Event{
		Type:    "retrieval.precision_blendback",
		Payload: map[string]any{"blended": blended},
	})
}

func (o *ObserverBridge) IndexInconsistency(count int) {
	o.broadcaster.Broadcast(Event{
		Type:    "retrieval.index_inconsistency",
		Payload: map[string]any{"skipped": count},
	})
}

func (o *ObserverBridge) EmbeddingRetry() {
	o.broadcaster.Broadcast(Event{
		Type:    "retrieval.embedding_retry",
		Payload: map[string]any{},
	})
}
