package events

import (
	"testing"
	"time"

	"github.com/arguendo/recall/pkg/memory"
)

func TestBroadcasterSubscribeBroadcastUnsubscribe(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(1)

	b.Broadcast(Event{
		Type: "memory.written",
		Payload: map[string]any{
			"session_id": "debate-1",
		},
	})

	select {
	case event := <-ch:
		if event.Type != "memory.written" {
			t.Fatalf("type = %q, want memory.written", event.Type)
		}
		if event.Timestamp.IsZero() {
			t.Fatal("timestamp not stamped on broadcast")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast event")
	}

	b.Unsubscribe(ch)
	if _, open := <-ch; open {
		t.Fatal("channel still open after unsubscribe")
	}
}

func TestBroadcasterDropsOnOverflow(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	b.Broadcast(Event{Type: "memory.written"})
	b.Broadcast(Event{Type: "memory.cleared"})

	// The second event must be dropped, never block.
	event := <-ch
	if event.Type != "memory.written" {
		t.Fatalf("type = %q, want memory.written", event.Type)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected second event %q", extra.Type)
	default:
	}
}

func TestBroadcasterMemoryHelpers(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(2)
	defer b.Unsubscribe(ch)

	b.BroadcastMemoryWritten("debate-1", "rec-1", 7)
	b.BroadcastMemoryCleared("debate-1", 3)

	var received int
	for received < 2 {
		select {
		case <-ch:
			received++
		case <-time.After(time.Second):
			t.Fatalf("expected 2 helper events, got %d", received)
		}
	}
}

func TestObserverBridge(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(8)
	defer b.Unsubscribe(ch)

	bridge := NewObserverBridge(b)
	bridge.ModeSelected(memory.ModePrecision)
	bridge.FusionFallback()
	bridge.PrecisionBlendback(2)
	bridge.IndexInconsistency(1)
	bridge.EmbeddingRetry()

	want := []string{
		"retrieval.mode_selected",
		"retrieval.fusion_fallback",
		"retrieval.precision_blendback",
		"retrieval.index_inconsistency",
		"retrieval.embedding_retry",
	}
	for _, wantType := range want {
		select {
		case event := <-ch:
			if event.Type != wantType {
				t.Fatalf("type = %q, want %q", event.Type, wantType)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %q", wantType)
		}
	}
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe(1)

	b.Close()

	if _, open := <-ch; open {
		t.Fatal("channel still open after Close")
	}
}
