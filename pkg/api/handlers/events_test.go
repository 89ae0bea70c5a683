package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arguendo/recall/pkg/api/events"
)

type testEventGauge struct {
	clients int
	sent    int
}

func (g *testEventGauge) SetEventClients(n int) { g.clients = n }

func (g *testEventGauge) RecordEventSent() { g.sent++ }

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestEventsHandlerRejectsNonUpgrade(t *testing.T) {
	handler := NewEventsHandler(testHandlerLogger(), events.NewBroadcaster(), nil, WebSocketConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestEventsHandlerStreamsBroadcasterEvents(t *testing.T) {
	broadcaster := events.NewBroadcaster()
	defer broadcaster.Close()

	gauge := &testEventGauge{}
	handler := NewEventsHandler(testHandlerLogger(), broadcaster, gauge, WebSocketConfig{
		MaxConnections: 5,
	})
	defer handler.Close()

	server := httptest.NewServer(handler)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server.URL), nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	clientDeadline := time.Now().Add(time.Second)
	for handler.manager.Count() == 0 && time.Now().Before(clientDeadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if handler.manager.Count() != 1 {
		t.Errorf("client count = %d, want 1", handler.manager.Count())
	}

	// The pump subscription races the first broadcast, so retry until the
	// event arrives or the deadline passes.
	received := make(chan events.Event, 1)
	go func() {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var got events.Event
		if err := conn.ReadJSON(&got); err == nil {
			received <- got
		}
	}()

	deadline := time.After(3 * time.Second)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case got := <-received:
			if got.Type != "memory.written" {
				t.Fatalf("type = %q, want memory.written", got.Type)
			}
			return
		case <-ticker.C:
			broadcaster.BroadcastMemoryWritten("debate-1", "rec-1", 1)
		case <-deadline:
			t.Fatal("timeout waiting for broadcast event")
		}
	}
}

func TestEventsHandlerSessionFiltering(t *testing.T) {
	manager := NewConnectionManager(5, nil)

	conn := &wsClient{send: make(chan []byte, 4), subscriptions: make(map[string]struct{})}
	if err := manager.Register(conn); err != nil {
		t.Fatalf("register: %v", err)
	}

	conn.subscribe("debate-1")

	// Matching session passes.
	_ = manager.Broadcast(events.Event{
		Type:    "memory.written",
		Payload: map[string]any{"session_id": "debate-1"},
	})
	// Other session is filtered.
	_ = manager.Broadcast(events.Event{
		Type:    "memory.written",
		Payload: map[string]any{"session_id": "debate-2"},
	})
	// Sessionless retrieval signals always pass.
	_ = manager.Broadcast(events.Event{
		Type:    "retrieval.mode_selected",
		Payload: map[string]any{"mode": "precision"},
	})

	if got := len(conn.send); got != 2 {
		t.Fatalf("delivered = %d, want 2", got)
	}
}

func TestConnectionManagerLimit(t *testing.T) {
	gauge := &testEventGauge{}
	manager := NewConnectionManager(1, gauge)

	first := &wsClient{send: make(chan []byte, 1), subscriptions: make(map[string]struct{})}
	if err := manager.Register(first); err != nil {
		t.Fatalf("register first: %v", err)
	}
	if manager.CanAccept() {
		t.Error("CanAccept = true at limit")
	}

	second := &wsClient{send: make(chan []byte, 1), subscriptions: make(map[string]struct{})}
	if err := manager.Register(second); err == nil {
		t.Error("expected registration over limit to fail")
	}

	manager.Unregister(first)
	if manager.Count() != 0 {
		t.Errorf("count = %d, want 0", manager.Count())
	}
	if gauge.clients != 0 {
		t.Errorf("client gauge = %d, want 0", gauge.clients)
	}
}

func TestWebSocketOriginAllowed(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		host    string
		allowed []string
		want    bool
	}{
		{"no origin", "", "api.local", nil, true},
		{"same host", "http://api.local", "api.local", nil, true},
		{"other host denied", "http://evil.example", "api.local", nil, false},
		{"wildcard", "http://anywhere.example", "api.local", []string{"*"}, true},
		{"explicit allow", "http://dash.example", "api.local", []string{"http://dash.example"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := isWebSocketOriginAllowed(req, tt.allowed); got != tt.want {
				t.Errorf("allowed = %v, want %v", got, tt.want)
			}
		})
	}
}
