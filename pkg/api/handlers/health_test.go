package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arguendo/recall/config"
	"github.com/arguendo/recall/pkg/api/models"
	"github.com/arguendo/recall/pkg/embedding"
	"github.com/arguendo/recall/pkg/memory"
)

func setupHealthHandler(t *testing.T) *HealthHandler {
	t.Helper()

	store := memory.NewMemoryStore(
		memory.StoreConfig{Dimension: testDims},
		embedding.NewStaticProvider(testDims),
		memory.NewInMemoryLog(),
		config.NewTunables(&config.RetrievalConfig{VectorWeight: 0.7}),
		nil,
		nil,
	)
	t.Cleanup(func() { store.Close() })

	return NewHealthHandler(store)
}

func TestHealthHandlerHealth(t *testing.T) {
	h := setupHealthHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.Health(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestHealthHandlerReady(t *testing.T) {
	h := setupHealthHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	h.Ready(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]bool
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp["ready"] {
		t.Error("ready = false, want true")
	}
}

func TestHealthHandlerReadyWithoutStore(t *testing.T) {
	h := NewHealthHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	h.Ready(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHealthHandlerStatus(t *testing.T) {
	h := setupHealthHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()

	h.Status(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp models.StatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status field = %q, want ok", resp.Status)
	}
	if resp.Version == "" {
		t.Error("version missing")
	}
	if resp.Timestamp.IsZero() {
		t.Error("timestamp missing")
	}
}
