package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arguendo/recall/pkg/logger"
)

func TestLogger(t *testing.T) {
	log := logger.New(&logger.Config{
		Level:  logger.ErrorLevel,
		Format: "json",
		Output: "stderr",
	})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("created"))
	})

	wrappedHandler := Logger(log)(handler)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/memory/session-1", nil)
	w := httptest.NewRecorder()

	wrappedHandler.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("status = %v, want %v", w.Code, http.StatusCreated)
	}
	if got := w.Body.String(); got != "created" {
		t.Errorf("body = %q, want %q", got, "created")
	}
}

func TestResponseWriterCapture(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusNotFound)
	rw.Write([]byte("missing"))

	if rw.statusCode != http.StatusNotFound {
		t.Errorf("captured status = %v, want %v", rw.statusCode, http.StatusNotFound)
	}
	if rw.size != len("missing") {
		t.Errorf("captured size = %v, want %v", rw.size, len("missing"))
	}
}
