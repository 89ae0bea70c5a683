// Package handlers provides HTTP request handlers.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/arguendo/recall/pkg/api/events"
	"github.com/arguendo/recall/pkg/api/middleware"
	"github.com/arguendo/recall/pkg/api/models"
	"github.com/arguendo/recall/pkg/api/response"
	"github.com/arguendo/recall/pkg/logger"
	"github.com/arguendo/recall/pkg/memory"
)

// EngineMetrics is the subset of the metrics manager the memory endpoints
// feed. Branch counters are fed by the store's observer; writes and
// searches are timed here where the request clock lives.
type EngineMetrics interface {
	RecordWrite(status string, duration time.Duration)
	RecordSearch(mode string, duration time.Duration)
	SetRecordCount(n int)
	SetWindowDepth(n int)
}

// MemoryHandler handles memory-related API endpoints.
type MemoryHandler struct {
	store         *memory.MemoryStore
	payloads      *memory.ContextPayloadBuilder
	broadcaster   *events.Broadcaster
	metrics       EngineMetrics
	defaultBudget int
	logger        logger.Logger
	validator     *validator.Validate
}

// NewMemoryHandler creates a new memory handler. The broadcaster and
// metrics may be nil when those surfaces are not running. defaultBudget is
// the payload token budget applied when a request omits one; zero leaves
// payloads unbounded.
func NewMemoryHandler(
	store *memory.MemoryStore,
	payloads *memory.ContextPayloadBuilder,
	broadcaster *events.Broadcaster,
	metrics EngineMetrics,
	defaultBudget int,
	log logger.Logger,
) *MemoryHandler {
	return &MemoryHandler{
		store:         store,
		payloads:      payloads,
		broadcaster:   broadcaster,
		metrics:       metrics,
		defaultBudget: defaultBudget,
		logger:        log,
		validator:     validator.New(),
	}
}

// syncStoreGauges refreshes the record count and window depth gauges after
// a mutation.
func (h *MemoryHandler) syncStoreGauges() {
	if h.metrics == nil {
		return
	}
	stats := h.store.Stats()
	h.metrics.SetRecordCount(stats.RecordCount)
	h.metrics.SetWindowDepth(stats.WindowDepth)
}

// WriteMemory handles POST /api/v1/memory/{sessionID}
func (h *MemoryHandler) WriteMemory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	if sessionID == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Session ID is required", getRequestID(ctx))
		return
	}

	var req models.WriteMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid request body", getRequestID(ctx))
		return
	}

	if err := h.validator.Struct(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), getRequestID(ctx))
		return
	}

	start := time.Now()
	id, err := h.store.Write(ctx, req.Text, req.Metadata.ToMetadata(), sessionID)
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordWrite("error", time.Since(start))
		}
		h.logger.Error("failed to write memory", "session_id", sessionID, "error", err)
		response.HandleError(w, err, getRequestID(ctx))
		return
	}
	if h.metrics != nil {
		h.metrics.RecordWrite("ok", time.Since(start))
	}
	h.syncStoreGauges()

	record, _ := h.store.GetRecord(id)
	resp := models.WriteMemoryResponse{
		ID:        id,
		SessionID: sessionID,
	}
	if record != nil {
		resp.Metadata = record.Metadata
		if h.broadcaster != nil {
			h.broadcaster.BroadcastMemoryWritten(sessionID, id, record.Seq)
		}
	}

	response.JSON(w, http.StatusCreated, resp)
}

// SearchMemory handles GET /api/v1/memory/{sessionID}
func (h *MemoryHandler) SearchMemory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	if sessionID == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Session ID is required", getRequestID(ctx))
		return
	}

	query := r.URL.Query().Get("query")
	if query == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, "Query parameter is required", getRequestID(ctx))
		return
	}

	topK := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			topK = n
		}
	}

	start := time.Now()
	results, err := h.store.Search(ctx, query, topK, sessionID)
	if err != nil {
		h.logger.Error("failed to search memory", "session_id", sessionID, "error", err)
		response.HandleError(w, err, getRequestID(ctx))
		return
	}
	if h.metrics != nil {
		h.metrics.RecordSearch(string(memory.Classify(query).Mode), time.Since(start))
	}

	if filters := metadataFilters(r.URL.Query()); len(filters) > 0 {
		results = filterByMetadata(results, filters)
	}

	response.JSON(w, http.StatusOK, models.SearchResponse{
		SessionID: sessionID,
		Query:     query,
		Results:   results,
		Count:     len(results),
	})
}

// BuildPayload handles POST /api/v1/memory/{sessionID}/payload
func (h *MemoryHandler) BuildPayload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	if sessionID == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Session ID is required", getRequestID(ctx))
		return
	}

	var req models.PayloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid request body", getRequestID(ctx))
		return
	}

	if err := h.validator.Struct(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), getRequestID(ctx))
		return
	}

	budget := req.Budget
	if budget == 0 {
		budget = h.defaultBudget
	}

	payload, err := h.payloads.Build(ctx, req.Persona, req.Task, req.Query, sessionID, budget)
	if err != nil {
		h.logger.Error("failed to build payload", "session_id", sessionID, "error", err)
		response.HandleError(w, err, getRequestID(ctx))
		return
	}

	response.JSON(w, http.StatusOK, models.PayloadResponse{
		Payload:  payload,
		Rendered: payload.Render(),
	})
}

// ExportSession handles GET /api/v1/memory/{sessionID}/export
func (h *MemoryHandler) ExportSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	if sessionID == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Session ID is required", getRequestID(ctx))
		return
	}

	response.JSON(w, http.StatusOK, h.store.ExportState(sessionID))
}

// ExportAll handles GET /api/v1/export
func (h *MemoryHandler) ExportAll(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.store.ExportState(memory.ClearAll))
}

// ClearSession handles DELETE /api/v1/memory/{sessionID}
func (h *MemoryHandler) ClearSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	if sessionID == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Session ID is required", getRequestID(ctx))
		return
	}

	removed, err := h.store.Clear(ctx, sessionID)
	if err != nil {
		h.logger.Error("failed to clear session", "session_id", sessionID, "error", err)
		response.HandleError(w, err, getRequestID(ctx))
		return
	}

	if h.broadcaster != nil {
		h.broadcaster.BroadcastMemoryCleared(sessionID, removed)
	}
	h.syncStoreGauges()

	response.JSON(w, http.StatusOK, models.ClearResponse{Scope: sessionID, Removed: removed})
}

// ClearAll handles DELETE /api/v1/memory
func (h *MemoryHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	removed, err := h.store.Clear(ctx, memory.ClearAll)
	if err != nil {
		h.logger.Error("failed to clear all sessions", "error", err)
		response.HandleError(w, err, getRequestID(ctx))
		return
	}

	if h.broadcaster != nil {
		h.broadcaster.BroadcastMemoryCleared("", removed)
	}
	h.syncStoreGauges()

	response.JSON(w, http.StatusOK, models.ClearResponse{Scope: memory.ClearAll, Removed: removed})
}

// Stats handles GET /api/v1/stats
func (h *MemoryHandler) Stats(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.store.Stats())
}

// SessionStats handles GET /api/v1/memory/{sessionID}/stats
func (h *MemoryHandler) SessionStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	if sessionID == "" {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Session ID is required", getRequestID(ctx))
		return
	}

	snap := h.store.ExportState(sessionID)
	response.JSON(w, http.StatusOK, models.SessionStatsResponse{
		SessionID:   sessionID,
		RecordCount: len(snap.Records),
		WindowDepth: len(snap.WindowIDs),
		LastSeq:     snap.LastSeq,
	})
}

// metadataFilters collects metadata.* query parameters into a filter map.
func metadataFilters(values url.Values) map[string]string {
	filters := make(map[string]string)
	for key, vals := range values {
		if strings.HasPrefix(key, "metadata.") && len(vals) > 0 {
			filters[strings.TrimPrefix(key, "metadata.")] = vals[0]
		}
	}
	return filters
}

// filterByMetadata keeps candidates whose tags match every filter exactly.
func filterByMetadata(candidates []memory.RetrievalCandidate, filters map[string]string) []memory.RetrievalCandidate {
	out := candidates[:0]
	for _, c := range candidates {
		if matchesFilters(c.Metadata, filters) {
			out = append(out, c)
		}
	}
	return out
}

func matchesFilters(md memory.Metadata, filters map[string]string) bool {
	for field, want := range filters {
		var got string
		switch field {
		case "role":
			got = md.Role
		case "topic":
			got = md.Topic
		case "document_type":
			got = md.DocumentType
		case "sentiment":
			got = md.Sentiment
		case "source_type":
			got = md.SourceType
		case "turn":
			got = strconv.Itoa(md.Turn)
		default:
			return false
		}
		if got != want {
			return false
		}
	}
	return true
}

// getRequestID extracts the request ID placed in the context by middleware.
func getRequestID(ctx context.Context) string {
	if id := middleware.GetRequestID(ctx); id != "" {
		return id
	}
	return "unknown"
}
