// Package metrics provides Prometheus instrumentation for the retrieval
// engine: write and search throughput, fusion and filter fallbacks, payload
// truncation, and embedding cache efficiency.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns the metric registry and all engine instruments. A disabled
// manager is safe to call; every recording method becomes a no-op.
type Manager struct {
	enabled  bool
	registry *prometheus.Registry

	// Write path.
	writesTotal   *prometheus.CounterVec
	writeDuration prometheus.Histogram

	// Search path.
	searchesTotal  *prometheus.CounterVec
	searchDuration *prometheus.HistogramVec

	// Observable degenerate branches.
	fusionFallbacks    prometheus.Counter
	precisionFallbacks prometheus.Counter
	indexInconsistency prometheus.Counter
	embedRetries       prometheus.Counter

	// Payload assembly.
	payloadTruncatedRecords *prometheus.CounterVec
	payloadTokens           prometheus.Histogram

	// Embedding cache.
	embedCacheHits   prometheus.Counter
	embedCacheMisses prometheus.Counter

	// Store gauges.
	recordCount prometheus.Gauge
	windowDepth prometheus.Gauge

	// HTTP surface.
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpActiveConns prometheus.Gauge

	// Event stream.
	eventClients prometheus.Gauge
	eventsSent   prometheus.Counter
}

// Config controls manager construction.
type Config struct {
	Enabled   bool
	Namespace string
}

// NewManager builds a manager with its own registry so tests can run
// several managers side by side without collector collisions.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return NoOpManager()
	}

	ns := cfg.Namespace
	if ns == "" {
		ns = "recall"
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Manager{
		enabled:  true,
		registry: registry,
	}

	m.initWriteMetrics(ns)
	m.initSearchMetrics(ns)
	m.initBranchMetrics(ns)
	m.initPayloadMetrics(ns)
	m.initCacheMetrics(ns)
	m.initStoreMetrics(ns)
	m.initHTTPMetrics(ns)
	m.initEventMetrics(ns)

	return m
}

// NoOpManager returns a disabled manager for when metrics are turned off.
func NoOpManager() *Manager {
	return &Manager{enabled: false}
}

func (m *Manager) initWriteMetrics(ns string) {
	m.writesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "memory_writes_total",
		Help:      "Memory write operations by outcome.",
	}, []string{"status"})

	m.writeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "memory_write_duration_seconds",
		Help:      "Latency of memory writes including embedding.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	m.registry.MustRegister(m.writesTotal, m.writeDuration)
}

func (m *Manager) initSearchMetrics(ns string) {
	m.searchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "searches_total",
		Help:      "Retrieval searches by classified mode.",
	}, []string{"mode"})

	m.searchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "search_duration_seconds",
		Help:      "Latency of retrieval searches by mode.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"mode"})

	m.registry.MustRegister(m.searchesTotal, m.searchDuration)
}

func (m *Manager) initBranchMetrics(ns string) {
	m.fusionFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "fusion_fallbacks_total",
		Help:      "Fusions that fell back to pure vector scoring due to a degenerate lexical score range.",
	})

	m.precisionFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "precision_filter_fallbacks_total",
		Help:      "Precision searches that blended unfiltered candidates back in to fill the requested result count.",
	})

	m.indexInconsistency = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "index_inconsistencies_total",
		Help:      "Candidates returned by one index with no backing record, skipped during fusion.",
	})

	m.embedRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "embedding_retries_total",
		Help:      "Query embedding attempts retried after a transient provider failure.",
	})

	m.registry.MustRegister(m.fusionFallbacks, m.precisionFallbacks, m.indexInconsistency, m.embedRetries)
}

func (m *Manager) initPayloadMetrics(ns string) {
	m.payloadTruncatedRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "payload_truncated_records_total",
		Help:      "Records dropped from context payloads to honor the token budget, by segment.",
	}, []string{"segment"})

	m.payloadTokens = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "payload_tokens",
		Help:      "Estimated token size of assembled context payloads.",
		Buckets:   prometheus.ExponentialBuckets(128, 2, 10),
	})

	m.registry.MustRegister(m.payloadTruncatedRecords, m.payloadTokens)
}

func (m *Manager) initCacheMetrics(ns string) {
	m.embedCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "embedding_cache_hits_total",
		Help:      "Embedding requests served from cache.",
	})

	m.embedCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "embedding_cache_misses_total",
		Help:      "Embedding requests that reached the provider.",
	})

	m.registry.MustRegister(m.embedCacheHits, m.embedCacheMisses)
}

func (m *Manager) initStoreMetrics(ns string) {
	m.recordCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "store_records",
		Help:      "Long-term memory records currently indexed.",
	})

	m.windowDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "short_term_window_depth",
		Help:      "Entries currently held in the short-term window.",
	})

	m.registry.MustRegister(m.recordCount, m.windowDepth)
}

func (m *Manager) initHTTPMetrics(ns string) {
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, path, and status code.",
	}, []string{"method", "path", "status"})

	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by method and path.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"method", "path"})

	m.httpActiveConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "http_active_connections",
		Help:      "Currently active HTTP connections.",
	})

	m.registry.MustRegister(m.httpRequests, m.httpDuration, m.httpActiveConns)
}

func (m *Manager) initEventMetrics(ns string) {
	m.eventClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "event_stream_clients",
		Help:      "Connected websocket event stream clients.",
	})

	m.eventsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "event_stream_messages_total",
		Help:      "Event messages broadcast to stream clients.",
	})

	m.registry.MustRegister(m.eventClients, m.eventsSent)
}

// Enabled reports whether metrics collection is active.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// RecordWrite records a memory write and its latency.
func (m *Manager) RecordWrite(status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.writesTotal.WithLabelValues(status).Inc()
	m.writeDuration.Observe(duration.Seconds())
}

// RecordSearch records a retrieval search under its classified mode.
func (m *Manager) RecordSearch(mode string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.searchesTotal.WithLabelValues(mode).Inc()
	m.searchDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordFusionFallback counts a fusion that degraded to pure vector scoring.
func (m *Manager) RecordFusionFallback() {
	if !m.enabled {
		return
	}
	m.fusionFallbacks.Inc()
}

// RecordPrecisionFallback counts a precision search that blended unfiltered
// candidates back in.
func (m *Manager) RecordPrecisionFallback() {
	if !m.enabled {
		return
	}
	m.precisionFallbacks.Inc()
}

// RecordIndexInconsistency counts a candidate skipped because no record
// backed it.
func (m *Manager) RecordIndexInconsistency() {
	if !m.enabled {
		return
	}
	m.indexInconsistency.Inc()
}

// RecordEmbeddingRetry counts a retried query embedding.
func (m *Manager) RecordEmbeddingRetry() {
	if !m.enabled {
		return
	}
	m.embedRetries.Inc()
}

// RecordPayloadTruncation counts records dropped from a payload segment.
func (m *Manager) RecordPayloadTruncation(segment string, records int) {
	if !m.enabled || records <= 0 {
		return
	}
	m.payloadTruncatedRecords.WithLabelValues(segment).Add(float64(records))
}

// RecordPayloadSize observes the token size of an assembled payload.
func (m *Manager) RecordPayloadSize(tokens int) {
	if !m.enabled {
		return
	}
	m.payloadTokens.Observe(float64(tokens))
}

// RecordCacheHit counts an embedding served from cache.
func (m *Manager) RecordCacheHit() {
	if !m.enabled {
		return
	}
	m.embedCacheHits.Inc()
}

// RecordCacheMiss counts an embedding that reached the provider.
func (m *Manager) RecordCacheMiss() {
	if !m.enabled {
		return
	}
	m.embedCacheMisses.Inc()
}

// SetRecordCount reports the number of indexed long-term records.
func (m *Manager) SetRecordCount(n int) {
	if !m.enabled {
		return
	}
	m.recordCount.Set(float64(n))
}

// SetWindowDepth reports the current short-term window occupancy.
func (m *Manager) SetWindowDepth(n int) {
	if !m.enabled {
		return
	}
	m.windowDepth.Set(float64(n))
}

// RecordHTTPRequest records a completed HTTP request.
func (m *Manager) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.httpRequests.WithLabelValues(method, path, fmt.Sprintf("%d", status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncActiveConnections increments the active HTTP connection gauge.
func (m *Manager) IncActiveConnections() {
	if !m.enabled {
		return
	}
	m.httpActiveConns.Inc()
}

// DecActiveConnections decrements the active HTTP connection gauge.
func (m *Manager) DecActiveConnections() {
	if !m.enabled {
		return
	}
	m.httpActiveConns.Dec()
}

// SetEventClients reports the number of connected event stream clients.
func (m *Manager) SetEventClients(n int) {
	if !m.enabled {
		return
	}
	m.eventClients.Set(float64(n))
}

// RecordEventSent counts one broadcast event message.
func (m *Manager) RecordEventSent() {
	if !m.enabled {
		return
	}
	m.eventsSent.Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves the metrics endpoint on its own port until ctx is
// canceled. A disabled manager returns immediately.
func (m *Manager) StartServer(ctx context.Context, port int, path string) error {
	if !m.enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	return server.ListenAndServe()
}
