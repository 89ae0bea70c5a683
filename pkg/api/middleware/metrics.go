package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MetricsRecorder is the subset of the metrics manager the HTTP stack needs.
type MetricsRecorder interface {
	RecordHTTPRequest(method, path string, status int, duration time.Duration)
	IncActiveConnections()
	DecActiveConnections()
}

// Metrics records per-request counters and latency histograms.
func Metrics(recorder MetricsRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// The scrape endpoint itself stays out of the numbers.
			if strings.HasPrefix(r.URL.Path, "/metrics") {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			recorder.IncActiveConnections()
			defer recorder.DecActiveConnections()

			wrapped := &metricsResponseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			defer func() {
				if err := recover(); err != nil {
					recorder.RecordHTTPRequest(r.Method, normalizePath(r.URL.Path), http.StatusInternalServerError, time.Since(start))
					panic(err)
				}
			}()

			next.ServeHTTP(wrapped, r)

			recorder.RecordHTTPRequest(r.Method, normalizePath(r.URL.Path), wrapped.statusCode, time.Since(start))
		})
	}
}

type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *metricsResponseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

// normalizePath replaces ids in the path with placeholders so metric label
// cardinality stays bounded. Session ids are caller-chosen strings, so any
// segment directly under /memory is treated as an id.
func normalizePath(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if i > 0 && parts[i-1] == "memory" && part != "" {
			parts[i] = ":session"
			continue
		}
		if len(part) == 36 && strings.Count(part, "-") == 4 {
			parts[i] = ":id"
			continue
		}
		if _, err := strconv.Atoi(part); err == nil && len(part) > 0 {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}
