package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/arguendo/recall/pkg/api/response"
)

// Timeout bounds each request with a deadline. Retrieval handlers see the
// deadline through the request context and degrade to partial results;
// anything still running when the deadline passes gets a 504.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			done := make(chan struct{})
			go func() {
				next.ServeHTTP(w, r.WithContext(ctx))
				close(done)
			}()

			select {
			case <-done:
			case <-ctx.Done():
				requestID := GetRequestID(r.Context())
				if requestID == "" {
					requestID = "unknown"
				}
				response.Error(w,
					http.StatusGatewayTimeout,
					response.ErrCodeGatewayTimeout,
					"request timeout",
					requestID,
				)
			}
		})
	}
}
