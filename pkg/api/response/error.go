package response

import (
	"context"
	"errors"
	"net/http"

	"github.com/arguendo/recall/pkg/embedding"
	"github.com/arguendo/recall/pkg/memory"
)

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable error information.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// Error codes surfaced by the API.
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeEmbedderDown       = "EMBEDDER_UNAVAILABLE"
	ErrCodeInternalServer     = "INTERNAL_SERVER_ERROR"
	ErrCodeGatewayTimeout     = "GATEWAY_TIMEOUT"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// HTTPStatusFromError maps engine errors to HTTP status codes. Validation
// failures on the write and search paths are client errors; an unavailable
// embedding model is a retryable upstream failure.
func HTTPStatusFromError(err error) int {
	switch {
	case errors.Is(err, memory.ErrInvalidSessionID),
		errors.Is(err, memory.ErrInvalidQuery),
		errors.Is(err, memory.ErrEmptyText),
		errors.Is(err, memory.ErrDimensionMismatch),
		errors.Is(err, embedding.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, memory.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, embedding.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCodeFromStatus returns the error code for an HTTP status.
func ErrorCodeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return ErrCodeBadRequest
	case http.StatusNotFound:
		return ErrCodeNotFound
	case http.StatusServiceUnavailable:
		return ErrCodeServiceUnavailable
	case http.StatusGatewayTimeout:
		return ErrCodeGatewayTimeout
	default:
		return ErrCodeInternalServer
	}
}

// HandleError maps err to a status and writes the structured response.
func HandleError(w http.ResponseWriter, err error, requestID string) {
	status := HTTPStatusFromError(err)
	code := ErrorCodeFromStatus(status)
	if status == http.StatusServiceUnavailable && errors.Is(err, embedding.ErrModelUnavailable) {
		code = ErrCodeEmbedderDown
	}
	Error(w, status, code, err.Error(), requestID)
}
