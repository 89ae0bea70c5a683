// Package embedding defines the text embedding provider abstraction and its
// implementations. Every provider produces vectors of a fixed dimension;
// mixing dimensions within one deployment is a configuration error.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/arguendo/recall/config"
)

var (
	// ErrModelUnavailable indicates the embedding backend cannot be reached
	// or is not ready. Callers may retry.
	ErrModelUnavailable = errors.New("embedding model unavailable")

	// ErrEmptyInput indicates an embed call with no text.
	ErrEmptyInput = errors.New("embedding input is empty")

	// ErrDimensionMismatch indicates a provider returned a vector of an
	// unexpected dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Provider converts text into fixed-dimension vectors.
type Provider interface {
	// Embed converts one text into a vector of Dimensions() length.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts in one call. Output order matches
	// the input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the vector dimension this provider produces.
	Dimensions() int

	// Close releases provider resources.
	Close() error
}

// NewProvider builds the provider named by the embedder config.
func NewProvider(cfg config.EmbedderConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIProvider(cfg)
	case "static":
		return NewStaticProvider(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// checkDimensions verifies a returned vector against the expected dimension.
func checkDimensions(vec []float32, want int) error {
	if len(vec) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), want)
	}
	return nil
}
