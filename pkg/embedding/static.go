package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync/atomic"
)

// StaticProvider is a deterministic, offline embedder. Each token hashes
// into a fixed bucket so identical texts always produce identical vectors
// and texts sharing tokens land near each other. It exists for local
// development, tests, and benchmark baselines where calling a remote model
// would add noise and cost.
type StaticProvider struct {
	dimensions int
	closed     atomic.Bool
}

// NewStaticProvider builds a deterministic embedder of the given dimension.
func NewStaticProvider(dimensions int) *StaticProvider {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &StaticProvider{dimensions: dimensions}
}

// Embed produces the token-hash vector for one text.
func (p *StaticProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.closed.Load() {
		return nil, ErrModelUnavailable
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	return p.embed(text), nil
}

// EmbedBatch embeds each text independently; determinism makes batching a
// plain loop.
func (p *StaticProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the configured vector dimension.
func (p *StaticProvider) Dimensions() int {
	return p.dimensions
}

// Close marks the provider unusable; later calls return ErrModelUnavailable.
func (p *StaticProvider) Close() error {
	p.closed.Store(true)
	return nil
}

func (p *StaticProvider) embed(text string) []float32 {
	vec := make([]float32, p.dimensions)
	for _, token := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()
		bucket := int(sum % uint64(p.dimensions))
		// Sign bit from a higher hash bit keeps buckets from only growing.
		if sum&(1<<63) != 0 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}
	normalize(vec)
	return vec
}

func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
