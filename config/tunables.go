package config

import "sync/atomic"

// TunableValues are the scalar retrieval parameters that may change while
// the engine is running. Everything else in RetrievalConfig is immutable
// for the lifetime of a store instance.
type TunableValues struct {
	// VectorWeight is the semantic share of the fused score, in [0,1].
	VectorWeight float64

	// SimilarityThreshold is the minimum raw cosine similarity for a
	// vector candidate to enter fusion.
	SimilarityThreshold float64

	// Version increments on every swap, so readers can tell two
	// otherwise-identical snapshots apart.
	Version uint64
}

// Tunables is an atomic, versioned cell holding the hot-swappable scalars.
// Readers call Load on every query; writers swap a whole snapshot so a
// query never observes a half-updated pair.
type Tunables struct {
	cell    atomic.Pointer[TunableValues]
	version atomic.Uint64
}

// NewTunables creates a Tunables cell seeded from the retrieval config.
func NewTunables(cfg *RetrievalConfig) *Tunables {
	t := &Tunables{}
	t.Store(cfg.VectorWeight, cfg.SimilarityThreshold)
	return t
}

// Load returns the current tunable snapshot.
func (t *Tunables) Load() TunableValues {
	return *t.cell.Load()
}

// Store swaps in a new snapshot and returns its version.
func (t *Tunables) Store(vectorWeight, similarityThreshold float64) uint64 {
	v := t.version.Add(1)
	t.cell.Store(&TunableValues{
		VectorWeight:        clamp01(vectorWeight),
		SimilarityThreshold: clamp01(similarityThreshold),
		Version:             v,
	})
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
