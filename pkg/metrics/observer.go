package metrics

import "github.com/arguendo/recall/pkg/memory"

// BranchObserver adapts the manager to the retrieval engine's branch signal
// interface so fallbacks and retries land in Prometheus counters.
type BranchObserver struct {
	m *Manager
}

// NewBranchObserver wraps the manager as a memory.BranchObserver.
func NewBranchObserver(m *Manager) *BranchObserver {
	return &BranchObserver{m: m}
}

var _ memory.BranchObserver = (*BranchObserver)(nil)

// ModeSelected is a no-op here. Search counts and latency are recorded on
// the request path, where the timer lives; the store keeps its own mode
// distribution for the stats surface.
func (o *BranchObserver) ModeSelected(memory.Mode) {}

func (o *BranchObserver) FusionFallback() {
	o.m.RecordFusionFallback()
}

func (o *BranchObserver) PrecisionBlendback(int) {
	o.m.RecordPrecisionFallback()
}

func (o *BranchObserver) IndexInconsistency(count int) {
	for i := 0; i < count; i++ {
		o.m.RecordIndexInconsistency()
	}
}

func (o *BranchObserver) EmbeddingRetry() {
	o.m.RecordEmbeddingRetry()
}
