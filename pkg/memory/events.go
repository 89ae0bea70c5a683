package memory

// BranchObserver receives a signal every time a conditional branch changes
// retrieval behavior. Silent fallbacks have historically poisoned whole
// tuning campaigns, so every branch that alters results must report here.
type BranchObserver interface {
	// ModeSelected fires once per retrieval with the classified mode.
	ModeSelected(mode Mode)

	// FusionFallback fires when a degenerate lexical score range forced
	// pure vector ranking.
	FusionFallback()

	// PrecisionBlendback fires when precision filtering starved the result
	// set and unfiltered candidates were blended back in.
	PrecisionBlendback(blended int)

	// IndexInconsistency fires when an index returned ids with no backing
	// record; count is how many were skipped.
	IndexInconsistency(count int)

	// EmbeddingRetry fires when a query embedding was retried after a
	// transient failure.
	EmbeddingRetry()
}

// NopObserver discards all signals.
type NopObserver struct{}

func (NopObserver) ModeSelected(Mode)      {}
func (NopObserver) FusionFallback()        {}
func (NopObserver) PrecisionBlendback(int) {}
func (NopObserver) IndexInconsistency(int) {}
func (NopObserver) EmbeddingRetry()        {}

// MultiObserver fans one signal out to several observers.
type MultiObserver []BranchObserver

func (m MultiObserver) ModeSelected(mode Mode) {
	for _, o := range m {
		o.ModeSelected(mode)
	}
}

func (m MultiObserver) FusionFallback() {
	for _, o := range m {
		o.FusionFallback()
	}
}

func (m MultiObserver) PrecisionBlendback(blended int) {
	for _, o := range m {
		o.PrecisionBlendback(blended)
	}
}

func (m MultiObserver) IndexInconsistency(count int) {
	for _, o := range m {
		o.IndexInconsistency(count)
	}
}

func (m MultiObserver) EmbeddingRetry() {
	for _, o := range m {
		o.EmbeddingRetry()
	}
}
