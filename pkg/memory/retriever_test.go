package memory

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/arguendo/recall/config"
	"github.com/arguendo/recall/pkg/embedding"
)

const testDims = 32

type mapSource map[string]*MemoryRecord

func (m mapSource) GetRecord(id string) (*MemoryRecord, bool) {
	r, ok := m[id]
	return r, ok
}

// recordingObserver captures every branch signal for assertions.
type recordingObserver struct {
	mu        sync.Mutex
	modes     []Mode
	fallbacks int
	blended   []int
	missing   []int
	retries   int
}

func (o *recordingObserver) ModeSelected(mode Mode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.modes = append(o.modes, mode)
}

func (o *recordingObserver) FusionFallback() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallbacks++
}

func (o *recordingObserver) PrecisionBlendback(blended int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.blended = append(o.blended, blended)
}

func (o *recordingObserver) IndexInconsistency(count int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.missing = append(o.missing, count)
}

func (o *recordingObserver) EmbeddingRetry() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
}

// flakyProvider fails the first n Embed calls with ErrModelUnavailable.
// failures < 0 means fail every call.
type flakyProvider struct {
	inner    embedding.Provider
	failures int
	calls    int
}

func (f *flakyProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		return nil, embedding.ErrModelUnavailable
	}
	return f.inner.Embed(ctx, text)
}

func (f *flakyProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return f.inner.EmbedBatch(ctx, texts)
}

func (f *flakyProvider) Dimensions() int { return f.inner.Dimensions() }

func (f *flakyProvider) Close() error { return f.inner.Close() }

// blockingProvider stalls every Embed call until the context expires,
// simulating a hung embedding backend.
type blockingProvider struct {
	dims int
}

func (b *blockingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingProvider) Dimensions() int { return b.dims }

func (b *blockingProvider) Close() error { return nil }

type retrieverFixture struct {
	retriever *AdaptiveRetriever
	observer  *recordingObserver
	source    mapSource
	vector    *VectorIndex
	lexical   *LexicalIndex
	tunables  *config.Tunables
}

// newRetrieverFixture indexes the given records with a deterministic
// embedder. queryProvider, when non-nil, replaces the provider the
// retriever itself uses for query embedding.
func newRetrieverFixture(t *testing.T, records []*MemoryRecord, cfg RetrieverConfig, queryProvider embedding.Provider) *retrieverFixture {
	t.Helper()

	static := embedding.NewStaticProvider(testDims)
	if queryProvider == nil {
		queryProvider = static
	}

	vec := NewVectorIndex(testDims)
	lex := NewLexicalIndex(1.5, 0.75)
	source := make(mapSource)

	for i, r := range records {
		if r.ID == "" {
			r.ID = fmt.Sprintf("rec-%02d", i)
		}
		if r.SessionID == "" {
			r.SessionID = "s1"
		}
		emb, err := static.Embed(context.Background(), r.Text)
		if err != nil {
			t.Fatalf("embed record %q: %v", r.ID, err)
		}
		r.Embedding = emb
		if err := vec.Add(r.ID, r.SessionID, emb); err != nil {
			t.Fatalf("index record %q: %v", r.ID, err)
		}
		lex.Add(r.ID, r.SessionID, r.Text)
		source[r.ID] = r
	}

	obs := &recordingObserver{}
	tun := config.NewTunables(&config.RetrievalConfig{VectorWeight: 0.7})
	rt := NewAdaptiveRetriever(vec, lex, queryProvider, source, tun, cfg, obs, nil)
	return &retrieverFixture{retriever: rt, observer: obs, source: source, vector: vec, lexical: lex, tunables: tun}
}

func debateRecords() []*MemoryRecord {
	return []*MemoryRecord{
		{ID: "opp-1", Text: "Nuclear energy is too costly to scale nationally.", Metadata: Metadata{Role: "opponent", DocumentType: "claim", Turn: 2}},
		{ID: "opp-2", Text: "Waste storage for nuclear plants remains unsolved.", Metadata: Metadata{Role: "opponent", DocumentType: "claim", Turn: 2}},
		{ID: "opp-3", Text: "Construction overruns make nuclear energy uneconomical.", Metadata: Metadata{Role: "opponent", DocumentType: "claim", Turn: 2}},
		{ID: "pro-1", Text: "Modern reactor designs have excellent safety records.", Metadata: Metadata{Role: "proponent", DocumentType: "evidence", Turn: 1}},
		{ID: "pro-2", Text: "Nuclear energy provides reliable baseload power.", Metadata: Metadata{Role: "proponent", DocumentType: "argument", Turn: 1}},
		{ID: "pro-3", Text: "France decarbonized its grid with nuclear power.", Metadata: Metadata{Role: "proponent", DocumentType: "evidence", Turn: 3}},
	}
}

func TestRetrieveEmptyIndexes(t *testing.T) {
	f := newRetrieverFixture(t, nil, RetrieverConfig{}, nil)

	results, err := f.retriever.Retrieve(context.Background(), "anything at all", 5, "")
	if err != nil {
		t.Fatalf("empty store retrieval must not error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestRetrieveRejectsInvalidInput(t *testing.T) {
	f := newRetrieverFixture(t, debateRecords(), RetrieverConfig{}, nil)

	if _, err := f.retriever.Retrieve(context.Background(), "", 5, ""); !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("empty query: got %v, want ErrInvalidQuery", err)
	}
	if _, err := f.retriever.Retrieve(context.Background(), "   ", 5, ""); !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("blank query: got %v, want ErrInvalidQuery", err)
	}
	if _, err := f.retriever.Retrieve(context.Background(), "valid query", 0, ""); !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("topK=0: got %v, want ErrInvalidQuery", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.retriever.Retrieve(ctx, "valid query", 5, ""); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled context: got %v, want context.Canceled", err)
	}
}

func TestRetrieveBaselineTopK(t *testing.T) {
	f := newRetrieverFixture(t, debateRecords(), RetrieverConfig{}, nil)

	results, err := f.retriever.Retrieve(context.Background(), "tell me about nuclear energy", 3, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].FusedScore > results[i-1].FusedScore {
			t.Errorf("results not sorted by fused score at %d: %f > %f",
				i, results[i].FusedScore, results[i-1].FusedScore)
		}
	}
	if got := f.observer.modes; len(got) != 1 || got[0] != ModeBaseline {
		t.Errorf("expected one baseline mode selection, got %v", got)
	}
}

func TestRetrieveDeterministic(t *testing.T) {
	f := newRetrieverFixture(t, debateRecords(), RetrieverConfig{}, nil)

	first, err := f.retriever.Retrieve(context.Background(), "tell me about nuclear energy", 4, "")
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.retriever.Retrieve(context.Background(), "tell me about nuclear energy", 4, "")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("identical retrievals diverged:\n%+v\n%+v", first, second)
	}
}

func TestRetrieveSessionScoped(t *testing.T) {
	records := debateRecords()
	records[3].SessionID = "s2"
	records[4].SessionID = "s2"
	records[5].SessionID = "s2"
	f := newRetrieverFixture(t, records, RetrieverConfig{}, nil)

	results, err := f.retriever.Retrieve(context.Background(), "tell me about nuclear energy", 10, "s2")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 session-scoped results, got %d", len(results))
	}
	for _, r := range results {
		if f.source[r.ID].SessionID != "s2" {
			t.Errorf("result %q leaked from another session", r.ID)
		}
	}
}

func TestRetrievePrecisionPrunesMismatches(t *testing.T) {
	f := newRetrieverFixture(t, debateRecords(), RetrieverConfig{PrecisionFiltering: true}, nil)

	// Role, document type and turn references span three trigger
	// categories, so this classifies as precision.
	results, err := f.retriever.Retrieve(context.Background(), "What did the opponent claim in turn 2?", 3, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Metadata.Role != "opponent" {
			t.Errorf("misaligned candidate %q survived precision filtering", r.ID)
		}
	}
	if got := f.observer.modes; len(got) != 1 || got[0] != ModePrecision {
		t.Errorf("expected precision mode, got %v", got)
	}
	if len(f.observer.blended) != 0 {
		t.Errorf("filter was not starved, blendback should not fire: %v", f.observer.blended)
	}
}

func TestRetrievePrecisionBlendsBackWhenStarved(t *testing.T) {
	records := []*MemoryRecord{
		{ID: "aligned", Text: "Nuclear cost overruns are routine.", Metadata: Metadata{Role: "opponent", DocumentType: "claim", Turn: 2}},
		{ID: "other-1", Text: "Reactor safety has improved steadily.", Metadata: Metadata{Role: "proponent"}},
		{ID: "other-2", Text: "Baseload power needs nuclear capacity.", Metadata: Metadata{Role: "proponent"}},
		{ID: "other-3", Text: "Grid decarbonization depends on nuclear.", Metadata: Metadata{Role: "proponent"}},
	}
	f := newRetrieverFixture(t, records, RetrieverConfig{PrecisionFiltering: true}, nil)

	results, err := f.retriever.Retrieve(context.Background(), "What did the opponent claim in turn 2?", 3, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("blendback must keep the result count at topK, got %d", len(results))
	}
	if results[0].ID != "aligned" {
		t.Errorf("aligned candidate should rank first, got %q", results[0].ID)
	}
	if got := f.observer.blended; len(got) != 1 || got[0] != 2 {
		t.Errorf("expected one blendback of 2, got %v", got)
	}
}

func TestRetrievePrecisionDisabledDowngrades(t *testing.T) {
	f := newRetrieverFixture(t, debateRecords(), RetrieverConfig{PrecisionFiltering: false}, nil)

	results, err := f.retriever.Retrieve(context.Background(), "What did the opponent claim in turn 2?", 6, "")
	if err != nil {
		t.Fatal(err)
	}
	if got := f.observer.modes; len(got) != 1 || got[0] != ModeBaseline {
		t.Errorf("disabled flag must downgrade to baseline, got %v", got)
	}
	roles := make(map[string]bool)
	for _, r := range results {
		roles[r.Metadata.Role] = true
	}
	if !roles["proponent"] {
		t.Error("baseline must not filter by role, proponent records missing")
	}
}

func TestRetrieveRetriesTransientEmbedFailure(t *testing.T) {
	flaky := &flakyProvider{inner: embedding.NewStaticProvider(testDims), failures: 1}
	f := newRetrieverFixture(t, debateRecords(), RetrieverConfig{}, flaky)

	results, err := f.retriever.Retrieve(context.Background(), "tell me about nuclear energy", 3, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("retry should recover the vector signal")
	}
	if f.observer.retries != 1 {
		t.Errorf("expected 1 embedding retry, got %d", f.observer.retries)
	}
	if flaky.calls != 2 {
		t.Errorf("expected 2 embed calls, got %d", flaky.calls)
	}
}

func TestRetrieveLexicalOnlyWhenEmbedderDown(t *testing.T) {
	flaky := &flakyProvider{inner: embedding.NewStaticProvider(testDims), failures: -1}
	f := newRetrieverFixture(t, debateRecords(), RetrieverConfig{}, flaky)

	results, err := f.retriever.Retrieve(context.Background(), "nuclear energy costly", 3, "")
	if err != nil {
		t.Fatalf("embedder outage must degrade, not fail: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("lexical signal alone should still produce results")
	}
	for _, r := range results {
		if r.VectorScore != 0 {
			t.Errorf("vector signal was dropped, %q should carry no vector score", r.ID)
		}
		if r.LexicalScore == 0 {
			t.Errorf("result %q should come from the lexical index", r.ID)
		}
	}
	if f.observer.retries != 1 {
		t.Errorf("expected one retry before dropping the signal, got %d", f.observer.retries)
	}
}

func TestSimilarityThresholdGatesVectorSignalOnly(t *testing.T) {
	f := newRetrieverFixture(t, debateRecords(), RetrieverConfig{}, nil)

	// A threshold no cosine score can clear empties the vector candidate
	// list before fusion; lexical matches must survive it untouched.
	f.tunables.Store(0.7, 0.999)

	results, err := f.retriever.Retrieve(context.Background(), "nuclear energy costly", 3, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("lexical candidates must not be gated by the similarity threshold")
	}
	for _, r := range results {
		if r.VectorScore != 0 {
			t.Errorf("%q cleared an unclearable vector threshold, score %f", r.ID, r.VectorScore)
		}
		if r.LexicalScore == 0 {
			t.Errorf("result %q should come from the lexical index", r.ID)
		}
	}
}

func TestRetrieveDeadlineYieldsLexicalPartialResults(t *testing.T) {
	blocking := &blockingProvider{dims: testDims}
	f := newRetrieverFixture(t, debateRecords(), RetrieverConfig{}, blocking)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	results, err := f.retriever.Retrieve(ctx, "nuclear energy costly", 3, "")
	if err != nil {
		t.Fatalf("a stalled embedder must degrade, not fail: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("lexical signal alone should still produce results")
	}
	for _, r := range results {
		if r.VectorScore != 0 {
			t.Errorf("vector signal was dropped, %q should carry no vector score", r.ID)
		}
		if r.LexicalScore == 0 {
			t.Errorf("result %q should come from the lexical index", r.ID)
		}
	}
}

func TestRetrieveReportsIndexInconsistency(t *testing.T) {
	f := newRetrieverFixture(t, debateRecords(), RetrieverConfig{}, nil)

	ghost, err := embedding.NewStaticProvider(testDims).Embed(context.Background(), "nuclear energy phantom entry")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.vector.Add("ghost", "s1", ghost); err != nil {
		t.Fatal(err)
	}
	f.lexical.Add("ghost", "s1", "nuclear energy phantom entry")

	results, err := f.retriever.Retrieve(context.Background(), "tell me about nuclear energy", 10, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.ID == "ghost" {
			t.Error("dangling index entry must not surface as a result")
		}
	}
	if len(f.observer.missing) == 0 {
		t.Error("dangling index entry should report an inconsistency")
	}
}
