package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/arguendo/recall/config"
	"github.com/arguendo/recall/pkg/embedding"
)

type failingLog struct {
	appendErr error
}

func (f *failingLog) Append(context.Context, *MemoryRecord) error { return f.appendErr }

func (f *failingLog) Replay(context.Context, func(*MemoryRecord) error) error { return nil }

func (f *failingLog) DeleteSession(context.Context, string) (int, error) { return 0, nil }

func (f *failingLog) DeleteAll(context.Context) (int, error) { return 0, nil }

func (f *failingLog) Close() error { return nil }

func newTestStore(t *testing.T, recordLog RecordLog, provider embedding.Provider) *MemoryStore {
	t.Helper()
	if recordLog == nil {
		recordLog = NewInMemoryLog()
	}
	if provider == nil {
		provider = embedding.NewStaticProvider(testDims)
	}
	tun := config.NewTunables(&config.RetrievalConfig{VectorWeight: 0.7})
	cfg := StoreConfig{
		Dimension:      testDims,
		WindowCapacity: 4,
		Retriever:      RetrieverConfig{PrecisionFiltering: true},
	}
	return NewMemoryStore(cfg, provider, recordLog, tun, nil, nil)
}

func mustWrite(t *testing.T, s *MemoryStore, text string, md Metadata, sessionID string) string {
	t.Helper()
	id, err := s.Write(context.Background(), text, md, sessionID)
	if err != nil {
		t.Fatalf("write %q: %v", text, err)
	}
	return id
}

func TestWriteValidation(t *testing.T) {
	s := newTestStore(t, nil, nil)

	if _, err := s.Write(context.Background(), "some text", Metadata{}, ""); !errors.Is(err, ErrInvalidSessionID) {
		t.Errorf("empty session: got %v, want ErrInvalidSessionID", err)
	}
	if _, err := s.Write(context.Background(), "   ", Metadata{}, "s1"); !errors.Is(err, ErrEmptyText) {
		t.Errorf("blank text: got %v, want ErrEmptyText", err)
	}
}

func TestWriteAtomicOnEmbedFailure(t *testing.T) {
	down := &flakyProvider{inner: embedding.NewStaticProvider(testDims), failures: -1}
	s := newTestStore(t, nil, down)

	if _, err := s.Write(context.Background(), "this write must not land", Metadata{}, "s1"); err == nil {
		t.Fatal("expected write to fail when embedding fails")
	}

	st := s.Stats()
	if st.RecordCount != 0 || st.VectorIndexSize != 0 || st.LexicalIndexSize != 0 || st.WindowDepth != 0 {
		t.Errorf("failed write leaked state: %+v", st)
	}
}

func TestWriteAtomicOnLogFailure(t *testing.T) {
	s := newTestStore(t, &failingLog{appendErr: errors.New("disk full")}, nil)

	if _, err := s.Write(context.Background(), "this write must not land", Metadata{}, "s1"); err == nil {
		t.Fatal("expected write to fail when the log append fails")
	}

	st := s.Stats()
	if st.RecordCount != 0 || st.VectorIndexSize != 0 || st.LexicalIndexSize != 0 || st.WindowDepth != 0 {
		t.Errorf("failed write leaked state: %+v", st)
	}
	if snap := s.ExportState(ClearAll); snap.LastSeq != 0 {
		t.Errorf("failed write advanced the sequence to %d", snap.LastSeq)
	}
}

func TestWriteMetadataOverride(t *testing.T) {
	s := newTestStore(t, nil, nil)

	id := mustWrite(t, s, "According to the report, emissions fell sharply.", Metadata{Role: "opponent", Turn: 7}, "s1")
	r, ok := s.GetRecord(id)
	if !ok {
		t.Fatal("written record not found")
	}
	if r.Metadata.Role != "opponent" || r.Metadata.Turn != 7 {
		t.Errorf("override fields lost: %+v", r.Metadata)
	}
	if r.Metadata.DocumentType != "evidence" {
		t.Errorf("extracted fields lost: %+v", r.Metadata)
	}
}

func TestWindowEvictsOldestButKeepsLongTerm(t *testing.T) {
	s := newTestStore(t, nil, nil)

	ids := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		ids = append(ids, mustWrite(t, s, fmt.Sprintf("statement number %d in the exchange", i), Metadata{}, "s1"))
	}

	snap := s.WindowSnapshot("s1")
	if len(snap) != 4 {
		t.Fatalf("window should hold its capacity of 4, got %d", len(snap))
	}
	for i, r := range snap {
		if r.ID != ids[i+2] {
			t.Errorf("window[%d] = %q, want %q (oldest evicted first)", i, r.ID, ids[i+2])
		}
	}
	if st := s.Stats(); st.RecordCount != 6 {
		t.Errorf("long-term store should keep all 6 records, got %d", st.RecordCount)
	}
}

func TestClearSession(t *testing.T) {
	s := newTestStore(t, nil, nil)
	mustWrite(t, s, "session one keeps arguing about tariffs", Metadata{}, "s1")
	mustWrite(t, s, "session one adds another tariff point", Metadata{}, "s1")
	keep := mustWrite(t, s, "session two discusses fisheries instead", Metadata{}, "s2")

	removed, err := s.Clear(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}

	st := s.Stats()
	if st.RecordCount != 1 || st.VectorIndexSize != 1 || st.LexicalIndexSize != 1 {
		t.Errorf("clear left inconsistent state: %+v", st)
	}
	if len(s.WindowSnapshot("s1")) != 0 {
		t.Error("cleared session still present in the window")
	}
	if _, ok := s.GetRecord(keep); !ok {
		t.Error("other session's record was removed")
	}

	results, err := s.Search(context.Background(), "arguing about tariffs", 5, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("cleared session still searchable: %d results", len(results))
	}
}

func TestClearAllAndReplayEmpty(t *testing.T) {
	log := NewInMemoryLog()
	s := newTestStore(t, log, nil)
	mustWrite(t, s, "first remark", Metadata{}, "s1")
	mustWrite(t, s, "second remark", Metadata{}, "s2")

	removed, err := s.Clear(context.Background(), ClearAll)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	if st := s.Stats(); st.RecordCount != 0 || st.WindowDepth != 0 {
		t.Errorf("clear all left state behind: %+v", st)
	}

	count, err := s.Replay(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("log should be empty after clear all, replayed %d", count)
	}
}

func TestReplayRestoresState(t *testing.T) {
	log := NewInMemoryLog()
	first := newTestStore(t, log, nil)

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		ids = append(ids, mustWrite(t, first, fmt.Sprintf("argument %d about carbon pricing", i), Metadata{Turn: i + 1}, "s1"))
	}

	second := newTestStore(t, log, nil)
	count, err := second.Replay(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if count != 5 {
		t.Fatalf("expected 5 replayed records, got %d", count)
	}

	snap := second.WindowSnapshot("s1")
	if len(snap) != 4 {
		t.Fatalf("window should refill to capacity from the newest records, got %d", len(snap))
	}
	for i, r := range snap {
		if r.ID != ids[i+1] {
			t.Errorf("window[%d] = %q, want %q", i, r.ID, ids[i+1])
		}
	}

	results, err := second.Search(context.Background(), "tell me about carbon pricing", 3, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Errorf("replayed store should be searchable, got %d results", len(results))
	}

	// The sequence continues past the replayed records.
	extra := mustWrite(t, second, "a sixth argument on carbon pricing", Metadata{}, "s1")
	r, _ := second.GetRecord(extra)
	if r.Seq != 6 {
		t.Errorf("sequence should resume at 6, got %d", r.Seq)
	}
}

func TestStatsModeDistribution(t *testing.T) {
	s := newTestStore(t, nil, nil)
	mustWrite(t, s, "the opponent made a cost claim in turn 2", Metadata{Role: "opponent", DocumentType: "claim", Turn: 2}, "s1")

	if _, err := s.Search(context.Background(), "tell me about the cost discussion", 3, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Search(context.Background(), "What did the opponent claim in turn 2?", 3, "s1"); err != nil {
		t.Fatal(err)
	}

	st := s.Stats()
	if st.ModeDistribution[string(ModeBaseline)] != 1 {
		t.Errorf("baseline count = %d, want 1", st.ModeDistribution[string(ModeBaseline)])
	}
	if st.ModeDistribution[string(ModePrecision)] != 1 {
		t.Errorf("precision count = %d, want 1", st.ModeDistribution[string(ModePrecision)])
	}
}

func TestExportState(t *testing.T) {
	s := newTestStore(t, nil, nil)
	mustWrite(t, s, "first point on trade policy", Metadata{}, "s1")
	mustWrite(t, s, "second point on trade policy", Metadata{}, "s1")
	mustWrite(t, s, "a point from another session", Metadata{}, "s2")

	snap := s.ExportState("s1")
	if len(snap.Records) != 2 {
		t.Fatalf("expected 2 exported records, got %d", len(snap.Records))
	}
	if snap.Records[0].Seq >= snap.Records[1].Seq {
		t.Error("exported records not in sequence order")
	}
	if snap.LastSeq != 3 {
		t.Errorf("LastSeq = %d, want 3", snap.LastSeq)
	}

	all := s.ExportState(ClearAll)
	if len(all.Records) != 3 {
		t.Errorf("expected 3 records for full export, got %d", len(all.Records))
	}
}

// The scenarios below exercise the store end to end through write and
// search, the way the engine is driven in production.

func TestScenarioTurnAndRoleTargeting(t *testing.T) {
	s := newTestStore(t, nil, nil)

	want := mustWrite(t, s, "Renewables can scale if storage costs keep falling.", Metadata{Role: "proponent", Turn: 1}, "s1")
	mustWrite(t, s, "Storage costs are falling too slowly to matter.", Metadata{Role: "opponent", Turn: 2}, "s1")
	mustWrite(t, s, "Please keep answers to two minutes.", Metadata{Role: "moderator", Turn: 3}, "s1")
	mustWrite(t, s, "Grid interconnects change the storage math.", Metadata{Role: "proponent", Turn: 4}, "s1")

	results, err := s.Search(context.Background(), "What did the proponent say in turn 1?", 2, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if results[0].ID != want {
		t.Errorf("expected the turn-1 proponent record first, got %q", results[0].ID)
	}
	if results[0].Metadata.Role != "proponent" {
		t.Errorf("top result role = %q, want proponent", results[0].Metadata.Role)
	}
}

func TestScenarioTopicSeparation(t *testing.T) {
	s := newTestStore(t, nil, nil)

	quantum := map[string]bool{}
	quantum[mustWrite(t, s, "Quantum computers use qubits for superposition.", Metadata{}, "s1")] = true
	quantum[mustWrite(t, s, "Error correction is the hard problem for quantum hardware.", Metadata{}, "s1")] = true
	quantum[mustWrite(t, s, "Quantum supremacy claims rest on sampling benchmarks.", Metadata{}, "s1")] = true
	mustWrite(t, s, "Tomato seedlings need six hours of direct sunlight.", Metadata{}, "s1")
	mustWrite(t, s, "Compost improves soil drainage for most gardens.", Metadata{}, "s1")
	mustWrite(t, s, "Prune the lower leaves to keep tomato plants healthy.", Metadata{}, "s1")

	results, err := s.Search(context.Background(), "quantum computers qubits error correction", 3, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, r := range results {
		if !quantum[r.ID] {
			t.Errorf("off-topic record leaked into top results: %q", r.Text)
		}
	}
}

func TestScenarioLongTermRetention(t *testing.T) {
	s := newTestStore(t, nil, nil)

	early := map[string]bool{}
	for i := 0; i < 5; i++ {
		early[mustWrite(t, s, fmt.Sprintf("Volcanic eruptions in Iceland reshaped the valley, observation %d.", i), Metadata{}, "s1")] = true
	}
	for i := 0; i < 45; i++ {
		mustWrite(t, s, fmt.Sprintf("Routine procedural remark number %d on scheduling.", i), Metadata{}, "s1")
	}

	results, err := s.Search(context.Background(), "volcanic eruptions in iceland", 5, "s1")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, r := range results {
		if early[r.ID] {
			found = true
			break
		}
	}
	if !found {
		t.Error("early records were lost: none of the first five surfaced")
	}
}

func TestScenarioEmptyStore(t *testing.T) {
	s := newTestStore(t, nil, nil)

	results, err := s.Search(context.Background(), "anything at all", 5, "s1")
	if err != nil {
		t.Fatalf("empty store search must not error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestScenarioNearDuplicateDisambiguation(t *testing.T) {
	s := newTestStore(t, nil, nil)

	want := mustWrite(t, s, "The committee approved the budget after reviewing the safety report.", Metadata{}, "s1")
	mustWrite(t, s, "The committee approved the budget after reviewing the audit findings.", Metadata{}, "s1")

	results, err := s.Search(context.Background(), "committee safety report", 2, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected both near-duplicates, got %d", len(results))
	}
	if results[0].ID != want {
		t.Errorf("distinguishing clause should rank its record first, got %q", results[0].Text)
	}
}
