package memory

import (
	"context"
	"strings"
	"testing"
)

type recordingPayloadRecorder struct {
	truncations map[string]int
	sizes       []int
}

func (r *recordingPayloadRecorder) RecordPayloadTruncation(segment string, records int) {
	if r.truncations == nil {
		r.truncations = make(map[string]int)
	}
	r.truncations[segment] += records
}

func (r *recordingPayloadRecorder) RecordPayloadSize(tokens int) {
	r.sizes = append(r.sizes, tokens)
}

func payloadStore(t *testing.T, texts ...string) *MemoryStore {
	t.Helper()
	s := newTestStore(t, nil, nil)
	for _, text := range texts {
		mustWrite(t, s, text, Metadata{}, "s1")
	}
	return s
}

func TestBuildSegmentOrder(t *testing.T) {
	s := payloadStore(t,
		"The carbon tax proposal covers heavy industry.",
		"Revenues would be rebated per household.",
	)
	b := NewContextPayloadBuilder(s, 5, nil, nil)

	payload, err := b.Build(context.Background(), "You are a debate assistant.", "Summarize the positions.", "tell me about the carbon tax", "s1", 0)
	if err != nil {
		t.Fatal(err)
	}

	rendered := payload.Render()
	order := []string{"=== PERSONA ===", "=== LONG-TERM CONTEXT ===", "=== SHORT-TERM CONTEXT ===", "=== TASK ==="}
	last := -1
	for _, marker := range order {
		idx := strings.Index(rendered, marker)
		if idx < 0 {
			t.Fatalf("rendered payload missing %q:\n%s", marker, rendered)
		}
		if idx < last {
			t.Errorf("segment %q out of order", marker)
		}
		last = idx
	}
	if !strings.Contains(rendered, "You are a debate assistant.") {
		t.Error("persona text missing")
	}
	if !strings.Contains(rendered, "Summarize the positions.") {
		t.Error("task text missing")
	}
	if len(payload.LongTerm) == 0 {
		t.Error("expected long-term candidates for a matching query")
	}
	if len(payload.ShortTerm) != 2 {
		t.Errorf("expected 2 short-term records, got %d", len(payload.ShortTerm))
	}
	if payload.Tokens != estimateTokens(rendered) {
		t.Errorf("Tokens = %d, want %d", payload.Tokens, estimateTokens(rendered))
	}
}

func TestBuildEmptyQuerySkipsRetrieval(t *testing.T) {
	s := payloadStore(t, "One remark on record.")
	b := NewContextPayloadBuilder(s, 5, nil, nil)

	payload, err := b.Build(context.Background(), "persona", "task", "", "s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if payload.LongTerm != nil {
		t.Errorf("empty query should skip retrieval, got %d candidates", len(payload.LongTerm))
	}
	if !strings.Contains(payload.Render(), "(none)") {
		t.Error("empty segments should render a placeholder")
	}
}

func TestBuildTruncatesLongTermFirst(t *testing.T) {
	texts := []string{
		"Opening point on the fisheries subsidy and its regional effects.",
		"Second point on the fisheries subsidy enforcement mechanisms.",
		"Third point on the fisheries subsidy and trade retaliation risks.",
		"Fourth point on the fisheries subsidy sunset provisions.",
	}
	s := payloadStore(t, texts...)
	rec := &recordingPayloadRecorder{}
	b := NewContextPayloadBuilder(s, 4, rec, nil)

	unbounded, err := b.Build(context.Background(), "p", "t", "tell me about the fisheries subsidy", "s1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if unbounded.DroppedLongTerm != 0 || unbounded.DroppedShortTerm != 0 {
		t.Fatalf("no budget must mean no truncation: %+v", unbounded)
	}

	// A budget between the persona/task floor and the full payload forces
	// long-term drops while the short-term window survives.
	budget := unbounded.Tokens - 20
	payload, err := b.Build(context.Background(), "p", "t", "tell me about the fisheries subsidy", "s1", budget)
	if err != nil {
		t.Fatal(err)
	}
	if payload.DroppedLongTerm == 0 {
		t.Fatal("expected long-term truncation")
	}
	if payload.DroppedShortTerm != 0 {
		t.Errorf("short-term must only shrink after long-term is exhausted, dropped %d", payload.DroppedShortTerm)
	}
	if payload.Tokens > budget {
		t.Errorf("payload still over budget: %d > %d", payload.Tokens, budget)
	}
	// The surviving candidates are the highest ranked.
	if len(payload.LongTerm) > 0 {
		if payload.LongTerm[0].ID != unbounded.LongTerm[0].ID {
			t.Error("truncation must drop from the tail, not the head")
		}
	}
	if rec.truncations[SegmentLongTerm] != payload.DroppedLongTerm {
		t.Errorf("recorder saw %d long-term drops, payload says %d",
			rec.truncations[SegmentLongTerm], payload.DroppedLongTerm)
	}
}

func TestBuildTruncatesShortTermOldestAfterLongTerm(t *testing.T) {
	texts := []string{
		"First short remark about scheduling.",
		"Second short remark about scheduling.",
		"Third short remark about scheduling.",
		"Fourth short remark about scheduling.",
	}
	s := payloadStore(t, texts...)
	rec := &recordingPayloadRecorder{}
	b := NewContextPayloadBuilder(s, 4, rec, nil)

	// Tight budget: all long-term and most of the short-term must go.
	payload, err := b.Build(context.Background(), "p", "t", "tell me about scheduling", "s1", 40)
	if err != nil {
		t.Fatal(err)
	}
	if len(payload.LongTerm) != 0 {
		t.Errorf("long-term should be exhausted before short-term shrinks, %d left", len(payload.LongTerm))
	}
	if payload.DroppedShortTerm == 0 {
		t.Fatal("expected short-term truncation")
	}
	// Oldest records go first, so whatever survives is the newest suffix.
	if len(payload.ShortTerm) > 0 {
		newest := payload.ShortTerm[len(payload.ShortTerm)-1]
		if newest.Text != texts[3] {
			t.Errorf("newest record should survive, got %q", newest.Text)
		}
	}
	if rec.truncations[SegmentShortTerm] != payload.DroppedShortTerm {
		t.Errorf("recorder saw %d short-term drops, payload says %d",
			rec.truncations[SegmentShortTerm], payload.DroppedShortTerm)
	}
}

func TestBuildNeverDropsPersonaOrTask(t *testing.T) {
	s := payloadStore(t, "A single stored remark about logistics.")
	b := NewContextPayloadBuilder(s, 4, nil, nil)

	persona := strings.Repeat("You are an exhaustive debate assistant. ", 10)
	task := strings.Repeat("Weigh every argument carefully. ", 10)

	// The budget cannot even hold persona and task. Both must still ship.
	payload, err := b.Build(context.Background(), persona, task, "tell me about logistics", "s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	rendered := payload.Render()
	if !strings.Contains(rendered, persona) {
		t.Error("persona was dropped")
	}
	if !strings.Contains(rendered, task) {
		t.Error("task was dropped")
	}
	if len(payload.LongTerm) != 0 || len(payload.ShortTerm) != 0 {
		t.Error("droppable segments should be empty under a starvation budget")
	}
	if payload.Tokens <= 10 {
		t.Error("payload should ship over budget rather than drop required segments")
	}
}

func TestRenderTags(t *testing.T) {
	p := &ContextPayload{
		Persona: "p",
		Task:    "t",
		LongTerm: []RetrievalCandidate{
			{Text: "tagged candidate", Metadata: Metadata{Role: "opponent", Turn: 2}},
		},
		ShortTerm: []*MemoryRecord{
			{Text: "untagged record"},
		},
	}
	rendered := p.Render()
	if !strings.Contains(rendered, "[role=opponent turn=2] tagged candidate") {
		t.Errorf("metadata tags missing:\n%s", rendered)
	}
	if !strings.Contains(rendered, "- untagged record") {
		t.Errorf("untagged record should render without brackets:\n%s", rendered)
	}
}
