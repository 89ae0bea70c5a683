package memory

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/arguendo/recall/pkg/logger"
)

// Payload segment labels, in their fixed order.
const (
	SegmentPersona   = "persona"
	SegmentLongTerm  = "long_term"
	SegmentShortTerm = "short_term"
	SegmentTask      = "task"
)

// ContextPayload is the assembled four-segment prompt context. Segment
// order is fixed: persona, long-term, short-term, task.
type ContextPayload struct {
	Persona   string               `json:"persona"`
	LongTerm  []RetrievalCandidate `json:"long_term"`
	ShortTerm []*MemoryRecord      `json:"short_term"`
	Task      string               `json:"task"`

	// DroppedLongTerm and DroppedShortTerm count records truncated to honor
	// the budget.
	DroppedLongTerm  int `json:"dropped_long_term"`
	DroppedShortTerm int `json:"dropped_short_term"`

	// Tokens is the estimated token size of the rendered payload.
	Tokens int `json:"tokens"`
}

// Render serializes the payload into one delimited string for the
// text-generation consumer.
func (p *ContextPayload) Render() string {
	var b strings.Builder

	b.WriteString("=== PERSONA ===\n")
	b.WriteString(p.Persona)
	b.WriteString("\n\n=== LONG-TERM CONTEXT ===\n")
	if len(p.LongTerm) == 0 {
		b.WriteString("(none)\n")
	}
	for i, c := range p.LongTerm {
		fmt.Fprintf(&b, "%d. %s%s\n", i+1, formatTags(c.Metadata), c.Text)
	}
	b.WriteString("\n=== SHORT-TERM CONTEXT ===\n")
	if len(p.ShortTerm) == 0 {
		b.WriteString("(none)\n")
	}
	for _, r := range p.ShortTerm {
		fmt.Fprintf(&b, "- %s%s\n", formatTags(r.Metadata), r.Text)
	}
	b.WriteString("\n=== TASK ===\n")
	b.WriteString(p.Task)
	b.WriteString("\n")
	return b.String()
}

func formatTags(md Metadata) string {
	var tags []string
	if md.Role != "" {
		tags = append(tags, "role="+md.Role)
	}
	if md.Turn != 0 {
		tags = append(tags, fmt.Sprintf("turn=%d", md.Turn))
	}
	if len(tags) == 0 {
		return ""
	}
	return "[" + strings.Join(tags, " ") + "] "
}

// PayloadRecorder receives payload assembly measurements. Satisfied by
// metrics.Manager.
type PayloadRecorder interface {
	RecordPayloadTruncation(segment string, records int)
	RecordPayloadSize(tokens int)
}

type nopPayloadRecorder struct{}

func (nopPayloadRecorder) RecordPayloadTruncation(string, int) {}
func (nopPayloadRecorder) RecordPayloadSize(int)               {}

// ContextPayloadBuilder assembles bounded context payloads from store
// output. It only reads; all mutation stays inside the store.
type ContextPayloadBuilder struct {
	store    *MemoryStore
	topK     int
	recorder PayloadRecorder
	log      logger.Logger
}

// NewContextPayloadBuilder builds payloads retrieving up to topK long-term
// candidates per call.
func NewContextPayloadBuilder(store *MemoryStore, topK int, recorder PayloadRecorder, log logger.Logger) *ContextPayloadBuilder {
	if topK <= 0 {
		topK = 5
	}
	if recorder == nil {
		recorder = nopPayloadRecorder{}
	}
	if log == nil {
		log = logger.Global()
	}
	return &ContextPayloadBuilder{store: store, topK: topK, recorder: recorder, log: log}
}

// Build assembles the four segments and enforces the token budget by
// dropping long-term candidates lowest-ranked first, then short-term
// records oldest first. Persona and task are never dropped; if they alone
// exceed the budget the payload ships over budget with a loud log line.
func (b *ContextPayloadBuilder) Build(ctx context.Context, persona, task, query, sessionID string, budget int) (*ContextPayload, error) {
	ctx, span := memoryTracer().Start(ctx, spanPayloadBuild,
		trace.WithAttributes(
			attribute.String("memory.session_id", sessionID),
			attribute.Int("memory.budget", budget),
		))
	defer span.End()

	payload := &ContextPayload{
		Persona:   persona,
		Task:      task,
		ShortTerm: b.store.WindowSnapshot(sessionID),
	}

	if strings.TrimSpace(query) != "" {
		candidates, err := b.store.Search(ctx, query, b.topK, sessionID)
		if err != nil {
			return nil, fmt.Errorf("memory: payload retrieval: %w", err)
		}
		payload.LongTerm = candidates
	}

	if budget > 0 {
		b.truncate(ctx, payload, budget)
	}

	payload.Tokens = estimateTokens(payload.Render())
	b.recorder.RecordPayloadSize(payload.Tokens)
	return payload, nil
}

func (b *ContextPayloadBuilder) truncate(ctx context.Context, payload *ContextPayload, budget int) {
	// Long-term candidates go first, lowest-ranked (tail) first.
	for estimateTokens(payload.Render()) > budget && len(payload.LongTerm) > 0 {
		payload.LongTerm = payload.LongTerm[:len(payload.LongTerm)-1]
		payload.DroppedLongTerm++
	}
	// Then short-term records, oldest (head) first.
	for estimateTokens(payload.Render()) > budget && len(payload.ShortTerm) > 0 {
		payload.ShortTerm = payload.ShortTerm[1:]
		payload.DroppedShortTerm++
	}

	if payload.DroppedLongTerm > 0 {
		b.recorder.RecordPayloadTruncation(SegmentLongTerm, payload.DroppedLongTerm)
	}
	if payload.DroppedShortTerm > 0 {
		b.recorder.RecordPayloadTruncation(SegmentShortTerm, payload.DroppedShortTerm)
	}
	if payload.DroppedLongTerm > 0 || payload.DroppedShortTerm > 0 {
		b.log.InfoContext(ctx, "payload truncated to budget",
			"budget_tokens", budget,
			"dropped_long_term", payload.DroppedLongTerm,
			"dropped_short_term", payload.DroppedShortTerm,
		)
	}

	if got := estimateTokens(payload.Render()); got > budget {
		// Persona and task are never dropped, so the payload ships over
		// budget. This must be loud: it means the budget cannot hold the
		// required segments at all.
		b.log.WarnContext(ctx, "payload exceeds budget after full truncation",
			"budget_tokens", budget,
			"payload_tokens", got,
		)
	}
}

// estimateTokens approximates tokens as ceil(bytes/4), the usual rough
// ratio for English text under BPE tokenizers.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}
