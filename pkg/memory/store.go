package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/arguendo/recall/config"
	"github.com/arguendo/recall/pkg/embedding"
	"github.com/arguendo/recall/pkg/logger"
)

// ClearAll is the Clear scope that wipes every session.
const ClearAll = "all"

// StoreConfig fixes the per-instance store parameters. These are immutable
// for the store's lifetime; only the scalar tunables behind the shared cell
// may change at runtime.
type StoreConfig struct {
	Dimension      int
	WindowCapacity int
	LexicalK1      float64
	LexicalB       float64
	Retriever      RetrieverConfig
}

// MemoryStore owns all mutable retrieval state: the record map, the
// short-term window, both indexes, and the durable record log. All mutation
// goes through Write, Clear, and Replay; readers get copies or immutable
// records.
type MemoryStore struct {
	mu  sync.RWMutex
	cfg StoreConfig

	window    *ShortTermWindow
	vector    *VectorIndex
	lexical   *LexicalIndex
	extractor *MetadataExtractor
	embedder  embedding.Provider
	recordLog RecordLog
	retriever *AdaptiveRetriever
	log       logger.Logger

	records map[string]*MemoryRecord
	seq     uint64

	modeMu     sync.Mutex
	modeCounts map[Mode]int
}

// NewMemoryStore constructs a store and its retriever. The observer receives
// every behavior-changing branch signal; the store additionally tracks mode
// distribution for the stats surface.
func NewMemoryStore(
	cfg StoreConfig,
	embedder embedding.Provider,
	recordLog RecordLog,
	tunables *config.Tunables,
	observer BranchObserver,
	log logger.Logger,
) *MemoryStore {
	if log == nil {
		log = logger.Global()
	}
	if observer == nil {
		observer = NopObserver{}
	}
	if cfg.WindowCapacity <= 0 {
		cfg.WindowCapacity = 6
	}
	if cfg.LexicalK1 == 0 {
		cfg.LexicalK1 = 1.5
	}
	if cfg.LexicalB == 0 {
		cfg.LexicalB = 0.75
	}

	s := &MemoryStore{
		cfg:        cfg,
		window:     NewShortTermWindow(cfg.WindowCapacity),
		vector:     NewVectorIndex(cfg.Dimension),
		lexical:    NewLexicalIndex(cfg.LexicalK1, cfg.LexicalB),
		extractor:  NewMetadataExtractor(),
		embedder:   embedder,
		recordLog:  recordLog,
		log:        log,
		records:    make(map[string]*MemoryRecord),
		modeCounts: make(map[Mode]int),
	}

	s.retriever = NewAdaptiveRetriever(
		s.vector,
		s.lexical,
		embedder,
		s,
		tunables,
		cfg.Retriever,
		MultiObserver{observer, storeObserver{s}},
		log,
	)
	return s
}

// Write extracts metadata, embeds the text, and inserts the record into the
// window, both indexes, and the durable log. The write is atomic: the
// embedding is computed before anything is touched, so an embedding failure
// inserts nothing anywhere.
func (s *MemoryStore) Write(ctx context.Context, text string, override Metadata, sessionID string) (string, error) {
	ctx, span := memoryTracer().Start(ctx, spanMemoryWrite,
		trace.WithAttributes(attribute.String("memory.session_id", sessionID)))
	defer span.End()

	if strings.TrimSpace(sessionID) == "" {
		return "", ErrInvalidSessionID
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}

	md := s.extractor.Extract(text).Merge(override)

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("memory: embed for write: %w", err)
	}
	if len(vec) != s.cfg.Dimension {
		return "", fmt.Errorf("%w: embedder returned %d, store expects %d",
			ErrDimensionMismatch, len(vec), s.cfg.Dimension)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record := &MemoryRecord{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Text:      text,
		Embedding: vec,
		Metadata:  md,
		Seq:       s.seq + 1,
		CreatedAt: time.Now(),
	}

	if err := s.recordLog.Append(ctx, record); err != nil {
		return "", fmt.Errorf("memory: append record log: %w", err)
	}

	s.seq = record.Seq
	s.records[record.ID] = record
	_ = s.vector.Add(record.ID, sessionID, vec) // dimension already checked
	s.lexical.Add(record.ID, sessionID, text)
	s.window.Push(record)

	return record.ID, nil
}

// Search runs the adaptive retriever over the store.
func (s *MemoryStore) Search(ctx context.Context, query string, topK int, sessionID string) ([]RetrievalCandidate, error) {
	ctx, span := memoryTracer().Start(ctx, spanMemorySearch,
		trace.WithAttributes(
			attribute.String("memory.session_id", sessionID),
			attribute.Int("memory.top_k", topK),
		))
	defer span.End()

	candidates, err := s.retriever.Retrieve(ctx, query, topK, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("memory.results", len(candidates)))
	return candidates, nil
}

// GetRecord resolves an id to its record. Records are immutable, so the
// returned pointer is safe to read concurrently.
func (s *MemoryStore) GetRecord(id string) (*MemoryRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// WindowSnapshot returns the short-term window contents for one session,
// oldest to newest. An empty sessionID returns everything.
func (s *MemoryStore) WindowSnapshot(sessionID string) []*MemoryRecord {
	all := s.window.Snapshot()
	if sessionID == "" {
		return all
	}
	out := make([]*MemoryRecord, 0, len(all))
	for _, r := range all {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out
}

// Clear removes the given session's records, or everything when scope is
// ClearAll, from all three stores and the durable log, then forces a vector
// index rebuild so no stale entries survive the batch deletion.
func (s *MemoryStore) Clear(ctx context.Context, scope string) (int, error) {
	if strings.TrimSpace(scope) == "" {
		return 0, ErrInvalidSessionID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	if scope == ClearAll {
		removed = len(s.records)
		s.records = make(map[string]*MemoryRecord)
		s.lexical.Clear()
		s.window.Clear()
		if _, err := s.recordLog.DeleteAll(ctx); err != nil {
			return removed, fmt.Errorf("memory: clear record log: %w", err)
		}
	} else {
		for id, r := range s.records {
			if r.SessionID == scope {
				delete(s.records, id)
				removed++
			}
		}
		s.lexical.RemoveBySession(scope)
		s.window.RemoveBySession(scope)
		if _, err := s.recordLog.DeleteSession(ctx, scope); err != nil {
			return removed, fmt.Errorf("memory: clear session %s from record log: %w", scope, err)
		}
	}

	if err := s.rebuildLocked(); err != nil {
		return removed, err
	}

	s.log.InfoContext(ctx, "memory cleared",
		"scope", scope,
		"removed", removed,
	)
	return removed, nil
}

// Rebuild reconstructs the vector index from the current record set.
func (s *MemoryStore) Rebuild() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuildLocked()
}

func (s *MemoryStore) rebuildLocked() error {
	remaining := make([]*MemoryRecord, 0, len(s.records))
	for _, r := range s.records {
		remaining = append(remaining, r)
	}
	if err := s.vector.Rebuild(remaining); err != nil {
		return fmt.Errorf("memory: rebuild vector index: %w", err)
	}
	return nil
}

// Replay reconstructs all in-memory state from the durable record log.
// Called once at startup before the store serves traffic.
func (s *MemoryStore) Replay(ctx context.Context) (int, error) {
	ctx, span := memoryTracer().Start(ctx, spanMemoryReplay)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[string]*MemoryRecord)
	s.window.Clear()
	s.lexical.Clear()
	if err := s.vector.Rebuild(nil); err != nil {
		return 0, err
	}
	s.seq = 0

	count := 0
	err := s.recordLog.Replay(ctx, func(r *MemoryRecord) error {
		if len(r.Embedding) != s.cfg.Dimension {
			return fmt.Errorf("%w: logged record %s has %d, store expects %d",
				ErrDimensionMismatch, r.ID, len(r.Embedding), s.cfg.Dimension)
		}
		s.records[r.ID] = r
		_ = s.vector.Add(r.ID, r.SessionID, r.Embedding)
		s.lexical.Add(r.ID, r.SessionID, r.Text)
		s.window.Push(r)
		if r.Seq > s.seq {
			s.seq = r.Seq
		}
		count++
		return nil
	})
	if err != nil {
		return count, fmt.Errorf("memory: replay record log: %w", err)
	}

	s.log.InfoContext(ctx, "record log replayed",
		"records", count,
		"last_seq", s.seq,
	)
	return count, nil
}

// Stats summarizes current engine state.
func (s *MemoryStore) Stats() Stats {
	s.mu.RLock()
	sessions := make(map[string]struct{})
	for _, r := range s.records {
		sessions[r.SessionID] = struct{}{}
	}
	st := Stats{
		RecordCount:      len(s.records),
		VectorIndexSize:  s.vector.Len(),
		LexicalIndexSize: s.lexical.Len(),
		WindowDepth:      s.window.Len(),
		SessionCount:     len(sessions),
	}
	s.mu.RUnlock()

	s.modeMu.Lock()
	st.ModeDistribution = make(map[string]int, len(s.modeCounts))
	for mode, n := range s.modeCounts {
		st.ModeDistribution[string(mode)] = n
	}
	s.modeMu.Unlock()

	return st
}

// StateSnapshot is the serializable export of one session (or all sessions).
type StateSnapshot struct {
	Scope     string         `json:"scope"`
	Records   []MemoryRecord `json:"records"`
	WindowIDs []string       `json:"window_ids"`
	LastSeq   uint64         `json:"last_seq"`
}

// ExportState returns a snapshot of the given session's records in sequence
// order. Scope ClearAll (or empty) exports everything.
func (s *MemoryStore) ExportState(scope string) StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := StateSnapshot{Scope: scope, LastSeq: s.seq}
	for _, r := range s.records {
		if scope != "" && scope != ClearAll && r.SessionID != scope {
			continue
		}
		snap.Records = append(snap.Records, *cloneRecord(r))
	}
	sort.Slice(snap.Records, func(i, j int) bool { return snap.Records[i].Seq < snap.Records[j].Seq })

	for _, r := range s.window.Snapshot() {
		if scope != "" && scope != ClearAll && r.SessionID != scope {
			continue
		}
		snap.WindowIDs = append(snap.WindowIDs, r.ID)
	}
	return snap
}

// Retriever exposes the store's adaptive retriever.
func (s *MemoryStore) Retriever() *AdaptiveRetriever {
	return s.retriever
}

// Extractor exposes the metadata extractor for collaborators that classify
// text outside the write path.
func (s *MemoryStore) Extractor() *MetadataExtractor {
	return s.extractor
}

// Close closes the record log.
func (s *MemoryStore) Close() error {
	return s.recordLog.Close()
}

// storeObserver folds branch signals back into store bookkeeping: mode
// counts feed the stats surface, and index inconsistency triggers an
// automatic rebuild rather than being silently tolerated.
type storeObserver struct {
	s *MemoryStore
}

func (o storeObserver) ModeSelected(mode Mode) {
	o.s.modeMu.Lock()
	o.s.modeCounts[mode]++
	o.s.modeMu.Unlock()
}

func (o storeObserver) FusionFallback() {}

func (o storeObserver) PrecisionBlendback(int) {}

func (o storeObserver) IndexInconsistency(count int) {
	o.s.log.Warn("index inconsistency detected, rebuilding vector index",
		"missing_records", count,
	)
	if err := o.s.Rebuild(); err != nil {
		o.s.log.Error("automatic index rebuild failed", "error", err)
	}
}

func (o storeObserver) EmbeddingRetry() {}
