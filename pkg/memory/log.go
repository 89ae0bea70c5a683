package memory

import (
	"context"
	"sort"
	"sync"
)

// RecordLog is the append-only durable log of memory records. The log is
// the single source of truth for restart recovery: replaying it in sequence
// order fully reconstructs the vector index, lexical index, and short-term
// window.
type RecordLog interface {
	// Append persists one record. Records are immutable once appended.
	Append(ctx context.Context, record *MemoryRecord) error

	// Replay invokes fn for every record in ascending sequence order.
	// A non-nil error from fn stops the replay.
	Replay(ctx context.Context, fn func(*MemoryRecord) error) error

	// DeleteSession removes all records for a session and returns the count.
	DeleteSession(ctx context.Context, sessionID string) (int, error)

	// DeleteAll removes every record and returns the count.
	DeleteAll(ctx context.Context) (int, error)

	// Close releases log resources.
	Close() error
}

// InMemoryLog keeps the record log in process memory. Used for tests and
// for deployments that opt out of durability.
type InMemoryLog struct {
	mu      sync.RWMutex
	records []*MemoryRecord
}

// NewInMemoryLog creates an empty in-memory log.
func NewInMemoryLog() *InMemoryLog {
	return &InMemoryLog{}
}

func (l *InMemoryLog) Append(_ context.Context, record *MemoryRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, cloneRecord(record))
	return nil
}

func (l *InMemoryLog) Replay(ctx context.Context, fn func(*MemoryRecord) error) error {
	l.mu.RLock()
	snapshot := make([]*MemoryRecord, len(l.records))
	copy(snapshot, l.records)
	l.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Seq < snapshot[j].Seq })

	for _, r := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(cloneRecord(r)); err != nil {
			return err
		}
	}
	return nil
}

func (l *InMemoryLog) DeleteSession(_ context.Context, sessionID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.records[:0]
	removed := 0
	for _, r := range l.records {
		if r.SessionID == sessionID {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	l.records = kept
	return removed, nil
}

func (l *InMemoryLog) DeleteAll(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := len(l.records)
	l.records = nil
	return n, nil
}

func (l *InMemoryLog) Close() error {
	return nil
}
