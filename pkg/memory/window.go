package memory

import "sync"

// ShortTermWindow is a fixed-capacity FIFO buffer of the most recent
// records. Pushing to a full window evicts the oldest entry.
type ShortTermWindow struct {
	mu       sync.RWMutex
	capacity int
	buf      []*MemoryRecord
	head     int
	size     int
}

// NewShortTermWindow creates a window of the given capacity. Capacity is
// fixed for the lifetime of the window.
func NewShortTermWindow(capacity int) *ShortTermWindow {
	if capacity <= 0 {
		capacity = 1
	}
	return &ShortTermWindow{
		capacity: capacity,
		buf:      make([]*MemoryRecord, capacity),
	}
}

// Push appends a record, evicting the oldest when full. O(1).
func (w *ShortTermWindow) Push(record *MemoryRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()

	tail := (w.head + w.size) % w.capacity
	w.buf[tail] = record
	if w.size < w.capacity {
		w.size++
	} else {
		w.head = (w.head + 1) % w.capacity
	}
}

// Snapshot returns a copy of the current contents, oldest to newest.
func (w *ShortTermWindow) Snapshot() []*MemoryRecord {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]*MemoryRecord, 0, w.size)
	for i := 0; i < w.size; i++ {
		out = append(out, w.buf[(w.head+i)%w.capacity])
	}
	return out
}

// Remove drops any entries with the given id, preserving order of the rest.
func (w *ShortTermWindow) Remove(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := make([]*MemoryRecord, 0, w.size)
	for i := 0; i < w.size; i++ {
		r := w.buf[(w.head+i)%w.capacity]
		if r != nil && r.ID != id {
			kept = append(kept, r)
		}
	}
	w.reset(kept)
}

// RemoveBySession drops all entries belonging to a session.
func (w *ShortTermWindow) RemoveBySession(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	kept := make([]*MemoryRecord, 0, w.size)
	for i := 0; i < w.size; i++ {
		r := w.buf[(w.head+i)%w.capacity]
		if r != nil && r.SessionID != sessionID {
			kept = append(kept, r)
		}
	}
	w.reset(kept)
}

// Clear empties the window.
func (w *ShortTermWindow) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reset(nil)
}

// Len returns the current number of entries.
func (w *ShortTermWindow) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.size
}

// Capacity returns the fixed capacity.
func (w *ShortTermWindow) Capacity() int {
	return w.capacity
}

func (w *ShortTermWindow) reset(records []*MemoryRecord) {
	w.buf = make([]*MemoryRecord, w.capacity)
	w.head = 0
	w.size = len(records)
	copy(w.buf, records)
}
