package memory

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"sync"
)

// VectorIndex is an exact brute-force cosine similarity index. Exact search
// keeps retrieval deterministic, which the benchmark harness depends on;
// corpora in the hundred-thousand range would want an ANN structure instead.
type VectorIndex struct {
	mu        sync.RWMutex
	dimension int
	vectors   map[string][]float32
	sessions  map[string]string
}

// NewVectorIndex creates an index for vectors of the given dimension.
func NewVectorIndex(dimension int) *VectorIndex {
	return &VectorIndex{
		dimension: dimension,
		vectors:   make(map[string][]float32),
		sessions:  make(map[string]string),
	}
}

// Add inserts or replaces a vector.
func (v *VectorIndex) Add(id, sessionID string, embedding []float32) error {
	if len(embedding) != v.dimension {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, v.dimension, len(embedding))
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.vectors[id] = embedding
	v.sessions[id] = sessionID
	return nil
}

// Remove drops a vector.
func (v *VectorIndex) Remove(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.vectors, id)
	delete(v.sessions, id)
}

// RemoveBySession drops all vectors for a session.
func (v *VectorIndex) RemoveBySession(sessionID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for id, sid := range v.sessions {
		if sid == sessionID {
			delete(v.vectors, id)
			delete(v.sessions, id)
		}
	}
}

// Rebuild reconstructs the index from the given records, discarding any
// state that no longer has a backing record. Called after batch deletions.
func (v *VectorIndex) Rebuild(records []*MemoryRecord) error {
	vectors := make(map[string][]float32, len(records))
	sessions := make(map[string]string, len(records))
	for _, r := range records {
		if len(r.Embedding) == 0 {
			continue
		}
		if len(r.Embedding) != v.dimension {
			return fmt.Errorf("%w: record %s has %d, index expects %d",
				ErrDimensionMismatch, r.ID, len(r.Embedding), v.dimension)
		}
		vectors[r.ID] = r.Embedding
		sessions[r.ID] = r.SessionID
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.vectors = vectors
	v.sessions = sessions
	return nil
}

// Search returns the topK most similar ids with cosine scores, best first.
// Ties break by id ascending so repeated searches over unchanged state
// return identical orderings.
func (v *VectorIndex) Search(query []float32, topK int, sessionID string) ([]string, []float64, error) {
	if len(query) != v.dimension {
		return nil, nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, v.dimension, len(query))
	}
	if topK <= 0 {
		return nil, nil, nil
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	type scored struct {
		id    string
		score float64
	}
	results := make([]scored, 0, len(v.vectors))
	for id, vec := range v.vectors {
		if sessionID != "" && v.sessions[id] != sessionID {
			continue
		}
		results = append(results, scored{id: id, score: cosineSimilarity(query, vec)})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].id < results[j].id
	})

	if topK > len(results) {
		topK = len(results)
	}
	ids := make([]string, topK)
	scores := make([]float64, topK)
	for i := 0; i < topK; i++ {
		ids[i] = results[i].id
		scores[i] = results[i].score
	}
	return ids, scores, nil
}

// Len returns the number of indexed vectors.
func (v *VectorIndex) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.vectors)
}

// Contains reports whether an id is indexed.
func (v *VectorIndex) Contains(id string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.vectors[id]
	return ok
}

// Save writes a binary snapshot of the index.
// Layout: [dimension:uint32][count:uint32] then per entry
// [idLen:uint16][id][sidLen:uint16][sid][vector:float32*dim].
func (v *VectorIndex) Save(path string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("vector index: save: %w", err)
	}
	defer f.Close()

	if err := binary.Write(f, binary.LittleEndian, uint32(v.dimension)); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(v.vectors))); err != nil {
		return err
	}

	for id, vec := range v.vectors {
		sid := v.sessions[id]
		if err := binary.Write(f, binary.LittleEndian, uint16(len(id))); err != nil {
			return err
		}
		if _, err := f.Write([]byte(id)); err != nil {
			return err
		}
		if err := binary.Write(f, binary.LittleEndian, uint16(len(sid))); err != nil {
			return err
		}
		if _, err := f.Write([]byte(sid)); err != nil {
			return err
		}
		if err := binary.Write(f, binary.LittleEndian, vec); err != nil {
			return err
		}
	}
	return nil
}

// Load replaces the index contents from a snapshot written by Save.
func (v *VectorIndex) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("vector index: load: %w", err)
	}
	defer f.Close()

	var dim, count uint32
	if err := binary.Read(f, binary.LittleEndian, &dim); err != nil {
		return err
	}
	if err := binary.Read(f, binary.LittleEndian, &count); err != nil {
		return err
	}
	if int(dim) != v.dimension {
		return fmt.Errorf("%w: snapshot has %d, index expects %d", ErrDimensionMismatch, dim, v.dimension)
	}

	vectors := make(map[string][]float32, count)
	sessions := make(map[string]string, count)

	for i := uint32(0); i < count; i++ {
		id, err := readLenPrefixed(f)
		if err != nil {
			return err
		}
		sid, err := readLenPrefixed(f)
		if err != nil {
			return err
		}
		vec := make([]float32, dim)
		if err := binary.Read(f, binary.LittleEndian, vec); err != nil {
			return err
		}
		vectors[id] = vec
		sessions[id] = sid
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.vectors = vectors
	v.sessions = sessions
	return nil
}

func readLenPrefixed(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
