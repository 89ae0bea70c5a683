package memory

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// LexicalIndex is a BM25-scored inverted index over record text. Scores from
// a very small or term-uniform corpus may cluster in a near-zero range; that
// is a documented degenerate case the fusion layer detects, not an error.
type LexicalIndex struct {
	mu sync.RWMutex

	k1 float64
	b  float64

	postings  map[string]map[string]struct{} // term -> record ids
	termFreqs map[string]map[string]int      // record id -> term counts
	docLens   map[string]int                 // record id -> token count
	sessions  map[string]string              // record id -> session id

	totalDocs int
	totalLen  int

	stopWords map[string]struct{}
}

// NewLexicalIndex creates an index with the given BM25 parameters.
// Conventional values are k1 in [1.2, 2.0] and b = 0.75.
func NewLexicalIndex(k1, b float64) *LexicalIndex {
	return &LexicalIndex{
		k1:        k1,
		b:         b,
		postings:  make(map[string]map[string]struct{}),
		termFreqs: make(map[string]map[string]int),
		docLens:   make(map[string]int),
		sessions:  make(map[string]string),
		stopWords: stopWordSet(),
	}
}

// Add indexes or re-indexes a record's text.
func (idx *LexicalIndex) Add(id, sessionID, text string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.termFreqs[id]; exists {
		idx.removeLocked(id)
	}

	tokens := idx.tokenize(text)
	freqs := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		freqs[tok]++
	}

	idx.termFreqs[id] = freqs
	idx.docLens[id] = len(tokens)
	idx.sessions[id] = sessionID
	idx.totalDocs++
	idx.totalLen += len(tokens)

	for term := range freqs {
		if idx.postings[term] == nil {
			idx.postings[term] = make(map[string]struct{})
		}
		idx.postings[term][id] = struct{}{}
	}
}

// Remove drops a record from the index.
func (idx *LexicalIndex) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)
}

func (idx *LexicalIndex) removeLocked(id string) {
	freqs, exists := idx.termFreqs[id]
	if !exists {
		return
	}

	for term := range freqs {
		if docs, ok := idx.postings[term]; ok {
			delete(docs, id)
			if len(docs) == 0 {
				delete(idx.postings, term)
			}
		}
	}

	idx.totalLen -= idx.docLens[id]
	idx.totalDocs--
	delete(idx.termFreqs, id)
	delete(idx.docLens, id)
	delete(idx.sessions, id)
}

// RemoveBySession drops every record indexed under a session.
func (idx *LexicalIndex) RemoveBySession(sessionID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var doomed []string
	for id, sid := range idx.sessions {
		if sid == sessionID {
			doomed = append(doomed, id)
		}
	}
	for _, id := range doomed {
		idx.removeLocked(id)
	}
}

// Clear drops everything.
func (idx *LexicalIndex) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.postings = make(map[string]map[string]struct{})
	idx.termFreqs = make(map[string]map[string]int)
	idx.docLens = make(map[string]int)
	idx.sessions = make(map[string]string)
	idx.totalDocs = 0
	idx.totalLen = 0
}

// Search returns the topK BM25-ranked record ids for the query. A non-empty
// sessionID restricts results to that session. Ties break by id ascending so
// repeated searches over unchanged state return identical orderings.
func (idx *LexicalIndex) Search(query string, topK int, sessionID string) ([]string, []float64) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.totalDocs == 0 || topK <= 0 {
		return nil, nil
	}

	queryTokens := idx.tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	avgLen := float64(idx.totalLen) / float64(idx.totalDocs)

	candidates := make(map[string]struct{})
	for _, tok := range queryTokens {
		for id := range idx.postings[tok] {
			if sessionID != "" && idx.sessions[id] != sessionID {
				continue
			}
			candidates[id] = struct{}{}
		}
	}

	type scored struct {
		id    string
		score float64
	}
	results := make([]scored, 0, len(candidates))
	for id := range candidates {
		if s := idx.scoreLocked(id, queryTokens, avgLen); s > 0 {
			results = append(results, scored{id: id, score: s})
		}
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
	return ids, scores
}

// Len returns the number of indexed records.
func (idx *LexicalIndex) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.totalDocs
}

func (idx *LexicalIndex) scoreLocked(id string, queryTokens []string, avgLen float64) float64 {
	docLen := float64(idx.docLens[id])
	freqs := idx.termFreqs[id]

	var score float64
	for _, term := range queryTokens {
		tf := float64(freqs[term])
		if tf == 0 {
			continue
		}

		n := float64(len(idx.postings[term]))
		idf := math.Log((float64(idx.totalDocs)-n+0.5)/(n+0.5) + 1.0)

		score += idf * tf * (idx.k1 + 1) /
			(tf + idx.k1*(1-idx.b+idx.b*docLen/avgLen))
	}
	return score
}

// tokenize lowercases, strips punctuation, drops stop words, and treats each
// CJK character as its own token.
func (idx *LexicalIndex) tokenize(text string) []string {
	text = strings.ToLower(text)

	tokens := make([]string, 0, len(text)/4)
	var current strings.Builder

	flush := func() {
		if current.Len() == 0 {
			return
		}
		tok := current.String()
		current.Reset()
		if _, stop := idx.stopWords[tok]; !stop {
			tokens = append(tokens, tok)
		}
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()

	return tokens
}

func stopWordSet() map[string]struct{} {
	words := []string{
		"a", "an", "the", "is", "are", "was", "were", "be", "been", "being",
		"have", "has", "had", "do", "does", "did", "will", "would", "could",
		"should", "may", "might", "shall", "can", "need", "ought", "used",
		"to", "of", "in", "for", "on", "with", "at", "by", "from", "as",
		"into", "through", "during", "before", "after", "above", "below",
		"between", "out", "off", "over", "under", "again", "further", "then",
		"once", "and", "but", "or", "nor", "not", "so", "yet", "both",
		"either", "neither", "each", "every", "all", "any", "few", "more",
		"most", "other", "some", "such", "no", "own", "same", "than",
		"too", "very", "just", "because", "if", "when", "where", "how",
		"what", "which", "who", "whom", "this", "that", "these", "those",
		"i", "me", "my", "myself", "we", "our", "ours", "you", "your",
		"yours", "he", "him", "his", "she", "her", "hers", "it", "its",
		"they", "them", "their", "theirs",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
