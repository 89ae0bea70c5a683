package memory

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/arguendo/recall/config"
	"github.com/arguendo/recall/pkg/embedding"
	"github.com/arguendo/recall/pkg/logger"
)

// RecordSource resolves candidate ids back to their records. Implemented by
// MemoryStore; retrieval never mutates through it.
type RecordSource interface {
	GetRecord(id string) (*MemoryRecord, bool)
}

// Strategy ranks fused candidates according to one retrieval mode.
type Strategy interface {
	// Name identifies the mode this strategy implements.
	Name() Mode

	// Rank orders candidates and truncates to topK. The second return is
	// the number of candidates blended back past a starving filter, zero
	// for strategies that never filter.
	Rank(candidates []RetrievalCandidate, intent Metadata, topK int) ([]RetrievalCandidate, int)
}

// RetrieverConfig carries the per-instance retrieval settings. The scalar
// tunables (vector weight, similarity threshold) live in the shared
// hot-swappable cell instead.
type RetrieverConfig struct {
	// CandidateMultiplier widens the fusion pool to multiplier*topK.
	CandidateMultiplier int

	// MinCandidatePool is the floor of the widened pool.
	MinCandidatePool int

	// PrecisionFiltering gates the precision strategy. Explicitly required
	// at config load; there is no implicit default.
	PrecisionFiltering bool
}

// AdaptiveRetriever orchestrates classification, hybrid fusion, and
// mode-dependent ranking. It is stateless across calls: the mode is
// recomputed for every query and nothing is cached.
type AdaptiveRetriever struct {
	vector   *VectorIndex
	lexical  *LexicalIndex
	embedder embedding.Provider
	records  RecordSource
	tunables *config.Tunables
	cfg      RetrieverConfig
	observer BranchObserver
	log      logger.Logger

	baseline  Strategy
	precision Strategy
}

// NewAdaptiveRetriever wires a retriever over the given indexes and record
// source. A nil observer or logger falls back to no-ops.
func NewAdaptiveRetriever(
	vector *VectorIndex,
	lexical *LexicalIndex,
	embedder embedding.Provider,
	records RecordSource,
	tunables *config.Tunables,
	cfg RetrieverConfig,
	observer BranchObserver,
	log logger.Logger,
) *AdaptiveRetriever {
	if observer == nil {
		observer = NopObserver{}
	}
	if log == nil {
		log = logger.Global()
	}
	if cfg.CandidateMultiplier < 2 {
		cfg.CandidateMultiplier = 3
	}
	if cfg.MinCandidatePool <= 0 {
		cfg.MinCandidatePool = 30
	}

	return &AdaptiveRetriever{
		vector:    vector,
		lexical:   lexical,
		embedder:  embedder,
		records:   records,
		tunables:  tunables,
		cfg:       cfg,
		observer:  observer,
		log:       log,
		baseline:  baselineStrategy{},
		precision: precisionStrategy{},
	}
}

// Retrieve returns the topK ranked candidates for the query. Read-path
// failures degrade: a transient index or embedding failure is retried once,
// and if both signals are unavailable the result is an empty list, never an
// error, since queries can legitimately have no relevant history.
func (r *AdaptiveRetriever) Retrieve(ctx context.Context, query string, topK int, sessionID string) ([]RetrievalCandidate, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrInvalidQuery
	}
	if topK <= 0 {
		return nil, ErrInvalidQuery
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cls := Classify(query)
	mode := cls.Mode
	if mode == ModePrecision && !r.cfg.PrecisionFiltering {
		// The flag is explicit configuration; downgrading is logged loudly
		// so disabled filtering can never masquerade as a tuning result.
		r.log.InfoContext(ctx, "precision filtering disabled, downgrading to baseline",
			"query_hits", cls.Hits,
		)
		mode = ModeBaseline
	}
	r.observer.ModeSelected(mode)

	fetchK := topK * r.cfg.CandidateMultiplier
	if fetchK < r.cfg.MinCandidatePool {
		fetchK = r.cfg.MinCandidatePool
	}

	candidates := r.fusedCandidates(ctx, query, fetchK, sessionID)
	if len(candidates) == 0 {
		return []RetrievalCandidate{}, nil
	}

	intent := queryIntent(query)

	strategy := r.baseline
	if mode == ModePrecision {
		strategy = r.precision
	}
	ranked, blended := strategy.Rank(candidates, intent, topK)
	if blended > 0 {
		r.observer.PrecisionBlendback(blended)
		r.log.InfoContext(ctx, "precision filter starved results, blended unfiltered candidates",
			"blended", blended,
			"top_k", topK,
		)
	}
	return ranked, nil
}

// fusedCandidates runs both index searches over the widened pool and fuses
// them. Either signal may be missing; both missing yields nil.
func (r *AdaptiveRetriever) fusedCandidates(ctx context.Context, query string, fetchK int, sessionID string) []RetrievalCandidate {
	t := r.tunables.Load()

	var (
		wg          sync.WaitGroup
		vecIDs      []string
		vecScores   []float64
		lexIDs      []string
		lexScores   []float64
		vecSearchOK bool
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		queryVec, err := r.embedQuery(ctx, query)
		if err != nil {
			r.log.WarnContext(ctx, "query embedding unavailable, vector signal dropped", "error", err)
			return
		}
		ids, scores, err := r.vector.Search(queryVec, fetchK, sessionID)
		if err != nil {
			// Retry once; a second failure drops the vector signal.
			ids, scores, err = r.vector.Search(queryVec, fetchK, sessionID)
			if err != nil {
				r.log.WarnContext(ctx, "vector search failed twice, vector signal dropped", "error", err)
				return
			}
		}
		vecIDs, vecScores = ids, scores
		vecSearchOK = true
	}()
	go func() {
		defer wg.Done()
		lexIDs, lexScores = r.lexical.Search(query, fetchK, sessionID)
	}()
	wg.Wait()

	if t.SimilarityThreshold > 0 && vecSearchOK {
		vecIDs, vecScores = applyThreshold(vecIDs, vecScores, t.SimilarityThreshold)
	}

	fused, degenerate := FuseScores(vecIDs, vecScores, lexIDs, lexScores, t.VectorWeight)
	if degenerate {
		r.observer.FusionFallback()
		r.log.InfoContext(ctx, "degenerate lexical score range, fused ranking fell back to pure vector",
			"lexical_candidates", len(lexIDs),
		)
	}

	candidates := make([]RetrievalCandidate, 0, len(fused))
	missing := 0
	for _, f := range fused {
		record, ok := r.records.GetRecord(f.id)
		if !ok {
			missing++
			continue
		}
		candidates = append(candidates, RetrievalCandidate{
			ID:           f.id,
			Text:         record.Text,
			VectorScore:  f.vectorScore,
			LexicalScore: f.lexicalScore,
			FusedScore:   f.fused,
			Metadata:     record.Metadata,
			CreatedAt:    record.CreatedAt,
			Seq:          record.Seq,
		})
	}
	if missing > 0 {
		r.observer.IndexInconsistency(missing)
		r.log.WarnContext(ctx, "index returned ids with no backing record",
			"missing", missing,
		)
	}
	return candidates
}

// embedQuery retries once on a transient provider failure.
func (r *AdaptiveRetriever) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err == nil {
		return vec, nil
	}
	if !errors.Is(err, embedding.ErrModelUnavailable) {
		return nil, err
	}
	r.observer.EmbeddingRetry()
	return r.embedder.Embed(ctx, query)
}

func applyThreshold(ids []string, scores []float64, threshold float64) ([]string, []float64) {
	outIDs := ids[:0:0]
	outScores := scores[:0:0]
	for i, id := range ids {
		if scores[i] >= threshold {
			outIDs = append(outIDs, id)
			outScores = append(outScores, scores[i])
		}
	}
	return outIDs, outScores
}

// baselineStrategy returns the fused ranking untouched.
type baselineStrategy struct{}

func (baselineStrategy) Name() Mode { return ModeBaseline }

func (baselineStrategy) Rank(candidates []RetrievalCandidate, _ Metadata, topK int) ([]RetrievalCandidate, int) {
	out := append([]RetrievalCandidate(nil), candidates...)
	sortCandidates(out)
	if topK < len(out) {
		out = out[:topK]
	}
	return out, 0
}

// precisionStrategy prunes candidates whose metadata contradicts the query
// intent and boosts aligned ones. If pruning starves the set below topK,
// the highest-fused unfiltered candidates are blended back so precision
// never returns fewer results than baseline would.
type precisionStrategy struct{}

func (precisionStrategy) Name() Mode { return ModePrecision }

func (precisionStrategy) Rank(candidates []RetrievalCandidate, intent Metadata, topK int) ([]RetrievalCandidate, int) {
	kept := make([]RetrievalCandidate, 0, len(candidates))
	excluded := make([]RetrievalCandidate, 0)

	for _, c := range candidates {
		matches, mismatches := intentAlignment(c.Metadata, intent)
		if mismatches > 0 {
			excluded = append(excluded, c)
			continue
		}
		// Boost keeps relative fused order among equally aligned candidates.
		c.FusedScore += 0.15 * float64(matches)
		kept = append(kept, c)
	}

	sortCandidates(kept)

	blended := 0
	if len(kept) < topK && len(excluded) > 0 {
		sortCandidates(excluded)
		for _, c := range excluded {
			if len(kept) >= topK {
				break
			}
			kept = append(kept, c)
			blended++
		}
	}

	if topK < len(kept) {
		kept = kept[:topK]
	}
	return kept, blended
}

var (
	explicitTopicPattern = regexp.MustCompile(`(?:about|regarding|concerning|on the topic of|related to)\s+(?:the\s+)?([a-z0-9]{4,})`)
	queryStopWords       = stopWordSet()
)

// queryIntent derives filter alignment targets from what the query
// explicitly mentions. It deliberately does not reuse the write-time
// document-type classification: a query phrased as a question is asking
// about records, not asking for question-type records.
func queryIntent(query string) Metadata {
	lower := strings.ToLower(query)

	md := Metadata{SchemaVersion: MetadataSchemaVersion}
	md.Role = matchRole(lower)
	md.Turn = extractTurn(lower)

	for _, dt := range []string{"rebuttal", "evidence", "argument", "claim"} {
		if strings.Contains(lower, dt) {
			md.DocumentType = dt
			break
		}
	}

	if m := explicitTopicPattern.FindStringSubmatch(lower); m != nil {
		if _, stop := queryStopWords[m[1]]; !stop {
			md.Topic = m[1]
		}
	}
	return md
}

// intentAlignment compares candidate metadata against query intent on the
// fields both sides actually set.
func intentAlignment(md, intent Metadata) (matches, mismatches int) {
	compare := func(got, want string) {
		if want == "" || got == "" {
			return
		}
		if got == want {
			matches++
		} else {
			mismatches++
		}
	}
	compare(md.Role, intent.Role)
	compare(md.Topic, intent.Topic)
	compare(md.DocumentType, intent.DocumentType)

	if intent.Turn != 0 && md.Turn != 0 {
		if md.Turn == intent.Turn {
			matches++
		} else {
			mismatches++
		}
	}
	return matches, mismatches
}

func sortCandidates(cs []RetrievalCandidate) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].FusedScore != cs[j].FusedScore {
			return cs[i].FusedScore > cs[j].FusedScore
		}
		return cs[i].ID < cs[j].ID
	})
}
