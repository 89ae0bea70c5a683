// Package bench runs scripted retrieval scenarios against a memory store
// and scores them with precision, recall, F1, and relevance. Baselines are
// only trusted when measured across multiple independent cold-start runs;
// single-run numbers have historically been dominated by index-state
// effects.
package bench

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/arguendo/recall/pkg/logger"
	"github.com/arguendo/recall/pkg/memory"
)

// MinBaselineRuns is the smallest run count from which a baseline report
// may be established.
const MinBaselineRuns = 5

// ErrInsufficientRuns rejects baseline measurements below MinBaselineRuns.
var ErrInsufficientRuns = errors.New("bench: baseline requires at least 5 independent runs")

// ScenarioRecord is one record the scenario seeds into the store.
type ScenarioRecord struct {
	Text     string
	Metadata memory.Metadata
}

// Scenario is one scripted retrieval case. Expected holds indices into
// Records, since record ids are generated at write time.
type Scenario struct {
	Name               string
	Records            []ScenarioRecord
	Query              string
	TopK               int
	Expected           []int
	RelevanceThreshold float64
	SessionID          string
}

// ScenarioResult carries the scored outcome of one scenario in one run.
type ScenarioResult struct {
	Name      string  `json:"name"`
	Retrieved int     `json:"retrieved"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Relevance float64 `json:"relevance"`
	Passed    bool    `json:"passed"`
}

// RunResult is one full pass over a scenario set.
type RunResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Aggregate Aggregate        `json:"aggregate"`
}

// Aggregate averages scenario metrics over one run.
type Aggregate struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Relevance float64 `json:"relevance"`
	Passed    int     `json:"passed"`
	Total     int     `json:"total"`
}

// StoreFactory yields a fresh, empty store. The harness builds a new store
// per scenario so no state leaks between cases, and a new one per run so
// every run is a true cold start.
type StoreFactory func() (*memory.MemoryStore, error)

// Harness executes scenario batteries against factory-built stores.
type Harness struct {
	newStore StoreFactory
	log      logger.Logger
}

// NewHarness wires a harness over the given store factory.
func NewHarness(newStore StoreFactory, log logger.Logger) *Harness {
	if log == nil {
		log = logger.Global()
	}
	return &Harness{newStore: newStore, log: log}
}

// Run executes each scenario once against its own fresh store.
func (h *Harness) Run(ctx context.Context, scenarios []Scenario) (*RunResult, error) {
	result := &RunResult{Scenarios: make([]ScenarioResult, 0, len(scenarios))}

	for _, sc := range scenarios {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scored, err := h.runScenario(ctx, sc)
		if err != nil {
			return nil, fmt.Errorf("bench: scenario %q: %w", sc.Name, err)
		}
		result.Scenarios = append(result.Scenarios, scored)
	}

	result.Aggregate = aggregate(result.Scenarios)
	return result, nil
}

func (h *Harness) runScenario(ctx context.Context, sc Scenario) (ScenarioResult, error) {
	if len(sc.Records) == 0 && len(sc.Expected) > 0 {
		return ScenarioResult{}, errors.New("expected ids but no records to write")
	}
	for _, idx := range sc.Expected {
		if idx < 0 || idx >= len(sc.Records) {
			return ScenarioResult{}, fmt.Errorf("expected index %d out of range", idx)
		}
	}

	topK := sc.TopK
	if topK <= 0 {
		topK = 5
	}
	sessionID := sc.SessionID
	if sessionID == "" {
		sessionID = "bench"
	}

	store, err := h.newStore()
	if err != nil {
		return ScenarioResult{}, fmt.Errorf("build store: %w", err)
	}
	defer store.Close()

	ids := make([]string, len(sc.Records))
	for i, r := range sc.Records {
		id, err := store.Write(ctx, r.Text, r.Metadata, sessionID)
		if err != nil {
			return ScenarioResult{}, fmt.Errorf("write record %d: %w", i, err)
		}
		ids[i] = id
	}

	expected := make(map[string]struct{}, len(sc.Expected))
	for _, idx := range sc.Expected {
		expected[ids[idx]] = struct{}{}
	}

	retrieved, err := store.Search(ctx, sc.Query, topK, sessionID)
	if err != nil {
		return ScenarioResult{}, fmt.Errorf("search: %w", err)
	}

	return score(sc, retrieved, expected), nil
}

// score computes the scenario metrics. Relevance is the mean fused
// similarity among true positives: how strongly the correctly retrieved
// records actually matched, not just whether they appeared.
func score(sc Scenario, retrieved []memory.RetrievalCandidate, expected map[string]struct{}) ScenarioResult {
	r := ScenarioResult{Name: sc.Name, Retrieved: len(retrieved)}

	truePositives := 0
	relevanceSum := 0.0
	for _, c := range retrieved {
		if _, ok := expected[c.ID]; !ok {
			continue
		}
		truePositives++
		relevanceSum += c.FusedScore
	}

	if len(retrieved) > 0 {
		r.Precision = float64(truePositives) / float64(len(retrieved))
	}
	if len(expected) > 0 {
		r.Recall = float64(truePositives) / float64(len(expected))
	}
	if r.Precision+r.Recall > 0 {
		r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
	}
	if truePositives > 0 {
		r.Relevance = relevanceSum / float64(truePositives)
	}

	r.Passed = r.Relevance >= sc.RelevanceThreshold
	return r
}

func aggregate(results []ScenarioResult) Aggregate {
	agg := Aggregate{Total: len(results)}
	if len(results) == 0 {
		return agg
	}
	for _, r := range results {
		agg.Precision += r.Precision
		agg.Recall += r.Recall
		agg.F1 += r.F1
		agg.Relevance += r.Relevance
		if r.Passed {
			agg.Passed++
		}
	}
	n := float64(len(results))
	agg.Precision /= n
	agg.Recall /= n
	agg.F1 /= n
	agg.Relevance /= n
	return agg
}

// Distribution summarizes one metric across runs.
type Distribution struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// BaselineReport is the multi-run stability measurement.
type BaselineReport struct {
	Runs      int          `json:"runs"`
	Precision Distribution `json:"precision"`
	Recall    Distribution `json:"recall"`
	F1        Distribution `json:"f1"`
	Relevance Distribution `json:"relevance"`
	PerRun    []Aggregate  `json:"per_run"`
}

// Baseline runs the scenario set `runs` times from cold start and reports
// the distribution of the aggregate metrics. Fewer than MinBaselineRuns
// runs is rejected outright: a single measurement is not a baseline.
func (h *Harness) Baseline(ctx context.Context, scenarios []Scenario, runs int) (*BaselineReport, error) {
	if runs < MinBaselineRuns {
		return nil, fmt.Errorf("%w: got %d", ErrInsufficientRuns, runs)
	}

	report := &BaselineReport{Runs: runs, PerRun: make([]Aggregate, 0, runs)}
	precision := make([]float64, 0, runs)
	recall := make([]float64, 0, runs)
	f1 := make([]float64, 0, runs)
	relevance := make([]float64, 0, runs)

	for i := 0; i < runs; i++ {
		result, err := h.Run(ctx, scenarios)
		if err != nil {
			return nil, fmt.Errorf("bench: baseline run %d: %w", i+1, err)
		}
		report.PerRun = append(report.PerRun, result.Aggregate)
		precision = append(precision, result.Aggregate.Precision)
		recall = append(recall, result.Aggregate.Recall)
		f1 = append(f1, result.Aggregate.F1)
		relevance = append(relevance, result.Aggregate.Relevance)
	}

	report.Precision = distribution(precision)
	report.Recall = distribution(recall)
	report.F1 = distribution(f1)
	report.Relevance = distribution(relevance)

	h.log.Info("baseline established",
		"runs", runs,
		"relevance_median", report.Relevance.Median,
		"relevance_stddev", report.Relevance.StdDev,
		"f1_median", report.F1.Median,
	)
	return report, nil
}

func distribution(values []float64) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	d := Distribution{Min: sorted[0], Max: sorted[len(sorted)-1]}

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	d.Mean = sum / float64(len(sorted))

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		d.Median = sorted[mid]
	} else {
		d.Median = (sorted[mid-1] + sorted[mid]) / 2
	}

	if len(sorted) > 1 {
		variance := 0.0
		for _, v := range sorted {
			diff := v - d.Mean
			variance += diff * diff
		}
		d.StdDev = math.Sqrt(variance / float64(len(sorted)-1))
	}
	return d
}
