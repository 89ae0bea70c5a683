package bench

import (
	"fmt"

	"github.com/arguendo/recall/pkg/memory"
)

// DefaultScenarios is the standard battery used for baseline measurement.
// The cases cover turn/role targeting, topic separation, long-term
// retention past the short-term window, empty-store behavior, and
// near-duplicate disambiguation.
func DefaultScenarios() []Scenario {
	retention := make([]ScenarioRecord, 0, 50)
	for i := 0; i < 5; i++ {
		retention = append(retention, ScenarioRecord{
			Text: fmt.Sprintf("Glacier retreat in the Alps accelerated sharply, measurement %d.", i),
		})
	}
	for i := 0; i < 45; i++ {
		retention = append(retention, ScenarioRecord{
			Text: fmt.Sprintf("Procedural note %d on session scheduling.", i),
		})
	}

	return []Scenario{
		{
			Name: "turn-and-role-targeting",
			Records: []ScenarioRecord{
				{Text: "Carbon pricing shifts investment toward clean generation.", Metadata: memory.Metadata{Role: "proponent", Turn: 1}},
				{Text: "Carbon pricing raises consumer costs without cutting emissions.", Metadata: memory.Metadata{Role: "opponent", Turn: 2}},
				{Text: "Both sides should address the leakage problem directly.", Metadata: memory.Metadata{Role: "moderator", Turn: 3}},
				{Text: "Border adjustments solve the leakage objection.", Metadata: memory.Metadata{Role: "proponent", Turn: 4}},
			},
			Query:              "What did the proponent say in turn 1?",
			TopK:               2,
			Expected:           []int{0},
			RelevanceThreshold: 0.1,
		},
		{
			Name: "topic-separation",
			Records: []ScenarioRecord{
				{Text: "Quantum computers use qubits to explore superposition states."},
				{Text: "Error correction dominates the cost of quantum hardware."},
				{Text: "Quantum annealing targets optimization problems."},
				{Text: "Sourdough starters need regular feeding to stay active."},
				{Text: "Proofing time controls the crumb structure of bread."},
				{Text: "A hot oven and steam give the crust its color."},
			},
			Query:              "quantum computers qubits error correction",
			TopK:               3,
			Expected:           []int{0, 1, 2},
			RelevanceThreshold: 0.1,
		},
		{
			Name:               "long-term-retention",
			Records:            retention,
			Query:              "glacier retreat in the alps",
			TopK:               5,
			Expected:           []int{0, 1, 2, 3, 4},
			RelevanceThreshold: 0.1,
		},
		{
			Name:               "empty-store",
			Records:            nil,
			Query:              "anything at all",
			TopK:               5,
			Expected:           nil,
			RelevanceThreshold: 0,
		},
		{
			Name: "near-duplicate-disambiguation",
			Records: []ScenarioRecord{
				{Text: "The council approved the zoning change after the traffic study."},
				{Text: "The council approved the zoning change after the noise complaints."},
			},
			Query:              "zoning change traffic study",
			TopK:               1,
			Expected:           []int{0},
			RelevanceThreshold: 0.1,
		},
	}
}
