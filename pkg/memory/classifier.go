package memory

import (
	"regexp"
	"strings"
)

// Mode is the retrieval strategy chosen per query.
type Mode string

const (
	// ModeBaseline runs unfiltered hybrid ranking, favoring recall breadth.
	ModeBaseline Mode = "baseline"

	// ModePrecision applies metadata filtering to suppress misaligned
	// candidates.
	ModePrecision Mode = "precision"
)

// Trigger categories the classifier scores independently. Matches across
// distinct categories are stronger evidence than repeats within one.
const (
	triggerRole     = "role"
	triggerTopic    = "topic"
	triggerDocType  = "doc_type"
	triggerTemporal = "temporal"
	triggerFilter   = "filter"
)

var (
	rolePhrases = []string{
		"proponent", "opponent", "moderator", "the speaker",
		"the assistant", "the user",
	}

	docTypePhrases = []string{
		"argument", "evidence", "rebuttal", "question", "claim",
		"citation", "source",
	}

	temporalPhrases = []string{
		"earlier", "previously", "at the beginning", "at the start",
		"last turn", "before that",
	}

	filterPhrases = []string{
		"specifically", "only the", "exactly", "precisely",
		"in particular", "just the", "nothing else",
	}

	recallPhrases = []string{
		"tell me about", "explain", "overview", "summarize", "summary",
		"everything", "in general", "broadly", "what do you know",
	}

	topicRefPattern = regexp.MustCompile(`\b(about|regarding|concerning|on the topic of|related to)\s+\w`)
)

// Classification is the classifier verdict with the evidence behind it,
// kept so callers can log which triggers fired.
type Classification struct {
	Mode        Mode
	Hits        int
	Categories  []string
	RecallHits  int
	FilterMatch bool
}

// Classify decides the retrieval mode for a query. The rule is deliberately
// conservative to avoid over-filtering: precision requires three or more
// trigger hits, or hits spanning two distinct categories, or an explicit
// filter phrase. Everything else is baseline. Pure function.
func Classify(query string) Classification {
	lower := strings.ToLower(query)

	c := Classification{Mode: ModeBaseline}
	categories := make(map[string]struct{})

	count := func(category string, phrases []string) {
		for _, p := range phrases {
			if strings.Contains(lower, p) {
				c.Hits++
				categories[category] = struct{}{}
			}
		}
	}

	count(triggerRole, rolePhrases)
	count(triggerDocType, docTypePhrases)
	count(triggerTemporal, temporalPhrases)

	if turnPattern.MatchString(lower) || ordinalPattern.MatchString(lower) {
		c.Hits++
		categories[triggerTemporal] = struct{}{}
	}
	if topicRefPattern.MatchString(lower) {
		c.Hits++
		categories[triggerTopic] = struct{}{}
	}

	for _, p := range filterPhrases {
		if strings.Contains(lower, p) {
			c.Hits++
			c.FilterMatch = true
			categories[triggerFilter] = struct{}{}
		}
	}

	for _, p := range recallPhrases {
		if strings.Contains(lower, p) {
			c.RecallHits++
		}
	}

	for cat := range categories {
		c.Categories = append(c.Categories, cat)
	}

	if c.FilterMatch || c.Hits >= 3 || len(categories) >= 2 {
		c.Mode = ModePrecision
	}
	return c
}
