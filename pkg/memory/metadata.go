package memory

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// MetadataExtractor derives the fixed metadata tag set from raw text using
// deterministic pattern rules. It is pure: the same text always yields the
// same metadata, so it can run identically at write time and query time.
type MetadataExtractor struct {
	stopWords map[string]struct{}
}

// NewMetadataExtractor builds an extractor with the default rule set.
func NewMetadataExtractor() *MetadataExtractor {
	return &MetadataExtractor{stopWords: stopWordSet()}
}

var (
	turnPattern    = regexp.MustCompile(`\bturn\s+(\d+)\b`)
	ordinalPattern = regexp.MustCompile(`\b(first|second|third|fourth|fifth|sixth|seventh|eighth|ninth|tenth)\s+(turn|round|exchange)\b`)

	ordinalValues = map[string]int{
		"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
		"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
	}

	// Cues ordered by specificity; the first matching type wins.
	documentTypeCues = []struct {
		docType string
		cues    []string
	}{
		{"rebuttal", []string{"however", "on the contrary", "that is wrong", "i disagree", "counter", "rebut", "refute", "objection"}},
		{"evidence", []string{"according to", "studies show", "research shows", "data shows", "statistics", "source:", "cited", "for example", "the report"}},
		{"question", []string{"?", "what ", "why ", "how ", "when ", "where ", "who ", "did ", "would you", "could you"}},
		{"argument", []string{"because", "therefore", "thus", "it follows", "given that", "consequently", "hence"}},
		{"claim", []string{"i believe", "i think", "clearly", "obviously", "it is true", "we assert", "my position"}},
	}

	roleCues = []struct {
		role string
		cues []string
	}{
		{"proponent", []string{"proponent", "in favor", "supporting the motion", "pro side", "affirmative"}},
		{"opponent", []string{"opponent", "against the motion", "con side", "negative side", "opposing"}},
		{"moderator", []string{"moderator", "time's up", "next speaker", "opening statements", "closing statements"}},
	}

	positiveWords = map[string]struct{}{
		"good": {}, "great": {}, "benefit": {}, "beneficial": {}, "improve": {},
		"improves": {}, "positive": {}, "success": {}, "successful": {},
		"agree": {}, "support": {}, "strong": {}, "effective": {}, "safe": {},
	}
	negativeWords = map[string]struct{}{
		"bad": {}, "harm": {}, "harmful": {}, "risk": {}, "risks": {},
		"danger": {}, "dangerous": {}, "fail": {}, "failure": {}, "negative": {},
		"disagree": {}, "wrong": {}, "weak": {}, "flawed": {}, "unsafe": {},
	}

	importanceCues = []string{
		"crucial", "critical", "essential", "key point", "important",
		"fundamental", "decisive", "central",
	}
)

// Extract classifies text into the fixed metadata schema. Fields no rule
// can decide stay at their zero value.
func (e *MetadataExtractor) Extract(text string) Metadata {
	lower := strings.ToLower(text)

	md := Metadata{SchemaVersion: MetadataSchemaVersion}
	signals := 0

	if dt := matchCues(lower, documentTypeCues); dt != "" {
		md.DocumentType = dt
		signals++
	}
	if role := matchRole(lower); role != "" {
		md.Role = role
		signals++
	}
	if turn := extractTurn(lower); turn > 0 {
		md.Turn = turn
		signals++
	}
	if topic := e.extractTopic(lower); topic != "" {
		md.Topic = topic
		signals++
	}
	if s := extractSentiment(lower); s != "" {
		md.Sentiment = s
		signals++
	}

	md.Importance = extractImportance(lower)

	// Confidence reflects how many independent rules fired, capped below
	// certainty since all rules are heuristics.
	if signals > 0 {
		md.Confidence = 0.3 + 0.15*float64(signals)
		if md.Confidence > 0.9 {
			md.Confidence = 0.9
		}
	}

	return md
}

func matchCues(lower string, table []struct {
	docType string
	cues    []string
}) string {
	for _, entry := range table {
		for _, cue := range entry.cues {
			if strings.Contains(lower, cue) {
				return entry.docType
			}
		}
	}
	return ""
}

func matchRole(lower string) string {
	for _, entry := range roleCues {
		for _, cue := range entry.cues {
			if strings.Contains(lower, cue) {
				return entry.role
			}
		}
	}
	return ""
}

func extractTurn(lower string) int {
	if m := turnPattern.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	if m := ordinalPattern.FindStringSubmatch(lower); m != nil {
		return ordinalValues[m[1]]
	}
	return 0
}

// extractTopic labels the text with its most frequent substantive token.
// Frequency ties break alphabetically to keep extraction deterministic.
func (e *MetadataExtractor) extractTopic(lower string) string {
	counts := make(map[string]int)
	for _, field := range strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if len(field) < 4 {
			continue
		}
		if _, stop := e.stopWords[field]; stop {
			continue
		}
		counts[field]++
	}
	if len(counts) == 0 {
		return ""
	}

	tokens := make([]string, 0, len(counts))
	for tok := range counts {
		tokens = append(tokens, tok)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if counts[tokens[i]] != counts[tokens[j]] {
			return counts[tokens[i]] > counts[tokens[j]]
		}
		return tokens[i] < tokens[j]
	})
	return tokens[0]
}

func extractSentiment(lower string) string {
	var pos, neg int
	for _, field := range strings.Fields(lower) {
		field = strings.Trim(field, ".,!?;:\"'")
		if _, ok := positiveWords[field]; ok {
			pos++
		}
		if _, ok := negativeWords[field]; ok {
			neg++
		}
	}
	switch {
	case pos > neg:
		return "positive"
	case neg > pos:
		return "negative"
	default:
		return ""
	}
}

func extractImportance(lower string) float64 {
	score := 0.0
	for _, cue := range importanceCues {
		if strings.Contains(lower, cue) {
			score += 0.25
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}
