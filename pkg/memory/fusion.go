package memory

import "sort"

// fusedScore pairs a record id with its combined relevance.
type fusedScore struct {
	id           string
	vectorScore  float64
	lexicalScore float64
	fused        float64
}

// FuseScores combines vector and lexical rankings into one ranked list.
// Both score lists are min-max normalized independently, then combined as
// vectorWeight*normVector + (1-vectorWeight)*normLexical. An id present in
// only one list scores 0 for the missing modality.
//
// Degenerate-input policy: if the lexical scores have zero range, the fused
// score is the normalized vector score alone. The returned flag reports that
// fallback so callers can make it observable.
func FuseScores(vectorIDs []string, vectorScores []float64, lexicalIDs []string, lexicalScores []float64, vectorWeight float64) ([]fusedScore, bool) {
	if vectorWeight < 0 {
		vectorWeight = 0
	}
	if vectorWeight > 1 {
		vectorWeight = 1
	}

	normVec, _ := minMaxNormalize(vectorIDs, vectorScores)
	normLex, lexDegenerate := minMaxNormalize(lexicalIDs, lexicalScores)

	seen := make(map[string]*fusedScore, len(vectorIDs)+len(lexicalIDs))
	ordered := make([]*fusedScore, 0, len(vectorIDs)+len(lexicalIDs))

	record := func(id string) *fusedScore {
		if f, ok := seen[id]; ok {
			return f
		}
		f := &fusedScore{id: id}
		seen[id] = f
		ordered = append(ordered, f)
		return f
	}

	for i, id := range vectorIDs {
		f := record(id)
		f.vectorScore = vectorScores[i]
	}
	for i, id := range lexicalIDs {
		f := record(id)
		f.lexicalScore = lexicalScores[i]
	}

	for _, f := range ordered {
		nv := normVec[f.id]
		if lexDegenerate {
			f.fused = nv
			continue
		}
		f.fused = vectorWeight*nv + (1-vectorWeight)*normLex[f.id]
	}

	out := make([]fusedScore, len(ordered))
	for i, f := range ordered {
		out[i] = *f
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].fused != out[j].fused {
			return out[i].fused > out[j].fused
		}
		return out[i].id < out[j].id
	})

	// Only report the lexical fallback when lexical input existed; an empty
	// list is just a missing modality, not a degenerate score range.
	return out, lexDegenerate && len(lexicalIDs) > 0
}

// minMaxNormalize maps scores onto [0,1]. The second return reports a zero
// score range, in which case all present ids normalize to 1 so ranking
// within the degenerate list is preserved as a flat signal.
func minMaxNormalize(ids []string, scores []float64) (map[string]float64, bool) {
	out := make(map[string]float64, len(ids))
	if len(ids) == 0 {
		return out, true
	}

	min, max := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}

	if max == min {
		for _, id := range ids {
			out[id] = 1
		}
		return out, true
	}

	for i, id := range ids {
		out[id] = (scores[i] - min) / (max - min)
	}
	return out, false
}
