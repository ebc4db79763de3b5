package index

import (
	"sort"
	"strings"
	"unicode"
)

const (
	tokenWeight  = 5
	maxFreqBonus = 10
	minTokenLen  = 3
)

// Tokenize splits a query into lower-cased alphanumeric tokens of length >=3,
// deduplicated with order preserved.
func Tokenize(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	var out []string
	for _, f := range fields {
		if len(f) < minTokenLen {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Score rates candidate text against query tokens. Each token present as a
// substring adds a fixed weight plus a frequency bonus capped at 10
// occurrences, so repeated terms cannot run away with the ranking.
func Score(text string, tokens []string) int {
	lower := strings.ToLower(text)
	score := 0
	for _, tok := range tokens {
		n := strings.Count(lower, tok)
		if n == 0 {
			continue
		}
		if n > maxFreqBonus {
			n = maxFreqBonus
		}
		score += tokenWeight + n
	}
	return score
}

type scored struct {
	pos   int
	score int
}

func rank(scores []scored, topK int) []scored {
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if topK > 0 && len(scores) > topK {
		scores = scores[:topK]
	}
	return scores
}

// RetrieveTextChunks returns the topK chunks ranked by query score.
// Zero-score chunks are excluded entirely; ties keep original order.
func (idx *DocumentIndex) RetrieveTextChunks(query string, topK int) []TextChunk {
	tokens := Tokenize(query)
	var scores []scored
	for i, c := range idx.Chunks {
		if s := Score(c.Text, tokens); s > 0 {
			scores = append(scores, scored{pos: i, score: s})
		}
	}
	scores = rank(scores, topK)
	out := make([]TextChunk, 0, len(scores))
	for _, sc := range scores {
		out = append(out, idx.Chunks[sc.pos])
	}
	return out
}

// RetrieveImageCandidates returns the topK catalog entries ranked by query
// score over the entry's searchable text. Zero-score entries are excluded.
func (idx *DocumentIndex) RetrieveImageCandidates(query string, topK int) []ImageCatalogEntry {
	tokens := Tokenize(query)
	entries := idx.ImagesInOrder()
	var scores []scored
	for i, e := range entries {
		if s := Score(e.searchText(), tokens); s > 0 {
			scores = append(scores, scored{pos: i, score: s})
		}
	}
	scores = rank(scores, topK)
	out := make([]ImageCatalogEntry, 0, len(scores))
	for _, sc := range scores {
		out = append(out, entries[sc.pos])
	}
	return out
}

func (e ImageCatalogEntry) searchText() string {
	parts := []string{e.Summary, e.Description, e.OCRText}
	parts = append(parts, e.KeyEntities...)
	return strings.Join(parts, "\n")
}
