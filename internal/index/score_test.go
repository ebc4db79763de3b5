package index

import (
	"strings"
	"testing"
)

func TestTokenize(t *testing.T) {
	tokens := Tokenize("Ventilation riser, the R-1 riser!")
	want := []string{"ventilation", "riser"}
	if len(tokens) != len(want) {
		t.Fatalf("tokens = %v, want %v", tokens, want)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Fatalf("tokens = %v, want %v", tokens, want)
		}
	}
}

func TestScoreFrequencyBonusCapped(t *testing.T) {
	tokens := Tokenize("riser")
	few := Score("riser riser", tokens)
	many := Score(strings.Repeat("riser ", 50), tokens)
	if many != tokenWeight+maxFreqBonus {
		t.Fatalf("bonus not capped: got %d", many)
	}
	if few >= many {
		t.Fatalf("more occurrences under the cap should score higher: %d vs %d", few, many)
	}
}

func TestScoreMonotoneInOverlap(t *testing.T) {
	tokens := Tokenize("ventilation riser diagram")
	one := Score("the riser shaft", tokens)
	two := Score("the ventilation riser shaft", tokens)
	three := Score("ventilation riser diagram detail", tokens)
	if !(one < two && two < three) {
		t.Fatalf("score not monotone in token overlap: %d %d %d", one, two, three)
	}
}

func TestRetrieveVentilationRiser(t *testing.T) {
	page := 3
	idx := &DocumentIndex{Images: map[string]ImageCatalogEntry{}}
	entry := ImageCatalogEntry{
		ID:          "img_42",
		Page:        &page,
		Summary:     "Ventilation riser diagram",
		Description: "Section through the riser shaft",
	}
	idx.Images[entry.ID] = entry
	idx.order = []string{entry.ID}
	other := ImageCatalogEntry{ID: "img_43", Summary: "Title page"}
	idx.Images[other.ID] = other
	idx.order = append(idx.order, other.ID)

	got := idx.RetrieveImageCandidates("ventilation riser", 5)
	if len(got) != 1 {
		t.Fatalf("expected exactly one candidate, got %d", len(got))
	}
	if got[0].ID != "img_42" {
		t.Fatalf("expected img_42, got %s", got[0].ID)
	}
}

func TestRetrieveExcludesZeroScore(t *testing.T) {
	idx := &DocumentIndex{Chunks: []TextChunk{
		{ID: "chunk_000", Text: "ventilation riser layout"},
		{ID: "chunk_001", Text: "completely unrelated text"},
	}}
	got := idx.RetrieveTextChunks("ventilation riser", 10)
	if len(got) != 1 || got[0].ID != "chunk_000" {
		t.Fatalf("zero-score candidates must be excluded: %v", got)
	}
}

func TestRetrieveStableTies(t *testing.T) {
	idx := &DocumentIndex{Chunks: []TextChunk{
		{ID: "chunk_000", Text: "riser north"},
		{ID: "chunk_001", Text: "riser south"},
		{ID: "chunk_002", Text: "riser east"},
	}}
	got := idx.RetrieveTextChunks("riser", 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 results")
	}
	for i, want := range []string{"chunk_000", "chunk_001", "chunk_002"} {
		if got[i].ID != want {
			t.Fatalf("tie order not stable at %d: got %s want %s", i, got[i].ID, want)
		}
	}
}
