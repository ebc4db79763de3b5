package index

import (
	"log"
	"os"
	"strings"
	"testing"
)

const sampleDoc = `Pump room overview.

The main ventilation riser runs from the basement plant room to the roof.

` + "```image-meta\n" + `{"path": "scans/page3/riser.png", "page": 3, "summary": "Ventilation riser diagram", "description": "Section through the riser shaft", "ocr_text": "RISER R-1 DN400", "key_entities": ["R-1", "DN400"]}
` + "```" + `

Electrical loads are listed in appendix B.`

func testLogger() *log.Logger {
	return log.New(os.Stderr, "[TEST] ", log.LstdFlags)
}

func TestBuildExtractsCatalogAndChunks(t *testing.T) {
	idx := Build(sampleDoc, 1800, testLogger())

	if len(idx.Images) != 1 {
		t.Fatalf("expected 1 catalog entry, got %d", len(idx.Images))
	}
	entry := idx.ImagesInOrder()[0]
	if entry.Summary != "Ventilation riser diagram" {
		t.Fatalf("unexpected summary: %q", entry.Summary)
	}
	if entry.Page == nil || *entry.Page != 3 {
		t.Fatalf("expected page 3")
	}
	if entry.ID != StableImageID("scans/page3/riser.png") {
		t.Fatalf("id is not content-derived: %q", entry.ID)
	}
	if len(idx.Chunks) == 0 {
		t.Fatalf("expected text chunks")
	}
	for _, c := range idx.Chunks {
		if strings.Contains(c.Text, "image-meta") {
			t.Fatalf("image block leaked into chunk text: %q", c.Text)
		}
	}
}

func TestBuildSkipsMalformedBlock(t *testing.T) {
	doc := "Intro.\n\n```image-meta\nnot json at all\n```\n\nOutro paragraph here."
	idx := Build(doc, 1800, testLogger())
	if len(idx.Images) != 0 {
		t.Fatalf("malformed block should be skipped, got %d entries", len(idx.Images))
	}
	if len(idx.Chunks) == 0 {
		t.Fatalf("build should continue past a bad block")
	}
}

func TestStableImageIDDeterministic(t *testing.T) {
	a := StableImageID("scans/page3/riser.png")
	b := StableImageID("scans/page3/riser.png")
	if a != b {
		t.Fatalf("id not stable: %q vs %q", a, b)
	}
	if a == StableImageID("scans/page4/other.png") {
		t.Fatalf("distinct assets must not collide")
	}
}

func TestChunkingRespectsBudget(t *testing.T) {
	para := strings.Repeat("word ", 60) // ~300 chars
	doc := strings.TrimSpace(strings.Repeat(para+"\n\n", 10))
	idx := Build(doc, 700, testLogger())
	if len(idx.Chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(idx.Chunks))
	}
	for i, c := range idx.Chunks {
		if len(c.Text) > 700+len(para) {
			t.Fatalf("chunk %d grossly exceeds budget: %d chars", i, len(c.Text))
		}
		if c.ID == "" {
			t.Fatalf("chunk %d missing id", i)
		}
	}
	// insertion order is significant
	if idx.Chunks[0].ID != "chunk_000" || idx.Chunks[1].ID != "chunk_001" {
		t.Fatalf("chunk ids not ordinal: %q %q", idx.Chunks[0].ID, idx.Chunks[1].ID)
	}
}
