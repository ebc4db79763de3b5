package index

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"
)

// ImageCatalogEntry is a structured description of one document image.
// Entries are immutable once built; the catalog is rebuilt, never mutated,
// whenever the source text changes.
type ImageCatalogEntry struct {
	ID            string
	Page          *int
	SourceLocator string
	Summary       string
	Description   string
	OCRText       string
	KeyEntities   []string
}

// TextChunk is one paragraph-packed slice of the document text. Ordering is
// insertion order and is significant for citation stability.
type TextChunk struct {
	ID   string
	Text string
}

// DocumentIndex owns the image catalog and the ordered text chunks for one
// document snapshot. Read-only after Build; shared by all steps of a run.
type DocumentIndex struct {
	Images map[string]ImageCatalogEntry
	order  []string
	Chunks []TextChunk
}

// imageMetaBlock is the fenced JSON payload describing one document image.
type imageMetaBlock struct {
	Path        string   `json:"path"`
	Page        *int     `json:"page"`
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	OCRText     string   `json:"ocr_text"`
	KeyEntities []string `json:"key_entities"`
}

var imageBlockRe = regexp.MustCompile("(?s)```image-meta\\s*\\n(.*?)```")

// StableImageID derives a content-derived id from an asset path, so repeated
// builds over the same asset always produce the same id.
func StableImageID(path string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(path)))
	return "img_" + hex.EncodeToString(sum[:])[:12]
}

// Build constructs a DocumentIndex from raw document text. Fenced image-meta
// blocks that fail to parse are skipped and logged; a single bad block never
// aborts the build.
func Build(text string, maxChunkChars int, logger *log.Logger) *DocumentIndex {
	idx := &DocumentIndex{Images: make(map[string]ImageCatalogEntry)}

	stripped := imageBlockRe.ReplaceAllStringFunc(text, func(block string) string {
		m := imageBlockRe.FindStringSubmatch(block)
		if len(m) < 2 {
			return ""
		}
		var meta imageMetaBlock
		if err := json.Unmarshal([]byte(m[1]), &meta); err != nil || meta.Path == "" {
			if logger != nil {
				logger.Printf("skipping malformed image-meta block: %v", err)
			}
			return ""
		}
		id := StableImageID(meta.Path)
		if _, exists := idx.Images[id]; !exists {
			idx.Images[id] = ImageCatalogEntry{
				ID:            id,
				Page:          meta.Page,
				SourceLocator: meta.Path,
				Summary:       meta.Summary,
				Description:   meta.Description,
				OCRText:       meta.OCRText,
				KeyEntities:   meta.KeyEntities,
			}
			idx.order = append(idx.order, id)
		}
		return ""
	})

	idx.Chunks = chunkParagraphs(stripped, maxChunkChars)
	return idx
}

// StripImageBlocks removes fenced image-meta blocks from text, leaving the
// prose suitable for prompting.
func StripImageBlocks(text string) string {
	return strings.TrimSpace(imageBlockRe.ReplaceAllString(text, ""))
}

// ImagesInOrder returns catalog entries in the order they appeared in the
// source text.
func (idx *DocumentIndex) ImagesInOrder() []ImageCatalogEntry {
	out := make([]ImageCatalogEntry, 0, len(idx.order))
	for _, id := range idx.order {
		out = append(out, idx.Images[id])
	}
	return out
}

// chunkParagraphs greedily packs consecutive paragraphs into chunks not
// exceeding maxChars, flushing when the next paragraph would overflow.
func chunkParagraphs(text string, maxChars int) []TextChunk {
	if maxChars <= 0 {
		maxChars = 1800
	}
	paragraphs := splitParagraphs(text)
	var chunks []TextChunk
	var buf strings.Builder
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		chunks = append(chunks, TextChunk{
			ID:   chunkID(len(chunks)),
			Text: buf.String(),
		})
		buf.Reset()
	}
	for _, p := range paragraphs {
		if buf.Len() > 0 && buf.Len()+2+len(p) > maxChars {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(p)
		// a single paragraph over budget still becomes its own chunk
		if buf.Len() >= maxChars {
			flush()
		}
	}
	flush()
	return chunks
}

func splitParagraphs(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func chunkID(ordinal int) string {
	return fmt.Sprintf("chunk_%03d", ordinal)
}
