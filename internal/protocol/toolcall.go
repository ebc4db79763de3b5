// Package protocol extracts structured tool calls from raw model output.
// Models are messy: they mix prose with tool calls, emit malformed
// payloads, or answer outright. The parser classifies each response into
// exactly one primary category and never lets raw payload fragments leak
// into the human-visible transcript.
package protocol

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind tags the closed set of tool-call variants. Call sites switch
// exhaustively on it; adding a kind is a compile-visible change.
type Kind int

const (
	KindFinalAnswer Kind = iota
	KindRequestDocuments
	KindRequestImages
	KindZoom
)

func (k Kind) String() string {
	switch k {
	case KindFinalAnswer:
		return "final_answer"
	case KindRequestDocuments:
		return "request_documents"
	case KindRequestImages:
		return "request_images"
	case KindZoom:
		return "zoom"
	default:
		return "unknown"
	}
}

// RequestDocuments asks the caller for additional documents by name.
type RequestDocuments struct {
	Names  []string
	Reason string
}

// RequestImages asks for base images from the catalog by id.
type RequestImages struct {
	IDs []string
}

// ZoomRequest asks for a crop of a previously shown image. Coords may be
// normalized [0,1] or pixel values; HasCoords is false when the model sent
// no region at all, which the caller must reject.
type ZoomRequest struct {
	ImageID   string
	Coords    [4]float64
	Pixel     bool
	HasCoords bool
	Reason    string
}

// FinalAnswer carries the model's answer text.
type FinalAnswer struct {
	Text string
}

// Parsed is one classified model response. Exactly one primary category is
// populated according to Kind; Clean is the transcript text with all raw
// tool-call payload lines removed.
type Parsed struct {
	Kind      Kind
	Documents *RequestDocuments
	Images    *RequestImages
	Zooms     []ZoomRequest
	Final     *FinalAnswer
	Clean     string
}

var (
	docRe  = regexp.MustCompile(`(?im)^\s*REQUEST_DOCUMENTS?\s*:\s*(.+?)\s*$`)
	imgRe  = regexp.MustCompile(`(?im)^\s*(?:SHOW|REQUEST)_IMAGES?\s*:\s*(.+?)\s*$`)
	zoomRe = regexp.MustCompile(`(?im)^\s*ZOOM\s*:\s*([A-Za-z0-9_.-]+)\s*(?:\[([^\]]*)\])?\s*(.*?)\s*$`)
	// reason split off a "names | reason" document request
	reasonSep = regexp.MustCompile(`\s*\|\s*`)
)

var extSuffixRe = regexp.MustCompile(`(?i)\.(png|jpe?g|gif|webp|tiff?|bmp)$`)

// NormalizeID strips a stray file-extension suffix from an id. The catalog
// derives ids from asset paths, and models sometimes echo the extension
// back.
func NormalizeID(id string) string {
	return extSuffixRe.ReplaceAllString(strings.TrimSpace(id), "")
}

// Parse classifies raw model text. Extraction order: document request,
// then image ids, then zoom(s); with no tool call the entire text is the
// final answer. Classification happens before cleanup so malformed
// payloads are never shown as prose.
func Parse(raw string) Parsed {
	if m := docRe.FindStringSubmatch(raw); m != nil {
		payload := m[1]
		reason := ""
		if parts := reasonSep.Split(payload, 2); len(parts) == 2 {
			payload, reason = parts[0], parts[1]
		}
		return Parsed{
			Kind:      KindRequestDocuments,
			Documents: &RequestDocuments{Names: splitList(payload), Reason: reason},
			Clean:     clean(raw),
		}
	}

	if m := imgRe.FindStringSubmatch(raw); m != nil {
		ids := splitList(m[1])
		for i := range ids {
			ids[i] = NormalizeID(ids[i])
		}
		return Parsed{
			Kind:   KindRequestImages,
			Images: &RequestImages{IDs: ids},
			Clean:  clean(raw),
		}
	}

	if ms := zoomRe.FindAllStringSubmatch(raw, -1); len(ms) > 0 {
		zooms := make([]ZoomRequest, 0, len(ms))
		for _, m := range ms {
			z := ZoomRequest{ImageID: NormalizeID(m[1]), Reason: strings.TrimSpace(m[3])}
			if coords, ok := parseCoords(m[2]); ok {
				z.Coords = coords
				z.HasCoords = true
				z.Pixel = coords[0] > 1 || coords[1] > 1 || coords[2] > 1 || coords[3] > 1
			}
			zooms = append(zooms, z)
		}
		return Parsed{Kind: KindZoom, Zooms: zooms, Clean: clean(raw)}
	}

	text := strings.TrimSpace(raw)
	return Parsed{Kind: KindFinalAnswer, Final: &FinalAnswer{Text: text}, Clean: text}
}

func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	var out []string
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func parseCoords(s string) ([4]float64, bool) {
	var coords [4]float64
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	var vals []float64
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return coords, false
		}
		vals = append(vals, v)
	}
	if len(vals) != 4 {
		return coords, false
	}
	copy(coords[:], vals)
	return coords, true
}

// clean removes raw tool-call payload lines from the transcript text.
func clean(raw string) string {
	out := docRe.ReplaceAllString(raw, "")
	out = imgRe.ReplaceAllString(out, "")
	out = zoomRe.ReplaceAllString(out, "")
	var lines []string
	for _, l := range strings.Split(out, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, strings.TrimRight(l, " \t"))
		}
	}
	return strings.Join(lines, "\n")
}
