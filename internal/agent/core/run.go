// Package core drives the agentic question-answering loop: negotiate a
// budget-fitting prompt, call the model, resolve its tool calls against the
// retrieval index and image cache, and repeat until a final answer.
package core

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loliloopp/aizoomdoc-sub000/config"
	"github.com/loliloopp/aizoomdoc-sub000/internal/budget"
	"github.com/loliloopp/aizoomdoc-sub000/internal/imagecache"
	"github.com/loliloopp/aizoomdoc-sub000/internal/index"
	"github.com/loliloopp/aizoomdoc-sub000/internal/protocol"
	"github.com/loliloopp/aizoomdoc-sub000/internal/store"
	"github.com/loliloopp/aizoomdoc-sub000/internal/telemetry"
	"github.com/loliloopp/aizoomdoc-sub000/provider"
)

// fullFrameTolerance marks a zoom region as "the whole image". Such
// requests are rejected and the model is asked for a tighter region.
const fullFrameTolerance = 0.99

const systemPrompt = `You answer questions about scanned technical documents.
You are given document text and a catalog of document images. You may use
these tools, one category per response, each on its own line:

SHOW_IMAGES: <image_id>[, <image_id>...]
    Request base images from the catalog.
ZOOM: <image_id> [x1, y1, x2, y2] <reason>
    Request a crop of an image you have already seen. Coordinates are
    normalized 0..1 (or pixels against the full resolution). Several ZOOM
    lines are allowed. Always pick a tight region; never the whole frame.
REQUEST_DOCUMENTS: <name>[, <name>...] | <reason>
    Ask for additional documents not attached to this conversation.

When you can answer, reply with the answer text alone and no tool lines.
Cite page numbers where the catalog provides them.`

// Storage is the durable store contract the loop persists through.
// Failures are logged and never block the loop.
type Storage interface {
	EnsureChat(ctx context.Context, chatID, title string) (string, error)
	SaveMessage(ctx context.Context, msg store.MessageRecord) (string, error)
	RecentMessages(ctx context.Context, chatID string, limit int) ([]store.MessageRecord, error)
	CreateRun(ctx context.Context, run store.RunRecord) error
	FinishRun(ctx context.Context, run store.RunRecord) error
}

// ObjectStore uploads produced images for display and returns signed URLs.
type ObjectStore interface {
	Upload(ctx context.Context, key, localPath string) (string, error)
}

// Memory maintains the rolling conversation summary.
type Memory interface {
	Get(ctx context.Context, chatID string) string
	Update(ctx context.Context, chatID, question, answer string) (string, error)
}

// RunParams starts one orchestration run.
type RunParams struct {
	RunID     string
	ChatID    string
	Question  string
	ModelID   string
	Documents []Document
	Mode      budget.Mode
}

// Orchestrator composes the index, cache, negotiator, parser and the
// external collaborators into the top-level loop.
type Orchestrator struct {
	cfg       *config.Config
	logger    *log.Logger
	telemetry *telemetry.Telemetry
	provider  provider.Provider
	cache     *imagecache.Cache
	objects   ObjectStore
	storage   Storage
	memory    Memory
}

// NewOrchestrator wires an orchestrator. telemetry, objects, storage and
// memory may be nil; the loop degrades to in-process behavior without them.
func NewOrchestrator(cfg *config.Config, logger *log.Logger, tel *telemetry.Telemetry, prov provider.Provider, cache *imagecache.Cache, objects ObjectStore, storage Storage, mem Memory) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		logger:    logger,
		telemetry: tel,
		provider:  prov,
		cache:     cache,
		objects:   objects,
		storage:   storage,
		memory:    mem,
	}
}

// Run executes one full orchestration run and returns the final answer.
// Terminal failures transition to the aborted state and are both emitted
// on the event stream and returned.
func (o *Orchestrator) Run(ctx context.Context, rc *RunContext, params RunParams, sink EventSink) (string, error) {
	emit := func(ev Event) {
		ev.RunID = rc.RunID
		ev.Time = time.Now()
		if sink != nil {
			sink(ev)
		}
	}

	if len(params.Documents) == 0 {
		emit(Event{Kind: EventRunErrored, Error: ErrNoDocuments.Error()})
		return "", ErrNoDocuments
	}

	mode := params.Mode
	if mode == "" {
		mode = budget.ModeFullDocument
	}
	maxSteps := o.cfg.General.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 10
	}

	chatID := o.ensureChat(ctx, params.ChatID, params.Question)
	o.createRunRecord(ctx, rc, params, chatID, mode)

	history := o.loadHistory(ctx, chatID)
	o.persistTurn(ctx, chatID, provider.RoleUser, params.Question, nil)

	idx := o.buildIndex(params.Documents)
	emit(Event{Kind: EventLog, Text: fmt.Sprintf("indexed %d documents: %d image(s), %d text chunk(s)", len(params.Documents), len(idx.Images), len(idx.Chunks))})

	memorySummary := ""
	if o.memory != nil {
		memorySummary = o.memory.Get(ctx, chatID)
	}

	negotiator := &budget.Negotiator{
		ContextWindow:  o.cfg.LLM.ContextWindow,
		SafetyMargin:   o.cfg.LLM.SafetyMargin,
		DefaultHistory: o.cfg.Retrieval.DefaultHistory,
	}

	fullContext := o.buildFullContext(idx, params.Documents)
	retrievalContext := o.buildRetrievalContext(idx, params.Question)

	runTurns := []provider.Message{{Role: provider.RoleUser, Text: params.Question}}
	var totalUsage provider.Usage

	fail := func(err error) (string, error) {
		emit(Event{Kind: EventRunErrored, Error: err.Error()})
		o.finishRunRecord(ctx, rc, chatID, string(StateAborted), totalUsage, err)
		if o.telemetry != nil {
			o.telemetry.RunOutcomes.WithLabelValues(string(StateAborted)).Inc()
		}
		return "", err
	}

	for {
		step := rc.nextStep()
		if step > maxSteps {
			return fail(fmt.Errorf("%w (limit %d)", ErrStepLimit, maxSteps))
		}
		if rc.Cancelled() {
			return fail(ErrCancelled)
		}

		// Negotiating
		in := budget.Inputs{
			System:           systemPrompt,
			MemorySummary:    memorySummary,
			History:          append(append([]provider.Message{}, history...), runTurns...),
			FullContext:      fullContext,
			RetrievalContext: retrievalContext,
		}
		result, err := negotiator.Negotiate(in, mode)
		if err != nil {
			var overflow budget.ErrContextOverflow
			if errors.As(err, &overflow) {
				return fail(fmt.Errorf("%w: %v", ErrHardOverflow, err))
			}
			return fail(err)
		}
		if result.Mode != mode {
			emit(Event{Kind: EventLog, Text: fmt.Sprintf("context budget forced fallback to %s mode", result.Mode)})
			mode = result.Mode
		}
		if result.HistoryLength < negotiator.DefaultHistory && o.telemetry != nil {
			o.telemetry.NegotiationDrops.Inc()
		}
		emit(Event{Kind: EventLog, Text: fmt.Sprintf("step %d/%d: prompt fits with history=%d mode=%s (~%d tokens)", step, maxSteps, result.HistoryLength, result.Mode, result.Estimated)})

		// AwaitingModel
		if rc.Cancelled() {
			return fail(ErrCancelled)
		}
		reply, usage, err := o.callModel(ctx, params.ModelID, result.Messages)
		if err != nil {
			if provider.IsContextLength(err) && mode == budget.ModeFullDocument {
				// the endpoint knows better than our estimator; fall back
				emit(Event{Kind: EventLog, Text: "endpoint declared context overflow; falling back to retrieval mode"})
				mode = budget.ModeRetrieval
				continue
			}
			if provider.IsContextLength(err) {
				return fail(fmt.Errorf("%w: %v", ErrHardOverflow, err))
			}
			return fail(fmt.Errorf("model call failed: %w", err))
		}
		totalUsage.PromptTokens += usage.PromptTokens
		totalUsage.CompletionTokens += usage.CompletionTokens
		totalUsage.TotalTokens += usage.TotalTokens
		emit(Event{Kind: EventUsageUpdate, Usage: totalUsage})

		// ResolvingTools
		if rc.Cancelled() {
			return fail(ErrCancelled)
		}
		parsed := protocol.Parse(reply)
		runTurns = append(runTurns, provider.Message{Role: provider.RoleAssistant, Text: reply})

		switch parsed.Kind {
		case protocol.KindFinalAnswer:
			answer := parsed.Final.Text
			emit(Event{Kind: EventAssistantMessage, Text: answer})
			o.persistTurn(ctx, chatID, provider.RoleAssistant, answer, nil)
			if o.memory != nil {
				if _, err := o.memory.Update(ctx, chatID, params.Question, answer); err != nil {
					o.logger.Printf("[RUN %s] warn: %v", rc.RunID, err)
				}
			}
			o.finishRunRecord(ctx, rc, chatID, string(StateDone), totalUsage, nil)
			if o.telemetry != nil {
				o.telemetry.RunOutcomes.WithLabelValues(string(StateDone)).Inc()
			}
			emit(Event{Kind: EventRunFinished, Text: answer})
			return answer, nil

		case protocol.KindRequestDocuments:
			if parsed.Clean != "" {
				emit(Event{Kind: EventAssistantMessage, Text: parsed.Clean})
			}
			names := strings.Join(parsed.Documents.Names, ", ")
			emit(Event{Kind: EventLog, Text: fmt.Sprintf("model requested additional documents: %s (%s)", names, parsed.Documents.Reason)})
			o.persistTurn(ctx, chatID, provider.RoleAssistant, parsed.Clean, nil)
			runTurns = append(runTurns, provider.Message{
				Role: provider.RoleUser,
				Text: fmt.Sprintf("The requested documents (%s) are not attached to this conversation. Answer from the documents you have, and state what is missing.", names),
			})

		case protocol.KindRequestImages:
			if parsed.Clean != "" {
				emit(Event{Kind: EventAssistantMessage, Text: parsed.Clean})
			}
			turn, artifacts := o.resolveImages(ctx, rc, idx, parsed.Images.IDs, emit)
			runTurns = append(runTurns, turn)
			o.persistTurn(ctx, chatID, provider.RoleUser, turn.Text, artifacts)

		case protocol.KindZoom:
			if parsed.Clean != "" {
				emit(Event{Kind: EventAssistantMessage, Text: parsed.Clean})
			}
			turn, artifacts := o.resolveZooms(ctx, rc, idx, parsed.Zooms, emit)
			runTurns = append(runTurns, turn)
			o.persistTurn(ctx, chatID, provider.RoleUser, turn.Text, artifacts)
		}
	}
}

// callModel invokes the endpoint with the configured timeout, retrying a
// transient timeout once before giving up.
func (o *Orchestrator) callModel(ctx context.Context, model string, messages []provider.Message) (string, provider.Usage, error) {
	timeout := o.cfg.LLM.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		reply, usage, err := o.provider.Chat(callCtx, model, messages)
		cancel()
		if err == nil {
			if o.telemetry != nil {
				o.telemetry.RecordModelCall("ok", time.Since(start), usage.PromptTokens, usage.CompletionTokens)
			}
			return reply, usage, nil
		}
		if o.telemetry != nil {
			o.telemetry.RecordModelCall("error", time.Since(start), 0, 0)
		}
		lastErr = err
		if provider.IsContextLength(err) || ctx.Err() != nil {
			return "", provider.Usage{}, err
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			return "", provider.Usage{}, err
		}
		o.logger.Printf("warn: model call timed out, retrying once: %v", err)
	}
	return "", provider.Usage{}, lastErr
}

// resolveImages fetches base images for requested ids and builds the tool
// result turn. Missing ids become inline warnings, not run failures.
func (o *Orchestrator) resolveImages(ctx context.Context, rc *RunContext, idx *index.DocumentIndex, ids []string, emit EventSink) (provider.Message, []store.ImageArtifact) {
	turn := provider.Message{Role: provider.RoleUser}
	var lines []string
	var artifacts []store.ImageArtifact
	for _, id := range ids {
		if rc.Cancelled() {
			break
		}
		part, line, artifact, ok := o.deliverBase(ctx, rc, idx, id, emit)
		lines = append(lines, line)
		if ok {
			turn.Images = append(turn.Images, part)
			artifacts = append(artifacts, artifact)
		}
	}
	if len(lines) == 0 {
		lines = append(lines, "No image ids were recognized.")
	}
	turn.Text = strings.Join(lines, "\n")
	return turn, artifacts
}

// deliverBase fetches (or serves from cache) the base image for id, marks
// it sent, and emits the image event.
func (o *Orchestrator) deliverBase(ctx context.Context, rc *RunContext, idx *index.DocumentIndex, id string, emit EventSink) (provider.ImagePart, string, store.ImageArtifact, bool) {
	entry, ok := idx.Images[id]
	if !ok {
		if o.telemetry != nil {
			o.telemetry.CacheFetches.WithLabelValues("unknown_id").Inc()
		}
		return provider.ImagePart{}, fmt.Sprintf("Warning: image id %s is not in the document catalog.", id), store.ImageArtifact{}, false
	}
	base, err := o.cache.FetchBase(ctx, id, entry.SourceLocator, o.cfg.Cache.MaxPreviewSide)
	if err != nil {
		o.logger.Printf("[RUN %s] image %s fetch failed: %v", rc.RunID, id, err)
		if o.telemetry != nil {
			o.telemetry.CacheFetches.WithLabelValues("error").Inc()
		}
		return provider.ImagePart{}, fmt.Sprintf("Warning: image %s could not be fetched and is unavailable.", id), store.ImageArtifact{}, false
	}
	if o.telemetry != nil {
		if base.FromCache {
			o.telemetry.CacheFetches.WithLabelValues("hit").Inc()
		} else {
			o.telemetry.CacheFetches.WithLabelValues("miss").Inc()
		}
	}

	part, err := readImagePart(base.DisplayPath)
	if err != nil {
		o.logger.Printf("[RUN %s] image %s read failed: %v", rc.RunID, id, err)
		return provider.ImagePart{}, fmt.Sprintf("Warning: image %s could not be loaded.", id), store.ImageArtifact{}, false
	}
	rc.MarkSent(id)

	objectURL := o.uploadArtifact(ctx, rc, id, "base", base.DisplayPath)
	emit(Event{
		Kind:        EventImageProduced,
		ImageID:     id,
		ImagePath:   base.DisplayPath,
		ImageKind:   "base",
		Description: base.Description,
		ObjectURL:   objectURL,
	})

	page := ""
	if entry.Page != nil {
		page = fmt.Sprintf(" (page %d)", *entry.Page)
	}
	line := fmt.Sprintf("Image %s%s: %s — %s", id, page, entry.Summary, base.Description)
	artifact := store.ImageArtifact{ImageID: id, LocalPath: base.DisplayPath, ObjectURL: objectURL, Kind: "base"}
	return part, line, artifact, true
}

// resolveZooms handles each zoom request independently, in order. The
// guard policy lives here: coordinate-less and full-frame regions are
// rejected, and an unseen id gets its base image delivered first.
func (o *Orchestrator) resolveZooms(ctx context.Context, rc *RunContext, idx *index.DocumentIndex, zooms []protocol.ZoomRequest, emit EventSink) (provider.Message, []store.ImageArtifact) {
	turn := provider.Message{Role: provider.RoleUser}
	var lines []string
	var artifacts []store.ImageArtifact

	for i, z := range zooms {
		if rc.Cancelled() {
			break
		}
		id := z.ImageID

		if !z.HasCoords {
			o.countZoom("rejected_no_coords")
			lines = append(lines, fmt.Sprintf("Zoom on %s rejected: no coordinates given. Supply a tight region as [x1, y1, x2, y2].", id))
			continue
		}

		if _, known := idx.Images[id]; !known {
			o.countZoom("unknown_id")
			lines = append(lines, fmt.Sprintf("Warning: image id %s is not in the document catalog.", id))
			continue
		}

		// visual context precedes detail
		if !rc.WasSent(id) {
			part, line, artifact, ok := o.deliverBase(ctx, rc, idx, id, emit)
			lines = append(lines, line)
			if ok {
				turn.Images = append(turn.Images, part)
				artifacts = append(artifacts, artifact)
			} else {
				continue
			}
		}

		entry, cached := o.cache.Entry(id)
		if !cached {
			o.countZoom("not_cached")
			lines = append(lines, fmt.Sprintf("Warning: image %s is not available for zooming.", id))
			continue
		}
		if isFullFrame(z, entry) {
			o.countZoom("rejected_full_frame")
			lines = append(lines, fmt.Sprintf("Zoom on %s rejected: the region covers the whole image, which you have already seen. Supply a tighter region.", id))
			continue
		}

		outPath := filepath.Join(o.cfg.Cache.Dir, fmt.Sprintf("%s_%s_zoom_%d_%d.png", rc.RunID, id, rc.Step(), i))
		res, err := o.cache.Zoom(id, imagecache.Region{
			X1: z.Coords[0], Y1: z.Coords[1], X2: z.Coords[2], Y2: z.Coords[3],
			Pixel: z.Pixel,
		}, outPath)
		if err != nil {
			o.countZoom("error")
			o.logger.Printf("[RUN %s] zoom on %s failed: %v", rc.RunID, id, err)
			lines = append(lines, fmt.Sprintf("Zoom on %s failed: %v", id, err))
			continue
		}
		o.countZoom("ok")

		part, err := readImagePart(res.Path)
		if err != nil {
			o.logger.Printf("[RUN %s] zoom crop read failed: %v", rc.RunID, err)
			lines = append(lines, fmt.Sprintf("Zoom on %s failed: crop could not be loaded.", id))
			continue
		}
		turn.Images = append(turn.Images, part)

		objectURL := o.uploadArtifact(ctx, rc, id, "zoom", res.Path)
		emit(Event{
			Kind:        EventImageProduced,
			ImageID:     id,
			ImagePath:   res.Path,
			ImageKind:   "zoom",
			Description: res.Description,
			ObjectURL:   objectURL,
		})
		reason := ""
		if z.Reason != "" {
			reason = fmt.Sprintf(" (%s)", z.Reason)
		}
		lines = append(lines, fmt.Sprintf("Zoom of %s%s: %s", id, reason, res.Description))
		artifacts = append(artifacts, store.ImageArtifact{ImageID: id, LocalPath: res.Path, ObjectURL: objectURL, Kind: "zoom"})
	}

	if len(lines) == 0 {
		lines = append(lines, "No zoom requests could be honored.")
	}
	turn.Text = strings.Join(lines, "\n")
	return turn, artifacts
}

// isFullFrame reports whether the clamped region covers >=99% of the image
// on both axes. Such a request is semantically "show me the base image".
func isFullFrame(z protocol.ZoomRequest, entry imagecache.CacheEntry) bool {
	x1, y1, x2, y2 := z.Coords[0], z.Coords[1], z.Coords[2], z.Coords[3]
	if z.Pixel {
		x1 /= float64(entry.Width)
		x2 /= float64(entry.Width)
		y1 /= float64(entry.Height)
		y2 /= float64(entry.Height)
	}
	x1, y1 = clamp01(x1), clamp01(y1)
	x2, y2 = clamp01(x2), clamp01(y2)
	return x2-x1 >= fullFrameTolerance && y2-y1 >= fullFrameTolerance
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (o *Orchestrator) countZoom(outcome string) {
	if o.telemetry != nil {
		o.telemetry.ZoomRequests.WithLabelValues(outcome).Inc()
	}
}

func (o *Orchestrator) uploadArtifact(ctx context.Context, rc *RunContext, id, kind, localPath string) string {
	if o.objects == nil {
		return ""
	}
	key := fmt.Sprintf("runs/%s/%s_%s%s", rc.RunID, id, kind, filepath.Ext(localPath))
	url, err := o.objects.Upload(ctx, key, localPath)
	if err != nil {
		o.logger.Printf("[RUN %s] warn: artifact upload failed for %s: %v", rc.RunID, id, err)
		return ""
	}
	return url
}

func (o *Orchestrator) buildIndex(docs []Document) *index.DocumentIndex {
	var sb strings.Builder
	for _, d := range docs {
		sb.WriteString("## ")
		sb.WriteString(d.Name)
		sb.WriteString("\n\n")
		sb.WriteString(d.Text)
		sb.WriteString("\n\n")
	}
	return index.Build(sb.String(), o.cfg.Retrieval.MaxChunkChars, o.logger)
}

// buildFullContext is the whole-document context used in full-document
// mode: the image catalog followed by the documents' text.
func (o *Orchestrator) buildFullContext(idx *index.DocumentIndex, docs []Document) string {
	var sb strings.Builder
	writeCatalog(&sb, idx.ImagesInOrder())
	sb.WriteString("Documents:\n\n")
	for _, d := range docs {
		sb.WriteString("## ")
		sb.WriteString(d.Name)
		sb.WriteString("\n\n")
		sb.WriteString(index.StripImageBlocks(d.Text))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// buildRetrievalContext is the smaller always-included context used in
// retrieval mode: top-ranked chunks plus top-ranked catalog candidates.
func (o *Orchestrator) buildRetrievalContext(idx *index.DocumentIndex, question string) string {
	var sb strings.Builder
	candidates := idx.RetrieveImageCandidates(question, o.cfg.Retrieval.ImageTopK)
	writeCatalog(&sb, candidates)
	chunks := idx.RetrieveTextChunks(question, o.cfg.Retrieval.TextTopK)
	if len(chunks) > 0 {
		sb.WriteString("Relevant document excerpts:\n\n")
		for _, c := range chunks {
			sb.WriteString("[")
			sb.WriteString(c.ID)
			sb.WriteString("]\n")
			sb.WriteString(c.Text)
			sb.WriteString("\n\n")
		}
	}
	return sb.String()
}

func writeCatalog(sb *strings.Builder, entries []index.ImageCatalogEntry) {
	if len(entries) == 0 {
		return
	}
	sb.WriteString("Image catalog (request with SHOW_IMAGES):\n")
	for _, e := range entries {
		sb.WriteString("- ")
		sb.WriteString(e.ID)
		if e.Page != nil {
			fmt.Fprintf(sb, " (page %d)", *e.Page)
		}
		sb.WriteString(": ")
		sb.WriteString(e.Summary)
		if e.Description != "" {
			sb.WriteString(" — ")
			sb.WriteString(e.Description)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

func readImagePart(path string) (provider.ImagePart, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return provider.ImagePart{}, err
	}
	mime := "image/png"
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".jpg" || ext == ".jpeg" {
		mime = "image/jpeg"
	}
	return provider.ImagePart{MimeType: mime, Data: base64.StdEncoding.EncodeToString(b)}, nil
}

func (o *Orchestrator) ensureChat(ctx context.Context, chatID, title string) string {
	if o.storage == nil {
		return chatID
	}
	id, err := o.storage.EnsureChat(ctx, chatID, title)
	if err != nil {
		o.logger.Printf("warn: chat persistence failed: %v", err)
		return chatID
	}
	return id
}

func (o *Orchestrator) loadHistory(ctx context.Context, chatID string) []provider.Message {
	if o.storage == nil || chatID == "" {
		return nil
	}
	limit := o.cfg.Retrieval.DefaultHistory * 2
	records, err := o.storage.RecentMessages(ctx, chatID, limit)
	if err != nil {
		o.logger.Printf("warn: history load failed: %v", err)
		return nil
	}
	out := make([]provider.Message, 0, len(records))
	for _, r := range records {
		out = append(out, provider.Message{Role: r.Role, Text: r.Content})
	}
	return out
}

func (o *Orchestrator) persistTurn(ctx context.Context, chatID, role, content string, images []store.ImageArtifact) {
	if o.storage == nil || content == "" && len(images) == 0 {
		return
	}
	_, err := o.storage.SaveMessage(ctx, store.MessageRecord{
		ChatID:  chatID,
		Role:    role,
		Content: content,
		Images:  images,
	})
	if err != nil {
		o.logger.Printf("warn: message persistence failed: %v", err)
	}
}

func (o *Orchestrator) createRunRecord(ctx context.Context, rc *RunContext, params RunParams, chatID string, mode budget.Mode) {
	if o.storage == nil {
		return
	}
	err := o.storage.CreateRun(ctx, store.RunRecord{
		ID:       rc.RunID,
		ChatID:   chatID,
		Question: params.Question,
		Mode:     string(mode),
		State:    "running",
	})
	if err != nil {
		o.logger.Printf("warn: run persistence failed: %v", err)
	}
}

func (o *Orchestrator) finishRunRecord(ctx context.Context, rc *RunContext, chatID, state string, usage provider.Usage, runErr error) {
	if o.storage == nil {
		return
	}
	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	err := o.storage.FinishRun(ctx, store.RunRecord{
		ID:               rc.RunID,
		ChatID:           chatID,
		State:            state,
		Steps:            rc.Step(),
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		Error:            errText,
	})
	if err != nil {
		o.logger.Printf("warn: run persistence failed: %v", err)
	}
}
