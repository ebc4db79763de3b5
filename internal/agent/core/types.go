package core

import (
	"errors"
	"sync"
	"time"

	"github.com/loliloopp/aizoomdoc-sub000/provider"
)

// State is the orchestrator's position in its state machine.
type State string

const (
	StateNegotiating    State = "negotiating"
	StateAwaitingModel  State = "awaiting_model"
	StateResolvingTools State = "resolving_tools"
	StateDone           State = "done"
	StateAborted        State = "aborted"
)

// Run-fatal conditions surfaced to the caller.
var (
	ErrStepLimit    = errors.New("step limit exceeded without a final answer")
	ErrCancelled    = errors.New("run cancelled")
	ErrNoDocuments  = errors.New("no documents attached to the run")
	ErrHardOverflow = errors.New("context overflow after full fallback")
)

// EventKind tags stream events emitted to the caller.
type EventKind string

const (
	EventLog              EventKind = "log"
	EventAssistantMessage EventKind = "assistant_message"
	EventImageProduced    EventKind = "image_produced"
	EventUsageUpdate      EventKind = "usage_update"
	EventRunFinished      EventKind = "run_finished"
	EventRunErrored       EventKind = "run_errored"
)

// Event is one item in the run's event stream.
type Event struct {
	Kind        EventKind      `json:"kind"`
	RunID       string         `json:"run_id"`
	Text        string         `json:"text,omitempty"`
	ImageID     string         `json:"image_id,omitempty"`
	ImagePath   string         `json:"image_path,omitempty"`
	ImageKind   string         `json:"image_kind,omitempty"` // "base" or "zoom"
	Description string         `json:"description,omitempty"`
	ObjectURL   string         `json:"object_url,omitempty"`
	Usage       provider.Usage `json:"usage,omitempty"`
	Error       string         `json:"error,omitempty"`
	Time        time.Time      `json:"time"`
}

// EventSink receives run events. Sinks must not block for long; the loop
// calls them inline.
type EventSink func(Event)

// Document is one attached document: its name and extracted text
// representation (including fenced image-meta blocks).
type Document struct {
	Name string
	Text string
}

// RunContext carries all per-run mutable state as one explicit value, so
// nothing leaks across runs and cancellation is testable in isolation.
type RunContext struct {
	RunID string

	mu        sync.Mutex
	sent      map[string]struct{}
	step      int
	cancelled bool
}

// NewRunContext creates an empty run context.
func NewRunContext(runID string) *RunContext {
	return &RunContext{RunID: runID, sent: make(map[string]struct{})}
}

// Cancel requests cooperative cancellation. Already-persisted partial
// results are retained; the loop just stops issuing new blocking calls.
func (rc *RunContext) Cancel() {
	rc.mu.Lock()
	rc.cancelled = true
	rc.mu.Unlock()
}

// Cancelled reports whether cancellation was requested.
func (rc *RunContext) Cancelled() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.cancelled
}

// MarkSent records that the base image for id has been shown to the model.
func (rc *RunContext) MarkSent(id string) {
	rc.mu.Lock()
	rc.sent[id] = struct{}{}
	rc.mu.Unlock()
}

// WasSent reports whether the base image for id was already shown. Zoom
// requests for unseen ids must deliver the base image first.
func (rc *RunContext) WasSent(id string) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	_, ok := rc.sent[id]
	return ok
}

// Step returns the current step counter.
func (rc *RunContext) Step() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.step
}

func (rc *RunContext) nextStep() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.step++
	return rc.step
}
