package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/loliloopp/aizoomdoc-sub000/internal/agent/core"
	"github.com/loliloopp/aizoomdoc-sub000/internal/budget"
)

// runHandle is one live or finished run: its cancellation context plus the
// accumulated event log. SSE subscribers replay the log and then wait on
// notify for appends.
type runHandle struct {
	rc *core.RunContext

	mu     sync.Mutex
	events []core.Event
	done   bool
	notify chan struct{}
}

func newRunHandle(rc *core.RunContext) *runHandle {
	return &runHandle{rc: rc, notify: make(chan struct{})}
}

func (h *runHandle) append(ev core.Event) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	if ev.Kind == core.EventRunFinished || ev.Kind == core.EventRunErrored {
		h.done = true
	}
	close(h.notify)
	h.notify = make(chan struct{})
	h.mu.Unlock()
}

// next returns events from index from onward, the done flag, and a channel
// that is closed on the next append.
func (h *runHandle) next(from int) ([]core.Event, bool, <-chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []core.Event
	if from < len(h.events) {
		out = append(out, h.events[from:]...)
	}
	return out, h.done, h.notify
}

// RunsHandler exposes the run lifecycle over HTTP: start, stream, stop.
type RunsHandler struct {
	Orchestrator *core.Orchestrator
	Logger       *log.Logger

	mu   sync.Mutex
	runs map[string]*runHandle
}

func (rh *RunsHandler) Register(g *echo.Group) {
	g.POST("", rh.start)
	g.GET("/:id/events", rh.events)
	g.POST("/:id/stop", rh.stop)
}

type startRunRequest struct {
	ChatID    string `json:"chat_id"`
	Question  string `json:"question"`
	Model     string `json:"model"`
	Mode      string `json:"mode"`
	Documents []struct {
		Name string `json:"name"`
		Text string `json:"text"`
	} `json:"documents"`
}

func (rh *RunsHandler) start(c echo.Context) error {
	var req startRunRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question is required")
	}
	if len(req.Documents) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one document is required")
	}
	mode := budget.Mode(req.Mode)
	switch mode {
	case "", budget.ModeFullDocument, budget.ModeRetrieval:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown mode %q", req.Mode))
	}

	runID := uuid.NewString()
	rc := core.NewRunContext(runID)
	handle := newRunHandle(rc)

	rh.mu.Lock()
	rh.runs[runID] = handle
	rh.mu.Unlock()

	docs := make([]core.Document, 0, len(req.Documents))
	for _, d := range req.Documents {
		docs = append(docs, core.Document{Name: d.Name, Text: d.Text})
	}
	params := core.RunParams{
		RunID:     runID,
		ChatID:    req.ChatID,
		Question:  req.Question,
		ModelID:   req.Model,
		Documents: docs,
		Mode:      mode,
	}

	go func() {
		if _, err := rh.Orchestrator.Run(context.Background(), rc, params, handle.append); err != nil {
			rh.Logger.Printf("[RUN %s] finished with error: %v", runID, err)
		}
	}()

	return c.JSON(http.StatusAccepted, map[string]string{"run_id": runID})
}

// events streams the run's event log as server-sent events, replaying from
// the beginning so late subscribers see the whole run.
func (rh *RunsHandler) events(c echo.Context) error {
	handle, ok := rh.lookup(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown run")
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	cursor := 0
	for {
		evs, done, notify := handle.next(cursor)
		for _, ev := range evs {
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", ev.Kind, payload); err != nil {
				return nil
			}
		}
		cursor += len(evs)
		res.Flush()
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-notify:
		}
	}
}

func (rh *RunsHandler) stop(c echo.Context) error {
	handle, ok := rh.lookup(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown run")
	}
	handle.rc.Cancel()
	return c.JSON(http.StatusOK, map[string]string{"status": "cancelling"})
}

func (rh *RunsHandler) lookup(id string) (*runHandle, bool) {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	h, ok := rh.runs[id]
	return h, ok
}
