package server

import (
	"testing"
	"time"

	"github.com/loliloopp/aizoomdoc-sub000/internal/agent/core"
)

func TestRunHandleReplayAndNotify(t *testing.T) {
	h := newRunHandle(core.NewRunContext("run-1"))

	h.append(core.Event{Kind: core.EventLog, Text: "step 1"})
	h.append(core.Event{Kind: core.EventAssistantMessage, Text: "looking"})

	evs, done, notify := h.next(0)
	if len(evs) != 2 || done {
		t.Fatalf("expected 2 replayed events and not done, got %d done=%v", len(evs), done)
	}

	go h.append(core.Event{Kind: core.EventRunFinished, Text: "answer"})
	select {
	case <-notify:
	case <-time.After(time.Second):
		t.Fatalf("append did not signal subscriber")
	}

	evs, done, _ = h.next(2)
	if len(evs) != 1 || evs[0].Kind != core.EventRunFinished {
		t.Fatalf("expected the finish event, got %+v", evs)
	}
	if !done {
		t.Fatalf("handle should be done after run_finished")
	}
}

func TestRunHandleTerminalOnError(t *testing.T) {
	h := newRunHandle(core.NewRunContext("run-2"))
	h.append(core.Event{Kind: core.EventRunErrored, Error: "step limit reached"})
	_, done, _ := h.next(0)
	if !done {
		t.Fatalf("handle should be done after run_errored")
	}
}
