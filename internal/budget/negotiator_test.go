package budget

import (
	"strings"
	"testing"

	"github.com/loliloopp/aizoomdoc-sub000/provider"
)

func histTurns(n, charsEach int) []provider.Message {
	msgs := make([]provider.Message, n)
	for i := range msgs {
		role := provider.RoleUser
		if i%2 == 1 {
			role = provider.RoleAssistant
		}
		msgs[i] = provider.Message{Role: role, Text: strings.Repeat("x", charsEach)}
	}
	return msgs
}

func TestEstimateTokens(t *testing.T) {
	msgs := []provider.Message{
		{Role: provider.RoleUser, Text: strings.Repeat("a", 400)},
		{Role: provider.RoleUser, Text: "hi", Images: []provider.ImagePart{{MimeType: "image/png", Data: "xx"}}},
	}
	got := EstimateTokens(msgs)
	want := 100 + 1 + imageTokenCost
	if got != want {
		t.Fatalf("estimate = %d, want %d", got, want)
	}
}

func TestAttemptSequence(t *testing.T) {
	n := &Negotiator{DefaultHistory: 12}
	seq := n.AttemptSequence()
	want := []int{12, 9, 6, 3, 0}
	if len(seq) != len(want) {
		t.Fatalf("sequence = %v, want %v", seq, want)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("sequence = %v, want %v", seq, want)
		}
	}
}

func TestNegotiateFitsWithoutShrinking(t *testing.T) {
	n := &Negotiator{ContextWindow: 10000, SafetyMargin: 500, DefaultHistory: 12}
	in := Inputs{
		System:      "You answer questions about documents.",
		History:     histTurns(12, 100),
		FullContext: strings.Repeat("d", 2000),
	}
	res, err := n.Negotiate(in, ModeFullDocument)
	if err != nil {
		t.Fatalf("negotiate failed: %v", err)
	}
	if res.Mode != ModeFullDocument || res.HistoryLength != 12 {
		t.Fatalf("got (%s, %d), want (full_document, 12)", res.Mode, res.HistoryLength)
	}
}

func TestNegotiateShrinksHistory(t *testing.T) {
	// 12 turns of 1000 chars = 250 tokens each; full context 1000 tokens.
	// Budget 2500 forces the tail down to 6 turns (1500 + 1000 = 2500).
	n := &Negotiator{ContextWindow: 2500, SafetyMargin: 0, DefaultHistory: 12}
	in := Inputs{
		History:     histTurns(12, 1000),
		FullContext: strings.Repeat("d", 4000),
	}
	res, err := n.Negotiate(in, ModeFullDocument)
	if err != nil {
		t.Fatalf("negotiate failed: %v", err)
	}
	if res.Mode != ModeFullDocument {
		t.Fatalf("mode = %s, want full_document", res.Mode)
	}
	if res.HistoryLength != 6 {
		t.Fatalf("history = %d, want 6", res.HistoryLength)
	}
}

func TestNegotiateFallsBackToRetrievalMode(t *testing.T) {
	// Full context alone blows the budget; retrieval context fits with the
	// whole default history, so the fallback restarts from 12.
	n := &Negotiator{ContextWindow: 2000, SafetyMargin: 0, DefaultHistory: 12}
	in := Inputs{
		History:          histTurns(12, 400), // 100 tokens per turn
		FullContext:      strings.Repeat("d", 40000),
		RetrievalContext: strings.Repeat("r", 2000), // 500 tokens
	}
	res, err := n.Negotiate(in, ModeFullDocument)
	if err != nil {
		t.Fatalf("negotiate failed: %v", err)
	}
	if res.Mode != ModeRetrieval {
		t.Fatalf("mode = %s, want retrieval", res.Mode)
	}
	if res.HistoryLength != 12 {
		t.Fatalf("fallback must restart from the default history length, got %d", res.HistoryLength)
	}
}

func TestNegotiateHardOverflow(t *testing.T) {
	n := &Negotiator{ContextWindow: 100, SafetyMargin: 0, DefaultHistory: 12}
	in := Inputs{
		FullContext:      strings.Repeat("d", 40000),
		RetrievalContext: strings.Repeat("r", 40000),
	}
	_, err := n.Negotiate(in, ModeFullDocument)
	if err == nil {
		t.Fatalf("expected hard overflow")
	}
	if _, ok := err.(ErrContextOverflow); !ok {
		t.Fatalf("expected ErrContextOverflow, got %T", err)
	}
}

func TestNegotiateDeterministic(t *testing.T) {
	n := &Negotiator{ContextWindow: 2500, SafetyMargin: 100, DefaultHistory: 12}
	in := Inputs{
		System:           "sys",
		MemorySummary:    "summary",
		History:          histTurns(12, 700),
		FullContext:      strings.Repeat("d", 6000),
		RetrievalContext: strings.Repeat("r", 1500),
	}
	a, errA := n.Negotiate(in, ModeFullDocument)
	b, errB := n.Negotiate(in, ModeFullDocument)
	if (errA == nil) != (errB == nil) {
		t.Fatalf("nondeterministic error behavior")
	}
	if errA == nil {
		if a.Mode != b.Mode || a.HistoryLength != b.HistoryLength {
			t.Fatalf("nondeterministic result: (%s,%d) vs (%s,%d)", a.Mode, a.HistoryLength, b.Mode, b.HistoryLength)
		}
		if a.HistoryLength < 0 {
			t.Fatalf("history length below zero")
		}
	}
}

func TestNegotiateRetrievalModeDirect(t *testing.T) {
	n := &Negotiator{ContextWindow: 1000, SafetyMargin: 0, DefaultHistory: 6}
	in := Inputs{RetrievalContext: strings.Repeat("r", 800)}
	res, err := n.Negotiate(in, ModeRetrieval)
	if err != nil {
		t.Fatalf("negotiate failed: %v", err)
	}
	if res.Mode != ModeRetrieval {
		t.Fatalf("retrieval mode must not escalate to full document")
	}
}
