// Package budget assembles candidate conversations and shrinks them
// deterministically until they fit the model's context window.
package budget

import (
	"github.com/loliloopp/aizoomdoc-sub000/provider"
)

// Mode selects how document context is included in the prompt.
type Mode string

const (
	// ModeFullDocument includes the whole document text.
	ModeFullDocument Mode = "full_document"
	// ModeRetrieval includes only retrieved snippets.
	ModeRetrieval Mode = "retrieval"
)

const (
	// historyStep is the fixed decrement applied to the history length on
	// each failed fit attempt.
	historyStep = 3
	// imageTokenCost is the flat per-image token charge used by the
	// estimator.
	imageTokenCost = 1100
)

// Inputs is everything a negotiation attempt assembles from. The candidate
// message sequence is rebuilt, never edited, on each attempt.
type Inputs struct {
	System        string
	MemorySummary string
	History       []provider.Message
	// FullContext is the whole-document context used in ModeFullDocument.
	FullContext string
	// RetrievalContext is the smaller always-included context used in
	// ModeRetrieval.
	RetrievalContext string
}

// Result is an accepted negotiation outcome.
type Result struct {
	Messages      []provider.Message
	Mode          Mode
	HistoryLength int
	Estimated     int
}

// Negotiator shrinks conversation history until the assembled prompt fits
// the context window minus a safety margin. It is pure: repeated calls with
// the same inputs produce the same accepted (mode, historyLength).
type Negotiator struct {
	ContextWindow  int
	SafetyMargin   int
	DefaultHistory int
}

// EstimateTokens is the documented token estimator: ceil(len/4) per text
// plus a flat charge per inline image. Its choice directly shapes the
// shrink loop, so it is part of the observable contract.
func EstimateTokens(messages []provider.Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Text) + 3) / 4
		total += imageTokenCost * len(m.Images)
	}
	return total
}

// Budget is the usable token budget after the safety margin.
func (n *Negotiator) Budget() int {
	return n.ContextWindow - n.SafetyMargin
}

// Negotiate finds the largest history tail that fits, starting in the given
// mode. Full-document mode that cannot fit even with zero history falls
// back to retrieval mode and restarts the shrink loop from the default
// history length. Retrieval mode with zero history still over budget is a
// hard overflow.
func (n *Negotiator) Negotiate(in Inputs, mode Mode) (Result, error) {
	defaultHistory := n.DefaultHistory
	if defaultHistory < 0 {
		defaultHistory = 0
	}

	modes := []Mode{mode}
	if mode == ModeFullDocument {
		modes = append(modes, ModeRetrieval)
	}

	var lastEstimate int
	for _, m := range modes {
		for h := defaultHistory; h >= 0; h -= historyStep {
			msgs := n.assemble(in, m, h)
			est := EstimateTokens(msgs)
			lastEstimate = est
			if est <= n.Budget() {
				return Result{Messages: msgs, Mode: m, HistoryLength: h, Estimated: est}, nil
			}
			// always try exactly zero before giving up on a mode
			if h > 0 && h-historyStep < 0 {
				h = historyStep
			}
		}
	}
	return Result{}, ErrContextOverflow{Budget: n.Budget(), Estimated: lastEstimate}
}

// assemble builds the candidate message sequence: system instructions,
// memory summary, history tail, retrieved context.
func (n *Negotiator) assemble(in Inputs, mode Mode, historyLen int) []provider.Message {
	msgs := make([]provider.Message, 0, historyLen+3)
	if in.System != "" {
		msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Text: in.System})
	}
	if in.MemorySummary != "" {
		msgs = append(msgs, provider.Message{
			Role: provider.RoleSystem,
			Text: "Conversation memory:\n" + in.MemorySummary,
		})
	}
	if historyLen > len(in.History) {
		historyLen = len(in.History)
	}
	if historyLen > 0 {
		msgs = append(msgs, in.History[len(in.History)-historyLen:]...)
	}
	context := in.FullContext
	if mode == ModeRetrieval {
		context = in.RetrievalContext
	}
	if context != "" {
		msgs = append(msgs, provider.Message{Role: provider.RoleUser, Text: context})
	}
	return msgs
}

// AttemptSequence reports the history lengths a shrink loop will try, in
// order, for one mode. Exposed for callers that log negotiation progress.
func (n *Negotiator) AttemptSequence() []int {
	var seq []int
	for h := n.DefaultHistory; h >= 0; h -= historyStep {
		seq = append(seq, h)
		if h > 0 && h-historyStep < 0 {
			h = historyStep
		}
	}
	return seq
}
