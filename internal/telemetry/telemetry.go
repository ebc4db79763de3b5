// Package telemetry exposes Prometheus metrics for the QA agent.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Telemetry holds the agent's metric collectors. A single instance is
// shared by all runs in the process.
type Telemetry struct {
	ModelCalls       *prometheus.CounterVec
	ModelLatency     prometheus.Histogram
	TokensUsed       *prometheus.CounterVec
	CacheFetches     *prometheus.CounterVec
	ZoomRequests     *prometheus.CounterVec
	RunOutcomes      *prometheus.CounterVec
	NegotiationDrops prometheus.Counter
}

// New registers the agent metrics on the given registerer (nil uses the
// default registry).
func New(reg prometheus.Registerer) *Telemetry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Telemetry{
		ModelCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aizoomdoc_model_calls_total",
			Help: "Model endpoint calls by outcome.",
		}, []string{"outcome"}),
		ModelLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aizoomdoc_model_latency_seconds",
			Help:    "Latency of model endpoint calls.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		TokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aizoomdoc_tokens_total",
			Help: "Token usage reported by the model endpoint.",
		}, []string{"kind"}),
		CacheFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aizoomdoc_image_fetches_total",
			Help: "Base image fetches by cache result.",
		}, []string{"result"}),
		ZoomRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aizoomdoc_zoom_requests_total",
			Help: "Zoom requests by outcome.",
		}, []string{"outcome"}),
		RunOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aizoomdoc_runs_total",
			Help: "Completed runs by terminal state.",
		}, []string{"state"}),
		NegotiationDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "aizoomdoc_negotiation_history_drops_total",
			Help: "Times the negotiator had to shrink history to fit the budget.",
		}),
	}
}

// RecordModelCall records one model call with its latency and usage.
func (t *Telemetry) RecordModelCall(outcome string, elapsed time.Duration, promptTokens, completionTokens int64) {
	if t == nil {
		return
	}
	t.ModelCalls.WithLabelValues(outcome).Inc()
	t.ModelLatency.Observe(elapsed.Seconds())
	t.TokensUsed.WithLabelValues("prompt").Add(float64(promptTokens))
	t.TokensUsed.WithLabelValues("completion").Add(float64(completionTokens))
}
