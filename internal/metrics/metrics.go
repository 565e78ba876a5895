// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeDropped  = "dropped"
	OutcomeFallback = "fallback"
	OutcomeRejected = "rejected"
)

var (
	completionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "helixar_completion_duration_seconds",
		Help:    "Time spent waiting for the completion provider.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
	}, []string{"model", "outcome"})

	completionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helixar_completions_total",
		Help: "Completion results applied to sessions, by outcome.",
	}, []string{"outcome"})

	searchCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helixar_web_search_total",
		Help: "web_search tool attempts, by source and outcome.",
	}, []string{"source", "outcome"})

	persistedSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helixar_persisted_sessions",
		Help: "Number of sessions in the persisted list.",
	})
)

// ObserveCompletion records one provider round trip.
func ObserveCompletion(model, outcome string, took time.Duration) {
	completionDuration.WithLabelValues(model, outcome).Observe(took.Seconds())
}

// CountCompletion records what the session store did with a completion result.
func CountCompletion(outcome string) {
	completionsTotal.WithLabelValues(outcome).Inc()
}

// CountSearch records one web_search attempt against source.
func CountSearch(source, outcome string) {
	searchCalls.WithLabelValues(source, outcome).Inc()
}

// SetPersistedSessions reports the current length of the persisted list.
func SetPersistedSessions(n int) {
	persistedSessions.Set(float64(n))
}
