// Package metrics exposes pass and provider health as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"

	"EquitySync/internal/model"
)

var (
	entityResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "equitysync_entity_results_total",
			Help: "Per-entity outcomes by pass stage",
		},
		[]string{"stage", "outcome"},
	)

	passDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "equitysync_pass_duration_seconds",
			Help:    "Wall time of a full synchronization pass",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	passesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "equitysync_passes_total",
			Help: "Completed passes by result (ok, partial)",
		},
		[]string{"result"},
	)

	lastPassTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "equitysync_last_pass_timestamp_seconds",
			Help: "Unix time the last pass finished",
		},
	)

	indexEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "equitysync_index_entries",
			Help: "Entities with a confirmed last date",
		},
	)

	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "equitysync_provider_breaker_state",
			Help: "Provider circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"provider"},
	)
)

// ObservePass records every result of a finished pass.
func ObservePass(r *model.PassReport) {
	for _, res := range r.Results {
		entityResults.WithLabelValues(string(res.Stage), string(res.Outcome)).Inc()
	}
	passDuration.Observe(r.Duration().Seconds())
	result := "ok"
	if !r.OK() {
		result = "partial"
	}
	passesTotal.WithLabelValues(result).Inc()
	lastPassTimestamp.Set(float64(r.FinishedAt.Unix()))
}

// SetIndexEntries publishes the freshness index size.
func SetIndexEntries(n int) {
	indexEntries.Set(float64(n))
}

// BreakerStateChanged matches collector.GuardConfig.OnStateChange.
func BreakerStateChanged(name string, _, to gobreaker.State) {
	var v float64
	switch to {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	breakerState.WithLabelValues(name).Set(v)
}
