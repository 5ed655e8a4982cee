// Package metrics exposes the dispatcher's Prometheus instrumentation.
// Grounded on ManuGH-xg2g/internal/metrics: package-level collectors
// registered once via promauto, with small Record* helper functions
// rather than exposing the raw collectors to callers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts terminated requests by outcome
	// (completed, failed, stopped).
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedbackd_requests_total",
		Help: "Total number of requests that reached teardown, by outcome.",
	}, []string{"outcome"})

	// SinksPreparedTotal counts sink prepare attempts by sink name and
	// result (ok, failed).
	SinksPreparedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedbackd_sinks_prepared_total",
		Help: "Total number of sink prepare attempts, by sink name and result.",
	}, []string{"sink", "result"})

	// ActiveRequests tracks the number of requests currently in the
	// dispatcher's active list.
	ActiveRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feedbackd_active_requests",
		Help: "Current number of requests in the dispatcher's active list.",
	})

	// TimeToPlaySeconds measures the wall-clock gap between a request
	// entering the preparing phase and its play edge firing.
	TimeToPlaySeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feedbackd_time_to_play_seconds",
		Help:    "Seconds between a request entering PREPARING and its play edge firing.",
		Buckets: prometheus.DefBuckets,
	})
)

// RecordOutcome increments RequestsTotal for outcome, one of
// "completed", "failed", or "stopped".
func RecordOutcome(outcome string) {
	RequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordSinkPrepared increments SinksPreparedTotal for sink, with
// result one of "ok" or "failed".
func RecordSinkPrepared(sinkName, result string) {
	SinksPreparedTotal.WithLabelValues(sinkName, result).Inc()
}
