// Package metrics provides Prometheus metrics for listing_hunter.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "listing_hunter"

var (
	// CycleRuns counts backfill and detection runs by outcome.
	CycleRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_runs_total",
			Help:      "Total number of sync cycle runs",
		},
		[]string{"cycle", "status"},
	)

	// CycleDuration measures how long a cycle run takes.
	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of sync cycle runs in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"cycle"},
	)

	// ListingsClassified counts detection outcomes per category.
	ListingsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_classified_total",
			Help:      "Total number of listings classified by the detection cycle",
		},
		[]string{"category", "outcome"},
	)

	// Notifications counts per-recipient delivery attempts.
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total number of notification delivery attempts",
		},
		[]string{"kind", "status"},
	)

	// FetchErrors counts failed source page fetches.
	FetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Total number of failed listing source fetches",
		},
		[]string{"cycle", "category"},
	)
)

// RecordCycle records one finished cycle run.
func RecordCycle(cycle string, err error, seconds float64) {
	status := "success"
	if err != nil {
		status = "error"
	}
	CycleRuns.WithLabelValues(cycle, status).Inc()
	CycleDuration.WithLabelValues(cycle).Observe(seconds)
}

func RecordClassified(category, outcome string, n int) {
	if n <= 0 {
		return
	}
	ListingsClassified.WithLabelValues(category, outcome).Add(float64(n))
}

func RecordNotification(kind string, ok bool) {
	status := "sent"
	if !ok {
		status = "failed"
	}
	Notifications.WithLabelValues(kind, status).Inc()
}

func RecordFetchError(cycle, category string) {
	FetchErrors.WithLabelValues(cycle, category).Inc()
}
