// Package metrics exposes Prometheus instrumentation for the sync engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	syncPassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stitch_sync_passes_total",
		Help: "Total number of account sync passes by provider and outcome.",
	}, []string{"provider", "outcome"})

	syncErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stitch_sync_errors_total",
		Help: "Total number of failed sync passes by error kind.",
	}, []string{"kind"})

	eventsUpsertedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stitch_sync_events_upserted_total",
		Help: "Total number of canonical events upserted.",
	})

	eventsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stitch_sync_events_deleted_total",
		Help: "Total number of events deleted on provider signal.",
	})

	syncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stitch_sync_duration_seconds",
		Help:    "Histogram of full account sync pass durations.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})
)

// ObserveSyncPass records the outcome of one full account pass.
func ObserveSyncPass(provider, outcome string, d time.Duration) {
	syncPassesTotal.WithLabelValues(provider, outcome).Inc()
	syncDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordSyncError counts a failed pass by error kind.
func RecordSyncError(kind string) {
	syncErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordApplied counts applied upserts and deletions.
func RecordApplied(upserted, deleted int) {
	eventsUpsertedTotal.Add(float64(upserted))
	eventsDeletedTotal.Add(float64(deleted))
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
