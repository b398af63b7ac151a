// Package telemetry exposes Prometheus metrics for the migration pipeline.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vidport"

var (
	// ItemsClaimed counts items handed to download workers.
	ItemsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "items_claimed_total",
		Help:      "Total items claimed by the scheduler for download.",
	})

	// Downloads counts finished downloads by outcome (completed or failed).
	Downloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloads_total",
		Help:      "Total finished downloads, labelled by outcome.",
	}, []string{"outcome"})

	DownloadsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "downloads_in_flight",
		Help:      "Downloads currently occupying a slot.",
	})

	DownloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "download_duration_seconds",
		Help:      "Time from claim to final state for one download.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})

	DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "download_bytes_total",
		Help:      "Total bytes written to verified assets.",
	})

	// ItemsByState mirrors the last stats snapshot.
	ItemsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "items_by_state",
		Help:      "Items in the store, labelled by state, as of the last stats snapshot.",
	}, []string{"state"})

	// Matches counts matcher decisions by outcome.
	Matches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "matches_total",
		Help:      "Total matcher decisions, labelled by outcome.",
	}, []string{"outcome"})
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
