// Package metrics declares the Prometheus collectors exported on /-/metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vod_cache"

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Total media requests by method, status code and cache state.",
	}, []string{"method", "status", "cache_state"})

	BytesServedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bytes_served_total",
		Help:      "Total bytes streamed to clients.",
	})

	DownloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloads_total",
		Help:      "Total transfer attempts by outcome (completed, suspended, failed).",
	}, []string{"outcome"})

	DownloadBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "download_bytes_total",
		Help:      "Total bytes written to cache files by the downloader.",
	})

	QueueJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_jobs",
		Help:      "Number of fetch jobs currently queued or running.",
	})

	EvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evictions_total",
		Help:      "Total cache files removed by the evictor.",
	})

	EvictionErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "eviction_errors_total",
		Help:      "Total evictor failures (listing or deleting).",
	})

	SyncEntries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sync_entries",
		Help:      "Entries produced by the last playlist sync, by item type.",
	}, []string{"type"})

	SyncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_duration_seconds",
		Help:      "Duration of playlist sync runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
	})
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		RequestsTotal,
		BytesServedTotal,
		DownloadsTotal,
		DownloadBytesTotal,
		QueueJobs,
		EvictionsTotal,
		EvictionErrorsTotal,
		SyncEntries,
		SyncDuration,
	)
}
