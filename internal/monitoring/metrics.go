package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TracksProcessedTotal counts finished pipeline runs by final status
	TracksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yodel_tracks_processed_total",
			Help: "Total number of processed tracks",
		},
		[]string{"status"},
	)

	// PipelineDuration tracks the duration of one track's pipeline in seconds
	PipelineDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "yodel_pipeline_duration_seconds",
			Help:    "Track pipeline duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17min
		},
	)

	// ExtractionAttemptsTotal counts extractor runs by result
	ExtractionAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yodel_extraction_attempts_total",
			Help: "Total number of extractor attempts",
		},
		[]string{"result"},
	)

	// PendingTracks tracks the size of the pending queue
	PendingTracks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "yodel_pending_tracks",
			Help: "Number of pending tracks",
		},
	)

	// ActiveDownloads tracks number of active downloads
	ActiveDownloads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "yodel_active_downloads",
			Help: "Number of active downloads",
		},
	)

	// NonFatalErrorsTotal counts pipeline failures that did not fail the track
	NonFatalErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yodel_nonfatal_errors_total",
			Help: "Total number of non-fatal pipeline errors",
		},
		[]string{"stage"},
	)

	ReconcileRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yodel_reconcile_runs_total",
			Help: "Total number of reconciliation passes",
		},
	)

	// ReconcileDemotedTotal counts tracks moved to the deleted state
	ReconcileDemotedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "yodel_reconcile_demoted_total",
			Help: "Total number of tracks whose file disappeared",
		},
	)
)

// Extraction attempt results
const (
	AttemptSuccess   = "success"
	AttemptFailure   = "failure"
	AttemptCancelled = "cancelled"
)

// RecordDownloadStart records the start of a download
func RecordDownloadStart() {
	ActiveDownloads.Inc()
}

// RecordDownloadComplete records a track that reached its final status
func RecordDownloadComplete(status string, duration time.Duration) {
	TracksProcessedTotal.WithLabelValues(status).Inc()
	PipelineDuration.Observe(duration.Seconds())
	ActiveDownloads.Dec()
}

// RecordExtractionAttempt records one extractor run
func RecordExtractionAttempt(result string) {
	ExtractionAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordNonFatal records a stage failure that did not fail the track
func RecordNonFatal(stage string) {
	NonFatalErrorsTotal.WithLabelValues(stage).Inc()
}

// UpdatePendingTracks updates the pending queue gauge
func UpdatePendingTracks(size int) {
	PendingTracks.Set(float64(size))
}

// RecordReconcile records one reconciliation pass
func RecordReconcile(demoted int) {
	ReconcileRunsTotal.Inc()
	ReconcileDemotedTotal.Add(float64(demoted))
}
