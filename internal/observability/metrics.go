package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	syncPassTotal    *prometheus.CounterVec
	syncPassDuration prometheus.Histogram
	syncRunning      prometheus.Gauge
	syncFilesTotal   *prometheus.CounterVec
	syncFileDuration *prometheus.HistogramVec

	manifestFiles prometheus.Gauge

	queueSize       *prometheus.GaugeVec
	enqueueTotal    *prometheus.CounterVec
	jobTotal        *prometheus.CounterVec
	jobDuration     prometheus.Histogram
	jobRetryTotal   prometheus.Counter
	deadLetterTotal prometheus.Counter

	watcherEventsTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			syncPassTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "specmgr_sync_pass_total",
					Help: "Total bulk sync passes by mode and status.",
				},
				[]string{"mode", "status"},
			),
			syncPassDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "specmgr_sync_pass_duration_seconds",
					Help:    "Bulk sync pass duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			syncRunning: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "specmgr_sync_running",
					Help: "Bulk sync running state (1 running, 0 idle).",
				},
			),
			syncFilesTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "specmgr_sync_files_total",
					Help: "Total per-file sync operations by operation and status.",
				},
				[]string{"op", "status"},
			),
			syncFileDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "specmgr_sync_file_duration_seconds",
					Help:    "Per-file sync duration in seconds by operation.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"op"},
			),
			manifestFiles: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "specmgr_manifest_files",
					Help: "Number of files recorded in the manifest after the last pass.",
				},
			),
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "specmgr_queue_size",
					Help: "Current queue length by queue name.",
				},
				[]string{"queue"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "specmgr_queue_enqueue_total",
					Help: "Total change events enqueued by event type.",
				},
				[]string{"event"},
			),
			jobTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "specmgr_queue_jobs_total",
					Help: "Total processed jobs by event type and status.",
				},
				[]string{"event", "status"},
			),
			jobDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "specmgr_queue_job_duration_seconds",
					Help:    "Job handling duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			jobRetryTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "specmgr_queue_retry_total",
					Help: "Total job retries scheduled.",
				},
			),
			deadLetterTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "specmgr_queue_dead_letter_total",
					Help: "Total jobs moved to the dead-letter queue.",
				},
			),
			watcherEventsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "specmgr_watcher_events_total",
					Help: "Filesystem events by type and outcome (enqueued, debounced, ignored).",
				},
				[]string{"event", "outcome"},
			),
		}

		prometheus.MustRegister(
			m.syncPassTotal,
			m.syncPassDuration,
			m.syncRunning,
			m.syncFilesTotal,
			m.syncFileDuration,
			m.manifestFiles,
			m.queueSize,
			m.enqueueTotal,
			m.jobTotal,
			m.jobDuration,
			m.jobRetryTotal,
			m.deadLetterTotal,
			m.watcherEventsTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func SetSyncRunning(running bool) {
	m := getMetrics()
	value := 0.0
	if running {
		value = 1.0
	}
	m.syncRunning.Set(value)
}

func RecordSyncPass(force bool, duration time.Duration, success bool) {
	m := getMetrics()
	mode := "incremental"
	if force {
		mode = "force"
	}
	m.syncPassTotal.WithLabelValues(mode, statusLabel(success)).Inc()
	m.syncPassDuration.Observe(duration.Seconds())
}

func RecordSyncFile(op string, duration time.Duration, success bool) {
	m := getMetrics()
	m.syncFilesTotal.WithLabelValues(op, statusLabel(success)).Inc()
	m.syncFileDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func SetManifestFiles(total int) {
	m := getMetrics()
	m.manifestFiles.Set(float64(total))
}

func SetQueueSize(queue string, size int) {
	m := getMetrics()
	m.queueSize.WithLabelValues(queue).Set(float64(size))
}

func RecordQueueEnqueue(event string) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(event).Inc()
}

func RecordJobCompletion(event string, duration time.Duration, success bool) {
	m := getMetrics()
	m.jobTotal.WithLabelValues(event, statusLabel(success)).Inc()
	m.jobDuration.Observe(duration.Seconds())
}

func RecordJobRetry() {
	getMetrics().jobRetryTotal.Inc()
}

func RecordDeadLetter() {
	getMetrics().deadLetterTotal.Inc()
}

func RecordWatcherEvent(event, outcome string) {
	m := getMetrics()
	m.watcherEventsTotal.WithLabelValues(event, outcome).Inc()
}
