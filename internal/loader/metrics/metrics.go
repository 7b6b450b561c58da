package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	BulkLoaderMetricsPrefix = "bulk_loader_"
	WorkerMetricsPrefix     = BulkLoaderMetricsPrefix + "worker_"
	SupervisorMetricsPrefix = BulkLoaderMetricsPrefix + "supervisor_"
)

type WorkerExit string

const (
	WorkerExitSucceeded WorkerExit = "succeeded"
	WorkerExitFailed    WorkerExit = "failed"
	WorkerExitKilled    WorkerExit = "killed"
)

// Metrics holds the counters of a single worker process.
type Metrics struct {
	documentsSubmitted  prometheus.Counter
	documentsRejected   prometheus.Counter
	documentsUnresolved prometheus.Counter
	windowsCompleted    prometheus.Counter
	retryGenerations    prometheus.Counter
	submissionErrors    prometheus.Counter
	submissionLatency   prometheus.Histogram
}

// NewMetrics registers the worker metrics with registerer, labelled with the worker's rank.
func NewMetrics(prefix string, rank int, registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"rank": strconv.Itoa(rank)}, registerer))
	return &Metrics{
		documentsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "documents_submitted",
			Help: "Number of documents sent to the backend, including resubmissions",
		}),
		documentsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "documents_rejected",
			Help: "Number of per-document rejections reported by the backend",
		}),
		documentsUnresolved: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "documents_unresolved",
			Help: "Number of documents given up on after the retry budget was spent",
		}),
		windowsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "windows_completed",
			Help: "Number of batch windows fully processed",
		}),
		retryGenerations: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "retry_generations",
			Help: "Number of resubmissions of the rejected subset of a batch",
		}),
		submissionErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "submission_errors",
			Help: "Number of bulk requests that failed as a whole",
		}),
		submissionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    prefix + "submission_latency_seconds",
			Help:    "Bulk request latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}),
	}
}

func (m *Metrics) RecordSubmission(documents int, rejected int, latency time.Duration) {
	m.documentsSubmitted.Add(float64(documents))
	m.documentsRejected.Add(float64(rejected))
	m.submissionLatency.Observe(latency.Seconds())
}

func (m *Metrics) RecordSubmissionError() {
	m.submissionErrors.Inc()
}

func (m *Metrics) RecordRetryGeneration() {
	m.retryGenerations.Inc()
}

func (m *Metrics) RecordWindowCompleted(unresolved int) {
	m.windowsCompleted.Inc()
	m.documentsUnresolved.Add(float64(unresolved))
}

// SupervisorMetrics holds the metrics of the orchestrator process.
type SupervisorMetrics struct {
	workersRunning prometheus.Gauge
	workerExits    *prometheus.CounterVec
}

func NewSupervisorMetrics(prefix string, registerer prometheus.Registerer) *SupervisorMetrics {
	factory := promauto.With(registerer)
	return &SupervisorMetrics{
		workersRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "workers_running",
			Help: "Number of worker processes currently alive",
		}),
		workerExits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "worker_exits",
			Help: "Number of worker process exits grouped by how they exited",
		}, []string{"exit"}),
	}
}

func (m *SupervisorMetrics) RecordWorkerStarted() {
	m.workersRunning.Inc()
}

func (m *SupervisorMetrics) RecordWorkerExit(exit WorkerExit) {
	m.workersRunning.Dec()
	m.workerExits.With(map[string]string{"exit": string(exit)}).Inc()
}
