package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_RecordSubmission(t *testing.T) {
	m := NewMetrics(WorkerMetricsPrefix, 3, prometheus.NewRegistry())

	m.RecordSubmission(10, 4, 20*time.Millisecond)
	m.RecordSubmission(4, 0, 5*time.Millisecond)
	m.RecordRetryGeneration()
	m.RecordWindowCompleted(1)

	assert.Equal(t, 14.0, testutil.ToFloat64(m.documentsSubmitted))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.documentsRejected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retryGenerations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.windowsCompleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.documentsUnresolved))
}

func TestMetrics_RankLabel(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(WorkerMetricsPrefix, 3, registry)
	m.RecordSubmissionError()

	families, err := registry.Gather()
	assert.NoError(t, err)
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			labels := map[string]string{}
			for _, label := range metric.GetLabel() {
				labels[label.GetName()] = label.GetValue()
			}
			assert.Equal(t, "3", labels["rank"], family.GetName())
		}
	}
}

func TestSupervisorMetrics(t *testing.T) {
	m := NewSupervisorMetrics(SupervisorMetricsPrefix, prometheus.NewRegistry())

	m.RecordWorkerStarted()
	m.RecordWorkerStarted()
	m.RecordWorkerExit(WorkerExitFailed)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.workersRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.workerExits.With(map[string]string{"exit": string(WorkerExitFailed)})))
}
