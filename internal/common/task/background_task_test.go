package task

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	clock "k8s.io/utils/clock/testing"
)

func TestBackgroundTaskManager_RunsOnEveryTick(t *testing.T) {
	fakeClock := clock.NewFakeClock(time.Now())
	registry := prometheus.NewRegistry()
	m := NewBackgroundTaskManagerWithClock("test_", registry, fakeClock)

	var runs int32
	m.Register(func() { atomic.AddInt32(&runs, 1) }, time.Minute, "progress")

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 1 && fakeClock.HasWaiters() }, time.Second, time.Millisecond)

	fakeClock.Step(time.Minute)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 2 }, time.Second, time.Millisecond)

	fakeClock.Step(30 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&runs))

	assert.False(t, m.StopAll(time.Second))
	count, err := testutil.GatherAndCount(registry, "test_progress_latency_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestBackgroundTaskManager_StopAllTimesOut(t *testing.T) {
	m := NewBackgroundTaskManager("test_", prometheus.NewRegistry())

	release := make(chan struct{})
	defer close(release)
	m.Register(func() { <-release }, time.Hour, "blocked")

	assert.True(t, m.StopAll(10*time.Millisecond))
}
