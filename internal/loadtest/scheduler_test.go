package loadtest_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dedenruslan19/bidload/internal/loadtest"
	"github.com/Dedenruslan19/bidload/internal/loadtest/metrics"
)

func newTestScheduler(w loadtest.Workload, collector *metrics.Collector) *loadtest.VUScheduler {
	return loadtest.NewVUScheduler(loadtest.SchedulerConfig{
		Scenario: "test",
		Workload: w,
		Metrics:  collector,
		Tags:     map[string]string{"profile": "unit"},
		Seed:     42,
	})
}

func TestVUScheduler_SpawnAndStart(t *testing.T) {
	collector := metrics.NewCollector()
	w := &scriptedWorkload{outcome: successOutcome(), think: 10 * time.Millisecond}
	s := newTestScheduler(w, collector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 5; i++ {
		s.StartVU(ctx, s.SpawnVU())
	}

	assert.Equal(t, 5, s.GetActiveVUCount())
	assert.Equal(t, 5, s.GetLiveVUCount())
	assert.Equal(t, 5, collector.ActiveVUs())

	require.Eventually(t, func() bool {
		return w.calls.Load() >= 10
	}, 2*time.Second, 5*time.Millisecond)

	forced := s.Shutdown(time.Second)
	assert.Equal(t, 0, forced)
	assert.Equal(t, 0, s.GetActiveVUCount())
	assert.Equal(t, 0, collector.ActiveVUs())
	assert.Equal(t, 5, collector.PeakVUs())

	// Scheduler tags reach the collector.
	_, ok := collector.Snapshot().Get("iterations{profile:unit}")
	assert.True(t, ok)
}

func TestVUScheduler_RetireVUs(t *testing.T) {
	w := &scriptedWorkload{outcome: successOutcome(), think: time.Hour}
	s := newTestScheduler(w, metrics.NewCollector())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 4; i++ {
		s.StartVU(ctx, s.SpawnVU())
	}

	assert.Equal(t, 3, s.RetireVUs(3, time.Second))
	assert.Equal(t, 1, s.GetLiveVUCount())

	require.Eventually(t, func() bool {
		return s.GetActiveVUCount() == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, s.RetireVUs(0, time.Second))
	s.Shutdown(time.Second)
}

func TestVUScheduler_GracefulStopExpiryForcesStop(t *testing.T) {
	collector := metrics.NewCollector()
	w := &scriptedWorkload{outcome: successOutcome(), delay: time.Hour}
	s := newTestScheduler(w, collector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 2; i++ {
		s.StartVU(ctx, s.SpawnVU())
	}
	require.Eventually(t, func() bool {
		return w.calls.Load() == 2
	}, time.Second, time.Millisecond)

	start := time.Now()
	forced := s.Shutdown(50 * time.Millisecond)

	assert.Equal(t, 2, forced)
	assert.Equal(t, 2, s.ForcedStops())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int64(2), w.cancelled.Load())

	stops, ok := collector.Snapshot().Get(metrics.ForcedStops)
	require.True(t, ok)
	assert.Equal(t, 2.0, stops.Sum)
}

func TestVUScheduler_RetireForcesAfterRampDownGrace(t *testing.T) {
	w := &scriptedWorkload{outcome: successOutcome(), delay: time.Hour}
	s := newTestScheduler(w, metrics.NewCollector())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.StartVU(ctx, s.SpawnVU())
	require.Eventually(t, func() bool {
		return w.calls.Load() == 1
	}, time.Second, time.Millisecond)

	s.RetireVUs(1, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		return s.ForcedStops() == 1 && s.GetActiveVUCount() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestVUScheduler_PooledIterations(t *testing.T) {
	w := &scriptedWorkload{outcome: successOutcome()}
	s := newTestScheduler(w, metrics.NewCollector())

	vu := s.SpawnVU()
	for i := 0; i < 3; i++ {
		_, err := vu.RunIteration(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), vu.GetIteration())

	assert.Equal(t, 0, s.Shutdown(time.Second))
	assert.Equal(t, loadtest.VUStateStopped, vu.GetState())
	assert.Zero(t, s.GetActiveVUCount())
}
