package loadtest

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Dedenruslan19/bidload/internal/loadtest/metrics"
)

// forcedExitWait bounds how long Shutdown waits for force-stopped VUs to
// observe cancellation.
const forcedExitWait = 5 * time.Second

// SchedulerConfig configures a VU pool for one scenario.
type SchedulerConfig struct {
	// Scenario name, used for tags and logs
	Scenario string

	// Workload run by every VU of the pool
	Workload Workload

	// Metrics collector shared by the whole test
	Metrics *metrics.Collector

	// Logger, defaults to a no-op logger
	Logger *zap.Logger

	// Tags added to every sample, in addition to the scenario tag
	Tags map[string]string

	// Seed for per-VU random sources; 0 picks a time-based seed
	Seed int64
}

// VUScheduler manages the lifecycle of the Virtual Users of one scenario.
//
// It provides:
// - VU pool management (spawning / retiring VUs)
// - Graceful stop with forced retirement after a deadline
// - Tracking of goroutines started on behalf of VUs
//
// The scheduler is used by executors to control VU counts.
type VUScheduler struct {
	config SchedulerConfig
	logger *zap.Logger

	// Registered VUs
	vus   map[int]*VirtualUser
	vusMu sync.RWMutex

	// VU ID counter
	nextVUID atomic.Int32

	seed int64

	// Goroutines executing iterations
	running sync.WaitGroup

	forcedStops atomic.Int64
	iterations  atomic.Int64
}

// NewVUScheduler creates a new VU scheduler.
func NewVUScheduler(config SchedulerConfig) *VUScheduler {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &VUScheduler{
		config: config,
		logger: logger.With(zap.String("scenario", config.Scenario)),
		vus:    make(map[int]*VirtualUser),
		seed:   seed,
	}
}

// Scenario returns the scenario name.
func (s *VUScheduler) Scenario() string {
	return s.config.Scenario
}

// Logger returns the scenario-scoped logger.
func (s *VUScheduler) Logger() *zap.Logger {
	return s.logger
}

// Metrics returns the collector shared by the pool.
func (s *VUScheduler) Metrics() *metrics.Collector {
	return s.config.Metrics
}

// SpawnVU creates and registers a new Virtual User.
//
// The VU is registered with the scheduler but not started.
func (s *VUScheduler) SpawnVU() *VirtualUser {
	id := int(s.nextVUID.Add(1))
	rng := rand.New(rand.NewSource(s.seed + int64(id)))

	vu := NewVirtualUser(id, s.config.Scenario, s.config.Workload.NewUser(id, rng), s.config.Metrics, s.logger)
	vu.poolIterations = &s.iterations
	for k, v := range s.config.Tags {
		if k != "scenario" {
			vu.tags[k] = v
		}
	}

	s.vusMu.Lock()
	s.vus[id] = vu
	s.vusMu.Unlock()

	if s.config.Metrics != nil {
		s.config.Metrics.AddActiveVUs(1)
	}
	return vu
}

// StartVU runs vu's iteration loop in a new goroutine. The VU is released
// from the pool once it stops.
func (s *VUScheduler) StartVU(ctx context.Context, vu *VirtualUser) {
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer s.release(vu)
		vu.Run(ctx)
	}()
}

// Go runs fn in a goroutine tracked by Shutdown.
func (s *VUScheduler) Go(fn func()) {
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		fn()
	}()
}

// GetActiveVUCount returns the count of registered, non-stopped VUs,
// including those finishing their last iteration.
func (s *VUScheduler) GetActiveVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	count := 0
	for _, vu := range s.vus {
		if vu.GetState() != VUStateStopped {
			count++
		}
	}
	return count
}

// GetLiveVUCount returns the count of VUs that have not been asked to stop.
func (s *VUScheduler) GetLiveVUCount() int {
	s.vusMu.RLock()
	defer s.vusMu.RUnlock()

	count := 0
	for _, vu := range s.vus {
		if vu.Live() {
			count++
		}
	}
	return count
}

// RetireVUs requests n live VUs to stop. Each gets grace to finish its
// in-flight iteration before it is force-stopped. Returns the number of
// VUs asked to stop.
func (s *VUScheduler) RetireVUs(n int, grace time.Duration) int {
	if n <= 0 {
		return 0
	}

	retiring := make([]*VirtualUser, 0, n)
	s.vusMu.RLock()
	for _, vu := range s.vus {
		if len(retiring) >= n {
			break
		}
		if vu.Live() {
			retiring = append(retiring, vu)
		}
	}
	s.vusMu.RUnlock()

	for _, vu := range retiring {
		vu.RequestStop()
		go s.enforceGrace(vu, grace)
	}
	return len(retiring)
}

// Iterations returns the number of iterations started by the pool's VUs.
func (s *VUScheduler) Iterations() int64 {
	return s.iterations.Load()
}

// ForcedStops returns the number of VUs force-stopped so far.
func (s *VUScheduler) ForcedStops() int {
	return int(s.forcedStops.Load())
}

// Shutdown stops every VU, waiting up to grace for in-flight iterations to
// complete. VUs still running after grace are force-stopped. Returns the
// number of forced stops.
func (s *VUScheduler) Shutdown(grace time.Duration) int {
	s.vusMu.RLock()
	vus := make([]*VirtualUser, 0, len(s.vus))
	for _, vu := range s.vus {
		vus = append(vus, vu)
	}
	s.vusMu.RUnlock()

	for _, vu := range vus {
		vu.RequestStop()
	}

	deadline := time.Now().Add(grace)
	forced := 0
	for _, vu := range vus {
		if vu.WaitForStop(time.Until(deadline)) {
			continue
		}
		if s.force(vu, grace) {
			forced++
		}
	}

	done := make(chan struct{})
	go func() {
		s.running.Wait()
		close(done)
	}()

	timer := time.NewTimer(forcedExitWait)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		s.logger.Warn("virtual users still running after forced stop",
			zap.Int("vus", s.GetActiveVUCount()))
	}

	for _, vu := range vus {
		s.release(vu)
	}
	return forced
}

func (s *VUScheduler) enforceGrace(vu *VirtualUser, grace time.Duration) {
	if vu.WaitForStop(grace) {
		return
	}
	s.force(vu, grace)
}

// force stops vu unless another caller already did. Returns true if this
// call performed the forced stop.
func (s *VUScheduler) force(vu *VirtualUser, grace time.Duration) bool {
	if vu.GetState() == VUStateStopped || !vu.ForceStop() {
		return false
	}

	s.forcedStops.Add(1)
	if s.config.Metrics != nil {
		_ = s.config.Metrics.AddCounter(metrics.ForcedStops, 1, map[string]string{"scenario": s.config.Scenario})
	}
	s.logger.Warn("forced stop: iteration exceeded graceful stop",
		zap.Int("vu", vu.ID),
		zap.Int64("iteration", vu.GetIteration()),
		zap.Duration("gracefulStop", grace))
	return true
}

// release removes a stopped VU from the pool.
func (s *VUScheduler) release(vu *VirtualUser) {
	s.vusMu.Lock()
	_, ok := s.vus[vu.ID]
	delete(s.vus, vu.ID)
	s.vusMu.Unlock()

	if ok && s.config.Metrics != nil {
		s.config.Metrics.AddActiveVUs(-1)
	}
}
