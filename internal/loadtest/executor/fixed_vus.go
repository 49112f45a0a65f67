package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Dedenruslan19/bidload/internal/loadtest"
)

// FixedVUs runs a fixed number of VUs for a specified duration.
//
// All VUs start at time zero and loop (closed model) until the duration
// expires, then get gracefulStop to finish their in-flight iteration.
type FixedVUs struct {
	config    *Config
	scheduler *loadtest.VUScheduler

	// State
	startTime time.Time
	running   atomic.Bool
	finished  atomic.Bool

	// Cancellation
	cancelFunc context.CancelFunc
	mu         sync.Mutex
}

// NewFixedVUs creates a new fixed VUs executor.
func NewFixedVUs() *FixedVUs {
	return &FixedVUs{}
}

// Type returns the executor type.
func (e *FixedVUs) Type() Type {
	return TypeFixedVUs
}

// Init initializes the executor with configuration.
func (e *FixedVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeFixedVUs && config.Type != TypeConstantVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeFixedVUs, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	config.applyDefaults(DefaultVUTick)
	e.config = config
	return nil
}

// Run starts the executor and blocks until completion.
func (e *FixedVUs) Run(ctx context.Context, scheduler *loadtest.VUScheduler) error {
	if e.config == nil {
		return fmt.Errorf("executor %s not initialized", TypeFixedVUs)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.config.Duration)
	e.mu.Lock()
	e.scheduler = scheduler
	e.startTime = time.Now()
	e.cancelFunc = cancel
	e.mu.Unlock()
	defer cancel()

	e.running.Store(true)
	defer e.running.Store(false)

	scheduler.Logger().Info("scenario started",
		zap.String("executor", string(TypeFixedVUs)),
		zap.Int("vus", e.config.VUs),
		zap.Duration("duration", e.config.Duration))

	vuCtx := iterationContext(ctx)
	for i := 0; i < e.config.VUs; i++ {
		scheduler.StartVU(vuCtx, scheduler.SpawnVU())
	}

	<-runCtx.Done()

	forced := scheduler.Shutdown(e.config.GracefulStop)
	e.finished.Store(true)

	scheduler.Logger().Info("scenario finished",
		zap.Int64("iterations", scheduler.Iterations()),
		zap.Int("forcedStops", forced))

	return nil
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *FixedVUs) GetProgress() float64 {
	if e.finished.Load() {
		return 1.0
	}
	if !e.running.Load() {
		return 0.0
	}
	return progress(time.Since(e.started()), e.config.Duration)
}

// GetActiveVUs returns current active VU count.
func (e *FixedVUs) GetActiveVUs() int {
	s := e.sched()
	if s == nil {
		return 0
	}
	return s.GetActiveVUCount()
}

// GetStats returns executor statistics.
func (e *FixedVUs) GetStats() *Stats {
	start := e.started()
	var elapsed time.Duration
	if !start.IsZero() {
		elapsed = time.Since(start)
	}

	stats := &Stats{
		StartTime:     start,
		CurrentTime:   time.Now(),
		Elapsed:       elapsed,
		TotalDuration: e.config.Duration,
		TargetVUs:     e.config.VUs,
	}
	if s := e.sched(); s != nil {
		stats.ActiveVUs = s.GetActiveVUCount()
		stats.Iterations = s.Iterations()
		stats.ForcedStops = s.ForcedStops()
	}
	return stats
}

// Stop ends the scenario early; Run then performs the graceful stop.
func (e *FixedVUs) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.cancelFunc
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (e *FixedVUs) started() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startTime
}

func (e *FixedVUs) sched() *loadtest.VUScheduler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scheduler
}

var _ Executor = (*FixedVUs)(nil)
