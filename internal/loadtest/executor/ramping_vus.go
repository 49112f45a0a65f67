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

// RampingVUs ramps VU count up and down according to stages.
//
// Every tick the target is interpolated from the stages and the live VU
// population is moved towards it: new VUs are spawned, or surplus VUs are
// asked to stop and given gracefulRampDown to finish their iteration.
//
// Example stages:
//
//	startVUs: 0
//	stages:
//	  - duration: 30s
//	    target: 50     # Ramp from 0 to 50 VUs over 30s
//	  - duration: 1m
//	    target: 100    # Ramp from 50 to 100 VUs over 1m
//	  - duration: 30s
//	    target: 0      # Ramp down to 0 VUs over 30s
type RampingVUs struct {
	config    *Config
	scheduler *loadtest.VUScheduler

	// State
	startTime    time.Time
	targetVUs    atomic.Int32
	currentStage atomic.Int32
	running      atomic.Bool
	finished     atomic.Bool

	// Cancellation
	cancelFunc context.CancelFunc
	mu         sync.Mutex
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs() *RampingVUs {
	return &RampingVUs{}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeRampingVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeRampingVUs, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	config.applyDefaults(DefaultVUTick)
	e.config = config
	return nil
}

// Run starts the executor and blocks until completion.
func (e *RampingVUs) Run(ctx context.Context, scheduler *loadtest.VUScheduler) error {
	if e.config == nil {
		return fmt.Errorf("executor %s not initialized", TypeRampingVUs)
	}

	// The controller stops at the end of the last stage or when ctx is
	// cancelled. VUs only stop through the scheduler.
	runCtx, cancel := context.WithTimeout(ctx, e.config.TotalDuration())
	e.mu.Lock()
	e.scheduler = scheduler
	e.startTime = time.Now()
	e.cancelFunc = cancel
	e.mu.Unlock()
	defer cancel()

	e.running.Store(true)
	defer e.running.Store(false)

	scheduler.Logger().Info("scenario started",
		zap.String("executor", string(TypeRampingVUs)),
		zap.Int("startVUs", e.config.StartVUs),
		zap.Int("stages", len(e.config.Stages)),
		zap.Duration("duration", e.config.TotalDuration()))

	vuCtx := iterationContext(ctx)
	e.adjustVUs(vuCtx, e.config.StartVUs)
	e.vuController(runCtx, vuCtx)

	forced := scheduler.Shutdown(e.config.GracefulStop)
	e.finished.Store(true)

	scheduler.Logger().Info("scenario finished",
		zap.Int64("iterations", scheduler.Iterations()),
		zap.Int("forcedStops", forced))

	return nil
}

// vuController adjusts VU count according to stages until runCtx ends.
func (e *RampingVUs) vuController(runCtx, vuCtx context.Context) {
	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(e.startTime)
			e.currentStage.Store(int32(StageAt(e.config.Stages, elapsed)))
			e.adjustVUs(vuCtx, TargetVUsAt(e.config.StartVUs, e.config.Stages, elapsed))
		}
	}
}

// adjustVUs moves the live VU population to target.
func (e *RampingVUs) adjustVUs(ctx context.Context, target int) {
	e.targetVUs.Store(int32(target))

	live := e.scheduler.GetLiveVUCount()
	switch {
	case target > live:
		for i := live; i < target; i++ {
			e.scheduler.StartVU(ctx, e.scheduler.SpawnVU())
		}
	case target < live:
		e.scheduler.RetireVUs(live-target, e.config.GracefulRampDown)
	}
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	if e.finished.Load() {
		return 1.0
	}
	if !e.running.Load() {
		return 0.0
	}
	return progress(time.Since(e.started()), e.config.TotalDuration())
}

// GetActiveVUs returns current active VU count.
func (e *RampingVUs) GetActiveVUs() int {
	s := e.sched()
	if s == nil {
		return 0
	}
	return s.GetActiveVUCount()
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	start := e.started()
	var elapsed time.Duration
	if !start.IsZero() {
		elapsed = time.Since(start)
	}

	stageIdx := int(e.currentStage.Load())
	stageName := ""
	if stageIdx < len(e.config.Stages) {
		stageName = e.config.Stages[stageIdx].Name
	}

	stats := &Stats{
		StartTime:        start,
		CurrentTime:      time.Now(),
		Elapsed:          elapsed,
		TotalDuration:    e.config.TotalDuration(),
		TargetVUs:        int(e.targetVUs.Load()),
		CurrentStage:     stageIdx,
		CurrentStageName: stageName,
		TotalStages:      len(e.config.Stages),
	}
	if s := e.sched(); s != nil {
		stats.ActiveVUs = s.GetActiveVUCount()
		stats.Iterations = s.Iterations()
		stats.ForcedStops = s.ForcedStops()
	}
	return stats
}

// Stop ends the ramp early; Run then performs the graceful stop.
func (e *RampingVUs) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.cancelFunc
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (e *RampingVUs) started() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startTime
}

func (e *RampingVUs) sched() *loadtest.VUScheduler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scheduler
}

var _ Executor = (*RampingVUs)(nil)
