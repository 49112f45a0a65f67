package executor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Dedenruslan19/bidload/internal/loadtest"
	"github.com/Dedenruslan19/bidload/internal/loadtest/metrics"
	"github.com/Dedenruslan19/bidload/internal/loadtest/rate"
)

// RampingArrivalRate starts iterations at a rate that ramps through stages,
// independently of how long each iteration takes (open model).
//
// Iterations run on VUs from a pool that starts with preAllocatedVUs idle
// VUs and may grow up to maxVUs. When a due iteration finds no idle VU and
// the pool is at maxVUs, the iteration is dropped and counted in
// dropped_iterations; dispatch never waits for a VU.
//
// Example:
//
//	executor: ramping-arrival-rate
//	startRate: 1
//	timeUnit: 1s
//	preAllocatedVUs: 50
//	maxVUs: 500
//	stages:
//	  - duration: 5m
//	    target: 10    # Ramp to 10 iterations/s
//	  - duration: 1m
//	    target: 100   # Ramp to 100 iterations/s
type RampingArrivalRate struct {
	config    *Config
	scheduler *loadtest.VUScheduler

	accumulator *rate.Accumulator
	pool        chan *loadtest.VirtualUser
	spawned     atomic.Int32

	// State
	startTime    time.Time
	currentRate  atomic.Uint64 // float64 bits, iterations/second
	currentStage atomic.Int32
	dispatched   atomic.Int64
	dropped      atomic.Int64
	running      atomic.Bool
	finished     atomic.Bool

	// Cancellation
	cancelFunc context.CancelFunc
	mu         sync.Mutex
}

// NewRampingArrivalRate creates a new ramping arrival rate executor.
func NewRampingArrivalRate() *RampingArrivalRate {
	return &RampingArrivalRate{}
}

// Type returns the executor type.
func (e *RampingArrivalRate) Type() Type {
	return TypeRampingArrivalRate
}

// Init initializes the executor with configuration.
func (e *RampingArrivalRate) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeRampingArrivalRate {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeRampingArrivalRate, config.Type)
	}

	if err := config.Validate(); err != nil {
		return err
	}

	config.applyDefaults(DefaultArrivalTick)
	e.config = config
	e.accumulator = rate.NewAccumulator(0)
	e.pool = make(chan *loadtest.VirtualUser, config.MaxVUs)
	return nil
}

// Run starts the executor and blocks until completion.
func (e *RampingArrivalRate) Run(ctx context.Context, scheduler *loadtest.VUScheduler) error {
	if e.config == nil {
		return fmt.Errorf("executor %s not initialized", TypeRampingArrivalRate)
	}

	for i := 0; i < e.config.PreAllocatedVUs; i++ {
		e.spawned.Add(1)
		e.pool <- scheduler.SpawnVU()
	}

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
		zap.String("executor", string(TypeRampingArrivalRate)),
		zap.Int("preAllocatedVUs", e.config.PreAllocatedVUs),
		zap.Int("maxVUs", e.config.MaxVUs),
		zap.Duration("duration", e.config.TotalDuration()))

	e.rateController(runCtx, iterationContext(ctx))

	forced := scheduler.Shutdown(e.config.GracefulStop)
	e.finished.Store(true)

	scheduler.Logger().Info("scenario finished",
		zap.Int64("iterations", e.dispatched.Load()),
		zap.Int64("droppedIterations", e.dropped.Load()),
		zap.Int64("dueIterations", e.accumulator.Stats().TotalDue),
		zap.Int32("vusAllocated", e.spawned.Load()),
		zap.Int("forcedStops", forced))

	return nil
}

// rateController dispatches due iterations every tick until runCtx ends.
func (e *RampingArrivalRate) rateController(runCtx, iterCtx context.Context) {
	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	last := e.startTime
	lastRate := e.rateAt(0)

	for {
		select {
		case <-runCtx.Done():
			return
		case now := <-ticker.C:
			elapsed := now.Sub(e.startTime)
			r := e.rateAt(elapsed)
			e.currentRate.Store(math.Float64bits(r))
			e.currentStage.Store(int32(StageAt(e.config.Stages, elapsed)))

			// Trapezoid over the tick: exact for a linear ramp.
			due := e.accumulator.Due((lastRate+r)/2, now.Sub(last))
			last, lastRate = now, r

			for i := 0; i < due; i++ {
				e.dispatch(iterCtx)
			}
		}
	}
}

// rateAt returns the target rate in iterations per second.
func (e *RampingArrivalRate) rateAt(elapsed time.Duration) float64 {
	return perSecond(TargetAt(float64(e.config.StartRate), e.config.Stages, elapsed), e.config.TimeUnit)
}

// dispatch starts one iteration on an idle VU, or drops it.
func (e *RampingArrivalRate) dispatch(ctx context.Context) {
	vu := e.acquire()
	if vu == nil {
		e.dropped.Add(1)
		if m := e.scheduler.Metrics(); m != nil {
			_ = m.AddCounter(metrics.DroppedIterations, 1, map[string]string{"scenario": e.scheduler.Scenario()})
		}
		return
	}

	e.dispatched.Add(1)
	e.scheduler.Go(func() {
		if _, err := vu.RunIteration(ctx); err != nil {
			return
		}
		if vu.Live() {
			e.pool <- vu
		}
	})
}

// acquire returns an idle VU, growing the pool up to maxVUs. Only the
// controller goroutine calls it.
func (e *RampingArrivalRate) acquire() *loadtest.VirtualUser {
	select {
	case vu := <-e.pool:
		if vu.Live() {
			return vu
		}
	default:
	}

	if int(e.spawned.Load()) < e.config.MaxVUs {
		e.spawned.Add(1)
		return e.scheduler.SpawnVU()
	}
	return nil
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingArrivalRate) GetProgress() float64 {
	if e.finished.Load() {
		return 1.0
	}
	if !e.running.Load() {
		return 0.0
	}
	return progress(time.Since(e.started()), e.config.TotalDuration())
}

// GetActiveVUs returns the number of VUs currently executing an iteration.
func (e *RampingArrivalRate) GetActiveVUs() int {
	busy := int(e.spawned.Load()) - len(e.pool)
	if busy < 0 {
		return 0
	}
	return busy
}

// GetStats returns executor statistics.
func (e *RampingArrivalRate) GetStats() *Stats {
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
		StartTime:         start,
		CurrentTime:       time.Now(),
		Elapsed:           elapsed,
		TotalDuration:     e.config.TotalDuration(),
		ActiveVUs:         e.GetActiveVUs(),
		TargetVUs:         int(e.spawned.Load()),
		MaxVUs:            e.config.MaxVUs,
		Iterations:        e.dispatched.Load(),
		DroppedIterations: e.dropped.Load(),
		CurrentStage:      stageIdx,
		CurrentStageName:  stageName,
		TotalStages:       len(e.config.Stages),
		CurrentRate:       math.Float64frombits(e.currentRate.Load()),
		TargetRate:        e.rateAt(elapsed),
		DueIterations:     e.accumulator.Stats().TotalDue,
	}
	if s := e.sched(); s != nil {
		stats.ForcedStops = s.ForcedStops()
	}
	return stats
}

// Stop ends dispatching early; Run then performs the graceful stop.
func (e *RampingArrivalRate) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.cancelFunc
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (e *RampingArrivalRate) started() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startTime
}

func (e *RampingArrivalRate) sched() *loadtest.VUScheduler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scheduler
}

var _ Executor = (*RampingArrivalRate)(nil)
