package loadtest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Dedenruslan19/bidload/internal/loadtest/metrics"
)

// ErrVUStopped is returned when an iteration is requested from a VU that
// has been asked to stop.
var ErrVUStopped = errors.New("virtual user is stopping or stopped")

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is ready but not currently running.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is executing an iteration.
	VUStateRunning
	// VUStateSleeping indicates the VU is in think time between iterations.
	VUStateSleeping
	// VUStateStopping indicates the VU has been requested to stop.
	VUStateStopping
	// VUStateStopped indicates the VU has fully stopped.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateSleeping:
		return "sleeping"
	case VUStateStopping:
		return "stopping"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VirtualUser is a single simulated bidder.
//
// State moves Idle -> Running -> Sleeping -> Idle -> ... until a stop is
// requested, then Stopping -> Stopped. Every transition out of a live state
// is a compare-and-swap, so once RequestStop has succeeded no new iteration
// can begin. An iteration already in flight is allowed to finish; only
// ForceStop cancels it.
type VirtualUser struct {
	// Unique identifier for this VU within its scenario
	ID int

	// Scenario name, added as a tag to every sample
	Scenario string

	// Metrics collector for recording results
	Metrics *metrics.Collector

	user   User
	tags   map[string]string
	logger *zap.Logger

	// Lifecycle state (atomic for lock-free reads)
	state   atomic.Int32
	looping atomic.Bool

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
	doneOnce sync.Once

	// Cancelled by ForceStop; aborts the in-flight iteration.
	forceCtx    context.Context
	forceCancel context.CancelFunc
	forced      atomic.Bool

	iteration atomic.Int64

	// Pool-wide iteration counter, set by the scheduler
	poolIterations *atomic.Int64
}

// NewVirtualUser creates a new Virtual User around the given private state.
func NewVirtualUser(id int, scenario string, user User, collector *metrics.Collector, logger *zap.Logger) *VirtualUser {
	if logger == nil {
		logger = zap.NewNop()
	}
	forceCtx, forceCancel := context.WithCancel(context.Background())
	return &VirtualUser{
		ID:          id,
		Scenario:    scenario,
		Metrics:     collector,
		user:        user,
		tags:        map[string]string{"scenario": scenario},
		logger:      logger,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		forceCtx:    forceCtx,
		forceCancel: forceCancel,
	}
}

// GetState returns the current VU state.
func (vu *VirtualUser) GetState() VUState {
	return VUState(vu.state.Load())
}

// GetIteration returns the number of iterations started.
func (vu *VirtualUser) GetIteration() int64 {
	return vu.iteration.Load()
}

// Live reports whether the VU has not been asked to stop.
func (vu *VirtualUser) Live() bool {
	s := vu.GetState()
	return s != VUStateStopping && s != VUStateStopped
}

// Run executes iterations with think time until a stop is requested or ctx
// is cancelled. It marks the VU stopped before returning.
func (vu *VirtualUser) Run(ctx context.Context) {
	vu.looping.Store(true)
	defer vu.MarkStopped()

	for {
		if ctx.Err() != nil {
			return
		}
		if !vu.transition(VUStateIdle, VUStateRunning) {
			return
		}

		vu.execute(ctx)

		if !vu.transition(VUStateRunning, VUStateSleeping) {
			return
		}
		if !vu.sleep(ctx, vu.user.ThinkTime()) {
			return
		}
		if !vu.transition(VUStateSleeping, VUStateIdle) {
			return
		}
	}
}

// RunIteration executes exactly one iteration without think time and
// returns the VU to Idle. Used by open-model executors that own pacing.
func (vu *VirtualUser) RunIteration(ctx context.Context) (Outcome, error) {
	if !vu.transition(VUStateIdle, VUStateRunning) {
		return Outcome{}, ErrVUStopped
	}

	out := vu.execute(ctx)

	if !vu.transition(VUStateRunning, VUStateIdle) {
		// Stop requested while the iteration was in flight.
		vu.MarkStopped()
	}
	return out, nil
}

// RequestStop signals the VU to stop after completing the current
// iteration. Think time is interrupted immediately.
func (vu *VirtualUser) RequestStop() {
	for {
		current := vu.GetState()
		if current == VUStateStopping || current == VUStateStopped {
			return
		}
		if vu.state.CompareAndSwap(int32(current), int32(VUStateStopping)) {
			vu.stopOnce.Do(func() { close(vu.stopCh) })
			// A pooled VU that is not executing has nothing left to finish.
			if current == VUStateIdle && !vu.looping.Load() {
				vu.MarkStopped()
			}
			return
		}
	}
}

// ForceStop cancels the in-flight iteration. It implies RequestStop.
// Returns false if the VU was already force-stopped.
func (vu *VirtualUser) ForceStop() bool {
	vu.RequestStop()
	if !vu.forced.CompareAndSwap(false, true) {
		return false
	}
	vu.forceCancel()
	return true
}

// WaitForStop waits for the VU to stop with a timeout.
//
// Returns true if the VU stopped within the timeout, false otherwise.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-vu.doneCh:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-vu.doneCh:
		return true
	case <-timer.C:
		return false
	}
}

// Done returns a channel closed once the VU has stopped.
func (vu *VirtualUser) Done() <-chan struct{} {
	return vu.doneCh
}

// MarkStopped marks the VU as fully stopped.
func (vu *VirtualUser) MarkStopped() {
	vu.state.Store(int32(VUStateStopped))
	vu.stopOnce.Do(func() { close(vu.stopCh) })
	vu.doneOnce.Do(func() {
		close(vu.doneCh)
		vu.forceCancel()
	})
}

func (vu *VirtualUser) transition(from, to VUState) bool {
	return vu.state.CompareAndSwap(int32(from), int32(to))
}

// execute runs one iteration and records its samples.
func (vu *VirtualUser) execute(ctx context.Context) Outcome {
	n := vu.iteration.Add(1)
	if vu.poolIterations != nil {
		vu.poolIterations.Add(1)
	}

	iterCtx, cancel := context.WithCancel(ctx)
	stopForce := context.AfterFunc(vu.forceCtx, cancel)

	start := time.Now()
	out := vu.user.Iterate(iterCtx, n)
	elapsed := time.Since(start)

	stopForce()
	cancel()

	vu.record(out, elapsed)
	return out
}

func (vu *VirtualUser) record(out Outcome, elapsed time.Duration) {
	m := vu.Metrics
	if m == nil {
		return
	}

	errs := make([]error, 0, 2)
	if out.Result != ResultSkipped {
		errs = append(errs,
			m.AddCounter(metrics.HTTPReqs, 1, vu.tags),
			m.AddDuration(metrics.HTTPReqDuration, out.Duration, vu.tags),
			m.AddRate(metrics.HTTPReqFailed, out.Result == ResultFailed, vu.tags),
		)
	}
	errs = append(errs,
		m.AddCounter(metrics.Iterations, 1, vu.tags),
		m.AddDuration(metrics.IterationDuration, elapsed, vu.tags),
	)

	for _, sample := range out.Samples {
		sample.Tags = vu.withTags(sample.Tags)
		errs = append(errs, m.Record(sample))
	}

	if err := errors.Join(errs...); err != nil {
		vu.logger.Error("failed to record samples",
			zap.String("scenario", vu.Scenario),
			zap.Int("vu", vu.ID),
			zap.Error(err))
	}
}

func (vu *VirtualUser) withTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return vu.tags
	}
	merged := make(map[string]string, len(tags)+len(vu.tags))
	for k, v := range tags {
		merged[k] = v
	}
	for k, v := range vu.tags {
		merged[k] = v
	}
	return merged
}

// sleep waits for d or until stopped. It returns false if the VU should
// exit instead of continuing.
func (vu *VirtualUser) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		case <-vu.stopCh:
			return false
		default:
			return true
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-vu.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
