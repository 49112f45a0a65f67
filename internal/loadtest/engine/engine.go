// Package engine orchestrates a bid load test: setup, concurrent scenarios,
// teardown and threshold evaluation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Dedenruslan19/bidload/internal/bid"
	"github.com/Dedenruslan19/bidload/internal/loadtest"
	"github.com/Dedenruslan19/bidload/internal/loadtest/config"
	"github.com/Dedenruslan19/bidload/internal/loadtest/executor"
	"github.com/Dedenruslan19/bidload/internal/loadtest/metrics"
	"github.com/Dedenruslan19/bidload/internal/loadtest/threshold"
)

// Default hook timeouts.
const (
	DefaultSetupTimeout    = 60 * time.Second
	DefaultTeardownTimeout = 60 * time.Second
)

// ErrAlreadyRunning is returned by Run while another Run is in progress.
var ErrAlreadyRunning = errors.New("engine is already running")

// Engine is the test orchestrator.
//
// It coordinates:
//   - Start-time validation of configuration, workloads and thresholds
//   - Scenario execution, each on its own executor after its start offset
//   - Setup and teardown hooks
//   - Threshold evaluation on the final metrics
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("realistic.yaml")
//	eng, _ := engine.NewEngine(cfg, engine.WithLogger(logger))
//	result, _ := eng.Run(ctx)
//	fmt.Printf("Test passed: %v\n", result.Passed)
type Engine struct {
	config     *config.TestConfig
	logger     *zap.Logger
	bidder     bid.Bidder
	client     *bid.Client
	thresholds []threshold.Threshold
	kinds      map[string]metrics.Kind
	seed       int64
	tick       time.Duration
	hooks      Hooks

	scenarios []*scenarioRunner

	mu        sync.RWMutex
	running   bool
	collector *metrics.Collector
}

type scenarioRunner struct {
	name       string
	config     *config.ScenarioConfig
	execConfig *executor.Config
	workload   *bid.Workload
	seed       int64

	mu       sync.Mutex
	executor executor.Executor
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithBidder replaces the HTTP bid client.
func WithBidder(b bid.Bidder) Option {
	return func(e *Engine) { e.bidder = b }
}

// WithSeed fixes the random seed of every VU.
func WithSeed(seed int64) Option {
	return func(e *Engine) { e.seed = seed }
}

// WithTickInterval overrides the executors' controller tick.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) { e.tick = d }
}

// WithHooks replaces the setup and teardown hooks.
func WithHooks(h Hooks) Option {
	return func(e *Engine) { e.hooks = h }
}

// NewEngine validates cfg and prepares every scenario. Any configuration,
// workload or threshold problem is reported here, before load is generated.
func NewEngine(cfg *config.TestConfig, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("nil configuration")
	}
	if err := cfg.Validate(bid.Names()); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.ApplyDefaults()

	e := &Engine{
		config: cfg,
		logger: zap.NewNop(),
		seed:   time.Now().UnixNano(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.hooks.Setup == nil {
		e.hooks.Setup = e.defaultSetup
	}
	if e.hooks.Teardown == nil {
		e.hooks.Teardown = e.defaultTeardown
	}
	if e.bidder == nil {
		e.client = bid.NewClient(bid.ClientConfig{
			BaseURL:             cfg.Target.BaseURL,
			SessionID:           string(cfg.Target.SessionID),
			ItemID:              string(cfg.Target.ItemID),
			AuthToken:           cfg.Target.AuthToken,
			Timeout:             time.Duration(cfg.Target.Timeout),
			MaxIdleConnsPerHost: cfg.Target.MaxIdleConnsPerHost,
			InsecureSkipVerify:  cfg.Target.InsecureSkipVerify,
		})
		e.bidder = e.client
	}

	e.kinds = metrics.BuiltinKinds()
	for i, name := range cfg.ScenarioNames() {
		runner, err := e.prepareScenario(name, cfg.Scenarios[name], int64(i))
		if err != nil {
			return nil, err
		}
		for metric, kind := range runner.workload.Metrics() {
			if prev, ok := e.kinds[metric]; ok && prev != kind {
				return nil, fmt.Errorf("%w: %s declared as %s and %s", metrics.ErrKindMismatch, metric, prev, kind)
			}
			e.kinds[metric] = kind
		}
		e.scenarios = append(e.scenarios, runner)
	}

	thresholds, err := threshold.ParseAll(cfg.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}
	if err := threshold.Validate(thresholds, e.kinds); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}
	e.thresholds = thresholds

	return e, nil
}

func (e *Engine) prepareScenario(name string, sc *config.ScenarioConfig, index int64) (*scenarioRunner, error) {
	opts := bid.Options{Logger: e.logger.With(zap.String("scenario", name))}
	if sc.ThinkTime != nil {
		opts.ThinkTime = &bid.ThinkRange{
			Min: time.Duration(sc.ThinkTime.Min),
			Max: time.Duration(sc.ThinkTime.Max),
		}
	}
	workload, err := bid.NewWorkload(sc.Workload, e.bidder, opts)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", name, err)
	}

	execConfig := sc.ToExecutorConfig(name)
	execConfig.TickInterval = e.tick
	if err := execConfig.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", name, err)
	}

	return &scenarioRunner{
		name:       name,
		config:     sc,
		execConfig: execConfig,
		workload:   workload,
		seed:       e.seed + index<<32,
	}, nil
}

// Thresholds returns the parsed thresholds.
func (e *Engine) Thresholds() []threshold.Threshold {
	return e.thresholds
}

// Config returns the validated configuration with defaults applied.
func (e *Engine) Config() *config.TestConfig {
	return e.config
}

// TotalDuration returns the longest scenario window, start offset included,
// excluding graceful stops.
func (e *Engine) TotalDuration() time.Duration {
	var total time.Duration
	for _, r := range e.scenarios {
		if d := r.config.ActiveWindow(); d > total {
			total = d
		}
	}
	return total
}

// MaxVUs returns the largest number of VUs the test may run at once.
func (e *Engine) MaxVUs() int {
	n := 0
	for _, r := range e.scenarios {
		n += executor.CalculateMaxVUs(r.execConfig)
	}
	return n
}

// Run executes setup, every scenario and teardown, then evaluates the
// thresholds. Cancelling ctx stops the scenarios early the same way Stop
// does: in-flight iterations get gracefulStop to finish, and the result is
// still returned.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	e.running = true
	collector := metrics.NewCollector()
	e.collector = collector
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		if e.client != nil {
			e.client.Close()
		}
	}()

	for name, kind := range e.kinds {
		if err := collector.Declare(name, kind); err != nil {
			return nil, err
		}
	}

	info := e.Info()
	data, err := runHook(ctx, e.setupTimeout(), func(ctx context.Context) (interface{}, error) {
		return e.hooks.Setup(ctx, info)
	})
	if err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}

	start := time.Now()
	collector.MarkStart(start)

	scenarios := e.runScenarios(ctx, collector)

	_, err = runHook(context.WithoutCancel(ctx), e.teardownTimeout(), func(ctx context.Context) (interface{}, error) {
		return nil, e.hooks.Teardown(ctx, info, data)
	})
	if err != nil {
		e.logger.Error("teardown failed", zap.Error(err))
	}

	end := time.Now()
	snap := collector.Snapshot()
	outcomes := threshold.Evaluate(snap, e.thresholds)

	result := &TestResult{
		ID:              uuid.NewString(),
		Name:            e.config.Name,
		Description:     e.config.Description,
		Target:          info.Endpoint,
		StartTime:       start,
		EndTime:         end,
		Duration:        end.Sub(start),
		Scenarios:       scenarios,
		Metrics:         snap.Series,
		Thresholds:      ThresholdResults(outcomes),
		BreachedMetrics: threshold.Breached(outcomes),
		Passed:          threshold.Passed(outcomes),
		PeakVUs:         collector.PeakVUs(),
	}
	for _, sr := range scenarios {
		result.DroppedIterations += sr.DroppedIterations
		result.ForcedStops += sr.ForcedStops
	}

	e.logger.Info("test finished",
		zap.String("id", result.ID),
		zap.Bool("passed", result.Passed),
		zap.Strings("breached", result.BreachedMetrics),
		zap.Duration("duration", result.Duration))

	if err != nil {
		return result, fmt.Errorf("teardown: %w", err)
	}
	return result, nil
}

// runScenarios starts every scenario after its offset and waits for all.
func (e *Engine) runScenarios(ctx context.Context, collector *metrics.Collector) map[string]*ScenarioResult {
	results := make(map[string]*ScenarioResult, len(e.scenarios))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup

	for _, runner := range e.scenarios {
		wg.Add(1)
		go func(runner *scenarioRunner) {
			defer wg.Done()
			result := e.runScenario(ctx, runner, collector)
			resultsMu.Lock()
			results[runner.name] = result
			resultsMu.Unlock()
		}(runner)
	}

	wg.Wait()
	return results
}

// runScenario runs a single scenario.
func (e *Engine) runScenario(ctx context.Context, runner *scenarioRunner, collector *metrics.Collector) *ScenarioResult {
	offset := time.Duration(runner.config.StartTime)
	result := &ScenarioResult{
		Name:        runner.name,
		Executor:    string(runner.execConfig.Type),
		Workload:    runner.workload.Name(),
		StartOffset: offset,
		MaxVUs:      executor.CalculateMaxVUs(runner.execConfig),
	}
	logger := e.logger.With(zap.String("scenario", runner.name))

	if offset > 0 {
		timer := time.NewTimer(offset)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.Skipped = true
			logger.Info("scenario skipped: test stopped before its start time")
			return result
		case <-timer.C:
		}
	}

	// Each run gets a fresh executor; Init applies defaults to its own copy.
	execConfig := *runner.execConfig
	exec, err := executor.CreateAndInitExecutor(ctx, &execConfig)
	if err != nil {
		logger.Error("scenario could not start", zap.Error(err))
		result.Skipped = true
		return result
	}
	runner.mu.Lock()
	runner.executor = exec
	runner.mu.Unlock()

	scheduler := loadtest.NewVUScheduler(loadtest.SchedulerConfig{
		Scenario: runner.name,
		Workload: runner.workload,
		Metrics:  collector,
		Logger:   e.logger,
		Tags:     runner.config.Tags,
		Seed:     runner.seed,
	})

	start := time.Now()
	if err := exec.Run(ctx, scheduler); err != nil {
		logger.Error("scenario failed", zap.Error(err))
	}
	result.Duration = time.Since(start)

	stats := exec.GetStats()
	result.Iterations = stats.Iterations
	result.DroppedIterations = stats.DroppedIterations
	result.ForcedStops = stats.ForcedStops
	return result
}

// Stop ends every running scenario early. Running scenarios still perform
// their graceful stop.
func (e *Engine) Stop(ctx context.Context) error {
	var errs []error
	for _, runner := range e.scenarios {
		runner.mu.Lock()
		exec := runner.executor
		runner.mu.Unlock()
		if exec == nil {
			continue
		}
		if err := exec.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsRunning returns true if the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Progress returns the overall test progress (0.0 to 1.0). Scenarios that
// have not started yet count as 0.
func (e *Engine) Progress() float64 {
	if len(e.scenarios) == 0 {
		return 0
	}
	var total float64
	for _, runner := range e.scenarios {
		runner.mu.Lock()
		exec := runner.executor
		runner.mu.Unlock()
		if exec != nil {
			total += exec.GetProgress()
		}
	}
	return total / float64(len(e.scenarios))
}

// Stats returns current stats of every started scenario.
func (e *Engine) Stats() map[string]*executor.Stats {
	stats := make(map[string]*executor.Stats, len(e.scenarios))
	for _, runner := range e.scenarios {
		runner.mu.Lock()
		exec := runner.executor
		runner.mu.Unlock()
		if exec != nil {
			stats[runner.name] = exec.GetStats()
		}
	}
	return stats
}

// ActiveVUs returns the number of VUs currently alive across scenarios.
func (e *Engine) ActiveVUs() int {
	e.mu.RLock()
	c := e.collector
	e.mu.RUnlock()
	if c == nil {
		return 0
	}
	return c.ActiveVUs()
}

// Snapshot returns the live metrics of the current or last run.
func (e *Engine) Snapshot() (metrics.Snapshot, bool) {
	e.mu.RLock()
	c := e.collector
	e.mu.RUnlock()
	if c == nil {
		return metrics.Snapshot{}, false
	}
	return c.Snapshot(), true
}

func (e *Engine) setupTimeout() time.Duration {
	if o := e.config.Options; o != nil && o.SetupTimeout > 0 {
		return time.Duration(o.SetupTimeout)
	}
	return DefaultSetupTimeout
}

func (e *Engine) teardownTimeout() time.Duration {
	if o := e.config.Options; o != nil && o.TeardownTimeout > 0 {
		return time.Duration(o.TeardownTimeout)
	}
	return DefaultTeardownTimeout
}
