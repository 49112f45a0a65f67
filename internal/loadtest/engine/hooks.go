package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Dedenruslan19/bidload/internal/bid"
)

// RunInfo describes the test to the hooks.
type RunInfo struct {
	Name          string
	Endpoint      string
	Scenarios     []string
	MaxVUs        int
	TotalDuration time.Duration
}

// Hooks run once before and once after the scenarios. Teardown receives
// whatever Setup returned.
type Hooks struct {
	Setup    func(ctx context.Context, info RunInfo) (interface{}, error)
	Teardown func(ctx context.Context, info RunInfo, data interface{}) error
}

// SetupData is returned by the default setup hook.
type SetupData struct {
	StartTime time.Time
}

// Info describes the configured test.
func (e *Engine) Info() RunInfo {
	names := make([]string, 0, len(e.scenarios))
	for _, r := range e.scenarios {
		names = append(names, r.name)
	}
	return RunInfo{
		Name:          e.config.Name,
		Endpoint:      e.config.Target.BaseURL + bid.Path(string(e.config.Target.SessionID), string(e.config.Target.ItemID)),
		Scenarios:     names,
		MaxVUs:        e.MaxVUs(),
		TotalDuration: e.TotalDuration(),
	}
}

func (e *Engine) defaultSetup(_ context.Context, info RunInfo) (interface{}, error) {
	e.logger.Info("starting bid load test",
		zap.String("name", info.Name),
		zap.String("target", info.Endpoint),
		zap.Strings("scenarios", info.Scenarios),
		zap.Int("maxVUs", info.MaxVUs),
		zap.Duration("duration", info.TotalDuration))
	return SetupData{StartTime: time.Now()}, nil
}

func (e *Engine) defaultTeardown(_ context.Context, info RunInfo, data interface{}) error {
	fields := []zap.Field{zap.String("name", info.Name)}
	if sd, ok := data.(SetupData); ok {
		fields = append(fields,
			zap.Time("started", sd.StartTime),
			zap.Duration("elapsed", time.Since(sd.StartTime)))
	}
	e.logger.Info("bid load test completed", fields...)
	return nil
}

// runHook runs fn with a deadline. A hook that ignores its context is
// abandoned when the deadline passes.
func runHook(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		data interface{}
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := fn(ctx)
		done <- result{data, err}
	}()

	select {
	case r := <-done:
		return r.data, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("hook did not finish within %s: %w", timeout, ctx.Err())
	}
}
