// Package loadtest runs virtual users against a pluggable workload.
package loadtest

import (
	"context"
	"math/rand"
	"time"

	"github.com/Dedenruslan19/bidload/internal/loadtest/metrics"
)

// Result is the three-way classification of an iteration, plus Skipped
// for iterations that issued no request.
type Result int

const (
	// ResultSuccess is an accepted request.
	ResultSuccess Result = iota
	// ResultRejected is an expected business rejection. It is not an error.
	ResultRejected
	// ResultFailed is a systemic failure: unexpected status, transport
	// error or timeout.
	ResultFailed
	// ResultSkipped marks an iteration that decided not to send a request.
	ResultSkipped
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultRejected:
		return "rejected"
	case ResultFailed:
		return "failed"
	case ResultSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Outcome is what a User reports for one iteration.
type Outcome struct {
	Status   int
	Duration time.Duration
	Result   Result
	Err      error

	// Samples are workload-specific observations. The runner adds its
	// scenario tag before recording them.
	Samples []metrics.Sample
}

// Workload creates the per-VU behavior of a scenario. A Workload is shared
// by all VUs of a scenario and must not be mutated after the test starts.
type Workload interface {
	// Name identifies the workload in logs and tags.
	Name() string

	// NewUser returns the private state of a new virtual user. rng is owned
	// by that VU.
	NewUser(vuID int, rng *rand.Rand) User
}

// User is the private state of one virtual user. Its methods are only ever
// called from that VU's goroutine.
type User interface {
	// Iterate performs one iteration. iteration starts at 1.
	Iterate(ctx context.Context, iteration int64) Outcome

	// ThinkTime returns the pause before the next iteration.
	ThinkTime() time.Duration
}

// MetricDeclarer is implemented by workloads that record their own metrics,
// so thresholds on them can be validated before the test starts.
type MetricDeclarer interface {
	Metrics() map[string]metrics.Kind
}

// WorkloadFunc adapts a plain function to a Workload without private state.
type WorkloadFunc func(ctx context.Context, vuID int, iteration int64) Outcome

// Name implements Workload.
func (f WorkloadFunc) Name() string { return "func" }

// NewUser implements Workload.
func (f WorkloadFunc) NewUser(vuID int, _ *rand.Rand) User {
	return funcUser{fn: f, vuID: vuID}
}

type funcUser struct {
	fn   WorkloadFunc
	vuID int
}

func (u funcUser) Iterate(ctx context.Context, iteration int64) Outcome {
	return u.fn(ctx, u.vuID, iteration)
}

func (u funcUser) ThinkTime() time.Duration { return 0 }
