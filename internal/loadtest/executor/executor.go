// Package executor provides the scenario scheduling strategies that decide
// how many virtual users run, or how many iterations start, at each moment.
package executor

import (
	"context"
	"time"

	"github.com/Dedenruslan19/bidload/internal/loadtest"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeFixedVUs runs a fixed number of VUs for a duration.
	TypeFixedVUs Type = "fixed-vus"

	// TypeConstantVUs is accepted as an alias of TypeFixedVUs.
	TypeConstantVUs Type = "constant-vus"

	// TypeRampingVUs ramps VU count up and down according to stages.
	TypeRampingVUs Type = "ramping-vus"

	// TypeRampingArrivalRate ramps the iteration start rate up and down.
	TypeRampingArrivalRate Type = "ramping-arrival-rate"
)

// Defaults for unset configuration. DefaultGracefulStop is applied by the
// configuration layer, since zero is a valid graceful stop.
const (
	DefaultGracefulStop = 30 * time.Second
	DefaultTimeUnit     = time.Second
	DefaultVUTick       = 100 * time.Millisecond
	DefaultArrivalTick  = 50 * time.Millisecond
)

// Executor defines the interface for load generation strategies.
//
// Closed-model executors keep a target number of VUs looping; the
// open-model executor starts iterations at a target rate regardless of how
// long each one takes.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init initializes the executor with configuration.
	// Called once before Run().
	Init(ctx context.Context, config *Config) error

	// Run starts the executor and blocks until the scenario, including its
	// graceful stop, has completed or ctx is cancelled.
	Run(ctx context.Context, scheduler *loadtest.VUScheduler) error

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveVUs returns current active VU count.
	GetActiveVUs() int

	// GetStats returns executor-specific statistics.
	GetStats() *Stats

	// Stop ends the scenario early.
	Stop(ctx context.Context) error
}

// Config contains configuration for an executor.
type Config struct {
	// Name is the scenario name
	Name string `json:"name" yaml:"name"`

	// Type is the executor type
	Type Type `json:"type" yaml:"type"`

	// fixed-vus
	VUs      int           `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// ramping-vus
	StartVUs         int           `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`
	GracefulRampDown time.Duration `json:"gracefulRampDown,omitempty" yaml:"gracefulRampDown,omitempty"`

	// ramping-arrival-rate; stage targets are iterations per TimeUnit
	StartRate       int           `json:"startRate,omitempty" yaml:"startRate,omitempty"`
	TimeUnit        time.Duration `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`
	PreAllocatedVUs int           `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`
	MaxVUs          int           `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// Stages (for ramping executors)
	Stages []Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	// GracefulStop bounds how long in-flight iterations may run after the
	// scenario's active window ends
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// TickInterval overrides the controller tick
	TickInterval time.Duration `json:"-" yaml:"-"`
}

// Stage defines a stage in ramping executors.
type Stage struct {
	// Duration of this stage
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target VU count (for ramping-vus) or iterations per time unit
	// (for ramping-arrival-rate) reached at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Stats contains real-time executor statistics.
type Stats struct {
	// Timing
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	// VU stats
	ActiveVUs int `json:"activeVUs"`
	TargetVUs int `json:"targetVUs"`
	MaxVUs    int `json:"maxVUs,omitempty"`

	// Iteration stats
	Iterations        int64 `json:"iterations"`
	DroppedIterations int64 `json:"droppedIterations"`
	ForcedStops       int   `json:"forcedStops"`

	// Iterations released by the rate accumulator, started or dropped
	DueIterations int64 `json:"dueIterations,omitempty"`

	// Stage info (for ramping executors)
	CurrentStage     int    `json:"currentStage"`
	CurrentStageName string `json:"currentStageName,omitempty"`
	TotalStages      int    `json:"totalStages"`

	// Rate info (for arrival-rate executors), iterations/second
	CurrentRate float64 `json:"currentRate"`
	TargetRate  float64 `json:"targetRate"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "type", Message: "executor type is required"}
	}
	if c.GracefulStop < 0 {
		return &ValidationError{Field: "gracefulStop", Message: "gracefulStop must be >= 0"}
	}
	if c.GracefulRampDown < 0 {
		return &ValidationError{Field: "gracefulRampDown", Message: "gracefulRampDown must be >= 0"}
	}

	switch c.Type {
	case TypeFixedVUs, TypeConstantVUs:
		if c.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}

	case TypeRampingVUs:
		if c.StartVUs < 0 {
			return &ValidationError{Field: "startVUs", Message: "startVUs must be >= 0"}
		}
		if err := validateStages(c.Stages); err != nil {
			return err
		}

	case TypeRampingArrivalRate:
		if c.StartRate < 0 {
			return &ValidationError{Field: "startRate", Message: "startRate must be >= 0"}
		}
		if c.TimeUnit < 0 {
			return &ValidationError{Field: "timeUnit", Message: "timeUnit must be > 0"}
		}
		if c.PreAllocatedVUs < 0 {
			return &ValidationError{Field: "preAllocatedVUs", Message: "preAllocatedVUs must be >= 0"}
		}
		if c.MaxVUs <= 0 {
			return &ValidationError{Field: "maxVUs", Message: "maxVUs must be > 0"}
		}
		if c.PreAllocatedVUs > c.MaxVUs {
			return &ValidationError{Field: "preAllocatedVUs", Message: "preAllocatedVUs must not exceed maxVUs"}
		}
		if err := validateStages(c.Stages); err != nil {
			return err
		}

	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	return nil
}

func validateStages(stages []Stage) error {
	if len(stages) == 0 {
		return &ValidationError{Field: "stages", Message: "at least one stage is required"}
	}
	var total time.Duration
	for _, stage := range stages {
		if stage.Duration < 0 {
			return &ValidationError{Field: "stages", Message: "stage duration must be >= 0"}
		}
		if stage.Target < 0 {
			return &ValidationError{Field: "stages", Message: "stage target must be >= 0"}
		}
		total += stage.Duration
	}
	if total <= 0 {
		return &ValidationError{Field: "stages", Message: "total stage duration must be > 0"}
	}
	return nil
}

// TotalDuration calculates the active window of this executor, excluding
// graceful stop.
func (c *Config) TotalDuration() time.Duration {
	switch c.Type {
	case TypeFixedVUs, TypeConstantVUs:
		return c.Duration

	case TypeRampingVUs, TypeRampingArrivalRate:
		var total time.Duration
		for _, stage := range c.Stages {
			total += stage.Duration
		}
		return total

	default:
		return 0
	}
}

// MaxDuration is the longest the executor can run: the active window plus
// graceful stop.
func (c *Config) MaxDuration() time.Duration {
	return c.TotalDuration() + c.GracefulStop
}

// applyDefaults fills unset optional fields. Zero graceful periods are
// meaningful and left alone.
func (c *Config) applyDefaults(tick time.Duration) {
	if c.TimeUnit == 0 {
		c.TimeUnit = DefaultTimeUnit
	}
	if c.TickInterval <= 0 {
		c.TickInterval = tick
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}

// progress returns elapsed/total clamped to [0, 1].
func progress(elapsed, total time.Duration) float64 {
	if total <= 0 {
		return 1
	}
	p := float64(elapsed) / float64(total)
	if p > 1 {
		return 1
	}
	if p < 0 {
		return 0
	}
	return p
}

// iterationContext is the context VUs run iterations under. Cancelling the
// run context ends the controller and starts the graceful stop; an
// in-flight iteration is only aborted by a forced stop.
func iterationContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
