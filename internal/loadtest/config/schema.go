// Package config provides configuration parsing and validation for bid
// load tests.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the target settings.
const (
	DefaultBaseURL        = "http://localhost:8000"
	DefaultSessionID      = "1"
	DefaultItemID         = "1"
	DefaultRequestTimeout = 10 * time.Second
	DefaultGracefulStop   = 30 * time.Second
)

// TestConfig is the root configuration for a bid load test.
//
// Example YAML:
//
//	name: "Bid Load Test"
//	target:
//	  baseUrl: "http://localhost:8000"
//	  sessionId: "1"
//	  itemId: "1"
//	  timeout: 10s
//	scenarios:
//	  bidders:
//	    executor: ramping-vus
//	    workload: incremental
//	    stages:
//	      - duration: 30s
//	        target: 50
//	thresholds:
//	  http_req_duration: ["p(95)<2000"]
type TestConfig struct {
	// Name of the test (for reporting)
	Name string `json:"name" yaml:"name"`

	// Description of the test (optional)
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Target is the auction endpoint under test
	Target TargetConfig `json:"target,omitempty" yaml:"target,omitempty"`

	// Scenarios defines the load profiles to run
	// Each scenario runs concurrently with its own executor
	Scenarios map[string]*ScenarioConfig `json:"scenarios" yaml:"scenarios"`

	// Thresholds map a metric name to pass/fail expressions
	// e.g. http_req_duration: ["p(95)<2000", "p(99)<3000"]
	Thresholds map[string][]string `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// Options for test execution
	Options *ExecutionOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

// TargetConfig identifies the auction item receiving bids.
type TargetConfig struct {
	// BaseURL of the auction service
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// SessionID is the auction session
	SessionID ID `json:"sessionId,omitempty" yaml:"sessionId,omitempty"`

	// ItemID is the item within the session
	ItemID ID `json:"itemId,omitempty" yaml:"itemId,omitempty"`

	// AuthToken is sent as a bearer token
	AuthToken string `json:"authToken,omitempty" yaml:"authToken,omitempty"`

	// Timeout is the per-request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxIdleConnsPerHost tunes the shared transport
	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	// InsecureSkipVerify skips TLS certificate verification
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
}

// ScenarioConfig defines a single load testing scenario.
type ScenarioConfig struct {
	// Executor specifies the load generation strategy
	// Options: "fixed-vus" (or "constant-vus"), "ramping-vus", "ramping-arrival-rate"
	Executor string `json:"executor" yaml:"executor"`

	// Workload is the bidder behaviour run by each VU
	// Options: "incremental", "active", "casual", "last-minute", "random"
	Workload string `json:"workload" yaml:"workload"`

	// VUs and Duration (for fixed-vus)
	VUs      int      `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// StartVUs is the initial VU count (for ramping-vus)
	StartVUs int `json:"startVUs,omitempty" yaml:"startVUs,omitempty"`

	// StartRate and TimeUnit (for ramping-arrival-rate)
	StartRate int      `json:"startRate,omitempty" yaml:"startRate,omitempty"`
	TimeUnit  Duration `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`

	// PreAllocatedVUs and MaxVUs bound the pool (for ramping-arrival-rate)
	PreAllocatedVUs int `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`
	MaxVUs          int `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// Stages defines ramping stages (for ramping executors)
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// StartTime delays this scenario relative to test start
	StartTime Duration `json:"startTime,omitempty" yaml:"startTime,omitempty"`

	// GracefulStop is how long in-flight iterations may run after the
	// scenario ends. Unset means 30s; zero is valid.
	GracefulStop *Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// GracefulRampDown is the same bound for VUs removed during a
	// ramp-down. Unset means 30s.
	GracefulRampDown *Duration `json:"gracefulRampDown,omitempty" yaml:"gracefulRampDown,omitempty"`

	// ThinkTime overrides the workload's pause between iterations
	ThinkTime *ThinkTimeConfig `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`

	// Tags are custom tags for this scenario's metrics
	Tags map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// StageConfig defines a single stage in a ramping executor.
type StageConfig struct {
	// Duration of this stage (e.g., "30s", "2m")
	Duration Duration `json:"duration" yaml:"duration"`

	// Target VU count (for ramping-vus) or iterations per timeUnit (for
	// ramping-arrival-rate)
	Target int `json:"target" yaml:"target"`

	// Name is an optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// ThinkTimeConfig is a uniform [Min, Max] pause.
type ThinkTimeConfig struct {
	Min Duration `json:"min" yaml:"min"`
	Max Duration `json:"max" yaml:"max"`
}

// ExecutionOptions controls test execution behavior.
type ExecutionOptions struct {
	// SetupTimeout is the maximum time for the setup hook
	SetupTimeout Duration `json:"setupTimeout,omitempty" yaml:"setupTimeout,omitempty"`

	// TeardownTimeout is the maximum time for the teardown hook
	TeardownTimeout Duration `json:"teardownTimeout,omitempty" yaml:"teardownTimeout,omitempty"`
}

// ID is a path identifier written either as a string or a number.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return err
		}
		s = unquoted
	}
	if s == "null" {
		s = ""
	}
	*id = ID(s)
	return nil
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// ParseDurationString parses "30s", "2m", "1h30m", or a bare integer as
// seconds. The empty string is zero.
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// GetDuration returns the duration or a default if zero.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}

	dur, err := ParseDurationString(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// DurationPtr returns a pointer to d, for optional fields.
func DurationPtr(d time.Duration) *Duration {
	v := Duration(d)
	return &v
}
