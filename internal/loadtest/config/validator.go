package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/Dedenruslan19/bidload/internal/loadtest/executor"
	"github.com/Dedenruslan19/bidload/internal/loadtest/threshold"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Fields returns the field of every error, in order.
func (e *ValidationErrors) Fields() []string {
	fields := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		fields[i] = err.Field
	}
	return fields
}

// Validate validates the entire test configuration.
//
// knownWorkloads, when non-nil, restricts scenario workloads to those names.
// Returns nil if valid, or a *ValidationErrors containing all validation
// errors.
func (c *TestConfig) Validate(knownWorkloads []string) error {
	errs := &ValidationErrors{}

	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}

	for _, name := range c.ScenarioNames() {
		validateScenario(name, c.Scenarios[name], knownWorkloads, errs)
	}

	validateThresholds(c.Thresholds, errs)
	validateTarget(&c.Target, errs)

	if c.Options != nil {
		if c.Options.SetupTimeout < 0 {
			errs.Add("options.setupTimeout", "cannot be negative")
		}
		if c.Options.TeardownTimeout < 0 {
			errs.Add("options.teardownTimeout", "cannot be negative")
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ScenarioNames returns the scenario names in sorted order.
func (c *TestConfig) ScenarioNames() []string {
	names := make([]string, 0, len(c.Scenarios))
	for name := range c.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// validateScenario validates a single scenario configuration.
func validateScenario(name string, sc *ScenarioConfig, knownWorkloads []string, errs *ValidationErrors) {
	prefix := fmt.Sprintf("scenarios.%s", name)
	if sc == nil {
		errs.Add(prefix, "scenario is empty")
		return
	}

	if sc.Executor == "" {
		errs.Add(prefix+".executor", "executor type is required")
	} else if !executor.IsValidExecutorType(sc.Executor) {
		errs.Add(prefix+".executor", fmt.Sprintf("unknown executor type: %s", sc.Executor))
	}

	if sc.Workload == "" {
		errs.Add(prefix+".workload", "workload is required")
	} else if knownWorkloads != nil && !contains(knownWorkloads, sc.Workload) {
		errs.Add(prefix+".workload", fmt.Sprintf("unknown workload %q (known: %s)", sc.Workload, strings.Join(knownWorkloads, ", ")))
	}

	switch executor.Type(sc.Executor) {
	case executor.TypeFixedVUs, executor.TypeConstantVUs:
		validateFixedVUs(prefix, sc, errs)
	case executor.TypeRampingVUs:
		validateRampingVUs(prefix, sc, errs)
	case executor.TypeRampingArrivalRate:
		validateRampingArrivalRate(prefix, sc, errs)
	}

	if sc.StartTime < 0 {
		errs.Add(prefix+".startTime", "cannot be negative")
	}
	if sc.GracefulStop != nil && *sc.GracefulStop < 0 {
		errs.Add(prefix+".gracefulStop", "cannot be negative")
	}
	if sc.GracefulRampDown != nil && *sc.GracefulRampDown < 0 {
		errs.Add(prefix+".gracefulRampDown", "cannot be negative")
	}

	if tt := sc.ThinkTime; tt != nil {
		if tt.Min < 0 || tt.Max < 0 {
			errs.Add(prefix+".thinkTime", "cannot be negative")
		} else if tt.Max < tt.Min {
			errs.Add(prefix+".thinkTime", "max must be >= min")
		}
	}

	for k := range sc.Tags {
		if k == "" || strings.ContainsAny(k, "{}:") {
			errs.Add(prefix+".tags", fmt.Sprintf("invalid tag key %q", k))
		}
	}
}

func validateFixedVUs(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.VUs <= 0 {
		errs.Add(prefix+".vus", "must be greater than 0 for fixed-vus executor")
	}
	if sc.Duration <= 0 {
		errs.Add(prefix+".duration", "is required for fixed-vus executor")
	}
}

func validateRampingVUs(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.StartVUs < 0 {
		errs.Add(prefix+".startVUs", "cannot be negative")
	}
	if len(sc.Stages) == 0 {
		errs.Add(prefix+".stages", "at least one stage is required for ramping-vus executor")
	}
	validateStages(prefix, sc.Stages, errs)
}

func validateRampingArrivalRate(prefix string, sc *ScenarioConfig, errs *ValidationErrors) {
	if sc.StartRate < 0 {
		errs.Add(prefix+".startRate", "cannot be negative")
	}
	if sc.TimeUnit < 0 {
		errs.Add(prefix+".timeUnit", "cannot be negative")
	}
	if len(sc.Stages) == 0 {
		errs.Add(prefix+".stages", "at least one stage is required for ramping-arrival-rate executor")
	}
	validateStages(prefix, sc.Stages, errs)

	if sc.PreAllocatedVUs < 0 {
		errs.Add(prefix+".preAllocatedVUs", "cannot be negative")
	}
	if sc.MaxVUs <= 0 {
		errs.Add(prefix+".maxVUs", "must be greater than 0 for ramping-arrival-rate executor")
	} else if sc.MaxVUs < sc.PreAllocatedVUs {
		errs.Add(prefix+".maxVUs", "must be >= preAllocatedVUs")
	}
}

func validateStages(prefix string, stages []StageConfig, errs *ValidationErrors) {
	var total Duration
	for i, stage := range stages {
		stagePrefix := fmt.Sprintf("%s.stages[%d]", prefix, i)
		if stage.Duration < 0 {
			errs.Add(stagePrefix+".duration", "cannot be negative")
		}
		if stage.Target < 0 {
			errs.Add(stagePrefix+".target", "cannot be negative")
		}
		total += stage.Duration
	}
	if len(stages) > 0 && total <= 0 {
		errs.Add(prefix+".stages", "total stage duration must be greater than 0")
	}
}

// validateThresholds checks the expression grammar. Metric names are
// checked later against the declared metrics.
func validateThresholds(thresholds map[string][]string, errs *ValidationErrors) {
	names := make([]string, 0, len(thresholds))
	for name := range thresholds {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for i, expr := range thresholds[name] {
			if _, err := threshold.Parse(name, expr); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", name, i), err.Error())
			}
		}
	}
}

func validateTarget(t *TargetConfig, errs *ValidationErrors) {
	if t.BaseURL != "" {
		u, err := url.Parse(t.BaseURL)
		if err != nil {
			errs.Add("target.baseUrl", fmt.Sprintf("invalid URL: %v", err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs.Add("target.baseUrl", "URL scheme must be http or https")
		} else if u.Host == "" {
			errs.Add("target.baseUrl", "URL must include a host")
		}
	}
	if strings.ContainsAny(string(t.SessionID), "/?#") {
		errs.Add("target.sessionId", "must not contain '/', '?' or '#'")
	}
	if strings.ContainsAny(string(t.ItemID), "/?#") {
		errs.Add("target.itemId", "must not contain '/', '?' or '#'")
	}
	if t.Timeout < 0 {
		errs.Add("target.timeout", "cannot be negative")
	}
	if t.MaxIdleConnsPerHost < 0 {
		errs.Add("target.maxIdleConnsPerHost", "cannot be negative")
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
