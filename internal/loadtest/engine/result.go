package engine

import (
	"time"

	"github.com/Dedenruslan19/bidload/internal/loadtest/metrics"
	"github.com/Dedenruslan19/bidload/internal/loadtest/threshold"
)

// TestResult contains the complete test results. It is created once, when
// the run ends.
type TestResult struct {
	// Test metadata
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Target      string        `json:"target"`
	StartTime   time.Time     `json:"startTime"`
	EndTime     time.Time     `json:"endTime"`
	Duration    time.Duration `json:"duration"`

	// Scenario results
	Scenarios map[string]*ScenarioResult `json:"scenarios"`

	// Final value of every series, submetrics included
	Metrics map[string]*metrics.SeriesSnapshot `json:"metrics"`

	// Threshold evaluation
	Thresholds      []ThresholdResult `json:"thresholds,omitempty"`
	BreachedMetrics []string          `json:"breachedMetrics,omitempty"`
	Passed          bool              `json:"passed"`

	PeakVUs           int   `json:"peakVUs"`
	DroppedIterations int64 `json:"droppedIterations"`
	ForcedStops       int   `json:"forcedStops"`
}

// ScenarioResult contains the results of a single scenario.
type ScenarioResult struct {
	Name              string        `json:"name"`
	Executor          string        `json:"executor"`
	Workload          string        `json:"workload"`
	StartOffset       time.Duration `json:"startOffset"`
	Duration          time.Duration `json:"duration"`
	Iterations        int64         `json:"iterations"`
	DroppedIterations int64         `json:"droppedIterations"`
	ForcedStops       int           `json:"forcedStops"`
	MaxVUs            int           `json:"maxVUs"`
	Skipped           bool          `json:"skipped,omitempty"`
}

// ThresholdResult contains the result of a threshold evaluation.
type ThresholdResult struct {
	Metric     string  `json:"metric"`
	Expression string  `json:"expression"`
	Observed   float64 `json:"observed"`
	Passed     bool    `json:"passed"`
	Message    string  `json:"message,omitempty"`
}

// ThresholdResults converts evaluated outcomes for reporting.
func ThresholdResults(outcomes []threshold.Outcome) []ThresholdResult {
	results := make([]ThresholdResult, 0, len(outcomes))
	for _, o := range outcomes {
		tr := ThresholdResult{
			Metric:     o.Threshold.Metric,
			Expression: o.Threshold.Expression,
			Observed:   o.Observed,
			Passed:     o.Passed,
		}
		if !o.Passed {
			tr.Message = o.Message()
		}
		results = append(results, tr)
	}
	return results
}

// Metric returns the final series for name, or nil.
func (r *TestResult) Metric(name string) *metrics.SeriesSnapshot {
	if r == nil {
		return nil
	}
	return r.Metrics[name]
}
