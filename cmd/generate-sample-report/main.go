// Command generate-sample-report renders an HTML report from synthetic
// results, for working on the report layout without running a test.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/Dedenruslan19/bidload/internal/bid"
	"github.com/Dedenruslan19/bidload/internal/loadtest/engine"
	"github.com/Dedenruslan19/bidload/internal/loadtest/metrics"
	"github.com/Dedenruslan19/bidload/internal/loadtest/output"
	"github.com/Dedenruslan19/bidload/internal/loadtest/threshold"
	"github.com/Dedenruslan19/bidload/internal/profiles"
)

func main() {
	outputPath := "sample-bid-report.html"
	if len(os.Args) > 1 {
		outputPath = os.Args[1]
	}

	result, err := createSampleTestResult()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := output.GenerateHTML(result, outputPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Sample report generated: %s\n", outputPath)
}

// createSampleTestResult fills a collector with plausible samples for the
// realistic profile and evaluates its thresholds.
func createSampleTestResult() (*engine.TestResult, error) {
	cfg, err := profiles.Load("realistic")
	if err != nil {
		return nil, err
	}

	now := time.Now()
	duration := 11 * time.Minute
	c := metrics.NewCollector()
	c.MarkStart(now.Add(-duration))
	rng := rand.New(rand.NewSource(42))

	bidders := map[string]int{"active": 4200, "casual": 1900, "last-minute": 6100}
	for bidder, n := range bidders {
		tags := map[string]string{bid.TagBidder: bidder}
		for i := 0; i < n; i++ {
			latency := 20 + rng.ExpFloat64()*60
			if bidder == "last-minute" {
				latency *= 2.5
			}
			roll := rng.Float64()
			failed := roll < 0.01

			samples := []metrics.Sample{
				{Name: metrics.HTTPReqs, Kind: metrics.Counter, Value: 1},
				{Name: metrics.HTTPReqDuration, Kind: metrics.Trend, Value: latency},
				{Name: metrics.HTTPReqFailed, Kind: metrics.Rate, Value: boolValue(failed)},
				{Name: metrics.Iterations, Kind: metrics.Counter, Value: 1},
				{Name: bid.MetricBidDuration, Kind: metrics.Trend, Value: latency, Tags: tags},
				{Name: bid.MetricErrors, Kind: metrics.Rate, Value: boolValue(failed), Tags: tags},
			}
			switch {
			case failed:
				samples = append(samples, metrics.Sample{Name: bid.MetricFailedBids, Kind: metrics.Counter, Value: 1, Tags: tags})
			case roll < 0.35:
				samples = append(samples,
					metrics.Sample{Name: bid.MetricConflictBids, Kind: metrics.Counter, Value: 1, Tags: tags},
					metrics.Sample{Name: bid.MetricTooLowBids, Kind: metrics.Counter, Value: 1, Tags: tags})
			default:
				samples = append(samples, metrics.Sample{Name: bid.MetricSuccessfulBids, Kind: metrics.Counter, Value: 1, Tags: tags})
			}
			for _, s := range samples {
				if err := c.Record(s); err != nil {
					return nil, err
				}
			}
		}
	}

	thresholds, err := threshold.ParseAll(cfg.Thresholds)
	if err != nil {
		return nil, err
	}
	snap := c.Snapshot()
	outcomes := threshold.Evaluate(snap, thresholds)

	result := &engine.TestResult{
		ID:              uuid.NewString(),
		Name:            cfg.Name,
		Description:     cfg.Description,
		Target:          "http://localhost:8000" + bid.Path("1", "1"),
		StartTime:       now.Add(-duration),
		EndTime:         now,
		Duration:        duration,
		Metrics:         snap.Series,
		Thresholds:      engine.ThresholdResults(outcomes),
		BreachedMetrics: threshold.Breached(outcomes),
		Passed:          threshold.Passed(outcomes),
		PeakVUs:         712,
		Scenarios: map[string]*engine.ScenarioResult{
			"active_bidders":   {Name: "active_bidders", Executor: "ramping-vus", Workload: "active", Duration: 7 * time.Minute, Iterations: 4200, MaxVUs: 150},
			"casual_bidders":   {Name: "casual_bidders", Executor: "ramping-vus", Workload: "casual", Duration: 7 * time.Minute, Iterations: 9500, MaxVUs: 300},
			"last_minute_rush": {Name: "last_minute_rush", Executor: "ramping-arrival-rate", Workload: "last-minute", StartOffset: 4 * time.Minute, Duration: 7 * time.Minute, Iterations: 6100, DroppedIterations: 37, MaxVUs: 500},
		},
		DroppedIterations: 37,
	}
	return result, nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
