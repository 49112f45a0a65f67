// Package output renders load test progress and results for humans (console)
// and machines (JSON).
package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Dedenruslan19/bidload/internal/bid"
	"github.com/Dedenruslan19/bidload/internal/loadtest/engine"
	"github.com/Dedenruslan19/bidload/internal/loadtest/metrics"
)

// ANSI escape codes for cursor control
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"
)

const (
	boxHorizontal  = "━"
	progressFilled = "█"
	progressEmpty  = "░"
	lineWidth      = 56
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveVUs int

	TotalRequests int64
	CurrentRPS    float64
	Failed        int64
	ErrorRate     float64
	Rejected      int64

	// Latencies in milliseconds
	BidP95 float64
	BidAvg float64
}

// StatsSource is what the console polls while a test runs.
type StatsSource interface {
	Progress() float64
	ActiveVUs() int
	Snapshot() (metrics.Snapshot, bool)
}

// Config contains configuration for Console.
type Config struct {
	Writer io.Writer

	// UpdateInterval is the live refresh period on a terminal
	UpdateInterval time.Duration

	// PlainInterval is the period of one-line updates when not on a terminal
	PlainInterval time.Duration

	// TotalDuration is the expected test length, used for the ETA
	TotalDuration time.Duration

	Quiet       bool
	NoColor     bool
	ForceColors bool
	ForceTTY    bool
}

// Console manages console output during and after a test.
type Console struct {
	config Config
	writer io.Writer
	isTTY  bool
	colors *ColorScheme

	mu          sync.Mutex
	linesOutput int
}

// NewConsole creates a new console output handler.
func NewConsole(config Config) *Console {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}
	if config.UpdateInterval <= 0 {
		config.UpdateInterval = time.Second
	}
	if config.PlainInterval <= 0 {
		config.PlainInterval = 10 * time.Second
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)
	useColors := !config.NoColor && (config.ForceColors || (isTTY && supportsColors()))

	return &Console{
		config: config,
		writer: config.Writer,
		isTTY:  isTTY,
		colors: DefaultColorScheme().set(useColors),
	}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the test banner.
func (c *Console) PrintHeader(info engine.RunInfo) {
	if c.config.Quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := c.colors.Border.Sprint(strings.Repeat(boxHorizontal, lineWidth))
	c.writeln(line)
	c.writeln(c.colors.Title.Sprintf("%s - Running", info.Name))
	c.writeln(line)
	c.writeln(fmt.Sprintf("Target:     %s", c.colors.Value.Sprint(info.Endpoint)))
	c.writeln(fmt.Sprintf("Scenarios:  %s", strings.Join(info.Scenarios, ", ")))
	c.writeln(fmt.Sprintf("Max VUs:    %d", info.MaxVUs))
	c.writeln(fmt.Sprintf("Duration:   %s (plus graceful stop)", formatDuration(info.TotalDuration)))
	c.writeln("")
}

// Watch refreshes the live display from src until ctx is done.
func (c *Console) Watch(ctx context.Context, src StatsSource) {
	if c.config.Quiet {
		return
	}

	interval := c.config.UpdateInterval
	if !c.isTTY {
		interval = c.config.PlainInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, ok := src.Snapshot()
			if !ok {
				continue
			}
			stats := StatsFromSnapshot(snap, src.Progress(), src.ActiveVUs(), c.config.TotalDuration)
			if c.isTTY {
				c.Update(stats)
			} else {
				c.PrintPlainUpdate(stats)
			}
		}
	}
}

// Update redraws the live display.
func (c *Console) Update(stats *LiveStats) {
	if c.config.Quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()
	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

// PrintPlainUpdate prints a one-line status, for logs and CI.
func (c *Console) PrintPlainUpdate(stats *LiveStats) {
	if c.config.Quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] progress %.0f%% | vus %d | reqs %d | rps %.1f | failed %d (%.1f%%) | rejected %d | bid p95 %s",
		formatDuration(stats.Elapsed),
		stats.Progress*100,
		stats.ActiveVUs,
		stats.TotalRequests,
		stats.CurrentRPS,
		stats.Failed,
		stats.ErrorRate*100,
		stats.Rejected,
		formatMillis(stats.BidP95)))
}

func (c *Console) renderLiveStats(stats *LiveStats) []string {
	timeInfo := fmt.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))
	errColor := c.colors.rateColor(stats.ErrorRate)

	return []string{
		fmt.Sprintf("Progress: %s %s | %s",
			c.colors.Good.Sprint(renderProgressBar(stats.Progress, 40)),
			c.colors.Title.Sprintf("%.0f%%", stats.Progress*100),
			c.colors.Dim.Sprint(timeInfo)),
		fmt.Sprintf("VUs: %s  Requests: %s  RPS: %s",
			c.colors.Value.Sprint(stats.ActiveVUs),
			c.colors.Value.Sprint(formatNumber(stats.TotalRequests)),
			c.colors.Good.Sprintf("%.1f", stats.CurrentRPS)),
		fmt.Sprintf("Failed: %s  Rejected (409): %s  Bid p95: %s  avg: %s",
			errColor.Sprintf("%d (%.1f%%)", stats.Failed, stats.ErrorRate*100),
			c.colors.Warn.Sprint(formatNumber(stats.Rejected)),
			c.colors.Latency.Sprint(formatMillis(stats.BidP95)),
			c.colors.Latency.Sprint(formatMillis(stats.BidAvg))),
	}
}

// clearLive erases the live display. Callers hold c.mu.
func (c *Console) clearLive() {
	if !c.isTTY || c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

// PrintSummary prints the end-of-test summary.
func (c *Console) PrintSummary(result *engine.TestResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.config.Quiet {
		if result.Passed {
			c.writeln(c.colors.Good.Sprint("PASSED"))
		} else {
			c.writeln(c.colors.Bad.Sprint("FAILED"))
		}
		return
	}

	c.clearLive()

	line := c.colors.Border.Sprint(strings.Repeat(boxHorizontal, lineWidth))
	status := c.colors.Good.Sprint("Completed ✓")
	if !result.Passed {
		status = c.colors.Bad.Sprint("Failed ✗")
	}

	c.writeln("")
	c.writeln(line)
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(result.Name), status))
	c.writeln(line)
	c.writeln("")

	c.writeln(fmt.Sprintf("Run ID:        %s", result.ID))
	c.writeln(fmt.Sprintf("Target:        %s", result.Target))
	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.Value.Sprint(formatDuration(result.Duration))))
	c.writeln(fmt.Sprintf("Peak VUs:      %s", c.colors.Value.Sprint(result.PeakVUs)))
	if result.DroppedIterations > 0 {
		c.writeln(fmt.Sprintf("Dropped:       %s", c.colors.Warn.Sprint(formatNumber(result.DroppedIterations))))
	}
	if result.ForcedStops > 0 {
		c.writeln(fmt.Sprintf("Forced stops:  %s", c.colors.Warn.Sprint(result.ForcedStops)))
	}
	c.writeln("")

	c.printScenarios(result)
	c.printMetrics(result)
	c.printThresholds(result)
}

func (c *Console) printScenarios(result *engine.TestResult) {
	if len(result.Scenarios) == 0 {
		return
	}
	names := make([]string, 0, len(result.Scenarios))
	for name := range result.Scenarios {
		names = append(names, name)
	}
	sort.Strings(names)

	c.writeln(c.colors.Label.Sprint("Scenarios:"))
	for _, name := range names {
		s := result.Scenarios[name]
		detail := fmt.Sprintf("%-22s %-12s iterations=%s", s.Executor, s.Workload, formatNumber(s.Iterations))
		if s.StartOffset > 0 {
			detail += fmt.Sprintf(" start=%s", formatDuration(s.StartOffset))
		}
		if s.DroppedIterations > 0 {
			detail += " dropped=" + c.colors.Warn.Sprint(formatNumber(s.DroppedIterations))
		}
		if s.Skipped {
			detail += " " + c.colors.Dim.Sprint("(skipped)")
		}
		c.writeln(fmt.Sprintf("  %-14s %s", name, detail))
	}
	c.writeln("")
}

// printMetrics lists every recorded series, submetrics under their parent.
func (c *Console) printMetrics(result *engine.TestResult) {
	var parents []string
	children := make(map[string][]string)
	for name, s := range result.Metrics {
		if s.Count == 0 {
			continue
		}
		parent := metrics.ParentName(name)
		if parent == name {
			parents = append(parents, name)
		} else {
			children[parent] = append(children[parent], name)
		}
	}
	if len(parents) == 0 {
		return
	}
	sort.Strings(parents)

	c.writeln(c.colors.Label.Sprint("Metrics:"))
	for _, name := range parents {
		c.writeln(fmt.Sprintf("  %s: %s", dotted(name, 30), formatSeries(c.colors, result.Metrics[name], result.Duration)))
		subs := children[name]
		sort.Strings(subs)
		for _, sub := range subs {
			label := sub[len(name):]
			c.writeln(fmt.Sprintf("    %s: %s", dotted(label, 28), formatSeries(c.colors, result.Metrics[sub], result.Duration)))
		}
	}
	c.writeln("")
}

func formatSeries(colors *ColorScheme, s *metrics.SeriesSnapshot, elapsed time.Duration) string {
	switch s.Kind {
	case metrics.Trend:
		return fmt.Sprintf("avg=%s min=%s med=%s max=%s p(90)=%s p(95)=%s p(99)=%s",
			formatMillis(s.Avg()), formatMillis(s.Min), formatMillis(s.Percentile(50)), formatMillis(s.Max),
			formatMillis(s.Percentile(90)), formatMillis(s.Percentile(95)), formatMillis(s.Percentile(99)))
	case metrics.Rate:
		return fmt.Sprintf("%s %s of %s",
			colors.Value.Sprintf("%.2f%%", s.Rate()*100),
			formatNumber(s.Trues), formatNumber(s.Count))
	case metrics.Counter:
		return fmt.Sprintf("%s %s",
			colors.Value.Sprint(formatNumber(int64(s.Sum))),
			colors.Dim.Sprintf("%.2f/s", s.PerSecond(elapsed)))
	}
	return ""
}

func (c *Console) printThresholds(result *engine.TestResult) {
	if len(result.Thresholds) == 0 {
		return
	}
	c.writeln(c.colors.Label.Sprint("Thresholds:"))
	for _, t := range result.Thresholds {
		if t.Passed {
			c.writeln(fmt.Sprintf("  %s %s %s (observed %.4g)", c.colors.SuccessIcon(), t.Metric, t.Expression, t.Observed))
			continue
		}
		c.writeln(fmt.Sprintf("  %s %s %s %s", c.colors.ErrorIcon(), t.Metric, t.Expression, c.colors.Bad.Sprintf("(%s)", t.Message)))
	}
	c.writeln("")

	if len(result.BreachedMetrics) > 0 {
		c.writeln(c.colors.Bad.Sprintf("Breached: %s", strings.Join(result.BreachedMetrics, ", ")))
		c.writeln("")
	}
}

func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// StatsFromSnapshot derives the live statistics from a collector snapshot.
func StatsFromSnapshot(snap metrics.Snapshot, progress float64, activeVUs int, total time.Duration) *LiveStats {
	stats := &LiveStats{
		Progress:  progress,
		Elapsed:   snap.Elapsed,
		ActiveVUs: activeVUs,
	}

	switch {
	case progress > 0 && progress < 1:
		stats.Remaining = time.Duration(float64(snap.Elapsed) * (1 - progress) / progress)
	case total > snap.Elapsed:
		stats.Remaining = total - snap.Elapsed
	}

	if s, ok := snap.Get(metrics.HTTPReqs); ok {
		stats.TotalRequests = int64(s.Sum)
		stats.CurrentRPS = s.PerSecond(snap.Elapsed)
	}
	if s, ok := snap.Get(metrics.HTTPReqFailed); ok {
		stats.Failed = s.Trues
		stats.ErrorRate = s.Rate()
	}
	if s, ok := snap.Get(bid.MetricConflictBids); ok {
		stats.Rejected = int64(s.Sum)
	}
	if s, ok := snap.Get(bid.MetricBidDuration); ok {
		stats.BidP95 = s.Percentile(95)
		stats.BidAvg = s.Avg()
	}
	return stats
}

func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// dotted pads name with dots to width, k6 style.
func dotted(name string, width int) string {
	n := len([]rune(name))
	if n >= width {
		return name
	}
	return name + " " + strings.Repeat(".", width-n-1)
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatMillis formats a latency given in milliseconds.
func formatMillis(ms float64) string {
	switch {
	case ms <= 0:
		return "0ms"
	case ms < 1:
		return fmt.Sprintf("%.0fµs", ms*1000)
	case ms < 1000:
		return fmt.Sprintf("%.2fms", ms)
	case ms < 60000:
		return fmt.Sprintf("%.2fs", ms/1000)
	default:
		return fmt.Sprintf("%.1fm", ms/60000)
	}
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
