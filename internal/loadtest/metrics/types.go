// Package metrics aggregates samples emitted by virtual users into named
// counter, rate and trend series.
package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

var (
	// ErrInvalidMetricValue is returned for negative counter deltas and
	// non-finite values.
	ErrInvalidMetricValue = errors.New("invalid metric value")

	// ErrKindMismatch is returned when a metric name is used with a kind
	// other than the one it was first registered with.
	ErrKindMismatch = errors.New("metric kind mismatch")
)

// Kind is the aggregation kind of a metric.
type Kind int

const (
	// Counter accumulates a non-negative sum.
	Counter Kind = iota + 1
	// Rate tracks the fraction of non-zero samples.
	Rate
	// Trend tracks a distribution of values, in milliseconds for latencies.
	Trend
)

func (k Kind) String() string {
	switch k {
	case Counter:
		return "counter"
	case Rate:
		return "rate"
	case Trend:
		return "trend"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Built-in metrics recorded by the virtual user runner and the executors.
const (
	HTTPReqs          = "http_reqs"
	HTTPReqDuration   = "http_req_duration"
	HTTPReqFailed     = "http_req_failed"
	Iterations        = "iterations"
	IterationDuration = "iteration_duration"
	DroppedIterations = "dropped_iterations"
	ForcedStops       = "forced_stops"
)

// BuiltinKinds returns the kinds of the built-in metrics.
func BuiltinKinds() map[string]Kind {
	return map[string]Kind{
		HTTPReqs:          Counter,
		HTTPReqDuration:   Trend,
		HTTPReqFailed:     Rate,
		Iterations:        Counter,
		IterationDuration: Trend,
		DroppedIterations: Counter,
		ForcedStops:       Counter,
	}
}

// Sample is a single observation.
type Sample struct {
	Name  string
	Kind  Kind
	Value float64
	Tags  map[string]string
}

// SubmetricName returns the name of the tagged sub-series of a metric,
// e.g. http_req_duration{scenario:spike}.
func SubmetricName(name, key, value string) string {
	return name + "{" + key + ":" + value + "}"
}

// ParentName strips the tag selector from a submetric name.
func ParentName(name string) string {
	if i := strings.IndexByte(name, '{'); i > 0 {
		return name[:i]
	}
	return name
}

// Snapshot is a point-in-time copy of every series.
type Snapshot struct {
	Series  map[string]*SeriesSnapshot
	Elapsed time.Duration
	Taken   time.Time
}

// Get returns the series for name.
func (s Snapshot) Get(name string) (*SeriesSnapshot, bool) {
	ss, ok := s.Series[name]
	return ss, ok
}

// Names returns the series names in sorted order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.Series))
	for name := range s.Series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SeriesSnapshot holds the aggregated state of one series.
type SeriesSnapshot struct {
	Name  string
	Kind  Kind
	Count int64
	Sum   float64
	Trues int64
	Min   float64
	Max   float64

	hist *hdrhistogram.Histogram
}

// Rate returns trues/total for rate series and 0 for any other kind.
func (s *SeriesSnapshot) Rate() float64 {
	if s.Kind != Rate || s.Count == 0 {
		return 0
	}
	return float64(s.Trues) / float64(s.Count)
}

// PerSecond returns the counter sum divided by the elapsed time.
func (s *SeriesSnapshot) PerSecond(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return s.Sum / elapsed.Seconds()
}

// Avg returns the mean of a trend.
func (s *SeriesSnapshot) Avg() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// Percentile returns the value at percentile p (0..100) of a trend.
// Values are reconstructed from the histogram and carry at most 0.1%
// relative error.
func (s *SeriesSnapshot) Percentile(p float64) float64 {
	if s.hist == nil || s.Count == 0 {
		return 0
	}
	v := float64(s.hist.ValueAtQuantile(p)) / microsPerMilli
	// Keep percentiles inside the exact observed range.
	if v < s.Min {
		return s.Min
	}
	if v > s.Max {
		return s.Max
	}
	return v
}

// Values returns the summary values reported for the series.
func (s *SeriesSnapshot) Values() map[string]float64 {
	switch s.Kind {
	case Counter:
		return map[string]float64{"count": s.Sum}
	case Rate:
		return map[string]float64{
			"rate":   s.Rate(),
			"passes": float64(s.Trues),
			"fails":  float64(s.Count - s.Trues),
		}
	case Trend:
		return map[string]float64{
			"count": float64(s.Count),
			"avg":   s.Avg(),
			"min":   s.Min,
			"med":   s.Percentile(50),
			"max":   s.Max,
			"p(90)": s.Percentile(90),
			"p(95)": s.Percentile(95),
			"p(99)": s.Percentile(99),
		}
	}
	return nil
}

// MarshalJSON renders the series as {"kind": ..., "values": {...}}.
func (s *SeriesSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind   Kind               `json:"kind"`
		Values map[string]float64 `json:"values"`
	}{s.Kind, s.Values()})
}

func (s *SeriesSnapshot) String() string {
	return fmt.Sprintf("%s(%s) count=%d", s.Name, s.Kind, s.Count)
}
