// Package threshold parses pass/fail criteria such as "p(95)<2000" and
// evaluates them against a metrics snapshot.
package threshold

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Dedenruslan19/bidload/internal/loadtest/metrics"
)

var (
	// ErrUnknownMetric is returned for thresholds on metrics that are not
	// declared, or trends and rates that recorded no samples by the end of
	// the test. Counters that were never incremented evaluate as 0.
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrMalformedThreshold is returned when an expression does not match
	// the threshold grammar.
	ErrMalformedThreshold = errors.New("malformed threshold")

	// ErrAggregateKindMismatch is returned when an aggregate cannot be
	// computed from the metric's kind, e.g. p(95) on a rate.
	ErrAggregateKindMismatch = errors.New("aggregate does not apply to metric kind")
)

// Aggregate functions.
const (
	AggRate  = "rate"
	AggP     = "p"
	AggAvg   = "avg"
	AggMin   = "min"
	AggMax   = "max"
	AggMed   = "med"
	AggCount = "count"
)

// expression: fn, optional (arg), operator, number.
var exprPattern = regexp.MustCompile(`^\s*([a-z]+)\s*(?:\(\s*([^)]*?)\s*\))?\s*(<=|>=|==|!=|<|>)\s*([-+]?[0-9]*\.?[0-9]+(?:[eE][-+]?[0-9]+)?)\s*$`)

const epsilon = 1e-9

// Threshold is one parsed criterion on one metric.
type Threshold struct {
	Metric     string  `json:"metric"`
	Expression string  `json:"expression"`
	Aggregate  string  `json:"aggregate"`
	Arg        float64 `json:"arg,omitempty"`
	Operator   string  `json:"operator"`
	Value      float64 `json:"value"`
}

// String returns "metric: expression".
func (t Threshold) String() string {
	return t.Metric + ": " + t.Expression
}

// Outcome is the verdict for one threshold.
type Outcome struct {
	Threshold Threshold `json:"threshold"`
	Observed  float64   `json:"observed"`
	Passed    bool      `json:"passed"`
	Err       error     `json:"-"`
}

// Message describes the outcome for display.
func (o Outcome) Message() string {
	if o.Err != nil {
		return o.Err.Error()
	}
	return fmt.Sprintf("%s %s: %s=%.4g", o.Threshold.Metric, o.Threshold.Expression, o.Threshold.Aggregate, o.Observed)
}

// Parse parses expr as a threshold on metric.
//
// Supported forms:
//   - "p(95)<2000"  percentile of a trend
//   - "avg<200", "min>0", "max<=5000", "med<1000"
//   - "rate<0.1"    rate series, or per-second rate of a counter
//   - "count>100"   counter total
func Parse(metric, expr string) (Threshold, error) {
	if strings.TrimSpace(metric) == "" {
		return Threshold{}, fmt.Errorf("%w: empty metric name", ErrMalformedThreshold)
	}

	m := exprPattern.FindStringSubmatch(expr)
	if m == nil {
		return Threshold{}, fmt.Errorf("%w: %q (expected e.g. \"p(95)<500\" or \"rate<0.01\")", ErrMalformedThreshold, expr)
	}
	fn, arg, op, num := m[1], m[2], m[3], m[4]
	hasArg := strings.Contains(expr, "(")

	t := Threshold{
		Metric:     metric,
		Expression: strings.TrimSpace(expr),
		Aggregate:  fn,
		Operator:   op,
	}

	switch fn {
	case AggP:
		if !hasArg {
			return Threshold{}, fmt.Errorf("%w: %q: p requires a percentile argument", ErrMalformedThreshold, expr)
		}
		p, err := strconv.Atoi(arg)
		if err != nil || p < 0 || p > 100 {
			return Threshold{}, fmt.Errorf("%w: %q: percentile must be an integer in [0,100]", ErrMalformedThreshold, expr)
		}
		t.Arg = float64(p)
	case AggRate, AggAvg, AggMin, AggMax, AggMed, AggCount:
		if hasArg {
			return Threshold{}, fmt.Errorf("%w: %q: %s takes no argument", ErrMalformedThreshold, expr, fn)
		}
	default:
		return Threshold{}, fmt.Errorf("%w: %q: unknown aggregate %q", ErrMalformedThreshold, expr, fn)
	}

	value, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("%w: %q: %v", ErrMalformedThreshold, expr, err)
	}
	t.Value = value
	return t, nil
}

// ParseAll parses a metric -> expressions map. Errors for every bad
// expression are joined. The result is ordered by metric name.
func ParseAll(spec map[string][]string) ([]Threshold, error) {
	metricNames := make([]string, 0, len(spec))
	for name := range spec {
		metricNames = append(metricNames, name)
	}
	sort.Strings(metricNames)

	var (
		out  []Threshold
		errs []error
	)
	for _, name := range metricNames {
		for _, expr := range spec[name] {
			t, err := Parse(name, expr)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			out = append(out, t)
		}
	}
	return out, errors.Join(errs...)
}

// Validate checks that every threshold targets a known metric with a
// compatible kind. Submetrics such as http_req_duration{bidder:active}
// resolve to the kind of their parent.
func Validate(thresholds []Threshold, kinds map[string]metrics.Kind) error {
	var errs []error
	for _, t := range thresholds {
		kind, ok := kinds[metrics.ParentName(t.Metric)]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownMetric, t.Metric))
			continue
		}
		if err := checkKind(t, kind); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func checkKind(t Threshold, kind metrics.Kind) error {
	ok := false
	switch t.Aggregate {
	case AggP, AggAvg, AggMin, AggMax, AggMed:
		ok = kind == metrics.Trend
	case AggRate:
		ok = kind == metrics.Rate || kind == metrics.Counter
	case AggCount:
		ok = kind == metrics.Counter
	}
	if !ok {
		return fmt.Errorf("%w: %s on %s (%s)", ErrAggregateKindMismatch, t.Aggregate, t.Metric, kind)
	}
	return nil
}

// Evaluate computes every threshold against snap. It never fails as a
// whole; problems are reported per outcome with Passed=false.
func Evaluate(snap metrics.Snapshot, thresholds []Threshold) []Outcome {
	outcomes := make([]Outcome, 0, len(thresholds))
	for _, t := range thresholds {
		outcomes = append(outcomes, evaluateOne(snap, t))
	}
	return outcomes
}

func evaluateOne(snap metrics.Snapshot, t Threshold) Outcome {
	out := Outcome{Threshold: t}

	series, ok := lookupSeries(snap, t.Metric)
	if !ok {
		out.Err = fmt.Errorf("%w: %s was never recorded", ErrUnknownMetric, t.Metric)
		return out
	}
	if err := checkKind(t, series.Kind); err != nil {
		out.Err = err
		return out
	}
	// A counter that never moved is 0; trends and rates have nothing to
	// measure.
	if series.Count == 0 && series.Kind != metrics.Counter {
		out.Err = fmt.Errorf("%w: %s has no samples", ErrUnknownMetric, t.Metric)
		return out
	}

	out.Observed = observe(series, t, snap)
	out.Passed = compare(out.Observed, t.Operator, t.Value)
	return out
}

// lookupSeries finds the series for name. A submetric of a known counter
// that was never incremented is an empty counter.
func lookupSeries(snap metrics.Snapshot, name string) (*metrics.SeriesSnapshot, bool) {
	if s, ok := snap.Get(name); ok {
		return s, true
	}
	parent, ok := snap.Get(metrics.ParentName(name))
	if !ok || parent.Kind != metrics.Counter || metrics.ParentName(name) == name {
		return nil, false
	}
	return &metrics.SeriesSnapshot{Name: name, Kind: metrics.Counter}, true
}

func observe(s *metrics.SeriesSnapshot, t Threshold, snap metrics.Snapshot) float64 {
	switch t.Aggregate {
	case AggP:
		return s.Percentile(t.Arg)
	case AggMed:
		return s.Percentile(50)
	case AggAvg:
		return s.Avg()
	case AggMin:
		return s.Min
	case AggMax:
		return s.Max
	case AggCount:
		return s.Sum
	case AggRate:
		if s.Kind == metrics.Counter {
			return s.PerSecond(snap.Elapsed)
		}
		return s.Rate()
	}
	return math.NaN()
}

func compare(actual float64, op string, expected float64) bool {
	switch op {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	case "!=":
		return math.Abs(actual-expected) >= epsilon
	default:
		return false
	}
}

// Passed reports whether every outcome passed.
func Passed(outcomes []Outcome) bool {
	for _, o := range outcomes {
		if !o.Passed {
			return false
		}
	}
	return true
}

// Breached returns the sorted, de-duplicated metric names with at least
// one failing outcome.
func Breached(outcomes []Outcome) []string {
	seen := make(map[string]bool)
	var names []string
	for _, o := range outcomes {
		if o.Passed || seen[o.Threshold.Metric] {
			continue
		}
		seen[o.Threshold.Metric] = true
		names = append(names, o.Threshold.Metric)
	}
	sort.Strings(names)
	return names
}
