package threshold_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dedenruslan19/bidload/internal/loadtest/metrics"
	"github.com/Dedenruslan19/bidload/internal/loadtest/threshold"
)

func TestParse(t *testing.T) {
	tests := []struct {
		expr    string
		agg     string
		arg     float64
		op      string
		value   float64
		wantErr bool
	}{
		{expr: "p(95)<2000", agg: "p", arg: 95, op: "<", value: 2000},
		{expr: " p( 99 ) <= 3000 ", agg: "p", arg: 99, op: "<=", value: 3000},
		{expr: "rate<0.1", agg: "rate", op: "<", value: 0.1},
		{expr: "avg < 200", agg: "avg", op: "<", value: 200},
		{expr: "min>=0", agg: "min", op: ">=", value: 0},
		{expr: "max!=5", agg: "max", op: "!=", value: 5},
		{expr: "med==1.5", agg: "med", op: "==", value: 1.5},
		{expr: "count>100", agg: "count", op: ">", value: 100},
		{expr: "p(0)>-1", agg: "p", arg: 0, op: ">", value: -1},
		{expr: "p(100)<1e3", agg: "p", arg: 100, op: "<", value: 1000},

		{expr: "", wantErr: true},
		{expr: "p95<2000", wantErr: true},
		{expr: "p<2000", wantErr: true},
		{expr: "p(101)<2000", wantErr: true},
		{expr: "p(9.5)<2000", wantErr: true},
		{expr: "rate(1)<0.1", wantErr: true},
		{expr: "rate<", wantErr: true},
		{expr: "rate=<0.1", wantErr: true},
		{expr: "stddev<5", wantErr: true},
		{expr: "rate<abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := threshold.Parse("http_req_duration", tt.expr)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, threshold.ErrMalformedThreshold)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.agg, got.Aggregate)
			assert.Equal(t, tt.arg, got.Arg)
			assert.Equal(t, tt.op, got.Operator)
			assert.InDelta(t, tt.value, got.Value, 1e-12)
			assert.Equal(t, "http_req_duration", got.Metric)
		})
	}
}

func TestParseAll_JoinsErrors(t *testing.T) {
	got, err := threshold.ParseAll(map[string][]string{
		"http_req_duration": {"p(95)<2000", "bogus"},
		"errors":            {"rate<0.1"},
		"http_req_failed":   {"rate<"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, threshold.ErrMalformedThreshold)
	assert.Len(t, got, 2)
	assert.Equal(t, "errors", got[0].Metric)
}

func TestValidate(t *testing.T) {
	kinds := metrics.BuiltinKinds()
	kinds["errors"] = metrics.Rate
	kinds["successful_bids"] = metrics.Counter

	mustParse := func(metric, expr string) threshold.Threshold {
		th, err := threshold.Parse(metric, expr)
		require.NoError(t, err)
		return th
	}

	tests := []struct {
		name    string
		th      threshold.Threshold
		wantErr error
	}{
		{"percentile on trend", mustParse("http_req_duration", "p(95)<2000"), nil},
		{"rate on rate", mustParse("errors", "rate<0.1"), nil},
		{"rate on counter", mustParse("http_reqs", "rate>10"), nil},
		{"count on counter", mustParse("successful_bids", "count>0"), nil},
		{"submetric resolves to parent", mustParse("http_req_duration{bidder:active}", "avg<500"), nil},
		{"unknown metric", mustParse("nope", "rate<0.1"), threshold.ErrUnknownMetric},
		{"percentile on rate", mustParse("errors", "p(95)<1"), threshold.ErrAggregateKindMismatch},
		{"count on trend", mustParse("http_req_duration", "count>1"), threshold.ErrAggregateKindMismatch},
		{"avg on counter", mustParse("http_reqs", "avg>1"), threshold.ErrAggregateKindMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := threshold.Validate([]threshold.Threshold{tt.th}, kinds)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func newSnapshot(t *testing.T) metrics.Snapshot {
	t.Helper()

	c := metrics.NewCollector()
	c.MarkStart(time.Now().Add(-10 * time.Second))
	for i := 1; i <= 100; i++ {
		require.NoError(t, c.AddTrend("bid_duration", float64(i*10), map[string]string{"bidder": "active"}))
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, c.AddRate("errors", i < 2, nil))
	}
	require.NoError(t, c.AddCounter("http_reqs", 100, nil))
	require.NoError(t, c.Declare("dropped_iterations", metrics.Counter))
	return c.Snapshot()
}

func TestEvaluate(t *testing.T) {
	snap := newSnapshot(t)

	parse := func(metric, expr string) threshold.Threshold {
		th, err := threshold.Parse(metric, expr)
		require.NoError(t, err)
		return th
	}

	tests := []struct {
		name       string
		th         threshold.Threshold
		wantPassed bool
		observed   float64
		delta      float64
	}{
		{"p95 below limit", parse("bid_duration", "p(95)<2000"), true, 950, 1},
		{"p95 above limit", parse("bid_duration", "p(95)<900"), false, 950, 1},
		{"avg", parse("bid_duration", "avg<=505"), true, 505, 1e-9},
		{"min", parse("bid_duration", "min==10"), true, 10, 1e-9},
		{"max", parse("bid_duration", "max<1000"), false, 1000, 1e-9},
		{"med", parse("bid_duration", "med<600"), true, 500, 1},
		{"rate", parse("errors", "rate<0.1"), false, 0.2, 1e-9},
		{"rate boundary", parse("errors", "rate<=0.2"), true, 0.2, 1e-9},
		{"count", parse("http_reqs", "count>=100"), true, 100, 1e-9},
		{"counter rate per second", parse("http_reqs", "rate>5"), true, 10, 0.5},
		{"submetric", parse("bid_duration{bidder:active}", "max<=1000"), true, 1000, 1e-9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := threshold.Evaluate(snap, []threshold.Threshold{tt.th})
			require.Len(t, out, 1)
			assert.NoError(t, out[0].Err)
			assert.Equal(t, tt.wantPassed, out[0].Passed)
			assert.InDelta(t, tt.observed, out[0].Observed, tt.delta)
		})
	}
}

func TestEvaluate_EmptyCounterIsZero(t *testing.T) {
	snap := newSnapshot(t)

	tests := []struct {
		metric string
		expr   string
	}{
		{"dropped_iterations", "count<1"},
		{"dropped_iterations", "count==0"},
		{"dropped_iterations", "rate<0.5"},
		{"http_reqs{scenario:idle}", "count<1"},
	}

	for _, tt := range tests {
		t.Run(tt.metric+" "+tt.expr, func(t *testing.T) {
			th, err := threshold.Parse(tt.metric, tt.expr)
			require.NoError(t, err)

			out := threshold.Evaluate(snap, []threshold.Threshold{th})
			require.Len(t, out, 1)
			assert.NoError(t, out[0].Err)
			assert.True(t, out[0].Passed)
			assert.Zero(t, out[0].Observed)
		})
	}
}

func TestEvaluate_MissingOrEmptyMetric(t *testing.T) {
	c := metrics.NewCollector()
	require.NoError(t, c.Declare("bid_duration", metrics.Trend))
	require.NoError(t, c.Declare("errors", metrics.Rate))
	snap := c.Snapshot()

	tests := []struct {
		metric string
		expr   string
	}{
		{"bid_duration", "p(95)<1000"},
		{"errors", "rate<0.1"},
		{"nope", "count<1"},
		{"bid_duration{bidder:active}", "max<1000"},
	}

	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			th, err := threshold.Parse(tt.metric, tt.expr)
			require.NoError(t, err)

			out := threshold.Evaluate(snap, []threshold.Threshold{th})
			require.Len(t, out, 1)
			assert.False(t, out[0].Passed)
			assert.True(t, errors.Is(out[0].Err, threshold.ErrUnknownMetric), out[0].Err)
		})
	}
}

func TestPassedAndBreached(t *testing.T) {
	outcomes := []threshold.Outcome{
		{Threshold: threshold.Threshold{Metric: "http_req_duration"}, Passed: true},
		{Threshold: threshold.Threshold{Metric: "errors"}, Passed: false},
		{Threshold: threshold.Threshold{Metric: "errors"}, Passed: false},
		{Threshold: threshold.Threshold{Metric: "bid_duration"}, Passed: false},
	}

	assert.False(t, threshold.Passed(outcomes))
	assert.Equal(t, []string{"bid_duration", "errors"}, threshold.Breached(outcomes))

	assert.True(t, threshold.Passed(outcomes[:1]))
	assert.Empty(t, threshold.Breached(outcomes[:1]))
	assert.True(t, threshold.Passed(nil))
}
