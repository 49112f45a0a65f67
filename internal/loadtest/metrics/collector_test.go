package metrics

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counter(t *testing.T) {
	c := NewCollector()

	require.NoError(t, c.AddCounter("successful_bids", 1, nil))
	require.NoError(t, c.AddCounter("successful_bids", 2, nil))

	snap := c.Snapshot()
	s, ok := snap.Get("successful_bids")
	require.True(t, ok)
	assert.Equal(t, Counter, s.Kind)
	assert.Equal(t, 3.0, s.Sum)
	assert.Equal(t, int64(2), s.Count)
}

func TestCollector_CounterRejectsNegativeDelta(t *testing.T) {
	c := NewCollector()

	err := c.AddCounter("http_reqs", -1, nil)
	if !errors.Is(err, ErrInvalidMetricValue) {
		t.Fatalf("AddCounter(-1) error = %v, want ErrInvalidMetricValue", err)
	}

	// Rejected samples leave no trace.
	_, ok := c.Snapshot().Get("http_reqs")
	assert.False(t, ok)
}

func TestCollector_RejectsNonFinite(t *testing.T) {
	c := NewCollector()

	assert.ErrorIs(t, c.AddTrend("bid_duration", math.NaN(), nil), ErrInvalidMetricValue)
	assert.ErrorIs(t, c.AddTrend("bid_duration", math.Inf(1), nil), ErrInvalidMetricValue)
}

func TestCollector_KindMismatch(t *testing.T) {
	c := NewCollector()

	require.NoError(t, c.Declare("errors", Rate))
	err := c.AddCounter("errors", 1, nil)
	assert.ErrorIs(t, err, ErrKindMismatch)
}

func TestCollector_SubmetricKindMismatchRecordsNothing(t *testing.T) {
	c := NewCollector()

	require.NoError(t, c.Declare("errors{bidder:active}", Trend))
	err := c.AddRate("errors", true, map[string]string{"bidder": "active"})
	assert.ErrorIs(t, err, ErrKindMismatch)

	parent, ok := c.Snapshot().Get("errors")
	require.True(t, ok)
	assert.Zero(t, parent.Count)
	assert.Zero(t, parent.Trues)
}

func TestCollector_Rate(t *testing.T) {
	c := NewCollector()

	for i := 0; i < 10; i++ {
		require.NoError(t, c.AddRate("errors", i < 3, nil))
	}

	s, ok := c.Snapshot().Get("errors")
	require.True(t, ok)
	assert.Equal(t, int64(3), s.Trues)
	assert.Equal(t, int64(10), s.Count)
	assert.InDelta(t, 0.3, s.Rate(), 1e-9)
}

func TestCollector_TrendPercentiles(t *testing.T) {
	c := NewCollector()

	for i := 1; i <= 100; i++ {
		require.NoError(t, c.AddTrend("http_req_duration", float64(i*10), nil))
	}

	s, ok := c.Snapshot().Get("http_req_duration")
	require.True(t, ok)
	assert.Equal(t, int64(100), s.Count)
	assert.Equal(t, 10.0, s.Min)
	assert.Equal(t, 1000.0, s.Max)
	assert.InDelta(t, 505.0, s.Avg(), 1e-9)

	tests := []struct {
		p    float64
		want float64
	}{
		{50, 500},
		{90, 900},
		{95, 950},
		{99, 990},
	}
	for _, tt := range tests {
		got := s.Percentile(tt.p)
		if math.Abs(got-tt.want) > tt.want*0.001 {
			t.Errorf("Percentile(%v) = %v, want %v within 0.1%%", tt.p, got, tt.want)
		}
	}
}

func TestCollector_AddDuration(t *testing.T) {
	c := NewCollector()

	require.NoError(t, c.AddDuration("bid_duration", 1500*time.Microsecond, nil))

	s, _ := c.Snapshot().Get("bid_duration")
	assert.InDelta(t, 1.5, s.Max, 1e-9)
}

func TestCollector_TaggedSubmetrics(t *testing.T) {
	c := NewCollector()

	tags := map[string]string{"scenario": "active_bidders", "bidder": "active"}
	require.NoError(t, c.AddCounter("successful_bids", 1, tags))
	require.NoError(t, c.AddCounter("successful_bids", 1, map[string]string{"scenario": "casual_observers"}))

	snap := c.Snapshot()

	total, _ := snap.Get("successful_bids")
	assert.Equal(t, 2.0, total.Sum)

	active, ok := snap.Get("successful_bids{scenario:active_bidders}")
	require.True(t, ok)
	assert.Equal(t, 1.0, active.Sum)

	bidder, ok := snap.Get("successful_bids{bidder:active}")
	require.True(t, ok)
	assert.Equal(t, 1.0, bidder.Sum)
	assert.Equal(t, Counter, bidder.Kind)
}

func TestCollector_ConcurrentProducers(t *testing.T) {
	c := NewCollector()

	const producers = 50
	const perProducer = 1000

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_ = c.AddCounter("http_reqs", 1, nil)
				_ = c.AddRate("http_req_failed", i%4 == 0, nil)
				_ = c.AddTrend("http_req_duration", float64(i%100+1), nil)
			}
		}(p)
	}

	// Snapshots taken while producers run must stay consistent.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			s, ok := c.Snapshot().Get("http_req_failed")
			if ok && s.Trues > s.Count {
				t.Errorf("rate trues %d exceeds total %d", s.Trues, s.Count)
				return
			}
		}
	}()

	wg.Wait()
	<-done

	snap := c.Snapshot()
	reqs, _ := snap.Get("http_reqs")
	assert.Equal(t, float64(producers*perProducer), reqs.Sum)

	failed, _ := snap.Get("http_req_failed")
	assert.Equal(t, int64(producers*perProducer), failed.Count)
	assert.Equal(t, int64(producers*perProducer/4), failed.Trues)

	dur, _ := snap.Get("http_req_duration")
	assert.Equal(t, int64(producers*perProducer), dur.Count)
}

func TestCollector_PeakVUs(t *testing.T) {
	c := NewCollector()

	c.AddActiveVUs(5)
	c.AddActiveVUs(10)
	c.AddActiveVUs(-12)

	assert.Equal(t, 3, c.ActiveVUs())
	assert.Equal(t, 15, c.PeakVUs())
}

func TestSeriesSnapshot_Values(t *testing.T) {
	c := NewCollector()
	require.NoError(t, c.AddRate("errors", true, nil))
	require.NoError(t, c.AddRate("errors", false, nil))

	s, _ := c.Snapshot().Get("errors")
	values := s.Values()
	assert.Equal(t, 0.5, values["rate"])
	assert.Equal(t, 1.0, values["passes"])
	assert.Equal(t, 1.0, values["fails"])
}

func TestParentName(t *testing.T) {
	assert.Equal(t, "bid_duration", ParentName(SubmetricName("bid_duration", "bidder", "casual")))
	assert.Equal(t, "bid_duration", ParentName("bid_duration"))
}
