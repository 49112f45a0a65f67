package metrics

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const microsPerMilli = 1000.0

// Config contains configuration for the collector's trend histograms.
type Config struct {
	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		HistogramMin:     1,
		HistogramMax:     3600000000, // 1 hour in microseconds
		HistogramSigFigs: 3,
	}
}

// Collector merges samples from any number of concurrent producers.
//
// # Thread Safety
//
// Series lookup takes a read lock; only the first sample of a new name
// takes the write lock. Counter and trend updates hold a per-series mutex
// for a constant amount of work. Rate updates are lock-free.
type Collector struct {
	config Config

	series   map[string]*series
	seriesMu sync.RWMutex

	activeVUs atomic.Int64
	peakVUs   atomic.Int64

	startTime atomic.Int64
}

// NewCollector creates a collector with the default configuration.
func NewCollector() *Collector {
	return NewCollectorWithConfig(DefaultConfig())
}

// NewCollectorWithConfig creates a collector with a custom configuration.
func NewCollectorWithConfig(config Config) *Collector {
	c := &Collector{
		config: config,
		series: make(map[string]*series),
	}
	c.startTime.Store(time.Now().UnixNano())
	return c
}

// MarkStart resets the reference time used for elapsed-time based values.
func (c *Collector) MarkStart(t time.Time) {
	c.startTime.Store(t.UnixNano())
}

// Declare registers a metric without recording a sample.
func (c *Collector) Declare(name string, kind Kind) error {
	_, err := c.lookup(name, kind)
	return err
}

// Record adds a sample to its series and to one submetric per tag.
func (c *Collector) Record(sample Sample) error {
	if math.IsNaN(sample.Value) || math.IsInf(sample.Value, 0) {
		return fmt.Errorf("%w: %s=%v", ErrInvalidMetricValue, sample.Name, sample.Value)
	}
	if sample.Kind == Counter && sample.Value < 0 {
		return fmt.Errorf("%w: counter %s cannot decrease by %v", ErrInvalidMetricValue, sample.Name, sample.Value)
	}

	// Resolve every series first so a kind conflict records nothing.
	targets := make([]*series, 0, len(sample.Tags)+1)
	s, err := c.lookup(sample.Name, sample.Kind)
	if err != nil {
		return err
	}
	targets = append(targets, s)
	for key, value := range sample.Tags {
		sub, err := c.lookup(SubmetricName(sample.Name, key, value), sample.Kind)
		if err != nil {
			return err
		}
		targets = append(targets, sub)
	}

	for _, t := range targets {
		t.add(sample.Value)
	}
	return nil
}

// AddCounter records a counter delta.
func (c *Collector) AddCounter(name string, delta float64, tags map[string]string) error {
	return c.Record(Sample{Name: name, Kind: Counter, Value: delta, Tags: tags})
}

// AddRate records a boolean observation.
func (c *Collector) AddRate(name string, ok bool, tags map[string]string) error {
	v := 0.0
	if ok {
		v = 1
	}
	return c.Record(Sample{Name: name, Kind: Rate, Value: v, Tags: tags})
}

// AddTrend records a trend value.
func (c *Collector) AddTrend(name string, value float64, tags map[string]string) error {
	return c.Record(Sample{Name: name, Kind: Trend, Value: value, Tags: tags})
}

// AddDuration records a duration into a trend, in milliseconds.
func (c *Collector) AddDuration(name string, d time.Duration, tags map[string]string) error {
	return c.AddTrend(name, float64(d)/float64(time.Millisecond), tags)
}

// AddActiveVUs adjusts the live VU gauge and tracks its peak.
func (c *Collector) AddActiveVUs(delta int) {
	n := c.activeVUs.Add(int64(delta))
	for {
		peak := c.peakVUs.Load()
		if n <= peak || c.peakVUs.CompareAndSwap(peak, n) {
			return
		}
	}
}

// ActiveVUs returns the number of live VUs across all scenarios.
func (c *Collector) ActiveVUs() int {
	return int(c.activeVUs.Load())
}

// PeakVUs returns the highest number of simultaneously live VUs.
func (c *Collector) PeakVUs() int {
	return int(c.peakVUs.Load())
}

// Snapshot returns a copy of every series. Producers are not paused, so
// samples recorded concurrently may or may not be included.
func (c *Collector) Snapshot() Snapshot {
	c.seriesMu.RLock()
	all := make([]*series, 0, len(c.series))
	for _, s := range c.series {
		all = append(all, s)
	}
	c.seriesMu.RUnlock()

	snap := Snapshot{
		Series:  make(map[string]*SeriesSnapshot, len(all)),
		Elapsed: time.Since(time.Unix(0, c.startTime.Load())),
		Taken:   time.Now(),
	}
	for _, s := range all {
		snap.Series[s.name] = s.snapshot()
	}
	return snap
}

func (c *Collector) lookup(name string, kind Kind) (*series, error) {
	c.seriesMu.RLock()
	s, ok := c.series[name]
	c.seriesMu.RUnlock()

	if !ok {
		c.seriesMu.Lock()
		s, ok = c.series[name]
		if !ok {
			s = c.newSeries(name, kind)
			c.series[name] = s
		}
		c.seriesMu.Unlock()
	}

	if s.kind != kind {
		return nil, fmt.Errorf("%w: %s is a %s, not a %s", ErrKindMismatch, name, s.kind, kind)
	}
	return s, nil
}

func (c *Collector) newSeries(name string, kind Kind) *series {
	s := &series{name: name, kind: kind}
	if kind == Trend {
		s.hist = hdrhistogram.New(c.config.HistogramMin, c.config.HistogramMax, c.config.HistogramSigFigs)
		s.minRecordable = c.config.HistogramMin
		s.maxRecordable = c.config.HistogramMax
	}
	return s
}

// series is the aggregated state of one metric name.
type series struct {
	name string
	kind Kind

	// counter and trend state
	mu    sync.Mutex
	count int64
	sum   float64
	min   float64
	max   float64
	hist  *hdrhistogram.Histogram

	minRecordable int64
	maxRecordable int64

	// rate state; total is always incremented before trues
	total atomic.Int64
	trues atomic.Int64
}

func (s *series) add(v float64) {
	switch s.kind {
	case Rate:
		s.total.Add(1)
		if v != 0 {
			s.trues.Add(1)
		}
	case Counter:
		s.mu.Lock()
		s.count++
		s.sum += v
		s.mu.Unlock()
	case Trend:
		micros := int64(math.Round(v * microsPerMilli))
		if micros < s.minRecordable {
			micros = s.minRecordable
		}
		if micros > s.maxRecordable {
			micros = s.maxRecordable
		}

		s.mu.Lock()
		if s.count == 0 || v < s.min {
			s.min = v
		}
		if s.count == 0 || v > s.max {
			s.max = v
		}
		s.count++
		s.sum += v
		// In range by construction.
		_ = s.hist.RecordValue(micros)
		s.mu.Unlock()
	}
}

func (s *series) snapshot() *SeriesSnapshot {
	out := &SeriesSnapshot{Name: s.name, Kind: s.kind}

	switch s.kind {
	case Rate:
		// trues first: any total read afterwards is at least as large.
		out.Trues = s.trues.Load()
		out.Count = s.total.Load()
		out.Sum = float64(out.Trues)
	default:
		s.mu.Lock()
		out.Count = s.count
		out.Sum = s.sum
		out.Min = s.min
		out.Max = s.max
		if s.hist != nil {
			out.hist = hdrhistogram.Import(s.hist.Export())
		}
		s.mu.Unlock()
	}
	return out
}
