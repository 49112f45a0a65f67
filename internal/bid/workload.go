package bid

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Dedenruslan19/bidload/internal/loadtest"
	"github.com/Dedenruslan19/bidload/internal/loadtest/metrics"
)

// Metrics recorded by bid workloads.
const (
	MetricBidDuration    = "bid_duration"
	MetricErrors         = "errors"
	MetricSuccessfulBids = "successful_bids"
	MetricFailedBids     = "failed_bids"
	MetricConflictBids   = "conflict_bids_409"
	MetricTooLowBids     = "too_low_bids"
	MetricDuplicateBids  = "duplicate_bids"
)

// TagBidder is the tag key carrying the bidder behavior.
const TagBidder = "bidder"

// InitialKnownBid seeds the highest-bid tracker of every VU.
const InitialKnownBid int64 = 100000

// ThinkRange bounds the pause between two bids. Min == Max is a fixed pause.
type ThinkRange struct {
	Min time.Duration
	Max time.Duration
}

func (r ThinkRange) pick(rng *rand.Rand) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(rng.Int63n(int64(r.Max-r.Min)))
}

// Options customize a workload.
type Options struct {
	// ThinkTime replaces the behavior's default pause when set.
	ThinkTime *ThinkRange

	Logger *zap.Logger
}

// behavior decides the amount of each bid.
type behavior struct {
	think ThinkRange

	// amount returns the next bid, or false to skip the iteration.
	amount func(u *user, iteration int64) (int64, bool)

	// tracks makes successful bids raise the VU's known highest bid.
	tracks bool
}

var behaviors = map[string]behavior{
	"incremental": {
		think: ThinkRange{Min: time.Second, Max: 3 * time.Second},
		amount: func(u *user, iteration int64) (int64, bool) {
			return 250000 + iteration*(10000+u.rng.Int63n(40000)), true
		},
	},
	"active": {
		think: ThinkRange{Min: 5 * time.Second, Max: 15 * time.Second},
		amount: func(u *user, _ int64) (int64, bool) {
			return u.lastKnown + 10000*(1+u.rng.Int63n(3)), true
		},
		tracks: true,
	},
	"casual": {
		think: ThinkRange{Min: 10 * time.Second, Max: 30 * time.Second},
		amount: func(u *user, _ int64) (int64, bool) {
			if u.rng.Float64() >= 0.2 {
				return 0, false
			}
			return u.lastKnown + u.rng.Int63n(50000) + 20000, true
		},
	},
	"last-minute": {
		think: ThinkRange{Min: time.Second, Max: 4 * time.Second},
		amount: func(u *user, _ int64) (int64, bool) {
			return u.lastKnown + 10000*(5+u.rng.Int63n(5)), true
		},
		tracks: true,
	},
	"random": {
		think: ThinkRange{Min: 500 * time.Millisecond, Max: 500 * time.Millisecond},
		amount: func(u *user, _ int64) (int64, bool) {
			return 100000 + u.rng.Int63n(900000), true
		},
	},
}

// Names returns the registered bidder behaviors in sorted order.
func Names() []string {
	names := make([]string, 0, len(behaviors))
	for name := range behaviors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Workload is a bidder behavior bound to a Bidder. It is shared by all VUs
// of a scenario.
type Workload struct {
	name     string
	behavior behavior
	think    ThinkRange
	client   Bidder
	logger   *zap.Logger

	failureLog *rate.Sometimes
}

// NewWorkload returns the named bidder behavior.
func NewWorkload(name string, client Bidder, opts Options) (*Workload, error) {
	b, ok := behaviors[name]
	if !ok {
		return nil, fmt.Errorf("unknown workload %q (available: %v)", name, Names())
	}
	if client == nil {
		return nil, fmt.Errorf("workload %q: nil bidder", name)
	}

	think := b.think
	if opts.ThinkTime != nil {
		think = *opts.ThinkTime
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Workload{
		name:       name,
		behavior:   b,
		think:      think,
		client:     client,
		logger:     logger.With(zap.String("workload", name)),
		failureLog: &rate.Sometimes{Interval: time.Second},
	}, nil
}

// Name implements loadtest.Workload.
func (w *Workload) Name() string { return w.name }

// ThinkRange returns the effective pause range.
func (w *Workload) ThinkRange() ThinkRange { return w.think }

// NewUser implements loadtest.Workload.
func (w *Workload) NewUser(vuID int, rng *rand.Rand) loadtest.User {
	return &user{
		w:         w,
		vuID:      vuID,
		rng:       rng,
		lastKnown: InitialKnownBid,
	}
}

// Metrics implements loadtest.MetricDeclarer.
func (w *Workload) Metrics() map[string]metrics.Kind {
	return map[string]metrics.Kind{
		MetricBidDuration:    metrics.Trend,
		MetricErrors:         metrics.Rate,
		MetricSuccessfulBids: metrics.Counter,
		MetricFailedBids:     metrics.Counter,
		MetricConflictBids:   metrics.Counter,
		MetricTooLowBids:     metrics.Counter,
		MetricDuplicateBids:  metrics.Counter,
	}
}

// logFailure logs at most one failed bid per second for the workload.
func (w *Workload) logFailure(vuID int, amount int64, resp Response, c Classification) {
	w.failureLog.Do(func() {
		fields := []zap.Field{
			zap.Int("vu", vuID),
			zap.Int64("amount", amount),
			zap.Int("status", resp.Status),
			zap.String("reason", string(c.Reason)),
			zap.Duration("duration", resp.Duration),
		}
		if resp.Err != nil {
			fields = append(fields, zap.Error(resp.Err))
		} else {
			fields = append(fields, zap.String("message", ErrorMessage(resp.Body)))
		}
		w.logger.Warn("bid failed", fields...)
	})
}

// user is the private state of one bidding VU.
type user struct {
	w         *Workload
	vuID      int
	rng       *rand.Rand
	lastKnown int64
}

func (u *user) Iterate(ctx context.Context, iteration int64) loadtest.Outcome {
	amount, ok := u.w.behavior.amount(u, iteration)
	if !ok {
		return loadtest.Outcome{Result: loadtest.ResultSkipped}
	}

	resp := u.w.client.PlaceBid(ctx, amount)
	c := Classify(resp.Status, resp.Body, resp.Err)

	out := loadtest.Outcome{
		Status:   resp.Status,
		Duration: resp.Duration,
		Result:   c.Result,
		Samples:  u.samples(resp.Duration, c),
	}

	switch c.Result {
	case loadtest.ResultSuccess:
		if u.w.behavior.tracks && amount > u.lastKnown {
			u.lastKnown = amount
		}
	case loadtest.ResultFailed:
		out.Err = failureError(resp)
		u.w.logFailure(u.vuID, amount, resp, c)
	}
	return out
}

func (u *user) ThinkTime() time.Duration {
	return u.w.think.pick(u.rng)
}

func (u *user) samples(d time.Duration, c Classification) []metrics.Sample {
	tags := map[string]string{TagBidder: u.w.name}
	sample := func(name string, kind metrics.Kind, v float64) metrics.Sample {
		return metrics.Sample{Name: name, Kind: kind, Value: v, Tags: tags}
	}

	failed := 0.0
	if c.Result == loadtest.ResultFailed {
		failed = 1
	}
	out := []metrics.Sample{
		sample(MetricBidDuration, metrics.Trend, float64(d)/float64(time.Millisecond)),
		sample(MetricErrors, metrics.Rate, failed),
	}

	switch c.Result {
	case loadtest.ResultSuccess:
		out = append(out, sample(MetricSuccessfulBids, metrics.Counter, 1))
	case loadtest.ResultRejected:
		out = append(out, sample(MetricConflictBids, metrics.Counter, 1))
		switch c.Reason {
		case ReasonTooLow:
			out = append(out, sample(MetricTooLowBids, metrics.Counter, 1))
		case ReasonDuplicate:
			out = append(out, sample(MetricDuplicateBids, metrics.Counter, 1))
		}
	case loadtest.ResultFailed:
		out = append(out, sample(MetricFailedBids, metrics.Counter, 1))
	}
	return out
}
