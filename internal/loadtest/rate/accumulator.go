// Package rate converts a time-varying target rate into whole iterations.
package rate

import (
	"sync"
	"sync/atomic"
	"time"
)

// Accumulator turns "rate x elapsed time" into a whole number of due
// iterations, carrying the fractional remainder to the next call.
//
// # Algorithm
//
// Each call to Due adds rate*elapsed to an accumulated value and returns its
// integer part. The fractional part is kept, so over any sequence of calls
// the number of dispatched iterations stays within one of the integral of the
// rate. A rate change is applied on the next call without resetting the carry,
// which keeps ramps smooth.
//
// # Thread Safety
//
// Accumulator is safe for concurrent use, although executors normally call
// it from a single controller goroutine.
//
// # Example
//
//	acc := NewAccumulator(0)
//	ticker := time.NewTicker(50 * time.Millisecond)
//	last := time.Now()
//	for now := range ticker.C {
//	    n := acc.Due(currentRate, now.Sub(last))
//	    last = now
//	    // dispatch n iterations
//	}
type Accumulator struct {
	accumulated float64
	maxBurst    float64
	rate        float64
	mu          sync.Mutex

	totalDue atomic.Int64
}

// NewAccumulator creates an accumulator. maxBurst caps the number of
// iterations a single call can release after a stall; 0 means unlimited.
func NewAccumulator(maxBurst float64) *Accumulator {
	if maxBurst < 0 {
		maxBurst = 0
	}
	return &Accumulator{maxBurst: maxBurst}
}

// Due returns the number of whole iterations due for running at rate
// iterations per second during elapsed.
func (a *Accumulator) Due(rate float64, elapsed time.Duration) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if rate < 0 {
		rate = 0
	}
	a.rate = rate

	if elapsed > 0 {
		a.accumulated += rate * elapsed.Seconds()
	}
	if a.maxBurst > 0 && a.accumulated > a.maxBurst {
		a.accumulated = a.maxBurst
	}

	due := int(a.accumulated)
	a.accumulated -= float64(due)

	a.totalDue.Add(int64(due))
	return due
}

// Stats returns statistics about the accumulator.
func (a *Accumulator) Stats() Stats {
	a.mu.Lock()
	rate := a.rate
	accumulated := a.accumulated
	a.mu.Unlock()

	return Stats{
		Rate:        rate,
		Accumulated: accumulated,
		TotalDue:    a.totalDue.Load(),
	}
}

// Stats contains statistics about the accumulator.
type Stats struct {
	Rate        float64 `json:"rate"`        // Last applied rate in iterations/second
	Accumulated float64 `json:"accumulated"` // Carried fractional iterations
	TotalDue    int64   `json:"totalDue"`    // Total iterations released
}
