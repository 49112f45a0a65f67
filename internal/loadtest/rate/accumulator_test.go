package rate

import (
	"testing"
	"time"
)

func TestAccumulator_WholeIterations(t *testing.T) {
	tests := []struct {
		name    string
		rate    float64
		elapsed time.Duration
		want    int
	}{
		{"one second at 10/s", 10, time.Second, 10},
		{"half second at 10/s", 10, 500 * time.Millisecond, 5},
		{"below one iteration", 1, 100 * time.Millisecond, 0},
		{"zero rate", 0, time.Second, 0},
		{"negative rate treated as zero", -5, time.Second, 0},
		{"zero elapsed", 100, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := NewAccumulator(0)
			if got := acc.Due(tt.rate, tt.elapsed); got != tt.want {
				t.Errorf("Due(%v, %v) = %d, want %d", tt.rate, tt.elapsed, got, tt.want)
			}
		})
	}
}

func TestAccumulator_CarriesFraction(t *testing.T) {
	acc := NewAccumulator(0)

	// 1.5 iterations/s on 250ms ticks: 0.375 per tick.
	total := 0
	for i := 0; i < 32; i++ {
		total += acc.Due(1.5, 250*time.Millisecond)
	}

	if total != 12 {
		t.Errorf("total over 8s at 1.5/s = %d, want 12", total)
	}
}

func TestAccumulator_TracksIntegralWithinOne(t *testing.T) {
	acc := NewAccumulator(0)

	tick := 50 * time.Millisecond
	expected := 0.0
	dispatched := 0
	// Ramp from 0 to 200/s over 5s.
	for i := 1; i <= 100; i++ {
		r := 200 * float64(i) / 100
		dispatched += acc.Due(r, tick)
		expected += r * tick.Seconds()

		diff := expected - float64(dispatched)
		if diff < -1e-9 || diff >= 1+1e-9 {
			t.Fatalf("tick %d: dispatched %d, integral %.3f", i, dispatched, expected)
		}
	}
}

func TestAccumulator_MaxBurst(t *testing.T) {
	acc := NewAccumulator(5)

	if got := acc.Due(100, time.Second); got != 5 {
		t.Errorf("Due after stall = %d, want capped 5", got)
	}
}

func TestAccumulator_Stats(t *testing.T) {
	acc := NewAccumulator(0)
	acc.Due(10, time.Second)
	acc.Due(10, 250*time.Millisecond)

	stats := acc.Stats()
	if stats.TotalDue != 12 {
		t.Errorf("TotalDue = %d, want 12", stats.TotalDue)
	}
	if stats.Rate != 10 {
		t.Errorf("Rate = %v, want 10", stats.Rate)
	}
	if stats.Accumulated < 0.49 || stats.Accumulated > 0.51 {
		t.Errorf("Accumulated = %v, want 0.5", stats.Accumulated)
	}
}
