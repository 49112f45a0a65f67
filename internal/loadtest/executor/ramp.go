package executor

import (
	"math"
	"time"
)

// TargetAt returns the linearly interpolated target at elapsed.
//
// Within stage i, spanning [t_i, t_i+d_i), the target moves from the
// previous stage's target (start for the first stage) to stage i's target.
// At a stage boundary the value is exactly the boundary target, and after
// the last stage it stays at the last target. Zero-duration stages jump.
func TargetAt(start float64, stages []Stage, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return start
	}

	prev := start
	var stageStart time.Duration
	for _, stage := range stages {
		stageEnd := stageStart + stage.Duration
		if elapsed < stageEnd {
			frac := float64(elapsed-stageStart) / float64(stage.Duration)
			return prev + (float64(stage.Target)-prev)*frac
		}
		prev = float64(stage.Target)
		stageStart = stageEnd
	}
	return prev
}

// TargetVUsAt returns TargetAt rounded to the nearest whole VU.
func TargetVUsAt(start int, stages []Stage, elapsed time.Duration) int {
	return int(math.Round(TargetAt(float64(start), stages, elapsed)))
}

// StageAt returns the index of the stage active at elapsed, or len(stages)
// once every stage has completed.
func StageAt(stages []Stage, elapsed time.Duration) int {
	var stageStart time.Duration
	for i, stage := range stages {
		stageStart += stage.Duration
		if elapsed < stageStart {
			return i
		}
	}
	return len(stages)
}

// perSecond converts a count per unit into a per-second rate.
func perSecond(count float64, unit time.Duration) float64 {
	if unit <= 0 {
		unit = DefaultTimeUnit
	}
	return count / unit.Seconds()
}
