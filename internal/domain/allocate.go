package domain

import (
	"math"
	"time"
)

// AllocateTarget computes the default per-period target for a work item:
// the share of the item's lifetime target proportional to how many of the
// item's days fall inside the period.
//
// A zero-length item window is treated as fully in scope of any period it
// falls inside (ratio 1), since that is the limit of the proportion as the
// window shrinks; outside any period it allocates nothing. The result is
// never negative.
//
// Invoked once, at link-creation time. It is not re-run when either window
// later changes.
func AllocateTarget(item, period Window, aggregateTarget int) int {
	if aggregateTarget <= 0 {
		return 0
	}

	if !item.End.After(item.Start) {
		if !item.Start.Before(period.Start) && item.Start.Before(period.End) {
			return aggregateTarget
		}
		return 0
	}

	overlapStart := maxTime(item.Start, period.Start)
	overlapEnd := minTime(item.End, period.End)
	if !overlapEnd.After(overlapStart) {
		return 0
	}

	overlapDays := overlapEnd.Sub(overlapStart).Hours() / 24
	totalDays := item.End.Sub(item.Start).Hours() / 24

	return int(math.Round(float64(aggregateTarget) * overlapDays / totalDays))
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
