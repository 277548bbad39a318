package domain_test

import (
	"testing"
	"time"

	"github.com/sol-namoo/monthlyGrow-sub000/internal/domain"
)

func window(start, end time.Time) domain.Window {
	return domain.Window{Start: start, End: end}
}

func TestAllocateTarget_ProportionalOverlap(t *testing.T) {
	// Item runs Jan 1–31 (30 days), period Jan 15–Feb 15. The 16 overlapping
	// days yield 16/30 of the target of 30.
	item := window(date(2025, 1, 1), date(2025, 1, 31))
	period := window(date(2025, 1, 15), date(2025, 2, 15))

	got := domain.AllocateTarget(item, period, 30)
	if got != 16 {
		t.Errorf("AllocateTarget = %d, want 16", got)
	}
}

func TestAllocateTarget_FullContainment(t *testing.T) {
	item := window(date(2025, 1, 5), date(2025, 1, 25))
	period := window(date(2025, 1, 1), date(2025, 2, 1))

	got := domain.AllocateTarget(item, period, 12)
	if got != 12 {
		t.Errorf("AllocateTarget = %d, want full target 12", got)
	}
}

func TestAllocateTarget_NoOverlap(t *testing.T) {
	item := window(date(2025, 1, 1), date(2025, 1, 31))
	period := window(date(2025, 3, 1), date(2025, 3, 31))

	if got := domain.AllocateTarget(item, period, 30); got != 0 {
		t.Errorf("AllocateTarget = %d, want 0 for disjoint windows", got)
	}
}

func TestAllocateTarget_ZeroLengthItemWindow(t *testing.T) {
	instant := date(2025, 1, 10)
	period := window(date(2025, 1, 1), date(2025, 2, 1))

	// A single-instant item inside the period belongs wholly to it.
	if got := domain.AllocateTarget(window(instant, instant), period, 7); got != 7 {
		t.Errorf("AllocateTarget = %d, want 7 for in-period instant", got)
	}

	// Outside the period it allocates nothing.
	outside := date(2025, 3, 10)
	if got := domain.AllocateTarget(window(outside, outside), period, 7); got != 0 {
		t.Errorf("AllocateTarget = %d, want 0 for out-of-period instant", got)
	}
}

func TestAllocateTarget_NonPositiveTarget(t *testing.T) {
	item := window(date(2025, 1, 1), date(2025, 1, 31))
	period := window(date(2025, 1, 1), date(2025, 1, 31))

	for _, target := range []int{0, -5} {
		if got := domain.AllocateTarget(item, period, target); got != 0 {
			t.Errorf("AllocateTarget(target=%d) = %d, want 0", target, got)
		}
	}
}
