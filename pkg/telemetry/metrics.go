package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── API ─────────────────────────────────────────────────────────────────────

	APIMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "monthlygrow",
		Subsystem: "api",
		Name:      "mutations_total",
		Help:      "Total mutation requests accepted, labelled by entity.",
	}, []string{"entity"})

	APIRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "monthlygrow",
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Total mutation requests rejected by the per-owner rate limiter.",
	})

	// ─── Linkage ─────────────────────────────────────────────────────────────────

	LinkOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "monthlygrow",
		Subsystem: "linkage",
		Name:      "link_ops_total",
		Help:      "Total period/work-item link changes, labelled add, remove, or retarget.",
	}, []string{"op"})

	LinkRepairsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "monthlygrow",
		Subsystem: "linkage",
		Name:      "repairs_total",
		Help:      "Total one-sided references healed by the read path.",
	})

	// ─── Progress tracker ────────────────────────────────────────────────────────

	ProgressEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "monthlygrow",
		Subsystem: "progress",
		Name:      "events_total",
		Help:      "Completion events observed, labelled by outcome (applied, duplicate, skipped).",
	}, []string{"outcome"})

	ProgressClampedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "monthlygrow",
		Subsystem: "progress",
		Name:      "clamped_total",
		Help:      "Increments suppressed because the link counter was already at target.",
	})

	// ─── Carry-over ──────────────────────────────────────────────────────────────

	CarryoverItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "monthlygrow",
		Subsystem: "carryover",
		Name:      "items_total",
		Help:      "Work items processed by the carry-over pass, labelled by outcome (migrated, parked, attached).",
	}, []string{"outcome"})

	CarryoverOwnerFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "monthlygrow",
		Subsystem: "carryover",
		Name:      "owner_failures_total",
		Help:      "Owners whose carry-over processing failed and was recorded in the run summary.",
	})

	CarryoverPassDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "monthlygrow",
		Subsystem: "carryover",
		Name:      "pass_duration_seconds",
		Help:      "Wall-clock duration of a full carry-over pass.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})
)
