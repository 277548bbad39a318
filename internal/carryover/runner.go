package carryover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sol-namoo/monthlyGrow-sub000/internal/domain"
	"github.com/sol-namoo/monthlyGrow-sub000/internal/linkage"
	"github.com/sol-namoo/monthlyGrow-sub000/internal/mongo"
	redisstore "github.com/sol-namoo/monthlyGrow-sub000/internal/redis"
	"github.com/sol-namoo/monthlyGrow-sub000/pkg/retry"
	"github.com/sol-namoo/monthlyGrow-sub000/pkg/telemetry"
)

// Runner migrates incomplete work items out of ended periods.
//
// A pass scans periods that ended inside a cutoff window, processes each
// owner at most once, and either re-links each incomplete item to the
// owner's next usable period (MIGRATED) or parks it (PENDING) until one
// exists. Every step checks current state before acting, so a pass is safe
// to re-run and safe to interrupt between owners.
type Runner struct {
	periods   mongo.PeriodStore
	items     mongo.WorkItemStore
	settings  redisstore.SettingsStore
	sync      *linkage.Synchronizer
	txn       mongo.TxnRunner
	now       func() time.Time
	baseDelay time.Duration
	logger    *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithRetryBaseDelay overrides the backoff base for store retries.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(r *Runner) { r.baseDelay = d }
}

// WithTxnRunner enables bounded multi-document transactions for the
// period+item write pairs. Without one, the runner falls back to the
// sequential compensating-write path.
func WithTxnRunner(txn mongo.TxnRunner) Option {
	return func(r *Runner) { r.txn = txn }
}

// NewRunner constructs a Runner.
func NewRunner(
	periods mongo.PeriodStore,
	items mongo.WorkItemStore,
	settings redisstore.SettingsStore,
	sync *linkage.Synchronizer,
	logger *slog.Logger,
	opts ...Option,
) *Runner {
	r := &Runner{
		periods:   periods,
		items:     items,
		settings:  settings,
		sync:      sync,
		now:       time.Now,
		baseDelay: 500 * time.Millisecond,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OwnerResult records the outcome for one owner in a pass.
type OwnerResult struct {
	OwnerID  string `json:"owner_id"`
	Migrated int    `json:"migrated"`
	Parked   int    `json:"parked"`
	Skipped  bool   `json:"skipped,omitempty"`
	Err      error  `json:"-"`
}

// Summary is the aggregate outcome of one pass. A pass never fails
// outright; per-owner failures are recorded here.
type Summary struct {
	Owners   int           `json:"owners"`
	Migrated int           `json:"migrated"`
	Parked   int           `json:"parked"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Results  []OwnerResult `json:"results,omitempty"`
}

// RunPass processes all periods whose end falls in (since, until].
//
// Owners are deduplicated with an explicit visited set; when an owner has
// several newly-ended periods, the one with the earliest (end, id) anchors
// the scan, which makes re-runs deterministic. Cancellation between owners
// leaves already-processed owners fully done and the rest untouched.
func (r *Runner) RunPass(ctx context.Context, since, until time.Time) (Summary, error) {
	ctx, span := otel.Tracer("carryover").Start(ctx, "carryover.run_pass")
	defer span.End()
	span.SetAttributes(
		attribute.String("window.since", since.Format(time.RFC3339)),
		attribute.String("window.until", until.Format(time.RFC3339)),
	)

	start := time.Now()
	defer func() {
		telemetry.CarryoverPassDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	var summary Summary

	ended, err := r.periods.ListEndedBetween(ctx, since, until)
	if err != nil {
		return summary, fmt.Errorf("list ended periods: %w", err)
	}

	visited := make(map[string]bool)
	for _, period := range ended {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if visited[period.OwnerID] {
			continue
		}
		visited[period.OwnerID] = true
		summary.Owners++

		res := r.processOwner(ctx, period)
		summary.Migrated += res.Migrated
		summary.Parked += res.Parked
		if res.Skipped {
			summary.Skipped++
		}
		if res.Err != nil {
			summary.Failed++
			telemetry.CarryoverOwnerFailuresTotal.Inc()
			r.logger.Error("carry-over failed for owner",
				slog.String("owner_id", period.OwnerID),
				slog.String("anchor_period_id", period.ID),
				slog.String("error", res.Err.Error()),
			)
		}
		summary.Results = append(summary.Results, res)
	}

	r.logger.Info("carry-over pass finished",
		slog.Int("owners", summary.Owners),
		slog.Int("migrated", summary.Migrated),
		slog.Int("parked", summary.Parked),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
	)
	return summary, nil
}

func (r *Runner) processOwner(ctx context.Context, anchor *domain.Period) OwnerResult {
	res := OwnerResult{OwnerID: anchor.OwnerID}
	log := r.logger.With(
		slog.String("owner_id", anchor.OwnerID),
		slog.String("anchor_period_id", anchor.ID),
	)

	var enabled bool
	err := r.withRetry(ctx, func() error {
		var err error
		enabled, err = r.settings.CarryEnabled(ctx, anchor.OwnerID)
		return err
	})
	if err != nil {
		res.Err = fmt.Errorf("read carry setting: %w", err)
		return res
	}
	if !enabled {
		log.Info("carry-over disabled for owner, skipping")
		res.Skipped = true
		return res
	}

	var items []*domain.WorkItem
	err = r.withRetry(ctx, func() error {
		var err error
		items, err = r.items.ListByOwner(ctx, anchor.OwnerID)
		return err
	})
	if err != nil {
		res.Err = fmt.Errorf("list work items: %w", err)
		return res
	}

	dest, err := r.findDestination(ctx, anchor.OwnerID)
	if err != nil {
		res.Err = err
		return res
	}

	for _, item := range items {
		if !item.LinkedTo(anchor.ID) || !item.Incomplete() {
			continue
		}
		// Already handled by an earlier run: exactly-once per ended period.
		if item.MigrationState != domain.MigrationNone && item.MigrationState != "" {
			continue
		}

		if dest != nil {
			if err := r.migrate(ctx, dest, item); err != nil {
				res.Err = errors.Join(res.Err, fmt.Errorf("migrate %s: %w", item.ID, err))
				continue
			}
			telemetry.CarryoverItemsTotal.WithLabelValues("migrated").Inc()
			res.Migrated++
			log.Info("work item carried over",
				slog.String("work_item_id", item.ID),
				slog.String("destination_period_id", dest.ID),
			)
			continue
		}

		if err := r.park(ctx, anchor, item); err != nil {
			res.Err = errors.Join(res.Err, fmt.Errorf("park %s: %w", item.ID, err))
			continue
		}
		telemetry.CarryoverItemsTotal.WithLabelValues("parked").Inc()
		res.Parked++
		log.Info("work item parked pending a destination",
			slog.String("work_item_id", item.ID),
		)
	}
	return res
}

// findDestination picks the owner's best carry-over target: among periods
// not yet ended, the one with the earliest start (ties broken by id).
// Returns nil when the owner has no usable period.
func (r *Runner) findDestination(ctx context.Context, ownerID string) (*domain.Period, error) {
	var periods []*domain.Period
	err := r.withRetry(ctx, func() error {
		var err error
		periods, err = r.periods.ListByOwner(ctx, ownerID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}

	now := r.now()
	var best *domain.Period
	for _, p := range periods {
		if domain.StatusAt(p.Window(), now) == domain.StatusEnded {
			continue
		}
		if best == nil ||
			p.Start.Before(best.Start) ||
			(p.Start.Equal(best.Start) && p.ID < best.ID) {
			best = p
		}
	}
	return best, nil
}

// migrate re-links the item into dest and marks it MIGRATED. The period and
// item form a bounded, known-in-advance document pair, so a store
// transaction is used when available.
func (r *Runner) migrate(ctx context.Context, dest *domain.Period, item *domain.WorkItem) error {
	now := r.now().UTC()
	unit := func(ctx context.Context) error {
		item.MigrationState = domain.MigrationMigrated
		item.CarriedOverAt = &now
		return r.sync.LinkWorkItem(ctx, dest, item)
	}
	return r.withRetry(ctx, func() error {
		if r.txn != nil {
			return r.txn.WithTransaction(ctx, unit)
		}
		return unit(ctx)
	})
}

// park records that the item is eligible for carry-over but has nowhere to
// go yet. No link changes; the companion pass attaches it when the owner's
// next period is created.
func (r *Runner) park(ctx context.Context, anchor *domain.Period, item *domain.WorkItem) error {
	item.MigrationState = domain.MigrationPending
	item.OriginalPeriodID = anchor.ID
	item.UpdatedAt = r.now().UTC()
	return r.withRetry(ctx, func() error {
		return r.items.Upsert(ctx, item)
	})
}

// AttachPending is the companion pass run when a period is created for an
// owner: every work item parked in PENDING is linked into the new period
// and flipped to MIGRATED. Returns the number of items attached.
func (r *Runner) AttachPending(ctx context.Context, ownerID string, period *domain.Period) (int, error) {
	ctx, span := otel.Tracer("carryover").Start(ctx, "carryover.attach_pending")
	defer span.End()
	span.SetAttributes(
		attribute.String("owner.id", ownerID),
		attribute.String("period.id", period.ID),
	)

	if domain.StatusAt(period.Window(), r.now()) == domain.StatusEnded {
		return 0, nil
	}

	pending, err := r.items.ListPendingByOwner(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("list pending work items: %w", err)
	}

	attached := 0
	var errs error
	for _, item := range pending {
		now := r.now().UTC()
		unit := func(ctx context.Context) error {
			item.MigrationState = domain.MigrationMigrated
			item.CarriedOverAt = &now
			// OriginalPeriodID is kept as provenance of where the item was parked.
			return r.sync.LinkWorkItem(ctx, period, item)
		}
		err := r.withRetry(ctx, func() error {
			if r.txn != nil {
				return r.txn.WithTransaction(ctx, unit)
			}
			return unit(ctx)
		})
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("attach %s: %w", item.ID, err))
			continue
		}
		telemetry.CarryoverItemsTotal.WithLabelValues("attached").Inc()
		attached++
		r.logger.Info("pending work item attached",
			slog.String("owner_id", ownerID),
			slog.String("work_item_id", item.ID),
			slog.String("period_id", period.ID),
		)
	}
	return attached, errs
}

func (r *Runner) withRetry(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, retry.Config{
		MaxAttempts: 3,
		BaseDelay:   r.baseDelay,
		MaxDelay:    5 * time.Second,
	}, fn)
}
