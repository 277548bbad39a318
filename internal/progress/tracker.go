package progress

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
	"github.com/sol-namoo/monthlyGrow-sub000/pkg/telemetry"
)

// Tracker turns task-completion events into period counter updates.
//
// The feed delivers at-least-once, so every increment is guarded by the
// completion ledger: a redelivered event is applied at most once per
// period. Counters are clamped so done never exceeds target.
type Tracker struct {
	periods mongo.PeriodStore
	items   mongo.WorkItemStore
	tasks   mongo.TaskStore
	ledger  redisstore.CompletionLedger
	sync    *linkage.Synchronizer
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker constructs a Tracker.
func NewTracker(
	periods mongo.PeriodStore,
	items mongo.WorkItemStore,
	tasks mongo.TaskStore,
	ledger redisstore.CompletionLedger,
	sync *linkage.Synchronizer,
	logger *slog.Logger,
	opts ...Option,
) *Tracker {
	t := &Tracker{
		periods: periods,
		items:   items,
		tasks:   tasks,
		ledger:  ledger,
		sync:    sync,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Apply processes one done:false→true transition: it resolves the owning
// work item, finds its currently active linked periods, and increments the
// matching counters. Completion is monotonic within a period; the reverse
// transition is not observed and never decrements.
//
// Returning an error leaves the feed offset uncommitted so the event is
// redelivered; anything already applied is protected by the ledger.
func (t *Tracker) Apply(ctx context.Context, ev domain.CompletionEvent) error {
	ctx, span := otel.Tracer("progress").Start(ctx, "progress.apply_completion")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", ev.TaskID),
		attribute.String("work_item.id", ev.WorkItemID),
	)

	log := t.logger.With(
		slog.String("task_id", ev.TaskID),
		slog.String("work_item_id", ev.WorkItemID),
	)

	item, err := t.items.GetByID(ctx, ev.WorkItemID)
	if err != nil {
		var notFound *domain.WorkItemNotFoundError
		if errors.As(err, &notFound) {
			log.Warn("completion for missing work item, skipping")
			telemetry.ProgressEventsTotal.WithLabelValues("skipped").Inc()
			return nil
		}
		return fmt.Errorf("resolve work item: %w", err)
	}

	now := t.now()
	changed := false

	for _, pid := range item.LinkedPeriods {
		period, err := t.periods.GetByID(ctx, pid)
		if err != nil {
			var notFound *domain.PeriodNotFoundError
			if errors.As(err, &notFound) {
				log.Warn("work item references missing period", slog.String("period_id", pid))
				continue
			}
			return fmt.Errorf("load period %s: %w", pid, err)
		}
		if domain.StatusAt(period.Window(), now) != domain.StatusActive {
			continue
		}

		link := period.LinkFor(item.ID)
		if link == nil {
			// One-sided reference noticed mid-pass: heal it, then count.
			log.Warn("healing one-sided link before counting",
				slog.String("period_id", period.ID))
			period.ProjectLinks = append(period.ProjectLinks, domain.ProjectLink{
				WorkItemID:  item.ID,
				TargetCount: domain.AllocateTarget(item.Window(), period.Window(), item.AggregateTarget),
			})
			link = period.LinkFor(item.ID)
			telemetry.LinkRepairsTotal.Inc()
		}

		applied, err := t.ledger.FirstApplication(ctx, ev.TaskID, period.ID)
		if err != nil {
			return fmt.Errorf("ledger claim: %w", err)
		}
		if !applied {
			telemetry.ProgressEventsTotal.WithLabelValues("duplicate").Inc()
			continue
		}

		if link.DoneCount < link.TargetCount {
			link.DoneCount++
		} else {
			telemetry.ProgressClampedTotal.Inc()
		}

		period.UpdatedAt = now.UTC()
		if err := t.periods.Upsert(ctx, period); err != nil {
			// Release the claim so redelivery can re-apply this period.
			if ferr := t.ledger.Forget(ctx, ev.TaskID, period.ID); ferr != nil {
				log.Error("ledger forget after failed write", slog.String("error", ferr.Error()))
			}
			return fmt.Errorf("persist period %s: %w", period.ID, err)
		}

		telemetry.ProgressEventsTotal.WithLabelValues("applied").Inc()
		log.Info("progress applied",
			slog.String("period_id", period.ID),
			slog.Int("done", link.DoneCount),
			slog.Int("target", link.TargetCount),
		)
		changed = true
	}

	if changed {
		if err := t.sync.RefreshProgressCache(ctx, item); err != nil {
			log.Error("refresh progress cache", slog.String("error", err.Error()))
			return nil // cache is a read optimization, not worth a redelivery
		}
		item.UpdatedAt = now.UTC()
		if err := t.items.Upsert(ctx, item); err != nil {
			log.Error("persist progress cache", slog.String("error", err.Error()))
		}
	}
	return nil
}

// Recount rebuilds a period's done counters from the task collection:
// done = completed tasks whose completed_at falls inside the period's
// window, clamped to target. Unlike Apply, a recount can lower a counter,
// so it converges to source of truth after repairs or manual edits.
func (t *Tracker) Recount(ctx context.Context, periodID string) error {
	ctx, span := otel.Tracer("progress").Start(ctx, "progress.recount")
	defer span.End()
	span.SetAttributes(attribute.String("period.id", periodID))

	period, err := t.periods.GetByID(ctx, periodID)
	if err != nil {
		return err
	}

	for i := range period.ProjectLinks {
		link := &period.ProjectLinks[i]
		n, err := t.tasks.CountCompletedInWindow(ctx, link.WorkItemID, period.Window())
		if err != nil {
			return fmt.Errorf("recount link %s: %w", link.WorkItemID, err)
		}
		if n > link.TargetCount {
			n = link.TargetCount
		}
		link.DoneCount = n
	}

	period.UpdatedAt = t.now().UTC()
	if err := t.periods.Upsert(ctx, period); err != nil {
		return fmt.Errorf("persist recounted period %s: %w", periodID, err)
	}

	// Bring the affected read models back in line.
	for _, l := range period.ProjectLinks {
		item, err := t.items.GetByID(ctx, l.WorkItemID)
		if err != nil {
			var notFound *domain.WorkItemNotFoundError
			if errors.As(err, &notFound) {
				continue
			}
			return err
		}
		if err := t.sync.RefreshProgressCache(ctx, item); err != nil {
			return err
		}
		item.UpdatedAt = t.now().UTC()
		if err := t.items.Upsert(ctx, item); err != nil {
			return err
		}
	}
	return nil
}
