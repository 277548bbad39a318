package linkage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sol-namoo/monthlyGrow-sub000/internal/domain"
	"github.com/sol-namoo/monthlyGrow-sub000/internal/mongo"
	"github.com/sol-namoo/monthlyGrow-sub000/pkg/telemetry"
)

// Synchronizer maintains the bidirectional reference invariant between a
// period's project links and each linked work item's period list.
//
// The store offers no cross-document foreign keys and no transaction over
// an unbounded document set, so the invariant is kept by compensating
// writes: the period document is written first, then each affected work
// item individually. A crash in between leaves a one-sided reference that
// the repair methods heal on the next read.
type Synchronizer struct {
	periods mongo.PeriodStore
	items   mongo.WorkItemStore
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// NewSynchronizer constructs a Synchronizer over the given stores.
func NewSynchronizer(periods mongo.PeriodStore, items mongo.WorkItemStore, logger *slog.Logger, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		periods: periods,
		items:   items,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetPeriodLinks replaces the period's link list with newLinks and brings
// every affected work item's back-references in line.
//
// Links surviving from the previous list keep their done counters; a
// surviving link with target 0 in newLinks keeps its previous target, and
// one given a different explicit target has its item's cached progress
// rewritten. A newly added link with no explicit target is seeded from the
// proportional allocation of the work item's lifetime target.
//
// The period write happens-before the work-item writes. Work-item write
// failures are logged and do not roll back the period write; the read path
// self-heals the resulting one-sided references.
func (s *Synchronizer) SetPeriodLinks(ctx context.Context, period *domain.Period, newLinks []domain.ProjectLink) error {
	ctx, span := otel.Tracer("linkage").Start(ctx, "linkage.set_period_links")
	defer span.End()
	span.SetAttributes(
		attribute.String("period.id", period.ID),
		attribute.Int("links.requested", len(newLinks)),
	)

	prev := make(map[string]domain.ProjectLink, len(period.ProjectLinks))
	for _, l := range period.ProjectLinks {
		prev[l.WorkItemID] = l
	}

	next := make([]domain.ProjectLink, 0, len(newLinks))
	seen := make(map[string]bool, len(newLinks))
	var added, retargeted []string
	addedItems := make(map[string]*domain.WorkItem)

	for _, l := range newLinks {
		if seen[l.WorkItemID] {
			continue
		}
		seen[l.WorkItemID] = true

		if old, ok := prev[l.WorkItemID]; ok {
			// The done counter is authoritative on the stored link, never
			// on caller input.
			l.DoneCount = old.DoneCount
			if l.TargetCount == 0 {
				l.TargetCount = old.TargetCount
			}
			if l.TargetCount != old.TargetCount {
				// The surviving item's cached progress embeds the target, so
				// it has to be rewritten along with the period.
				retargeted = append(retargeted, l.WorkItemID)
			}
			next = append(next, l)
			continue
		}

		l.DoneCount = 0
		item, err := s.items.GetByID(ctx, l.WorkItemID)
		if err != nil {
			var notFound *domain.WorkItemNotFoundError
			if errors.As(err, &notFound) {
				// Treat as already deleted: don't link to a ghost.
				s.logger.Warn("skipping link to missing work item",
					slog.String("period_id", period.ID),
					slog.String("work_item_id", l.WorkItemID),
				)
				continue
			}
			return fmt.Errorf("resolve work item %s: %w", l.WorkItemID, err)
		}
		if l.TargetCount == 0 {
			l.TargetCount = domain.AllocateTarget(item.Window(), period.Window(), item.AggregateTarget)
		}
		added = append(added, item.ID)
		addedItems[item.ID] = item
		next = append(next, l)
	}

	var removed []string
	for id := range prev {
		if !seen[id] {
			removed = append(removed, id)
		}
	}

	// Period write happens-before the per-item writes.
	period.ProjectLinks = next
	period.UpdatedAt = s.now().UTC()
	if err := s.periods.Upsert(ctx, period); err != nil {
		return fmt.Errorf("persist period %s: %w", period.ID, err)
	}

	for _, id := range added {
		item := addedItems[id]
		item.AddLinkedPeriod(period.ID)
		s.persistItemSide(ctx, item, "add")
		telemetry.LinkOpsTotal.WithLabelValues("add").Inc()
	}
	for _, id := range retargeted {
		item, err := s.items.GetByID(ctx, id)
		if err != nil {
			var notFound *domain.WorkItemNotFoundError
			if errors.As(err, &notFound) {
				continue
			}
			s.logger.Error("load work item for retarget",
				slog.String("period_id", period.ID),
				slog.String("work_item_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.persistItemSide(ctx, item, "retarget")
		telemetry.LinkOpsTotal.WithLabelValues("retarget").Inc()
	}
	for _, id := range removed {
		item, err := s.items.GetByID(ctx, id)
		if err != nil {
			var notFound *domain.WorkItemNotFoundError
			if errors.As(err, &notFound) {
				continue // already deleted, nothing to unlink
			}
			s.logger.Error("load work item for unlink",
				slog.String("period_id", period.ID),
				slog.String("work_item_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		item.RemoveLinkedPeriod(period.ID)
		s.persistItemSide(ctx, item, "remove")
		telemetry.LinkOpsTotal.WithLabelValues("remove").Inc()
	}
	return nil
}

// persistItemSide refreshes the item's progress cache and writes it,
// logging instead of failing: the period side is already durable and the
// read path heals any gap this leaves.
func (s *Synchronizer) persistItemSide(ctx context.Context, item *domain.WorkItem, op string) {
	if err := s.RefreshProgressCache(ctx, item); err != nil {
		s.logger.Error("refresh progress cache",
			slog.String("work_item_id", item.ID),
			slog.String("error", err.Error()),
		)
	}
	item.UpdatedAt = s.now().UTC()
	if err := s.items.Upsert(ctx, item); err != nil {
		s.logger.Error("persist work item side of link change",
			slog.String("work_item_id", item.ID),
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
	}
}

// LinkWorkItem idempotently links the item into the period: the period
// gains a project link (target seeded if new) and the item gains the period
// id. Both documents are persisted, period first.
func (s *Synchronizer) LinkWorkItem(ctx context.Context, period *domain.Period, item *domain.WorkItem) error {
	if period.LinkFor(item.ID) == nil {
		period.ProjectLinks = append(period.ProjectLinks, domain.ProjectLink{
			WorkItemID:  item.ID,
			TargetCount: domain.AllocateTarget(item.Window(), period.Window(), item.AggregateTarget),
		})
		period.UpdatedAt = s.now().UTC()
		if err := s.periods.Upsert(ctx, period); err != nil {
			return fmt.Errorf("persist period %s: %w", period.ID, err)
		}
		telemetry.LinkOpsTotal.WithLabelValues("add").Inc()
	}

	item.AddLinkedPeriod(period.ID)
	if err := s.RefreshProgressCache(ctx, item); err != nil {
		return err
	}
	item.UpdatedAt = s.now().UTC()
	if err := s.items.Upsert(ctx, item); err != nil {
		return fmt.Errorf("persist work item %s: %w", item.ID, err)
	}
	return nil
}

// RefreshProgressCache recomputes the item's denormalized current-period
// progress from its linked periods. The cache always refers to a period
// currently active; when none is, it is cleared. This is the single place
// the cache is computed, so every write path stays consistent.
func (s *Synchronizer) RefreshProgressCache(ctx context.Context, item *domain.WorkItem) error {
	now := s.now()
	for _, pid := range item.LinkedPeriods {
		p, err := s.periods.GetByID(ctx, pid)
		if err != nil {
			var notFound *domain.PeriodNotFoundError
			if errors.As(err, &notFound) {
				s.logger.Warn("work item references missing period",
					slog.String("work_item_id", item.ID),
					slog.String("period_id", pid),
				)
				continue
			}
			return fmt.Errorf("load period %s: %w", pid, err)
		}
		if domain.StatusAt(p.Window(), now) != domain.StatusActive {
			continue
		}
		link := p.LinkFor(item.ID)
		if link == nil {
			continue
		}
		rate := 0.0
		if link.TargetCount > 0 {
			rate = float64(link.DoneCount) / float64(link.TargetCount)
		}
		item.CurrentProgress = &domain.PeriodProgress{
			PeriodID: p.ID,
			Target:   link.TargetCount,
			Done:     link.DoneCount,
			Rate:     rate,
		}
		return nil
	}
	item.CurrentProgress = nil
	return nil
}

// RepairPeriod heals one-sided references visible from the period side:
// every linked work item that lacks the back-reference gets it added. A
// link to a missing work item is logged, never deleted; a dangling
// reference is a symptom to investigate, not data to destroy.
func (s *Synchronizer) RepairPeriod(ctx context.Context, period *domain.Period) {
	for _, l := range period.ProjectLinks {
		item, err := s.items.GetByID(ctx, l.WorkItemID)
		if err != nil {
			var notFound *domain.WorkItemNotFoundError
			if errors.As(err, &notFound) {
				s.logger.Warn("period links missing work item",
					slog.String("period_id", period.ID),
					slog.String("work_item_id", l.WorkItemID),
				)
				continue
			}
			s.logger.Error("load work item during repair",
				slog.String("work_item_id", l.WorkItemID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if item.LinkedTo(period.ID) {
			continue
		}

		asym := &domain.LinkAsymmetryError{
			PeriodID:    period.ID,
			WorkItemID:  item.ID,
			MissingSide: "work_item",
		}
		s.logger.Warn("healing one-sided link", slog.String("detail", asym.Error()))

		item.AddLinkedPeriod(period.ID)
		s.persistItemSide(ctx, item, "repair")
		telemetry.LinkRepairsTotal.Inc()
	}
}

// RepairWorkItem heals one-sided references visible from the item side:
// every linked period that lacks a project link for the item gets one, with
// a freshly seeded target.
func (s *Synchronizer) RepairWorkItem(ctx context.Context, item *domain.WorkItem) {
	for _, pid := range item.LinkedPeriods {
		period, err := s.periods.GetByID(ctx, pid)
		if err != nil {
			var notFound *domain.PeriodNotFoundError
			if errors.As(err, &notFound) {
				s.logger.Warn("work item links missing period",
					slog.String("work_item_id", item.ID),
					slog.String("period_id", pid),
				)
				continue
			}
			s.logger.Error("load period during repair",
				slog.String("period_id", pid),
				slog.String("error", err.Error()),
			)
			continue
		}
		if period.LinkFor(item.ID) != nil {
			continue
		}

		asym := &domain.LinkAsymmetryError{
			PeriodID:    period.ID,
			WorkItemID:  item.ID,
			MissingSide: "period",
		}
		s.logger.Warn("healing one-sided link", slog.String("detail", asym.Error()))

		period.ProjectLinks = append(period.ProjectLinks, domain.ProjectLink{
			WorkItemID:  item.ID,
			TargetCount: domain.AllocateTarget(item.Window(), period.Window(), item.AggregateTarget),
		})
		period.UpdatedAt = s.now().UTC()
		if err := s.periods.Upsert(ctx, period); err != nil {
			s.logger.Error("persist period during repair",
				slog.String("period_id", period.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		telemetry.LinkRepairsTotal.Inc()
	}
}

// UnlinkEverywhere strips the period's id from all listed work items. Used
// by the period-deletion cascade after the period document is gone.
func (s *Synchronizer) UnlinkEverywhere(ctx context.Context, periodID string, workItemIDs []string) {
	for _, id := range workItemIDs {
		item, err := s.items.GetByID(ctx, id)
		if err != nil {
			var notFound *domain.WorkItemNotFoundError
			if errors.As(err, &notFound) {
				continue
			}
			s.logger.Error("load work item for cascade unlink",
				slog.String("work_item_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !item.RemoveLinkedPeriod(periodID) {
			continue
		}
		s.persistItemSide(ctx, item, "remove")
		telemetry.LinkOpsTotal.WithLabelValues("remove").Inc()
	}
}
