package carryover

import (
	"context"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sol-namoo/monthlyGrow-sub000/internal/domain"
	"github.com/sol-namoo/monthlyGrow-sub000/internal/linkage"
	"github.com/sol-namoo/monthlyGrow-sub000/internal/mongo"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type fakePeriodStore struct {
	periods map[string]*domain.Period
}

func newFakePeriodStore(periods ...*domain.Period) *fakePeriodStore {
	s := &fakePeriodStore{periods: make(map[string]*domain.Period)}
	for _, p := range periods {
		s.periods[p.ID] = clonePeriod(p)
	}
	return s
}

func clonePeriod(p *domain.Period) *domain.Period {
	cp := *p
	cp.ProjectLinks = append([]domain.ProjectLink(nil), p.ProjectLinks...)
	cp.KeyResults = append([]domain.KeyResult(nil), p.KeyResults...)
	return &cp
}

func (s *fakePeriodStore) GetByID(_ context.Context, id string) (*domain.Period, error) {
	p, ok := s.periods[id]
	if !ok {
		return nil, &domain.PeriodNotFoundError{PeriodID: id}
	}
	return clonePeriod(p), nil
}

func (s *fakePeriodStore) ListByOwner(_ context.Context, ownerID string) ([]*domain.Period, error) {
	var out []*domain.Period
	for _, p := range s.periods {
		if p.OwnerID == ownerID {
			out = append(out, clonePeriod(p))
		}
	}
	return out, nil
}

// ListEndedBetween mirrors the store's (end, id) ordering; the anchor
// choice depends on it.
func (s *fakePeriodStore) ListEndedBetween(_ context.Context, since, until time.Time) ([]*domain.Period, error) {
	var out []*domain.Period
	for _, p := range s.periods {
		if p.End.After(since) && !p.End.After(until) {
			out = append(out, clonePeriod(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].End.Equal(out[j].End) {
			return out[i].End.Before(out[j].End)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *fakePeriodStore) Upsert(_ context.Context, p *domain.Period) error {
	s.periods[p.ID] = clonePeriod(p)
	return nil
}

func (s *fakePeriodStore) Delete(_ context.Context, id string) error {
	if _, ok := s.periods[id]; !ok {
		return &domain.PeriodNotFoundError{PeriodID: id}
	}
	delete(s.periods, id)
	return nil
}

var _ mongo.PeriodStore = (*fakePeriodStore)(nil)

type fakeWorkItemStore struct {
	items   map[string]*domain.WorkItem
	upserts int
}

func newFakeWorkItemStore(items ...*domain.WorkItem) *fakeWorkItemStore {
	s := &fakeWorkItemStore{items: make(map[string]*domain.WorkItem)}
	for _, w := range items {
		s.items[w.ID] = cloneItem(w)
	}
	return s
}

func cloneItem(w *domain.WorkItem) *domain.WorkItem {
	cp := *w
	cp.LinkedPeriods = append([]string(nil), w.LinkedPeriods...)
	if w.CurrentProgress != nil {
		prog := *w.CurrentProgress
		cp.CurrentProgress = &prog
	}
	if w.CarriedOverAt != nil {
		at := *w.CarriedOverAt
		cp.CarriedOverAt = &at
	}
	return &cp
}

func (s *fakeWorkItemStore) GetByID(_ context.Context, id string) (*domain.WorkItem, error) {
	w, ok := s.items[id]
	if !ok {
		return nil, &domain.WorkItemNotFoundError{WorkItemID: id}
	}
	return cloneItem(w), nil
}

func (s *fakeWorkItemStore) ListByOwner(_ context.Context, ownerID string) ([]*domain.WorkItem, error) {
	var out []*domain.WorkItem
	for _, w := range s.items {
		if w.OwnerID == ownerID {
			out = append(out, cloneItem(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeWorkItemStore) ListPendingByOwner(_ context.Context, ownerID string) ([]*domain.WorkItem, error) {
	var out []*domain.WorkItem
	for _, w := range s.items {
		if w.OwnerID == ownerID && w.MigrationState == domain.MigrationPending {
			out = append(out, cloneItem(w))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeWorkItemStore) Upsert(_ context.Context, w *domain.WorkItem) error {
	s.upserts++
	s.items[w.ID] = cloneItem(w)
	return nil
}

func (s *fakeWorkItemStore) Delete(_ context.Context, id string) error {
	if _, ok := s.items[id]; !ok {
		return &domain.WorkItemNotFoundError{WorkItemID: id}
	}
	delete(s.items, id)
	return nil
}

var _ mongo.WorkItemStore = (*fakeWorkItemStore)(nil)

// fakeSettings defaults to enabled, matching the missing-setting rule.
type fakeSettings struct {
	disabled map[string]bool
	errs     map[string]error
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{disabled: make(map[string]bool), errs: make(map[string]error)}
}

func (s *fakeSettings) CarryEnabled(_ context.Context, ownerID string) (bool, error) {
	if err := s.errs[ownerID]; err != nil {
		return false, err
	}
	return !s.disabled[ownerID], nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// fixedNow sits early in February: the January period has ended, the
// February one is active.
var fixedNow = date(2025, 2, 5)

type fixture struct {
	periods  *fakePeriodStore
	items    *fakeWorkItemStore
	settings *fakeSettings
	runner   *Runner
}

func newFixture(periods *fakePeriodStore, items *fakeWorkItemStore) *fixture {
	clock := func() time.Time { return fixedNow }
	settings := newFakeSettings()
	sync := linkage.NewSynchronizer(periods, items, slog.Default(), linkage.WithClock(clock))
	runner := NewRunner(periods, items, settings, sync, slog.Default(),
		WithClock(clock), WithRetryBaseDelay(time.Millisecond))
	return &fixture{periods: periods, items: items, settings: settings, runner: runner}
}

func period(id, ownerID string, start, end time.Time, links ...domain.ProjectLink) *domain.Period {
	return &domain.Period{ID: id, OwnerID: ownerID, Start: start, End: end, ProjectLinks: links}
}

func januaryPeriod(links ...domain.ProjectLink) *domain.Period {
	return period("period-jan", "owner-1", date(2025, 1, 1), date(2025, 1, 31), links...)
}

func februaryPeriod() *domain.Period {
	return period("period-feb", "owner-1", date(2025, 2, 1), date(2025, 2, 28))
}

// incompleteItem is a repetitive item with outstanding work, linked to the
// January period.
func incompleteItem(id string) *domain.WorkItem {
	return &domain.WorkItem{
		ID:              id,
		OwnerID:         "owner-1",
		Category:        domain.CategoryRepetitive,
		Start:           date(2025, 1, 1),
		End:             date(2025, 3, 31),
		AggregateTarget: 30,
		CompletedTasks:  10,
		LinkedPeriods:   []string{"period-jan"},
		MigrationState:  domain.MigrationNone,
	}
}

func runPass(t *testing.T, f *fixture) Summary {
	t.Helper()
	// Window covering the January end.
	summary, err := f.runner.RunPass(context.Background(), date(2025, 1, 15), fixedNow)
	require.NoError(t, err)
	return summary
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestRunPass_MigratesIncompleteItem(t *testing.T) {
	f := newFixture(
		newFakePeriodStore(januaryPeriod(domain.ProjectLink{WorkItemID: "w1", TargetCount: 20, DoneCount: 10}), februaryPeriod()),
		newFakeWorkItemStore(incompleteItem("w1")),
	)

	summary := runPass(t, f)
	assert.Equal(t, 1, summary.Migrated)
	assert.Equal(t, 0, summary.Parked)

	item, _ := f.items.GetByID(context.Background(), "w1")
	assert.Equal(t, domain.MigrationMigrated, item.MigrationState)
	assert.True(t, item.LinkedTo("period-feb"))
	assert.True(t, item.LinkedTo("period-jan"), "history in the ended period is kept")
	require.NotNil(t, item.CarriedOverAt)
	assert.Equal(t, fixedNow.UTC(), *item.CarriedOverAt)

	dest, _ := f.periods.GetByID(context.Background(), "period-feb")
	link := dest.LinkFor("w1")
	require.NotNil(t, link, "destination period gains the link")
	assert.Equal(t, 0, link.DoneCount, "counters start fresh in the destination")
	assert.Greater(t, link.TargetCount, 0, "target seeded from the allocator")
}

func TestRunPass_ParksWhenNoDestination(t *testing.T) {
	f := newFixture(
		newFakePeriodStore(januaryPeriod(domain.ProjectLink{WorkItemID: "w1", TargetCount: 20, DoneCount: 10})),
		newFakeWorkItemStore(incompleteItem("w1")),
	)

	summary := runPass(t, f)
	assert.Equal(t, 0, summary.Migrated)
	assert.Equal(t, 1, summary.Parked)

	item, _ := f.items.GetByID(context.Background(), "w1")
	assert.Equal(t, domain.MigrationPending, item.MigrationState)
	assert.Equal(t, "period-jan", item.OriginalPeriodID)
	assert.Equal(t, []string{"period-jan"}, item.LinkedPeriods, "parking changes no links")
	assert.Nil(t, item.CarriedOverAt)
}

func TestAttachPending_LinksParkedItemIntoNewPeriod(t *testing.T) {
	f := newFixture(
		newFakePeriodStore(januaryPeriod(domain.ProjectLink{WorkItemID: "w1", TargetCount: 20, DoneCount: 10})),
		newFakeWorkItemStore(incompleteItem("w1")),
	)
	runPass(t, f) // parks w1

	feb := februaryPeriod()
	require.NoError(t, f.periods.Upsert(context.Background(), feb))

	attached, err := f.runner.AttachPending(context.Background(), "owner-1", feb)
	require.NoError(t, err)
	assert.Equal(t, 1, attached)

	item, _ := f.items.GetByID(context.Background(), "w1")
	assert.Equal(t, domain.MigrationMigrated, item.MigrationState)
	assert.True(t, item.LinkedTo("period-feb"))
	assert.Equal(t, "period-jan", item.OriginalPeriodID, "provenance survives the attach")

	dest, _ := f.periods.GetByID(context.Background(), "period-feb")
	assert.NotNil(t, dest.LinkFor("w1"))
}

func TestAttachPending_SkipsEndedPeriod(t *testing.T) {
	f := newFixture(newFakePeriodStore(), newFakeWorkItemStore())
	ended := period("period-old", "owner-1", date(2024, 11, 1), date(2024, 11, 30))

	attached, err := f.runner.AttachPending(context.Background(), "owner-1", ended)
	require.NoError(t, err)
	assert.Zero(t, attached)
}

func TestRunPass_OptOutMakesNoWrites(t *testing.T) {
	f := newFixture(
		newFakePeriodStore(januaryPeriod(domain.ProjectLink{WorkItemID: "w1", TargetCount: 20, DoneCount: 10}), februaryPeriod()),
		newFakeWorkItemStore(incompleteItem("w1")),
	)
	f.settings.disabled["owner-1"] = true

	summary := runPass(t, f)
	assert.Equal(t, 1, summary.Skipped)
	assert.Zero(t, summary.Migrated)
	assert.Zero(t, f.items.upserts, "opted-out owners see zero writes")

	item, _ := f.items.GetByID(context.Background(), "w1")
	assert.Equal(t, domain.MigrationNone, item.MigrationState)
}

func TestRunPass_RerunIsIdempotent(t *testing.T) {
	f := newFixture(
		newFakePeriodStore(januaryPeriod(domain.ProjectLink{WorkItemID: "w1", TargetCount: 20, DoneCount: 10}), februaryPeriod()),
		newFakeWorkItemStore(incompleteItem("w1")),
	)

	first := runPass(t, f)
	assert.Equal(t, 1, first.Migrated)

	second := runPass(t, f)
	assert.Zero(t, second.Migrated, "already-migrated items are not re-processed")
	assert.Zero(t, second.Parked)

	item, _ := f.items.GetByID(context.Background(), "w1")
	assert.Equal(t, []string{"period-jan", "period-feb"}, item.LinkedPeriods)
}

func TestRunPass_CompleteItemStaysPut(t *testing.T) {
	done := incompleteItem("w1")
	done.CompletedTasks = done.AggregateTarget
	f := newFixture(
		newFakePeriodStore(januaryPeriod(domain.ProjectLink{WorkItemID: "w1", TargetCount: 20, DoneCount: 20}), februaryPeriod()),
		newFakeWorkItemStore(done),
	)

	summary := runPass(t, f)
	assert.Zero(t, summary.Migrated)
	assert.Zero(t, summary.Parked)

	item, _ := f.items.GetByID(context.Background(), "w1")
	assert.Equal(t, domain.MigrationNone, item.MigrationState)
	assert.Equal(t, []string{"period-jan"}, item.LinkedPeriods)
}

func TestRunPass_OwnerProcessedOncePerPass(t *testing.T) {
	// Two periods for the same owner ended inside the window; the pass
	// anchors on the earlier (end, id) and visits the owner exactly once.
	early := period("period-a", "owner-1", date(2025, 1, 1), date(2025, 1, 15))
	late := period("period-b", "owner-1", date(2025, 1, 10), date(2025, 1, 31))
	f := newFixture(newFakePeriodStore(early, late, februaryPeriod()), newFakeWorkItemStore())

	summary, err := f.runner.RunPass(context.Background(), date(2025, 1, 1), fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Owners)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, "owner-1", summary.Results[0].OwnerID)
}

func TestRunPass_DestinationIsEarliestUsablePeriod(t *testing.T) {
	march := period("period-mar", "owner-1", date(2025, 3, 1), date(2025, 3, 31))
	f := newFixture(
		newFakePeriodStore(januaryPeriod(domain.ProjectLink{WorkItemID: "w1", TargetCount: 20, DoneCount: 10}), februaryPeriod(), march),
		newFakeWorkItemStore(incompleteItem("w1")),
	)

	runPass(t, f)

	item, _ := f.items.GetByID(context.Background(), "w1")
	assert.True(t, item.LinkedTo("period-feb"), "earliest non-ended period wins")
	assert.False(t, item.LinkedTo("period-mar"))
}

func TestRunPass_SettingsFailureIsIsolatedPerOwner(t *testing.T) {
	other := period("period-jan-2", "owner-2", date(2025, 1, 1), date(2025, 1, 31),
		domain.ProjectLink{WorkItemID: "w2", TargetCount: 20, DoneCount: 10})
	otherDest := period("period-feb-2", "owner-2", date(2025, 2, 1), date(2025, 2, 28))
	otherItem := incompleteItem("w2")
	otherItem.OwnerID = "owner-2"
	otherItem.LinkedPeriods = []string{"period-jan-2"}

	f := newFixture(
		newFakePeriodStore(
			januaryPeriod(domain.ProjectLink{WorkItemID: "w1", TargetCount: 20, DoneCount: 10}),
			februaryPeriod(), other, otherDest),
		newFakeWorkItemStore(incompleteItem("w1"), otherItem),
	)
	f.settings.errs["owner-1"] = assert.AnError

	summary := runPass(t, f)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Migrated, "other owners still processed")

	w2, _ := f.items.GetByID(context.Background(), "w2")
	assert.Equal(t, domain.MigrationMigrated, w2.MigrationState)
}
