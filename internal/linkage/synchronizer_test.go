package linkage

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sol-namoo/monthlyGrow-sub000/internal/domain"
	"github.com/sol-namoo/monthlyGrow-sub000/internal/mongo"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type fakePeriodStore struct {
	periods   map[string]*domain.Period
	upsertErr map[string]error // fail Upsert for a specific period id
}

func newFakePeriodStore(periods ...*domain.Period) *fakePeriodStore {
	s := &fakePeriodStore{
		periods:   make(map[string]*domain.Period),
		upsertErr: make(map[string]error),
	}
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

func (s *fakePeriodStore) ListEndedBetween(_ context.Context, since, until time.Time) ([]*domain.Period, error) {
	var out []*domain.Period
	for _, p := range s.periods {
		if p.End.After(since) && !p.End.After(until) {
			out = append(out, clonePeriod(p))
		}
	}
	return out, nil
}

func (s *fakePeriodStore) Upsert(_ context.Context, p *domain.Period) error {
	if err := s.upsertErr[p.ID]; err != nil {
		return err
	}
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
	items     map[string]*domain.WorkItem
	upsertErr map[string]error
	upserts   int
}

func newFakeWorkItemStore(items ...*domain.WorkItem) *fakeWorkItemStore {
	s := &fakeWorkItemStore{
		items:     make(map[string]*domain.WorkItem),
		upsertErr: make(map[string]error),
	}
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
	return out, nil
}

func (s *fakeWorkItemStore) ListPendingByOwner(_ context.Context, ownerID string) ([]*domain.WorkItem, error) {
	var out []*domain.WorkItem
	for _, w := range s.items {
		if w.OwnerID == ownerID && w.MigrationState == domain.MigrationPending {
			out = append(out, cloneItem(w))
		}
	}
	return out, nil
}

func (s *fakeWorkItemStore) Upsert(_ context.Context, w *domain.WorkItem) error {
	if err := s.upsertErr[w.ID]; err != nil {
		return err
	}
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

// ── helpers ──────────────────────────────────────────────────────────────────

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// fixedNow falls inside the January period used throughout these tests.
var fixedNow = date(2025, 1, 20)

func testSynchronizer(periods *fakePeriodStore, items *fakeWorkItemStore) *Synchronizer {
	return NewSynchronizer(periods, items, slog.Default(),
		WithClock(func() time.Time { return fixedNow }))
}

func januaryPeriod(links ...domain.ProjectLink) *domain.Period {
	return &domain.Period{
		ID:           "period-jan",
		OwnerID:      "owner-1",
		Objective:    "ship the thing",
		Start:        date(2025, 1, 1),
		End:          date(2025, 1, 31),
		ProjectLinks: links,
	}
}

func repetitiveItem(id string, linked ...string) *domain.WorkItem {
	return &domain.WorkItem{
		ID:              id,
		OwnerID:         "owner-1",
		Title:           "item " + id,
		Category:        domain.CategoryRepetitive,
		Start:           date(2025, 1, 1),
		End:             date(2025, 1, 31),
		AggregateTarget: 30,
		LinkedPeriods:   linked,
	}
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestSetPeriodLinks_AddsBackReference(t *testing.T) {
	period := januaryPeriod()
	item := repetitiveItem("item-1")
	periods := newFakePeriodStore(period)
	items := newFakeWorkItemStore(item)
	s := testSynchronizer(periods, items)

	err := s.SetPeriodLinks(context.Background(), period,
		[]domain.ProjectLink{{WorkItemID: "item-1"}})
	require.NoError(t, err)

	stored, err := items.GetByID(context.Background(), "item-1")
	require.NoError(t, err)
	assert.True(t, stored.LinkedTo("period-jan"), "work item should gain the back-reference")

	storedPeriod, err := periods.GetByID(context.Background(), "period-jan")
	require.NoError(t, err)
	require.NotNil(t, storedPeriod.LinkFor("item-1"))
}

func TestSetPeriodLinks_SeedsProportionalTarget(t *testing.T) {
	period := januaryPeriod()
	item := repetitiveItem("item-1") // fully inside the period, target 30
	periods := newFakePeriodStore(period)
	items := newFakeWorkItemStore(item)
	s := testSynchronizer(periods, items)

	err := s.SetPeriodLinks(context.Background(), period,
		[]domain.ProjectLink{{WorkItemID: "item-1"}})
	require.NoError(t, err)

	link := period.LinkFor("item-1")
	require.NotNil(t, link)
	assert.Equal(t, 30, link.TargetCount, "default target should come from the allocator")
	assert.Equal(t, 0, link.DoneCount)
}

func TestSetPeriodLinks_ExplicitTargetWins(t *testing.T) {
	period := januaryPeriod()
	item := repetitiveItem("item-1")
	s := testSynchronizer(newFakePeriodStore(period), newFakeWorkItemStore(item))

	err := s.SetPeriodLinks(context.Background(), period,
		[]domain.ProjectLink{{WorkItemID: "item-1", TargetCount: 12}})
	require.NoError(t, err)

	assert.Equal(t, 12, period.LinkFor("item-1").TargetCount)
}

func TestSetPeriodLinks_PreservesDoneCount(t *testing.T) {
	period := januaryPeriod(domain.ProjectLink{WorkItemID: "item-1", TargetCount: 10, DoneCount: 4})
	item := repetitiveItem("item-1", "period-jan")
	s := testSynchronizer(newFakePeriodStore(period), newFakeWorkItemStore(item))

	// Caller resubmits the link with a doctored done count.
	err := s.SetPeriodLinks(context.Background(), period,
		[]domain.ProjectLink{{WorkItemID: "item-1", TargetCount: 10, DoneCount: 99}})
	require.NoError(t, err)

	assert.Equal(t, 4, period.LinkFor("item-1").DoneCount,
		"stored done counter is authoritative, caller input ignored")
}

func TestSetPeriodLinks_SurvivingTargetChangeRewritesCache(t *testing.T) {
	period := januaryPeriod(domain.ProjectLink{WorkItemID: "item-1", TargetCount: 10, DoneCount: 4})
	item := repetitiveItem("item-1", "period-jan")
	item.CurrentProgress = &domain.PeriodProgress{
		PeriodID: "period-jan", Target: 10, Done: 4, Rate: 0.4,
	}
	items := newFakeWorkItemStore(item)
	s := testSynchronizer(newFakePeriodStore(period), items)

	err := s.SetPeriodLinks(context.Background(), period,
		[]domain.ProjectLink{{WorkItemID: "item-1", TargetCount: 20}})
	require.NoError(t, err)

	assert.Equal(t, 20, period.LinkFor("item-1").TargetCount)
	assert.Equal(t, 4, period.LinkFor("item-1").DoneCount)

	stored, err := items.GetByID(context.Background(), "item-1")
	require.NoError(t, err)
	require.NotNil(t, stored.CurrentProgress)
	assert.Equal(t, 20, stored.CurrentProgress.Target, "persisted cache follows the new target")
	assert.Equal(t, 4, stored.CurrentProgress.Done)
	assert.InDelta(t, 0.2, stored.CurrentProgress.Rate, 1e-9)
}

func TestSetPeriodLinks_UnchangedSurvivorIsNotRewritten(t *testing.T) {
	period := januaryPeriod(domain.ProjectLink{WorkItemID: "item-1", TargetCount: 10, DoneCount: 4})
	item := repetitiveItem("item-1", "period-jan")
	items := newFakeWorkItemStore(item)
	s := testSynchronizer(newFakePeriodStore(period), items)

	// An unchanged explicit target and a zero target both mean "keep as is";
	// neither should touch the item document.
	for _, target := range []int{10, 0} {
		err := s.SetPeriodLinks(context.Background(), period,
			[]domain.ProjectLink{{WorkItemID: "item-1", TargetCount: target}})
		require.NoError(t, err)
	}
	assert.Zero(t, items.upserts, "surviving link with same target leaves the item untouched")
}

func TestSetPeriodLinks_RemovalStripsBothSides(t *testing.T) {
	period := januaryPeriod(domain.ProjectLink{WorkItemID: "item-1", TargetCount: 10})
	item := repetitiveItem("item-1", "period-jan")
	periods := newFakePeriodStore(period)
	items := newFakeWorkItemStore(item)
	s := testSynchronizer(periods, items)

	err := s.SetPeriodLinks(context.Background(), period, nil)
	require.NoError(t, err)

	assert.Nil(t, period.LinkFor("item-1"))
	stored, _ := items.GetByID(context.Background(), "item-1")
	assert.False(t, stored.LinkedTo("period-jan"))
	assert.Nil(t, stored.CurrentProgress, "cache cleared when no linked period is active")
}

func TestSetPeriodLinks_SkipsMissingWorkItem(t *testing.T) {
	period := januaryPeriod()
	periods := newFakePeriodStore(period)
	s := testSynchronizer(periods, newFakeWorkItemStore())

	err := s.SetPeriodLinks(context.Background(), period,
		[]domain.ProjectLink{{WorkItemID: "ghost"}})
	require.NoError(t, err)

	assert.Nil(t, period.LinkFor("ghost"), "links to deleted items are not created")
}

func TestSetPeriodLinks_PartialFailureIsOneSided_ThenHealed(t *testing.T) {
	period := januaryPeriod()
	item := repetitiveItem("item-1")
	periods := newFakePeriodStore(period)
	items := newFakeWorkItemStore(item)
	items.upsertErr["item-1"] = assert.AnError // item write fails after the period write

	s := testSynchronizer(periods, items)
	err := s.SetPeriodLinks(context.Background(), period,
		[]domain.ProjectLink{{WorkItemID: "item-1"}})
	require.NoError(t, err, "item-side failure must not fail the mutation")

	// Invariant is violated: period has the link, the item does not.
	storedPeriod, _ := periods.GetByID(context.Background(), "period-jan")
	require.NotNil(t, storedPeriod.LinkFor("item-1"))
	storedItem, _ := items.GetByID(context.Background(), "item-1")
	require.False(t, storedItem.LinkedTo("period-jan"))

	// A later read that runs the repair heals the missing side.
	items.upsertErr = map[string]error{}
	s.RepairPeriod(context.Background(), storedPeriod)

	healed, _ := items.GetByID(context.Background(), "item-1")
	assert.True(t, healed.LinkedTo("period-jan"))
}

func TestSetPeriodLinks_UpdatesCacheForActivePeriod(t *testing.T) {
	period := januaryPeriod()
	item := repetitiveItem("item-1")
	periods := newFakePeriodStore(period)
	items := newFakeWorkItemStore(item)
	s := testSynchronizer(periods, items)

	err := s.SetPeriodLinks(context.Background(), period,
		[]domain.ProjectLink{{WorkItemID: "item-1", TargetCount: 10}})
	require.NoError(t, err)

	stored, _ := items.GetByID(context.Background(), "item-1")
	require.NotNil(t, stored.CurrentProgress)
	assert.Equal(t, "period-jan", stored.CurrentProgress.PeriodID)
	assert.Equal(t, 10, stored.CurrentProgress.Target)
	assert.Equal(t, 0, stored.CurrentProgress.Done)
}

func TestRefreshProgressCache_ClearedWhenNoActivePeriod(t *testing.T) {
	// Period ended long before fixedNow.
	old := &domain.Period{
		ID:      "period-old",
		OwnerID: "owner-1",
		Start:   date(2024, 11, 1),
		End:     date(2024, 11, 30),
		ProjectLinks: []domain.ProjectLink{
			{WorkItemID: "item-1", TargetCount: 10, DoneCount: 10},
		},
	}
	item := repetitiveItem("item-1", "period-old")
	item.CurrentProgress = &domain.PeriodProgress{PeriodID: "period-old", Target: 10, Done: 10, Rate: 1}

	s := testSynchronizer(newFakePeriodStore(old), newFakeWorkItemStore(item))
	require.NoError(t, s.RefreshProgressCache(context.Background(), item))

	assert.Nil(t, item.CurrentProgress)
}

func TestRepairWorkItem_AddsMissingPeriodSide(t *testing.T) {
	period := januaryPeriod() // no link for item-1
	item := repetitiveItem("item-1", "period-jan")
	periods := newFakePeriodStore(period)
	s := testSynchronizer(periods, newFakeWorkItemStore(item))

	s.RepairWorkItem(context.Background(), item)

	stored, _ := periods.GetByID(context.Background(), "period-jan")
	link := stored.LinkFor("item-1")
	require.NotNil(t, link, "period should gain the missing link")
	assert.Equal(t, 30, link.TargetCount, "healed link gets a freshly seeded target")
}

func TestLinkWorkItem_Idempotent(t *testing.T) {
	period := januaryPeriod()
	item := repetitiveItem("item-1")
	periods := newFakePeriodStore(period)
	items := newFakeWorkItemStore(item)
	s := testSynchronizer(periods, items)

	require.NoError(t, s.LinkWorkItem(context.Background(), period, item))
	require.NoError(t, s.LinkWorkItem(context.Background(), period, item))

	assert.Len(t, period.ProjectLinks, 1)
	assert.Equal(t, []string{"period-jan"}, item.LinkedPeriods)
}

func TestUnlinkEverywhere_StripsAllBackReferences(t *testing.T) {
	itemA := repetitiveItem("item-a", "period-jan", "period-feb")
	itemB := repetitiveItem("item-b", "period-jan")
	items := newFakeWorkItemStore(itemA, itemB)
	s := testSynchronizer(newFakePeriodStore(), items)

	s.UnlinkEverywhere(context.Background(), "period-jan", []string{"item-a", "item-b", "item-gone"})

	a, _ := items.GetByID(context.Background(), "item-a")
	assert.Equal(t, []string{"period-feb"}, a.LinkedPeriods)
	b, _ := items.GetByID(context.Background(), "item-b")
	assert.Empty(t, b.LinkedPeriods)
}
