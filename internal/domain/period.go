package domain

import "time"

// LifecycleStatus is derived from a stored date window and the current
// clock. It is never persisted: two reads taken at different instants may
// legitimately disagree, and no caller should assume it is stable within a
// session.
type LifecycleStatus string

const (
	StatusPlanned LifecycleStatus = "PLANNED"
	StatusActive  LifecycleStatus = "ACTIVE"
	StatusEnded   LifecycleStatus = "ENDED"
)

// Window is a date range. Start is inclusive; End marks the boundary after
// which the window counts as ended.
type Window struct {
	Start time.Time `bson:"start" json:"start"`
	End   time.Time `bson:"end" json:"end"`
}

// StatusAt derives the lifecycle status of a window at the given instant.
func StatusAt(w Window, now time.Time) LifecycleStatus {
	switch {
	case now.Before(w.Start):
		return StatusPlanned
	case now.After(w.End):
		return StatusEnded
	default:
		return StatusActive
	}
}

// KeyResult is a single measurable outcome attached to a period.
type KeyResult struct {
	ID    string `bson:"id" json:"id"`
	Title string `bson:"title" json:"title"`
	Done  bool   `bson:"done" json:"done"`
}

// ProjectLink is the per-period progress record for one linked work item.
// It is the authoritative counter pair for that period only.
type ProjectLink struct {
	WorkItemID  string `bson:"work_item_id" json:"work_item_id"`
	TargetCount int    `bson:"target_count" json:"target_count"`
	DoneCount   int    `bson:"done_count" json:"done_count"`
}

// Period is a bounded time window ("monthly") against which an objective
// and linked work items are tracked. Status is never stored; callers derive
// it with StatusAt.
type Period struct {
	ID           string        `bson:"_id" json:"id"`
	OwnerID      string        `bson:"owner_id" json:"owner_id"`
	Objective    string        `bson:"objective" json:"objective"`
	KeyResults   []KeyResult   `bson:"key_results" json:"key_results"`
	Start        time.Time     `bson:"start" json:"start"`
	End          time.Time     `bson:"end" json:"end"`
	Reward       string        `bson:"reward" json:"reward"`
	ProjectLinks []ProjectLink `bson:"project_links" json:"project_links"`
	CreatedAt    time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `bson:"updated_at" json:"updated_at"`
}

// Window returns the period's date window.
func (p *Period) Window() Window { return Window{Start: p.Start, End: p.End} }

// LinkFor returns a pointer into ProjectLinks for the given work item, or
// nil when the work item is not linked.
func (p *Period) LinkFor(workItemID string) *ProjectLink {
	for i := range p.ProjectLinks {
		if p.ProjectLinks[i].WorkItemID == workItemID {
			return &p.ProjectLinks[i]
		}
	}
	return nil
}

// LinkedWorkItemIDs returns the work item ids referenced by ProjectLinks.
func (p *Period) LinkedWorkItemIDs() []string {
	ids := make([]string, len(p.ProjectLinks))
	for i, l := range p.ProjectLinks {
		ids[i] = l.WorkItemID
	}
	return ids
}
