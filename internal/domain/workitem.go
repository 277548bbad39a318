package domain

import "time"

// Category determines how a work item's own lifetime progress is computed,
// independently of any period it is linked into.
type Category string

const (
	// CategoryRepetitive counts completions against a lifetime target.
	CategoryRepetitive Category = "REPETITIVE"
	// CategoryTaskBased counts completions against the item's task list.
	CategoryTaskBased Category = "TASK_BASED"
)

// MigrationState tracks where a work item stands in carry-over processing.
type MigrationState string

const (
	MigrationNone MigrationState = "NONE"
	// MigrationPending means the item was eligible for carry-over but no
	// destination period existed at the time of the pass.
	MigrationPending MigrationState = "PENDING"
	// MigrationMigrated means the item has been re-linked to a later period.
	MigrationMigrated MigrationState = "MIGRATED"
)

// PeriodProgress is a denormalized read-model entry caching the item's
// counters within its currently active period. It is recomputed by the
// linkage layer whenever links or counters change, and is absent when none
// of the item's linked periods is active.
type PeriodProgress struct {
	PeriodID string  `bson:"period_id" json:"period_id"`
	Target   int     `bson:"target" json:"target"`
	Done     int     `bson:"done" json:"done"`
	Rate     float64 `bson:"rate" json:"rate"`
}

// WorkItem is a goal-oriented unit of work ("project") with its own
// lifetime target and optional links into one or more periods.
//
// CompletedTasks and TotalTasks are maintained by the external task CRUD
// surface; this subsystem reads them but never writes them.
type WorkItem struct {
	ID               string          `bson:"_id" json:"id"`
	OwnerID          string          `bson:"owner_id" json:"owner_id"`
	Title            string          `bson:"title" json:"title"`
	Category         Category        `bson:"category" json:"category"`
	AreaID           string          `bson:"area_id,omitempty" json:"area_id,omitempty"`
	Start            time.Time       `bson:"start" json:"start"`
	End              time.Time       `bson:"end" json:"end"`
	AggregateTarget  int             `bson:"aggregate_target" json:"aggregate_target"`
	LinkedPeriods    []string        `bson:"linked_periods" json:"linked_periods"`
	CompletedTasks   int             `bson:"completed_tasks" json:"completed_tasks"`
	TotalTasks       int             `bson:"total_tasks" json:"total_tasks"`
	MigrationState   MigrationState  `bson:"migration_state" json:"migration_state"`
	OriginalPeriodID string          `bson:"original_period_id,omitempty" json:"original_period_id,omitempty"`
	CarriedOverAt    *time.Time      `bson:"carried_over_at,omitempty" json:"carried_over_at,omitempty"`
	CurrentProgress  *PeriodProgress `bson:"current_progress,omitempty" json:"current_progress,omitempty"`
	CreatedAt        time.Time       `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `bson:"updated_at" json:"updated_at"`
}

// Window returns the work item's date window.
func (w *WorkItem) Window() Window { return Window{Start: w.Start, End: w.End} }

// LinkedTo reports whether the item references the given period.
func (w *WorkItem) LinkedTo(periodID string) bool {
	for _, id := range w.LinkedPeriods {
		if id == periodID {
			return true
		}
	}
	return false
}

// AddLinkedPeriod appends periodID to LinkedPeriods if not already present.
// Returns true when the list changed.
func (w *WorkItem) AddLinkedPeriod(periodID string) bool {
	if w.LinkedTo(periodID) {
		return false
	}
	w.LinkedPeriods = append(w.LinkedPeriods, periodID)
	return true
}

// RemoveLinkedPeriod drops periodID from LinkedPeriods. Returns true when
// the list changed.
func (w *WorkItem) RemoveLinkedPeriod(periodID string) bool {
	for i, id := range w.LinkedPeriods {
		if id == periodID {
			w.LinkedPeriods = append(w.LinkedPeriods[:i], w.LinkedPeriods[i+1:]...)
			return true
		}
	}
	return false
}

// Incomplete reports whether the item still has outstanding work under its
// category's completion rule. Computed at read time, never persisted.
func (w *WorkItem) Incomplete() bool {
	switch w.Category {
	case CategoryRepetitive:
		return w.CompletedTasks < w.AggregateTarget
	case CategoryTaskBased:
		return w.CompletedTasks < w.TotalTasks
	default:
		return false
	}
}

// Task is the external task entity as this subsystem sees it: read-only,
// owned by the task CRUD surface. Only the done:false→true transition is
// observed, via the completion event feed.
type Task struct {
	ID          string     `bson:"_id" json:"id"`
	WorkItemID  string     `bson:"work_item_id" json:"work_item_id"`
	Due         time.Time  `bson:"due" json:"due"`
	DurationMin int        `bson:"duration_min" json:"duration_min"`
	Done        bool       `bson:"done" json:"done"`
	CompletedAt *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// CompletionEvent is one done:false→true notification from the task feed.
// Delivery is at-least-once; consumers must deduplicate.
type CompletionEvent struct {
	EventType   string    `json:"event_type"`
	TaskID      string    `json:"task_id"`
	WorkItemID  string    `json:"work_item_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// EventTypeTaskCompleted is the event_type value for completion events.
const EventTypeTaskCompleted = "task.completed"
