package domain

import "fmt"

// PeriodNotFoundError is returned when a period ID does not exist.
type PeriodNotFoundError struct {
	PeriodID string
}

func (e *PeriodNotFoundError) Error() string {
	return fmt.Sprintf("period not found: %s", e.PeriodID)
}

// WorkItemNotFoundError is returned when a work item ID does not exist.
type WorkItemNotFoundError struct {
	WorkItemID string
}

func (e *WorkItemNotFoundError) Error() string {
	return fmt.Sprintf("work item not found: %s", e.WorkItemID)
}

// LinkAsymmetryError describes a one-sided reference between a period and a
// work item. It is logged when the read path self-heals; it never fails a
// read.
type LinkAsymmetryError struct {
	PeriodID   string
	WorkItemID string
	// MissingSide is "period" when the period lacks the link, "work_item"
	// when the work item lacks the back-reference.
	MissingSide string
}

func (e *LinkAsymmetryError) Error() string {
	return fmt.Sprintf("one-sided link between period %s and work item %s: %s side missing",
		e.PeriodID, e.WorkItemID, e.MissingSide)
}

// InvalidEventTypeError is returned when no handler is registered for an
// event type on the completion feed.
type InvalidEventTypeError struct {
	EventType string
}

func (e *InvalidEventTypeError) Error() string {
	return fmt.Sprintf("no handler registered for event type %q", e.EventType)
}
