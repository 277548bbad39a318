package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/sol-namoo/monthlyGrow-sub000/internal/domain"
)

// TaskStore is a read-only view over the external task collection. Tasks
// are owned by the task CRUD surface; this subsystem only counts
// completions when recomputing period counters from source of truth.
type TaskStore interface {
	// CountCompletedInWindow counts the work item's tasks whose completed_at
	// falls in [w.Start, w.End).
	CountCompletedInWindow(ctx context.Context, workItemID string, w domain.Window) (int, error)
}

type taskStore struct {
	coll *mongo.Collection
}

// NewTaskStore wraps the tasks collection with the TaskStore interface.
func NewTaskStore(db *mongo.Database) TaskStore {
	return &taskStore{coll: db.Collection(collTasks)}
}

func (s *taskStore) CountCompletedInWindow(ctx context.Context, workItemID string, w domain.Window) (int, error) {
	filter := bson.M{
		"work_item_id": workItemID,
		"done":         true,
		"completed_at": bson.M{"$gte": w.Start, "$lt": w.End},
	}
	n, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count completed tasks for work item %s: %w", workItemID, err)
	}
	return int(n), nil
}
