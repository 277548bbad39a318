package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sol-namoo/monthlyGrow-sub000/internal/domain"
)

// WorkItemStore abstracts all document access for work items.
type WorkItemStore interface {
	GetByID(ctx context.Context, id string) (*domain.WorkItem, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.WorkItem, error)
	// ListPendingByOwner returns the owner's work items parked in PENDING
	// migration state, waiting for a destination period.
	ListPendingByOwner(ctx context.Context, ownerID string) ([]*domain.WorkItem, error)
	Upsert(ctx context.Context, w *domain.WorkItem) error
	Delete(ctx context.Context, id string) error
}

type workItemStore struct {
	coll *mongo.Collection
}

// NewWorkItemStore wraps the work_items collection with the WorkItemStore
// interface.
func NewWorkItemStore(db *mongo.Database) WorkItemStore {
	return &workItemStore{coll: db.Collection(collWorkItems)}
}

func (s *workItemStore) GetByID(ctx context.Context, id string) (*domain.WorkItem, error) {
	var w domain.WorkItem
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&w)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &domain.WorkItemNotFoundError{WorkItemID: id}
		}
		return nil, fmt.Errorf("get work item %s: %w", id, err)
	}
	return &w, nil
}

func (s *workItemStore) ListByOwner(ctx context.Context, ownerID string) ([]*domain.WorkItem, error) {
	return s.list(ctx, bson.M{"owner_id": ownerID})
}

func (s *workItemStore) ListPendingByOwner(ctx context.Context, ownerID string) ([]*domain.WorkItem, error) {
	return s.list(ctx, bson.M{
		"owner_id":        ownerID,
		"migration_state": string(domain.MigrationPending),
	})
}

func (s *workItemStore) list(ctx context.Context, filter bson.M) ([]*domain.WorkItem, error) {
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer cur.Close(ctx)

	var items []*domain.WorkItem
	for cur.Next(ctx) {
		var w domain.WorkItem
		if err := cur.Decode(&w); err != nil {
			return nil, fmt.Errorf("decode work item: %w", err)
		}
		items = append(items, &w)
	}
	return items, cur.Err()
}

func (s *workItemStore) Upsert(ctx context.Context, w *domain.WorkItem) error {
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": w.ID}, w, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert work item %s: %w", w.ID, err)
	}
	return nil
}

func (s *workItemStore) Delete(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete work item %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return &domain.WorkItemNotFoundError{WorkItemID: id}
	}
	return nil
}
