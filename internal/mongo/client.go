package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collPeriods   = "periods"
	collWorkItems = "work_items"
	collTasks     = "tasks"
)

// Connect creates a mongo client, verifies connectivity, and returns a
// handle on the named database.
func Connect(ctx context.Context, uri, database string) (*mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetServerSelectionTimeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client.Database(database), nil
}

// EnsureIndexes creates the indexes the owner-scoped and ended-period
// queries rely on. Safe to call repeatedly.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	periodIdx := []mongo.IndexModel{
		{Keys: bson.D{{Key: "owner_id", Value: 1}}},
		{Keys: bson.D{{Key: "end", Value: 1}}},
	}
	if _, err := db.Collection(collPeriods).Indexes().CreateMany(ctx, periodIdx); err != nil {
		return fmt.Errorf("create period indexes: %w", err)
	}

	itemIdx := []mongo.IndexModel{
		{Keys: bson.D{{Key: "owner_id", Value: 1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "migration_state", Value: 1}}},
	}
	if _, err := db.Collection(collWorkItems).Indexes().CreateMany(ctx, itemIdx); err != nil {
		return fmt.Errorf("create work item indexes: %w", err)
	}

	taskIdx := []mongo.IndexModel{
		{Keys: bson.D{{Key: "work_item_id", Value: 1}, {Key: "completed_at", Value: 1}}},
	}
	if _, err := db.Collection(collTasks).Indexes().CreateMany(ctx, taskIdx); err != nil {
		return fmt.Errorf("create task indexes: %w", err)
	}
	return nil
}

// TxnRunner executes fn inside a single store transaction when the
// underlying deployment supports one. The document set touched by fn must
// be bounded and known in advance; unbounded fan-out writes go through the
// compensating-write path instead.
type TxnRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type sessionRunner struct {
	client *mongo.Client
}

// NewTxnRunner returns a TxnRunner backed by mongo sessions.
func NewTxnRunner(db *mongo.Database) TxnRunner {
	return &sessionRunner{client: db.Client()}
}

func (r *sessionRunner) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (any, error) {
		return nil, fn(sessCtx)
	})
	if err != nil {
		return fmt.Errorf("transaction: %w", err)
	}
	return nil
}
