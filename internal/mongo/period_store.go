package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sol-namoo/monthlyGrow-sub000/internal/domain"
)

// PeriodStore abstracts all document access for periods.
type PeriodStore interface {
	GetByID(ctx context.Context, id string) (*domain.Period, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Period, error)
	// ListEndedBetween returns periods whose end falls in (since, until],
	// across all owners, ordered by (end, _id) so batch anchoring is
	// deterministic.
	ListEndedBetween(ctx context.Context, since, until time.Time) ([]*domain.Period, error)
	Upsert(ctx context.Context, p *domain.Period) error
	Delete(ctx context.Context, id string) error
}

type periodStore struct {
	coll *mongo.Collection
}

// NewPeriodStore wraps the periods collection with the PeriodStore interface.
func NewPeriodStore(db *mongo.Database) PeriodStore {
	return &periodStore{coll: db.Collection(collPeriods)}
}

func (s *periodStore) GetByID(ctx context.Context, id string) (*domain.Period, error) {
	var p domain.Period
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &domain.PeriodNotFoundError{PeriodID: id}
		}
		return nil, fmt.Errorf("get period %s: %w", id, err)
	}
	return &p, nil
}

func (s *periodStore) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Period, error) {
	cur, err := s.coll.Find(ctx, bson.M{"owner_id": ownerID},
		options.Find().SetSort(bson.D{{Key: "start", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list periods for owner %s: %w", ownerID, err)
	}
	return decodePeriods(ctx, cur)
}

func (s *periodStore) ListEndedBetween(ctx context.Context, since, until time.Time) ([]*domain.Period, error) {
	filter := bson.M{"end": bson.M{"$gt": since, "$lte": until}}
	cur, err := s.coll.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "end", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list ended periods in (%s, %s]: %w",
			since.Format(time.RFC3339), until.Format(time.RFC3339), err)
	}
	return decodePeriods(ctx, cur)
}

func (s *periodStore) Upsert(ctx context.Context, p *domain.Period) error {
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": p.ID}, p, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert period %s: %w", p.ID, err)
	}
	return nil
}

func (s *periodStore) Delete(ctx context.Context, id string) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete period %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return &domain.PeriodNotFoundError{PeriodID: id}
	}
	return nil
}

func decodePeriods(ctx context.Context, cur *mongo.Cursor) ([]*domain.Period, error) {
	defer cur.Close(ctx)
	var periods []*domain.Period
	for cur.Next(ctx) {
		var p domain.Period
		if err := cur.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode period: %w", err)
		}
		periods = append(periods, &p)
	}
	return periods, cur.Err()
}
