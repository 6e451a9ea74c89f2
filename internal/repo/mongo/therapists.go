package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Alijeyrad/carebook_backend/internal/model"
	mongodb "github.com/Alijeyrad/carebook_backend/pkg/mongo"
)

type TherapistRepo struct {
	col *mongo.Collection
	now func() time.Time
}

func NewTherapistRepo(db *mongo.Database) *TherapistRepo {
	return &TherapistRepo{col: db.Collection(mongodb.CollectionTherapists), now: time.Now}
}

func (r *TherapistRepo) Get(ctx context.Context, id string) (*model.Therapist, error) {
	var t model.Therapist
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&t); err != nil {
		return nil, notFound(err, "therapist", id)
	}
	return &t, nil
}

// RecordCompleted increments the counter, then promotes with a guarded
// update so only one caller observes the promotion.
func (r *TherapistRepo) RecordCompleted(ctx context.Context, therapistID string, n, levelUpAt int) (bool, error) {
	if n <= 0 {
		return false, nil
	}
	now := r.now().UTC()

	var t model.Therapist
	err := r.col.FindOneAndUpdate(ctx,
		bson.M{"_id": therapistID},
		bson.M{
			"$inc":         bson.M{"completedSessions": n},
			"$set":         bson.M{"updatedAt": now},
			"$setOnInsert": bson.M{"level": 1},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&t)
	if err != nil {
		return false, fmt.Errorf("record completed sessions of %s: %w", therapistID, err)
	}

	if levelUpAt <= 0 || t.CompletedSessions < levelUpAt || t.Level >= model.SeniorLevel {
		return false, nil
	}

	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": therapistID, "level": bson.M{"$lt": model.SeniorLevel}},
		bson.M{"$set": bson.M{"level": model.SeniorLevel, "updatedAt": now}},
	)
	if err != nil {
		return false, fmt.Errorf("promote therapist %s: %w", therapistID, err)
	}
	return res.ModifiedCount == 1, nil
}
