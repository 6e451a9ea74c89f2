package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Alijeyrad/carebook_backend/internal/model"
	mongodb "github.com/Alijeyrad/carebook_backend/pkg/mongo"
)

// UserRepo is a read-only contact directory.
type UserRepo struct {
	col *mongo.Collection
}

func NewUserRepo(db *mongo.Database) *UserRepo {
	return &UserRepo{col: db.Collection(mongodb.CollectionUsers)}
}

func (r *UserRepo) Get(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	opts := options.FindOne().SetProjection(bson.M{"name": 1, "email": 1, "phone": 1, "role": 1})
	if err := r.col.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&u); err != nil {
		return nil, notFound(err, "user", id)
	}
	return &u, nil
}
