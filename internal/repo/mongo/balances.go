package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/Alijeyrad/carebook_backend/internal/model"
	"github.com/Alijeyrad/carebook_backend/internal/repo"
	mongodb "github.com/Alijeyrad/carebook_backend/pkg/mongo"
)

// BalanceRepo keeps one document per user. Every mutation is a single
// atomic update so concurrent credits and debits never lose a write.
type BalanceRepo struct {
	col *mongo.Collection
	now func() time.Time
}

func NewBalanceRepo(db *mongo.Database) *BalanceRepo {
	return &BalanceRepo{col: db.Collection(mongodb.CollectionBalances), now: time.Now}
}

func (r *BalanceRepo) Get(ctx context.Context, userID string) (*model.Balance, error) {
	var b model.Balance
	if err := r.col.FindOne(ctx, bson.M{"userId": userID}).Decode(&b); err != nil {
		return nil, notFound(err, "balance of user", userID)
	}
	return &b, nil
}

// Credit upserts the ledger. The payment id predicate makes a replayed
// payment match nothing; the upsert then collides with the unique userId
// index, which is reported as repo.ErrDuplicate.
func (r *BalanceRepo) Credit(ctx context.Context, userID string, amount float64, sessions int, entry model.HistoryEntry, payment model.PaymentRecord) (*model.Balance, error) {
	now := r.now().UTC()
	filter := bson.M{
		"userId":             userID,
		"payments.paymentId": bson.M{"$ne": payment.PaymentID},
	}
	update := bson.M{
		"$inc":         bson.M{"balanceAmount": amount, "totalSessions": sessions},
		"$push":        bson.M{"history": entry, "payments": payment},
		"$set":         bson.M{"updatedAt": now},
		"$setOnInsert": bson.M{"_id": uuid.Must(uuid.NewV7()).String(), "spentSessions": 0, "createdAt": now},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	// a concurrent first credit for the same user may lose the upsert race once
	for attempt := 0; ; attempt++ {
		var b model.Balance
		err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&b)
		if err == nil {
			return &b, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("credit balance of %s: %w", userID, err)
		}

		cur, gerr := r.Get(ctx, userID)
		if gerr == nil && cur.HasPayment(payment.PaymentID) {
			return nil, fmt.Errorf("payment %s: %w", payment.PaymentID, repo.ErrDuplicate)
		}
		if attempt > 0 {
			return nil, fmt.Errorf("credit balance of %s: %w", userID, err)
		}
	}
}

// Debit only matches a ledger holding at least amount, so the balance never
// goes negative through this path.
func (r *BalanceRepo) Debit(ctx context.Context, userID string, amount float64, sessions int, entry model.HistoryEntry) (*model.Balance, bool, error) {
	filter := bson.M{
		"userId":        userID,
		"balanceAmount": bson.M{"$gte": amount},
	}
	update := bson.M{
		"$inc":  bson.M{"balanceAmount": -amount, "spentSessions": sessions},
		"$push": bson.M{"history": entry},
		"$set":  bson.M{"updatedAt": r.now().UTC()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var b model.Balance
	err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&b)
	if err == nil {
		return &b, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, fmt.Errorf("debit balance of %s: %w", userID, err)
	}

	cur, err := r.Get(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cur, false, nil
}

// clampPipeline pulls spentSessions down to totalSessions.
var clampPipeline = mongo.Pipeline{
	{{Key: "$set", Value: bson.M{
		"spentSessions": bson.M{"$min": bson.A{"$spentSessions", "$totalSessions"}},
	}}},
}

var overspent = bson.M{"$expr": bson.M{"$gt": bson.A{"$spentSessions", "$totalSessions"}}}

func (r *BalanceRepo) ClampUser(ctx context.Context, userID string) error {
	filter := bson.M{"userId": userID, "$expr": overspent["$expr"]}
	if _, err := r.col.UpdateOne(ctx, filter, clampPipeline); err != nil {
		return fmt.Errorf("clamp balance of %s: %w", userID, err)
	}
	return nil
}

func (r *BalanceRepo) ClampAll(ctx context.Context) (int64, error) {
	res, err := r.col.UpdateMany(ctx, overspent, clampPipeline)
	if err != nil {
		return 0, fmt.Errorf("clamp balances: %w", err)
	}
	return res.ModifiedCount, nil
}
