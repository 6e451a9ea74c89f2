// Package mongo opens the document store and declares its indexes.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/Alijeyrad/carebook_backend/config"
)

const (
	CollectionAppointments = "appointments"
	CollectionBalances     = "balances"
	CollectionTherapists   = "therapists"
	CollectionUsers        = "users"
)

// Connect dials and pings the cluster.
func Connect(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, error) {
	timeout := time.Duration(cfg.ConnectTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return client, nil
}

// Indexes lists every index the repositories rely on, per collection.
func Indexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		CollectionBalances: {
			{
				Keys:    bson.D{{Key: "userId", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_user"),
			},
			{
				Keys: bson.D{{Key: "payments.paymentId", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetName("uniq_payment_ref").
					SetPartialFilterExpression(bson.M{"payments.paymentId": bson.M{"$exists": true}}),
			},
		},
		CollectionAppointments: {
			{
				Keys:    bson.D{{Key: "status", Value: 1}, {Key: "date", Value: 1}},
				Options: options.Index().SetName("status_date"),
			},
			{
				Keys:    bson.D{{Key: "therapistId", Value: 1}, {Key: "status", Value: 1}, {Key: "therapistPaid", Value: 1}},
				Options: options.Index().SetName("therapist_payable"),
			},
			{
				Keys:    bson.D{{Key: "patientId", Value: 1}},
				Options: options.Index().SetName("patient"),
			},
		},
	}
}

// EnsureIndexes is idempotent; existing indexes with the same spec are kept.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	for coll, models := range Indexes() {
		if _, err := db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}
