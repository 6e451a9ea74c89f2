package app

import (
	"context"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/fx"

	"github.com/Alijeyrad/carebook_backend/config"
	"github.com/Alijeyrad/carebook_backend/internal/events"
	"github.com/Alijeyrad/carebook_backend/internal/repo/postgres"
	"github.com/Alijeyrad/carebook_backend/pkg/authorize"
	"github.com/Alijeyrad/carebook_backend/pkg/database"
	"github.com/Alijeyrad/carebook_backend/pkg/email"
	mongodb "github.com/Alijeyrad/carebook_backend/pkg/mongo"
	"github.com/Alijeyrad/carebook_backend/pkg/observability"
	redispkg "github.com/Alijeyrad/carebook_backend/pkg/redis"
	"github.com/Alijeyrad/carebook_backend/pkg/sms"
	stripepkg "github.com/Alijeyrad/carebook_backend/pkg/stripe"
)

// InfraModule provides all infrastructure dependencies.
var InfraModule = fx.Module("infra",
	fx.Provide(ProvideMongoClient),
	fx.Provide(ProvideMongoDatabase),
	fx.Provide(ProvideEntDriver),
	fx.Provide(ProvideRedis),
	fx.Provide(ProvideLocker),
	fx.Provide(ProvideAuthorization),
	fx.Provide(ProvideEmailClient),
	fx.Provide(ProvideSMSClient),
	fx.Provide(ProvideStripeClient),
	fx.Provide(ProvideOTel),
	fx.Provide(ProvideEngineMetrics),
	fx.Provide(ProvideNatsClient),
	fx.Provide(ProvidePublisher),
)

func ProvideMongoClient(lc fx.Lifecycle, cfg *config.Config) (*mongo.Client, error) {
	client, err := mongodb.Connect(context.Background(), cfg.Mongo)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			slog.Debug("closing mongo connection")
			return client.Disconnect(ctx)
		},
	})
	return client, nil
}

func ProvideMongoDatabase(lc fx.Lifecycle, client *mongo.Client, cfg *config.Config) *mongo.Database {
	db := client.Database(cfg.Mongo.Database)
	if cfg.Mongo.EnsureIndexes {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return mongodb.EnsureIndexes(ctx, db)
			},
		})
	}
	return db
}

// ProvideEntDriver opens the postgres payout store and auto-migrates it when enabled.
func ProvideEntDriver(lc fx.Lifecycle, cfg *config.Config) (*entsql.Driver, error) {
	drv, err := database.NewDriver(cfg.Database)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			dbCfg := database.FromCentralConfig(cfg.Database)
			if !dbCfg.AutoMigrate {
				return nil
			}
			return database.Migrate(ctx, drv, dbCfg, postgres.Tables...)
		},
		OnStop: func(ctx context.Context) error {
			slog.Debug("closing main database connection")
			return drv.Close()
		},
	})
	return drv, nil
}

func ProvideRedis(lc fx.Lifecycle, cfg *config.Config) (*redis.Client, error) {
	rdb, err := redispkg.NewRedisFromCentral(cfg.Redis)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			slog.Debug("closing Redis connection")
			return rdb.Close()
		},
	})
	return rdb, nil
}

func ProvideLocker(rdb *redis.Client) *redispkg.Locker {
	return redispkg.NewLocker(rdb)
}

func ProvideAuthorization(lc fx.Lifecycle, cfg *config.Config) (authorize.IAuthorization, error) {
	dsn := database.NewDSN(cfg.CasbinDatabase)
	enforcer, cleanup, err := authorize.NewEnforcer(authorize.FromCentralConfig(cfg.Authorization), dsn)
	if err != nil {
		return nil, err
	}
	auth, err := authorize.NewAuthorization(enforcer)
	if err != nil {
		cleanup(context.Background())
		return nil, err
	}
	if cfg.Authorization.EnableAudit {
		auth = authorize.NewAuditedAuthorization(auth, slog.Default())
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			slog.Debug("cleaning up Casbin enforcer")
			cleanup(ctx)
			return nil
		},
	})
	return auth, nil
}

func ProvideEmailClient(cfg *config.Config) (*email.Client, error) {
	return email.NewFromCentral(cfg.Email)
}

func ProvideSMSClient(cfg *config.Config) (*sms.Client, error) {
	return sms.NewFromConfig(cfg.SMS)
}

func ProvideStripeClient(cfg *config.Config) *stripepkg.Client {
	return stripepkg.New(cfg.Stripe, cfg.Billing.ProviderTimeout())
}

func ProvideNatsClient(lc fx.Lifecycle, cfg *config.Config) (*nats.Conn, error) {
	nc, err := nats.Connect(cfg.Nats.URL, nats.Name(cfg.Observability.ServiceName))
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			slog.Debug("draining NATS connection")
			return nc.Drain()
		},
	})
	return nc, nil
}

func ProvidePublisher(nc *nats.Conn) events.Publisher {
	return events.NewNatsPublisher(nc)
}

func ProvideOTel(lc fx.Lifecycle, cfg *config.Config) (*observability.Provider, error) {
	if !cfg.Observability.Enabled {
		return nil, nil
	}
	provider, err := observability.InitTelemetry(context.Background(), observability.FromCentralConfig(cfg))
	if err != nil {
		return nil, err
	}
	slog.Info("observability initialized",
		"tracing", cfg.Observability.Tracing.Enabled,
		"metrics", cfg.Observability.Metrics.Enabled,
	)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			slog.Debug("shutting down observability providers")
			return provider.Shutdown(ctx)
		},
	})
	return provider, nil
}

// ProvideEngineMetrics takes the provider so the counters bind to its meter.
func ProvideEngineMetrics(_ *observability.Provider) (*observability.EngineMetrics, error) {
	return observability.NewEngineMetrics()
}
