package system

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Alijeyrad/carebook_backend/config"
	"github.com/Alijeyrad/carebook_backend/internal/repo/postgres"
	"github.com/Alijeyrad/carebook_backend/pkg/authorize"
	"github.com/Alijeyrad/carebook_backend/pkg/database"
	mongodb "github.com/Alijeyrad/carebook_backend/pkg/mongo"
)

func NewMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create payout tables, mongo indexes and default policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromCommand(cmd)
			if err != nil {
				return fmt.Errorf("failed to read config: %w", err)
			}

			timeout := time.Duration(cfg.Server.TimeoutSeconds) * time.Second
			if timeout <= 0 {
				timeout = time.Minute
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			// payout db
			fmt.Println("Running Migrations For Payout DB.")
			drv, err := database.NewDriver(cfg.Database)
			if err != nil {
				return fmt.Errorf("failed to open payout db: %w", err)
			}
			defer drv.Close()

			if err := database.Migrate(ctx, drv, database.FromCentralConfig(cfg.Database), postgres.Tables...); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			// document store
			fmt.Println("Ensuring Mongo Indexes.")
			client, err := mongodb.Connect(ctx, cfg.Mongo)
			if err != nil {
				return fmt.Errorf("failed to connect to mongo: %w", err)
			}
			defer func() { _ = client.Disconnect(context.Background()) }()

			if err := mongodb.EnsureIndexes(ctx, client.Database(cfg.Mongo.Database)); err != nil {
				return fmt.Errorf("failed to ensure indexes: %w", err)
			}

			// casbin db
			fmt.Println("Running Migrations For Casbin DB.")
			enforcer, cleanup, err := authorize.NewEnforcer(authorize.FromCentralConfig(cfg.Authorization), database.NewDSN(cfg.CasbinDatabase))
			if err != nil {
				return fmt.Errorf("failed to create enforcer: %w", err)
			}
			defer cleanup(context.Background())

			auth, err := authorize.NewAuthorization(enforcer)
			if err != nil {
				return fmt.Errorf("failed to create authorization: %w", err)
			}

			slog.Info("Seeding Casbin policies...")
			if err := authorize.SeedDefaultPolicies(ctx, auth); err != nil {
				return fmt.Errorf("failed to seed policies: %w", err)
			}

			fmt.Println("Migrations executed successfully.")
			return nil
		},
	}

	return cmd
}
