package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/lib/pq"

	"github.com/Alijeyrad/carebook_backend/config"
)

const (
	maintenanceDB     = "postgres"
	pqDuplicateDBCode = "42P04"
)

// InitializeDatabases creates every database from DatabaseNames through the
// server's maintenance database. Existing databases are left alone.
func InitializeDatabases(ctx context.Context, cfg *config.Config) error {
	names := DatabaseNames(cfg)
	if len(names) == 0 {
		return errors.New("no database names configured")
	}

	admin := FromCentralConfig(cfg.Database)
	admin.DBName = maintenanceDB
	conn, err := openSQLDB(admin)
	if err != nil {
		return err
	}
	defer conn.Close()

	for _, name := range names {
		created, err := ensureDatabase(ctx, conn, name)
		if err != nil {
			return fmt.Errorf("database %q: %w", name, err)
		}
		slog.Info("database ready", "name", name, "created", created)
	}
	return nil
}

func ensureDatabase(ctx context.Context, conn *sql.DB, name string) (bool, error) {
	var exists bool
	err := conn.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup: %w", err)
	}
	if exists {
		return false, nil
	}

	// CREATE DATABASE takes no bind parameters.
	_, err = conn.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(name))
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqDuplicateDBCode {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create: %w", err)
	}
	return true, nil
}

// DatabaseNames is server.databases when set, else the payout and casbin
// database names without duplicates.
func DatabaseNames(cfg *config.Config) []string {
	if len(cfg.Server.Databases) > 0 {
		return cfg.Server.Databases
	}
	var out []string
	for _, n := range []string{cfg.Database.DBName, cfg.CasbinDatabase.DBName} {
		if n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}
