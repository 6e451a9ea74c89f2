package database

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"

	"github.com/Alijeyrad/carebook_backend/config"
)

// NewDriver opens an ent SQL driver over the pooled Postgres connection.
func NewDriver(cfg config.DatabaseConfig) (*entsql.Driver, error) {
	return NewDriverFromConfig(FromCentralConfig(cfg))
}

func NewDriverFromConfig(cfg Config) (*entsql.Driver, error) {
	db, err := openSQLDB(cfg)
	if err != nil {
		return nil, err
	}
	return entsql.OpenDB(dialect.Postgres, db), nil
}

// Migrate creates or alters tables. SafeMode never drops columns or indexes.
func Migrate(ctx context.Context, drv dialect.Driver, cfg Config, tables ...*schema.Table) error {
	m, err := schema.NewMigrate(drv,
		schema.WithDropColumn(!cfg.SafeMode),
		schema.WithDropIndex(!cfg.SafeMode),
		schema.WithForeignKeys(true),
	)
	if err != nil {
		return fmt.Errorf("failed to prepare migration: %w", err)
	}
	if err := m.Create(ctx, tables...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
