package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

const pingTimeout = 5 * time.Second

func buildDSN(host string, port int, user, password, dbname, sslmode string) string {
	pairs := []struct{ k, v string }{
		{"host", host},
		{"port", fmt.Sprint(port)},
		{"user", user},
		{"password", password},
		{"dbname", dbname},
		{"sslmode", sslmode},
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.k+"="+dsnValue(p.v))
	}
	return strings.Join(parts, " ")
}

// dsnValue quotes values lib/pq would otherwise split, e.g. passwords with spaces.
func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

func openSQLDB(cfg Config) (*sql.DB, error) {
	connector, err := pq.NewConnector(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn for %q: %w", cfg.DBName, err)
	}
	db := sql.OpenDB(connector)

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime())

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database %q: %w", cfg.DBName, err)
	}
	return db, nil
}
