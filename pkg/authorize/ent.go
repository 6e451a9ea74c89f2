package authorize

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	psqlwatcher "github.com/IguteChung/casbin-psql-watcher"
	casbin "github.com/casbin/casbin/v2"
	entadapter "github.com/casbin/ent-adapter"
)

const watcherChannel = "carebook_casbin_policy_update"

// policyLoadHealthy is false after a watcher-triggered reload failed.
var policyLoadHealthy atomic.Bool

func init() {
	policyLoadHealthy.Store(true)
}

func IsPolicyHealthy() bool {
	return policyLoadHealthy.Load()
}

// CleanupFunc releases the policy watcher. It is a no-op without sync.
type CleanupFunc func(ctx context.Context)

// NewEnforcer creates a DistributedEnforcer persisting policies in Postgres
// through the ent adapter. With sync enabled a psql watcher reloads the
// policy whenever another replica changes it.
func NewEnforcer(cfg Config, dsn string) (*casbin.DistributedEnforcer, CleanupFunc, error) {
	a, err := entadapter.NewAdapter("postgres", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("casbin ent adapter: %w", err)
	}

	e, err := casbin.NewDistributedEnforcer(cfg.CasbinModelPath, a)
	if err != nil {
		return nil, nil, fmt.Errorf("casbin enforcer from %s: %w", cfg.CasbinModelPath, err)
	}
	e.EnableAutoSave(true)
	e.EnableEnforce(true)

	if !cfg.PolicySyncEnabled {
		return e, func(context.Context) {}, nil
	}

	w, err := psqlwatcher.NewWatcherWithConnString(context.Background(), dsn, psqlwatcher.Option{
		Channel: watcherChannel,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("casbin policy watcher: %w", err)
	}

	err = w.SetUpdateCallback(func(msg string) {
		slog.Debug("authorize: policy update received", "message", msg)
		if err := e.LoadPolicy(); err != nil {
			slog.Error("authorize: policy reload failed", "err", err)
			policyLoadHealthy.Store(false)
			return
		}
		policyLoadHealthy.Store(true)
	})
	if err != nil {
		w.Close()
		return nil, nil, err
	}

	if err := e.SetWatcher(w); err != nil {
		w.Close()
		return nil, nil, err
	}

	cleanup := func(context.Context) {
		slog.Info("authorize: closing policy watcher")
		w.Close()
	}

	return e, cleanup, nil
}
