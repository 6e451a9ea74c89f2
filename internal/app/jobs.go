package app

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/Alijeyrad/carebook_backend/config"
	"github.com/Alijeyrad/carebook_backend/internal/jobs"
	"github.com/Alijeyrad/carebook_backend/internal/service/appointment"
	"github.com/Alijeyrad/carebook_backend/internal/service/ledger"
	"github.com/Alijeyrad/carebook_backend/internal/service/payout"
	"github.com/Alijeyrad/carebook_backend/internal/service/recurring"
	"github.com/Alijeyrad/carebook_backend/pkg/observability"
	redispkg "github.com/Alijeyrad/carebook_backend/pkg/redis"
)

// JobsModule provides the maintenance scheduler for manual runs.
var JobsModule = fx.Module("jobs",
	fx.Provide(ProvideScheduler),
)

// SchedulerModule starts the cron loop when jobs.enabled is set.
var SchedulerModule = fx.Module("scheduler",
	fx.Invoke(RegisterScheduler),
)

func ProvideScheduler(
	cfg *config.Config,
	locker *redispkg.Locker,
	metrics *observability.EngineMetrics,
	rep *recurring.Repairer,
	led ledger.Service,
	appts appointment.Service,
	payouts payout.Service,
) *jobs.Scheduler {
	catalog := jobs.Catalog(cfg.Jobs, jobs.Deps{
		Recurring:    rep,
		Ledger:       led,
		Appointments: appts,
		Payouts:      payouts,
	})
	return jobs.NewScheduler(cfg.Jobs, jobs.NewRedisLocker(locker), metrics, catalog...)
}

func RegisterScheduler(lc fx.Lifecycle, cfg *config.Config, s *jobs.Scheduler) {
	if !cfg.Jobs.Enabled {
		slog.Info("jobs: scheduler disabled")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := s.Start(ctx); err != nil {
				return err
			}
			if cfg.Jobs.RunOnStartup {
				go func() {
					if err := s.RunAll(context.WithoutCancel(ctx)); err != nil {
						slog.Warn("jobs: startup run failed", "err", err)
					}
				}()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.Stop(ctx)
			return nil
		},
	})
}
