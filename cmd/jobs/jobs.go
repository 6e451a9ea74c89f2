package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/Alijeyrad/carebook_backend/config"
	"github.com/Alijeyrad/carebook_backend/internal/app"
	"github.com/Alijeyrad/carebook_backend/internal/jobs"
	"github.com/Alijeyrad/carebook_backend/pkg/logs"
)

func NewJobsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Run maintenance sweeps once, outside the server's cron loop",
	}

	cmd.AddCommand(newRunCommand())
	cmd.AddCommand(newJobCommand(jobs.RecurringRepair, "repair-recurring", "Canonicalize recurring session lists"))
	cmd.AddCommand(newJobCommand(jobs.BalanceRepair, "repair-balances", "Clamp spent sessions down to purchased sessions"))
	cmd.AddCommand(newJobCommand(jobs.ExpireConfirmed, "expire", "Cancel confirmed appointments past the expiry grace"))
	cmd.AddCommand(newJobCommand(jobs.PayoutRecovery, "recover-payouts", "Resolve payouts stuck in processing"))
	cmd.AddCommand(newJobCommand(jobs.ScheduledPayouts, "payout-run", "Finalize payouts for every therapist with payable work"))

	return cmd
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run [job]",
		Short: "Run one named job, or every job when no name is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd, func(ctx context.Context, s *jobs.Scheduler) error {
				if len(args) == 0 {
					return s.RunAll(ctx)
				}
				return runOne(ctx, s, args[0])
			})
		},
	}
}

func newJobCommand(name, use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withScheduler(cmd, func(ctx context.Context, s *jobs.Scheduler) error {
				return runOne(ctx, s, name)
			})
		},
	}
}

func runOne(ctx context.Context, s *jobs.Scheduler, name string) error {
	res, err := s.RunNow(ctx, name)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s result: %w", name, err)
	}
	fmt.Println(string(out))
	return nil
}

// withScheduler starts the infra and service graph without the HTTP server,
// workers or cron loop, hands the scheduler to fn and shuts everything down.
func withScheduler(cmd *cobra.Command, fn func(context.Context, *jobs.Scheduler) error) error {
	cfg, err := config.FromCommand(cmd)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	logger, closeLogs := logs.New(cfg)
	defer closeLogs()
	slog.SetDefault(logger)

	var scheduler *jobs.Scheduler
	fxApp := fx.New(
		fx.Supply(cfg),
		app.InfraModule,
		app.RepoModule,
		app.ServiceModule,
		app.JobsModule,
		fx.Populate(&scheduler),
		fx.WithLogger(func() fxevent.Logger { return fxevent.NopLogger }),
	)

	startCtx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	if err := fxApp.Start(startCtx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := fxApp.Stop(stopCtx); err != nil {
			slog.Warn("jobs: shutdown failed", "err", err)
		}
	}()

	return fn(cmd.Context(), scheduler)
}
