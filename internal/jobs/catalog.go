package jobs

import (
	"context"
	"time"

	"github.com/Alijeyrad/carebook_backend/config"
	"github.com/Alijeyrad/carebook_backend/internal/service/appointment"
	"github.com/Alijeyrad/carebook_backend/internal/service/ledger"
	"github.com/Alijeyrad/carebook_backend/internal/service/payout"
	"github.com/Alijeyrad/carebook_backend/internal/service/recurring"
)

const (
	RecurringRepair  = "recurring-repair"
	BalanceRepair    = "balance-repair"
	ExpireConfirmed  = "expire"
	PayoutRecovery   = "payout-recovery"
	ScheduledPayouts = "payout-run"
)

type Deps struct {
	Recurring    *recurring.Repairer
	Ledger       ledger.Service
	Appointments appointment.Service
	Payouts      payout.Service
}

// Catalog binds every maintenance sweep to its configured schedule.
func Catalog(cfg config.JobsConfig, d Deps) []Job {
	return []Job{
		{
			Name: RecurringRepair,
			Spec: cfg.RecurringRepair,
			Run:  func(ctx context.Context) (any, error) { return d.Recurring.Run(ctx) },
		},
		{
			Name: BalanceRepair,
			Spec: cfg.BalanceRepair,
			Run: func(ctx context.Context) (any, error) {
				n, err := d.Ledger.RepairNegative(ctx)
				return map[string]int64{"clamped": n}, err
			},
		},
		{
			Name: ExpireConfirmed,
			Spec: cfg.ExpireConfirmed,
			Run: func(ctx context.Context) (any, error) {
				return d.Appointments.ExpireStale(ctx, time.Now())
			},
		},
		{
			Name: PayoutRecovery,
			Spec: cfg.PayoutRecovery,
			Run: func(ctx context.Context) (any, error) {
				n, err := d.Payouts.Recover(ctx)
				return map[string]int{"recovered": n}, err
			},
		},
		{
			Name: ScheduledPayouts,
			Spec: cfg.ScheduledPayouts,
			Run:  func(ctx context.Context) (any, error) { return d.Payouts.RunScheduled(ctx) },
		},
	}
}
