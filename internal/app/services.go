package app

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/Alijeyrad/carebook_backend/config"
	"github.com/Alijeyrad/carebook_backend/internal/events"
	mongorepo "github.com/Alijeyrad/carebook_backend/internal/repo/mongo"
	"github.com/Alijeyrad/carebook_backend/internal/repo/postgres"
	"github.com/Alijeyrad/carebook_backend/internal/service/appointment"
	"github.com/Alijeyrad/carebook_backend/internal/service/ledger"
	"github.com/Alijeyrad/carebook_backend/internal/service/notification"
	"github.com/Alijeyrad/carebook_backend/internal/service/payment"
	"github.com/Alijeyrad/carebook_backend/internal/service/payout"
	"github.com/Alijeyrad/carebook_backend/internal/service/reconcile"
	"github.com/Alijeyrad/carebook_backend/internal/service/recurring"
	"github.com/Alijeyrad/carebook_backend/pkg/email"
	"github.com/Alijeyrad/carebook_backend/pkg/observability"
	pasetotoken "github.com/Alijeyrad/carebook_backend/pkg/paseto"
	redispkg "github.com/Alijeyrad/carebook_backend/pkg/redis"
	"github.com/Alijeyrad/carebook_backend/pkg/sms"
	stripepkg "github.com/Alijeyrad/carebook_backend/pkg/stripe"
)

// RepoModule provides the mongo and postgres stores.
var RepoModule = fx.Module("repos",
	fx.Provide(
		mongorepo.NewAppointmentRepo,
		mongorepo.NewBalanceRepo,
		mongorepo.NewTherapistRepo,
		mongorepo.NewUserRepo,
		postgres.NewPayoutRepo,
	),
)

// ServiceModule provides all application service dependencies.
var ServiceModule = fx.Module("services",
	fx.Provide(
		ProvideReconciler,
		ProvideLedgerService,
		ProvideAppointmentService,
		ProvidePaymentService,
		ProvidePayoutService,
		ProvideRecurringRepairer,
		ProvideNotificationService,
		ProvidePasetoManager,
	),
)

func ProvideReconciler(cfg *config.Config, client *stripepkg.Client, rdb *redis.Client, metrics *observability.EngineMetrics) reconcile.Service {
	cache := reconcile.NewRedisCache(rdb, cfg.Billing.VerificationCacheTTL())
	return reconcile.New(client, cache, cfg.Billing.ProviderTimeout(), metrics)
}

func ProvideLedgerService(cfg *config.Config, balances *mongorepo.BalanceRepo, metrics *observability.EngineMetrics) ledger.Service {
	return ledger.New(balances, cfg.Billing.Currency, metrics)
}

func ProvideAppointmentService(
	cfg *config.Config,
	appts *mongorepo.AppointmentRepo,
	therapists *mongorepo.TherapistRepo,
	rec reconcile.Service,
	led ledger.Service,
	pub events.Publisher,
	metrics *observability.EngineMetrics,
) appointment.Service {
	return appointment.New(appointment.Deps{
		Store:      appts,
		Therapists: therapists,
		Reconciler: rec,
		Ledger:     led,
		Publisher:  pub,
		Billing:    cfg.Billing,
		Metrics:    metrics,
	})
}

func ProvidePaymentService(
	cfg *config.Config,
	client *stripepkg.Client,
	appts *mongorepo.AppointmentRepo,
	apptSvc appointment.Service,
	led ledger.Service,
	rec reconcile.Service,
	pub events.Publisher,
) payment.Service {
	return payment.New(payment.Deps{
		Parser:       client,
		Store:        appts,
		Appointments: apptSvc,
		Ledger:       led,
		Reconciler:   rec,
		Publisher:    pub,
		Currency:     cfg.Billing.Currency,
	})
}

func ProvidePayoutService(
	cfg *config.Config,
	appts *mongorepo.AppointmentRepo,
	therapists *mongorepo.TherapistRepo,
	payouts *postgres.PayoutRepo,
	rec reconcile.Service,
	locker *redispkg.Locker,
	pub events.Publisher,
	metrics *observability.EngineMetrics,
) payout.Service {
	return payout.New(payout.Deps{
		Appointments: appts,
		Therapists:   therapists,
		Payments:     payouts,
		Reconciler:   rec,
		Locker:       payout.NewRedisLocker(locker),
		Publisher:    pub,
		Billing:      cfg.Billing,
		Metrics:      metrics,
	})
}

func ProvideRecurringRepairer(appts *mongorepo.AppointmentRepo, metrics *observability.EngineMetrics) *recurring.Repairer {
	return recurring.NewRepairer(appts, metrics)
}

func ProvideNotificationService(cfg *config.Config, users *mongorepo.UserRepo, mailer *email.Client, texter *sms.Client) notification.Service {
	return notification.New(notification.Deps{
		Users:  users,
		Mailer: mailer,
		Texter: texter,
		Templates: notification.Templates{
			Status: cfg.SMS.SMSIR.StatusTemplateID,
			Refund: cfg.SMS.SMSIR.RefundTemplateID,
			Payout: cfg.SMS.SMSIR.PayoutTemplateID,
		},
		AppName:  cfg.Email.AppName,
		BaseURL:  cfg.Email.BaseURL,
		Currency: cfg.Billing.Currency,
	})
}

func ProvidePasetoManager(cfg *config.Config) (*pasetotoken.Manager, error) {
	return pasetotoken.NewPasetoManager(cfg)
}
