package router

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/Alijeyrad/carebook_backend/config"
	"github.com/Alijeyrad/carebook_backend/internal/api/http/handler"
	"github.com/Alijeyrad/carebook_backend/internal/api/http/middleware"
	"github.com/Alijeyrad/carebook_backend/internal/jobs"
	"github.com/Alijeyrad/carebook_backend/internal/service/appointment"
	"github.com/Alijeyrad/carebook_backend/internal/service/ledger"
	"github.com/Alijeyrad/carebook_backend/internal/service/payment"
	"github.com/Alijeyrad/carebook_backend/internal/service/payout"
	"github.com/Alijeyrad/carebook_backend/pkg/authorize"
	"github.com/Alijeyrad/carebook_backend/pkg/observability"
	pasetotoken "github.com/Alijeyrad/carebook_backend/pkg/paseto"
)

// Module provides the Router to the fx graph.
var Module = fx.Module("router", fx.Provide(NewRouter))

type Params struct {
	fx.In

	Cfg            *config.Config
	Redis          *redis.Client
	Auth           authorize.IAuthorization
	PasetoMgr      *pasetotoken.Manager
	AppointmentSvc appointment.Service
	PaymentSvc     payment.Service
	LedgerSvc      ledger.Service
	PayoutSvc      payout.Service
	Scheduler      *jobs.Scheduler
	OTel           *observability.Provider `optional:"true"`
}

type Router struct {
	p Params
}

func NewRouter(p Params) *Router {
	return &Router{p: p}
}

type permFunc func(authorize.Resource, authorize.Action) fiber.Handler

func (r *Router) Register(app *fiber.App) {
	r.registerSystemRoutes(app)

	authRequired := middleware.AuthRequired(r.p.PasetoMgr, r.p.Redis, r.p.Cfg.Authentication.RequireSession)
	requirePerm := func(res authorize.Resource, act authorize.Action) fiber.Handler {
		return middleware.RequirePermission(r.p.Auth, res, act)
	}

	api := app.Group("/api/v1")

	r.registerAppointmentRoutes(api, handler.NewAppointmentHandler(r.p.AppointmentSvc), authRequired, requirePerm)
	r.registerPaymentRoutes(api, handler.NewPaymentHandler(r.p.PaymentSvc), authRequired, requirePerm)
	r.registerBalanceRoutes(api, handler.NewBalanceHandler(r.p.LedgerSvc), authRequired, requirePerm)
	r.registerPayoutRoutes(api, handler.NewPayoutHandler(r.p.PayoutSvc), authRequired, requirePerm)
	r.registerMaintenanceRoutes(api, handler.NewMaintenanceHandler(r.p.Scheduler), authRequired, requirePerm)
}

func (r *Router) registerSystemRoutes(app *fiber.App) {
	app.Get(healthcheck.LivenessEndpoint, healthcheck.New())
	app.Get(healthcheck.ReadinessEndpoint, healthcheck.New(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			if r.p.Cfg.Authorization.HealthCheckEnabled && !authorize.IsPolicyHealthy() {
				return false
			}
			return r.p.Redis.Ping(c.Context()).Err() == nil
		},
	}))
	app.Get(healthcheck.StartupEndpoint, healthcheck.New())

	if r.p.OTel != nil && r.p.Cfg.Observability.Metrics.Enabled {
		path := r.p.Cfg.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		app.Get(path, adaptor.HTTPHandler(r.p.OTel.MetricsHandler()))
	}
}
