package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/Alijeyrad/carebook_backend/config"
	"github.com/Alijeyrad/carebook_backend/internal/api/http/middleware"
	"github.com/Alijeyrad/carebook_backend/internal/api/http/router"
	"github.com/Alijeyrad/carebook_backend/pkg/observability"
)

const defaultServerTimeout = 30 * time.Second

var Module = fx.Module("http", fx.Provide(NewServer))

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Cfg       *config.Config
	Redis     *redis.Client
	Router    *router.Router
	OTel      *observability.Provider `optional:"true"`
}

func NewServer(p Params) *fiber.App {
	timeout := serverTimeout(p.Cfg.Server)
	app := fiber.New(fiber.Config{
		AppName:      p.Cfg.Observability.ServiceName,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		ErrorHandler: jsonErrorHandler,
	})

	quiet := []string{
		healthcheck.LivenessEndpoint,
		healthcheck.ReadinessEndpoint,
		healthcheck.StartupEndpoint,
		p.Cfg.Observability.Metrics.Path,
	}
	if p.OTel != nil {
		app.Use(observability.FiberMiddleware(quiet...))
	}
	app.Use(middleware.RequestID())
	app.Use(recoverer.New(recoverer.Config{EnableStackTrace: p.Cfg.Server.Environment != "production"}))
	app.Use(middleware.AccessLog(quiet...))

	if p.Cfg.Server.Environment == "production" {
		app.Use(helmet.New())
		if p.Cfg.Server.CORS.Enabled {
			app.Use(cors.New(cors.Config{AllowOrigins: p.Cfg.Server.CORS.AllowOrigins}))
		}
		app.Use(middleware.NewLimiterWithRedis(p.Redis, p.Cfg.Server.RateLimit))
	}

	p.Router.Register(app)

	addr := fmt.Sprintf(":%d", p.Cfg.Server.Port)
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
					slog.Error("HTTP server stopped", "addr", addr, "err", err)
				}
			}()
			slog.Info("HTTP server listening", "addr", addr, "env", p.Cfg.Server.Environment)
			return nil
		},
		OnStop: app.ShutdownWithContext,
	})

	return app
}

// jsonErrorHandler keeps errors that escape handlers in the same
// {"error": "..."} shape the handlers write themselves.
func jsonErrorHandler(c fiber.Ctx, err error) error {
	code, msg := fiber.StatusInternalServerError, "internal server error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code, msg = fe.Code, fe.Message
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

func serverTimeout(cfg config.ServerConfig) time.Duration {
	if cfg.TimeoutSeconds <= 0 {
		return defaultServerTimeout
	}
	return time.Duration(cfg.TimeoutSeconds) * time.Second
}
