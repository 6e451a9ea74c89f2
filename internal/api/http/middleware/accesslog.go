package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
)

// AccessLog writes one slog line per request. The request id comes from the
// context through the logs handler. 5xx responses log at error
// level so they reach Loki alerts; the rest log at info.
func AccessLog(skipPaths ...string) fiber.Handler {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c fiber.Ctx) error {
		if _, ok := skip[c.Path()]; ok {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		} else if err != nil {
			status = fiber.StatusInternalServerError
		}

		attrs := []any{
			"method", c.Method(),
			"route", c.Route().Path,
			"path", c.Path(),
			"status", status,
			"took", time.Since(start),
			"ip", c.IP(),
		}
		if claims, ok := ClaimsFromFiber(c); ok {
			attrs = append(attrs, "user_id", claims.UserID, "role", claims.Role)
		}

		level := slog.LevelInfo
		if status >= fiber.StatusInternalServerError {
			level = slog.LevelError
			if err != nil {
				attrs = append(attrs, "err", err)
			}
		}
		slog.Log(c.Context(), level, "http request", attrs...)
		return err
	}
}
