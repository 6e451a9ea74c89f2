package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"

	pasetotoken "github.com/Alijeyrad/carebook_backend/pkg/paseto"
	"github.com/Alijeyrad/carebook_backend/pkg/reqctx"
)

const LocalsClaims = "auth.claims"

// SessionKey is the Redis key whose presence keeps a token session alive.
func SessionKey(sessionID string) string { return "session:" + sessionID }

// AuthRequired validates a Bearer PASETO access token and, when the token
// names a session, checks that the session still exists in Redis. With
// requireSession set, tokens without a session are rejected.
func AuthRequired(mgr *pasetotoken.Manager, rdb *redis.Client, requireSession bool) fiber.Handler {
	return func(c fiber.Ctx) error {
		h := c.Get("Authorization")
		if h == "" {
			return fiber.ErrUnauthorized
		}

		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return fiber.ErrUnauthorized
		}

		claims, err := mgr.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			return fiber.ErrUnauthorized
		}
		if claims.Type != pasetotoken.TokenTypeAccess {
			return fiber.ErrUnauthorized
		}

		switch {
		case claims.SessionID != nil:
			if err := rdb.Get(c.Context(), SessionKey(claims.SessionID.String())).Err(); err != nil {
				return fiber.ErrUnauthorized
			}
		case requireSession:
			return fiber.ErrUnauthorized
		}

		c.Locals(LocalsClaims, claims)
		c.SetContext(reqctx.WithClaims(c.Context(), claims))
		return c.Next()
	}
}

func ClaimsFromFiber(c fiber.Ctx) (*pasetotoken.Claims, bool) {
	cl, ok := c.Locals(LocalsClaims).(*pasetotoken.Claims)
	return cl, ok && cl != nil
}
