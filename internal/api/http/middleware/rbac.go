package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/Alijeyrad/carebook_backend/pkg/authorize"
)

// RequirePermission checks the caller's role against the casbin policy in
// the sys domain.
func RequirePermission(auth authorize.IAuthorization, resource authorize.Resource, action authorize.Action) fiber.Handler {
	return func(c fiber.Ctx) error {
		claims, ok := ClaimsFromFiber(c)
		if !ok {
			return fiber.ErrUnauthorized
		}

		err := auth.MustEnforce(c.Context(), authorize.Role(claims.Role), authorize.DomainSys, resource, action)
		switch {
		case err == nil:
			return c.Next()
		case errors.Is(err, authorize.ErrForbidden), errors.Is(err, authorize.ErrInvalidArgs):
			return fiber.ErrForbidden
		default:
			return err
		}
	}
}
