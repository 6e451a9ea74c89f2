package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/Alijeyrad/carebook_backend/internal/api/http/middleware"
	"github.com/Alijeyrad/carebook_backend/internal/model"
)

var validate = validator.New()

func ok(c fiber.Ctx, data any) error {
	return c.JSON(fiber.Map{"data": data})
}

func created(c fiber.Ctx, data any) error {
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": data})
}

func fail(c fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func badRequest(c fiber.Ctx, msg string) error {
	return fail(c, fiber.StatusBadRequest, msg)
}

func unauthorized(c fiber.Ctx) error {
	return fail(c, fiber.StatusUnauthorized, "unauthorized")
}

func forbidden(c fiber.Ctx, msg string) error {
	return fail(c, fiber.StatusForbidden, msg)
}

func notFound(c fiber.Ctx, msg string) error {
	return fail(c, fiber.StatusNotFound, msg)
}

func conflict(c fiber.Ctx, msg string) error {
	return fail(c, fiber.StatusConflict, msg)
}

func unprocessable(c fiber.Ctx, msg string) error {
	return fail(c, fiber.StatusUnprocessableEntity, msg)
}

func paymentRequired(c fiber.Ctx, msg string) error {
	return fail(c, fiber.StatusPaymentRequired, msg)
}

func unavailable(c fiber.Ctx, msg string) error {
	return fail(c, fiber.StatusServiceUnavailable, msg)
}

func internalError(c fiber.Ctx) error {
	return fail(c, fiber.StatusInternalServerError, "internal server error")
}

var errInvalidBody = errors.New("invalid request body")

// bindJSON decodes the body into dst and runs its validate tags. The error
// is safe to show to the caller.
func bindJSON(c fiber.Ctx, dst any) error {
	if err := c.Bind().JSON(dst); err != nil {
		return errInvalidBody
	}
	return validate.Struct(dst)
}

// actorFromFiber builds the acting principal from the verified token.
func actorFromFiber(c fiber.Ctx) (model.Actor, bool) {
	claims, ok := middleware.ClaimsFromFiber(c)
	if !ok || claims.UserID == "" {
		return model.Actor{}, false
	}
	role := model.Role(claims.Role)
	if !role.Valid() {
		return model.Actor{}, false
	}
	return model.Actor{ID: claims.UserID, Role: role}, true
}
