package router

import (
	"github.com/gofiber/fiber/v3"

	"github.com/Alijeyrad/carebook_backend/internal/api/http/handler"
	"github.com/Alijeyrad/carebook_backend/pkg/authorize"
)

func (r *Router) registerPaymentRoutes(api fiber.Router, ph *handler.PaymentHandler, authRequired fiber.Handler, requirePerm permFunc) {
	// Public: authenticated by the provider signature
	api.Post("/webhooks/stripe", ph.StripeWebhook)

	api.Post("/payments/verify", authRequired, requirePerm(authorize.ResourcePayment, authorize.ActionRead), ph.Verify)
}
