package router

import (
	"github.com/gofiber/fiber/v3"

	"github.com/Alijeyrad/carebook_backend/internal/api/http/handler"
	"github.com/Alijeyrad/carebook_backend/pkg/authorize"
)

func (r *Router) registerPayoutRoutes(api fiber.Router, ph *handler.PayoutHandler, authRequired fiber.Handler, requirePerm permFunc) {
	p := api.Group("/therapists/:id/payouts", authRequired)

	p.Get("/pending", requirePerm(authorize.ResourcePayout, authorize.ActionRead), ph.Pending)
	p.Get("/", requirePerm(authorize.ResourcePayout, authorize.ActionRead), ph.History)
	p.Post("/", requirePerm(authorize.ResourcePayout, authorize.ActionCreate), ph.Finalize)
}
