package router

import (
	"github.com/gofiber/fiber/v3"

	"github.com/Alijeyrad/carebook_backend/internal/api/http/handler"
	"github.com/Alijeyrad/carebook_backend/pkg/authorize"
)

func (r *Router) registerBalanceRoutes(api fiber.Router, bh *handler.BalanceHandler, authRequired fiber.Handler, requirePerm permFunc) {
	b := api.Group("/balances", authRequired)

	b.Get("/me", requirePerm(authorize.ResourceBalance, authorize.ActionRead), bh.Me)
	b.Get("/:userId", requirePerm(authorize.ResourceBalance, authorize.ActionManage), bh.Get)
	b.Post("/:userId/mutations", requirePerm(authorize.ResourceBalance, authorize.ActionUpdate), bh.Mutate)
}
