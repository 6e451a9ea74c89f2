package router

import (
	"github.com/gofiber/fiber/v3"

	"github.com/Alijeyrad/carebook_backend/internal/api/http/handler"
	"github.com/Alijeyrad/carebook_backend/pkg/authorize"
)

func (r *Router) registerMaintenanceRoutes(api fiber.Router, mh *handler.MaintenanceHandler, authRequired fiber.Handler, requirePerm permFunc) {
	api.Post("/admin/maintenance/:job", authRequired, requirePerm(authorize.ResourceMaintenance, authorize.ActionExecute), mh.Run)
}
