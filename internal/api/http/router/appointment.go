package router

import (
	"github.com/gofiber/fiber/v3"

	"github.com/Alijeyrad/carebook_backend/internal/api/http/handler"
	"github.com/Alijeyrad/carebook_backend/pkg/authorize"
)

func (r *Router) registerAppointmentRoutes(api fiber.Router, ah *handler.AppointmentHandler, authRequired fiber.Handler, requirePerm permFunc) {
	a := api.Group("/appointments/:id", authRequired)

	read := requirePerm(authorize.ResourceAppointment, authorize.ActionRead)
	update := requirePerm(authorize.ResourceAppointment, authorize.ActionUpdate)

	a.Get("/", read, ah.Get)
	a.Get("/payment", read, ah.PaymentState)
	a.Post("/transitions", update, ah.Transition)
	a.Post("/reschedule", update, ah.Reschedule)
	a.Post("/sessions/mark-paid", requirePerm(authorize.ResourceAppointment, authorize.ActionManage), ah.MarkSessionsPaid)
	a.Post("/sessions/:index/complete", update, ah.CompleteSession)
}
