package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/Alijeyrad/carebook_backend/internal/model"
	"github.com/Alijeyrad/carebook_backend/internal/repo"
	"github.com/Alijeyrad/carebook_backend/internal/service/appointment"
	"github.com/Alijeyrad/carebook_backend/internal/service/ledger"
	"github.com/Alijeyrad/carebook_backend/internal/service/reconcile"
	"github.com/Alijeyrad/carebook_backend/internal/service/status"
)

type AppointmentHandler struct {
	svc appointment.Service
}

func NewAppointmentHandler(svc appointment.Service) *AppointmentHandler {
	return &AppointmentHandler{svc: svc}
}

func mapAppointmentError(c fiber.Ctx, err error) error {
	var invalid *status.InvalidTransitionError
	var short *ledger.InsufficientBalanceError

	switch {
	case errors.As(err, &invalid):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":     err.Error(),
			"current":   invalid.From,
			"attempted": invalid.Attempted,
			"allowed":   invalid.Allowed,
		})
	case errors.As(err, &short):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"error":     err.Error(),
			"requested": short.Requested,
			"available": short.Available,
		})
	case errors.Is(err, appointment.ErrNotFound), errors.Is(err, appointment.ErrSessionNotFound):
		return notFound(c, err.Error())
	case errors.Is(err, appointment.ErrNotOwner), errors.Is(err, appointment.ErrForbidden):
		return forbidden(c, err.Error())
	case errors.Is(err, status.ErrReasonRequired),
		errors.Is(err, status.ErrUnknownStatus),
		errors.Is(err, status.ErrUnknownRole),
		errors.Is(err, appointment.ErrTherapistRequired),
		errors.Is(err, appointment.ErrInvalidDate):
		return badRequest(c, err.Error())
	case errors.Is(err, appointment.ErrUnpaid):
		return paymentRequired(c, err.Error())
	case errors.Is(err, appointment.ErrNotActive),
		errors.Is(err, appointment.ErrSessionCompleted),
		errors.Is(err, repo.ErrConflict):
		return conflict(c, err.Error())
	case errors.Is(err, reconcile.ErrPaymentVerification):
		return unavailable(c, "payment provider unavailable, try again")
	case errors.Is(err, appointment.ErrRefundFailed):
		return fail(c, fiber.StatusBadGateway, err.Error())
	default:
		return internalError(c)
	}
}

// GET /appointments/:id
func (h *AppointmentHandler) Get(c fiber.Ctx) error {
	actor, found := actorFromFiber(c)
	if !found {
		return unauthorized(c)
	}

	view, err := h.svc.Get(c.Context(), c.Params("id"), actor)
	if err != nil {
		return mapAppointmentError(c, err)
	}
	return ok(c, view)
}

// GET /appointments/:id/payment
func (h *AppointmentHandler) PaymentState(c fiber.Ctx) error {
	actor, found := actorFromFiber(c)
	if !found {
		return unauthorized(c)
	}

	view, err := h.svc.Get(c.Context(), c.Params("id"), actor)
	if err != nil {
		return mapAppointmentError(c, err)
	}
	return ok(c, view.PaymentState)
}

type transitionBody struct {
	Status string           `json:"status" validate:"required"`
	Reason string           `json:"reason" validate:"max=1000"`
	Meta   appointment.Meta `json:"meta"`
}

// POST /appointments/:id/transitions
func (h *AppointmentHandler) Transition(c fiber.Ctx) error {
	actor, found := actorFromFiber(c)
	if !found {
		return unauthorized(c)
	}

	var body transitionBody
	if err := bindJSON(c, &body); err != nil {
		return badRequest(c, err.Error())
	}

	appt, err := h.svc.Transition(c.Context(), appointment.TransitionRequest{
		AppointmentID: c.Params("id"),
		TargetStatus:  model.Status(body.Status),
		Actor:         actor,
		Reason:        body.Reason,
		Meta:          body.Meta,
	})
	if err != nil {
		return mapAppointmentError(c, err)
	}
	return ok(c, appt)
}

type rescheduleBody struct {
	Date         time.Time `json:"date" validate:"required"`
	SessionIndex *int      `json:"sessionIndex" validate:"omitempty,gte=0"`
	Reason       string    `json:"reason" validate:"max=1000"`
}

// POST /appointments/:id/reschedule
func (h *AppointmentHandler) Reschedule(c fiber.Ctx) error {
	actor, found := actorFromFiber(c)
	if !found {
		return unauthorized(c)
	}

	var body rescheduleBody
	if err := bindJSON(c, &body); err != nil {
		return badRequest(c, err.Error())
	}

	appt, err := h.svc.Reschedule(c.Context(), appointment.RescheduleRequest{
		AppointmentID: c.Params("id"),
		Actor:         actor,
		Date:          body.Date,
		SessionIndex:  body.SessionIndex,
		Reason:        body.Reason,
	})
	if err != nil {
		return mapAppointmentError(c, err)
	}
	return ok(c, appt)
}

// POST /appointments/:id/sessions/:index/complete
func (h *AppointmentHandler) CompleteSession(c fiber.Ctx) error {
	actor, found := actorFromFiber(c)
	if !found {
		return unauthorized(c)
	}

	index, err := strconv.Atoi(c.Params("index"))
	if err != nil || index < 0 {
		return badRequest(c, "invalid session index")
	}

	appt, err := h.svc.CompleteSession(c.Context(), appointment.CompleteSessionRequest{
		AppointmentID: c.Params("id"),
		Index:         index,
		Actor:         actor,
	})
	if err != nil {
		return mapAppointmentError(c, err)
	}
	return ok(c, appt)
}

type markPaidBody struct {
	Indexes []int `json:"indexes" validate:"dive,gte=0"`
}

// POST /appointments/:id/sessions/mark-paid
func (h *AppointmentHandler) MarkSessionsPaid(c fiber.Ctx) error {
	actor, found := actorFromFiber(c)
	if !found {
		return unauthorized(c)
	}

	var body markPaidBody
	if len(c.Body()) > 0 {
		if err := bindJSON(c, &body); err != nil {
			return badRequest(c, err.Error())
		}
	}

	appt, err := h.svc.MarkSessionsPaid(c.Context(), appointment.MarkPaidRequest{
		AppointmentID: c.Params("id"),
		Indexes:       body.Indexes,
		Actor:         actor,
	})
	if err != nil {
		return mapAppointmentError(c, err)
	}
	return ok(c, appt)
}
