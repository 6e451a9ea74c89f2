package handler

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/Alijeyrad/carebook_backend/internal/model"
	"github.com/Alijeyrad/carebook_backend/internal/repo"
	"github.com/Alijeyrad/carebook_backend/internal/service/payout"
)

type PayoutHandler struct {
	svc payout.Service
}

func NewPayoutHandler(svc payout.Service) *PayoutHandler {
	return &PayoutHandler{svc: svc}
}

func mapPayoutError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, payout.ErrTherapistMissing):
		return badRequest(c, err.Error())
	case errors.Is(err, payout.ErrNothingToPay):
		return unprocessable(c, err.Error())
	case errors.Is(err, payout.ErrPayoutInProgress), errors.Is(err, repo.ErrDuplicate):
		return conflict(c, err.Error())
	case errors.Is(err, repo.ErrNotFound):
		return notFound(c, "therapist not found")
	default:
		return internalError(c)
	}
}

// therapistScope lets therapists see only their own payouts.
func therapistScope(c fiber.Ctx) (string, error) {
	actor, found := actorFromFiber(c)
	if !found {
		return "", unauthorized(c)
	}
	id := c.Params("id")
	if actor.Role == model.RoleTherapist && actor.ID != id {
		return "", forbidden(c, "payouts belong to another therapist")
	}
	return id, nil
}

// GET /therapists/:id/payouts/pending
func (h *PayoutHandler) Pending(c fiber.Ctx) error {
	id, err := therapistScope(c)
	if id == "" {
		return err
	}

	sum, err := h.svc.Pending(c.Context(), id)
	if err != nil {
		return mapPayoutError(c, err)
	}
	return ok(c, sum)
}

// GET /therapists/:id/payouts
func (h *PayoutHandler) History(c fiber.Ctx) error {
	id, err := therapistScope(c)
	if id == "" {
		return err
	}

	list, err := h.svc.History(c.Context(), id)
	if err != nil {
		return mapPayoutError(c, err)
	}
	return ok(c, list)
}

type finalizeBody struct {
	Method string `json:"method" validate:"omitempty,max=32"`
}

// POST /therapists/:id/payouts
func (h *PayoutHandler) Finalize(c fiber.Ctx) error {
	actor, found := actorFromFiber(c)
	if !found {
		return unauthorized(c)
	}

	var body finalizeBody
	if len(c.Body()) > 0 {
		if err := bindJSON(c, &body); err != nil {
			return badRequest(c, err.Error())
		}
	}

	p, err := h.svc.Finalize(c.Context(), payout.FinalizeRequest{
		TherapistID: c.Params("id"),
		Method:      body.Method,
		Actor:       actor,
	})
	if err != nil {
		return mapPayoutError(c, err)
	}
	return created(c, p)
}
