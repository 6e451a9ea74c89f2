package handler

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/Alijeyrad/carebook_backend/internal/model"
	"github.com/Alijeyrad/carebook_backend/internal/repo"
	"github.com/Alijeyrad/carebook_backend/internal/service/ledger"
)

type BalanceHandler struct {
	svc ledger.Service
}

func NewBalanceHandler(svc ledger.Service) *BalanceHandler {
	return &BalanceHandler{svc: svc}
}

func mapBalanceError(c fiber.Ctx, err error) error {
	var short *ledger.InsufficientBalanceError
	switch {
	case errors.As(err, &short):
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
			"error":     err.Error(),
			"requested": short.Requested,
			"available": short.Available,
		})
	case errors.Is(err, ledger.ErrPaymentRefRequired),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidAction),
		errors.Is(err, ledger.ErrUserRequired):
		return badRequest(c, err.Error())
	case errors.Is(err, repo.ErrDuplicate):
		return conflict(c, "payment reference already applied")
	default:
		return internalError(c)
	}
}

// GET /balances/me
func (h *BalanceHandler) Me(c fiber.Ctx) error {
	actor, found := actorFromFiber(c)
	if !found {
		return unauthorized(c)
	}

	b, err := h.svc.Get(c.Context(), actor.ID)
	if err != nil {
		return mapBalanceError(c, err)
	}
	return ok(c, b)
}

// GET /balances/:userId
func (h *BalanceHandler) Get(c fiber.Ctx) error {
	b, err := h.svc.Get(c.Context(), c.Params("userId"))
	if err != nil {
		return mapBalanceError(c, err)
	}
	return ok(c, b)
}

type mutationBody struct {
	Action     string             `json:"action" validate:"required,oneof=add remove use"`
	Amount     float64            `json:"amount" validate:"gt=0"`
	Reason     string             `json:"reason" validate:"max=500"`
	PaymentRef *ledger.PaymentRef `json:"paymentRef"`
}

// POST /balances/:userId/mutations
func (h *BalanceHandler) Mutate(c fiber.Ctx) error {
	actor, found := actorFromFiber(c)
	if !found {
		return unauthorized(c)
	}

	var body mutationBody
	if err := bindJSON(c, &body); err != nil {
		return badRequest(c, err.Error())
	}

	admin := ""
	if actor.Role == model.RoleAdmin {
		admin = actor.ID
	}

	b, err := h.svc.Apply(c.Context(), ledger.Mutation{
		UserID:     c.Params("userId"),
		Action:     ledger.Action(body.Action),
		Amount:     body.Amount,
		Reason:     body.Reason,
		Admin:      admin,
		PaymentRef: body.PaymentRef,
	})
	if err != nil {
		return mapBalanceError(c, err)
	}
	return ok(c, b)
}
