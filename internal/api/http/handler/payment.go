package handler

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v3"

	"github.com/Alijeyrad/carebook_backend/internal/service/appointment"
	"github.com/Alijeyrad/carebook_backend/internal/service/ledger"
	"github.com/Alijeyrad/carebook_backend/internal/service/payment"
	"github.com/Alijeyrad/carebook_backend/internal/service/reconcile"
)

const headerStripeSignature = "Stripe-Signature"

type PaymentHandler struct {
	svc payment.Service
}

func NewPaymentHandler(svc payment.Service) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

type verifyBody struct {
	CheckoutSessionID string `json:"checkoutSessionId"`
	PaymentIntentID   string `json:"paymentIntentId"`
	SubscriptionID    string `json:"subscriptionId"`
	IsBalance         bool   `json:"isBalance"`
}

// POST /payments/verify
func (h *PaymentHandler) Verify(c fiber.Ctx) error {
	var body verifyBody
	if err := bindJSON(c, &body); err != nil {
		return badRequest(c, err.Error())
	}
	if body.CheckoutSessionID == "" && body.PaymentIntentID == "" && body.SubscriptionID == "" && !body.IsBalance {
		return badRequest(c, "a payment identifier is required")
	}

	st := h.svc.Verify(c.Context(), reconcile.Query{
		CheckoutSessionID: body.CheckoutSessionID,
		PaymentIntentID:   body.PaymentIntentID,
		SubscriptionID:    body.SubscriptionID,
		IsBalance:         body.IsBalance,
	})
	if st.Unknown() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "payment provider unavailable, try again",
			"data":  st,
		})
	}
	return ok(c, st)
}

// POST /webhooks/stripe
//
// Any non-2xx answer makes the provider retry, so only failures worth
// retrying return 5xx.
func (h *PaymentHandler) StripeWebhook(c fiber.Ctx) error {
	out, err := h.svc.HandleWebhook(c.Context(), c.Body(), c.Get(headerStripeSignature))
	switch {
	case err == nil:
		return ok(c, out)
	case errors.Is(err, payment.ErrInvalidWebhook):
		return badRequest(c, err.Error())
	case errors.Is(err, payment.ErrMissingMetadata),
		errors.Is(err, payment.ErrAmountInvalid),
		errors.Is(err, appointment.ErrNotFound),
		errors.Is(err, ledger.ErrPaymentRefRequired):
		slog.Warn("payment: webhook rejected", "err", err)
		return unprocessable(c, err.Error())
	default:
		slog.Error("payment: webhook failed", "err", err)
		return internalError(c)
	}
}
