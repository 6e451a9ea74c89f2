// Package stripe wraps the Stripe API for payment lookups and webhook parsing.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/Alijeyrad/carebook_backend/config"
)

var (
	ErrInvalidSignature = errors.New("stripe: invalid webhook signature")
	ErrMalformedEvent   = errors.New("stripe: malformed webhook event")
)

// Event types handled by payment intake.
const (
	EventCheckoutCompleted      = "checkout.session.completed"
	EventCheckoutAsyncSucceeded = "checkout.session.async_payment_succeeded"
	EventPaymentIntentFailed    = "payment_intent.payment_failed"
	EventChargeRefunded         = "charge.refunded"
)

// Client performs status lookups. Lookups are never retried by the SDK; the
// caller bounds each one with its own deadline.
type Client struct {
	api           *client.API
	webhookSecret string
}

func New(cfg config.StripeConfig, timeout time.Duration) *Client {
	bc := &stripego.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripego.Int64(0),
		LeveledLogger:     &stripego.LeveledLogger{Level: stripego.LevelWarn},
	}
	if cfg.BackendURL != "" {
		bc.URL = stripego.String(cfg.BackendURL)
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, &stripego.Backends{
		API:     stripego.GetBackendWithConfig(stripego.APIBackend, bc),
		Connect: stripego.GetBackendWithConfig(stripego.ConnectBackend, bc),
		Uploads: stripego.GetBackendWithConfig(stripego.UploadsBackend, bc),
	})
	return &Client{api: api, webhookSecret: cfg.WebhookSecret}
}

func (c *Client) CheckoutSessionStatus(ctx context.Context, id string) (string, error) {
	params := &stripego.CheckoutSessionParams{}
	params.Context = ctx
	cs, err := c.api.CheckoutSessions.Get(id, params)
	if err != nil {
		return "", fmt.Errorf("get checkout session: %w", err)
	}
	return string(cs.PaymentStatus), nil
}

func (c *Client) PaymentIntentStatus(ctx context.Context, id string) (string, error) {
	params := &stripego.PaymentIntentParams{}
	params.Context = ctx
	pi, err := c.api.PaymentIntents.Get(id, params)
	if err != nil {
		return "", fmt.Errorf("get payment intent: %w", err)
	}
	return string(pi.Status), nil
}

func (c *Client) SubscriptionStatus(ctx context.Context, id string) (string, error) {
	params := &stripego.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.api.Subscriptions.Get(id, params)
	if err != nil {
		return "", fmt.Errorf("get subscription: %w", err)
	}
	return string(sub.Status), nil
}

// ---------------------------------------------------------------------------
// Webhooks
// ---------------------------------------------------------------------------

// WebhookEvent is the provider-neutral view of a verified webhook.
type WebhookEvent struct {
	ID              string
	Type            string
	CheckoutSession *CheckoutSession
	PaymentIntent   *PaymentIntent
	Charge          *Charge
}

type CheckoutSession struct {
	ID              string
	PaymentIntentID string
	SubscriptionID  string
	PaymentStatus   string
	// Amount is in major currency units.
	Amount   float64
	Currency string
	Metadata map[string]string
}

type PaymentIntent struct {
	ID        string
	Status    string
	Metadata  map[string]string
	LastError string
}

// Charge is a refunded card charge. Amounts are in major currency units.
type Charge struct {
	ID              string
	PaymentIntentID string
	Amount          float64
	AmountRefunded  float64
	// FullyRefunded is false for partial refunds.
	FullyRefunded bool
	Currency      string
	Metadata      map[string]string
}

// ParseWebhook verifies the signature and decodes the objects intake cares
// about. Other event types come back with only ID and Type set.
func (c *Client) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return decodeEvent(ev)
}

func decodeEvent(ev stripego.Event) (*WebhookEvent, error) {
	out := &WebhookEvent{ID: ev.ID, Type: string(ev.Type)}
	if ev.Data == nil {
		return out, nil
	}

	switch out.Type {
	case EventCheckoutCompleted, EventCheckoutAsyncSucceeded:
		var cs stripego.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		out.CheckoutSession = &CheckoutSession{
			ID:            cs.ID,
			PaymentStatus: string(cs.PaymentStatus),
			Amount:        decimal.New(cs.AmountTotal, -2).InexactFloat64(),
			Currency:      string(cs.Currency),
			Metadata:      cs.Metadata,
		}
		if cs.PaymentIntent != nil {
			out.CheckoutSession.PaymentIntentID = cs.PaymentIntent.ID
		}
		if cs.Subscription != nil {
			out.CheckoutSession.SubscriptionID = cs.Subscription.ID
		}

	case EventPaymentIntentFailed:
		var pi stripego.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		out.PaymentIntent = &PaymentIntent{ID: pi.ID, Status: string(pi.Status), Metadata: pi.Metadata}
		if pi.LastPaymentError != nil {
			out.PaymentIntent.LastError = pi.LastPaymentError.Msg
		}

	case EventChargeRefunded:
		var ch stripego.Charge
		if err := json.Unmarshal(ev.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		out.Charge = &Charge{
			ID:             ch.ID,
			Amount:         decimal.New(ch.Amount, -2).InexactFloat64(),
			AmountRefunded: decimal.New(ch.AmountRefunded, -2).InexactFloat64(),
			FullyRefunded:  ch.Refunded,
			Currency:       string(ch.Currency),
			Metadata:       ch.Metadata,
		}
		if ch.PaymentIntent != nil {
			out.Charge.PaymentIntentID = ch.PaymentIntent.ID
		}
	}
	return out, nil
}
