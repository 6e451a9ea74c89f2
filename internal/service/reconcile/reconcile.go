// Package reconcile derives the authoritative payment state of an appointment.
package reconcile

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Alijeyrad/carebook_backend/internal/model"
	"github.com/Alijeyrad/carebook_backend/pkg/observability"
)

// ---------------------------------------------------------------------------
// Interface
// ---------------------------------------------------------------------------

type Service interface {
	// Reconcile is the only place a payment decision is made for an appointment.
	Reconcile(ctx context.Context, appt *model.Appointment) model.PaymentState
	// Verify answers a raw verification query with the same priority rules.
	Verify(ctx context.Context, q Query) model.PaymentState
}

// Provider returns the raw status strings of the external payment source.
type Provider interface {
	CheckoutSessionStatus(ctx context.Context, id string) (string, error)
	PaymentIntentStatus(ctx context.Context, id string) (string, error)
	SubscriptionStatus(ctx context.Context, id string) (string, error)
}

type Query struct {
	CheckoutSessionID string `json:"checkoutSessionId,omitempty"`
	PaymentIntentID   string `json:"paymentIntentId,omitempty"`
	SubscriptionID    string `json:"subscriptionId,omitempty"`
	IsBalance         bool   `json:"isBalance,omitempty"`
	Manual            bool   `json:"manual,omitempty"`
}

// QueryFor extracts the identifiers stored on an appointment.
func QueryFor(a *model.Appointment) Query {
	return Query{
		CheckoutSessionID: a.CheckoutSessionID,
		PaymentIntentID:   a.PaymentIntentID,
		SubscriptionID:    a.SubscriptionID,
		IsBalance:         a.IsBalance,
		Manual:            a.PaymentStatus == model.PaymentCompleted && a.PaymentMethod == model.MethodManual,
	}
}

// ---------------------------------------------------------------------------
// Implementation
// ---------------------------------------------------------------------------

type reconciler struct {
	provider Provider
	cache    Cache
	timeout  time.Duration
	metrics  *observability.EngineMetrics
}

func New(provider Provider, cache Cache, timeout time.Duration, metrics *observability.EngineMetrics) Service {
	if cache == nil {
		cache = NopCache{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &reconciler{provider: provider, cache: cache, timeout: timeout, metrics: metrics}
}

func (r *reconciler) Reconcile(ctx context.Context, appt *model.Appointment) model.PaymentState {
	st := r.Verify(ctx, QueryFor(appt))
	if st.Unknown() {
		slog.Warn("reconcile: payment verification error",
			"appointment_id", appt.ID,
			"source", st.Source,
			"err", st.Err,
		)
	}
	return st
}

func (r *reconciler) Verify(ctx context.Context, q Query) model.PaymentState {
	st := r.verify(ctx, q)
	r.metrics.Reconciliation(ctx, string(st.Source), string(st.PaymentStatus))
	return st
}

func (r *reconciler) verify(ctx context.Context, q Query) model.PaymentState {
	if q.IsBalance {
		return paid(model.SourceBalance)
	}
	if q.Manual {
		return paid(model.SourceManual)
	}

	st := model.PaymentState{PaymentStatus: model.VerificationNone, Source: model.SourceNone}

	// A lookup failure is reported only when the subscription does not
	// vouch for the payment either.
	var lookupErr model.PaymentState
	switch {
	case q.CheckoutSessionID != "":
		raw, err := r.lookup(ctx, cacheKeyCheckout+q.CheckoutSessionID, func(ctx context.Context) (string, error) {
			return r.provider.CheckoutSessionStatus(ctx, q.CheckoutSessionID)
		})
		if err != nil {
			lookupErr = failed(model.SourceCheckoutSession, q.CheckoutSessionID, err)
			break
		}
		st.Source = model.SourceCheckoutSession
		st.PaymentStatus = checkoutStatus(raw)
	case q.PaymentIntentID != "":
		raw, err := r.lookup(ctx, cacheKeyIntent+q.PaymentIntentID, func(ctx context.Context) (string, error) {
			return r.provider.PaymentIntentStatus(ctx, q.PaymentIntentID)
		})
		if err != nil {
			lookupErr = failed(model.SourcePaymentIntent, q.PaymentIntentID, err)
			break
		}
		st.Source = model.SourcePaymentIntent
		st.PaymentStatus = intentStatus(raw)
	}
	st.IsPaid = st.PaymentStatus == model.VerificationPaid

	if st.IsPaid {
		return st
	}
	if q.SubscriptionID == "" {
		if lookupErr.Err != nil {
			return lookupErr
		}
		return st
	}

	lctx, cancel := context.WithTimeout(ctx, r.timeout)
	raw, err := r.provider.SubscriptionStatus(lctx, q.SubscriptionID)
	cancel()
	if err != nil {
		if lookupErr.Err != nil {
			return lookupErr
		}
		return failed(model.SourceSubscription, q.SubscriptionID, err)
	}

	st.SubscriptionStatus = raw
	if raw == "active" || raw == "past_due" {
		st.IsActive = true
		st.IsPaid = true
		st.PaymentStatus = model.VerificationPaid
		st.Source = model.SourceSubscription
		return st
	}
	if lookupErr.Err != nil {
		lookupErr.SubscriptionStatus = raw
		return lookupErr
	}
	return st
}

// lookup consults the cache, then the provider under its own deadline. Only
// paid results are cached since they are terminal.
func (r *reconciler) lookup(ctx context.Context, key string, fetch func(context.Context) (string, error)) (string, error) {
	if raw, ok := r.cache.Get(ctx, key); ok {
		return raw, nil
	}

	lctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	raw, err := fetch(lctx)
	if err != nil {
		return "", err
	}
	if raw == "paid" || raw == "no_payment_required" || raw == "succeeded" {
		r.cache.Set(ctx, key, raw)
	}
	return raw, nil
}

func checkoutStatus(raw string) model.VerificationStatus {
	switch raw {
	case "paid", "no_payment_required":
		return model.VerificationPaid
	case "unpaid":
		return model.VerificationPending
	default:
		return model.VerificationNone
	}
}

func intentStatus(raw string) model.VerificationStatus {
	switch {
	case raw == "succeeded":
		return model.VerificationPaid
	case raw == "processing", strings.HasPrefix(raw, "requires_"):
		return model.VerificationPending
	case raw == "canceled":
		return model.VerificationFailed
	default:
		return model.VerificationNone
	}
}

func paid(src model.PaymentSource) model.PaymentState {
	return model.PaymentState{IsPaid: true, PaymentStatus: model.VerificationPaid, Source: src}
}

func failed(src model.PaymentSource, id string, err error) model.PaymentState {
	return model.PaymentState{
		PaymentStatus: model.VerificationError,
		Source:        src,
		Err:           &VerificationError{Source: src, ID: id, Err: err},
	}
}
