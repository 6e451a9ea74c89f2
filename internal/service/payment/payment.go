// Package payment turns provider webhooks into ledger credits and appointment
// status changes.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Alijeyrad/carebook_backend/internal/events"
	"github.com/Alijeyrad/carebook_backend/internal/model"
	"github.com/Alijeyrad/carebook_backend/internal/repo"
	"github.com/Alijeyrad/carebook_backend/internal/service/appointment"
	"github.com/Alijeyrad/carebook_backend/internal/service/ledger"
	"github.com/Alijeyrad/carebook_backend/internal/service/reconcile"
	stripepkg "github.com/Alijeyrad/carebook_backend/pkg/stripe"
)

// Metadata keys set on checkout sessions and payment intents at creation.
const (
	MetaKind          = "kind"
	MetaUserID        = "userId"
	MetaAppointmentID = "appointmentId"
	MetaSessions      = "sessions"

	KindBalanceTopUp = "balance_topup"
	KindAppointment  = "appointment"
)

// Outcome actions.
const (
	ActionBalanceCredited = "balance_credited"
	ActionAppointmentPaid = "appointment_paid"
	ActionPaymentFailed   = "payment_failed"
	ActionPaymentRefunded = "payment_refunded"
	ActionDuplicate       = "duplicate"
	ActionIgnored         = "ignored"
)

// ---------------------------------------------------------------------------
// Interface
// ---------------------------------------------------------------------------

type Service interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*Outcome, error)
	Verify(ctx context.Context, q reconcile.Query) model.PaymentState
}

type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*stripepkg.WebhookEvent, error)
}

type AppointmentStore interface {
	Get(ctx context.Context, id string) (*model.Appointment, error)
	Update(ctx context.Context, id string, version int64, patch model.AppointmentPatch) (*model.Appointment, error)
}

type Outcome struct {
	EventID       string  `json:"eventId"`
	EventType     string  `json:"eventType"`
	Action        string  `json:"action"`
	UserID        string  `json:"userId,omitempty"`
	AppointmentID string  `json:"appointmentId,omitempty"`
	Amount        float64 `json:"amount,omitempty"`
}

// ---------------------------------------------------------------------------
// Implementation
// ---------------------------------------------------------------------------

type paymentService struct {
	parser       WebhookParser
	store        AppointmentStore
	appointments appointment.Service
	ledger       ledger.Service
	reconciler   reconcile.Service
	publisher    events.Publisher
	currency     string
	now          func() time.Time
}

type Deps struct {
	Parser       WebhookParser
	Store        AppointmentStore
	Appointments appointment.Service
	Ledger       ledger.Service
	Reconciler   reconcile.Service
	Publisher    events.Publisher
	Currency     string
}

func New(d Deps) Service {
	pub := d.Publisher
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &paymentService{
		parser:       d.Parser,
		store:        d.Store,
		appointments: d.Appointments,
		ledger:       d.Ledger,
		reconciler:   d.Reconciler,
		publisher:    pub,
		currency:     d.Currency,
		now:          time.Now,
	}
}

func (s *paymentService) Verify(ctx context.Context, q reconcile.Query) model.PaymentState {
	return s.reconciler.Verify(ctx, q)
}

func (s *paymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*Outcome, error) {
	ev, err := s.parser.ParseWebhook(payload, signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWebhook, err)
	}
	out := &Outcome{EventID: ev.ID, EventType: ev.Type, Action: ActionIgnored}

	switch {
	case ev.CheckoutSession != nil:
		err = s.checkoutCompleted(ctx, ev.CheckoutSession, out)
	case ev.PaymentIntent != nil && ev.Type == stripepkg.EventPaymentIntentFailed:
		err = s.paymentFailed(ctx, ev.PaymentIntent, out)
	case ev.Charge != nil && ev.Type == stripepkg.EventChargeRefunded:
		err = s.chargeRefunded(ctx, ev.Charge, out)
	}
	if err != nil {
		slog.Error("payment: webhook handling failed", "event_id", ev.ID, "type", ev.Type, "err", err)
		return nil, err
	}

	slog.Info("payment: webhook handled", "event_id", ev.ID, "type", ev.Type, "action", out.Action,
		"user_id", out.UserID, "appointment_id", out.AppointmentID)
	return out, nil
}

func (s *paymentService) checkoutCompleted(ctx context.Context, cs *stripepkg.CheckoutSession, out *Outcome) error {
	// async methods complete later with checkout.session.async_payment_succeeded
	if cs.PaymentStatus != "paid" && cs.PaymentStatus != "no_payment_required" {
		return nil
	}

	switch cs.Metadata[MetaKind] {
	case KindBalanceTopUp:
		return s.topUp(ctx, cs, out)
	case KindAppointment, "":
		if cs.Metadata[MetaAppointmentID] == "" {
			return fmt.Errorf("%w: checkout session %s", ErrMissingMetadata, cs.ID)
		}
		return s.appointmentPaid(ctx, cs, out)
	default:
		return nil
	}
}

func (s *paymentService) topUp(ctx context.Context, cs *stripepkg.CheckoutSession, out *Outcome) error {
	userID := cs.Metadata[MetaUserID]
	if userID == "" {
		return fmt.Errorf("%w: checkout session %s has no user", ErrMissingMetadata, cs.ID)
	}
	if cs.Amount <= 0 {
		return ErrAmountInvalid
	}
	sessions, _ := strconv.Atoi(cs.Metadata[MetaSessions])

	ref := cs.PaymentIntentID
	if ref == "" {
		ref = cs.ID
	}
	out.UserID = userID
	out.Amount = cs.Amount

	current, err := s.ledger.Get(ctx, userID)
	if err != nil {
		return err
	}
	if current.HasPayment(ref) {
		out.Action = ActionDuplicate
		return nil
	}

	currency := cs.Currency
	if currency == "" {
		currency = s.currency
	}
	if _, err := s.ledger.Add(ctx, ledger.AddRequest{
		UserID: userID,
		Amount: cs.Amount,
		Reason: "balance top-up",
		PaymentRef: &ledger.PaymentRef{
			ID:       ref,
			Type:     "stripe_topup",
			Currency: currency,
			Sessions: max(sessions, 0),
		},
	}); err != nil {
		return err
	}

	out.Action = ActionBalanceCredited
	events.Emit(ctx, s.publisher, events.SubjectBalanceCredited, userID, events.BalanceCredited{
		UserID:    userID,
		Amount:    cs.Amount,
		Currency:  currency,
		PaymentID: ref,
		Reason:    "balance top-up",
		At:        s.now().UTC(),
	})
	return nil
}

func (s *paymentService) appointmentPaid(ctx context.Context, cs *stripepkg.CheckoutSession, out *Outcome) error {
	id := cs.Metadata[MetaAppointmentID]
	out.AppointmentID = id

	a, err := s.store.Get(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: %s", appointment.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("get appointment: %w", err)
	}
	a.Status = model.Canonicalize(a.Status)

	if a.CheckoutSessionID != cs.ID || (cs.PaymentIntentID != "" && a.PaymentIntentID != cs.PaymentIntentID) ||
		(cs.SubscriptionID != "" && a.SubscriptionID != cs.SubscriptionID) || !a.IsStripeVerified {
		patch := model.AppointmentPatch{
			CheckoutSessionID: &cs.ID,
			IsStripeVerified:  model.Ptr(true),
		}
		if cs.PaymentIntentID != "" {
			patch.PaymentIntentID = &cs.PaymentIntentID
		}
		if cs.SubscriptionID != "" {
			patch.SubscriptionID = &cs.SubscriptionID
		}
		if a.PaymentStatus != model.PaymentRefunded {
			patch.PaymentStatus = model.Ptr(model.PaymentCompleted)
		}
		if a.PaymentMethod == "" {
			method := model.MethodStripe
			if a.IsBalance {
				method = model.MethodMixed
			}
			patch.PaymentMethod = &method
		}
		if a, err = s.store.Update(ctx, a.ID, a.Version, patch); err != nil {
			return fmt.Errorf("record checkout on appointment %s: %w", id, err)
		}
		a.Status = model.Canonicalize(a.Status)
	}

	if a.Status != model.StatusUnpaid {
		out.Action = ActionDuplicate
		return nil
	}

	if _, err := s.appointments.Transition(ctx, appointment.TransitionRequest{
		AppointmentID: id,
		TargetStatus:  model.StatusPendingMatch,
		Actor:         model.System("stripe"),
		Reason:        "payment confirmed",
	}); err != nil {
		return err
	}
	out.Action = ActionAppointmentPaid
	return nil
}

func (s *paymentService) paymentFailed(ctx context.Context, pi *stripepkg.PaymentIntent, out *Outcome) error {
	id := pi.Metadata[MetaAppointmentID]
	if id == "" {
		return nil
	}
	out.AppointmentID = id

	a, err := s.store.Get(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: %s", appointment.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("get appointment: %w", err)
	}

	// a later successful attempt wins over an earlier failure
	if model.Canonicalize(a.Status) != model.StatusUnpaid || a.PaymentStatus == model.PaymentCompleted ||
		a.PaymentStatus == model.PaymentFailed {
		out.Action = ActionDuplicate
		return nil
	}

	patch := model.AppointmentPatch{
		PaymentStatus:   model.Ptr(model.PaymentFailed),
		PaymentIntentID: &pi.ID,
	}
	if _, err := s.store.Update(ctx, a.ID, a.Version, patch); err != nil {
		return fmt.Errorf("mark payment failed on appointment %s: %w", id, err)
	}
	slog.Warn("payment: card payment failed", "appointment_id", id, "payment_intent", pi.ID, "reason", pi.LastError)
	out.Action = ActionPaymentFailed
	return nil
}

// chargeRefunded records a refund issued on the provider side. Partial
// refunds leave the appointment's payment status alone.
func (s *paymentService) chargeRefunded(ctx context.Context, ch *stripepkg.Charge, out *Outcome) error {
	id := ch.Metadata[MetaAppointmentID]
	if id == "" {
		return nil
	}
	out.AppointmentID = id
	out.Amount = ch.AmountRefunded

	if !ch.FullyRefunded {
		slog.Info("payment: partial charge refund ignored", "appointment_id", id, "charge_id", ch.ID,
			"amount_refunded", ch.AmountRefunded, "amount", ch.Amount)
		return nil
	}

	a, err := s.store.Get(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: %s", appointment.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("get appointment: %w", err)
	}
	if a.PaymentStatus == model.PaymentRefunded {
		out.Action = ActionDuplicate
		return nil
	}

	patch := model.AppointmentPatch{PaymentStatus: model.Ptr(model.PaymentRefunded)}
	if ch.PaymentIntentID != "" && a.PaymentIntentID == "" {
		patch.PaymentIntentID = &ch.PaymentIntentID
	}
	if _, err := s.store.Update(ctx, a.ID, a.Version, patch); err != nil {
		return fmt.Errorf("mark payment refunded on appointment %s: %w", id, err)
	}
	slog.Warn("payment: charge refunded at provider", "appointment_id", id, "charge_id", ch.ID,
		"amount_refunded", ch.AmountRefunded)
	out.Action = ActionPaymentRefunded
	return nil
}
