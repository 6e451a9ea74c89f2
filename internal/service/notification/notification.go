// Package notification delivers engine events to patients and therapists.
// Delivery is best effort and never feeds back into engine state.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Alijeyrad/carebook_backend/internal/events"
	"github.com/Alijeyrad/carebook_backend/internal/model"
	"github.com/Alijeyrad/carebook_backend/internal/repo"
	"github.com/Alijeyrad/carebook_backend/pkg/email"
)

// ---------------------------------------------------------------------------
// Interface
// ---------------------------------------------------------------------------

type Service interface {
	StatusChanged(ctx context.Context, ev events.AppointmentStatusChanged) error
	BalanceCredited(ctx context.Context, ev events.BalanceCredited) error
	PayoutFinalized(ctx context.Context, ev events.PayoutFinalized) error
}

// Directory resolves contact details; it returns repo.ErrNotFound for unknown users.
type Directory interface {
	Get(ctx context.Context, userID string) (*model.User, error)
}

type Mailer interface {
	Send(ctx context.Context, m email.Message) error
}

type Texter interface {
	Send(ctx context.Context, phone, templateID string, params map[string]string) error
}

// Templates are the sms.ir template ids per message kind.
type Templates struct {
	Status string
	Refund string
	Payout string
}

// ---------------------------------------------------------------------------
// Implementation
// ---------------------------------------------------------------------------

type notificationService struct {
	users     Directory
	mailer    Mailer
	texter    Texter
	templates Templates
	appName   string
	baseURL   string
	currency  string
}

type Deps struct {
	Users     Directory
	Mailer    Mailer
	Texter    Texter
	Templates Templates
	AppName   string
	BaseURL   string
	Currency  string
}

func New(d Deps) Service {
	return &notificationService{
		users:     d.Users,
		mailer:    d.Mailer,
		texter:    d.Texter,
		templates: d.Templates,
		appName:   d.AppName,
		baseURL:   d.BaseURL,
		currency:  d.Currency,
	}
}

func (s *notificationService) StatusChanged(ctx context.Context, ev events.AppointmentStatusChanged) error {
	var errs []error

	patient, err := s.recipient(ctx, ev.PatientID)
	if err != nil {
		return err
	}
	errs = append(errs, s.deliver(ctx, patient,
		email.BuildStatusChangedEmail(email.StatusEmailData{
			Name:          patient.Name,
			Email:         patient.Email,
			AppointmentID: ev.AppointmentID,
			Status:        string(ev.To),
			Reason:        ev.Reason,
			AppName:       s.appName,
			BaseURL:       s.baseURL,
		}),
		s.templates.Status, map[string]string{"status": email.StatusLabel(string(ev.To))},
	))

	if ev.RefundAmount > 0 {
		errs = append(errs, s.deliver(ctx, patient,
			email.BuildRefundEmail(email.RefundEmailData{
				Name:          patient.Name,
				Email:         patient.Email,
				AppointmentID: ev.AppointmentID,
				Amount:        ev.RefundAmount,
				Currency:      s.currency,
				AppName:       s.appName,
				BaseURL:       s.baseURL,
			}),
			s.templates.Refund, map[string]string{"amount": strconv.FormatFloat(ev.RefundAmount, 'f', 2, 64)},
		))
	}

	// the therapist hears about changes they did not make
	if ev.TherapistID != "" && ev.Actor.ID != ev.TherapistID && notifiesTherapist(ev.To) {
		therapist, err := s.recipient(ctx, ev.TherapistID)
		if err != nil {
			errs = append(errs, err)
		} else {
			errs = append(errs, s.deliver(ctx, therapist,
				email.BuildStatusChangedEmail(email.StatusEmailData{
					Name:          therapist.Name,
					Email:         therapist.Email,
					AppointmentID: ev.AppointmentID,
					Status:        string(ev.To),
					Reason:        ev.Reason,
					AppName:       s.appName,
					BaseURL:       s.baseURL,
				}),
				s.templates.Status, map[string]string{"status": email.StatusLabel(string(ev.To))},
			))
		}
	}

	return errors.Join(errs...)
}

func (s *notificationService) BalanceCredited(ctx context.Context, ev events.BalanceCredited) error {
	u, err := s.recipient(ctx, ev.UserID)
	if err != nil {
		return err
	}
	return s.deliver(ctx, u,
		email.BuildRefundEmail(email.RefundEmailData{
			Name:     u.Name,
			Email:    u.Email,
			Amount:   ev.Amount,
			Currency: ev.Currency,
			AppName:  s.appName,
			BaseURL:  s.baseURL,
		}),
		s.templates.Refund, map[string]string{"amount": strconv.FormatFloat(ev.Amount, 'f', 2, 64)},
	)
}

func (s *notificationService) PayoutFinalized(ctx context.Context, ev events.PayoutFinalized) error {
	u, err := s.recipient(ctx, ev.TherapistID)
	if err != nil {
		return err
	}
	return s.deliver(ctx, u,
		email.BuildPayoutEmail(email.PayoutEmailData{
			Name:         u.Name,
			Email:        u.Email,
			PaymentID:    ev.PaymentID,
			Amount:       ev.Amount,
			Currency:     ev.Currency,
			Appointments: ev.Appointments,
			AppName:      s.appName,
			BaseURL:      s.baseURL,
		}),
		s.templates.Payout, map[string]string{"amount": strconv.FormatFloat(ev.Amount, 'f', 2, 64)},
	)
}

func (s *notificationService) recipient(ctx context.Context, id string) (*model.User, error) {
	u, err := s.users.Get(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRecipientNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup recipient %s: %w", id, err)
	}
	return u, nil
}

// deliver sends on every channel the user has. A disabled mailer is not an error.
func (s *notificationService) deliver(ctx context.Context, u *model.User, msg email.Message, template string, params map[string]string) error {
	if u.Email == "" && u.Phone == "" {
		return fmt.Errorf("%w: %s", ErrNoChannel, u.ID)
	}

	var errs []error
	if u.Email != "" && s.mailer != nil {
		if err := s.mailer.Send(ctx, msg); err != nil && !errors.Is(err, email.ErrDisabled) {
			slog.Warn("notification: email failed", "user_id", u.ID, "err", err)
			errs = append(errs, err)
		}
	}
	if u.Phone != "" && s.texter != nil && template != "" {
		if err := s.texter.Send(ctx, u.Phone, template, params); err != nil {
			slog.Warn("notification: sms failed", "user_id", u.ID, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func notifiesTherapist(to model.Status) bool {
	switch to {
	case model.StatusMatched, model.StatusCancelled, model.StatusRescheduled, model.StatusConfirmed:
		return true
	}
	return false
}
