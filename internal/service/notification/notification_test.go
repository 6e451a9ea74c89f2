package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alijeyrad/carebook_backend/internal/events"
	"github.com/Alijeyrad/carebook_backend/internal/model"
	"github.com/Alijeyrad/carebook_backend/internal/repo"
	"github.com/Alijeyrad/carebook_backend/pkg/email"
)

type directory map[string]*model.User

func (d directory) Get(_ context.Context, id string) (*model.User, error) {
	if u, ok := d[id]; ok {
		return u, nil
	}
	return nil, repo.ErrNotFound
}

type mailbox struct {
	sent []email.Message
	err  error
}

func (m *mailbox) Send(_ context.Context, msg email.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

type sms struct {
	phones    []string
	templates []string
	err       error
}

func (s *sms) Send(_ context.Context, phone, templateID string, _ map[string]string) error {
	if s.err != nil {
		return s.err
	}
	s.phones = append(s.phones, phone)
	s.templates = append(s.templates, templateID)
	return nil
}

func setup() (*mailbox, *sms, Service) {
	mail := &mailbox{}
	texts := &sms{}
	svc := New(Deps{
		Users: directory{
			"p1": {ID: "p1", Name: "Pat", Email: "p@example.com", Phone: "+16502530000"},
			"t1": {ID: "t1", Name: "Dana", Email: "t@example.com"},
			"x1": {ID: "x1"},
		},
		Mailer:    mail,
		Texter:    texts,
		Templates: Templates{Status: "10", Refund: "20", Payout: "30"},
		Currency:  "usd",
	})
	return mail, texts, svc
}

func TestStatusChanged(t *testing.T) {
	ctx := context.Background()

	t.Run("patient cancellation with refund notifies both parties", func(t *testing.T) {
		mail, texts, svc := setup()
		err := svc.StatusChanged(ctx, events.AppointmentStatusChanged{
			AppointmentID: "a1",
			PatientID:     "p1",
			TherapistID:   "t1",
			To:            model.StatusCancelled,
			Actor:         model.Actor{ID: "p1", Role: model.RolePatient},
			RefundAmount:  100,
		})
		require.NoError(t, err)

		require.Len(t, mail.sent, 3)
		assert.Equal(t, []string{"p@example.com"}, mail.sent[0].To)
		assert.Contains(t, mail.sent[1].Subject, "100.00 USD")
		assert.Equal(t, []string{"t@example.com"}, mail.sent[2].To)
		assert.Equal(t, []string{"10", "20"}, texts.templates)
	})

	t.Run("therapist is not told about their own change", func(t *testing.T) {
		mail, _, svc := setup()
		err := svc.StatusChanged(ctx, events.AppointmentStatusChanged{
			AppointmentID: "a1",
			PatientID:     "p1",
			TherapistID:   "t1",
			To:            model.StatusConfirmed,
			Actor:         model.Actor{ID: "t1", Role: model.RoleTherapist},
		})
		require.NoError(t, err)
		require.Len(t, mail.sent, 1)
		assert.Equal(t, []string{"p@example.com"}, mail.sent[0].To)
	})

	t.Run("unknown patient", func(t *testing.T) {
		_, _, svc := setup()
		err := svc.StatusChanged(ctx, events.AppointmentStatusChanged{AppointmentID: "a1", PatientID: "ghost"})
		assert.ErrorIs(t, err, ErrRecipientNotFound)
	})

	t.Run("no reachable channel", func(t *testing.T) {
		_, _, svc := setup()
		err := svc.StatusChanged(ctx, events.AppointmentStatusChanged{AppointmentID: "a1", PatientID: "x1"})
		assert.ErrorIs(t, err, ErrNoChannel)
	})
}

func TestDeliveryFailuresAreJoined(t *testing.T) {
	mail, texts, svc := setup()
	mail.err = errors.New("smtp down")
	texts.err = errors.New("sms down")

	err := svc.BalanceCredited(context.Background(), events.BalanceCredited{UserID: "p1", Amount: 50, Currency: "usd"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
	assert.Contains(t, err.Error(), "sms down")
}

func TestDisabledMailerIsSilent(t *testing.T) {
	mail, _, svc := setup()
	mail.err = email.ErrDisabled

	err := svc.PayoutFinalized(context.Background(), events.PayoutFinalized{TherapistID: "t1", Amount: 513, PaymentID: "pay_1"})
	assert.NoError(t, err)
}

func TestPayoutFinalizedSendsSummary(t *testing.T) {
	mail, _, svc := setup()
	err := svc.PayoutFinalized(context.Background(), events.PayoutFinalized{
		TherapistID:  "t1",
		Amount:       513,
		Currency:     "usd",
		Appointments: 2,
		PaymentID:    "pay_1",
	})
	require.NoError(t, err)
	require.Len(t, mail.sent, 1)
	assert.Contains(t, mail.sent[0].TextBody, "2 appointment(s)")
}
