// Package events defines the NATS subjects and payloads the engine emits.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"

	"github.com/Alijeyrad/carebook_backend/internal/model"
	"github.com/Alijeyrad/carebook_backend/pkg/reqctx"
)

// Subject prefixes; the affected entity id is appended as the last token.
const (
	SubjectStatusChanged   = "carebook.appointment.status_changed"
	SubjectBalanceCredited = "carebook.balance.credited"
	SubjectPayoutFinalized = "carebook.payout.finalized"

	HeaderRequestID = "X-Request-Id"
)

type AppointmentStatusChanged struct {
	AppointmentID string       `json:"appointmentId"`
	PatientID     string       `json:"patientId"`
	TherapistID   string       `json:"therapistId,omitempty"`
	From          model.Status `json:"from"`
	To            model.Status `json:"to"`
	Actor         model.Actor  `json:"actor"`
	Reason        string       `json:"reason,omitempty"`
	RefundAmount  float64      `json:"refundAmount,omitempty"`
	At            time.Time    `json:"at"`
}

type BalanceCredited struct {
	UserID    string    `json:"userId"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	PaymentID string    `json:"paymentId"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

type PayoutFinalized struct {
	PaymentID    string    `json:"paymentId"`
	TherapistID  string    `json:"therapistId"`
	Amount       float64   `json:"amount"`
	Currency     string    `json:"currency"`
	Appointments int       `json:"appointments"`
	Recovered    bool      `json:"recovered,omitempty"`
	At           time.Time `json:"at"`
}

// Publisher is fire-and-forget: delivery failures never roll back engine state.
type Publisher interface {
	Publish(ctx context.Context, subject, id string, payload any) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, string, any) error { return nil }

type NatsPublisher struct {
	nc *nats.Conn
}

func NewNatsPublisher(nc *nats.Conn) *NatsPublisher {
	return &NatsPublisher{nc: nc}
}

func (p *NatsPublisher) Publish(ctx context.Context, subject, id string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", subject, err)
	}

	msg := nats.NewMsg(Subject(subject, id))
	msg.Data = data
	if rid := reqctx.RequestIDFromContext(ctx); rid != "" {
		msg.Header.Set(HeaderRequestID, rid)
	}
	return p.nc.PublishMsg(msg)
}

func Subject(prefix, id string) string {
	return prefix + "." + id
}

// Emit publishes and logs a failure instead of returning it.
func Emit(ctx context.Context, pub Publisher, subject, id string, payload any) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, subject, id, payload); err != nil {
		slog.Warn("events: publish failed", "subject", subject, "id", id, "err", err)
	}
}

// Decode unmarshals an event body.
func Decode[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
