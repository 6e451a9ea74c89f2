package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alijeyrad/carebook_backend/internal/model"
)

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(context.Context, string, string, any) error {
	f.calls++
	return errors.New("nats down")
}

func TestEmitSwallowsErrors(t *testing.T) {
	pub := &failingPublisher{}
	Emit(context.Background(), pub, SubjectStatusChanged, "a1", AppointmentStatusChanged{AppointmentID: "a1"})
	assert.Equal(t, 1, pub.calls)

	Emit(context.Background(), nil, SubjectStatusChanged, "a1", nil)
}

func TestDecodeStatusChanged(t *testing.T) {
	in := AppointmentStatusChanged{
		AppointmentID: "a1",
		PatientID:     "p1",
		From:          model.StatusConfirmed,
		To:            model.StatusCancelled,
		Actor:         model.Actor{ID: "p1", Role: model.RolePatient},
		RefundAmount:  100,
		At:            time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	out, err := Decode[AppointmentStatusChanged](data)
	require.NoError(t, err)
	assert.Equal(t, in.To, out.To)
	assert.Equal(t, in.Actor, out.Actor)
	assert.Equal(t, 100.0, out.RefundAmount)
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "carebook.payout.finalized.t1", Subject(SubjectPayoutFinalized, "t1"))
}
