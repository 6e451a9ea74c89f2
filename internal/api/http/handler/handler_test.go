package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Alijeyrad/carebook_backend/internal/api/http/middleware"
	"github.com/Alijeyrad/carebook_backend/internal/jobs"
	"github.com/Alijeyrad/carebook_backend/internal/model"
	"github.com/Alijeyrad/carebook_backend/internal/service/appointment"
	"github.com/Alijeyrad/carebook_backend/internal/service/ledger"
	"github.com/Alijeyrad/carebook_backend/internal/service/payment"
	"github.com/Alijeyrad/carebook_backend/internal/service/payout"
	"github.com/Alijeyrad/carebook_backend/internal/service/reconcile"
	"github.com/Alijeyrad/carebook_backend/internal/service/status"
	pasetotoken "github.com/Alijeyrad/carebook_backend/pkg/paseto"
)

// as injects verified claims the way AuthRequired does.
func as(userID string, role model.Role) fiber.Handler {
	return func(c fiber.Ctx) error {
		c.Locals(middleware.LocalsClaims, &pasetotoken.Claims{
			Type: pasetotoken.TokenTypeAccess, UserID: userID, Role: string(role),
		})
		return c.Next()
	}
}

type response struct {
	Status int
	Body   map[string]any
}

func do(t *testing.T, app *fiber.App, method, path, body string) response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := response{Status: resp.StatusCode}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out.Body))
	}
	return out
}

// ---------------------------------------------------------------------------
// appointments
// ---------------------------------------------------------------------------

type appointmentsMock struct {
	appointment.Service
	mock.Mock
}

func (m *appointmentsMock) Get(ctx context.Context, id string, actor model.Actor) (*appointment.View, error) {
	args := m.Called(ctx, id, actor)
	v, _ := args.Get(0).(*appointment.View)
	return v, args.Error(1)
}

func (m *appointmentsMock) Transition(ctx context.Context, req appointment.TransitionRequest) (*model.Appointment, error) {
	args := m.Called(ctx, req)
	a, _ := args.Get(0).(*model.Appointment)
	return a, args.Error(1)
}

func (m *appointmentsMock) CompleteSession(ctx context.Context, req appointment.CompleteSessionRequest) (*model.Appointment, error) {
	args := m.Called(ctx, req)
	a, _ := args.Get(0).(*model.Appointment)
	return a, args.Error(1)
}

func appointmentApp(svc appointment.Service, userID string, role model.Role) *fiber.App {
	h := NewAppointmentHandler(svc)
	app := fiber.New()
	g := app.Group("/appointments/:id", as(userID, role))
	g.Get("/", h.Get)
	g.Get("/payment", h.PaymentState)
	g.Post("/transitions", h.Transition)
	g.Post("/sessions/:index/complete", h.CompleteSession)
	return app
}

func TestTransitionPassesActorAndMeta(t *testing.T) {
	svc := &appointmentsMock{}
	svc.On("Transition", mock.Anything, mock.MatchedBy(func(r appointment.TransitionRequest) bool {
		return r.AppointmentID == "a1" &&
			r.TargetStatus == model.StatusCancelled &&
			r.Actor == model.Actor{ID: "admin-1", Role: model.RoleAdmin} &&
			r.Meta.ChargeFraction != nil && *r.Meta.ChargeFraction == 0.25
	})).Return(&model.Appointment{ID: "a1", Status: model.StatusCancelled}, nil)

	app := appointmentApp(svc, "admin-1", model.RoleAdmin)
	res := do(t, app, fiber.MethodPost, "/appointments/a1/transitions",
		`{"status":"cancelled","reason":"duplicate booking","meta":{"chargeFraction":0.25}}`)

	assert.Equal(t, fiber.StatusOK, res.Status)
	svc.AssertExpectations(t)
}

func TestTransitionValidation(t *testing.T) {
	app := appointmentApp(&appointmentsMock{}, "p1", model.RolePatient)

	t.Run("missing status", func(t *testing.T) {
		res := do(t, app, fiber.MethodPost, "/appointments/a1/transitions", `{"reason":"x"}`)
		assert.Equal(t, fiber.StatusBadRequest, res.Status)
	})

	t.Run("charge fraction out of range", func(t *testing.T) {
		res := do(t, app, fiber.MethodPost, "/appointments/a1/transitions",
			`{"status":"cancelled","meta":{"chargeFraction":1.5}}`)
		assert.Equal(t, fiber.StatusBadRequest, res.Status)
	})

	t.Run("malformed json", func(t *testing.T) {
		res := do(t, app, fiber.MethodPost, "/appointments/a1/transitions", `{`)
		assert.Equal(t, fiber.StatusBadRequest, res.Status)
	})
}

func TestInvalidTransitionCarriesAllowedTargets(t *testing.T) {
	svc := &appointmentsMock{}
	svc.On("Transition", mock.Anything, mock.Anything).Return(nil, &status.InvalidTransitionError{
		From:      model.StatusCompleted,
		Attempted: model.StatusCancelled,
		Allowed:   []model.Status{},
		Role:      model.RolePatient,
	})

	res := do(t, appointmentApp(svc, "p1", model.RolePatient), fiber.MethodPost,
		"/appointments/a1/transitions", `{"status":"cancelled"}`)

	assert.Equal(t, fiber.StatusConflict, res.Status)
	assert.Equal(t, "cancelled", res.Body["attempted"])
	assert.Equal(t, "completed", res.Body["current"])
	assert.Contains(t, res.Body, "allowed")
}

func TestAppointmentErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{appointment.ErrNotFound, fiber.StatusNotFound},
		{appointment.ErrNotOwner, fiber.StatusForbidden},
		{appointment.ErrUnpaid, fiber.StatusPaymentRequired},
		{status.ErrReasonRequired, fiber.StatusBadRequest},
		{appointment.ErrSessionCompleted, fiber.StatusConflict},
		{&reconcile.VerificationError{Source: model.SourceCheckoutSession, ID: "cs", Err: errors.New("timeout")}, fiber.StatusServiceUnavailable},
		{&ledger.InsufficientBalanceError{Requested: 20, Available: 5}, fiber.StatusPaymentRequired},
		{errors.New("boom"), fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			svc := &appointmentsMock{}
			svc.On("CompleteSession", mock.Anything, mock.Anything).Return(nil, tt.err)

			res := do(t, appointmentApp(svc, "t1", model.RoleTherapist), fiber.MethodPost,
				"/appointments/a1/sessions/2/complete", "")
			assert.Equal(t, tt.want, res.Status)
			assert.NotEmpty(t, res.Body["error"])
		})
	}
}

func TestCompleteSessionRejectsBadIndex(t *testing.T) {
	res := do(t, appointmentApp(&appointmentsMock{}, "t1", model.RoleTherapist), fiber.MethodPost,
		"/appointments/a1/sessions/first/complete", "")
	assert.Equal(t, fiber.StatusBadRequest, res.Status)
}

func TestPaymentStateRoute(t *testing.T) {
	svc := &appointmentsMock{}
	svc.On("Get", mock.Anything, "a1", model.Actor{ID: "p1", Role: model.RolePatient}).Return(&appointment.View{
		Appointment:  &model.Appointment{ID: "a1"},
		PaymentState: model.PaymentState{IsPaid: true, PaymentStatus: model.VerificationPaid, Source: model.SourceBalance},
	}, nil)

	res := do(t, appointmentApp(svc, "p1", model.RolePatient), fiber.MethodGet, "/appointments/a1/payment", "")

	require.Equal(t, fiber.StatusOK, res.Status)
	data := res.Body["data"].(map[string]any)
	assert.Equal(t, true, data["isPaid"])
	assert.Equal(t, "balance", data["verificationSource"])
}

func TestMissingClaimsIsUnauthorized(t *testing.T) {
	h := NewAppointmentHandler(&appointmentsMock{})
	app := fiber.New()
	app.Get("/appointments/:id", h.Get)

	res := do(t, app, fiber.MethodGet, "/appointments/a1", "")
	assert.Equal(t, fiber.StatusUnauthorized, res.Status)
}

// ---------------------------------------------------------------------------
// balances
// ---------------------------------------------------------------------------

type ledgerMock struct {
	ledger.Service
	mock.Mock
}

func (m *ledgerMock) Get(ctx context.Context, userID string) (*model.Balance, error) {
	args := m.Called(ctx, userID)
	b, _ := args.Get(0).(*model.Balance)
	return b, args.Error(1)
}

func (m *ledgerMock) Apply(ctx context.Context, mut ledger.Mutation) (*model.Balance, error) {
	args := m.Called(ctx, mut)
	b, _ := args.Get(0).(*model.Balance)
	return b, args.Error(1)
}

func balanceApp(svc ledger.Service, userID string, role model.Role) *fiber.App {
	h := NewBalanceHandler(svc)
	app := fiber.New()
	g := app.Group("/balances", as(userID, role))
	g.Get("/me", h.Me)
	g.Get("/:userId", h.Get)
	g.Post("/:userId/mutations", h.Mutate)
	return app
}

func TestBalanceMeUsesTokenUser(t *testing.T) {
	svc := &ledgerMock{}
	svc.On("Get", mock.Anything, "p1").Return(&model.Balance{UserID: "p1", BalanceAmount: 40}, nil)

	res := do(t, balanceApp(svc, "p1", model.RolePatient), fiber.MethodGet, "/balances/me", "")
	assert.Equal(t, fiber.StatusOK, res.Status)
	svc.AssertExpectations(t)
}

func TestBalanceMutation(t *testing.T) {
	t.Run("admin add records admin id", func(t *testing.T) {
		svc := &ledgerMock{}
		svc.On("Apply", mock.Anything, mock.MatchedBy(func(m ledger.Mutation) bool {
			return m.UserID == "p1" && m.Action == ledger.ActionAdd && m.Admin == "admin-1" &&
				m.PaymentRef != nil && m.PaymentRef.ID == "manual-7"
		})).Return(&model.Balance{UserID: "p1"}, nil)

		res := do(t, balanceApp(svc, "admin-1", model.RoleAdmin), fiber.MethodPost, "/balances/p1/mutations",
			`{"action":"add","amount":50,"reason":"goodwill","paymentRef":{"id":"manual-7"}}`)
		assert.Equal(t, fiber.StatusOK, res.Status)
		svc.AssertExpectations(t)
	})

	t.Run("unknown action", func(t *testing.T) {
		res := do(t, balanceApp(&ledgerMock{}, "admin-1", model.RoleAdmin), fiber.MethodPost, "/balances/p1/mutations",
			`{"action":"steal","amount":50}`)
		assert.Equal(t, fiber.StatusBadRequest, res.Status)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		res := do(t, balanceApp(&ledgerMock{}, "admin-1", model.RoleAdmin), fiber.MethodPost, "/balances/p1/mutations",
			`{"action":"remove","amount":0}`)
		assert.Equal(t, fiber.StatusBadRequest, res.Status)
	})

	t.Run("insufficient balance", func(t *testing.T) {
		svc := &ledgerMock{}
		svc.On("Apply", mock.Anything, mock.Anything).Return(nil, &ledger.InsufficientBalanceError{Requested: 50, Available: 10})

		res := do(t, balanceApp(svc, "admin-1", model.RoleAdmin), fiber.MethodPost, "/balances/p1/mutations",
			`{"action":"remove","amount":50}`)
		assert.Equal(t, fiber.StatusPaymentRequired, res.Status)
		assert.EqualValues(t, 10, res.Body["available"])
	})
}

// ---------------------------------------------------------------------------
// payouts
// ---------------------------------------------------------------------------

type payoutMock struct {
	payout.Service
	mock.Mock
}

func (m *payoutMock) Pending(ctx context.Context, therapistID string) (*payout.Summary, error) {
	args := m.Called(ctx, therapistID)
	s, _ := args.Get(0).(*payout.Summary)
	return s, args.Error(1)
}

func (m *payoutMock) Finalize(ctx context.Context, req payout.FinalizeRequest) (*model.TherapistPayment, error) {
	args := m.Called(ctx, req)
	p, _ := args.Get(0).(*model.TherapistPayment)
	return p, args.Error(1)
}

func payoutApp(svc payout.Service, userID string, role model.Role) *fiber.App {
	h := NewPayoutHandler(svc)
	app := fiber.New()
	g := app.Group("/therapists/:id/payouts", as(userID, role))
	g.Get("/pending", h.Pending)
	g.Post("/", h.Finalize)
	return app
}

func TestPayoutPendingScope(t *testing.T) {
	svc := &payoutMock{}
	svc.On("Pending", mock.Anything, "t1").Return(&payout.Summary{TotalPending: 57}, nil)

	res := do(t, payoutApp(svc, "t1", model.RoleTherapist), fiber.MethodGet, "/therapists/t1/payouts/pending", "")
	assert.Equal(t, fiber.StatusOK, res.Status)

	res = do(t, payoutApp(svc, "t2", model.RoleTherapist), fiber.MethodGet, "/therapists/t1/payouts/pending", "")
	assert.Equal(t, fiber.StatusForbidden, res.Status)

	svc.AssertNumberOfCalls(t, "Pending", 1)
}

func TestPayoutFinalize(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		svc := &payoutMock{}
		svc.On("Finalize", mock.Anything, mock.MatchedBy(func(r payout.FinalizeRequest) bool {
			return r.TherapistID == "t1" && r.Method == "paypal" && r.Actor.Role == model.RoleAdmin
		})).Return(&model.TherapistPayment{ID: "pay-1", Amount: 57}, nil)

		res := do(t, payoutApp(svc, "admin-1", model.RoleAdmin), fiber.MethodPost, "/therapists/t1/payouts", `{"method":"paypal"}`)
		assert.Equal(t, fiber.StatusCreated, res.Status)
	})

	t.Run("in progress", func(t *testing.T) {
		svc := &payoutMock{}
		svc.On("Finalize", mock.Anything, mock.Anything).Return(nil, payout.ErrPayoutInProgress)

		res := do(t, payoutApp(svc, "admin-1", model.RoleAdmin), fiber.MethodPost, "/therapists/t1/payouts", "")
		assert.Equal(t, fiber.StatusConflict, res.Status)
	})

	t.Run("nothing to pay", func(t *testing.T) {
		svc := &payoutMock{}
		svc.On("Finalize", mock.Anything, mock.Anything).Return(nil, payout.ErrNothingToPay)

		res := do(t, payoutApp(svc, "admin-1", model.RoleAdmin), fiber.MethodPost, "/therapists/t1/payouts", "")
		assert.Equal(t, fiber.StatusUnprocessableEntity, res.Status)
	})
}

// ---------------------------------------------------------------------------
// payments & maintenance
// ---------------------------------------------------------------------------

type paymentMock struct {
	mock.Mock
}

func (m *paymentMock) HandleWebhook(ctx context.Context, payload []byte, signature string) (*payment.Outcome, error) {
	args := m.Called(ctx, payload, signature)
	o, _ := args.Get(0).(*payment.Outcome)
	return o, args.Error(1)
}

func (m *paymentMock) Verify(ctx context.Context, q reconcile.Query) model.PaymentState {
	return m.Called(ctx, q).Get(0).(model.PaymentState)
}

func TestStripeWebhook(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"handled", nil, fiber.StatusOK},
		{"bad signature", payment.ErrInvalidWebhook, fiber.StatusBadRequest},
		{"missing metadata", payment.ErrMissingMetadata, fiber.StatusUnprocessableEntity},
		{"transient", errors.New("mongo down"), fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &paymentMock{}
			var out *payment.Outcome
			if tt.err == nil {
				out = &payment.Outcome{EventID: "evt_1", Action: payment.ActionBalanceCredited}
			}
			svc.On("HandleWebhook", mock.Anything, []byte(`{"id":"evt_1"}`), "t=1,v1=abc").Return(out, tt.err)

			app := fiber.New()
			app.Post("/webhooks/stripe", NewPaymentHandler(svc).StripeWebhook)

			req := httptest.NewRequest(fiber.MethodPost, "/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`))
			req.Header.Set(headerStripeSignature, "t=1,v1=abc")
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestVerifyUnknownIsUnavailable(t *testing.T) {
	svc := &paymentMock{}
	svc.On("Verify", mock.Anything, reconcile.Query{PaymentIntentID: "pi_1"}).
		Return(model.PaymentState{PaymentStatus: model.VerificationError, Source: model.SourcePaymentIntent})

	app := fiber.New()
	app.Post("/payments/verify", NewPaymentHandler(svc).Verify)

	res := do(t, app, fiber.MethodPost, "/payments/verify", `{"paymentIntentId":"pi_1"}`)
	assert.Equal(t, fiber.StatusServiceUnavailable, res.Status)

	res = do(t, app, fiber.MethodPost, "/payments/verify", `{}`)
	assert.Equal(t, fiber.StatusBadRequest, res.Status)
}

type runnerFunc func(ctx context.Context, name string) (any, error)

func (f runnerFunc) RunNow(ctx context.Context, name string) (any, error) { return f(ctx, name) }

func TestMaintenance(t *testing.T) {
	runner := runnerFunc(func(_ context.Context, name string) (any, error) {
		switch name {
		case jobs.BalanceRepair:
			return map[string]int64{"clamped": 3}, nil
		case jobs.ExpireConfirmed:
			return nil, jobs.ErrLocked
		default:
			return nil, jobs.ErrUnknownJob
		}
	})

	app := fiber.New()
	app.Post("/admin/maintenance/:job", NewMaintenanceHandler(runner).Run)

	res := do(t, app, fiber.MethodPost, "/admin/maintenance/balance-repair", "")
	assert.Equal(t, http.StatusOK, res.Status)

	res = do(t, app, fiber.MethodPost, "/admin/maintenance/expire", "")
	assert.Equal(t, http.StatusConflict, res.Status)

	res = do(t, app, fiber.MethodPost, "/admin/maintenance/reindex", "")
	assert.Equal(t, http.StatusNotFound, res.Status)
}
