package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Alijeyrad/carebook_backend/internal/model"
)

type providerMock struct {
	mock.Mock
}

func (m *providerMock) CheckoutSessionStatus(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *providerMock) PaymentIntentStatus(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *providerMock) SubscriptionStatus(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

type mapCache map[string]string

func (c mapCache) Get(_ context.Context, key string) (string, bool) {
	v, ok := c[key]
	return v, ok
}

func (c mapCache) Set(_ context.Context, key, status string) { c[key] = status }

func TestVerifyPriority(t *testing.T) {
	ctx := context.Background()

	t.Run("balance wins without provider calls", func(t *testing.T) {
		p := new(providerMock)
		st := New(p, nil, time.Second, nil).Verify(ctx, Query{IsBalance: true, CheckoutSessionID: "cs_1"})
		assert.True(t, st.Verified())
		assert.Equal(t, model.SourceBalance, st.Source)
		p.AssertNotCalled(t, "CheckoutSessionStatus", mock.Anything, mock.Anything)
	})

	t.Run("manual", func(t *testing.T) {
		p := new(providerMock)
		appt := &model.Appointment{PaymentStatus: model.PaymentCompleted, PaymentMethod: model.MethodManual, CheckoutSessionID: "cs_1"}
		st := New(p, nil, time.Second, nil).Reconcile(ctx, appt)
		assert.True(t, st.Verified())
		assert.Equal(t, model.SourceManual, st.Source)
		p.AssertExpectations(t)
	})

	t.Run("checkout session is preferred over payment intent", func(t *testing.T) {
		p := new(providerMock)
		p.On("CheckoutSessionStatus", mock.Anything, "cs_1").Return("unpaid", nil)
		st := New(p, nil, time.Second, nil).Verify(ctx, Query{CheckoutSessionID: "cs_1", PaymentIntentID: "pi_1"})
		assert.Equal(t, model.VerificationPending, st.PaymentStatus)
		assert.False(t, st.Verified())
		p.AssertNotCalled(t, "PaymentIntentStatus", mock.Anything, mock.Anything)
	})

	t.Run("no identifiers", func(t *testing.T) {
		st := New(new(providerMock), nil, time.Second, nil).Verify(ctx, Query{})
		assert.Equal(t, model.VerificationNone, st.PaymentStatus)
		assert.Equal(t, model.SourceNone, st.Source)
	})
}

func TestVerifyStatusMapping(t *testing.T) {
	ctx := context.Background()

	checkout := map[string]model.VerificationStatus{
		"paid":                model.VerificationPaid,
		"no_payment_required": model.VerificationPaid,
		"unpaid":              model.VerificationPending,
		"":                    model.VerificationNone,
	}
	for raw, want := range checkout {
		t.Run("checkout "+raw, func(t *testing.T) {
			p := new(providerMock)
			p.On("CheckoutSessionStatus", mock.Anything, "cs").Return(raw, nil)
			st := New(p, nil, time.Second, nil).Verify(ctx, Query{CheckoutSessionID: "cs"})
			assert.Equal(t, want, st.PaymentStatus)
			assert.Equal(t, want == model.VerificationPaid, st.IsPaid)
		})
	}

	intent := map[string]model.VerificationStatus{
		"succeeded":               model.VerificationPaid,
		"processing":              model.VerificationPending,
		"requires_payment_method": model.VerificationPending,
		"requires_action":         model.VerificationPending,
		"canceled":                model.VerificationFailed,
	}
	for raw, want := range intent {
		t.Run("intent "+raw, func(t *testing.T) {
			p := new(providerMock)
			p.On("PaymentIntentStatus", mock.Anything, "pi").Return(raw, nil)
			st := New(p, nil, time.Second, nil).Verify(ctx, Query{PaymentIntentID: "pi"})
			assert.Equal(t, want, st.PaymentStatus)
			assert.Equal(t, model.SourcePaymentIntent, st.Source)
		})
	}
}

func TestVerifySubscription(t *testing.T) {
	ctx := context.Background()

	for _, raw := range []string{"active", "past_due"} {
		t.Run(raw, func(t *testing.T) {
			p := new(providerMock)
			p.On("CheckoutSessionStatus", mock.Anything, "cs").Return("unpaid", nil)
			p.On("SubscriptionStatus", mock.Anything, "sub").Return(raw, nil)
			st := New(p, nil, time.Second, nil).Verify(ctx, Query{CheckoutSessionID: "cs", SubscriptionID: "sub"})
			assert.True(t, st.Verified())
			assert.True(t, st.IsActive)
			assert.Equal(t, raw, st.SubscriptionStatus)
			assert.Equal(t, model.SourceSubscription, st.Source)
		})
	}

	t.Run("canceled subscription keeps the per-appointment result", func(t *testing.T) {
		p := new(providerMock)
		p.On("SubscriptionStatus", mock.Anything, "sub").Return("canceled", nil)
		st := New(p, nil, time.Second, nil).Verify(ctx, Query{SubscriptionID: "sub"})
		assert.False(t, st.Verified())
		assert.False(t, st.IsActive)
		assert.Equal(t, "canceled", st.SubscriptionStatus)
	})

	t.Run("paid appointment skips the subscription lookup", func(t *testing.T) {
		p := new(providerMock)
		p.On("PaymentIntentStatus", mock.Anything, "pi").Return("succeeded", nil)
		st := New(p, nil, time.Second, nil).Verify(ctx, Query{PaymentIntentID: "pi", SubscriptionID: "sub"})
		assert.True(t, st.Verified())
		p.AssertNotCalled(t, "SubscriptionStatus", mock.Anything, mock.Anything)
	})
}

func TestVerifyLookupErrorFailsClosed(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("stripe unavailable")

	p := new(providerMock)
	p.On("CheckoutSessionStatus", mock.Anything, "cs").Return("", boom)
	st := New(p, nil, time.Second, nil).Reconcile(ctx, &model.Appointment{ID: "a1", CheckoutSessionID: "cs"})

	assert.Equal(t, model.VerificationError, st.PaymentStatus)
	assert.False(t, st.Verified())
	assert.True(t, st.Unknown())
	require.Error(t, st.Err)
	assert.True(t, errors.Is(st.Err, ErrPaymentVerification))
	assert.True(t, errors.Is(st.Err, boom))

	var ve *VerificationError
	require.True(t, errors.As(st.Err, &ve))
	assert.Equal(t, "cs", ve.ID)
	assert.Equal(t, model.SourceCheckoutSession, ve.Source)

	t.Run("subscription error", func(t *testing.T) {
		p := new(providerMock)
		p.On("SubscriptionStatus", mock.Anything, "sub").Return("", boom)
		st := New(p, nil, time.Second, nil).Verify(ctx, Query{SubscriptionID: "sub"})
		assert.Equal(t, model.VerificationError, st.PaymentStatus)
		assert.False(t, st.Verified())
	})

	t.Run("active subscription covers a failed checkout lookup", func(t *testing.T) {
		p := new(providerMock)
		p.On("CheckoutSessionStatus", mock.Anything, "cs").Return("", boom)
		p.On("SubscriptionStatus", mock.Anything, "sub").Return("active", nil)
		st := New(p, nil, time.Second, nil).Verify(ctx, Query{CheckoutSessionID: "cs", SubscriptionID: "sub"})
		assert.True(t, st.Verified())
		assert.NoError(t, st.Err)
		assert.Equal(t, model.SourceSubscription, st.Source)
	})

	t.Run("inactive subscription keeps the intent lookup error", func(t *testing.T) {
		p := new(providerMock)
		p.On("PaymentIntentStatus", mock.Anything, "pi").Return("", boom)
		p.On("SubscriptionStatus", mock.Anything, "sub").Return("canceled", nil)
		st := New(p, nil, time.Second, nil).Verify(ctx, Query{PaymentIntentID: "pi", SubscriptionID: "sub"})
		assert.Equal(t, model.VerificationError, st.PaymentStatus)
		assert.True(t, errors.Is(st.Err, boom))
		assert.Equal(t, "canceled", st.SubscriptionStatus)
		p.AssertCalled(t, "SubscriptionStatus", mock.Anything, "sub")
	})
}

func TestVerifyLookupHasDeadline(t *testing.T) {
	p := new(providerMock)
	p.On("PaymentIntentStatus", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	}), "pi").Return("succeeded", nil)

	st := New(p, nil, 50*time.Millisecond, nil).Verify(context.Background(), Query{PaymentIntentID: "pi"})
	assert.True(t, st.Verified())
	p.AssertExpectations(t)
}

func TestVerifyCachesOnlyPaid(t *testing.T) {
	ctx := context.Background()
	cache := mapCache{}

	p := new(providerMock)
	p.On("CheckoutSessionStatus", mock.Anything, "cs_paid").Return("paid", nil).Once()
	p.On("CheckoutSessionStatus", mock.Anything, "cs_open").Return("unpaid", nil).Twice()

	svc := New(p, cache, time.Second, nil)
	for i := 0; i < 2; i++ {
		assert.True(t, svc.Verify(ctx, Query{CheckoutSessionID: "cs_paid"}).Verified())
		assert.False(t, svc.Verify(ctx, Query{CheckoutSessionID: "cs_open"}).Verified())
	}

	assert.Equal(t, "paid", cache[cacheKeyCheckout+"cs_paid"])
	_, cached := cache[cacheKeyCheckout+"cs_open"]
	assert.False(t, cached)
	p.AssertExpectations(t)
}
