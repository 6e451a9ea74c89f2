package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alijeyrad/carebook_backend/internal/model"
	"github.com/Alijeyrad/carebook_backend/internal/repo"
)

// memStore mirrors the atomic semantics of the Mongo store.
type memStore struct {
	mu       sync.Mutex
	balances map[string]*model.Balance
}

func newMemStore() *memStore { return &memStore{balances: map[string]*model.Balance{}} }

func (m *memStore) Get(_ context.Context, userID string) (*model.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[userID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memStore) Credit(_ context.Context, userID string, amount float64, sessions int, entry model.HistoryEntry, payment model.PaymentRecord) (*model.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[userID]
	if !ok {
		b = &model.Balance{ID: "bal-" + userID, UserID: userID}
		m.balances[userID] = b
	}
	if b.HasPayment(payment.PaymentID) {
		return nil, repo.ErrDuplicate
	}
	b.BalanceAmount += amount
	b.TotalSessions += sessions
	b.History = append(b.History, entry)
	b.Payments = append(b.Payments, payment)
	cp := *b
	return &cp, nil
}

func (m *memStore) Debit(_ context.Context, userID string, amount float64, sessions int, entry model.HistoryEntry) (*model.Balance, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[userID]
	if !ok {
		return nil, false, nil
	}
	if b.BalanceAmount < amount {
		cp := *b
		return &cp, false, nil
	}
	b.BalanceAmount -= amount
	b.SpentSessions += sessions
	b.History = append(b.History, entry)
	cp := *b
	return &cp, true, nil
}

func (m *memStore) ClampUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[userID]; ok && b.SpentSessions > b.TotalSessions {
		b.SpentSessions = b.TotalSessions
	}
	return nil
}

func (m *memStore) ClampAll(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, b := range m.balances {
		if b.SpentSessions > b.TotalSessions {
			b.SpentSessions = b.TotalSessions
			n++
		}
	}
	return n, nil
}

func ref(id string) *PaymentRef { return &PaymentRef{ID: id} }

func TestAddRequiresPaymentRef(t *testing.T) {
	svc := New(newMemStore(), "usd", nil)
	_, err := svc.Add(context.Background(), AddRequest{UserID: "u1", Amount: 10})
	assert.ErrorIs(t, err, ErrPaymentRefRequired)

	_, err = svc.Add(context.Background(), AddRequest{UserID: "u1", Amount: 10, PaymentRef: &PaymentRef{ID: "  "}})
	assert.ErrorIs(t, err, ErrPaymentRefRequired)

	_, err = svc.Add(context.Background(), AddRequest{UserID: "u1", Amount: 0, PaymentRef: ref("pi_1")})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAddIsIdempotentPerPaymentRef(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := New(store, "usd", nil)

	b, err := svc.Add(ctx, AddRequest{UserID: "u1", Amount: 150, Reason: "top-up", PaymentRef: ref("pi_1")})
	require.NoError(t, err)
	assert.Equal(t, 150.0, b.BalanceAmount)

	b, err = svc.Add(ctx, AddRequest{UserID: "u1", Amount: 150, Reason: "top-up", PaymentRef: ref("pi_1")})
	require.NoError(t, err, "duplicate credit is silent")
	assert.Equal(t, 150.0, b.BalanceAmount)

	stored := store.balances["u1"]
	assert.Len(t, stored.History, 1)
	assert.Len(t, stored.Payments, 1)
	assert.Equal(t, "usd", stored.Payments[0].Currency)
}

func TestRemoveRejectsInsteadOfClamping(t *testing.T) {
	ctx := context.Background()
	svc := New(newMemStore(), "usd", nil)

	_, err := svc.Remove(ctx, RemoveRequest{UserID: "u1", Amount: 5})
	var ibe *InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.Equal(t, 0.0, ibe.Available)

	_, err = svc.Add(ctx, AddRequest{UserID: "u1", Amount: 40, PaymentRef: ref("admin:1"), Admin: "a1"})
	require.NoError(t, err)

	_, err = svc.Remove(ctx, RemoveRequest{UserID: "u1", Amount: 40.01})
	require.ErrorAs(t, err, &ibe)
	assert.True(t, errors.Is(err, ErrInsufficientBalance))
	assert.Equal(t, 40.01, ibe.Requested)
	assert.Equal(t, 40.0, ibe.Available)

	b, err := svc.Remove(ctx, RemoveRequest{UserID: "u1", Amount: 40, Reason: "correction", Admin: "a1"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, b.BalanceAmount)
	assert.Equal(t, model.ActionRemoved, b.History[len(b.History)-1].Action)
}

func TestBalanceNeverNegative(t *testing.T) {
	ctx := context.Background()
	svc := New(newMemStore(), "usd", nil)
	ops := []Mutation{
		{UserID: "u1", Action: ActionAdd, Amount: 30, PaymentRef: ref("p1")},
		{UserID: "u1", Action: ActionRemove, Amount: 20},
		{UserID: "u1", Action: ActionUse, Amount: 20},
		{UserID: "u1", Action: ActionAdd, Amount: 5, PaymentRef: ref("p2")},
		{UserID: "u1", Action: ActionUse, Amount: 15},
		{UserID: "u1", Action: ActionRemove, Amount: 1},
	}
	for _, op := range ops {
		b, err := svc.Apply(ctx, op)
		if err != nil {
			require.ErrorIs(t, err, ErrInsufficientBalance)
			continue
		}
		assert.GreaterOrEqual(t, b.BalanceAmount, 0.0)
	}
	b, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, b.BalanceAmount)
}

func TestApplyUnknownAction(t *testing.T) {
	_, err := New(newMemStore(), "usd", nil).Apply(context.Background(), Mutation{UserID: "u1", Action: "steal", Amount: 1})
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestUseRecordsSurcharge(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := New(store, "usd", nil)
	_, err := svc.Add(ctx, AddRequest{UserID: "u1", Amount: 50, PaymentRef: &PaymentRef{ID: "p1", Sessions: 2}})
	require.NoError(t, err)

	b, err := svc.Use(ctx, UseRequest{UserID: "u1", Amount: 20, AppointmentID: "a1", Surcharge: true, Sessions: 1, Reason: "same-day surcharge"})
	require.NoError(t, err)
	assert.Equal(t, 30.0, b.BalanceAmount)
	assert.Equal(t, 1, b.RemainingSessions())
	last := b.History[len(b.History)-1]
	assert.True(t, last.Surcharge)
	assert.Equal(t, "a1", last.AppointmentID)
}

func TestComputeRefund(t *testing.T) {
	tests := []struct {
		name     string
		appt     model.Appointment
		fraction float64
		want     float64
	}{
		{
			name:     "stripe remaining sessions at unit price",
			appt:     model.Appointment{PaymentMethod: model.MethodStripe, Price: 300, TotalSessions: 3, CompletedSessions: 1, Payment: model.PaymentInfo{UnitPrice: 100}},
			fraction: 0.5,
			want:     100,
		},
		{
			name:     "stripe full refund",
			appt:     model.Appointment{PaymentMethod: model.MethodStripe, Price: 300, TotalSessions: 3, CompletedSessions: 1, Payment: model.PaymentInfo{UnitPrice: 100}},
			fraction: 1,
			want:     200,
		},
		{
			name:     "mixed uses remaining sessions",
			appt:     model.Appointment{PaymentMethod: model.MethodMixed, Price: 400, TotalSessions: 4, CompletedSessions: 3},
			fraction: 1,
			want:     100,
		},
		{
			name:     "balance refunds a fraction of price",
			appt:     model.Appointment{IsBalance: true, Price: 300, TotalSessions: 3, CompletedSessions: 2},
			fraction: 0.5,
			want:     150,
		},
		{
			name:     "single session without unit price",
			appt:     model.Appointment{CheckoutSessionID: "cs", Price: 89.99, TotalSessions: 1},
			fraction: 0.5,
			want:     45,
		},
		{
			name:     "everything completed",
			appt:     model.Appointment{PaymentMethod: model.MethodStripe, Price: 300, TotalSessions: 3, CompletedSessions: 4},
			fraction: 1,
			want:     0,
		},
		{
			name:     "rounded to cents",
			appt:     model.Appointment{PaymentMethod: model.MethodStripe, Price: 100, TotalSessions: 3},
			fraction: 0.5,
			want:     50,
		},
		{
			name:     "missing session count counts as one session",
			appt:     model.Appointment{CheckoutSessionID: "cs", Price: 120, TotalSessions: 0},
			fraction: 1,
			want:     120,
		},
		{
			name:     "zero fraction",
			appt:     model.Appointment{PaymentMethod: model.MethodStripe, Price: 100, TotalSessions: 1},
			fraction: 0,
			want:     0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeRefund(&tt.appt, tt.fraction))
		})
	}
}

func TestRefundCreditsOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := New(store, "usd", nil)
	appt := &model.Appointment{
		ID: "a1", PatientID: "p1", PaymentMethod: model.MethodStripe,
		Price: 300, TotalSessions: 3, CompletedSessions: 1, Payment: model.PaymentInfo{UnitPrice: 100},
	}

	res, err := svc.Refund(ctx, appt, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 100.0, res.Amount)
	assert.False(t, res.Duplicate)

	res, err = svc.Refund(ctx, appt, 0.5)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	b := store.balances["p1"]
	assert.Equal(t, 100.0, b.BalanceAmount)
	require.Len(t, b.Payments, 1)
	assert.Equal(t, "refund:a1", b.Payments[0].PaymentID)
	assert.Equal(t, "refund", b.Payments[0].PaymentType)
}

func TestGetClampsAndRepair(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.balances["u1"] = &model.Balance{UserID: "u1", TotalSessions: 2, SpentSessions: 5}
	store.balances["u2"] = &model.Balance{UserID: "u2", TotalSessions: 1, SpentSessions: 3}
	svc := New(store, "usd", nil)

	b, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, b.SpentSessions)
	assert.Equal(t, 0, b.RemainingSessions())

	n, err := svc.RepairNegative(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = svc.RepairNegative(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	empty, err := svc.Get(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, "nobody", empty.UserID)
	assert.Zero(t, empty.BalanceAmount)
}

func TestConcurrentCreditsOfSamePayment(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	svc := New(store, "usd", nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Add(ctx, AddRequest{UserID: "u1", Amount: 25, PaymentRef: ref("cs_replayed")})
		}()
	}
	wg.Wait()

	assert.Equal(t, 25.0, store.balances["u1"].BalanceAmount)
	assert.Len(t, store.balances["u1"].Payments, 1)
}
