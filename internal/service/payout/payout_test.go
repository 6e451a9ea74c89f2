package payout

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alijeyrad/carebook_backend/config"
	"github.com/Alijeyrad/carebook_backend/internal/model"
	"github.com/Alijeyrad/carebook_backend/internal/repo"
	"github.com/Alijeyrad/carebook_backend/internal/service/reconcile"
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type fakeAppts struct {
	mu       sync.Mutex
	appts    map[string]*model.Appointment
	failMark int
}

func (f *fakeAppts) ListPayable(_ context.Context, therapistID string) ([]*model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Appointment
	for _, a := range f.appts {
		if a.TherapistID == therapistID && a.Status == model.StatusCompleted && !a.TherapistPaid {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeAppts) PayableTherapists(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, a := range f.appts {
		if a.Status == model.StatusCompleted && !a.TherapistPaid && !seen[a.TherapistID] {
			seen[a.TherapistID] = true
			out = append(out, a.TherapistID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeAppts) MarkTherapistPaid(_ context.Context, ids []string, paymentID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMark > 0 {
		f.failMark--
		return 0, errors.New("mongo unavailable")
	}
	var n int64
	for _, id := range ids {
		a := f.appts[id]
		if a == nil || a.TherapistPaid {
			continue
		}
		a.TherapistPaid = true
		a.TherapistPaymentID = paymentID
		n++
	}
	return n, nil
}

type fakeTherapists map[string]*model.Therapist

func (f fakeTherapists) Get(_ context.Context, id string) (*model.Therapist, error) {
	if t, ok := f[id]; ok {
		return t, nil
	}
	return nil, repo.ErrNotFound
}

type fakePayments struct {
	mu       sync.Mutex
	payments map[string]*model.TherapistPayment
	refs     map[string]string
	// onCreate runs before a payment is recorded.
	onCreate func()
}

func newFakePayments() *fakePayments {
	return &fakePayments{payments: map[string]*model.TherapistPayment{}, refs: map[string]string{}}
}

func (f *fakePayments) Create(_ context.Context, p *model.TherapistPayment) error {
	if f.onCreate != nil {
		f.onCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range p.Appointments {
		if _, ok := f.refs[id]; ok {
			return repo.ErrDuplicate
		}
	}
	for _, id := range p.Appointments {
		f.refs[id] = p.ID
	}
	cp := *p
	f.payments[p.ID] = &cp
	return nil
}

func (f *fakePayments) SetStatus(_ context.Context, id string, status model.PayoutStatus, paidAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok {
		return repo.ErrNotFound
	}
	p.Status = status
	p.PaidAt = paidAt
	return nil
}

func (f *fakePayments) ListByTherapist(_ context.Context, therapistID string) ([]*model.TherapistPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.TherapistPayment
	for _, p := range f.payments {
		if p.TherapistID == therapistID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakePayments) ListStale(_ context.Context, status model.PayoutStatus, before time.Time) ([]*model.TherapistPayment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.TherapistPayment
	for _, p := range f.payments {
		if p.Status == status && p.CreatedAt.Before(before) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakePayments) Referenced(_ context.Context, ids []string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]bool{}
	for _, id := range ids {
		if _, ok := f.refs[id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
	last *fakeLease
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]bool{}
	}
	if l.held[key] {
		return nil, nil
	}
	l.held[key] = true
	l.last = &fakeLease{locker: l, key: key}
	return l.last, nil
}

type fakeLease struct {
	locker    *fakeLocker
	key       string
	refreshes atomic.Int32
}

func (f *fakeLease) Refresh(context.Context, time.Duration) error {
	f.refreshes.Add(1)
	return nil
}

func (f *fakeLease) Unlock(context.Context) error {
	f.locker.mu.Lock()
	delete(f.locker.held, f.key)
	f.locker.mu.Unlock()
	return nil
}

// stateReconciler verifies by appointment id.
type stateReconciler map[string]model.PaymentState

func (r stateReconciler) Reconcile(_ context.Context, a *model.Appointment) model.PaymentState {
	if st, ok := r[a.ID]; ok {
		return st
	}
	return model.PaymentState{PaymentStatus: model.VerificationNone}
}

func (r stateReconciler) Verify(context.Context, reconcile.Query) model.PaymentState {
	return model.PaymentState{}
}

var verified = model.PaymentState{IsPaid: true, PaymentStatus: model.VerificationPaid, Source: model.SourceCheckoutSession}

func completedSessions(n int, paid int) []model.RecurringEntry {
	base := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	out := make([]model.RecurringEntry, n)
	for i := range out {
		pay := model.SessionNotPaid
		if i < paid {
			pay = model.SessionPaid
		}
		out[i] = model.CanonicalEntry(model.Session{
			Date: base.AddDate(0, 0, 7*i), Status: model.SessionCompleted, Payment: pay, Index: i,
		})
	}
	return out
}

type harness struct {
	svc      *payoutService
	appts    *fakeAppts
	payments *fakePayments
	locker   *fakeLocker
	recon    stateReconciler
	clock    time.Time
}

func newHarness(appts ...*model.Appointment) *harness {
	h := &harness{
		appts:    &fakeAppts{appts: map[string]*model.Appointment{}},
		payments: newFakePayments(),
		locker:   &fakeLocker{},
		recon:    stateReconciler{},
		clock:    time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC), // Wednesday
	}
	for _, a := range appts {
		h.appts.appts[a.ID] = a
		h.recon[a.ID] = verified
	}
	h.svc = New(Deps{
		Appointments: h.appts,
		Therapists:   fakeTherapists{"t2": {ID: "t2", Level: 2}},
		Payments:     h.payments,
		Reconciler:   h.recon,
		Locker:       h.locker,
		Billing:      config.DefaultBilling(),
	}).(*payoutService)
	h.svc.now = func() time.Time { return h.clock }
	return h
}

// ---------------------------------------------------------------------------
// tests
// ---------------------------------------------------------------------------

func TestPercentage(t *testing.T) {
	svc := newHarness().svc
	assert.Equal(t, 0.50, svc.Percentage(4, 1))
	assert.Equal(t, 0.57, svc.Percentage(9, 1))
	assert.Equal(t, 0.57, svc.Percentage(1, 2))
	assert.Equal(t, 0.50, svc.Percentage(8, 0))
}

func TestPendingTiering(t *testing.T) {
	nine := &model.Appointment{ID: "a9", TherapistID: "t1", Status: model.StatusCompleted, Price: 900, TotalSessions: 9, Recurring: completedSessions(9, 0)}
	four := &model.Appointment{ID: "a4", TherapistID: "t1", Status: model.StatusCompleted, Price: 400, TotalSessions: 4, Recurring: completedSessions(4, 0)}
	h := newHarness(nine, four)

	items, err := h.svc.Breakdown(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, items, 2)

	byID := map[string]LineItem{}
	for _, it := range items {
		byID[it.AppointmentID] = it
	}
	assert.Equal(t, 513.0, byID["a9"].Amount)
	assert.Equal(t, 9, byID["a9"].SessionCount)
	assert.Equal(t, 0.57, byID["a9"].Percentage)
	assert.Equal(t, 200.0, byID["a4"].Amount)
	assert.Equal(t, 0.50, byID["a4"].Percentage)

	sum, err := h.svc.Pending(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 713.0, sum.TotalPending)
	assert.Zero(t, sum.TotalPaid)
	assert.Equal(t, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), sum.ExpectedPayoutDate)
}

func TestBreakdownCountsOnlyUnpaidCompletedSessions(t *testing.T) {
	a := &model.Appointment{ID: "a1", TherapistID: "t1", Status: model.StatusCompleted, Price: 400, TotalSessions: 4, Recurring: completedSessions(3, 2)}
	h := newHarness(a)

	items, err := h.svc.Breakdown(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	// main session plus one unpaid recurring entry
	assert.Equal(t, 2, items[0].SessionCount)
	assert.Equal(t, 100.0, items[0].Amount)
}

func TestBreakdownSkipsUnverifiedAndErrors(t *testing.T) {
	ok := &model.Appointment{ID: "ok", TherapistID: "t1", Status: model.StatusCompleted, Price: 100, TotalSessions: 1}
	unpaid := &model.Appointment{ID: "unpaid", TherapistID: "t1", Status: model.StatusCompleted, Price: 100, TotalSessions: 1}
	lookupErr := &model.Appointment{ID: "err", TherapistID: "t1", Status: model.StatusCompleted, Price: 100, TotalSessions: 1}
	h := newHarness(ok, unpaid, lookupErr)
	h.recon["unpaid"] = model.PaymentState{PaymentStatus: model.VerificationPending}
	h.recon["err"] = model.PaymentState{PaymentStatus: model.VerificationError, Err: errors.New("timeout")}

	items, err := h.svc.Breakdown(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "ok", items[0].AppointmentID)
}

func TestTherapistLevelRaisesRate(t *testing.T) {
	a := &model.Appointment{ID: "a1", TherapistID: "t2", Status: model.StatusCompleted, Price: 100, TotalSessions: 1}
	h := newHarness(a)
	items, err := h.svc.Breakdown(context.Background(), "t2")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 57.0, items[0].Amount)
}

func TestFinalize(t *testing.T) {
	ctx := context.Background()
	a1 := &model.Appointment{ID: "a1", TherapistID: "t1", Status: model.StatusCompleted, Price: 400, TotalSessions: 4, Recurring: completedSessions(4, 0)}
	a2 := &model.Appointment{ID: "a2", TherapistID: "t1", Status: model.StatusCompleted, Price: 100, TotalSessions: 1}
	h := newHarness(a1, a2)

	p, err := h.svc.Finalize(ctx, FinalizeRequest{TherapistID: "t1", Method: "bank_transfer", Actor: model.Actor{ID: "admin1", Role: model.RoleAdmin}})
	require.NoError(t, err)
	assert.Equal(t, 250.0, p.Amount)
	assert.Equal(t, 0.50, p.PayoutPercentage)
	assert.Equal(t, model.PayoutCompleted, p.Status)
	assert.ElementsMatch(t, []string{"a1", "a2"}, p.Appointments)
	assert.Len(t, p.Sessions, 5)
	assert.Equal(t, "admin1", p.CreatedBy)

	assert.True(t, h.appts.appts["a1"].TherapistPaid)
	assert.Equal(t, p.ID, h.appts.appts["a2"].TherapistPaymentID)
	assert.Equal(t, model.PayoutCompleted, h.payments.payments[p.ID].Status)

	_, err = h.svc.Finalize(ctx, FinalizeRequest{TherapistID: "t1"})
	assert.ErrorIs(t, err, ErrNothingToPay, "the flip prevents a second payout")

	sum, err := h.svc.Pending(ctx, "t1")
	require.NoError(t, err)
	assert.Zero(t, sum.TotalPending)
	assert.Equal(t, 250.0, sum.TotalPaid)
}

func TestFinalizeRespectsLock(t *testing.T) {
	a := &model.Appointment{ID: "a1", TherapistID: "t1", Status: model.StatusCompleted, Price: 100, TotalSessions: 1}
	h := newHarness(a)
	lease, err := h.locker.TryLock(context.Background(), "payout:lock:t1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lease)

	_, err = h.svc.Finalize(context.Background(), FinalizeRequest{TherapistID: "t1"})
	assert.ErrorIs(t, err, ErrPayoutInProgress)

	require.NoError(t, lease.Unlock(context.Background()))
	_, err = h.svc.Finalize(context.Background(), FinalizeRequest{TherapistID: "t1"})
	assert.NoError(t, err)
}

func TestFinalizeRefreshesLockWhileSettling(t *testing.T) {
	a := &model.Appointment{ID: "a1", TherapistID: "t1", Status: model.StatusCompleted, Price: 100, TotalSessions: 1}
	h := newHarness(a)
	h.svc.lockTTL = 20 * time.Millisecond

	h.payments.onCreate = func() {
		h.locker.mu.Lock()
		held := h.locker.held["payout:lock:t1"]
		h.locker.mu.Unlock()
		require.True(t, held)
		time.Sleep(5 * h.svc.lockTTL)
	}

	_, err := h.svc.Finalize(context.Background(), FinalizeRequest{TherapistID: "t1"})
	require.NoError(t, err)
	require.NotNil(t, h.locker.last)
	assert.GreaterOrEqual(t, h.locker.last.refreshes.Load(), int32(2))

	h.locker.mu.Lock()
	defer h.locker.mu.Unlock()
	assert.False(t, h.locker.held["payout:lock:t1"], "released after settlement")
}

func TestFinalizeCrashRecovery(t *testing.T) {
	ctx := context.Background()
	a := &model.Appointment{ID: "a1", TherapistID: "t1", Status: model.StatusCompleted, Price: 300, TotalSessions: 3, Recurring: completedSessions(3, 0)}
	h := newHarness(a)
	h.appts.failMark = 1

	p, err := h.svc.Finalize(ctx, FinalizeRequest{TherapistID: "t1"})
	require.Error(t, err)
	require.NotNil(t, p)
	assert.Equal(t, model.PayoutProcessing, h.payments.payments[p.ID].Status)
	assert.False(t, h.appts.appts["a1"].TherapistPaid)

	// the unsettled appointment is excluded while its payment is processing
	_, err = h.svc.Finalize(ctx, FinalizeRequest{TherapistID: "t1"})
	assert.ErrorIs(t, err, ErrNothingToPay)

	n, err := h.svc.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "payments inside the grace period are left alone")

	h.clock = h.clock.Add(time.Hour)
	n, err = h.svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, h.appts.appts["a1"].TherapistPaid)
	assert.Equal(t, model.PayoutCompleted, h.payments.payments[p.ID].Status)

	n, err = h.svc.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunScheduled(t *testing.T) {
	a := &model.Appointment{ID: "a1", TherapistID: "t1", Status: model.StatusCompleted, Price: 100, TotalSessions: 1}
	b := &model.Appointment{ID: "b1", TherapistID: "t3", Status: model.StatusCompleted, Price: 100, TotalSessions: 1}
	h := newHarness(a, b)
	h.recon["b1"] = model.PaymentState{PaymentStatus: model.VerificationNone}

	rep, err := h.svc.RunScheduled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunReport{Finalized: 1, Skipped: 1, Amount: 50}, rep)
}

func TestNextPayoutDate(t *testing.T) {
	fri := time.Friday
	assert.Equal(t, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), NextPayoutDate(time.Date(2025, 3, 14, 23, 0, 0, 0, time.UTC), fri))
	assert.Equal(t, time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC), NextPayoutDate(time.Date(2025, 3, 15, 1, 0, 0, 0, time.UTC), fri))
}
