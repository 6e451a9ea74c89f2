// Package payout aggregates and settles therapist earnings.
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Alijeyrad/carebook_backend/config"
	"github.com/Alijeyrad/carebook_backend/internal/events"
	"github.com/Alijeyrad/carebook_backend/internal/model"
	"github.com/Alijeyrad/carebook_backend/internal/repo"
	"github.com/Alijeyrad/carebook_backend/internal/service/reconcile"
	"github.com/Alijeyrad/carebook_backend/internal/service/recurring"
	"github.com/Alijeyrad/carebook_backend/pkg/observability"
	redisx "github.com/Alijeyrad/carebook_backend/pkg/redis"
)

// ---------------------------------------------------------------------------
// Interface
// ---------------------------------------------------------------------------

type Service interface {
	Percentage(totalSessions, therapistLevel int) float64
	Breakdown(ctx context.Context, therapistID string) ([]LineItem, error)
	Pending(ctx context.Context, therapistID string) (*Summary, error)
	Finalize(ctx context.Context, req FinalizeRequest) (*model.TherapistPayment, error)
	Recover(ctx context.Context) (int, error)
	RunScheduled(ctx context.Context) (RunReport, error)
	History(ctx context.Context, therapistID string) ([]*model.TherapistPayment, error)
}

type AppointmentStore interface {
	// ListPayable returns completed appointments of the therapist with therapistPaid not true.
	ListPayable(ctx context.Context, therapistID string) ([]*model.Appointment, error)
	PayableTherapists(ctx context.Context) ([]string, error)
	// MarkTherapistPaid is idempotent; it also marks completed sessions paid.
	MarkTherapistPaid(ctx context.Context, appointmentIDs []string, paymentID string) (int64, error)
}

type TherapistStore interface {
	Get(ctx context.Context, id string) (*model.Therapist, error)
}

type PaymentStore interface {
	// Create inserts the payment and its appointment refs atomically. It
	// returns repo.ErrDuplicate if an appointment is already referenced.
	Create(ctx context.Context, p *model.TherapistPayment) error
	SetStatus(ctx context.Context, id string, status model.PayoutStatus, paidAt *time.Time) error
	ListByTherapist(ctx context.Context, therapistID string) ([]*model.TherapistPayment, error)
	ListStale(ctx context.Context, status model.PayoutStatus, before time.Time) ([]*model.TherapistPayment, error)
	// Referenced returns the subset of ids already covered by any payment.
	Referenced(ctx context.Context, appointmentIDs []string) (map[string]bool, error)
}

type Lease interface {
	Refresh(ctx context.Context, ttl time.Duration) error
	Unlock(ctx context.Context) error
}

// Locker returns a nil Lease when the key is held elsewhere.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

type redisLocker struct {
	l *redisx.Locker
}

func NewRedisLocker(l *redisx.Locker) Locker {
	return redisLocker{l: l}
}

func (r redisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	lk, err := r.l.TryLock(ctx, key, ttl)
	if err != nil || lk == nil {
		return nil, err
	}
	return lk, nil
}

// LineItem is the payable share of one appointment.
type LineItem struct {
	AppointmentID string                 `json:"appointmentId"`
	TotalSessions int                    `json:"totalSessions"`
	SessionCount  int                    `json:"sessionCount"`
	UnitPrice     float64                `json:"unitPrice"`
	Percentage    float64                `json:"percentage"`
	Amount        float64                `json:"amount"`
	Sessions      []model.SettledSession `json:"sessions"`
}

type Summary struct {
	TotalPending       float64    `json:"totalPending"`
	TotalPaid          float64    `json:"totalPaid"`
	ExpectedPayoutDate time.Time  `json:"expectedPayoutDate"`
	Items              []LineItem `json:"items,omitempty"`
}

type FinalizeRequest struct {
	TherapistID string
	Method      string
	Actor       model.Actor
}

type RunReport struct {
	Finalized int     `json:"finalized"`
	Skipped   int     `json:"skipped"`
	Failed    int     `json:"failed"`
	Amount    float64 `json:"amount"`
}

// ---------------------------------------------------------------------------
// Implementation
// ---------------------------------------------------------------------------

const lockTTL = 2 * time.Minute

type payoutService struct {
	appts      AppointmentStore
	therapists TherapistStore
	payments   PaymentStore
	reconciler reconcile.Service
	locker     Locker
	publisher  events.Publisher
	billing    config.BillingConfig
	metrics    *observability.EngineMetrics
	now        func() time.Time
	lockTTL    time.Duration
}

type Deps struct {
	Appointments AppointmentStore
	Therapists   TherapistStore
	Payments     PaymentStore
	Reconciler   reconcile.Service
	Locker       Locker
	Publisher    events.Publisher
	Billing      config.BillingConfig
	Metrics      *observability.EngineMetrics
}

func New(d Deps) Service {
	pub := d.Publisher
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &payoutService{
		appts:      d.Appointments,
		therapists: d.Therapists,
		payments:   d.Payments,
		reconciler: d.Reconciler,
		locker:     d.Locker,
		publisher:  pub,
		billing:    d.Billing,
		metrics:    d.Metrics,
		now:        time.Now,
		lockTTL:    lockTTL,
	}
}

func (s *payoutService) Percentage(totalSessions, therapistLevel int) float64 {
	if totalSessions >= s.billing.PayoutTierSessions || therapistLevel >= model.SeniorLevel {
		return s.billing.PayoutTierRate
	}
	return s.billing.PayoutBaseRate
}

func (s *payoutService) Breakdown(ctx context.Context, therapistID string) ([]LineItem, error) {
	if therapistID == "" {
		return nil, ErrTherapistMissing
	}

	level := 0
	th, err := s.therapists.Get(ctx, therapistID)
	switch {
	case err == nil:
		level = th.Level
	case errors.Is(err, repo.ErrNotFound):
	default:
		return nil, fmt.Errorf("load therapist: %w", err)
	}

	appts, err := s.appts.ListPayable(ctx, therapistID)
	if err != nil {
		return nil, fmt.Errorf("list payable appointments: %w", err)
	}
	if len(appts) == 0 {
		return nil, nil
	}

	ids := make([]string, len(appts))
	for i, a := range appts {
		ids[i] = a.ID
	}
	referenced, err := s.payments.Referenced(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load settled references: %w", err)
	}

	items := make([]LineItem, 0, len(appts))
	for _, a := range appts {
		if referenced[a.ID] {
			continue
		}
		if res := recurring.Apply(a); len(res.Warnings) > 0 {
			recurring.LogWarnings(a.ID, res.Warnings)
		}

		st := s.reconciler.Reconcile(ctx, a)
		if !st.Verified() {
			continue
		}

		if item, ok := s.lineItem(a, level); ok {
			items = append(items, item)
		}
	}
	return items, nil
}

func (s *payoutService) lineItem(a *model.Appointment, level int) (LineItem, bool) {
	total := a.TotalSessions
	if total < 1 {
		total = 1
	}

	sessions := []model.SettledSession{{
		AppointmentID: a.ID,
		Index:         model.MainSessionIndex,
		Date:          a.Date,
		Status:        model.SessionCompleted,
	}}
	for _, sess := range a.Sessions {
		if len(sessions) >= total {
			break
		}
		if sess.Status == model.SessionCompleted && sess.Payment != model.SessionPaid {
			sessions = append(sessions, model.SettledSession{
				AppointmentID: a.ID,
				Index:         sess.Index,
				Date:          sess.Date,
				Status:        sess.Status,
			})
		}
	}

	unit := decimal.NewFromFloat(a.Price).Div(decimal.NewFromInt(int64(total)))
	pct := s.Percentage(a.TotalSessions, level)
	amount := unit.Mul(decimal.NewFromInt(int64(len(sessions)))).Mul(decimal.NewFromFloat(pct)).Round(2)
	if !amount.IsPositive() {
		return LineItem{}, false
	}

	unitF := unit.Round(2).InexactFloat64()
	for i := range sessions {
		sessions[i].Price = unitF
	}
	return LineItem{
		AppointmentID: a.ID,
		TotalSessions: a.TotalSessions,
		SessionCount:  len(sessions),
		UnitPrice:     unitF,
		Percentage:    pct,
		Amount:        amount.InexactFloat64(),
		Sessions:      sessions,
	}, true
}

func (s *payoutService) Pending(ctx context.Context, therapistID string) (*Summary, error) {
	items, err := s.Breakdown(ctx, therapistID)
	if err != nil {
		return nil, err
	}
	history, err := s.payments.ListByTherapist(ctx, therapistID)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}

	pending := decimal.Zero
	for _, it := range items {
		pending = pending.Add(decimal.NewFromFloat(it.Amount))
	}
	paid := decimal.Zero
	for _, p := range history {
		if p.Status == model.PayoutCompleted || p.Status == model.PayoutProcessing {
			paid = paid.Add(decimal.NewFromFloat(p.Amount))
		}
	}

	return &Summary{
		TotalPending:       pending.Round(2).InexactFloat64(),
		TotalPaid:          paid.Round(2).InexactFloat64(),
		ExpectedPayoutDate: NextPayoutDate(s.now(), s.billing.PayoutDay()),
		Items:              items,
	}, nil
}

// NextPayoutDate is the next occurrence of day at 00:00 UTC, today included.
func NextPayoutDate(now time.Time, day time.Weekday) time.Time {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	diff := (int(day) - int(today.Weekday()) + 7) % 7
	return today.AddDate(0, 0, diff)
}

func (s *payoutService) Finalize(ctx context.Context, req FinalizeRequest) (*model.TherapistPayment, error) {
	if req.TherapistID == "" {
		return nil, ErrTherapistMissing
	}

	key := "payout:lock:" + req.TherapistID
	lease, err := s.locker.TryLock(ctx, key, s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire payout lock: %w", err)
	}
	if lease == nil {
		return nil, ErrPayoutInProgress
	}
	stop := s.keepAlive(ctx, key, lease)
	defer func() {
		stop()
		if err := lease.Unlock(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("payout: lock release failed", "key", key, "err", err)
		}
	}()

	items, err := s.Breakdown(ctx, req.TherapistID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNothingToPay
	}

	p := s.buildPayment(req, items)

	// phase 1: the payment and its appointment refs, in one transaction
	if err := s.payments.Create(ctx, p); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrPayoutInProgress
		}
		return nil, fmt.Errorf("record payout: %w", err)
	}
	s.metrics.Payout(ctx, "recorded")

	if err := s.settle(ctx, p); err != nil {
		// Left in processing; Recover completes it.
		slog.Error("payout: settlement incomplete, left for recovery",
			"payment_id", p.ID, "therapist_id", p.TherapistID, "err", err)
		return p, err
	}

	slog.Info("payout: finalized",
		"payment_id", p.ID,
		"therapist_id", p.TherapistID,
		"amount", p.Amount,
		"appointments", len(p.Appointments),
	)
	s.emit(ctx, p, false)
	return p, nil
}

// keepAlive extends the lease every half TTL until the returned func is
// called, so a slow settlement cannot outlive the lock.
func (s *payoutService) keepAlive(ctx context.Context, key string, lease Lease) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		tick := time.NewTicker(s.lockTTL / 2)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				if err := lease.Refresh(ctx, s.lockTTL); err != nil {
					slog.Warn("payout: lock refresh failed", "key", key, "err", err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (s *payoutService) buildPayment(req FinalizeRequest, items []LineItem) *model.TherapistPayment {
	now := s.now().UTC()
	total := decimal.Zero
	gross := decimal.Zero
	uniform := items[0].Percentage

	p := &model.TherapistPayment{
		ID:            uuid.Must(uuid.NewV7()).String(),
		TherapistID:   req.TherapistID,
		Currency:      s.billing.Currency,
		PaymentMethod: req.Method,
		Status:        model.PayoutProcessing,
		CreatedBy:     req.Actor.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if p.PaymentMethod == "" {
		p.PaymentMethod = s.billing.PayoutMethod
	}

	for _, it := range items {
		total = total.Add(decimal.NewFromFloat(it.Amount))
		gross = gross.Add(decimal.NewFromFloat(it.UnitPrice).Mul(decimal.NewFromInt(int64(it.SessionCount))))
		if it.Percentage != uniform {
			uniform = 0
		}
		p.Appointments = append(p.Appointments, it.AppointmentID)
		p.Sessions = append(p.Sessions, it.Sessions...)
	}

	p.Amount = total.Round(2).InexactFloat64()
	p.PayoutPercentage = uniform
	if uniform == 0 && gross.IsPositive() {
		p.PayoutPercentage = total.Div(gross).Round(4).InexactFloat64()
	}
	return p
}

// settle runs phases 2 and 3. Both are safe to repeat.
func (s *payoutService) settle(ctx context.Context, p *model.TherapistPayment) error {
	if _, err := s.appts.MarkTherapistPaid(ctx, p.Appointments, p.ID); err != nil {
		return fmt.Errorf("flag appointments paid: %w", err)
	}
	paidAt := s.now().UTC()
	if err := s.payments.SetStatus(ctx, p.ID, model.PayoutCompleted, &paidAt); err != nil {
		return fmt.Errorf("complete payout: %w", err)
	}
	p.Status = model.PayoutCompleted
	p.PaidAt = &paidAt
	s.metrics.Payout(ctx, "completed")
	return nil
}

func (s *payoutService) Recover(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.billing.PayoutRecoveryGrace())
	stale, err := s.payments.ListStale(ctx, model.PayoutProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale payouts: %w", err)
	}

	var recovered int
	var errs []error
	for _, p := range stale {
		if err := s.settle(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("payment %s: %w", p.ID, err))
			continue
		}
		recovered++
		s.metrics.Payout(ctx, "recovered")
		slog.Warn("payout: recovered stuck payment", "payment_id", p.ID, "therapist_id", p.TherapistID)
		s.emit(ctx, p, true)
	}
	return recovered, errors.Join(errs...)
}

func (s *payoutService) RunScheduled(ctx context.Context) (RunReport, error) {
	var rep RunReport
	ids, err := s.appts.PayableTherapists(ctx)
	if err != nil {
		return rep, fmt.Errorf("list payable therapists: %w", err)
	}

	actor := model.System("payout-scheduler")
	for _, id := range ids {
		p, err := s.Finalize(ctx, FinalizeRequest{TherapistID: id, Actor: actor})
		switch {
		case err == nil:
			rep.Finalized++
			rep.Amount += p.Amount
		case errors.Is(err, ErrNothingToPay), errors.Is(err, ErrPayoutInProgress):
			rep.Skipped++
		default:
			rep.Failed++
			slog.Error("payout: scheduled payout failed", "therapist_id", id, "err", err)
		}
	}
	return rep, nil
}

func (s *payoutService) History(ctx context.Context, therapistID string) ([]*model.TherapistPayment, error) {
	if therapistID == "" {
		return nil, ErrTherapistMissing
	}
	return s.payments.ListByTherapist(ctx, therapistID)
}

func (s *payoutService) emit(ctx context.Context, p *model.TherapistPayment, recovered bool) {
	events.Emit(ctx, s.publisher, events.SubjectPayoutFinalized, p.TherapistID, events.PayoutFinalized{
		PaymentID:    p.ID,
		TherapistID:  p.TherapistID,
		Amount:       p.Amount,
		Currency:     p.Currency,
		Appointments: len(p.Appointments),
		Recovered:    recovered,
		At:           s.now().UTC(),
	})
}
