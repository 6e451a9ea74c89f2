// Package appointment orchestrates status changes and their side effects.
package appointment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Alijeyrad/carebook_backend/config"
	"github.com/Alijeyrad/carebook_backend/internal/events"
	"github.com/Alijeyrad/carebook_backend/internal/model"
	"github.com/Alijeyrad/carebook_backend/internal/repo"
	"github.com/Alijeyrad/carebook_backend/internal/service/ledger"
	"github.com/Alijeyrad/carebook_backend/internal/service/reconcile"
	"github.com/Alijeyrad/carebook_backend/internal/service/recurring"
	"github.com/Alijeyrad/carebook_backend/internal/service/status"
	"github.com/Alijeyrad/carebook_backend/pkg/observability"
)

// ---------------------------------------------------------------------------
// DTOs
// ---------------------------------------------------------------------------

type TransitionRequest struct {
	AppointmentID string
	TargetStatus  model.Status
	Actor         model.Actor
	Reason        string
	Meta          Meta
}

// Meta carries transition-specific inputs.
type Meta struct {
	TherapistID string `json:"therapistId,omitempty"`
	// ChargeFraction overrides the refund fraction on admin cancellations.
	ChargeFraction *float64 `json:"chargeFraction,omitempty" validate:"omitempty,gte=0,lte=1"`
}

type RescheduleRequest struct {
	AppointmentID string
	Actor         model.Actor
	Date          time.Time
	// SessionIndex moves one recurring session instead of the appointment date.
	SessionIndex *int
	Reason       string
}

type CompleteSessionRequest struct {
	AppointmentID string
	Index         int
	Actor         model.Actor
}

type MarkPaidRequest struct {
	AppointmentID string
	// Indexes empty means every completed session.
	Indexes []int
	Actor   model.Actor
}

type View struct {
	Appointment  *model.Appointment `json:"appointment"`
	PaymentState model.PaymentState `json:"paymentState"`
}

type ExpireReport struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Failed  int `json:"failed"`
}

// ---------------------------------------------------------------------------
// Interface
// ---------------------------------------------------------------------------

type Service interface {
	Get(ctx context.Context, id string, actor model.Actor) (*View, error)
	Transition(ctx context.Context, req TransitionRequest) (*model.Appointment, error)
	Reschedule(ctx context.Context, req RescheduleRequest) (*model.Appointment, error)
	CompleteSession(ctx context.Context, req CompleteSessionRequest) (*model.Appointment, error)
	MarkSessionsPaid(ctx context.Context, req MarkPaidRequest) (*model.Appointment, error)
	ExpireStale(ctx context.Context, now time.Time) (ExpireReport, error)
}

type Store interface {
	// Get returns repo.ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*model.Appointment, error)
	// Update applies patch only when the stored version matches and returns
	// the updated document, or repo.ErrConflict.
	Update(ctx context.Context, id string, version int64, patch model.AppointmentPatch) (*model.Appointment, error)
	// ListExpired returns confirmed appointments dated before the cutoff.
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*model.Appointment, error)
}

type TherapistStore interface {
	// RecordCompleted adds n to the counter and promotes the therapist once it
	// reaches levelUpAt. promoted is true only on the call that promoted.
	RecordCompleted(ctx context.Context, therapistID string, n, levelUpAt int) (promoted bool, err error)
}

// ---------------------------------------------------------------------------
// Implementation
// ---------------------------------------------------------------------------

const expiryBatch = 500

type appointmentService struct {
	store      Store
	therapists TherapistStore
	reconciler reconcile.Service
	ledger     ledger.Service
	publisher  events.Publisher
	billing    config.BillingConfig
	metrics    *observability.EngineMetrics
	now        func() time.Time
}

type Deps struct {
	Store      Store
	Therapists TherapistStore
	Reconciler reconcile.Service
	Ledger     ledger.Service
	Publisher  events.Publisher
	Billing    config.BillingConfig
	Metrics    *observability.EngineMetrics
}

func New(d Deps) Service {
	pub := d.Publisher
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &appointmentService{
		store:      d.Store,
		therapists: d.Therapists,
		reconciler: d.Reconciler,
		ledger:     d.Ledger,
		publisher:  pub,
		billing:    d.Billing,
		metrics:    d.Metrics,
		now:        time.Now,
	}
}

func (s *appointmentService) Get(ctx context.Context, id string, actor model.Actor) (*View, error) {
	a, _, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(a, actor); err != nil {
		return nil, err
	}
	return &View{Appointment: a, PaymentState: s.reconciler.Reconcile(ctx, a)}, nil
}

func (s *appointmentService) Transition(ctx context.Context, req TransitionRequest) (*model.Appointment, error) {
	a, norm, err := s.load(ctx, req.AppointmentID)
	if err != nil {
		return nil, err
	}

	from := a.Status
	to := model.Canonicalize(req.TargetStatus)
	if err := status.Validate(from, to, req.Actor, req.Reason); err != nil {
		s.metrics.Transition(ctx, string(from), string(to), string(req.Actor.Role), "rejected")
		return nil, err
	}
	if err := authorize(a, req.Actor); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	patch := model.AppointmentPatch{
		Status:      &to,
		PushHistory: change(from, to, req.Actor, req.Reason, now),
	}
	if norm.Changed {
		patch.Sessions = a.Sessions
	}

	var (
		completed int
		refund    float64
		fraction  float64
	)

	switch to {
	case model.StatusMatched:
		tid := strings.TrimSpace(req.Meta.TherapistID)
		if tid == "" {
			tid = a.TherapistID
		}
		if tid == "" {
			return nil, ErrTherapistRequired
		}
		patch.TherapistID = &tid

	case model.StatusCompleted:
		if req.Actor.Role != model.RoleAdmin {
			if err := s.requirePaid(ctx, a); err != nil {
				return nil, err
			}
		}
		sessions, total, delta := completeAll(a)
		patch.Sessions = sessions
		patch.CompletedSessions = &total
		completed = delta

	case model.StatusCancelled:
		refund, fraction, err = s.planRefund(ctx, a, req)
		if err != nil {
			return nil, err
		}
		if refund > 0 {
			patch.PaymentStatus = model.Ptr(model.PaymentRefunded)
		}
	}

	if unassigns(from, to, req.Actor, req.Reason) && a.TherapistID != "" {
		patch.PushOldTherapy = &model.OldTherapy{TherapistID: a.TherapistID, Reason: req.Reason, At: now}
		patch.UnsetTherapist = true
	}

	updated, err := s.update(ctx, a, patch)
	if err != nil {
		s.metrics.Transition(ctx, string(from), string(to), string(req.Actor.Role), "error")
		return nil, err
	}

	if refund > 0 {
		res, err := s.ledger.Refund(ctx, a, fraction)
		if err != nil {
			s.metrics.Transition(ctx, string(from), string(to), string(req.Actor.Role), "reverted")
			return nil, s.revertCancellation(ctx, a, updated, err)
		}
		refund = res.Amount
	}

	if completed > 0 && a.TherapistID != "" {
		s.creditTherapist(ctx, a.TherapistID, completed)
	}

	s.changed(ctx, a, updated, req.Actor, req.Reason, refund)
	return updated, nil
}

func (s *appointmentService) Reschedule(ctx context.Context, req RescheduleRequest) (*model.Appointment, error) {
	if req.Date.IsZero() {
		return nil, ErrInvalidDate
	}
	a, norm, err := s.load(ctx, req.AppointmentID)
	if err != nil {
		return nil, err
	}

	from := a.Status
	if err := status.Validate(from, model.StatusRescheduled, req.Actor, req.Reason); err != nil {
		s.metrics.Transition(ctx, string(from), string(model.StatusRescheduled), string(req.Actor.Role), "rejected")
		return nil, err
	}
	if err := authorize(a, req.Actor); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	date := req.Date.UTC().Truncate(time.Millisecond)
	patch := model.AppointmentPatch{
		Status:        model.Ptr(model.StatusRescheduled),
		IsRescheduled: model.Ptr(true),
		PushHistory:   change(from, model.StatusRescheduled, req.Actor, req.Reason, now),
	}
	if norm.Changed {
		patch.Sessions = a.Sessions
	}
	if req.SessionIndex != nil {
		sessions := cloneSessions(a.Sessions)
		i := findSession(sessions, *req.SessionIndex)
		if i < 0 {
			return nil, ErrSessionNotFound
		}
		if sessions[i].Status == model.SessionCompleted {
			return nil, ErrSessionCompleted
		}
		sessions[i].Date = date
		patch.Sessions = sessions
	} else {
		patch.Date = &date
	}

	moved, err := s.update(ctx, a, patch)
	if err != nil {
		return nil, err
	}
	s.changed(ctx, a, moved, req.Actor, req.Reason, 0)

	sys := model.System("reschedule")
	next := model.StatusConfirmed
	reason := "reschedule accepted"
	var charged float64

	if sameDay(date, now) && s.billing.SameDaySurcharge > 0 {
		_, err := s.ledger.Use(ctx, ledger.UseRequest{
			UserID:        a.PatientID,
			Amount:        s.billing.SameDaySurcharge,
			Reason:        "same-day reschedule surcharge",
			AppointmentID: a.ID,
			Surcharge:     true,
		})
		switch {
		case err == nil:
			charged = s.billing.SameDaySurcharge
		case errors.Is(err, ledger.ErrInsufficientBalance):
			next = model.StatusPendingMatch
			reason = "balance cannot cover same-day surcharge"
		default:
			return nil, s.revertReschedule(ctx, a, moved, err)
		}
	}

	if err := status.Validate(model.StatusRescheduled, next, sys, reason); err != nil {
		return nil, err
	}
	settle := model.AppointmentPatch{
		Status:      &next,
		PushHistory: change(model.StatusRescheduled, next, sys, reason, now),
	}
	if charged > 0 {
		settle.IsSameDayBooking = model.Ptr(true)
		settle.SameDaySurcharge = &charged
	}

	out, err := s.update(ctx, moved, settle)
	if err != nil {
		if charged > 0 {
			s.reverseSurcharge(ctx, a, moved.Version, charged)
		}
		return nil, err
	}
	s.changed(ctx, moved, out, sys, reason, 0)
	return out, nil
}

func (s *appointmentService) CompleteSession(ctx context.Context, req CompleteSessionRequest) (*model.Appointment, error) {
	if req.Actor.Role != model.RoleTherapist && req.Actor.Role != model.RoleAdmin {
		return nil, ErrForbidden
	}
	a, _, err := s.load(ctx, req.AppointmentID)
	if err != nil {
		return nil, err
	}
	if err := authorize(a, req.Actor); err != nil {
		return nil, err
	}
	if a.Status != model.StatusConfirmed {
		return nil, ErrNotActive
	}
	if req.Actor.Role != model.RoleAdmin {
		if err := s.requirePaid(ctx, a); err != nil {
			return nil, err
		}
	}

	sessions := cloneSessions(a.Sessions)
	i := findSession(sessions, req.Index)
	if i < 0 {
		return nil, ErrSessionNotFound
	}
	if sessions[i].Status == model.SessionCompleted {
		return a, nil
	}
	sessions[i].Status = model.SessionCompleted

	count := a.CompletedSessions + 1
	if a.TotalSessions > 0 && count > a.TotalSessions {
		count = a.TotalSessions
	}

	updated, err := s.update(ctx, a, model.AppointmentPatch{Sessions: sessions, CompletedSessions: &count})
	if err != nil {
		return nil, err
	}
	if a.TherapistID != "" {
		s.creditTherapist(ctx, a.TherapistID, 1)
	}
	slog.Info("appointment: session completed", "appointment_id", a.ID, "index", req.Index, "actor_id", req.Actor.ID)
	return updated, nil
}

func (s *appointmentService) MarkSessionsPaid(ctx context.Context, req MarkPaidRequest) (*model.Appointment, error) {
	if req.Actor.Role != model.RoleAdmin {
		return nil, ErrForbidden
	}
	a, norm, err := s.load(ctx, req.AppointmentID)
	if err != nil {
		return nil, err
	}

	sessions := cloneSessions(a.Sessions)
	marked := 0
	if len(req.Indexes) == 0 {
		for i := range sessions {
			if sessions[i].Status == model.SessionCompleted && sessions[i].Payment != model.SessionPaid {
				sessions[i].Payment = model.SessionPaid
				marked++
			}
		}
	} else {
		for _, idx := range req.Indexes {
			i := findSession(sessions, idx)
			if i < 0 {
				return nil, fmt.Errorf("%w: index %d", ErrSessionNotFound, idx)
			}
			if sessions[i].Payment != model.SessionPaid {
				sessions[i].Payment = model.SessionPaid
				marked++
			}
		}
	}

	if marked == 0 && !norm.Changed {
		return a, nil
	}
	updated, err := s.update(ctx, a, model.AppointmentPatch{Sessions: sessions})
	if err != nil {
		return nil, err
	}
	slog.Info("appointment: sessions marked paid", "appointment_id", a.ID, "count", marked, "admin", req.Actor.ID)
	return updated, nil
}

// ExpireStale cancels confirmed appointments whose date passed more than the
// grace window ago. Each run handles one batch.
func (s *appointmentService) ExpireStale(ctx context.Context, now time.Time) (ExpireReport, error) {
	var rep ExpireReport
	cutoff := now.UTC().Add(-s.billing.ExpiryGrace())

	items, err := s.store.ListExpired(ctx, cutoff, expiryBatch)
	if err != nil {
		return rep, fmt.Errorf("list expired appointments: %w", err)
	}

	sys := model.System("expiry")
	for _, a := range items {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Scanned++
		_, err := s.Transition(ctx, TransitionRequest{
			AppointmentID: a.ID,
			TargetStatus:  model.StatusCancelled,
			Actor:         sys,
			Reason:        "expired without completion",
		})
		if err != nil {
			rep.Failed++
			slog.Warn("appointment: expiry failed", "appointment_id", a.ID, "err", err)
			continue
		}
		rep.Expired++
	}

	slog.Info("appointment: expiry sweep finished",
		"cutoff", cutoff, "scanned", rep.Scanned, "expired", rep.Expired, "failed", rep.Failed)
	return rep, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *appointmentService) load(ctx context.Context, id string) (*model.Appointment, recurring.Result, error) {
	a, err := s.store.Get(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, recurring.Result{}, ErrNotFound
	}
	if err != nil {
		return nil, recurring.Result{}, fmt.Errorf("get appointment: %w", err)
	}

	a.Status = model.Canonicalize(a.Status)
	res := recurring.Apply(a)
	if len(res.Warnings) > 0 {
		recurring.LogWarnings(a.ID, res.Warnings)
	}
	if res.Changed {
		s.metrics.Normalized(ctx, res.Converted, res.Skipped)
	}
	return a, res, nil
}

func (s *appointmentService) update(ctx context.Context, a *model.Appointment, patch model.AppointmentPatch) (*model.Appointment, error) {
	updated, err := s.store.Update(ctx, a.ID, a.Version, patch)
	if err != nil {
		return nil, fmt.Errorf("update appointment %s: %w", a.ID, err)
	}
	updated.Status = model.Canonicalize(updated.Status)
	recurring.Apply(updated)
	return updated, nil
}

func (s *appointmentService) requirePaid(ctx context.Context, a *model.Appointment) error {
	st := s.reconciler.Reconcile(ctx, a)
	if st.Unknown() {
		return verificationErr(st)
	}
	if !st.Verified() {
		return ErrUnpaid
	}
	return nil
}

// planRefund decides the refund owed by a cancellation before the status flips.
func (s *appointmentService) planRefund(ctx context.Context, a *model.Appointment, req TransitionRequest) (float64, float64, error) {
	if a.PaymentStatus == model.PaymentRefunded {
		return 0, 0, nil
	}
	st := s.reconciler.Reconcile(ctx, a)
	if st.Unknown() {
		return 0, 0, verificationErr(st)
	}
	if !st.Verified() || st.Source == model.SourceSubscription {
		return 0, 0, nil
	}
	fraction := s.refundFraction(a, req)
	return s.ledger.ComputeRefund(a, fraction), fraction, nil
}

func (s *appointmentService) refundFraction(a *model.Appointment, req TransitionRequest) float64 {
	switch req.Actor.Role {
	case model.RoleSystem:
		return 1
	case model.RoleAdmin:
		if f := req.Meta.ChargeFraction; f != nil {
			return min(max(*f, 0), 1)
		}
	}
	if a.Date.IsZero() || a.Date.Sub(s.now()) >= s.billing.FreeCancellationWindow() {
		return 1
	}
	return s.billing.LateCancellationFraction
}

func (s *appointmentService) revertCancellation(ctx context.Context, before, after *model.Appointment, cause error) error {
	sys := model.System("refund")
	patch := model.AppointmentPatch{
		Status:        &before.Status,
		PaymentStatus: &before.PaymentStatus,
		PushHistory:   change(after.Status, before.Status, sys, "refund failed", s.now().UTC()),
	}
	if before.TherapistID != "" && after.TherapistID == "" {
		patch.TherapistID = &before.TherapistID
	}

	if _, err := s.store.Update(ctx, after.ID, after.Version, patch); err != nil {
		slog.Error("appointment: compensating revert failed",
			"appointment_id", after.ID, "refund_err", cause, "err", err)
		return fmt.Errorf("%w: %w", ErrRefundFailed, errors.Join(cause, err))
	}
	slog.Warn("appointment: cancellation reverted", "appointment_id", after.ID, "err", cause)
	return fmt.Errorf("%w: %w", ErrRefundFailed, cause)
}

func (s *appointmentService) revertReschedule(ctx context.Context, before, after *model.Appointment, cause error) error {
	sys := model.System("reschedule")
	patch := model.AppointmentPatch{
		Status:        &before.Status,
		Date:          &before.Date,
		IsRescheduled: &before.IsRescheduled,
		Sessions:      cloneSessions(before.Sessions),
		PushHistory:   change(after.Status, before.Status, sys, "surcharge failed", s.now().UTC()),
	}
	if _, err := s.store.Update(ctx, after.ID, after.Version, patch); err != nil {
		slog.Error("appointment: reschedule revert failed",
			"appointment_id", after.ID, "surcharge_err", cause, "err", err)
		return fmt.Errorf("same-day surcharge: %w", errors.Join(cause, err))
	}
	return fmt.Errorf("same-day surcharge: %w", cause)
}

func (s *appointmentService) reverseSurcharge(ctx context.Context, a *model.Appointment, version int64, amount float64) {
	_, err := s.ledger.Add(ctx, ledger.AddRequest{
		UserID:        a.PatientID,
		Amount:        amount,
		Reason:        "same-day surcharge reversal",
		AppointmentID: a.ID,
		PaymentRef: &ledger.PaymentRef{
			ID:   fmt.Sprintf("surcharge-reversal:%s:%d", a.ID, version),
			Type: "surcharge_reversal",
		},
	})
	if err != nil {
		slog.Error("appointment: surcharge reversal failed", "appointment_id", a.ID, "amount", amount, "err", err)
	}
}

func (s *appointmentService) creditTherapist(ctx context.Context, therapistID string, n int) {
	promoted, err := s.therapists.RecordCompleted(ctx, therapistID, n, s.billing.TherapistLevelUpSessions)
	if err != nil {
		slog.Error("appointment: therapist counter update failed", "therapist_id", therapistID, "sessions", n, "err", err)
		return
	}
	if promoted {
		slog.Info("appointment: therapist promoted", "therapist_id", therapistID, "level", model.SeniorLevel)
	}
}

func (s *appointmentService) changed(ctx context.Context, before, after *model.Appointment, actor model.Actor, reason string, refund float64) {
	s.metrics.Transition(ctx, string(before.Status), string(after.Status), string(actor.Role), "ok")
	slog.Info("appointment: status changed",
		"appointment_id", after.ID, "from", before.Status, "to", after.Status,
		"role", actor.Role, "actor_id", actor.ID, "refund", refund)

	events.Emit(ctx, s.publisher, events.SubjectStatusChanged, after.ID, events.AppointmentStatusChanged{
		AppointmentID: after.ID,
		PatientID:     after.PatientID,
		TherapistID:   before.TherapistID,
		From:          before.Status,
		To:            after.Status,
		Actor:         actor,
		Reason:        reason,
		RefundAmount:  refund,
		At:            after.UpdatedAt,
	})
}

// authorize checks that patients and therapists act on their own appointments.
func authorize(a *model.Appointment, actor model.Actor) error {
	switch actor.Role {
	case model.RoleAdmin, model.RoleSystem:
		return nil
	case model.RolePatient:
		if actor.ID != "" && a.PatientID == actor.ID {
			return nil
		}
	case model.RoleTherapist:
		if actor.ID != "" && a.TherapistID == actor.ID {
			return nil
		}
	}
	return ErrNotOwner
}

// unassigns reports whether the change drops the assigned therapist: a match
// rejection, or a cancellation carrying a user's comment. System
// cancellations keep the therapist on record.
func unassigns(from, to model.Status, actor model.Actor, reason string) bool {
	if from == model.StatusMatched && to == model.StatusPendingMatch {
		return true
	}
	if actor.Role == model.RoleSystem {
		return false
	}
	return to == model.StatusCancelled && strings.TrimSpace(reason) != ""
}

// completeAll marks every session completed and returns the new completed
// count with the number of sessions it added.
func completeAll(a *model.Appointment) ([]model.Session, int, int) {
	sessions := cloneSessions(a.Sessions)
	for i := range sessions {
		sessions[i].Status = model.SessionCompleted
	}
	total := max(a.TotalSessions, 1)
	delta := max(total-a.CompletedSessions, 0)
	return sessions, max(total, a.CompletedSessions), delta
}

func change(from, to model.Status, actor model.Actor, reason string, at time.Time) *model.StatusChange {
	return &model.StatusChange{From: from, To: to, ActorID: actor.ID, Role: actor.Role, Reason: reason, At: at}
}

func cloneSessions(in []model.Session) []model.Session {
	if in == nil {
		return nil
	}
	out := make([]model.Session, len(in))
	copy(out, in)
	return out
}

func findSession(sessions []model.Session, index int) int {
	for i := range sessions {
		if sessions[i].Index == index {
			return i
		}
	}
	return -1
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func verificationErr(st model.PaymentState) error {
	if st.Err != nil {
		return st.Err
	}
	return reconcile.ErrPaymentVerification
}
