// Package ledger owns every mutation of a user's session balance.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Alijeyrad/carebook_backend/internal/model"
	"github.com/Alijeyrad/carebook_backend/internal/repo"
	"github.com/Alijeyrad/carebook_backend/pkg/observability"
)

// ---------------------------------------------------------------------------
// Interface
// ---------------------------------------------------------------------------

type Service interface {
	Get(ctx context.Context, userID string) (*model.Balance, error)
	Add(ctx context.Context, req AddRequest) (*model.Balance, error)
	Remove(ctx context.Context, req RemoveRequest) (*model.Balance, error)
	Use(ctx context.Context, req UseRequest) (*model.Balance, error)
	Apply(ctx context.Context, m Mutation) (*model.Balance, error)

	ComputeRefund(appt *model.Appointment, chargeFraction float64) float64
	Refund(ctx context.Context, appt *model.Appointment, chargeFraction float64) (*RefundResult, error)

	RepairNegative(ctx context.Context) (int64, error)
}

// Store performs single-document atomic updates on the balance collection.
type Store interface {
	// Get returns repo.ErrNotFound when the user has no ledger yet.
	Get(ctx context.Context, userID string) (*model.Balance, error)
	// Credit creates the ledger if needed. It returns repo.ErrDuplicate when
	// payment.PaymentID is already recorded.
	Credit(ctx context.Context, userID string, amount float64, sessions int, entry model.HistoryEntry, payment model.PaymentRecord) (*model.Balance, error)
	// Debit applies only when balanceAmount >= amount. On refusal ok is false
	// and b holds the current ledger, or nil if none exists.
	Debit(ctx context.Context, userID string, amount float64, sessions int, entry model.HistoryEntry) (b *model.Balance, ok bool, err error)
	ClampUser(ctx context.Context, userID string) error
	ClampAll(ctx context.Context) (int64, error)
}

type PaymentRef struct {
	ID       string `json:"id" validate:"required"`
	Type     string `json:"type,omitempty"`
	Currency string `json:"currency,omitempty"`
	Sessions int    `json:"sessions,omitempty" validate:"gte=0"`
}

type AddRequest struct {
	UserID        string
	Amount        float64
	Reason        string
	Admin         string
	AppointmentID string
	PaymentRef    *PaymentRef
}

type RemoveRequest struct {
	UserID string
	Amount float64
	Reason string
	Admin  string
}

type UseRequest struct {
	UserID        string
	Amount        float64
	Reason        string
	AppointmentID string
	Surcharge     bool
	Sessions      int
}

type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
	ActionUse    Action = "use"
)

// Mutation is the generic balance mutation input.
type Mutation struct {
	UserID     string
	Action     Action
	Amount     float64
	Reason     string
	Admin      string
	PaymentRef *PaymentRef
}

type RefundResult struct {
	Amount    float64        `json:"amount"`
	Duplicate bool           `json:"duplicate"`
	Balance   *model.Balance `json:"balance,omitempty"`
}

// RefundRef is the payment reference a refund for appointmentID is credited under.
func RefundRef(appointmentID string) string { return "refund:" + appointmentID }

// ---------------------------------------------------------------------------
// Implementation
// ---------------------------------------------------------------------------

type ledgerService struct {
	store    Store
	currency string
	metrics  *observability.EngineMetrics
	now      func() time.Time
}

func New(store Store, currency string, metrics *observability.EngineMetrics) Service {
	return &ledgerService{store: store, currency: currency, metrics: metrics, now: time.Now}
}

func (s *ledgerService) Get(ctx context.Context, userID string) (*model.Balance, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}
	b, err := s.store.Get(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return &model.Balance{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}

	if b.SpentSessions > b.TotalSessions {
		if err := s.store.ClampUser(ctx, userID); err != nil {
			slog.Warn("ledger: opportunistic clamp failed", "user_id", userID, "err", err)
		} else {
			slog.Info("ledger: clamped spent sessions", "user_id", userID, "spent", b.SpentSessions, "total", b.TotalSessions)
			b.SpentSessions = b.TotalSessions
		}
	}
	return b, nil
}

func (s *ledgerService) Add(ctx context.Context, req AddRequest) (*model.Balance, error) {
	b, _, err := s.credit(ctx, req)
	return b, err
}

func (s *ledgerService) credit(ctx context.Context, req AddRequest) (*model.Balance, bool, error) {
	if req.UserID == "" {
		return nil, false, ErrUserRequired
	}
	if req.PaymentRef == nil || strings.TrimSpace(req.PaymentRef.ID) == "" {
		return nil, false, ErrPaymentRefRequired
	}
	amount, err := positive(req.Amount)
	if err != nil {
		return nil, false, err
	}

	now := s.now().UTC()
	currency := req.PaymentRef.Currency
	if currency == "" {
		currency = s.currency
	}
	paymentType := req.PaymentRef.Type
	if paymentType == "" {
		paymentType = "payment"
	}

	entry := model.HistoryEntry{
		Action:        model.ActionAdded,
		Amount:        amount,
		Reason:        req.Reason,
		Admin:         req.Admin,
		AppointmentID: req.AppointmentID,
		CreatedAt:     now,
	}
	payment := model.PaymentRecord{
		PaymentID:     req.PaymentRef.ID,
		Amount:        amount,
		Currency:      currency,
		Date:          now,
		SessionsAdded: req.PaymentRef.Sessions,
		PaymentType:   paymentType,
	}

	b, err := s.store.Credit(ctx, req.UserID, amount, req.PaymentRef.Sessions, entry, payment)
	if errors.Is(err, repo.ErrDuplicate) {
		s.metrics.LedgerMutation(ctx, string(ActionAdd), "duplicate")
		slog.Info("ledger: duplicate payment ignored", "user_id", req.UserID, "payment_id", req.PaymentRef.ID)
		cur, gerr := s.Get(ctx, req.UserID)
		if gerr != nil {
			return nil, true, gerr
		}
		return cur, true, nil
	}
	if err != nil {
		s.metrics.LedgerMutation(ctx, string(ActionAdd), "error")
		return nil, false, fmt.Errorf("credit balance: %w", err)
	}

	s.metrics.LedgerMutation(ctx, string(ActionAdd), "ok")
	return b, false, nil
}

func (s *ledgerService) Remove(ctx context.Context, req RemoveRequest) (*model.Balance, error) {
	return s.debit(ctx, ActionRemove, req.UserID, req.Amount, 0, model.HistoryEntry{
		Action: model.ActionRemoved,
		Reason: req.Reason,
		Admin:  req.Admin,
	})
}

func (s *ledgerService) Use(ctx context.Context, req UseRequest) (*model.Balance, error) {
	if req.Sessions < 0 {
		return nil, ErrInvalidAmount
	}
	return s.debit(ctx, ActionUse, req.UserID, req.Amount, req.Sessions, model.HistoryEntry{
		Action:        model.ActionUsed,
		Reason:        req.Reason,
		AppointmentID: req.AppointmentID,
		Surcharge:     req.Surcharge,
	})
}

func (s *ledgerService) debit(ctx context.Context, action Action, userID string, raw float64, sessions int, entry model.HistoryEntry) (*model.Balance, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}
	amount, err := positive(raw)
	if err != nil {
		return nil, err
	}
	entry.Amount = amount
	entry.CreatedAt = s.now().UTC()

	b, ok, err := s.store.Debit(ctx, userID, amount, sessions, entry)
	if err != nil {
		s.metrics.LedgerMutation(ctx, string(action), "error")
		return nil, fmt.Errorf("debit balance: %w", err)
	}
	if !ok {
		s.metrics.LedgerMutation(ctx, string(action), "insufficient")
		var available float64
		if b != nil {
			available = b.BalanceAmount
		}
		return nil, &InsufficientBalanceError{Requested: amount, Available: available}
	}

	s.metrics.LedgerMutation(ctx, string(action), "ok")
	return b, nil
}

func (s *ledgerService) Apply(ctx context.Context, m Mutation) (*model.Balance, error) {
	switch m.Action {
	case ActionAdd:
		return s.Add(ctx, AddRequest{UserID: m.UserID, Amount: m.Amount, Reason: m.Reason, Admin: m.Admin, PaymentRef: m.PaymentRef})
	case ActionRemove:
		return s.Remove(ctx, RemoveRequest{UserID: m.UserID, Amount: m.Amount, Reason: m.Reason, Admin: m.Admin})
	case ActionUse:
		return s.Use(ctx, UseRequest{UserID: m.UserID, Amount: m.Amount, Reason: m.Reason})
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, m.Action)
	}
}

// ComputeRefund refunds the uncompleted part of card-funded plans and a
// fraction of the price for balance-funded ones, rounded to cents.
func (s *ledgerService) ComputeRefund(appt *model.Appointment, chargeFraction float64) float64 {
	return ComputeRefund(appt, chargeFraction)
}

func ComputeRefund(appt *model.Appointment, chargeFraction float64) float64 {
	if chargeFraction <= 0 {
		return 0
	}
	if chargeFraction > 1 {
		chargeFraction = 1
	}
	frac := decimal.NewFromFloat(chargeFraction)

	var amount decimal.Decimal
	switch appt.Method() {
	case model.MethodBalance:
		amount = decimal.NewFromFloat(appt.Price).Mul(frac)
	default:
		remaining := decimal.NewFromInt(int64(appt.RemainingSessions()))
		amount = remaining.Mul(decimal.NewFromFloat(appt.UnitPrice())).Mul(frac)
	}

	if amount.IsNegative() {
		return 0
	}
	return amount.Round(2).InexactFloat64()
}

func (s *ledgerService) Refund(ctx context.Context, appt *model.Appointment, chargeFraction float64) (*RefundResult, error) {
	amount := ComputeRefund(appt, chargeFraction)
	if amount <= 0 {
		return &RefundResult{Amount: 0}, nil
	}

	b, dup, err := s.credit(ctx, AddRequest{
		UserID:        appt.PatientID,
		Amount:        amount,
		Reason:        fmt.Sprintf("refund for appointment %s", appt.ID),
		AppointmentID: appt.ID,
		PaymentRef:    &PaymentRef{ID: RefundRef(appt.ID), Type: "refund", Currency: s.currency},
	})
	if err != nil {
		return nil, err
	}
	return &RefundResult{Amount: amount, Duplicate: dup, Balance: b}, nil
}

func (s *ledgerService) RepairNegative(ctx context.Context) (int64, error) {
	n, err := s.store.ClampAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("clamp balances: %w", err)
	}
	if n > 0 {
		slog.Info("ledger: clamped negative session balances", "count", n)
	}
	return n, nil
}

func positive(v float64) (float64, error) {
	d := decimal.NewFromFloat(v).Round(2)
	if !d.IsPositive() {
		return 0, ErrInvalidAmount
	}
	return d.InexactFloat64(), nil
}
