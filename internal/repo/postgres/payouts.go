package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Alijeyrad/carebook_backend/internal/model"
	"github.com/Alijeyrad/carebook_backend/internal/repo"
)

const pqUniqueViolation = "23505"

var paymentFields = []string{
	"id", "therapist_id", "amount", "currency", "payment_method", "status",
	"payout_percentage", "sessions", "created_by", "paid_at", "created_at", "updated_at",
}

type PayoutRepo struct {
	db      *sql.DB
	builder *entsql.DialectBuilder
	now     func() time.Time
}

func NewPayoutRepo(drv *entsql.Driver) *PayoutRepo {
	return &PayoutRepo{db: drv.DB(), builder: entsql.Dialect(dialect.Postgres), now: time.Now}
}

// Create writes the payment and one ref row per appointment in a single
// transaction. A ref that already exists aborts the whole insert.
func (r *PayoutRepo) Create(ctx context.Context, p *model.TherapistPayment) error {
	if p.ID == "" {
		p.ID = uuid.Must(uuid.NewV7()).String()
	}
	now := r.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	sessions, err := json.Marshal(p.Sessions)
	if err != nil {
		return fmt.Errorf("encode payout sessions: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin payout tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	q, args := r.builder.Insert(tablePayments).
		Columns(paymentFields...).
		Values(p.ID, p.TherapistID, p.Amount, p.Currency, p.PaymentMethod, string(p.Status),
			p.PayoutPercentage, sessions, p.CreatedBy, nullTime(p.PaidAt), p.CreatedAt, p.UpdatedAt).
		Query()
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return mapWriteErr(err, "insert payout")
	}

	if len(p.Appointments) > 0 {
		refs := r.builder.Insert(tableRefs).Columns("appointment_id", "payment_id")
		for _, id := range p.Appointments {
			refs.Values(id, p.ID)
		}
		q, args = refs.Query()
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return mapWriteErr(err, "insert payout refs")
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit payout: %w", err)
	}
	return nil
}

func (r *PayoutRepo) SetStatus(ctx context.Context, id string, status model.PayoutStatus, paidAt *time.Time) error {
	u := r.builder.Update(tablePayments).
		Set("status", string(status)).
		Set("updated_at", r.now().UTC())
	if paidAt != nil {
		u.Set("paid_at", paidAt.UTC())
	}
	q, args := u.Where(entsql.EQ("id", id)).Query()

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update payout %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("payout %s: %w", id, repo.ErrNotFound)
	}
	return nil
}

func (r *PayoutRepo) ListByTherapist(ctx context.Context, therapistID string) ([]*model.TherapistPayment, error) {
	q, args := r.builder.Select(paymentFields...).
		From(entsql.Table(tablePayments)).
		Where(entsql.EQ("therapist_id", therapistID)).
		OrderBy(entsql.Desc("created_at")).
		Query()
	return r.list(ctx, q, args)
}

func (r *PayoutRepo) ListStale(ctx context.Context, status model.PayoutStatus, before time.Time) ([]*model.TherapistPayment, error) {
	q, args := r.builder.Select(paymentFields...).
		From(entsql.Table(tablePayments)).
		Where(entsql.And(
			entsql.EQ("status", string(status)),
			entsql.LT("created_at", before.UTC()),
		)).
		OrderBy("created_at").
		Query()
	return r.list(ctx, q, args)
}

func (r *PayoutRepo) Referenced(ctx context.Context, appointmentIDs []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(appointmentIDs) == 0 {
		return out, nil
	}

	q, args := r.builder.Select("appointment_id").
		From(entsql.Table(tableRefs)).
		Where(entsql.In("appointment_id", anys(appointmentIDs)...)).
		Query()
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query payout refs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan payout ref: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (r *PayoutRepo) list(ctx context.Context, q string, args []any) ([]*model.TherapistPayment, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query payouts: %w", err)
	}
	defer rows.Close()

	var out []*model.TherapistPayment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payouts: %w", err)
	}
	if err := r.attachAppointments(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PayoutRepo) attachAppointments(ctx context.Context, payments []*model.TherapistPayment) error {
	if len(payments) == 0 {
		return nil
	}
	byID := make(map[string]*model.TherapistPayment, len(payments))
	ids := make([]string, 0, len(payments))
	for _, p := range payments {
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	q, args := r.builder.Select("appointment_id", "payment_id").
		From(entsql.Table(tableRefs)).
		Where(entsql.In("payment_id", anys(ids)...)).
		OrderBy("appointment_id").
		Query()
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("query payout refs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var apptID, paymentID string
		if err := rows.Scan(&apptID, &paymentID); err != nil {
			return fmt.Errorf("scan payout ref: %w", err)
		}
		if p, ok := byID[paymentID]; ok {
			p.Appointments = append(p.Appointments, apptID)
		}
	}
	return rows.Err()
}

func scanPayment(rows *sql.Rows) (*model.TherapistPayment, error) {
	var (
		p        model.TherapistPayment
		status   string
		sessions []byte
		paidAt   sql.NullTime
	)
	err := rows.Scan(&p.ID, &p.TherapistID, &p.Amount, &p.Currency, &p.PaymentMethod, &status,
		&p.PayoutPercentage, &sessions, &p.CreatedBy, &paidAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan payout: %w", err)
	}
	p.Status = model.PayoutStatus(status)
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		p.PaidAt = &t
	}
	if len(sessions) > 0 {
		if err := json.Unmarshal(sessions, &p.Sessions); err != nil {
			return nil, fmt.Errorf("decode payout %s sessions: %w", p.ID, err)
		}
	}
	return &p, nil
}

func mapWriteErr(err error, op string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return fmt.Errorf("%s: %w", op, repo.ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func anys(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
