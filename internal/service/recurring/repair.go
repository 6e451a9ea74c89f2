package recurring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Alijeyrad/carebook_backend/internal/model"
	"github.com/Alijeyrad/carebook_backend/internal/repo"
	"github.com/Alijeyrad/carebook_backend/pkg/observability"
)

const defaultBatchSize = 200

// Store is the slice of the appointment repository the repair job needs.
type Store interface {
	// ListWithRecurring pages through appointments with a non-empty recurring
	// list, ordered by id, starting after afterID.
	ListWithRecurring(ctx context.Context, afterID string, limit int) ([]*model.Appointment, error)
	// ReplaceRecurring writes the canonical list if the stored version still matches.
	ReplaceRecurring(ctx context.Context, id string, version int64, sessions []model.Session) error
}

type Report struct {
	Found          int `json:"found"`
	Updated        int `json:"updated"`
	SkippedInvalid int `json:"skippedInvalid"`
	Converted      int `json:"converted"`
	Conflicts      int `json:"conflicts"`
}

type Repairer struct {
	store     Store
	metrics   *observability.EngineMetrics
	batchSize int
}

func NewRepairer(store Store, metrics *observability.EngineMetrics) *Repairer {
	return &Repairer{store: store, metrics: metrics, batchSize: defaultBatchSize}
}

// Run is idempotent: a second run over repaired data updates nothing.
func (r *Repairer) Run(ctx context.Context) (Report, error) {
	var (
		rep   Report
		after string
	)

	for {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		batch, err := r.store.ListWithRecurring(ctx, after, r.batchSize)
		if err != nil {
			return rep, fmt.Errorf("list appointments: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		for _, a := range batch {
			after = a.ID
			res := Normalize(a.Recurring, a.Status, a.TherapistPaid)
			if !res.Changed {
				continue
			}

			rep.Found++
			rep.SkippedInvalid += res.Skipped
			rep.Converted += res.Converted
			LogWarnings(a.ID, res.Warnings)

			err := r.store.ReplaceRecurring(ctx, a.ID, a.Version, res.Sessions)
			switch {
			case err == nil:
				rep.Updated++
			case errors.Is(err, repo.ErrConflict):
				// Modified since read; the next run or the next mutating read picks it up.
				rep.Conflicts++
			default:
				return rep, fmt.Errorf("replace recurring for %s: %w", a.ID, err)
			}
		}

		if len(batch) < r.batchSize {
			break
		}
	}

	r.metrics.Normalized(ctx, rep.Converted, rep.SkippedInvalid)
	slog.Info("recurring: repair finished",
		"found", rep.Found,
		"updated", rep.Updated,
		"skipped_invalid", rep.SkippedInvalid,
		"converted", rep.Converted,
		"conflicts", rep.Conflicts,
	)
	return rep, nil
}

// LogWarnings reports dropped entries at WARN.
func LogWarnings(appointmentID string, warnings []DataIntegrityWarning) {
	for _, w := range warnings {
		slog.Warn("recurring: dropped malformed entry",
			"appointment_id", appointmentID,
			"position", w.Position,
			"kind", w.Kind.String(),
			"raw", w.Raw,
			"reason", w.Reason,
		)
	}
}
