package recurring

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alijeyrad/carebook_backend/internal/model"
	"github.com/Alijeyrad/carebook_backend/internal/repo"
)

type memStore struct {
	appts    map[string]*model.Appointment
	conflict map[string]bool
	writes   int
}

func (m *memStore) ListWithRecurring(_ context.Context, afterID string, limit int) ([]*model.Appointment, error) {
	ids := make([]string, 0, len(m.appts))
	for id, a := range m.appts {
		if id > afterID && len(a.Recurring) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*model.Appointment, 0, len(ids))
	for _, id := range ids {
		cp := *m.appts[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) ReplaceRecurring(_ context.Context, id string, version int64, sessions []model.Session) error {
	if m.conflict[id] {
		return repo.ErrConflict
	}
	a := m.appts[id]
	if a.Version != version {
		return repo.ErrConflict
	}
	a.Recurring = model.Entries(sessions)
	a.Version++
	m.writes++
	return nil
}

func TestRepairerRun(t *testing.T) {
	store := &memStore{
		appts: map[string]*model.Appointment{
			"a1": {ID: "a1", Status: model.StatusConfirmed, Recurring: []model.RecurringEntry{
				model.DateEntry("2025-03-10T14:00:00+00:00"),
				charMap("2025-03-17"),
				model.DateEntry("garbage"),
			}},
			"a2": {ID: "a2", Status: model.StatusConfirmed, Recurring: model.Entries([]model.Session{
				{Date: day, Status: model.SessionInProgress, Payment: model.SessionNotPaid, Index: 0},
			})},
			"a3": {ID: "a3", Status: model.StatusCompleted, Recurring: []model.RecurringEntry{model.DateEntry("2025-03-10")}},
		},
		conflict: map[string]bool{"a3": true},
	}

	r := NewRepairer(store, nil)
	r.batchSize = 2

	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Found: 2, Updated: 1, SkippedInvalid: 1, Converted: 3, Conflicts: 1}, rep)
	assert.Equal(t, 1, store.writes)

	a1 := store.appts["a1"]
	require.Len(t, a1.Recurring, 2)
	assert.Equal(t, model.EntryCanonical, a1.Recurring[0].Kind)

	delete(store.conflict, "a3")
	rep, err = r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Updated, "only the previously conflicting record is left")

	rep, err = r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{}, rep, "repair is idempotent")
}
