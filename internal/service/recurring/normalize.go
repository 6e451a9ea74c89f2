// Package recurring converges stored recurring-session lists onto the
// canonical Session shape.
package recurring

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Alijeyrad/carebook_backend/internal/model"
)

var ErrDataIntegrity = errors.New("malformed recurring entry")

// DataIntegrityWarning describes one entry that was dropped.
type DataIntegrityWarning struct {
	Position int
	Kind     model.EntryKind
	Raw      string
	Reason   string
}

func (w DataIntegrityWarning) Error() string {
	return fmt.Sprintf("%s at position %d (%s): %s", ErrDataIntegrity, w.Position, w.Kind, w.Reason)
}

func (w DataIntegrityWarning) Is(target error) bool { return target == ErrDataIntegrity }

type Result struct {
	Sessions  []model.Session
	Skipped   int
	Converted int
	// Changed is false only when Sessions is identical to what is stored.
	Changed  bool
	Warnings []DataIntegrityWarning
}

// Normalize never fails; unparsable entries are dropped and reported.
// parentPaid is the appointment's payout-settled flag.
func Normalize(entries []model.RecurringEntry, parentStatus model.Status, parentPaid bool) Result {
	res := Result{Sessions: make([]model.Session, 0, len(entries))}

	defStatus := model.SessionInProgress
	if model.Canonicalize(parentStatus) == model.StatusCompleted {
		defStatus = model.SessionCompleted
	}
	defPayment := model.SessionNotPaid
	if parentPaid {
		defPayment = model.SessionPaid
	}

	alloc := newIndexAllocator(entries)

	for pos, e := range entries {
		var (
			raw     string
			date    time.Time
			session model.Session
			err     error
		)

		switch e.Kind {
		case model.EntryCanonical:
			session = e.Session
			if !e.Session.Date.IsZero() {
				date = e.Session.Date.UTC()
			} else if e.RawDate != "" {
				raw = e.RawDate
				date, err = ParseDate(raw)
			} else {
				err = errors.New("missing date")
			}
		case model.EntryDateString:
			raw = e.RawDate
			date, err = ParseDate(raw)
		case model.EntryCharMap:
			raw = e.JoinedChars()
			date, err = ParseDate(raw)
		default:
			err = errors.New(nonEmpty(e.Detail, "unrecognized shape"))
		}

		if err != nil {
			res.Skipped++
			res.Changed = true
			res.Warnings = append(res.Warnings, DataIntegrityWarning{
				Position: pos,
				Kind:     e.Kind,
				Raw:      raw,
				Reason:   err.Error(),
			})
			continue
		}

		out := model.Session{
			Date:    date.Truncate(time.Millisecond),
			Status:  defStatus,
			Payment: defPayment,
			Price:   session.Price,
		}
		if session.Status == model.SessionCompleted {
			out.Status = model.SessionCompleted
		}
		if session.Payment == model.SessionPaid {
			out.Payment = model.SessionPaid
		}
		if e.Kind == model.EntryCanonical && e.HasIndex {
			out.Index = session.Index
		} else {
			out.Index = alloc.take(pos)
		}

		if e.Kind != model.EntryCanonical || raw != "" {
			res.Converted++
			res.Changed = true
		} else if !e.HasIndex || !sameSession(session, out) {
			res.Changed = true
		}

		res.Sessions = append(res.Sessions, out)
	}

	return res
}

// indexAllocator hands out indexes to entries stored without one. An entry
// keeps its position unless a stored index already claims it, in which case
// it gets the next index above every one in use.
type indexAllocator struct {
	used map[int]bool
	next int
}

func newIndexAllocator(entries []model.RecurringEntry) *indexAllocator {
	a := &indexAllocator{used: make(map[int]bool, len(entries))}
	for _, e := range entries {
		if e.Kind == model.EntryCanonical && e.HasIndex {
			a.claim(e.Session.Index)
		}
	}
	return a
}

func (a *indexAllocator) claim(i int) {
	a.used[i] = true
	if i >= a.next {
		a.next = i + 1
	}
}

func (a *indexAllocator) take(pos int) int {
	i := pos
	if a.used[i] {
		i = a.next
	}
	a.claim(i)
	return i
}

// Apply normalizes a loaded appointment in place, filling Sessions. When the
// stored list differs, Recurring is replaced with the canonical entries.
func Apply(a *model.Appointment) Result {
	res := Normalize(a.Recurring, a.Status, a.TherapistPaid)
	a.Sessions = res.Sessions
	if res.Changed {
		a.Recurring = model.Entries(res.Sessions)
	}
	return res
}

func sameSession(a, b model.Session) bool {
	if !a.Date.Equal(b.Date) || a.Status != b.Status || a.Payment != b.Payment || a.Index != b.Index {
		return false
	}
	return a.Date.Location() == time.UTC
}

// ParseDate accepts RFC 3339 instants, instants without a zone (taken as
// UTC), a "+00:00" suffix, and bare calendar dates.
func ParseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}

	if strings.HasSuffix(s, "+00:00") {
		s = strings.TrimSuffix(s, "+00:00") + "Z"
	}
	if strings.Contains(s, "T") && !hasZone(s) {
		s += "Z"
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparsable date %q", raw)
}

func hasZone(s string) bool {
	i := strings.Index(s, "T")
	clock := s[i+1:]
	return strings.HasSuffix(clock, "Z") || strings.ContainsAny(clock, "+-")
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
