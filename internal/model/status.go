package model

import "strings"

// Status is the appointment lifecycle state.
type Status string

const (
	StatusUnpaid            Status = "unpaid"
	StatusPendingMatch      Status = "pending_match"
	StatusMatched           Status = "matched_pending_therapist_acceptance"
	StatusPendingScheduling Status = "pending_scheduling"
	StatusConfirmed         Status = "confirmed"
	StatusCompleted         Status = "completed"
	StatusCancelled         Status = "cancelled"
	StatusNoShow            Status = "no-show"
	StatusRescheduled       Status = "rescheduled"
)

// Statuses lists every canonical status in lifecycle order.
var Statuses = []Status{
	StatusUnpaid,
	StatusPendingMatch,
	StatusMatched,
	StatusPendingScheduling,
	StatusConfirmed,
	StatusCompleted,
	StatusCancelled,
	StatusNoShow,
	StatusRescheduled,
}

// legacyAliases maps historical stored values onto the canonical set.
var legacyAliases = map[Status]Status{
	"rejected":         StatusPendingMatch,
	"approved":         StatusPendingScheduling,
	"upcoming":         StatusConfirmed,
	"pending_approval": StatusMatched,
}

// Canonicalize maps legacy values to their canonical status. Unknown values are
// returned unchanged (trimmed and lower-cased) so Valid can reject them.
func Canonicalize(s Status) Status {
	norm := Status(strings.ToLower(strings.TrimSpace(string(s))))
	if c, ok := legacyAliases[norm]; ok {
		return c
	}
	return norm
}

func (s Status) Valid() bool {
	for _, c := range Statuses {
		if c == s {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// StoredForms returns every stored value that canonicalizes to s, for use in
// store queries that must also match legacy documents.
func StoredForms(s Status) []Status {
	out := []Status{s}
	for legacy, c := range legacyAliases {
		if c == s {
			out = append(out, legacy)
		}
	}
	return out
}
