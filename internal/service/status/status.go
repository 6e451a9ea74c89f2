// Package status decides which appointment status changes each actor role may make.
package status

import (
	"fmt"
	"strings"

	"github.com/Alijeyrad/carebook_backend/internal/model"
)

type edges map[model.Status][]model.Status

var (
	patientEdges = edges{
		model.StatusUnpaid:            {model.StatusCancelled},
		model.StatusPendingMatch:      {model.StatusCancelled},
		model.StatusMatched:           {model.StatusCancelled},
		model.StatusPendingScheduling: {model.StatusCancelled},
		model.StatusConfirmed:         {model.StatusCancelled, model.StatusRescheduled},
	}

	therapistEdges = edges{
		model.StatusMatched:           {model.StatusPendingScheduling, model.StatusPendingMatch},
		model.StatusPendingScheduling: {model.StatusConfirmed},
		model.StatusConfirmed:         {model.StatusCompleted, model.StatusNoShow},
	}

	systemEdges = edges{
		model.StatusUnpaid:      {model.StatusPendingMatch},
		model.StatusConfirmed:   {model.StatusCancelled},
		model.StatusRescheduled: {model.StatusConfirmed, model.StatusPendingMatch},
	}
)

// Allowed returns the legal targets from current for role. Admins may force
// any canonical status other than the current one.
func Allowed(current model.Status, role model.Role) []model.Status {
	current = model.Canonicalize(current)
	if !current.Valid() {
		return nil
	}

	var table edges
	switch role {
	case model.RolePatient:
		table = patientEdges
	case model.RoleTherapist:
		table = therapistEdges
	case model.RoleSystem:
		table = systemEdges
	case model.RoleAdmin:
		out := make([]model.Status, 0, len(model.Statuses)-1)
		for _, s := range model.Statuses {
			if s != current {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}

	targets := table[current]
	out := make([]model.Status, len(targets))
	copy(out, targets)
	return out
}

// Validate checks a requested change. Both statuses are canonicalized first,
// the target is never coerced to a different value.
func Validate(current, target model.Status, actor model.Actor, reason string) error {
	from := model.Canonicalize(current)
	to := model.Canonicalize(target)

	if !from.Valid() {
		return fmt.Errorf("%w: current %q", ErrUnknownStatus, current)
	}
	if !to.Valid() {
		return fmt.Errorf("%w: target %q", ErrUnknownStatus, target)
	}
	if !actor.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownRole, actor.Role)
	}

	allowed := Allowed(from, actor.Role)
	for _, s := range allowed {
		if s == to {
			if actor.Role == model.RoleAdmin && strings.TrimSpace(reason) == "" {
				return ErrReasonRequired
			}
			return nil
		}
	}

	return &InvalidTransitionError{
		From:      from,
		Attempted: to,
		Allowed:   allowed,
		Role:      actor.Role,
	}
}
