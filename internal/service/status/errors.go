package status

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Alijeyrad/carebook_backend/internal/model"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrReasonRequired    = errors.New("admin override requires a reason")
	ErrUnknownStatus     = errors.New("unknown appointment status")
	ErrUnknownRole       = errors.New("unknown actor role")
)

// InvalidTransitionError carries the attempted and legal targets so callers can
// render a precise message.
type InvalidTransitionError struct {
	From      model.Status
	Attempted model.Status
	Allowed   []model.Status
	Role      model.Role
}

func (e *InvalidTransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	return fmt.Sprintf("%s: %s cannot move %s -> %s (allowed: [%s])",
		ErrInvalidTransition, e.Role, e.From, e.Attempted, strings.Join(allowed, ", "))
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
