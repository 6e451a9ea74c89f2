package reconcile

import (
	"errors"
	"fmt"

	"github.com/Alijeyrad/carebook_backend/internal/model"
)

var ErrPaymentVerification = errors.New("payment verification failed")

// VerificationError wraps a failed provider lookup. It is carried in
// PaymentState.Err, never returned as a negative determination.
type VerificationError struct {
	Source model.PaymentSource
	ID     string
	Err    error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", ErrPaymentVerification, e.Source, e.ID, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

func (e *VerificationError) Is(target error) bool { return target == ErrPaymentVerification }
