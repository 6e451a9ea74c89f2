package ledger

import (
	"errors"
	"fmt"
)

var (
	ErrPaymentRefRequired  = errors.New("a payment reference is required to credit a balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidAction       = errors.New("unknown balance action")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUserRequired        = errors.New("user id is required")
)

type InsufficientBalanceError struct {
	Requested float64
	Available float64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%s: requested %.2f, available %.2f", ErrInsufficientBalance, e.Requested, e.Available)
}

func (e *InsufficientBalanceError) Is(target error) bool { return target == ErrInsufficientBalance }
