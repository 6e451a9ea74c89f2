package payout

import "errors"

var (
	ErrNothingToPay     = errors.New("no verified unpaid sessions to settle")
	ErrPayoutInProgress = errors.New("a payout for this therapist is already in progress")
	ErrTherapistMissing = errors.New("therapist id is required")
)
