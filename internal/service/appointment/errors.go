package appointment

import "errors"

var (
	ErrNotFound          = errors.New("appointment not found")
	ErrNotOwner          = errors.New("appointment does not belong to the caller")
	ErrForbidden         = errors.New("role may not perform this action")
	ErrUnpaid            = errors.New("appointment payment is not verified")
	ErrTherapistRequired = errors.New("a therapist id is required to match")
	ErrNotActive         = errors.New("appointment is not confirmed")
	ErrSessionNotFound   = errors.New("recurring session not found")
	ErrSessionCompleted  = errors.New("recurring session already completed")
	ErrInvalidDate       = errors.New("date is required")
	ErrRefundFailed      = errors.New("refund failed, status change reverted")
)
