package payment

import "errors"

var (
	ErrInvalidWebhook  = errors.New("webhook could not be verified")
	ErrMissingMetadata = errors.New("payment is missing routing metadata")
	ErrAmountInvalid   = errors.New("payment amount must be positive")
)
