package email

import "errors"

var (
	// ErrDisabled is returned by Send when email.enabled is off. Callers
	// treat it as a skipped channel.
	ErrDisabled       = errors.New("email: disabled")
	ErrInvalidMessage = errors.New("email: invalid message")
	ErrSend           = errors.New("email: smtp send failed")
)
