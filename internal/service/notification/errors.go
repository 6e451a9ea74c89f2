package notification

import "errors"

var (
	ErrRecipientNotFound = errors.New("notification recipient not found")
	ErrNoChannel         = errors.New("recipient has no reachable channel")
)
