package pasetotoken

import "errors"

var (
	// ErrConfig covers key material and manager settings.
	ErrConfig = errors.New("paseto: bad config")
	// ErrInvalidToken wraps every verification failure. The auth middleware
	// maps it to 401.
	ErrInvalidToken = errors.New("paseto: invalid token")
)
