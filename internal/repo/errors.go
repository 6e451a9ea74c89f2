// Package repo holds the storage errors shared by the Mongo and Postgres repositories.
package repo

import "errors"

var (
	ErrNotFound  = errors.New("record not found")
	ErrConflict  = errors.New("record was modified concurrently")
	ErrDuplicate = errors.New("duplicate record")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

func IsDuplicate(err error) bool { return errors.Is(err, ErrDuplicate) }
