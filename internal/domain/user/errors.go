package user

import "errors"

var (
	// ErrNotFound is returned when no user exists for the given id
	ErrNotFound = errors.New("user not found")

	ErrInternal = errors.New("internal error")
)
