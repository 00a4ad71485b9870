package repo

import "errors"

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrEmailTaken is returned when a signup collides with an existing user email.
	ErrEmailTaken = errors.New("email already registered")
)
