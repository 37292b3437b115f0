package domain

import "errors"

var (
	// ErrNotFound is returned when a community id or name cannot be resolved.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRequest is returned for requests rejected before any fetch,
	// such as comparing a community against itself.
	ErrInvalidRequest = errors.New("invalid request")
)
