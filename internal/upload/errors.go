package upload

import "errors"

var (
	// ErrInvalidInput marks requests rejected before any record is created.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned for absent or expired records and objects.
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied is returned when a record or key belongs to a
	// different owner.
	ErrAccessDenied = errors.New("access denied")
)
