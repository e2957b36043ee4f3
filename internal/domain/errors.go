package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
	ErrUpstreamIO        = errors.New("upstream io failure")
	ErrInternal          = errors.New("internal error")

	// ErrNoWork is returned by store selection when no segment is claimable.
	// It never leaves the queue package.
	ErrNoWork = errors.New("no work available")
)
