package store

import "errors"

// Sentinel errors returned by store mutations. Callers match them with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrConflict         = errors.New("conflict")
)
