package model

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrIntegrity marks local data-integrity failures, e.g. resolving a
	// conflict whose snapshot is missing. Never retried automatically.
	ErrIntegrity = errors.New("data integrity failure")
)
