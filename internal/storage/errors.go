package storage

import "errors"

var (
	// ErrNotFound is returned by point lookups (runs by id) that match nothing.
	// Factor reads never return it: an unknown factor reads as empty.
	ErrNotFound = errors.New("storage: not found")

	// ErrDuplicateKey is returned when an insert-only store (panel bars,
	// runs) already holds the key. The whole batch is rejected.
	ErrDuplicateKey = errors.New("storage: duplicate key")

	// ErrInvalidInput is returned for rows missing a key component
	// (empty factor name, symbol or field, zero date).
	ErrInvalidInput = errors.New("storage: invalid input")
)
