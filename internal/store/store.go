// Package store holds the sentinel errors shared by the record store drivers.
package store

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: record not found")
	// ErrDuplicate is returned when a write violates a unique constraint.
	ErrDuplicate = errors.New("store: duplicate record")
	// ErrVersionConflict is returned when an optimistic version check fails.
	ErrVersionConflict = errors.New("store: version conflict")
)
