package storage

import "errors"

// Storage errors shared by all backends.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a unique key (id or payment signature) that already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrConflict is returned when a conditional update lost to a concurrent writer:
	// the row is claimed, already settled, or not in an expected status.
	ErrConflict = errors.New("conflict: row state changed concurrently")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// ReclaimedMessage is the last_error written on a row handed back by ReclaimStale.
const ReclaimedMessage = "reclaimed: sending outlived the settlement lease"
