package repository

import "errors"

var (
	// ErrNotFound indicates the snapshot key has never been written.
	ErrNotFound = errors.New("snapshot not found")
	// ErrCorrupt indicates a persisted value that no longer parses. Callers
	// fall back to defaults; corrupted storage must never crash startup.
	ErrCorrupt = errors.New("snapshot corrupt")
)
