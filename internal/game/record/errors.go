package record

import "errors"

var (
	// ErrNotFound means the record kind/id does not exist. Fatal to the single
	// call, never auto-retried.
	ErrNotFound = errors.New("record not found")

	// ErrConflict means the underlying store rejected the write outright.
	// Ordinary concurrent callers are serialized by the per-record lock, not
	// rejected, so this is rare.
	ErrConflict = errors.New("store rejected write")

	// ErrLockTimeout means the caller gave up waiting for the record lock.
	// Retryable.
	ErrLockTimeout = errors.New("timed out waiting for record lock")

	// ErrBadChange means the change descriptor was malformed.
	ErrBadChange = errors.New("malformed change descriptor")
)
