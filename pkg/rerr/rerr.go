// Package rerr defines the sentinel error kinds shared across the log engine.
package rerr

import "errors"

var (
	// ErrCorruptSegment indicates a sealed segment's descriptor or CRC failed verification.
	ErrCorruptSegment = errors.New("rerr: corrupt segment")

	// ErrTornTail indicates a CRC mismatch at the end of the active segment, recoverable by truncation.
	ErrTornTail = errors.New("rerr: torn tail record")

	// ErrSegmentFull indicates an append would exceed maxEntries or maxBytes.
	ErrSegmentFull = errors.New("rerr: segment full")

	// ErrSealed indicates an append was attempted against a sealed segment.
	ErrSealed = errors.New("rerr: segment sealed")

	// ErrReadOnly indicates a truncate was attempted against a sealed segment.
	ErrReadOnly = errors.New("rerr: segment read-only")

	// ErrNonMonotonicIndex indicates an append's index did not equal firstIndex+entryCount.
	ErrNonMonotonicIndex = errors.New("rerr: non-monotonic index")

	// ErrOutOfRange indicates get/clean targeted an index outside the current window.
	ErrOutOfRange = errors.New("rerr: index out of range")

	// ErrInvalidState indicates a terminated Commit handle was reused.
	ErrInvalidState = errors.New("rerr: invalid commit state")

	// ErrConfig indicates a builder validation failure at construction time.
	ErrConfig = errors.New("rerr: invalid configuration")

	// ErrClosed indicates an operation against a closed Log.
	ErrClosed = errors.New("rerr: log closed")
)
