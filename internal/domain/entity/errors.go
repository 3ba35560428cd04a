package entity

import "errors"

// Error taxonomy shared across the ledger, coordinator and worker. Callers
// match with errors.Is; infra layers wrap these with context.
var (
	// ErrNotFound: unknown request id.
	ErrNotFound = errors.New("request not found")

	// ErrConflict: duplicate create, invalid retry precondition, or a lost
	// compare-and-set race.
	ErrConflict = errors.New("conflict")

	// ErrOutOfRange: frame number outside 1..totalFrames.
	ErrOutOfRange = errors.New("frame number out of range")

	// ErrInvalidTransition: status change not permitted by the lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrIncompleteFrameSet: a frame object was missing at compile time.
	// Permanent; never auto-retried.
	ErrIncompleteFrameSet = errors.New("incomplete frame set")

	// ErrTransientIO: storage or queue unavailable. Retried with backoff by
	// the calling layer, never silently dropped.
	ErrTransientIO = errors.New("transient io failure")

	// ErrTimeout: compilation exceeded its wall-clock budget.
	ErrTimeout = errors.New("compilation timed out")
)
