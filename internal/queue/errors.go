package queue

import "errors"

var (
	// ErrDuplicate is returned by Enqueue when a non-terminal item with
	// the same (source, source_ref) is already tracked. Callers treat it
	// as a recovered condition and drop the candidate.
	ErrDuplicate = errors.New("work item already tracked for source reference")

	// ErrNotFound is returned for operations on an unknown work item id.
	ErrNotFound = errors.New("work item not found")

	// ErrNotActive is returned by RecordOutcome when the target item is
	// not claimed. Terminal items stay immutable until an explicit Reset.
	ErrNotActive = errors.New("work item is not active")

	// ErrNotTerminal is returned by Reset when the target item is still
	// pending or active.
	ErrNotTerminal = errors.New("work item is not in a terminal state")
)
