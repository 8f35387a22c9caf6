package jobstore

import "errors"

var (
	ErrNotFound = errors.New("job not found")
	// ErrSaturated means the queue is at its configured maximum depth.
	// Callers must treat this as retryable-later, not a permanent denial.
	ErrSaturated = errors.New("queue saturated")
	// ErrIllegalTransition means the requested state change is not in the
	// job state machine's transition table.
	ErrIllegalTransition = errors.New("illegal job state transition")
)
