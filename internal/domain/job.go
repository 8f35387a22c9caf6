package domain

import "time"

type JobState string

const (
	JobStateQueued       JobState = "QUEUED"
	JobStateRunning      JobState = "RUNNING"
	JobStateSucceeded    JobState = "SUCCEEDED"
	JobStateFailed       JobState = "FAILED"
	JobStateDeadLettered JobState = "DEAD_LETTERED"
	JobStateCancelled    JobState = "CANCELLED"
)

// IsTerminal reports whether no further transition out of the state is
// legal (Failed is not terminal: it may still move to Queued for a retry
// or to DeadLettered once retries are exhausted).
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateSucceeded, JobStateDeadLettered, JobStateCancelled:
		return true
	default:
		return false
	}
}

// legalTransitions is the closed transition table for the job state
// machine. Stores consult it before applying any transition so illegal
// moves are rejected rather than trusted to callers.
var legalTransitions = map[JobState][]JobState{
	JobStateQueued:  {JobStateRunning, JobStateCancelled},
	JobStateRunning: {JobStateSucceeded, JobStateFailed},
	JobStateFailed:  {JobStateQueued, JobStateDeadLettered},
}

// CanTransition reports whether from -> to is a legal job state change.
func CanTransition(from, to JobState) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Tier is the caller-declared priority class of a request.
type Tier string

const (
	TierFree Tier = "FREE"
	TierPaid Tier = "PAID"
)

// Payload is the opaque input handed to the generation provider.
type Payload struct {
	Prompt string
	Params map[string]string
}

// Job is a unit of admitted generation work.
type Job struct {
	ID          JobID
	Fingerprint Fingerprint
	Subject     SubjectID
	Tier        Tier
	Priority    int
	Payload     Payload
	CallbackURL string

	State     JobState
	Attempts  int
	LastError string

	// NotBefore gates redequeue after a retry backoff.
	NotBefore time.Time
	// Seq is the store-assigned enqueue sequence used as the
	// deterministic tiebreak for equal effective priority.
	Seq uint64

	Result *Artifact

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}
