package domain

// SubjectID is the rate-limited actor a request is attributed to
// (typically an API key or user identifier). We model it as an opaque
// identifier: its format is controlled by the API layer.
type SubjectID string

// JobID is an internal identifier for a generation job.
type JobID string
