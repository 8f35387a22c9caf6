package moderation

import "context"

// Result is the moderation verdict for a piece of content.
type Result struct {
	Flagged    bool
	Categories []string
}

// Checker is the external content-moderation collaborator. Calls are
// synchronous and must be wrapped in a bounded timeout by the caller;
// an error (unreachable, timed out) is resolved by the admission gate's
// fail-open/fail-closed policy, never treated as an allow by default.
type Checker interface {
	Check(ctx context.Context, content string) (Result, error)
}
