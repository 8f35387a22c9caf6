package quotastore

import (
	"context"
	"time"

	"github.com/glyphic-ai/render-api/internal/domain"
)

// Scope distinguishes the two admission budgets tracked per subject.
type Scope string

const (
	// ScopeRate is the short-term window (e.g. N requests per minute).
	ScopeRate Scope = "rate"
	// ScopeQuota is the long-period budget (e.g. daily ceiling).
	ScopeQuota Scope = "quota"
)

// Result is the outcome of a Consume attempt.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Store tracks fixed-window usage counters per (subject, scope).
//
// Consume is an atomic check-and-increment: under concurrent calls for
// the same subject, at most `limit` calls within one window observe
// Allowed=true. Counters for distinct subjects never contend with each
// other. A rejected Consume still reports Remaining=0 and the window's
// ResetAt so callers can surface backoff hints.
type Store interface {
	Consume(ctx context.Context, subject domain.SubjectID, scope Scope, limit int, window time.Duration) (Result, error)

	// Refund compensates one previously consumed unit in the current
	// window. Used when a later admission check (content policy) or
	// enqueue saturation voids an already-counted request. Refunding an
	// empty window is a no-op.
	Refund(ctx context.Context, subject domain.SubjectID, scope Scope, window time.Duration) error
}
