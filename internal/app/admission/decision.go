package admission

import (
	"time"

	"github.com/glyphic-ai/render-api/internal/domain"
)

// Reason is the machine-readable rejection code surfaced to callers.
type Reason string

const (
	ReasonRateLimited        Reason = "rate_limited"
	ReasonQuotaExceeded      Reason = "quota_exceeded"
	ReasonContentViolation   Reason = "content_violation"
	ReasonQueueSaturated     Reason = "queue_saturated"
	ReasonServiceUnavailable Reason = "service_unavailable"
)

// Request is the admission-relevant view of an incoming generation
// request.
type Request struct {
	Subject domain.SubjectID
	Prompt  string
	Params  map[string]string
}

// Decision is the ephemeral result of one admission evaluation. Denial
// is a normal value, never an error: Allowed=false with a Reason and,
// where applicable, a ResetAt for client backoff.
type Decision struct {
	Allowed bool
	Reason  Reason

	// Fingerprint computed during evaluation; zero when unkeyable.
	Fingerprint domain.Fingerprint

	// CachedArtifact is set when the request was served from cache; the
	// caller returns it immediately and skips enqueue.
	CachedArtifact *domain.Artifact

	// QuotaRemaining is set on admitted non-cached requests.
	QuotaRemaining *int

	// ResetAt accompanies rate_limited and quota_exceeded denials.
	ResetAt *time.Time

	// Categories accompanies content_violation denials.
	Categories []string
}
