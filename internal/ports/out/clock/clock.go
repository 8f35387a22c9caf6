package clock

import "time"

// Clock provides time to the pipeline. TTL expiry, window resets and
// retry eligibility all read time through this interface so tests can
// drive them deterministically with a manual implementation.
type Clock interface {
	Now() time.Time
}
