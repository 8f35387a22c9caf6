package resultcache

import (
	"context"
	"time"

	"github.com/glyphic-ai/render-api/internal/domain"
)

// Entry is a live cached artifact for one fingerprint.
// At most one live entry exists per fingerprint: a Store for an existing
// fingerprint replaces the previous entry.
type Entry struct {
	Fingerprint domain.Fingerprint
	Artifact    domain.Artifact
	CreatedAt   time.Time
	ExpiresAt   time.Time
	HitCount    int64
}

// Cache is a content-addressed result store with TTL expiry.
//
// Expiry is lazy: Lookup treats an expired entry as a miss and removes
// it. Implementations may additionally sweep expired entries in the
// background, but no strict real-time eviction is guaranteed.
type Cache interface {
	// Lookup returns the live entry for fp, incrementing its hit count
	// as a side effect. ok=false means miss (absent or expired).
	Lookup(ctx context.Context, fp domain.Fingerprint) (Entry, bool, error)

	// Store writes artifact under fp with the given TTL, replacing any
	// existing live entry.
	Store(ctx context.Context, fp domain.Fingerprint, artifact domain.Artifact, ttl time.Duration) error

	// Evict removes the entry for fp, if any (retroactive takedown).
	Evict(ctx context.Context, fp domain.Fingerprint) error
}
