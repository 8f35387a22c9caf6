// Package admission composes the pre-enqueue checks — cache, rate
// limit, quota, content policy — into a single allow/deny/serve-cached
// decision.
package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/glyphic-ai/render-api/internal/app/fingerprint"
	"github.com/glyphic-ai/render-api/internal/domain"
	"github.com/glyphic-ai/render-api/internal/ports/out/moderation"
	"github.com/glyphic-ai/render-api/internal/ports/out/quotastore"
	"github.com/glyphic-ai/render-api/internal/ports/out/resultcache"
)

// Config carries the deployment-provided policy numbers.
type Config struct {
	RateLimit   int
	RateWindow  time.Duration
	QuotaLimit  int
	QuotaPeriod time.Duration

	ModerationTimeout time.Duration
	// ModerationFailOpen selects the policy for moderation outages:
	// false (the default) fails closed, treating an unreachable checker
	// as a violation. Opting into fail-open is a deliberate deployment
	// decision.
	ModerationFailOpen bool
}

// Gate evaluates admission for incoming requests.
type Gate struct {
	cache  resultcache.Cache
	quotas quotastore.Store
	mod    moderation.Checker
	cfg    Config
}

func NewGate(cache resultcache.Cache, quotas quotastore.Store, mod moderation.Checker, cfg Config) *Gate {
	return &Gate{cache: cache, quotas: quotas, mod: mod, cfg: cfg}
}

// Evaluate runs the four checks in fixed order, short-circuiting on the
// first decisive one. Policy denials come back as a Decision with a nil
// error; a non-nil error accompanies the service_unavailable decision
// so the transport can log the underlying fault with its correlation ID.
func (g *Gate) Evaluate(ctx context.Context, req Request) (Decision, error) {
	// 1. Cache. A hit is free: no counter is consumed, no further check
	// runs. Unkeyable requests skip the cache both here and at store
	// time.
	fp, keyable := fingerprint.Compute(fingerprint.Request{Prompt: req.Prompt, Params: req.Params})
	if keyable {
		entry, hit, err := g.cache.Lookup(ctx, fp)
		if err != nil {
			return unavailable(fp), fmt.Errorf("cache lookup: %w", err)
		}
		if hit {
			artifact := entry.Artifact
			return Decision{Allowed: true, Fingerprint: fp, CachedArtifact: &artifact}, nil
		}
	}

	// 2. Rate limit (short window).
	rate, err := g.quotas.Consume(ctx, req.Subject, quotastore.ScopeRate, g.cfg.RateLimit, g.cfg.RateWindow)
	if err != nil {
		return unavailable(fp), fmt.Errorf("rate counter: %w", err)
	}
	if !rate.Allowed {
		reset := rate.ResetAt
		return Decision{Reason: ReasonRateLimited, Fingerprint: fp, ResetAt: &reset}, nil
	}

	// 3. Quota (long period). The rate unit consumed above is refunded
	// on denial so a quota-blocked request costs nothing.
	quota, err := g.quotas.Consume(ctx, req.Subject, quotastore.ScopeQuota, g.cfg.QuotaLimit, g.cfg.QuotaPeriod)
	if err != nil {
		g.refundRate(ctx, req)
		return unavailable(fp), fmt.Errorf("quota counter: %w", err)
	}
	if !quota.Allowed {
		g.refundRate(ctx, req)
		reset := quota.ResetAt
		return Decision{Reason: ReasonQuotaExceeded, Fingerprint: fp, ResetAt: &reset}, nil
	}

	// 4. Content policy, under a hard timeout.
	modCtx, cancel := context.WithTimeout(ctx, g.cfg.ModerationTimeout)
	verdict, err := g.mod.Check(modCtx, req.Prompt)
	cancel()
	if err != nil {
		if g.cfg.ModerationFailOpen {
			remaining := quota.Remaining
			return Decision{Allowed: true, Fingerprint: fp, QuotaRemaining: &remaining}, nil
		}
		g.Refund(ctx, req)
		return Decision{Reason: ReasonContentViolation, Fingerprint: fp}, nil
	}
	if verdict.Flagged {
		g.Refund(ctx, req)
		return Decision{Reason: ReasonContentViolation, Fingerprint: fp, Categories: verdict.Categories}, nil
	}

	remaining := quota.Remaining
	return Decision{Allowed: true, Fingerprint: fp, QuotaRemaining: &remaining}, nil
}

// Refund credits back both units consumed by an admitted request whose
// work never materialized (moderation denial, queue saturation).
func (g *Gate) Refund(ctx context.Context, req Request) {
	g.refundRate(ctx, req)
	_ = g.quotas.Refund(ctx, req.Subject, quotastore.ScopeQuota, g.cfg.QuotaPeriod)
}

func (g *Gate) refundRate(ctx context.Context, req Request) {
	_ = g.quotas.Refund(ctx, req.Subject, quotastore.ScopeRate, g.cfg.RateWindow)
}

func unavailable(fp domain.Fingerprint) Decision {
	return Decision{Reason: ReasonServiceUnavailable, Fingerprint: fp}
}
