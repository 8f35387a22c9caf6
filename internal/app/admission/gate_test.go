package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	memclock "github.com/glyphic-ai/render-api/internal/adapters/memory/clock"
	memmoderation "github.com/glyphic-ai/render-api/internal/adapters/memory/moderation"
	memquotastore "github.com/glyphic-ai/render-api/internal/adapters/memory/quotastore"
	memresultcache "github.com/glyphic-ai/render-api/internal/adapters/memory/resultcache"
	"github.com/glyphic-ai/render-api/internal/app/fingerprint"
	"github.com/glyphic-ai/render-api/internal/domain"
	moderationport "github.com/glyphic-ai/render-api/internal/ports/out/moderation"
	resultcacheport "github.com/glyphic-ai/render-api/internal/ports/out/resultcache"
)

type fixture struct {
	clk    *memclock.ManualClock
	cache  *memresultcache.Cache
	quotas *memquotastore.Store
	gate   *Gate
}

func newFixture(t *testing.T, cfg Config, mod moderationport.Checker) *fixture {
	t.Helper()
	clk := memclock.NewManualClock(time.Unix(50000, 0))
	cache := memresultcache.NewCache(clk, 100)
	quotas := memquotastore.NewStore(clk)
	if mod == nil {
		mod = memmoderation.NewChecker(nil)
	}
	if cfg.ModerationTimeout == 0 {
		cfg.ModerationTimeout = time.Second
	}
	return &fixture{
		clk:    clk,
		cache:  cache,
		quotas: quotas,
		gate:   NewGate(cache, quotas, mod, cfg),
	}
}

func baseConfig() Config {
	return Config{
		RateLimit:   10,
		RateWindow:  time.Minute,
		QuotaLimit:  100,
		QuotaPeriod: 24 * time.Hour,
	}
}

func TestCacheHitServesWithoutConsuming(t *testing.T) {
	ctx := context.Background()
	cfg := baseConfig()
	cfg.RateLimit = 1 // a single consumed unit would exhaust the window
	f := newFixture(t, cfg, nil)

	req := Request{Subject: "sub-1", Prompt: "a castle at dusk"}
	fp, ok := fingerprint.Compute(fingerprint.Request{Prompt: req.Prompt, Params: req.Params})
	if !ok {
		t.Fatalf("prompt must be keyable")
	}
	artifact := domain.Artifact{URL: "https://cdn.example.com/castle.png"}
	if err := f.cache.Store(ctx, fp, artifact, time.Hour); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	// Repeated hits stay free: with a rate limit of 1, any consumption
	// would deny the second call.
	for i := 0; i < 3; i++ {
		dec, err := f.gate.Evaluate(ctx, req)
		if err != nil {
			t.Fatalf("Evaluate %d: %v", i, err)
		}
		if !dec.Allowed || dec.CachedArtifact == nil {
			t.Fatalf("Evaluate %d: expected cached allow, got %+v", i, dec)
		}
		if dec.CachedArtifact.URL != artifact.URL {
			t.Fatalf("Evaluate %d: wrong artifact %q", i, dec.CachedArtifact.URL)
		}
	}
}

func TestRateLimitDeniesWithReset(t *testing.T) {
	ctx := context.Background()
	cfg := baseConfig()
	cfg.RateLimit = 2
	f := newFixture(t, cfg, nil)
	req := Request{Subject: "sub-1", Prompt: "rolling hills"}

	for i := 0; i < 2; i++ {
		dec, err := f.gate.Evaluate(ctx, req)
		if err != nil || !dec.Allowed {
			t.Fatalf("Evaluate %d: %+v err=%v", i, dec, err)
		}
	}

	dec, err := f.gate.Evaluate(ctx, req)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if dec.Allowed || dec.Reason != ReasonRateLimited {
		t.Fatalf("expected rate_limited, got %+v", dec)
	}
	if dec.ResetAt == nil || !dec.ResetAt.After(f.clk.Now()) {
		t.Fatalf("rate_limited must carry a future ResetAt, got %v", dec.ResetAt)
	}

	// The window reopens after its length.
	f.clk.Advance(cfg.RateWindow)
	if dec, err := f.gate.Evaluate(ctx, req); err != nil || !dec.Allowed {
		t.Fatalf("after window rollover: %+v err=%v", dec, err)
	}
}

func TestQuotaDenialRefundsRateUnit(t *testing.T) {
	ctx := context.Background()
	cfg := baseConfig()
	cfg.RateLimit = 2
	cfg.QuotaLimit = 1
	f := newFixture(t, cfg, nil)
	req := Request{Subject: "sub-1", Prompt: "rolling hills"}

	dec, err := f.gate.Evaluate(ctx, req)
	if err != nil || !dec.Allowed {
		t.Fatalf("first Evaluate: %+v err=%v", dec, err)
	}

	// Every subsequent call is quota-denied. If the rate unit were not
	// refunded, the third call would surface rate_limited instead.
	for i := 0; i < 3; i++ {
		dec, err := f.gate.Evaluate(ctx, req)
		if err != nil {
			t.Fatalf("Evaluate %d: %v", i, err)
		}
		if dec.Allowed || dec.Reason != ReasonQuotaExceeded {
			t.Fatalf("Evaluate %d: expected quota_exceeded, got %+v", i, dec)
		}
		if dec.ResetAt == nil {
			t.Fatalf("quota_exceeded must carry ResetAt")
		}
	}
}

func TestModerationDenialRefundsBothUnits(t *testing.T) {
	ctx := context.Background()
	cfg := baseConfig()
	cfg.RateLimit = 1
	cfg.QuotaLimit = 1
	mod := memmoderation.NewChecker(map[string]string{"gore": "violence"})
	f := newFixture(t, cfg, mod)

	dec, err := f.gate.Evaluate(ctx, Request{Subject: "sub-1", Prompt: "extreme gore"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if dec.Allowed || dec.Reason != ReasonContentViolation {
		t.Fatalf("expected content_violation, got %+v", dec)
	}
	if len(dec.Categories) != 1 || dec.Categories[0] != "violence" {
		t.Fatalf("expected violation categories, got %v", dec.Categories)
	}

	// Both units came back: a clean request still fits in the
	// single-unit budgets.
	dec, err = f.gate.Evaluate(ctx, Request{Subject: "sub-1", Prompt: "rolling hills"})
	if err != nil || !dec.Allowed {
		t.Fatalf("clean request after refund: %+v err=%v", dec, err)
	}
}

type erroringChecker struct{}

func (erroringChecker) Check(context.Context, string) (moderationport.Result, error) {
	return moderationport.Result{}, errors.New("moderation unreachable")
}

func TestModerationOutageFailsClosedByDefault(t *testing.T) {
	ctx := context.Background()
	cfg := baseConfig()
	cfg.RateLimit = 1
	cfg.QuotaLimit = 1
	f := newFixture(t, cfg, erroringChecker{})
	req := Request{Subject: "sub-1", Prompt: "rolling hills"}

	dec, err := f.gate.Evaluate(ctx, req)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if dec.Allowed || dec.Reason != ReasonContentViolation {
		t.Fatalf("fail-closed outage must deny as content_violation, got %+v", dec)
	}

	// The consumed units were refunded, so the caller is not charged
	// for the outage.
	dec2, err := f.gate.Evaluate(ctx, req)
	if err != nil {
		t.Fatalf("second Evaluate: %v", err)
	}
	if dec2.Reason != ReasonContentViolation {
		t.Fatalf("expected content_violation again (not rate_limited), got %+v", dec2)
	}
}

func TestModerationOutageFailOpenAdmits(t *testing.T) {
	ctx := context.Background()
	cfg := baseConfig()
	cfg.ModerationFailOpen = true
	f := newFixture(t, cfg, erroringChecker{})

	dec, err := f.gate.Evaluate(ctx, Request{Subject: "sub-1", Prompt: "rolling hills"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !dec.Allowed || dec.QuotaRemaining == nil {
		t.Fatalf("fail-open outage must admit, got %+v", dec)
	}
}

type blockingChecker struct{}

func (blockingChecker) Check(ctx context.Context, _ string) (moderationport.Result, error) {
	<-ctx.Done()
	return moderationport.Result{}, ctx.Err()
}

func TestModerationTimeoutIsBounded(t *testing.T) {
	ctx := context.Background()
	cfg := baseConfig()
	cfg.ModerationTimeout = 10 * time.Millisecond
	f := newFixture(t, cfg, blockingChecker{})

	start := time.Now()
	dec, err := f.gate.Evaluate(ctx, Request{Subject: "sub-1", Prompt: "rolling hills"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("moderation hang leaked past the timeout: %v", elapsed)
	}
	if dec.Allowed || dec.Reason != ReasonContentViolation {
		t.Fatalf("timed-out moderation must fail closed, got %+v", dec)
	}
}

func TestUnkeyablePromptSkipsCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, baseConfig(), nil)

	dec, err := f.gate.Evaluate(ctx, Request{Subject: "sub-1", Prompt: "   "})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !dec.Allowed {
		t.Fatalf("unkeyable request should still pass the remaining checks: %+v", dec)
	}
	if !dec.Fingerprint.IsZero() {
		t.Fatalf("unkeyable request must carry no fingerprint, got %q", dec.Fingerprint)
	}
}

type erroringCache struct{}

func (erroringCache) Lookup(context.Context, domain.Fingerprint) (resultcacheport.Entry, bool, error) {
	return resultcacheport.Entry{}, false, errors.New("cache unreachable")
}
func (erroringCache) Store(context.Context, domain.Fingerprint, domain.Artifact, time.Duration) error {
	return errors.New("cache unreachable")
}
func (erroringCache) Evict(context.Context, domain.Fingerprint) error {
	return errors.New("cache unreachable")
}

func TestInfrastructureFaultIsUnavailableNotSilent(t *testing.T) {
	ctx := context.Background()
	clk := memclock.NewManualClock(time.Unix(50000, 0))
	gate := NewGate(erroringCache{}, memquotastore.NewStore(clk), memmoderation.NewChecker(nil), Config{
		RateLimit:         10,
		RateWindow:        time.Minute,
		QuotaLimit:        10,
		QuotaPeriod:       time.Hour,
		ModerationTimeout: time.Second,
	})

	dec, err := gate.Evaluate(ctx, Request{Subject: "sub-1", Prompt: "rolling hills"})
	if err == nil {
		t.Fatalf("infrastructure fault must surface an error")
	}
	if dec.Allowed || dec.Reason != ReasonServiceUnavailable {
		t.Fatalf("expected service_unavailable, got %+v", dec)
	}
}

func TestQuotaRemainingDecrements(t *testing.T) {
	ctx := context.Background()
	cfg := baseConfig()
	cfg.QuotaLimit = 3
	f := newFixture(t, cfg, nil)
	req := Request{Subject: "sub-1", Prompt: "rolling hills"}

	for want := 2; want >= 0; want-- {
		dec, err := f.gate.Evaluate(ctx, req)
		if err != nil || !dec.Allowed {
			t.Fatalf("Evaluate: %+v err=%v", dec, err)
		}
		if dec.QuotaRemaining == nil || *dec.QuotaRemaining != want {
			t.Fatalf("QuotaRemaining = %v, want %d", dec.QuotaRemaining, want)
		}
	}
}
