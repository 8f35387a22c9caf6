package generations

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	memclock "github.com/glyphic-ai/render-api/internal/adapters/memory/clock"
	memjobstore "github.com/glyphic-ai/render-api/internal/adapters/memory/jobstore"
	memmoderation "github.com/glyphic-ai/render-api/internal/adapters/memory/moderation"
	memquotastore "github.com/glyphic-ai/render-api/internal/adapters/memory/quotastore"
	memresultcache "github.com/glyphic-ai/render-api/internal/adapters/memory/resultcache"
	"github.com/glyphic-ai/render-api/internal/app/admission"
	"github.com/glyphic-ai/render-api/internal/domain"
	"github.com/glyphic-ai/render-api/internal/ports/out/jobstore"
)

type env struct {
	clk   *memclock.ManualClock
	cache *memresultcache.Cache
	jobs  *memjobstore.Store
	svc   *Service
}

func newEnv(t *testing.T, gateCfg admission.Config, maxDepth int) *env {
	t.Helper()
	clk := memclock.NewManualClock(time.Unix(90000, 0))
	cache := memresultcache.NewCache(clk, 100)
	quotas := memquotastore.NewStore(clk)
	jobs := memjobstore.NewStore(clk, maxDepth)

	if gateCfg.RateLimit == 0 {
		gateCfg = admission.Config{
			RateLimit:         100,
			RateWindow:        time.Minute,
			QuotaLimit:        100,
			QuotaPeriod:       time.Hour,
			ModerationTimeout: time.Second,
		}
	}
	gate := admission.NewGate(cache, quotas, memmoderation.NewChecker(map[string]string{"gore": "violence"}), gateCfg)

	svc := NewService(gate, jobs, clk)
	seq := 0
	svc.SetNewJobIDForTest(func() domain.JobID {
		seq++
		return domain.JobID(fmt.Sprintf("job-%d", seq))
	})
	return &env{clk: clk, cache: cache, jobs: jobs, svc: svc}
}

func TestSubmitEnqueuesAdmittedRequest(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, admission.Config{}, 100)

	res, err := e.svc.Submit(ctx, SubmitInput{
		Subject:      "sub-1",
		Prompt:       "a castle at dusk",
		Tier:         domain.TierPaid,
		PriorityHint: 10,
		CallbackURL:  "https://caller.example.com/hook",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.Decision.Allowed || res.Job == nil {
		t.Fatalf("expected enqueue, got %+v", res)
	}
	if res.Job.State != domain.JobStateQueued {
		t.Fatalf("job state = %s, want QUEUED", res.Job.State)
	}
	if res.Job.Tier != domain.TierPaid || res.Job.Priority <= 10 {
		t.Fatalf("paid tier must outrank its hint alone: %+v", res.Job)
	}
	if res.Job.Fingerprint.IsZero() {
		t.Fatalf("keyable submission must carry a fingerprint")
	}

	stored, err := e.jobs.Get(ctx, res.Job.ID)
	if err != nil {
		t.Fatalf("Get enqueued job: %v", err)
	}
	if stored.CallbackURL != "https://caller.example.com/hook" {
		t.Fatalf("callback URL not persisted: %+v", stored)
	}
}

func TestSubmitRejectsEmptyPrompt(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, admission.Config{}, 100)

	_, err := e.svc.Submit(ctx, SubmitInput{Subject: "sub-1", Prompt: "   "})
	var svcErr *Error
	if !errors.As(err, &svcErr) || svcErr.Status != 422 {
		t.Fatalf("expected 422 validation error, got %v", err)
	}
}

func TestSubmitServesCacheWithoutEnqueue(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, admission.Config{}, 100)
	in := SubmitInput{Subject: "sub-1", Prompt: "a castle at dusk"}

	first, err := e.svc.Submit(ctx, in)
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	artifact := domain.Artifact{URL: "https://cdn.example.com/castle.png"}
	if err := e.cache.Store(ctx, first.Job.Fingerprint, artifact, time.Hour); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	second, err := e.svc.Submit(ctx, in)
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if second.Job != nil {
		t.Fatalf("cache hit must not enqueue")
	}
	if second.Decision.CachedArtifact == nil || second.Decision.CachedArtifact.URL != artifact.URL {
		t.Fatalf("expected cached artifact, got %+v", second.Decision)
	}
	if depth, _ := e.jobs.Depth(ctx); depth != 1 {
		t.Fatalf("queue depth = %d, want 1 (only the first submission)", depth)
	}
}

func TestSubmitSaturationRefundsAndDenies(t *testing.T) {
	ctx := context.Background()
	cfg := admission.Config{
		RateLimit:         2,
		RateWindow:        time.Minute,
		QuotaLimit:        100,
		QuotaPeriod:       time.Hour,
		ModerationTimeout: time.Second,
	}
	e := newEnv(t, cfg, 1)

	first, err := e.svc.Submit(ctx, SubmitInput{Subject: "sub-1", Prompt: "prompt one"})
	if err != nil || first.Job == nil {
		t.Fatalf("first Submit: %+v err=%v", first, err)
	}

	second, err := e.svc.Submit(ctx, SubmitInput{Subject: "sub-1", Prompt: "prompt two"})
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if second.Decision.Allowed || second.Decision.Reason != admission.ReasonQueueSaturated {
		t.Fatalf("expected queue_saturated, got %+v", second.Decision)
	}

	// The saturated attempt was refunded: with a rate limit of 2 and
	// one unit spent on the first submission, a third try must still
	// reach the saturation check rather than being rate-limited.
	third, err := e.svc.Submit(ctx, SubmitInput{Subject: "sub-1", Prompt: "prompt three"})
	if err != nil {
		t.Fatalf("third Submit: %v", err)
	}
	if third.Decision.Reason != admission.ReasonQueueSaturated {
		t.Fatalf("expected queue_saturated again, got %+v", third.Decision)
	}
}

func TestStatusIsScopedToOwner(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, admission.Config{}, 100)

	res, err := e.svc.Submit(ctx, SubmitInput{Subject: "owner", Prompt: "a castle at dusk"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if _, err := e.svc.Status(ctx, "owner", res.Job.ID); err != nil {
		t.Fatalf("owner Status: %v", err)
	}

	// Another subject sees not-found, not forbidden: existence itself
	// is private.
	var svcErr *Error
	if _, err := e.svc.Status(ctx, "stranger", res.Job.ID); !errors.As(err, &svcErr) || svcErr.Status != 404 {
		t.Fatalf("stranger Status: %v, want 404", err)
	}
	if _, err := e.svc.Status(ctx, "owner", "no-such-job"); !errors.As(err, &svcErr) || svcErr.Status != 404 {
		t.Fatalf("missing Status: %v, want 404", err)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, admission.Config{}, 100)

	res, err := e.svc.Submit(ctx, SubmitInput{Subject: "owner", Prompt: "a castle at dusk"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	cancelled, err := e.svc.Cancel(ctx, "owner", res.Job.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.State != domain.JobStateCancelled {
		t.Fatalf("state = %s, want CANCELLED", cancelled.State)
	}
}

func TestCancelRunningJobConflicts(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, admission.Config{}, 100)

	res, err := e.svc.Submit(ctx, SubmitInput{Subject: "owner", Prompt: "a castle at dusk"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, ok, err := e.jobs.DequeueNext(ctx, e.clk.Now()); err != nil || !ok {
		t.Fatalf("claim job: ok=%v err=%v", ok, err)
	}

	var svcErr *Error
	_, err = e.svc.Cancel(ctx, "owner", res.Job.ID)
	if !errors.As(err, &svcErr) || svcErr.Status != 409 || svcErr.Code != "JOB_NOT_CANCELLABLE" {
		t.Fatalf("Cancel running: %v, want 409 JOB_NOT_CANCELLABLE", err)
	}
}

func TestDeadLettersListsExhaustedJobs(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, admission.Config{}, 100)

	res, err := e.svc.Submit(ctx, SubmitInput{Subject: "owner", Prompt: "a castle at dusk"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, ok, _ := e.jobs.DequeueNext(ctx, e.clk.Now()); !ok {
		t.Fatalf("claim job")
	}
	if _, err := e.jobs.Fail(ctx, res.Job.ID, "bad payload", jobstore.FailPermanent, jobstore.RetryPolicy{MaxAttempts: 3}); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	dead, err := e.svc.DeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("DeadLetters: %v", err)
	}
	if len(dead) != 1 || dead[0].ID != res.Job.ID || dead[0].LastError != "bad payload" {
		t.Fatalf("dead letters: %+v", dead)
	}
}
