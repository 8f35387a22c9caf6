// Package contracttest holds adapter-independent behavior suites for
// the outbound ports. Each adapter runs the same suite against its own
// construction, so the memory, redis and postgres implementations stay
// interchangeable.
package contracttest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/glyphic-ai/render-api/internal/domain"
	jobstoreport "github.com/glyphic-ai/render-api/internal/ports/out/jobstore"
	quotastoreport "github.com/glyphic-ai/render-api/internal/ports/out/quotastore"
	resultcacheport "github.com/glyphic-ai/render-api/internal/ports/out/resultcache"
)

type CleanupFunc = func()

type ResultCacheFactory func(t *testing.T) (resultcacheport.Cache, CleanupFunc)
type QuotaStoreFactory func(t *testing.T) (quotastoreport.Store, CleanupFunc)

// JobStoreFactory builds a store bounded at maxDepth.
type JobStoreFactory func(t *testing.T, maxDepth int) (jobstoreport.Store, CleanupFunc)

func RunResultCache(t *testing.T, newCache ResultCacheFactory) {
	t.Helper()
	ctx := context.Background()

	cache, cleanup := newCache(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	fp := domain.Fingerprint("fp-" + uuid.NewString())
	artifact := domain.Artifact{
		URL:         "https://cdn.example.com/a.png",
		ContentType: "image/png",
		Provider:    "render-v2",
		GeneratedAt: time.Unix(1000, 0).UTC(),
	}

	// Miss before store.
	if _, hit, err := cache.Lookup(ctx, fp); err != nil || hit {
		t.Fatalf("expected clean miss, got hit=%v err=%v", hit, err)
	}

	if err := cache.Store(ctx, fp, artifact, time.Hour); err != nil {
		t.Fatalf("Store: %v", err)
	}

	entry, hit, err := cache.Lookup(ctx, fp)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !hit {
		t.Fatalf("expected hit after store")
	}
	if entry.Artifact.URL != artifact.URL || entry.Artifact.Provider != artifact.Provider {
		t.Fatalf("unexpected artifact: %+v", entry.Artifact)
	}

	// Hit count advances on every hit.
	first := entry.HitCount
	entry, hit, err = cache.Lookup(ctx, fp)
	if err != nil || !hit {
		t.Fatalf("second Lookup: hit=%v err=%v", hit, err)
	}
	if entry.HitCount <= first {
		t.Fatalf("hit count did not advance: %d then %d", first, entry.HitCount)
	}

	// Store replaces the live entry.
	replacement := artifact
	replacement.URL = "https://cdn.example.com/b.png"
	if err := cache.Store(ctx, fp, replacement, time.Hour); err != nil {
		t.Fatalf("Store replace: %v", err)
	}
	entry, hit, err = cache.Lookup(ctx, fp)
	if err != nil || !hit {
		t.Fatalf("Lookup after replace: hit=%v err=%v", hit, err)
	}
	if entry.Artifact.URL != replacement.URL {
		t.Fatalf("expected replaced artifact, got %q", entry.Artifact.URL)
	}

	// Evict removes; evicting again is harmless.
	if err := cache.Evict(ctx, fp); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if _, hit, err := cache.Lookup(ctx, fp); err != nil || hit {
		t.Fatalf("expected miss after evict, got hit=%v err=%v", hit, err)
	}
	if err := cache.Evict(ctx, fp); err != nil {
		t.Fatalf("Evict absent: %v", err)
	}
}

func RunQuotaStore(t *testing.T, newStore QuotaStoreFactory) {
	t.Helper()
	ctx := context.Background()

	store, cleanup := newStore(t)
	if cleanup != nil {
		t.Cleanup(cleanup)
	}

	window := time.Hour
	sub := domain.SubjectID("sub-" + uuid.NewString())

	// Exactly limit admits, then rejection with a reset hint.
	for i := 0; i < 3; i++ {
		res, err := store.Consume(ctx, sub, quotastoreport.ScopeRate, 3, window)
		if err != nil {
			t.Fatalf("Consume %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("Consume %d: expected allowed", i)
		}
		if want := 2 - i; res.Remaining != want {
			t.Fatalf("Consume %d: remaining = %d, want %d", i, res.Remaining, want)
		}
	}
	res, err := store.Consume(ctx, sub, quotastoreport.ScopeRate, 3, window)
	if err != nil {
		t.Fatalf("Consume over limit: %v", err)
	}
	if res.Allowed || res.Remaining != 0 {
		t.Fatalf("expected rejection with remaining=0, got %+v", res)
	}
	if res.ResetAt.IsZero() {
		t.Fatalf("rejection must carry ResetAt")
	}

	// Scopes are independent budgets.
	qres, err := store.Consume(ctx, sub, quotastoreport.ScopeQuota, 5, window)
	if err != nil || !qres.Allowed {
		t.Fatalf("quota scope should be untouched: %+v err=%v", qres, err)
	}

	// Subjects never contend.
	other, err := store.Consume(ctx, domain.SubjectID("other-"+uuid.NewString()), quotastoreport.ScopeRate, 3, window)
	if err != nil || !other.Allowed {
		t.Fatalf("distinct subject should be admitted: %+v err=%v", other, err)
	}

	// Refund reopens exactly one unit.
	if err := store.Refund(ctx, sub, quotastoreport.ScopeRate, window); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	res, err = store.Consume(ctx, sub, quotastoreport.ScopeRate, 3, window)
	if err != nil || !res.Allowed {
		t.Fatalf("expected one unit back after refund: %+v err=%v", res, err)
	}
	res, err = store.Consume(ctx, sub, quotastoreport.ScopeRate, 3, window)
	if err != nil || res.Allowed {
		t.Fatalf("expected rejection after refunded unit spent: %+v err=%v", res, err)
	}
}

func RunJobStore(t *testing.T, newStore JobStoreFactory) {
	t.Helper()
	ctx := context.Background()

	newJob := func(priority int, createdAt time.Time) domain.Job {
		return domain.Job{
			ID:        domain.JobID(uuid.NewString()),
			Subject:   "sub-contract",
			Tier:      domain.TierFree,
			Priority:  priority,
			Payload:   domain.Payload{Prompt: "a castle at dusk"},
			State:     domain.JobStateQueued,
			CreatedAt: createdAt,
		}
	}

	t.Run("enqueue and get", func(t *testing.T) {
		store, cleanup := newStore(t, 100)
		if cleanup != nil {
			t.Cleanup(cleanup)
		}
		now := time.Now().UTC()
		j := newJob(5, now)
		if err := store.Enqueue(ctx, j); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		got, err := store.Get(ctx, j.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.State != domain.JobStateQueued || got.Priority != 5 || got.Payload.Prompt != j.Payload.Prompt {
			t.Fatalf("unexpected job: %+v", got)
		}
		if depth, err := store.Depth(ctx); err != nil || depth != 1 {
			t.Fatalf("Depth = %d, %v; want 1", depth, err)
		}
		if _, err := store.Get(ctx, domain.JobID("missing")); !errors.Is(err, jobstoreport.ErrNotFound) {
			t.Fatalf("Get missing: %v, want ErrNotFound", err)
		}
	})

	t.Run("dequeue order", func(t *testing.T) {
		store, cleanup := newStore(t, 100)
		if cleanup != nil {
			t.Cleanup(cleanup)
		}
		now := time.Now().UTC()

		low := newJob(1, now)
		high := newJob(50, now)
		lowFirst := newJob(1, now)
		for _, j := range []domain.Job{lowFirst, low, high} {
			if err := store.Enqueue(ctx, j); err != nil {
				t.Fatalf("Enqueue: %v", err)
			}
		}

		got, ok, err := store.DequeueNext(ctx, now)
		if err != nil || !ok {
			t.Fatalf("DequeueNext: ok=%v err=%v", ok, err)
		}
		if got.ID != high.ID {
			t.Fatalf("expected highest priority first, got %s", got.ID)
		}
		if got.State != domain.JobStateRunning || got.Attempts != 1 {
			t.Fatalf("claimed job should be Running with attempts=1: %+v", got)
		}

		// Equal priority: earliest enqueue wins.
		got, ok, err = store.DequeueNext(ctx, now)
		if err != nil || !ok {
			t.Fatalf("DequeueNext: ok=%v err=%v", ok, err)
		}
		if got.ID != lowFirst.ID {
			t.Fatalf("expected FIFO among equal priority, got %s", got.ID)
		}
	})

	t.Run("age boost overtakes", func(t *testing.T) {
		store, cleanup := newStore(t, 100)
		if cleanup != nil {
			t.Cleanup(cleanup)
		}
		now := time.Now().UTC()

		// An old low-priority job outranks a fresh slightly-higher one
		// once its age boost exceeds the base difference.
		old := newJob(1, now.Add(-10*domain.AgingStep))
		fresh := newJob(5, now)
		if err := store.Enqueue(ctx, old); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if err := store.Enqueue(ctx, fresh); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}

		got, ok, err := store.DequeueNext(ctx, now)
		if err != nil || !ok {
			t.Fatalf("DequeueNext: ok=%v err=%v", ok, err)
		}
		if got.ID != old.ID {
			t.Fatalf("expected aged job first, got %s", got.ID)
		}
	})

	t.Run("complete", func(t *testing.T) {
		store, cleanup := newStore(t, 100)
		if cleanup != nil {
			t.Cleanup(cleanup)
		}
		now := time.Now().UTC()
		j := newJob(1, now)
		if err := store.Enqueue(ctx, j); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}

		// Completing a job that was never claimed is illegal.
		if _, err := store.Complete(ctx, j.ID, domain.Artifact{}); !errors.Is(err, jobstoreport.ErrIllegalTransition) {
			t.Fatalf("Complete queued: %v, want ErrIllegalTransition", err)
		}

		if _, ok, err := store.DequeueNext(ctx, now); err != nil || !ok {
			t.Fatalf("DequeueNext: ok=%v err=%v", ok, err)
		}
		artifact := domain.Artifact{URL: "https://cdn.example.com/out.png", GeneratedAt: now}
		done, err := store.Complete(ctx, j.ID, artifact)
		if err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if done.State != domain.JobStateSucceeded || done.Result == nil || done.Result.URL != artifact.URL {
			t.Fatalf("unexpected completed job: %+v", done)
		}
		if done.CompletedAt == nil {
			t.Fatalf("completed job must carry CompletedAt")
		}

		// No double settle.
		if _, err := store.Complete(ctx, j.ID, artifact); !errors.Is(err, jobstoreport.ErrIllegalTransition) {
			t.Fatalf("double Complete: %v, want ErrIllegalTransition", err)
		}
	})

	t.Run("transient failure requeues with backoff", func(t *testing.T) {
		store, cleanup := newStore(t, 100)
		if cleanup != nil {
			t.Cleanup(cleanup)
		}
		now := time.Now().UTC()
		j := newJob(1, now)
		if err := store.Enqueue(ctx, j); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if _, ok, err := store.DequeueNext(ctx, now); err != nil || !ok {
			t.Fatalf("DequeueNext: ok=%v err=%v", ok, err)
		}

		policy := jobstoreport.RetryPolicy{
			MaxAttempts: 3,
			Backoff:     func(int) time.Duration { return time.Hour },
		}
		failed, err := store.Fail(ctx, j.ID, "provider timeout", jobstoreport.FailTransient, policy)
		if err != nil {
			t.Fatalf("Fail: %v", err)
		}
		if failed.State != domain.JobStateQueued {
			t.Fatalf("expected requeue, got %s", failed.State)
		}
		if failed.LastError != "provider timeout" {
			t.Fatalf("LastError = %q", failed.LastError)
		}

		// Not eligible until the backoff elapses.
		if _, ok, err := store.DequeueNext(ctx, time.Now().UTC()); err != nil || ok {
			t.Fatalf("expected nothing eligible during backoff: ok=%v err=%v", ok, err)
		}
		got, ok, err := store.DequeueNext(ctx, time.Now().UTC().Add(2*time.Hour))
		if err != nil || !ok {
			t.Fatalf("expected eligible after backoff: ok=%v err=%v", ok, err)
		}
		if got.ID != j.ID || got.Attempts != 2 {
			t.Fatalf("retry claim: %+v", got)
		}
	})

	t.Run("retries exhaust to dead letter", func(t *testing.T) {
		store, cleanup := newStore(t, 100)
		if cleanup != nil {
			t.Cleanup(cleanup)
		}
		now := time.Now().UTC()
		j := newJob(1, now)
		if err := store.Enqueue(ctx, j); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}

		policy := jobstoreport.RetryPolicy{
			MaxAttempts: 2,
			Backoff:     func(int) time.Duration { return 0 },
		}
		for attempt := 1; attempt <= 2; attempt++ {
			if _, ok, err := store.DequeueNext(ctx, time.Now().UTC().Add(time.Minute)); err != nil || !ok {
				t.Fatalf("DequeueNext attempt %d: ok=%v err=%v", attempt, ok, err)
			}
			failed, err := store.Fail(ctx, j.ID, "boom", jobstoreport.FailTransient, policy)
			if err != nil {
				t.Fatalf("Fail attempt %d: %v", attempt, err)
			}
			if attempt < 2 && failed.State != domain.JobStateQueued {
				t.Fatalf("attempt %d: expected requeue, got %s", attempt, failed.State)
			}
			if attempt == 2 && failed.State != domain.JobStateDeadLettered {
				t.Fatalf("expected dead letter after exhaustion, got %s", failed.State)
			}
		}

		dead, err := store.ListDeadLettered(ctx, 10)
		if err != nil {
			t.Fatalf("ListDeadLettered: %v", err)
		}
		if len(dead) != 1 || dead[0].ID != j.ID {
			t.Fatalf("dead letters: %+v", dead)
		}
	})

	t.Run("permanent failure dead-letters immediately", func(t *testing.T) {
		store, cleanup := newStore(t, 100)
		if cleanup != nil {
			t.Cleanup(cleanup)
		}
		now := time.Now().UTC()
		j := newJob(1, now)
		if err := store.Enqueue(ctx, j); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if _, ok, err := store.DequeueNext(ctx, now); err != nil || !ok {
			t.Fatalf("DequeueNext: ok=%v err=%v", ok, err)
		}
		policy := jobstoreport.RetryPolicy{MaxAttempts: 5, Backoff: func(int) time.Duration { return 0 }}
		failed, err := store.Fail(ctx, j.ID, "payload rejected", jobstoreport.FailPermanent, policy)
		if err != nil {
			t.Fatalf("Fail: %v", err)
		}
		if failed.State != domain.JobStateDeadLettered {
			t.Fatalf("expected dead letter on first permanent failure, got %s", failed.State)
		}
	})

	t.Run("cancel", func(t *testing.T) {
		store, cleanup := newStore(t, 100)
		if cleanup != nil {
			t.Cleanup(cleanup)
		}
		now := time.Now().UTC()
		j := newJob(1, now)
		if err := store.Enqueue(ctx, j); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		cancelled, err := store.Cancel(ctx, j.ID)
		if err != nil {
			t.Fatalf("Cancel: %v", err)
		}
		if cancelled.State != domain.JobStateCancelled {
			t.Fatalf("expected Cancelled, got %s", cancelled.State)
		}
		// A cancelled job never reaches a worker.
		if _, ok, err := store.DequeueNext(ctx, now.Add(time.Hour)); err != nil || ok {
			t.Fatalf("cancelled job must not dequeue: ok=%v err=%v", ok, err)
		}

		running := newJob(1, now)
		if err := store.Enqueue(ctx, running); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if _, ok, err := store.DequeueNext(ctx, now); err != nil || !ok {
			t.Fatalf("DequeueNext: ok=%v err=%v", ok, err)
		}
		if _, err := store.Cancel(ctx, running.ID); !errors.Is(err, jobstoreport.ErrIllegalTransition) {
			t.Fatalf("Cancel running: %v, want ErrIllegalTransition", err)
		}
		if _, err := store.Cancel(ctx, domain.JobID("missing")); !errors.Is(err, jobstoreport.ErrNotFound) {
			t.Fatalf("Cancel missing: %v, want ErrNotFound", err)
		}
	})

	t.Run("saturation", func(t *testing.T) {
		store, cleanup := newStore(t, 2)
		if cleanup != nil {
			t.Cleanup(cleanup)
		}
		now := time.Now().UTC()

		a, b := newJob(1, now), newJob(1, now)
		if err := store.Enqueue(ctx, a); err != nil {
			t.Fatalf("Enqueue a: %v", err)
		}
		if err := store.Enqueue(ctx, b); err != nil {
			t.Fatalf("Enqueue b: %v", err)
		}
		if err := store.Enqueue(ctx, newJob(1, now)); !errors.Is(err, jobstoreport.ErrSaturated) {
			t.Fatalf("Enqueue at depth: %v, want ErrSaturated", err)
		}

		// Running jobs still occupy capacity.
		if _, ok, err := store.DequeueNext(ctx, now); err != nil || !ok {
			t.Fatalf("DequeueNext: ok=%v err=%v", ok, err)
		}
		if err := store.Enqueue(ctx, newJob(1, now)); !errors.Is(err, jobstoreport.ErrSaturated) {
			t.Fatalf("Enqueue with running job: %v, want ErrSaturated", err)
		}

		// Terminal jobs release capacity.
		if _, err := store.Complete(ctx, a.ID, domain.Artifact{URL: "u"}); err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if err := store.Enqueue(ctx, newJob(1, now)); err != nil {
			t.Fatalf("Enqueue after release: %v", err)
		}
	})

	t.Run("purge terminal", func(t *testing.T) {
		store, cleanup := newStore(t, 100)
		if cleanup != nil {
			t.Cleanup(cleanup)
		}
		now := time.Now().UTC()
		j := newJob(1, now)
		if err := store.Enqueue(ctx, j); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if _, ok, err := store.DequeueNext(ctx, now); err != nil || !ok {
			t.Fatalf("DequeueNext: ok=%v err=%v", ok, err)
		}
		if _, err := store.Complete(ctx, j.ID, domain.Artifact{URL: "u"}); err != nil {
			t.Fatalf("Complete: %v", err)
		}

		// Nothing removed while inside retention.
		n, err := store.PurgeTerminal(ctx, time.Now().UTC().Add(-time.Hour))
		if err != nil || n != 0 {
			t.Fatalf("PurgeTerminal inside retention: n=%d err=%v", n, err)
		}
		n, err = store.PurgeTerminal(ctx, time.Now().UTC().Add(time.Hour))
		if err != nil {
			t.Fatalf("PurgeTerminal: %v", err)
		}
		if n != 1 {
			t.Fatalf("PurgeTerminal removed %d, want 1", n)
		}
		if _, err := store.Get(ctx, j.ID); !errors.Is(err, jobstoreport.ErrNotFound) {
			t.Fatalf("Get purged: %v, want ErrNotFound", err)
		}
	})
}
