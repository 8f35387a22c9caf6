package jobstore

import (
	"context"
	"time"

	"github.com/glyphic-ai/render-api/internal/domain"
)

// FailKind classifies a worker-reported failure.
type FailKind int

const (
	// FailTransient is retryable (provider timeout, network error).
	FailTransient FailKind = iota
	// FailPermanent skips retry and dead-letters immediately (invalid
	// payload, provider-declared unrecoverable error).
	FailPermanent
)

// RetryPolicy governs how Fail resolves between redequeue and
// dead-lettering.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff computes the delay before retry attempt n (1-indexed).
	Backoff func(attempt int) time.Duration
}

// Store is the durable job queue.
//
// All state transitions go through the store, which validates them
// against the domain transition table; a Job handed out by DequeueNext
// is owned by exactly one worker (no double delivery).
type Store interface {
	// Enqueue appends j (state Queued) and returns immediately. It never
	// blocks on worker availability; beyond the configured maximum depth
	// it fails fast with ErrSaturated.
	Enqueue(ctx context.Context, j domain.Job) error

	// DequeueNext atomically claims the eligible Queued job with the
	// highest effective priority (base priority plus age boost), ties
	// broken by enqueue sequence, earliest first. Jobs whose NotBefore
	// is after now are not eligible. ok=false means nothing eligible.
	DequeueNext(ctx context.Context, now time.Time) (domain.Job, bool, error)

	// Complete transitions Running -> Succeeded and records the result.
	Complete(ctx context.Context, id domain.JobID, result domain.Artifact) (domain.Job, error)

	// Fail transitions Running -> Failed and then applies policy: back
	// to Queued with a backoff-derived NotBefore when retryable, or on
	// to DeadLettered when kind is permanent or attempts are exhausted.
	Fail(ctx context.Context, id domain.JobID, cause string, kind FailKind, policy RetryPolicy) (domain.Job, error)

	// Cancel transitions Queued -> Cancelled. A Running or terminal job
	// cannot be cancelled through the queue (ErrIllegalTransition);
	// cancelling a Running job is advisory only and handled elsewhere.
	Cancel(ctx context.Context, id domain.JobID) (domain.Job, error)

	Get(ctx context.Context, id domain.JobID) (domain.Job, error)

	// ListDeadLettered returns dead-lettered jobs for operator
	// inspection, newest first.
	ListDeadLettered(ctx context.Context, limit int) ([]domain.Job, error)

	// PurgeTerminal removes terminal jobs whose completion is older than
	// the retention cutoff and returns how many were removed.
	PurgeTerminal(ctx context.Context, olderThan time.Time) (int, error)

	// Depth returns the number of jobs currently occupying queue
	// capacity (Queued + Running).
	Depth(ctx context.Context) (int, error)
}
