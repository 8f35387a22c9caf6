package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glyphic-ai/render-api/internal/domain"
	"github.com/glyphic-ai/render-api/internal/ports/out/generation"
	"github.com/glyphic-ai/render-api/internal/ports/out/jobstore"
)

// execute runs one claimed job to a terminal or retryable state.
// Failures are isolated per job: a panic in the provider fails that job
// permanently and the worker goroutine keeps serving the queue.
func (p *Pool) execute(ctx context.Context, j domain.Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked",
				slog.String("job_id", string(j.ID)),
				slog.Any("panic", r),
			)
			p.settleFailure(ctx, j, fmt.Sprintf("panic: %v", r), jobstore.FailPermanent)
		}
	}()

	artifact, err := p.provider.Generate(ctx, j.Payload)
	if err != nil {
		kind := jobstore.FailTransient
		if generation.IsPermanent(err) {
			kind = jobstore.FailPermanent
		}
		p.settleFailure(ctx, j, err.Error(), kind)
		return
	}

	// Cache before completing so a subsequent identical request can hit.
	// A cache write failure is logged and swallowed: the artifact exists
	// and the job succeeded regardless.
	if !j.Fingerprint.IsZero() {
		if cerr := p.cache.Store(ctx, j.Fingerprint, artifact, p.cfg.CacheTTL); cerr != nil {
			p.logger.Error("cache store failed",
				slog.String("job_id", string(j.ID)),
				slog.String("error", cerr.Error()),
			)
		}
	}

	final, err := p.jobs.Complete(ctx, j.ID, artifact)
	if err != nil {
		p.logger.Error("complete failed",
			slog.String("job_id", string(j.ID)),
			slog.String("error", err.Error()),
		)
		return
	}
	p.notifier.Notify(final)
}

// settleFailure reports the failure to the store, which applies the
// retry/deadletter policy, and notifies only if the job actually
// reached a terminal state.
func (p *Pool) settleFailure(ctx context.Context, j domain.Job, cause string, kind jobstore.FailKind) {
	policy := jobstore.RetryPolicy{
		MaxAttempts: p.cfg.MaxAttempts,
		Backoff:     p.cfg.Backoff.Delay,
	}
	final, err := p.jobs.Fail(ctx, j.ID, cause, kind, policy)
	if err != nil {
		p.logger.Error("fail transition failed",
			slog.String("job_id", string(j.ID)),
			slog.String("error", err.Error()),
		)
		return
	}

	if final.State == domain.JobStateQueued {
		p.logger.Info("job requeued for retry",
			slog.String("job_id", string(j.ID)),
			slog.Int("attempts", final.Attempts),
			slog.Time("not_before", final.NotBefore),
		)
		return
	}
	p.logger.Warn("job dead-lettered",
		slog.String("job_id", string(j.ID)),
		slog.Int("attempts", final.Attempts),
		slog.String("error", cause),
	)
	p.notifier.Notify(final)
}
