// Package generations is the application service behind the public
// generation API: admission, enqueue, status, cancellation and the
// operator dead-letter view.
package generations

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/glyphic-ai/render-api/internal/app/admission"
	"github.com/glyphic-ai/render-api/internal/app/ranker"
	"github.com/glyphic-ai/render-api/internal/domain"
	clockport "github.com/glyphic-ai/render-api/internal/ports/out/clock"
	"github.com/glyphic-ai/render-api/internal/ports/out/jobstore"
)

type Service struct {
	gate *admission.Gate
	jobs jobstore.Store
	clk  clockport.Clock

	newJobID func() domain.JobID
}

func NewService(gate *admission.Gate, jobs jobstore.Store, clk clockport.Clock) *Service {
	return &Service{
		gate: gate,
		jobs: jobs,
		clk:  clk,
		newJobID: func() domain.JobID {
			return domain.JobID(uuid.NewString())
		},
	}
}

// SetNewJobIDForTest overrides job ID generation for deterministic
// tests. It should not be used in production code.
func (s *Service) SetNewJobIDForTest(fn func() domain.JobID) {
	if fn != nil {
		s.newJobID = fn
	}
}

type SubmitInput struct {
	Subject      domain.SubjectID
	Prompt       string
	Params       map[string]string
	Tier         domain.Tier
	PriorityHint int
	CallbackURL  string
}

// SubmitResult carries the admission decision and, when the request was
// admitted for asynchronous execution, the queued job.
type SubmitResult struct {
	Decision admission.Decision
	Job      *domain.Job
}

// Submit runs admission and, on an allow without a cached artifact,
// enqueues a job and returns immediately — it never waits for a worker.
// A saturated queue voids the admission (the consumed units are
// refunded) and surfaces as a retryable queue_saturated denial.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (SubmitResult, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return SubmitResult{}, &Error{Status: 422, Code: "VALIDATION_ERROR", Message: "invalid prompt", Details: map[string]any{"prompt": "must be non-empty"}}
	}

	req := admission.Request{Subject: in.Subject, Prompt: in.Prompt, Params: in.Params}
	dec, err := s.gate.Evaluate(ctx, req)
	if err != nil {
		return SubmitResult{Decision: dec}, err
	}
	if !dec.Allowed || dec.CachedArtifact != nil {
		return SubmitResult{Decision: dec}, nil
	}

	tier := in.Tier
	if tier == "" {
		tier = domain.TierFree
	}
	now := s.clk.Now()
	job := domain.Job{
		ID:          s.newJobID(),
		Fingerprint: dec.Fingerprint,
		Subject:     in.Subject,
		Tier:        tier,
		Priority:    ranker.Rank(tier, in.PriorityHint),
		Payload:     domain.Payload{Prompt: in.Prompt, Params: in.Params},
		CallbackURL: in.CallbackURL,
		State:       domain.JobStateQueued,
		CreatedAt:   now,
	}

	if err := s.jobs.Enqueue(ctx, job); err != nil {
		s.gate.Refund(ctx, req)
		if errors.Is(err, jobstore.ErrSaturated) {
			saturated := dec
			saturated.Allowed = false
			saturated.Reason = admission.ReasonQueueSaturated
			saturated.QuotaRemaining = nil
			return SubmitResult{Decision: saturated}, nil
		}
		return SubmitResult{Decision: admission.Decision{Reason: admission.ReasonServiceUnavailable}}, err
	}

	return SubmitResult{Decision: dec, Job: &job}, nil
}

// Status returns the job as the owning subject may see it.
func (s *Service) Status(ctx context.Context, caller domain.SubjectID, id domain.JobID) (domain.Job, error) {
	j, err := s.jobs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			return domain.Job{}, notFound()
		}
		return domain.Job{}, err
	}
	if j.Subject != caller {
		// Jobs are private to their subject: report not-found rather
		// than leaking existence.
		return domain.Job{}, notFound()
	}
	return j, nil
}

// Cancel removes a queued job before a worker picks it up. Running jobs
// cannot be cancelled through the queue; the provider call is opaque and
// cancellation there is advisory at best, so we report conflict instead
// of pretending.
func (s *Service) Cancel(ctx context.Context, caller domain.SubjectID, id domain.JobID) (domain.Job, error) {
	j, err := s.jobs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotFound) {
			return domain.Job{}, notFound()
		}
		return domain.Job{}, err
	}
	if j.Subject != caller {
		return domain.Job{}, notFound()
	}

	cancelled, err := s.jobs.Cancel(ctx, id)
	if err != nil {
		if errors.Is(err, jobstore.ErrIllegalTransition) {
			return domain.Job{}, &Error{
				Status: 409, Code: "JOB_NOT_CANCELLABLE",
				Message: "job is already running or finished",
				Details: map[string]any{"state": string(j.State)},
			}
		}
		if errors.Is(err, jobstore.ErrNotFound) {
			return domain.Job{}, notFound()
		}
		return domain.Job{}, err
	}
	return cancelled, nil
}

// DeadLetters lists dead-lettered jobs for operator inspection.
func (s *Service) DeadLetters(ctx context.Context, limit int) ([]domain.Job, error) {
	return s.jobs.ListDeadLettered(ctx, limit)
}

func notFound() *Error {
	return &Error{Status: 404, Code: "JOB_NOT_FOUND", Message: "job not found"}
}
