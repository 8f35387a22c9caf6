package jobstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/glyphic-ai/render-api/internal/domain"
	clockport "github.com/glyphic-ai/render-api/internal/ports/out/clock"
	"github.com/glyphic-ai/render-api/internal/ports/out/jobstore"
)

// Store is an in-memory implementation of jobstore.Store.
// It is safe for concurrent use; a job claimed by DequeueNext is never
// handed to a second worker because the Queued->Running transition
// happens under the store lock.
type Store struct {
	mu       sync.Mutex
	byID     map[domain.JobID]*domain.Job
	maxDepth int
	nextSeq  uint64
	clk      clockport.Clock
}

func NewStore(clk clockport.Clock, maxDepth int) *Store {
	return &Store{
		byID:     make(map[domain.JobID]*domain.Job),
		maxDepth: maxDepth,
		clk:      clk,
	}
}

func (s *Store) Enqueue(ctx context.Context, j domain.Job) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeLocked() >= s.maxDepth {
		return jobstore.ErrSaturated
	}
	s.nextSeq++
	j.Seq = s.nextSeq
	j.State = domain.JobStateQueued
	cp := j
	s.byID[j.ID] = &cp
	return nil
}

func (s *Store) DequeueNext(ctx context.Context, now time.Time) (domain.Job, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *domain.Job
	var bestScore int
	for _, j := range s.byID {
		if j.State != domain.JobStateQueued || j.NotBefore.After(now) {
			continue
		}
		score := domain.EffectivePriority(j.Priority, j.CreatedAt, now)
		if best == nil || score > bestScore || (score == bestScore && j.Seq < best.Seq) {
			best = j
			bestScore = score
		}
	}
	if best == nil {
		return domain.Job{}, false, nil
	}

	best.State = domain.JobStateRunning
	best.Attempts++
	started := now
	best.StartedAt = &started
	return *best, true, nil
}

func (s *Store) Complete(ctx context.Context, id domain.JobID, result domain.Artifact) (domain.Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.transitionLocked(id, domain.JobStateSucceeded)
	if err != nil {
		return domain.Job{}, err
	}
	j.Result = &result
	j.LastError = ""
	done := s.clk.Now()
	j.CompletedAt = &done
	return *j, nil
}

func (s *Store) Fail(ctx context.Context, id domain.JobID, cause string, kind jobstore.FailKind, policy jobstore.RetryPolicy) (domain.Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.transitionLocked(id, domain.JobStateFailed)
	if err != nil {
		return domain.Job{}, err
	}
	j.LastError = cause

	retryable := kind == jobstore.FailTransient && j.Attempts < policy.MaxAttempts
	if retryable {
		if !domain.CanTransition(j.State, domain.JobStateQueued) {
			return domain.Job{}, jobstore.ErrIllegalTransition
		}
		j.State = domain.JobStateQueued
		delay := time.Duration(0)
		if policy.Backoff != nil {
			delay = policy.Backoff(j.Attempts)
		}
		j.NotBefore = s.clk.Now().Add(delay)
		return *j, nil
	}

	if !domain.CanTransition(j.State, domain.JobStateDeadLettered) {
		return domain.Job{}, jobstore.ErrIllegalTransition
	}
	j.State = domain.JobStateDeadLettered
	done := s.clk.Now()
	j.CompletedAt = &done
	return *j, nil
}

func (s *Store) Cancel(ctx context.Context, id domain.JobID) (domain.Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.transitionLocked(id, domain.JobStateCancelled)
	if err != nil {
		return domain.Job{}, err
	}
	done := s.clk.Now()
	j.CompletedAt = &done
	return *j, nil
}

func (s *Store) Get(ctx context.Context, id domain.JobID) (domain.Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.byID[id]
	if !ok {
		return domain.Job{}, jobstore.ErrNotFound
	}
	return *j, nil
}

func (s *Store) ListDeadLettered(ctx context.Context, limit int) ([]domain.Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Job, 0)
	for _, j := range s.byID {
		if j.State == domain.JobStateDeadLettered {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		ta, tb := out[a].CompletedAt, out[b].CompletedAt
		if ta != nil && tb != nil && !ta.Equal(*tb) {
			return ta.After(*tb)
		}
		return out[a].Seq > out[b].Seq
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) PurgeTerminal(ctx context.Context, olderThan time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, j := range s.byID {
		if j.State.IsTerminal() && j.CompletedAt != nil && j.CompletedAt.Before(olderThan) {
			delete(s.byID, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) Depth(ctx context.Context) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(), nil
}

func (s *Store) activeLocked() int {
	n := 0
	for _, j := range s.byID {
		if j.State == domain.JobStateQueued || j.State == domain.JobStateRunning {
			n++
		}
	}
	return n
}

func (s *Store) transitionLocked(id domain.JobID, to domain.JobState) (*domain.Job, error) {
	j, ok := s.byID[id]
	if !ok {
		return nil, jobstore.ErrNotFound
	}
	if !domain.CanTransition(j.State, to) {
		return nil, jobstore.ErrIllegalTransition
	}
	j.State = to
	return j, nil
}
