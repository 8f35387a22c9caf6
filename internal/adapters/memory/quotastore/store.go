package quotastore

import (
	"context"
	"sync"
	"time"

	"github.com/glyphic-ai/render-api/internal/domain"
	clockport "github.com/glyphic-ai/render-api/internal/ports/out/clock"
	"github.com/glyphic-ai/render-api/internal/ports/out/quotastore"
)

type counterKey struct {
	subject domain.SubjectID
	scope   quotastore.Scope
}

// window is a fixed usage window for one (subject, scope) pair.
// Each window has its own lock so contention stays scoped to the key,
// never the whole store.
type window struct {
	mu      sync.Mutex
	used    int
	resetAt time.Time
}

// Store is an in-memory implementation of quotastore.Store with
// per-key fixed windows. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	windows map[counterKey]*window
	clk     clockport.Clock
}

func NewStore(clk clockport.Clock) *Store {
	return &Store{
		windows: make(map[counterKey]*window),
		clk:     clk,
	}
}

func (s *Store) Consume(ctx context.Context, subject domain.SubjectID, scope quotastore.Scope, limit int, windowLen time.Duration) (quotastore.Result, error) {
	_ = ctx
	now := s.clk.Now()
	w := s.window(subject, scope)

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.resetAt.After(now) {
		w.used = 0
		w.resetAt = now.Add(windowLen)
	}
	if w.used >= limit {
		return quotastore.Result{Allowed: false, Remaining: 0, ResetAt: w.resetAt}, nil
	}
	w.used++
	return quotastore.Result{Allowed: true, Remaining: limit - w.used, ResetAt: w.resetAt}, nil
}

func (s *Store) Refund(ctx context.Context, subject domain.SubjectID, scope quotastore.Scope, windowLen time.Duration) error {
	_ = ctx
	_ = windowLen
	now := s.clk.Now()
	w := s.window(subject, scope)

	w.mu.Lock()
	defer w.mu.Unlock()

	// A refund after the window rolled over would credit the wrong
	// window; drop it instead.
	if !w.resetAt.After(now) || w.used == 0 {
		return nil
	}
	w.used--
	return nil
}

func (s *Store) window(subject domain.SubjectID, scope quotastore.Scope) *window {
	key := counterKey{subject: subject, scope: scope}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok {
		w = &window{}
		s.windows[key] = w
	}
	return w
}
