// Package worker drains the job queue: a fixed-size pool of goroutines
// claims admitted jobs, invokes the external generation provider,
// caches successes and reports terminal states to the notifier.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/glyphic-ai/render-api/internal/domain"
	clockport "github.com/glyphic-ai/render-api/internal/ports/out/clock"
	"github.com/glyphic-ai/render-api/internal/ports/out/generation"
	"github.com/glyphic-ai/render-api/internal/ports/out/jobstore"
	"github.com/glyphic-ai/render-api/internal/ports/out/resultcache"
	"github.com/glyphic-ai/render-api/internal/platform/backoff"
)

// Config tunes the pool.
type Config struct {
	Concurrency  int
	PollInterval time.Duration
	MaxAttempts  int
	Backoff      backoff.Strategy
	CacheTTL     time.Duration
	// Retention keeps terminal jobs queryable before the purge loop
	// removes them. Zero disables purging.
	Retention     time.Duration
	PurgeInterval time.Duration
}

// Notifier receives each terminal job exactly once.
type Notifier interface {
	Notify(j domain.Job)
}

// Pool executes queued jobs until stopped.
type Pool struct {
	jobs     jobstore.Store
	provider generation.Provider
	cache    resultcache.Cache
	notifier Notifier
	clk      clockport.Clock
	cfg      Config
	logger   *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewPool(jobs jobstore.Store, provider generation.Provider, cache resultcache.Cache, notifier Notifier, clk clockport.Clock, logger *slog.Logger, cfg Config) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff == nil {
		cfg.Backoff = backoff.Default()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = time.Minute
	}
	return &Pool{
		jobs:     jobs,
		provider: provider,
		cache:    cache,
		notifier: notifier,
		clk:      clk,
		cfg:      cfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the worker goroutines and returns immediately.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.Int("concurrency", p.cfg.Concurrency),
		slog.Int("max_attempts", p.cfg.MaxAttempts),
	)

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.dequeueLoop()
	}
	if p.cfg.Retention > 0 {
		p.wg.Add(1)
		go p.purgeLoop()
	}
}

// Stop signals all workers and waits for in-flight jobs, bounded by
// ctx. Jobs still running when ctx expires keep their Running state and
// are left for operator inspection.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) dequeueLoop() {
	defer p.wg.Done()
	ctx := context.Background()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		j, ok, err := p.jobs.DequeueNext(ctx, p.clk.Now())
		if err != nil {
			p.logger.Error("dequeue failed", slog.String("error", err.Error()))
			p.sleep()
			continue
		}
		if !ok {
			p.sleep()
			continue
		}
		p.execute(ctx, j)
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.cfg.PollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) purgeLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := p.clk.Now().Add(-p.cfg.Retention)
			if n, err := p.jobs.PurgeTerminal(context.Background(), cutoff); err != nil {
				p.logger.Error("purge failed", slog.String("error", err.Error()))
			} else if n > 0 {
				p.logger.Info("purged terminal jobs", slog.Int("count", n))
			}
		case <-p.stopCh:
			return
		}
	}
}
