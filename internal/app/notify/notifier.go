// Package notify delivers terminal job outcomes to callers out of band.
// Delivery runs on its own bounded queue and loop, so webhook retries
// can never block job processing; it is best-effort with a bounded
// retry budget, and a job whose notification ultimately fails is still
// a finished job — the result stays queryable by ID.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/glyphic-ai/render-api/internal/domain"
	"github.com/glyphic-ai/render-api/internal/platform/backoff"
)

// Sink is one delivery channel for a terminal job event (webhook,
// pub/sub stream). Returning an error marks the attempt failed and
// eligible for retry.
type Sink interface {
	Deliver(ctx context.Context, j domain.Job) error
}

// Config tunes the notifier.
type Config struct {
	// QueueDepth bounds the outbound buffer; at capacity new
	// notifications are dropped (and logged) rather than blocking the
	// worker that produced them.
	QueueDepth  int
	MaxAttempts int
	Backoff     backoff.Strategy
	// RatePerSec throttles outbound deliveries across all sinks.
	RatePerSec float64
}

// Notifier fans terminal job states out to its sinks, exactly one
// Notify per terminal transition (the worker guarantees the calling
// side of that contract).
type Notifier struct {
	sinks   []Sink
	queue   chan domain.Job
	limiter *rate.Limiter
	cfg     Config
	logger  *slog.Logger

	startOnce sync.Once
	done      chan struct{}
}

func NewNotifier(logger *slog.Logger, cfg Config, sinks ...Sink) *Notifier {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff == nil {
		cfg.Backoff = backoff.NewExponential(time.Second, 30*time.Second)
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	return &Notifier{
		sinks:   sinks,
		queue:   make(chan domain.Job, cfg.QueueDepth),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		cfg:     cfg,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start launches the delivery loop; it runs until ctx is done and the
// queue has drained.
func (n *Notifier) Start(ctx context.Context) {
	n.startOnce.Do(func() {
		go n.run(ctx)
	})
}

// Done is closed once the delivery loop has exited.
func (n *Notifier) Done() <-chan struct{} { return n.done }

// Notify enqueues one delivery. It never blocks: when the outbound
// buffer is full the notification is dropped and logged, since callers
// can always fall back to polling the job by ID.
func (n *Notifier) Notify(j domain.Job) {
	select {
	case n.queue <- j:
	default:
		n.logger.Warn("notification dropped, outbound queue full",
			slog.String("job_id", string(j.ID)),
			slog.String("state", string(j.State)),
		)
	}
}

func (n *Notifier) run(ctx context.Context) {
	defer close(n.done)
	for {
		select {
		case j := <-n.queue:
			n.deliver(j)
		case <-ctx.Done():
			// Drain what is already buffered before exiting.
			for {
				select {
				case j := <-n.queue:
					n.deliver(j)
				default:
					return
				}
			}
		}
	}
}

// deliver runs detached from the loop's lifetime context: once a
// notification is popped from the queue, shutdown must not be able to
// drop it mid-flight. ctx only stops intake of new work.
func (n *Notifier) deliver(j domain.Job) {
	ctx := context.Background()
	for _, sink := range n.sinks {
		if err := n.limiter.Wait(ctx); err != nil {
			return
		}
		n.deliverSink(ctx, sink, j)
	}
}

func (n *Notifier) deliverSink(ctx context.Context, sink Sink, j domain.Job) {
	var err error
	for attempt := 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		if err = sink.Deliver(ctx, j); err == nil {
			return
		}
		if attempt < n.cfg.MaxAttempts {
			select {
			case <-time.After(n.cfg.Backoff.Delay(attempt)):
			case <-ctx.Done():
				return
			}
		}
	}
	// Permanent delivery failure: logged, never escalated to the job.
	n.logger.Error("notification delivery failed permanently",
		slog.String("job_id", string(j.ID)),
		slog.String("state", string(j.State)),
		slog.Int("attempts", n.cfg.MaxAttempts),
		slog.String("error", err.Error()),
	)
}
