package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glyphic-ai/render-api/internal/domain"
	"github.com/glyphic-ai/render-api/internal/platform/backoff"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type captureSink struct {
	mu    sync.Mutex
	jobs  []domain.Job
	errs  int // fail the first errs deliveries
	calls int
}

func (s *captureSink) Deliver(_ context.Context, j domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.errs {
		return errors.New("sink down")
	}
	s.jobs = append(s.jobs, j)
	return nil
}

func (s *captureSink) delivered() []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Job, len(s.jobs))
	copy(out, s.jobs)
	return out
}

func awaitDelivery(t *testing.T, sink *captureSink, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(sink.delivered()) >= want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("expected %d deliveries, got %d", want, len(sink.delivered()))
}

func TestNotifyDeliversToAllSinks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b := &captureSink{}, &captureSink{}
	n := NewNotifier(discardLogger(), Config{RatePerSec: 1000}, a, b)
	n.Start(ctx)

	n.Notify(domain.Job{ID: "job-1", State: domain.JobStateSucceeded})

	awaitDelivery(t, a, 1)
	awaitDelivery(t, b, 1)
	if a.delivered()[0].ID != "job-1" || b.delivered()[0].ID != "job-1" {
		t.Fatalf("both sinks must see the job")
	}
}

func TestDeliveryRetriesWithinBudget(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &captureSink{errs: 2}
	n := NewNotifier(discardLogger(), Config{
		MaxAttempts: 3,
		Backoff:     backoff.NewConstant(time.Millisecond),
		RatePerSec:  1000,
	}, sink)
	n.Start(ctx)

	n.Notify(domain.Job{ID: "job-1", State: domain.JobStateSucceeded})

	awaitDelivery(t, sink, 1)
	sink.mu.Lock()
	calls := sink.calls
	sink.mu.Unlock()
	if calls != 3 {
		t.Fatalf("delivery calls = %d, want 3 (two failures + one success)", calls)
	}
}

func TestExhaustedRetriesAreDroppedNotEscalated(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dead := &captureSink{errs: 1000}
	next := &captureSink{}
	n := NewNotifier(discardLogger(), Config{
		MaxAttempts: 2,
		Backoff:     backoff.NewConstant(time.Millisecond),
		RatePerSec:  1000,
	}, dead, next)
	n.Start(ctx)

	n.Notify(domain.Job{ID: "job-1", State: domain.JobStateSucceeded})

	// The failing sink must not block the remaining sinks.
	awaitDelivery(t, next, 1)
	if len(dead.delivered()) != 0 {
		t.Fatalf("dead sink should have delivered nothing")
	}
}

func TestNotifyNeverBlocksWhenFull(t *testing.T) {
	// The loop is not started, so the queue can only fill up.
	n := NewNotifier(discardLogger(), Config{QueueDepth: 2}, &captureSink{})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			n.Notify(domain.Job{ID: domain.JobID(string(rune('a' + i)))})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Notify blocked on a full queue")
	}
}

func TestDrainOnShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	sink := &captureSink{}
	n := NewNotifier(discardLogger(), Config{RatePerSec: 1000}, sink)

	// Buffer a few notifications before the loop starts, then cancel
	// immediately: the loop must still flush the buffer before exiting.
	for i := 0; i < 5; i++ {
		n.Notify(domain.Job{ID: domain.JobID(string(rune('a' + i))), State: domain.JobStateSucceeded})
	}
	n.Start(ctx)
	cancel()

	select {
	case <-n.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("notifier did not shut down")
	}
	if got := len(sink.delivered()); got != 5 {
		t.Fatalf("drained %d notifications, want 5", got)
	}
}

type gatedSink struct {
	captureSink
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedSink) Deliver(ctx context.Context, j domain.Job) error {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.captureSink.Deliver(ctx, j)
}

func TestInFlightNotificationSurvivesShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	sink := &gatedSink{entered: make(chan struct{}), release: make(chan struct{})}
	n := NewNotifier(discardLogger(), Config{RatePerSec: 1000}, sink)
	n.Start(ctx)

	n.Notify(domain.Job{ID: "job-1", State: domain.JobStateSucceeded})

	// Cancel while the sink is holding the popped notification; the
	// delivery must still complete rather than being dropped.
	<-sink.entered
	cancel()
	close(sink.release)

	select {
	case <-n.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("notifier did not shut down")
	}
	if got := len(sink.delivered()); got != 1 {
		t.Fatalf("delivered %d notifications, want 1", got)
	}
}

func TestWebhookSinkPostsTerminalState(t *testing.T) {
	var gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(time.Second)
	job := domain.Job{
		ID:          "job-1",
		State:       domain.JobStateSucceeded,
		Attempts:    2,
		CallbackURL: srv.URL,
		Result:      &domain.Artifact{URL: "https://cdn.example.com/a.png"},
	}
	if err := sink.Deliver(context.Background(), job); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	var payload WebhookPayload
	if err := json.Unmarshal(gotBody.Load().([]byte), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.JobID != "job-1" || payload.State != "SUCCEEDED" || payload.Attempts != 2 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
	if payload.Result == nil || payload.Result.URL != "https://cdn.example.com/a.png" {
		t.Fatalf("payload must carry the artifact: %+v", payload)
	}
	if payload.Error != "" {
		t.Fatalf("success payload must not carry an error")
	}
}

func TestWebhookSinkReportsFailureBody(t *testing.T) {
	var gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	job := domain.Job{
		ID:          "job-2",
		State:       domain.JobStateDeadLettered,
		Attempts:    3,
		LastError:   "provider timeout",
		CallbackURL: srv.URL,
	}
	if err := NewWebhookSink(time.Second).Deliver(context.Background(), job); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	var payload WebhookPayload
	if err := json.Unmarshal(gotBody.Load().([]byte), &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.State != "DEAD_LETTERED" || payload.Error != "provider timeout" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestWebhookSinkTreatsNon2xxAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	job := domain.Job{ID: "job-3", State: domain.JobStateSucceeded, CallbackURL: srv.URL}
	if err := NewWebhookSink(time.Second).Deliver(context.Background(), job); err == nil {
		t.Fatalf("expected error on 502 response")
	}
}

func TestWebhookSinkSkipsJobsWithoutCallback(t *testing.T) {
	sink := NewWebhookSink(time.Second)
	if err := sink.Deliver(context.Background(), domain.Job{ID: "job-4", State: domain.JobStateSucceeded}); err != nil {
		t.Fatalf("no-callback job must be a no-op: %v", err)
	}
}
