package notify

import (
	"context"

	"github.com/glyphic-ai/render-api/internal/domain"
)

// EventPublisher is satisfied by the redis events publisher; the
// indirection keeps this package free of a redis dependency.
type EventPublisher interface {
	Publish(ctx context.Context, j domain.Job) error
}

// EventSink adapts an EventPublisher into a delivery Sink so terminal
// states also reach subscribers on the job's event channel.
type EventSink struct {
	pub EventPublisher
}

func NewEventSink(pub EventPublisher) *EventSink {
	return &EventSink{pub: pub}
}

func (s *EventSink) Deliver(ctx context.Context, j domain.Job) error {
	return s.pub.Publish(ctx, j)
}
