// Package events publishes terminal job events to Redis Pub/Sub so
// subscribers (dashboards, SSE bridges) can follow a job without
// holding a connection to the API process that admitted it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/glyphic-ai/render-api/internal/domain"
)

// Event is the wire shape published on a job's channel.
type Event struct {
	Version   string         `json:"version"`
	Type      string         `json:"type"` // "succeeded", "failed", "dead_lettered", "cancelled"
	JobID     string         `json:"jobId"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Channel returns the pub/sub channel for one job.
func Channel(id domain.JobID) string {
	return "events:v1:" + string(id)
}

// Publisher emits job events. Pub/Sub has no replay: subscribers must
// subscribe before the terminal transition or fall back to polling.
type Publisher struct {
	rdb *redis.Client
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

func (p *Publisher) Publish(ctx context.Context, j domain.Job) error {
	ev := Event{
		Version:   "1",
		Type:      eventType(j.State),
		JobID:     string(j.ID),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if j.Result != nil {
		ev.Data = map[string]any{"url": j.Result.URL, "contentType": j.Result.ContentType}
	} else if j.LastError != "" {
		ev.Data = map[string]any{"error": j.LastError}
	}

	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event encode: %w", err)
	}
	if err := p.rdb.Publish(ctx, Channel(j.ID), raw).Err(); err != nil {
		return fmt.Errorf("event publish: %w", err)
	}
	return nil
}

func eventType(s domain.JobState) string {
	switch s {
	case domain.JobStateSucceeded:
		return "succeeded"
	case domain.JobStateDeadLettered:
		return "dead_lettered"
	case domain.JobStateCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}
