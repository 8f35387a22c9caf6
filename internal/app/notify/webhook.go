package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/glyphic-ai/render-api/internal/domain"
)

// WebhookPayload is the body POSTed to a job's registered callback URL
// on its terminal transition.
type WebhookPayload struct {
	JobID    string           `json:"jobId"`
	State    string           `json:"state"`
	Attempts int              `json:"attempts"`
	Result   *domain.Artifact `json:"result,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// WebhookSink delivers terminal job states to the callback URL the
// caller registered at submit time. Jobs without a callback URL are a
// successful no-op.
type WebhookSink struct {
	client *http.Client
}

func NewWebhookSink(timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{client: &http.Client{Timeout: timeout}}
}

func (s *WebhookSink) Deliver(ctx context.Context, j domain.Job) error {
	if j.CallbackURL == "" {
		return nil
	}

	payload := WebhookPayload{
		JobID:    string(j.ID),
		State:    string(j.State),
		Attempts: j.Attempts,
		Result:   j.Result,
	}
	if j.State != domain.JobStateSucceeded {
		payload.Error = j.LastError
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
