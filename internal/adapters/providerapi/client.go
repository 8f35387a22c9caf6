// Package providerapi is an HTTP client for the external generation
// engine invoked by workers.
package providerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/glyphic-ai/render-api/internal/domain"
	"github.com/glyphic-ai/render-api/internal/ports/out/generation"
)

// Client implements generation.Provider against a JSON endpoint:
// POST {prompt, params} -> {url, contentType}.
//
// 4xx responses are classified permanent (the payload will never
// succeed), except 429; network errors, throttling and 5xx responses
// are transient and left to the job retry policy.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Prompt string            `json:"prompt"`
	Params map[string]string `json:"params,omitempty"`
}

type generateResponse struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
}

func (c *Client) Generate(ctx context.Context, payload domain.Payload) (domain.Artifact, error) {
	body, err := json.Marshal(generateRequest{Prompt: payload.Prompt, Params: payload.Params})
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("%w: encode payload: %v", generation.ErrPermanent, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("%w: build request: %v", generation.ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("call generation provider: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		// fall through to decode
	case resp.StatusCode == http.StatusTooManyRequests:
		// Provider throttling is not a payload problem.
		return domain.Artifact{}, fmt.Errorf("provider throttled the request (status %d)", resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode <= 499:
		return domain.Artifact{}, fmt.Errorf("%w: provider rejected payload with status %d", generation.ErrPermanent, resp.StatusCode)
	default:
		return domain.Artifact{}, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Artifact{}, fmt.Errorf("decode provider response: %w", err)
	}
	return domain.Artifact{
		URL:         out.URL,
		ContentType: out.ContentType,
		Provider:    c.baseURL,
		GeneratedAt: time.Now().UTC(),
	}, nil
}
