// Package moderationapi is an HTTP client for the external content
// moderation service.
package moderationapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/glyphic-ai/render-api/internal/ports/out/moderation"
)

// Client implements moderation.Checker against a JSON endpoint:
// POST {content} -> {flagged, categories}.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type checkRequest struct {
	Content string `json:"content"`
}

type checkResponse struct {
	Flagged    bool     `json:"flagged"`
	Categories []string `json:"categories"`
}

func (c *Client) Check(ctx context.Context, content string) (moderation.Result, error) {
	body, err := json.Marshal(checkRequest{Content: content})
	if err != nil {
		return moderation.Result{}, fmt.Errorf("encode moderation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/moderate", bytes.NewReader(body))
	if err != nil {
		return moderation.Result{}, fmt.Errorf("build moderation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return moderation.Result{}, fmt.Errorf("call moderation service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return moderation.Result{}, fmt.Errorf("moderation service returned status %d", resp.StatusCode)
	}

	var out checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return moderation.Result{}, fmt.Errorf("decode moderation response: %w", err)
	}
	return moderation.Result{Flagged: out.Flagged, Categories: out.Categories}, nil
}
