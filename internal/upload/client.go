// Package upload is the client for the external media upload service. The
// service accepts raw file bytes and returns a stable URL; the conversation
// service persists only that reference, never the bytes.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client uploads media through the external upload service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an upload client against the given service base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Upload sends the raw bytes and returns the stable reference URL the
// service assigned. Any failure (transport, non-2xx status, malformed
// response, empty reference) is an error; the caller aborts the pending
// media send in that case.
func (c *Client) Upload(ctx context.Context, data []byte, kind string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("upload: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Media-Kind", kind)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("upload: service returned %s", resp.Status)
	}

	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("upload: decode response: %w", err)
	}
	if body.URL == "" {
		return "", fmt.Errorf("upload: service returned no url")
	}
	return body.URL, nil
}
