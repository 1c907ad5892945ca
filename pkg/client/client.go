// Package client provides a Go SDK for the forgequeue status API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/forgequeue/forgequeue/pkg/models"
)

// Client calls the forgequeue read-only status API. It is safe for concurrent use.
type Client struct {
	BaseURL    string       // e.g. "http://localhost:3548"
	APIKey     string       // optional; sent as the X-API-Key header
	HTTPClient *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL (e.g. "http://localhost:3548").
// APIKey is optional; when set, requests carry it in the X-API-Key header.
func New(baseURL, apiKey string) *Client {
	return &Client{BaseURL: baseURL, APIKey: apiKey}
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	u := c.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	return c.client().Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("api %s %s: %s", method, path, errBody.Error)
		}
		return fmt.Errorf("api %s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Health returns the /health response (ok: true).
func (c *Client) Health(ctx context.Context) (ok bool, err error) {
	var out struct {
		OK bool `json:"ok"`
	}
	err = c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return out.OK, err
}

// RunSummary is the list-view projection of one run's handoff.
type RunSummary struct {
	RunID     string           `json:"runId"`
	Phase     models.Phase     `json:"phase"`
	Status    models.RunStatus `json:"status"`
	Iteration int              `json:"iteration"`
	Task      string           `json:"task"`
	UpdatedAt string           `json:"updatedAt,omitempty"`
}

// ListRuns returns a summary of every run the server knows about.
func (c *Client) ListRuns(ctx context.Context) ([]RunSummary, error) {
	var out []RunSummary
	err := c.doJSON(ctx, http.MethodGet, "/runs", nil, &out)
	return out, err
}

// GetRun returns the full handoff document for one run.
func (c *Client) GetRun(ctx context.Context, runID string) (*models.Handoff, error) {
	var out models.Handoff
	err := c.doJSON(ctx, http.MethodGet, "/runs/"+url.PathEscape(runID), nil, &out)
	return &out, err
}

// Stats returns the queue's informational snapshot (queued, in-progress, lease count).
func (c *Client) Stats(ctx context.Context) (*models.Stats, error) {
	var out models.Stats
	err := c.doJSON(ctx, http.MethodGet, "/stats", nil, &out)
	return &out, err
}
