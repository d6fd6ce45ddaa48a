package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/reviewpulse/reviewpulse/internal/errs"
)

// ClientConfig controls the HTTP adapter for the scraping provider.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is a thin HTTP adapter implementing Service against the provider's
// REST API. No provider logic lives here; failures come back as
// ExternalServiceErrors for the retry policy to judge.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient builds a Client.
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("scraper.base_url is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// Trigger starts a provider job over the given URLs.
func (c *Client) Trigger(ctx context.Context, urls []string) (string, error) {
	body, err := json.Marshal(map[string]any{"urls": urls})
	if err != nil {
		return "", fmt.Errorf("marshal trigger request: %w", err)
	}
	var out struct {
		JobID string `json:"job_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", bytes.NewReader(body), &out); err != nil {
		return "", errs.NewExternalService("scraper", "trigger", err)
	}
	return out.JobID, nil
}

// GetProgress reports the provider job's current status.
func (c *Client) GetProgress(ctx context.Context, jobID string) (Progress, error) {
	var out Progress
	path := "/v1/jobs/" + url.PathEscape(jobID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return Progress{}, errs.NewExternalService("scraper", "getProgress", err)
	}
	if out.Status == "" {
		out.Status = StatusUnknown
	}
	return out, nil
}

// FetchData downloads the raw result rows of a finished job.
func (c *Client) FetchData(ctx context.Context, jobID string) ([]RawRecord, error) {
	var out []RawRecord
	path := "/v1/jobs/" + url.PathEscape(jobID) + "/results"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, errs.NewExternalService("scraper", "fetchData", err)
	}
	return out, nil
}

// Transform asks the provider to shape raw rows into the canonical payload
// for one ASIN.
func (c *Client) Transform(ctx context.Context, records []RawRecord, asin string) (Payload, error) {
	body, err := json.Marshal(map[string]any{"records": records, "asin": asin})
	if err != nil {
		return Payload{}, fmt.Errorf("marshal transform request: %w", err)
	}
	var out Payload
	if err := c.do(ctx, http.MethodPost, "/v1/transform", bytes.NewReader(body), &out); err != nil {
		return Payload{}, errs.NewExternalService("scraper", "transform", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
