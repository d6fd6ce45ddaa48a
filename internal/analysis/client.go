package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/reviewpulse/reviewpulse/internal/errs"
	"github.com/reviewpulse/reviewpulse/internal/product"
)

// ClientConfig controls the HTTP adapter for the analysis service.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is a thin HTTP adapter implementing Service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient builds a Client.
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("analysis.base_url is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
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

// CheckProductExists resolves a product URL against the provider.
func (c *Client) CheckProductExists(ctx context.Context, url string) (CheckResult, error) {
	var out CheckResult
	err := c.post(ctx, "/v1/products/check", map[string]any{"url": url}, &out)
	if err != nil {
		return CheckResult{}, errs.NewExternalService("analysis", "checkProductExists", err)
	}
	return out, nil
}

// FetchReviews pulls the review set for a product.
func (c *Client) FetchReviews(ctx context.Context, asin, country, url string) (*product.Product, error) {
	var out product.Product
	err := c.post(ctx, "/v1/reviews/fetch", map[string]any{
		"asin":    asin,
		"country": country,
		"url":     url,
	}, &out)
	if err != nil {
		return nil, errs.NewExternalService("analysis", "fetchReviews", err)
	}
	return &out, nil
}

// AnalyzeWithLLM runs the AI authenticity pass.
func (c *Client) AnalyzeWithLLM(ctx context.Context, p *product.Product) (*product.Product, error) {
	var out product.Product
	if err := c.post(ctx, "/v1/analyze", p, &out); err != nil {
		return nil, errs.NewExternalService("analysis", "analyzeWithLLM", err)
	}
	return &out, nil
}

// CalculateFinalMetrics computes the final scores.
func (c *Client) CalculateFinalMetrics(ctx context.Context, p *product.Product) (Result, error) {
	var out Result
	if err := c.post(ctx, "/v1/metrics", p, &out); err != nil {
		return Result{}, errs.NewExternalService("analysis", "calculateFinalMetrics", err)
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, snippet)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
