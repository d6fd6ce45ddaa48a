// Package pricing runs the decoupled price-analysis job. It consumes a
// completed analysis opportunistically; the analysis result never depends on
// it.
package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/reviewpulse/reviewpulse/internal/alerts"
	"github.com/reviewpulse/reviewpulse/internal/errs"
	"github.com/reviewpulse/reviewpulse/internal/jobs"
	"github.com/reviewpulse/reviewpulse/internal/product"
)

// Service is the external price-analysis contract. AnalyzePricing is
// idempotent on the provider side; re-running a product is harmless.
type Service interface {
	AnalyzePricing(ctx context.Context, p *product.Product) error
}

// Payload identifies the product to price-analyze.
type Payload struct {
	ASIN    string `json:"asin"`
	Country string `json:"country"`
}

// Handler runs the RunPriceAnalysis job kind.
type Handler struct {
	pricing  Service
	products product.Store
	alerts   *alerts.Dispatcher
	logger   *zap.Logger
}

// NewHandler constructs a Handler.
func NewHandler(pricing Service, products product.Store, dispatcher *alerts.Dispatcher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{pricing: pricing, products: products, alerts: dispatcher, logger: logger}
}

// Register installs the handler into the job registry.
func (h *Handler) Register(registry *jobs.Registry) {
	registry.Register(jobs.KindRunPriceAnalysis, h)
}

// Run implements jobs.Handler. A missing or not-yet-analyzed product is a
// skip, not a failure: the job is opportunistic.
func (h *Handler) Run(ctx context.Context, job jobs.Job) error {
	var p Payload
	if err := jobs.UnmarshalPayload(job, &p); err != nil {
		return fmt.Errorf("decode %s payload: %w", job.Kind, err)
	}
	log := h.logger.With(zap.String("asin", p.ASIN), zap.String("country", p.Country))

	rec, err := h.products.Get(ctx, p.ASIN, p.Country)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			log.Info("price analysis skipped, product not found")
			return nil
		}
		return fmt.Errorf("load product %s/%s: %w", p.ASIN, p.Country, err)
	}
	if !rec.IsAnalyzed() {
		log.Info("price analysis skipped, analysis incomplete")
		return nil
	}

	if err := h.pricing.AnalyzePricing(ctx, rec); err != nil {
		return fmt.Errorf("price analysis %s/%s: %w", p.ASIN, p.Country, err)
	}
	log.Info("price analysis completed")
	return nil
}

// Failed implements jobs.FailureHook.
func (h *Handler) Failed(ctx context.Context, job jobs.Job, err error) {
	var p Payload
	_ = jobs.UnmarshalPayload(job, &p)
	h.alerts.Dispatch(ctx, alerts.TypePriceAnalysisFailed, "Price analysis did not complete.", alerts.Options{
		Context: map[string]string{
			"asin":    p.ASIN,
			"country": p.Country,
			"error":   err.Error(),
		},
	})
}

// Noop satisfies Service for deployments without a pricing provider.
type Noop struct{}

// AnalyzePricing does nothing.
func (Noop) AnalyzePricing(_ context.Context, _ *product.Product) error { return nil }

// ClientConfig controls the HTTP adapter for the pricing service.
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
}

// NewClient builds a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("pricing base_url is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

// AnalyzePricing submits the product for price analysis.
func (c *Client) AnalyzePricing(ctx context.Context, p *product.Product) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/pricing/analyze", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errs.NewExternalService("pricing", "analyzePricing", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return errs.NewExternalService("pricing", "analyzePricing",
			fmt.Errorf("status %d: %s", resp.StatusCode, snippet))
	}
	return nil
}
