// Package analysis defines the narrow contract over the external
// review-analysis service. Inference and scoring logic live on the provider
// side; the pipeline only sequences these calls.
package analysis

import (
	"context"
	"encoding/json"

	"github.com/reviewpulse/reviewpulse/internal/product"
)

// CheckResult describes what the provider already knows about a product URL
// and which pipeline stages still need to run.
type CheckResult struct {
	ASINData      json.RawMessage `json:"asin_data,omitempty"`
	NeedsFetching bool            `json:"needs_fetching"`
	NeedsOpenAI   bool            `json:"needs_openai"`
	ASIN          string          `json:"asin"`
	Country       string          `json:"country"`
	ProductURL    string          `json:"product_url"`
}

// Result is the final computed metrics for one product.
type Result struct {
	Grade          string  `json:"grade"`
	FakePercentage float64 `json:"fake_percentage"`
	AmazonRating   float64 `json:"amazon_rating"`
	AdjustedRating float64 `json:"adjusted_rating"`
	ReviewCount    int     `json:"review_count"`
}

// Service is the external analysis contract consumed by the pipeline.
type Service interface {
	// CheckProductExists resolves a product URL and reports which stages
	// remain.
	CheckProductExists(ctx context.Context, url string) (CheckResult, error)
	// FetchReviews pulls the review set for a product into its record.
	FetchReviews(ctx context.Context, asin, country, url string) (*product.Product, error)
	// AnalyzeWithLLM runs the AI-based authenticity pass over the record.
	AnalyzeWithLLM(ctx context.Context, p *product.Product) (*product.Product, error)
	// CalculateFinalMetrics computes grade, fake percentage, and adjusted
	// rating from the analyzed record.
	CalculateFinalMetrics(ctx context.Context, p *product.Product) (Result, error)
}
