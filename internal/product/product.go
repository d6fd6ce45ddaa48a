// Package product holds the canonical product record built up across the
// scrape and analysis stages.
package product

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no product exists for an (asin, country) key.
var ErrNotFound = errors.New("product not found")

// Review is one customer review attached to a product.
type Review struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	Rating     float64    `json:"rating"`
	Author     string     `json:"author"`
	Verified   bool       `json:"verified"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
}

// Product is the canonical record keyed by (asin, country). It is created on
// first reference and updated repeatedly; this service never deletes it.
type Product struct {
	ASIN                 string     `json:"asin"`
	Country              string     `json:"country"`
	Status               string     `json:"status"`
	Reviews              []Review   `json:"reviews"`
	ProductTitle         string     `json:"product_title"`
	ProductImageURL      string     `json:"product_image_url"`
	ProductDescription   string     `json:"product_description"`
	TotalReviewsOnAmazon int        `json:"total_reviews_on_amazon"`
	HaveProductData      bool       `json:"have_product_data"`
	FakePercentage       *float64   `json:"fake_percentage,omitempty"`
	Grade                *string    `json:"grade,omitempty"`
	AmazonRating         float64    `json:"amazon_rating"`
	AdjustedRating       float64    `json:"adjusted_rating"`
	AnalyzedAt           *time.Time `json:"analyzed_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// RecomputeProductData derives have_product_data from the current title and
// image. It is always recomputed from post-update state, never carried
// forward incrementally.
func (p *Product) RecomputeProductData() {
	p.HaveProductData = p.ProductTitle != "" && p.ProductImageURL != ""
}

// IsAnalyzed reports whether the product carries a finished analysis:
// completed status, non-nil grade and fake percentage, and at least one
// review. Zero-review products never count as analyzed.
func (p *Product) IsAnalyzed() bool {
	return p.Status == "completed" &&
		p.Grade != nil &&
		p.FakePercentage != nil &&
		len(p.Reviews) > 0
}

// Store persists Products keyed by (asin, country).
type Store interface {
	Get(ctx context.Context, asin, country string) (*Product, error)
	Upsert(ctx context.Context, p *Product) error
	Close()
}
