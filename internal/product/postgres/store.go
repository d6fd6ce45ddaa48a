// Package postgres provides the Postgres-backed product store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reviewpulse/reviewpulse/internal/product"
)

// Config controls the connection pool used for product rows.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store persists products in the products table. Reviews are stored as a
// JSONB column; this core reads and writes whole records.
type Store struct {
	pool pool
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Get retrieves a product row by its (asin, country) key.
func (s *Store) Get(ctx context.Context, asin, country string) (*product.Product, error) {
	query := `
SELECT asin, country, status, reviews, product_title, product_image_url,
	product_description, total_reviews_on_amazon, have_product_data,
	fake_percentage, grade, amazon_rating, adjusted_rating, analyzed_at,
	created_at, updated_at
FROM products
WHERE asin = $1 AND country = $2`
	var (
		p           product.Product
		reviewsJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, asin, country).Scan(
		&p.ASIN,
		&p.Country,
		&p.Status,
		&reviewsJSON,
		&p.ProductTitle,
		&p.ProductImageURL,
		&p.ProductDescription,
		&p.TotalReviewsOnAmazon,
		&p.HaveProductData,
		&p.FakePercentage,
		&p.Grade,
		&p.AmazonRating,
		&p.AdjustedRating,
		&p.AnalyzedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	if len(reviewsJSON) > 0 {
		if err := json.Unmarshal(reviewsJSON, &p.Reviews); err != nil {
			return nil, fmt.Errorf("decode reviews: %w", err)
		}
	}
	return &p, nil
}

// Upsert inserts or replaces a product row keyed by (asin, country).
func (s *Store) Upsert(ctx context.Context, p *product.Product) error {
	reviewsJSON, err := json.Marshal(p.Reviews)
	if err != nil {
		return fmt.Errorf("encode reviews: %w", err)
	}
	query := `
INSERT INTO products (
	asin, country, status, reviews, product_title, product_image_url,
	product_description, total_reviews_on_amazon, have_product_data,
	fake_percentage, grade, amazon_rating, adjusted_rating, analyzed_at,
	created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (asin, country) DO UPDATE SET
	status = EXCLUDED.status,
	reviews = EXCLUDED.reviews,
	product_title = EXCLUDED.product_title,
	product_image_url = EXCLUDED.product_image_url,
	product_description = EXCLUDED.product_description,
	total_reviews_on_amazon = EXCLUDED.total_reviews_on_amazon,
	have_product_data = EXCLUDED.have_product_data,
	fake_percentage = EXCLUDED.fake_percentage,
	grade = EXCLUDED.grade,
	amazon_rating = EXCLUDED.amazon_rating,
	adjusted_rating = EXCLUDED.adjusted_rating,
	analyzed_at = EXCLUDED.analyzed_at,
	updated_at = EXCLUDED.updated_at`
	_, err = s.pool.Exec(ctx, query,
		p.ASIN,
		p.Country,
		p.Status,
		reviewsJSON,
		p.ProductTitle,
		p.ProductImageURL,
		p.ProductDescription,
		p.TotalReviewsOnAmazon,
		p.HaveProductData,
		p.FakePercentage,
		p.Grade,
		p.AmazonRating,
		p.AdjustedRating,
		p.AnalyzedAt,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}
