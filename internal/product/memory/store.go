// Package memory provides an in-memory product store for tests and
// single-node deployments.
package memory

import (
	"context"
	"sync"

	"github.com/reviewpulse/reviewpulse/internal/product"
)

type key struct {
	asin    string
	country string
}

// Store keeps products in a map guarded by a mutex.
type Store struct {
	mu       sync.RWMutex
	products map[key]product.Product
}

// New creates an empty Store.
func New() *Store {
	return &Store{products: make(map[key]product.Product)}
}

// Get returns a copy of the stored product.
func (s *Store) Get(_ context.Context, asin, country string) (*product.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[key{asin: asin, country: country}]
	if !ok {
		return nil, product.ErrNotFound
	}
	out := p
	return &out, nil
}

// Upsert inserts or replaces the product record.
func (s *Store) Upsert(_ context.Context, p *product.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[key{asin: p.ASIN, country: p.Country}] = *p
	return nil
}

// Close is a no-op.
func (s *Store) Close() {}
