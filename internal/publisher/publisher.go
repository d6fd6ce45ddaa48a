// Package publisher defines the event publishing contract used to announce
// completed analyses to downstream consumers.
package publisher

import (
	"context"
	"sync"
)

// Publisher emits one event payload and returns the broker's message id.
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// Memory collects published payloads in process, for development and tests.
type Memory struct {
	mu       sync.Mutex
	payloads []any
}

// NewMemory creates an empty Memory publisher.
func NewMemory() *Memory {
	return &Memory{}
}

// Publish records the payload.
func (m *Memory) Publish(_ context.Context, payload any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, payload)
	return "memory", nil
}

// Published returns a copy of everything published so far.
func (m *Memory) Published() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]any, len(m.payloads))
	copy(out, m.payloads)
	return out
}

// Noop discards every payload.
type Noop struct{}

// Publish discards the payload.
func (Noop) Publish(_ context.Context, _ any) (string, error) { return "", nil }
