// Package push defines the outbound notification contract. The transport
// itself belongs to the provider; this package only carries payloads to it.
package push

import (
	"context"
	"time"
)

// Message is one outbound operator notification. Retry and Expire are only
// set for emergency priority, per the provider's contract.
type Message struct {
	Title    string
	Body     string
	Priority int
	Sound    string
	Retry    time.Duration
	Expire   time.Duration
}

// Channel delivers messages to operators.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// NoopChannel drops every message. Used in development and tests.
type NoopChannel struct{}

// Send discards the message.
func (NoopChannel) Send(_ context.Context, _ Message) error { return nil }
