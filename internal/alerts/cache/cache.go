// Package cache provides the TTL throttle-record store used by the alert
// dispatcher.
package cache

import (
	"context"
	"time"
)

// Cache stores throttle records that expire on their own. SetIfAbsent writes
// the key with the given TTL and reports true when the key was newly set,
// meaning no live throttle record existed. Delete drops a record early so a
// claim taken before a failed send does not consume the window.
type Cache interface {
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}
