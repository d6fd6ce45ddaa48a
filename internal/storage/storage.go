// Package storage defines the blob archive contract used to keep raw
// provider payloads before transformation. Archive failures degrade to a log
// line; they never fail the job that produced the payload.
package storage

import (
	"context"
	"io"
)

// BlobStore persists raw artifacts and returns a URI for the stored object.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// NoopBlobStore discards everything. Used when archiving is disabled.
type NoopBlobStore struct{}

// PutObject discards the content and returns an empty URI.
func (NoopBlobStore) PutObject(_ context.Context, _ string, _ string, r io.Reader) (string, error) {
	_, err := io.Copy(io.Discard, r)
	return "", err
}
