// Package scrape drives an external scraping provider through a chain of
// three queued jobs: Trigger starts a provider job, Poll watches it under a
// bounded attempt budget, and Process ingests the finished results into the
// product record. Each phase enqueues the next instead of looping in-process,
// so exactly one job is in flight per (asin, externalJobId).
package scrape

import (
	"context"
	"encoding/json"
)

// Provider job statuses reported by GetProgress.
const (
	StatusReady   = "ready"
	StatusRunning = "running"
	StatusFailed  = "failed"
	StatusError   = "error"
	StatusUnknown = "unknown"
)

// Progress is the provider's view of an in-flight scrape job.
type Progress struct {
	Status    string `json:"status"`
	TotalRows int    `json:"total_rows"`
}

// RawRecord is one untransformed provider row.
type RawRecord map[string]any

// Payload is the canonical product and review shape produced by Transform.
type Payload struct {
	Reviews         []ReviewRecord `json:"reviews"`
	Description     string         `json:"description"`
	TotalReviews    int            `json:"total_reviews"`
	ProductName     string         `json:"product_name"`
	ProductImageURL string         `json:"product_image_url"`
}

// ReviewRecord is one transformed review.
type ReviewRecord struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Body     string  `json:"body"`
	Rating   float64 `json:"rating"`
	Author   string  `json:"author"`
	Verified bool    `json:"verified"`
	Date     string  `json:"date"`
}

// Service is the narrow contract over the external scraping provider. The
// provider's wire protocol is its own business; this core only consumes it.
type Service interface {
	// Trigger starts a provider job over the given URLs. An empty job id
	// means the provider refused the work.
	Trigger(ctx context.Context, urls []string) (string, error)
	// GetProgress reports the provider job's current status.
	GetProgress(ctx context.Context, jobID string) (Progress, error)
	// FetchData downloads the raw result rows of a finished job.
	FetchData(ctx context.Context, jobID string) ([]RawRecord, error)
	// Transform converts raw rows into the canonical payload for one ASIN.
	Transform(ctx context.Context, records []RawRecord, asin string) (Payload, error)
}

// rawJSON marshals provider rows for archival. Marshal errors are impossible
// for map-backed records produced by json decoding.
func rawJSON(records []RawRecord) []byte {
	data, err := json.Marshal(records)
	if err != nil {
		return nil
	}
	return data
}
