package scrape

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/reviewpulse/reviewpulse/internal/alerts"
	"github.com/reviewpulse/reviewpulse/internal/errs"
	"github.com/reviewpulse/reviewpulse/internal/jobs"
	"github.com/reviewpulse/reviewpulse/internal/product"
)

const defaultMetadataPollInterval = 3 * time.Second

// MetadataPayload fills missing title and image for a product.
type MetadataPayload struct {
	ASIN    string `json:"asin"`
	Country string `json:"country"`
}

// ScrapeMetadata runs a provider job for the product detail page and blocks
// until it finishes, then folds title and image into the record. The pipeline
// calls this inline when a user is waiting on an incomplete record; the same
// path also runs as its own queued job kind.
func (o *Orchestrator) ScrapeMetadata(ctx context.Context, asin, country string) error {
	log := o.logger.With(zap.String("asin", asin), zap.String("country", country))

	jobID, err := o.scraper.Trigger(ctx, []string{ProductURL(asin, country)})
	if err != nil {
		return fmt.Errorf("trigger metadata scrape for %s: %w", asin, err)
	}
	if jobID == "" {
		return errs.NewExternalService("scraper", "trigger", errors.New("provider returned no job id"))
	}

	interval := o.metadataPollInterval
	if interval <= 0 {
		interval = defaultMetadataPollInterval
	}

	for attempt := 1; ; attempt++ {
		progress, err := o.scraper.GetProgress(ctx, jobID)
		if err != nil {
			return fmt.Errorf("poll metadata scrape %s: %w", jobID, err)
		}
		switch progress.Status {
		case StatusReady:
			return o.ingestMetadata(ctx, asin, country, jobID, log)
		case StatusRunning:
			if attempt >= maxPollAttempts {
				return errs.NewTimeout("metadata scrape", attempt)
			}
		case StatusFailed, StatusError:
			return errs.NewExternalService("scraper", "job",
				fmt.Errorf("provider reported status %q", progress.Status))
		default:
			return errs.NewTimeout("metadata scrape", attempt)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// ingestMetadata fetches the finished job's rows and writes only the
// metadata fields. An empty payload degrades to a DataIntegrityError so the
// caller can continue without the record being complete.
func (o *Orchestrator) ingestMetadata(ctx context.Context, asin, country, jobID string, log *zap.Logger) error {
	records, err := o.scraper.FetchData(ctx, jobID)
	if err != nil {
		return fmt.Errorf("fetch metadata results %s: %w", jobID, err)
	}
	if len(records) == 0 {
		return errs.NewDataIntegrity("metadata scrape returned no rows")
	}
	payload, err := o.scraper.Transform(ctx, records, asin)
	if err != nil {
		return fmt.Errorf("transform metadata results %s: %w", jobID, err)
	}
	if payload.ProductName == "" || payload.ProductImageURL == "" {
		return errs.NewDataIntegrity("metadata scrape returned partial product data")
	}

	now := o.clock.Now()
	rec, err := o.products.Get(ctx, asin, country)
	if err != nil {
		if !errors.Is(err, product.ErrNotFound) {
			return fmt.Errorf("load product %s/%s: %w", asin, country, err)
		}
		rec = &product.Product{ASIN: asin, Country: country, CreatedAt: now}
	}
	rec.ProductTitle = payload.ProductName
	rec.ProductImageURL = payload.ProductImageURL
	if payload.Description != "" {
		rec.ProductDescription = payload.Description
	}
	rec.RecomputeProductData()
	rec.UpdatedAt = now

	if err := o.products.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("upsert product %s/%s: %w", asin, country, err)
	}
	log.Info("product metadata filled", zap.String("title", rec.ProductTitle))
	return nil
}

// MetadataHandler runs the queued ScrapeProductMetadata job kind.
type MetadataHandler struct {
	o *Orchestrator
}

// Run implements jobs.Handler.
func (h *MetadataHandler) Run(ctx context.Context, job jobs.Job) error {
	var p MetadataPayload
	if err := unmarshalPayload(job, &p); err != nil {
		return err
	}
	return h.o.ScrapeMetadata(ctx, p.ASIN, p.Country)
}

// Failed implements jobs.FailureHook.
func (h *MetadataHandler) Failed(ctx context.Context, job jobs.Job, err error) {
	var p MetadataPayload
	_ = unmarshalPayload(job, &p)
	h.o.alerts.Dispatch(ctx, alerts.TypeMetadataScrapeFailed, "Product metadata scrape did not complete.", alerts.Options{
		Context: map[string]string{
			"asin":    p.ASIN,
			"country": p.Country,
			"error":   err.Error(),
		},
	})
}
