package scrape

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/reviewpulse/reviewpulse/internal/alerts"
	"github.com/reviewpulse/reviewpulse/internal/clock"
	"github.com/reviewpulse/reviewpulse/internal/errs"
	"github.com/reviewpulse/reviewpulse/internal/jobs"
	"github.com/reviewpulse/reviewpulse/internal/product"
	"github.com/reviewpulse/reviewpulse/internal/storage"
)

// Poll chain bounds. The chain, not the in-process loop, carries the retry:
// each poll enqueues its successor with attempt+1 until the budget runs out.
const (
	pollDelay       = 30 * time.Second
	maxPollAttempts = 10
)

// TriggerPayload starts a scrape chain for one product.
type TriggerPayload struct {
	ASIN    string `json:"asin"`
	Country string `json:"country"`
}

// PollPayload carries the chain's own attempt counter. It is the only durable
// state of an in-flight provider job.
type PollPayload struct {
	ASIN          string `json:"asin"`
	Country       string `json:"country"`
	ExternalJobID string `json:"external_job_id"`
	Attempt       int    `json:"attempt"`
	MaxAttempts   int    `json:"max_attempts"`
}

// ProcessPayload ingests a finished provider job.
type ProcessPayload struct {
	ASIN          string `json:"asin"`
	Country       string `json:"country"`
	ExternalJobID string `json:"external_job_id"`
}

// Orchestrator wires the chain handlers to their collaborators.
type Orchestrator struct {
	scraper  Service
	products product.Store
	blobs    storage.BlobStore
	enqueuer jobs.Enqueuer
	alerts   *alerts.Dispatcher
	clock    clock.Clock
	logger   *zap.Logger

	metadataPollInterval time.Duration
}

// NewOrchestrator constructs an Orchestrator.
func NewOrchestrator(
	scraper Service,
	products product.Store,
	blobs storage.BlobStore,
	enqueuer jobs.Enqueuer,
	dispatcher *alerts.Dispatcher,
	clk clock.Clock,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		scraper:  scraper,
		products: products,
		blobs:    blobs,
		enqueuer: enqueuer,
		alerts:   dispatcher,
		clock:    clk,
		logger:   logger,
	}
}

// Register installs the chain handlers into the job registry.
func (o *Orchestrator) Register(registry *jobs.Registry) {
	registry.Register(jobs.KindTriggerScrape, &TriggerHandler{o})
	registry.Register(jobs.KindPollProgress, &PollHandler{o})
	registry.Register(jobs.KindProcessResults, &ProcessHandler{o})
	registry.Register(jobs.KindScrapeProductMetadata, &MetadataHandler{o})
}

// StartChain enqueues a Trigger job for the given product.
func (o *Orchestrator) StartChain(ctx context.Context, asin, country string) error {
	_, err := o.enqueuer.Enqueue(ctx, jobs.KindTriggerScrape, TriggerPayload{ASIN: asin, Country: country}, 0)
	if err != nil {
		return fmt.Errorf("start scrape chain: %w", err)
	}
	return nil
}

// TriggerHandler starts the provider job and schedules the first poll.
type TriggerHandler struct {
	o *Orchestrator
}

// Run implements jobs.Handler.
func (h *TriggerHandler) Run(ctx context.Context, job jobs.Job) error {
	var p TriggerPayload
	if err := unmarshalPayload(job, &p); err != nil {
		return err
	}
	log := h.o.logger.With(zap.String("asin", p.ASIN), zap.String("country", p.Country))

	jobID, err := h.o.scraper.Trigger(ctx, []string{ReviewsURL(p.ASIN, p.Country)})
	if err != nil {
		return fmt.Errorf("trigger scrape for %s: %w", p.ASIN, err)
	}
	if jobID == "" {
		return errs.NewExternalService("scraper", "trigger", errors.New("provider returned no job id"))
	}

	next := PollPayload{
		ASIN:          p.ASIN,
		Country:       p.Country,
		ExternalJobID: jobID,
		Attempt:       1,
		MaxAttempts:   maxPollAttempts,
	}
	if _, err := h.o.enqueuer.Enqueue(ctx, jobs.KindPollProgress, next, pollDelay); err != nil {
		return fmt.Errorf("enqueue first poll: %w", err)
	}
	log.Info("scrape triggered", zap.String("external_job_id", jobID))
	return nil
}

// Failed implements jobs.FailureHook.
func (h *TriggerHandler) Failed(ctx context.Context, job jobs.Job, err error) {
	var p TriggerPayload
	_ = unmarshalPayload(job, &p)
	h.o.alerts.Dispatch(ctx, alerts.TypeScrapeTriggerFailed, "Could not start a scrape job after all retries.", alerts.Options{
		Context: map[string]string{
			"asin":    p.ASIN,
			"country": p.Country,
			"error":   err.Error(),
		},
	})
}

// PollHandler watches the provider job and either continues the chain, hands
// off to Process, or ends it with a terminal error.
type PollHandler struct {
	o *Orchestrator
}

// Run implements jobs.Handler.
func (h *PollHandler) Run(ctx context.Context, job jobs.Job) error {
	var p PollPayload
	if err := unmarshalPayload(job, &p); err != nil {
		return err
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = maxPollAttempts
	}
	log := h.o.logger.With(
		zap.String("asin", p.ASIN),
		zap.String("external_job_id", p.ExternalJobID),
		zap.Int("poll_attempt", p.Attempt),
	)

	progress, err := h.o.scraper.GetProgress(ctx, p.ExternalJobID)
	if err != nil {
		return fmt.Errorf("poll scrape job %s: %w", p.ExternalJobID, err)
	}

	switch progress.Status {
	case StatusReady:
		next := ProcessPayload{ASIN: p.ASIN, Country: p.Country, ExternalJobID: p.ExternalJobID}
		if _, err := h.o.enqueuer.Enqueue(ctx, jobs.KindProcessResults, next, 0); err != nil {
			return fmt.Errorf("enqueue process: %w", err)
		}
		log.Info("scrape ready", zap.Int("total_rows", progress.TotalRows))
		return nil

	case StatusFailed, StatusError:
		return errs.NewExternalService("scraper", "job",
			fmt.Errorf("provider reported status %q", progress.Status))

	case StatusRunning:
		if p.Attempt >= p.MaxAttempts {
			return errs.NewTimeout("poll scrape job", p.Attempt)
		}
		next := p
		next.Attempt++
		if _, err := h.o.enqueuer.Enqueue(ctx, jobs.KindPollProgress, next, pollDelay); err != nil {
			return fmt.Errorf("enqueue next poll: %w", err)
		}
		log.Debug("scrape still running")
		return nil

	default:
		return errs.NewTimeout("poll scrape job", p.Attempt)
	}
}

// Failed implements jobs.FailureHook.
func (h *PollHandler) Failed(ctx context.Context, job jobs.Job, err error) {
	var p PollPayload
	_ = unmarshalPayload(job, &p)
	alertType := alerts.TypeScrapeProcessingFailed
	if errs.IsTimeout(err) {
		alertType = alerts.TypeScrapeTimeout
	}
	h.o.alerts.Dispatch(ctx, alertType, "Scrape polling ended without results.", alerts.Options{
		Context: map[string]string{
			"asin":         p.ASIN,
			"external_job": p.ExternalJobID,
			"attempt":      strconv.Itoa(p.Attempt),
			"error":        err.Error(),
		},
	})
}

// ProcessHandler downloads the finished job's rows and folds them into the
// product record.
type ProcessHandler struct {
	o *Orchestrator
}

// Run implements jobs.Handler.
func (h *ProcessHandler) Run(ctx context.Context, job jobs.Job) error {
	var p ProcessPayload
	if err := unmarshalPayload(job, &p); err != nil {
		return err
	}
	log := h.o.logger.With(zap.String("asin", p.ASIN), zap.String("external_job_id", p.ExternalJobID))

	records, err := h.o.scraper.FetchData(ctx, p.ExternalJobID)
	if err != nil {
		return fmt.Errorf("fetch scrape results %s: %w", p.ExternalJobID, err)
	}
	if len(records) == 0 {
		return errs.NewExternalService("scraper", "fetchData", errors.New("empty result payload"))
	}

	h.archiveRaw(ctx, p, records, log)

	payload, err := h.o.scraper.Transform(ctx, records, p.ASIN)
	if err != nil {
		return fmt.Errorf("transform scrape results %s: %w", p.ExternalJobID, err)
	}

	if err := h.o.upsertProduct(ctx, p.ASIN, p.Country, payload); err != nil {
		return err
	}
	log.Info("scrape results processed",
		zap.Int("reviews", len(payload.Reviews)),
		zap.Int("total_reviews", payload.TotalReviews),
	)
	return nil
}

// Failed implements jobs.FailureHook.
func (h *ProcessHandler) Failed(ctx context.Context, job jobs.Job, err error) {
	var p ProcessPayload
	_ = unmarshalPayload(job, &p)
	h.o.alerts.Dispatch(ctx, alerts.TypeScrapeProcessingFailed, "Scrape results could not be processed.", alerts.Options{
		Context: map[string]string{
			"asin":         p.ASIN,
			"external_job": p.ExternalJobID,
			"error":        err.Error(),
		},
	})
}

// archiveRaw keeps the untransformed provider payload in the blob store.
// Archive failure is log-only; the ingest itself must not depend on it.
func (h *ProcessHandler) archiveRaw(ctx context.Context, p ProcessPayload, records []RawRecord, log *zap.Logger) {
	raw := rawJSON(records)
	if raw == nil {
		return
	}
	path := fmt.Sprintf("scrapes/%s/%s/%s.json", p.Country, p.ASIN, p.ExternalJobID)
	uri, err := h.o.blobs.PutObject(ctx, path, "application/json", bytes.NewReader(raw))
	if err != nil {
		log.Warn("raw payload archive failed", zap.Error(err))
		return
	}
	log.Debug("raw payload archived", zap.String("uri", uri))
}

// upsertProduct folds the canonical payload into the product record.
// Title and image are only written when both are present in this pass, and
// have_product_data is recomputed from the post-update state.
func (o *Orchestrator) upsertProduct(ctx context.Context, asin, country string, payload Payload) error {
	now := o.clock.Now()
	rec, err := o.products.Get(ctx, asin, country)
	if err != nil {
		if !errors.Is(err, product.ErrNotFound) {
			return fmt.Errorf("load product %s/%s: %w", asin, country, err)
		}
		rec = &product.Product{ASIN: asin, Country: country, CreatedAt: now}
	}

	rec.Reviews = toReviews(payload.Reviews)
	rec.ProductDescription = payload.Description
	rec.TotalReviewsOnAmazon = payload.TotalReviews
	if payload.ProductName != "" && payload.ProductImageURL != "" {
		rec.ProductTitle = payload.ProductName
		rec.ProductImageURL = payload.ProductImageURL
	}
	rec.RecomputeProductData()
	rec.UpdatedAt = now

	if err := o.products.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("upsert product %s/%s: %w", asin, country, err)
	}
	return nil
}

func toReviews(in []ReviewRecord) []product.Review {
	out := make([]product.Review, 0, len(in))
	for _, r := range in {
		rev := product.Review{
			ID:       r.ID,
			Title:    r.Title,
			Body:     r.Body,
			Rating:   r.Rating,
			Author:   r.Author,
			Verified: r.Verified,
		}
		if r.Date != "" {
			if ts, err := time.Parse("2006-01-02", r.Date); err == nil {
				rev.ReviewedAt = &ts
			}
		}
		out = append(out, rev)
	}
	return out
}

func unmarshalPayload(job jobs.Job, v any) error {
	if err := jobs.UnmarshalPayload(job, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", job.Kind, err)
	}
	return nil
}
