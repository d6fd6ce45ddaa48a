// Package pipeline sequences one product's analysis over seven weighted
// steps, publishing progress into the session record as it goes. The whole
// run is one queued job; retries re-run it from the top, which is safe
// because every step re-checks whether its work is already done.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reviewpulse/reviewpulse/internal/alerts"
	"github.com/reviewpulse/reviewpulse/internal/analysis"
	"github.com/reviewpulse/reviewpulse/internal/clock"
	"github.com/reviewpulse/reviewpulse/internal/errs"
	"github.com/reviewpulse/reviewpulse/internal/jobs"
	"github.com/reviewpulse/reviewpulse/internal/pricing"
	"github.com/reviewpulse/reviewpulse/internal/product"
	"github.com/reviewpulse/reviewpulse/internal/publisher"
	"github.com/reviewpulse/reviewpulse/internal/session"
)

// Step weights. Progress only ever moves forward through these.
const (
	weightStarted   = 12
	weightChecked   = 25
	weightFetched   = 52
	weightAnalyzed  = 70
	weightMetrics   = 85
	weightMetadata  = 92
	weightFinalize  = 98
	weightCompleted = 100
)

// Payload identifies the session and product for one pipeline run.
type Payload struct {
	SessionID  uuid.UUID `json:"session_id"`
	ProductURL string    `json:"product_url"`
}

// CompletedEvent is published when an analysis finishes.
type CompletedEvent struct {
	SessionID      uuid.UUID `json:"session_id"`
	ASIN           string    `json:"asin"`
	Country        string    `json:"country"`
	Grade          string    `json:"grade"`
	FakePercentage float64   `json:"fake_percentage"`
	CompletedAt    string    `json:"completed_at"`
}

// Scraper is the orchestrator surface the pipeline drives: the synchronous
// product-data step it blocks on when a record is missing its title or
// image, and the asynchronous Trigger→Poll→Process chain it kicks off for
// raw review collection.
type Scraper interface {
	ScrapeMetadata(ctx context.Context, asin, country string) error
	StartChain(ctx context.Context, asin, country string) error
}

// Result is stored on the session when a run completes.
type Result struct {
	Success     bool             `json:"success"`
	Product     *product.Product `json:"product"`
	Analysis    analysis.Result  `json:"analysis"`
	RedirectURL string           `json:"redirect_url"`
}

// Pipeline runs the RunAnalysisPipeline job kind.
type Pipeline struct {
	sessions  *session.StateMachine
	products  product.Store
	analysis  analysis.Service
	scraper   Scraper
	enqueuer  jobs.Enqueuer
	publisher publisher.Publisher
	alerts    *alerts.Dispatcher
	clock     clock.Clock
	logger    *zap.Logger
	maxTries  int
}

// New constructs a Pipeline. maxTries comes from the job kind's retry
// contract so the handler knows when an attempt is the last one.
func New(
	sessions *session.StateMachine,
	products product.Store,
	svc analysis.Service,
	scraper Scraper,
	enqueuer jobs.Enqueuer,
	pub publisher.Publisher,
	dispatcher *alerts.Dispatcher,
	clk clock.Clock,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		sessions:  sessions,
		products:  products,
		analysis:  svc,
		scraper:   scraper,
		enqueuer:  enqueuer,
		publisher: pub,
		alerts:    dispatcher,
		clock:     clk,
		logger:    logger,
		maxTries:  jobs.DefaultSpecs()[jobs.KindRunAnalysisPipeline].MaxTries,
	}
}

// Register installs the handler into the job registry.
func (p *Pipeline) Register(registry *jobs.Registry) {
	registry.Register(jobs.KindRunAnalysisPipeline, p)
}

// Start creates the queued pipeline run for a session.
func (p *Pipeline) Start(ctx context.Context, sessionID uuid.UUID, productURL string) error {
	_, err := p.enqueuer.Enqueue(ctx, jobs.KindRunAnalysisPipeline, Payload{
		SessionID:  sessionID,
		ProductURL: productURL,
	}, 0)
	if err != nil {
		return fmt.Errorf("enqueue pipeline: %w", err)
	}
	return nil
}

// Run implements jobs.Handler. A missing session aborts silently; any other
// failure is re-thrown while retry attempts remain, and marks the session
// failed on the last one.
func (p *Pipeline) Run(ctx context.Context, job jobs.Job) error {
	var payload Payload
	if err := jobs.UnmarshalPayload(job, &payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", job.Kind, err)
	}
	log := p.logger.With(zap.String("session_id", payload.SessionID.String()))

	if _, err := p.sessions.Get(ctx, payload.SessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			// Stale or cancelled request; nothing user-facing to report.
			log.Info("pipeline aborted, session missing")
			return nil
		}
		return fmt.Errorf("load session: %w", err)
	}

	if err := p.run(ctx, payload, log); err != nil {
		if job.Attempt >= p.maxTries {
			if failErr := p.sessions.MarkFailed(ctx, payload.SessionID, errs.UserMessage(err)); failErr != nil {
				log.Error("mark failed after exhaustion", zap.Error(failErr))
			}
		}
		return err
	}
	return nil
}

// Failed implements jobs.FailureHook: the last line of defense against a
// session stuck in processing.
func (p *Pipeline) Failed(ctx context.Context, job jobs.Job, err error) {
	var payload Payload
	if decodeErr := jobs.UnmarshalPayload(job, &payload); decodeErr != nil {
		return
	}
	if failErr := p.sessions.MarkFailed(ctx, payload.SessionID, errs.UserMessage(err)); failErr != nil {
		p.logger.Error("mark failed in failure hook",
			zap.String("session_id", payload.SessionID.String()),
			zap.Error(failErr),
		)
	}
	p.alerts.Dispatch(ctx, alerts.TypePipelineFailed, "Analysis pipeline exhausted its retries.", alerts.Options{
		Context: map[string]string{
			"session_id": payload.SessionID.String(),
			"error":      err.Error(),
		},
	})
}

func (p *Pipeline) run(ctx context.Context, payload Payload, log *zap.Logger) error {
	sid := payload.SessionID

	if err := p.sessions.MarkProcessing(ctx, sid); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if err := p.sessions.UpdateProgress(ctx, sid, 1, weightStarted, "Starting analysis"); err != nil {
		return err
	}

	check, err := p.analysis.CheckProductExists(ctx, payload.ProductURL)
	if err != nil {
		return err
	}
	rec, err := p.loadProduct(ctx, check.ASIN, check.Country)
	if err != nil {
		return err
	}
	if err := p.sessions.UpdateProgress(ctx, sid, 2, weightChecked, "Checking existing product data"); err != nil {
		return err
	}

	rec, err = p.fetchReviewsIfNeeded(ctx, check, rec)
	if err != nil {
		return err
	}
	if err := p.sessions.UpdateProgress(ctx, sid, 3, weightFetched, "Collecting customer reviews"); err != nil {
		return err
	}

	rec, err = p.analyzeIfNeeded(ctx, check, rec)
	if err != nil {
		return err
	}
	if err := p.sessions.UpdateProgress(ctx, sid, 4, weightAnalyzed, "Running review authenticity analysis"); err != nil {
		return err
	}

	result, err := p.computeMetrics(ctx, rec)
	if err != nil {
		return err
	}
	if err := p.sessions.UpdateProgress(ctx, sid, 5, weightMetrics, "Computing final metrics"); err != nil {
		return err
	}

	rec, err = p.ensureProductData(ctx, sid, rec, log)
	if err != nil {
		return err
	}

	return p.finalize(ctx, sid, rec, result, log)
}

func (p *Pipeline) loadProduct(ctx context.Context, asin, country string) (*product.Product, error) {
	rec, err := p.products.Get(ctx, asin, country)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return &product.Product{ASIN: asin, Country: country, CreatedAt: p.clock.Now()}, nil
		}
		return nil, fmt.Errorf("load product %s/%s: %w", asin, country, err)
	}
	return rec, nil
}

// fetchReviewsIfNeeded pulls reviews when the provider says so or the record
// has none. Re-runs skip this once reviews are in place. When the provider
// asks for fetching it also starts the asynchronous scrape chain, which
// enriches the stored record with raw review data in the background while
// the synchronous fetch below supplies this run.
func (p *Pipeline) fetchReviewsIfNeeded(ctx context.Context, check analysis.CheckResult, rec *product.Product) (*product.Product, error) {
	if !check.NeedsFetching && len(rec.Reviews) > 0 {
		return rec, nil
	}
	if check.NeedsFetching {
		if err := p.scraper.StartChain(ctx, check.ASIN, check.Country); err != nil {
			// The chain is a background enrichment; its absence must not
			// fail the analysis the user is waiting on.
			p.logger.Warn("review scrape chain start failed",
				zap.String("asin", check.ASIN),
				zap.String("country", check.Country),
				zap.Error(err),
			)
		}
	}
	fetched, err := p.analysis.FetchReviews(ctx, check.ASIN, check.Country, check.ProductURL)
	if err != nil {
		return nil, err
	}
	fetched.ASIN = check.ASIN
	fetched.Country = check.Country
	if fetched.CreatedAt.IsZero() {
		fetched.CreatedAt = rec.CreatedAt
	}
	fetched.RecomputeProductData()
	fetched.UpdatedAt = p.clock.Now()
	if err := p.products.Upsert(ctx, fetched); err != nil {
		return nil, fmt.Errorf("store fetched product: %w", err)
	}
	return fetched, nil
}

// analyzeIfNeeded runs the LLM pass when the provider requests it or the
// record has never been analyzed.
func (p *Pipeline) analyzeIfNeeded(ctx context.Context, check analysis.CheckResult, rec *product.Product) (*product.Product, error) {
	if !check.NeedsOpenAI && rec.AnalyzedAt != nil {
		return rec, nil
	}
	analyzed, err := p.analysis.AnalyzeWithLLM(ctx, rec)
	if err != nil {
		return nil, err
	}
	analyzed.UpdatedAt = p.clock.Now()
	if err := p.products.Upsert(ctx, analyzed); err != nil {
		return nil, fmt.Errorf("store analyzed product: %w", err)
	}
	return analyzed, nil
}

// computeMetrics finalizes the record's scores and marks it completed.
func (p *Pipeline) computeMetrics(ctx context.Context, rec *product.Product) (analysis.Result, error) {
	result, err := p.analysis.CalculateFinalMetrics(ctx, rec)
	if err != nil {
		return analysis.Result{}, err
	}
	now := p.clock.Now()
	rec.Grade = &result.Grade
	rec.FakePercentage = &result.FakePercentage
	rec.AmazonRating = result.AmazonRating
	rec.AdjustedRating = result.AdjustedRating
	rec.Status = "completed"
	rec.AnalyzedAt = &now
	rec.UpdatedAt = now
	if err := p.products.Upsert(ctx, rec); err != nil {
		return analysis.Result{}, fmt.Errorf("store metrics: %w", err)
	}
	return result, nil
}

// ensureProductData blocks on the inline metadata scrape when title or image
// is missing. The user is actively waiting, so this runs here rather than as
// a background job. Partial provider data degrades instead of failing.
func (p *Pipeline) ensureProductData(ctx context.Context, sid uuid.UUID, rec *product.Product, log *zap.Logger) (*product.Product, error) {
	if rec.HaveProductData {
		if err := p.sessions.UpdateProgress(ctx, sid, 6, weightMetadata, "Product details already available"); err != nil {
			return nil, err
		}
		return rec, nil
	}
	if err := p.sessions.UpdateProgress(ctx, sid, 6, weightMetadata, "Completing product details"); err != nil {
		return nil, err
	}
	if err := p.scraper.ScrapeMetadata(ctx, rec.ASIN, rec.Country); err != nil {
		if !errs.IsDataIntegrity(err) {
			return nil, err
		}
		log.Warn("metadata scrape degraded", zap.Error(err))
	}
	refreshed, err := p.products.Get(ctx, rec.ASIN, rec.Country)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return rec, nil
		}
		return nil, fmt.Errorf("reload product: %w", err)
	}
	return refreshed, nil
}

// finalize applies the completion gate, then records the result and kicks
// off the downstream consumers. A gate miss marks the session failed rather
// than leaving it in processing.
func (p *Pipeline) finalize(ctx context.Context, sid uuid.UUID, rec *product.Product, result analysis.Result, log *zap.Logger) error {
	if !rec.IsAnalyzed() {
		log.Warn("finalize gate not met",
			zap.String("status", rec.Status),
			zap.Int("reviews", len(rec.Reviews)),
		)
		return p.sessions.MarkFailed(ctx, sid,
			"We could not complete the analysis for this product. Please try again.")
	}

	if err := p.sessions.UpdateProgress(ctx, sid, 7, weightFinalize, "Finalizing results"); err != nil {
		return err
	}

	final := Result{
		Success:     true,
		Product:     rec,
		Analysis:    result,
		RedirectURL: redirectURL(rec),
	}
	if err := p.sessions.MarkCompleted(ctx, sid, final); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}

	event := CompletedEvent{
		SessionID:      sid,
		ASIN:           rec.ASIN,
		Country:        rec.Country,
		Grade:          result.Grade,
		FakePercentage: result.FakePercentage,
		CompletedAt:    p.clock.Now().UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if _, err := p.publisher.Publish(ctx, event); err != nil {
		// Downstream consumers are opportunistic; a lost event is log-worthy
		// but not a failure of the analysis itself.
		log.Warn("completed event publish failed", zap.Error(err))
	}
	if _, err := p.enqueuer.Enqueue(ctx, jobs.KindRunPriceAnalysis, pricing.Payload{
		ASIN:    rec.ASIN,
		Country: rec.Country,
	}, 0); err != nil {
		log.Warn("price analysis enqueue failed", zap.Error(err))
	}

	log.Info("analysis completed",
		zap.String("asin", rec.ASIN),
		zap.String("grade", result.Grade),
	)
	return nil
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// redirectURL derives the client redirect target: slug-based when the title
// yields one, ASIN-only otherwise.
func redirectURL(rec *product.Product) string {
	slug := strings.Trim(slugStrip.ReplaceAllString(strings.ToLower(rec.ProductTitle), "-"), "-")
	if slug != "" {
		return fmt.Sprintf("/products/%s/%s", rec.ASIN, slug)
	}
	return fmt.Sprintf("/products/%s", rec.ASIN)
}
