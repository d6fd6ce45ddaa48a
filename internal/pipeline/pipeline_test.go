package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reviewpulse/reviewpulse/internal/alerts"
	cachememory "github.com/reviewpulse/reviewpulse/internal/alerts/cache/memory"
	"github.com/reviewpulse/reviewpulse/internal/analysis"
	"github.com/reviewpulse/reviewpulse/internal/jobs"
	"github.com/reviewpulse/reviewpulse/internal/metrics"
	"github.com/reviewpulse/reviewpulse/internal/product"
	productmemory "github.com/reviewpulse/reviewpulse/internal/product/memory"
	"github.com/reviewpulse/reviewpulse/internal/publisher"
	"github.com/reviewpulse/reviewpulse/internal/push"
	"github.com/reviewpulse/reviewpulse/internal/session"
	sessionmemory "github.com/reviewpulse/reviewpulse/internal/session/memory"
)

type frozenClock struct {
	now time.Time
}

func (c frozenClock) Now() time.Time { return c.now }

// recordingStore wraps the memory session store to capture every progress
// write in order.
type recordingStore struct {
	*sessionmemory.Store
	mu          sync.Mutex
	percentages []float64
}

func (s *recordingStore) Update(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	s.percentages = append(s.percentages, sess.ProgressPercentage)
	s.mu.Unlock()
	return s.Store.Update(ctx, sess)
}

type fakeAnalysis struct {
	check      analysis.CheckResult
	checkErr   error
	fetched    *product.Product
	fetchErr   error
	analyzeErr error
	result     analysis.Result
	metricsErr error

	mu           sync.Mutex
	fetchCalls   int
	analyzeCalls int
}

func (a *fakeAnalysis) CheckProductExists(_ context.Context, _ string) (analysis.CheckResult, error) {
	return a.check, a.checkErr
}

func (a *fakeAnalysis) FetchReviews(_ context.Context, _, _, _ string) (*product.Product, error) {
	a.mu.Lock()
	a.fetchCalls++
	a.mu.Unlock()
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	out := *a.fetched
	return &out, nil
}

func (a *fakeAnalysis) AnalyzeWithLLM(_ context.Context, p *product.Product) (*product.Product, error) {
	a.mu.Lock()
	a.analyzeCalls++
	a.mu.Unlock()
	if a.analyzeErr != nil {
		return nil, a.analyzeErr
	}
	return p, nil
}

func (a *fakeAnalysis) CalculateFinalMetrics(_ context.Context, _ *product.Product) (analysis.Result, error) {
	return a.result, a.metricsErr
}

type fakeScraper struct {
	products *productmemory.Store
	title    string
	image    string
	err      error
	chainErr error

	mu         sync.Mutex
	calls      int
	chainCalls int
}

func (m *fakeScraper) ScrapeMetadata(ctx context.Context, asin, country string) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	rec, err := m.products.Get(ctx, asin, country)
	if err != nil {
		rec = &product.Product{ASIN: asin, Country: country}
	}
	rec.ProductTitle = m.title
	rec.ProductImageURL = m.image
	rec.RecomputeProductData()
	return m.products.Upsert(ctx, rec)
}

func (m *fakeScraper) StartChain(_ context.Context, _, _ string) error {
	m.mu.Lock()
	m.chainCalls++
	m.mu.Unlock()
	return m.chainErr
}

type enqueued struct {
	kind    jobs.Kind
	payload []byte
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	calls []enqueued
}

func (e *fakeEnqueuer) Enqueue(_ context.Context, kind jobs.Kind, payload any, _ time.Duration) (uuid.UUID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, enqueued{kind: kind, payload: data})
	return uuid.New(), nil
}

func (e *fakeEnqueuer) recorded() []enqueued {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]enqueued, len(e.calls))
	copy(out, e.calls)
	return out
}

type fixture struct {
	pipeline *Pipeline
	sessions *session.StateMachine
	store    *recordingStore
	products *productmemory.Store
	analysis *fakeAnalysis
	scraper  *fakeScraper
	enqueuer *fakeEnqueuer
	events   *publisher.Memory
}

func newFixture(t *testing.T, svc *fakeAnalysis) *fixture {
	t.Helper()
	metrics.Init()
	clk := frozenClock{now: time.Unix(1700000000, 0).UTC()}
	store := &recordingStore{Store: sessionmemory.New()}
	sessions := session.NewStateMachine(store, clk, zap.NewNop())
	products := productmemory.New()
	scraper := &fakeScraper{
		products: products,
		title:    "Widget Deluxe",
		image:    "https://img.example/widget.jpg",
	}
	enqueuer := &fakeEnqueuer{}
	events := publisher.NewMemory()
	dispatcher := alerts.NewDispatcher(push.NoopChannel{}, cachememory.New(clk), zap.NewNop())

	p := New(sessions, products, svc, scraper, enqueuer, events, dispatcher, clk, zap.NewNop())
	return &fixture{
		pipeline: p,
		sessions: sessions,
		store:    store,
		products: products,
		analysis: svc,
		scraper:  scraper,
		enqueuer: enqueuer,
		events:   events,
	}
}

func happyAnalysis() *fakeAnalysis {
	return &fakeAnalysis{
		check: analysis.CheckResult{
			NeedsFetching: true,
			NeedsOpenAI:   true,
			ASIN:          "B0TESTASIN",
			Country:       "us",
			ProductURL:    "https://www.amazon.com/dp/B0TESTASIN",
		},
		fetched: &product.Product{
			ASIN:    "B0TESTASIN",
			Country: "us",
			Reviews: []product.Review{{ID: "r1", Rating: 4}},
		},
		result: analysis.Result{
			Grade:          "B",
			FakePercentage: 18.5,
			AmazonRating:   4.5,
			AdjustedRating: 4.1,
			ReviewCount:    1,
		},
	}
}

func pipelineJob(t *testing.T, sid uuid.UUID, attempt int) jobs.Job {
	t.Helper()
	data, err := json.Marshal(Payload{SessionID: sid, ProductURL: "https://www.amazon.com/dp/B0TESTASIN"})
	require.NoError(t, err)
	return jobs.Job{ID: uuid.New(), Kind: jobs.KindRunAnalysisPipeline, Payload: data, Attempt: attempt}
}

func TestPipelineHappyPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t, happyAnalysis())
	ctx := context.Background()
	sid := uuid.New()
	_, err := f.sessions.Create(ctx, sid)
	require.NoError(t, err)

	require.NoError(t, f.pipeline.Run(ctx, pipelineJob(t, sid, 1)))

	sess, err := f.sessions.Get(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, session.StatusCompleted, sess.Status)
	require.Equal(t, float64(100), sess.ProgressPercentage)

	var result Result
	require.NoError(t, json.Unmarshal(sess.Result, &result))
	require.True(t, result.Success)
	require.Equal(t, "B", result.Analysis.Grade)
	require.Equal(t, "/products/B0TESTASIN/widget-deluxe", result.RedirectURL)

	// The metadata step ran inline because the fetched record had no title.
	require.Equal(t, 1, f.scraper.calls)

	// Downstream: one completed event, one price-analysis job.
	require.Len(t, f.events.Published(), 1)
	calls := f.enqueuer.recorded()
	require.Len(t, calls, 1)
	require.Equal(t, jobs.KindRunPriceAnalysis, calls[0].kind)
}

func TestPipelineProgressIsMonotonic(t *testing.T) {
	t.Parallel()

	f := newFixture(t, happyAnalysis())
	ctx := context.Background()
	sid := uuid.New()
	_, err := f.sessions.Create(ctx, sid)
	require.NoError(t, err)

	require.NoError(t, f.pipeline.Run(ctx, pipelineJob(t, sid, 1)))

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	require.NotEmpty(t, f.store.percentages)
	for i := 1; i < len(f.store.percentages); i++ {
		require.GreaterOrEqual(t, f.store.percentages[i], f.store.percentages[i-1])
	}
	require.Equal(t, float64(100), f.store.percentages[len(f.store.percentages)-1])
}

func TestPipelineStartsReviewChainWhenFetchingNeeded(t *testing.T) {
	t.Parallel()

	f := newFixture(t, happyAnalysis())
	ctx := context.Background()
	sid := uuid.New()
	_, err := f.sessions.Create(ctx, sid)
	require.NoError(t, err)

	require.NoError(t, f.pipeline.Run(ctx, pipelineJob(t, sid, 1)))
	require.Equal(t, 1, f.scraper.chainCalls)
}

func TestPipelineSkipsReviewChainWhenNotNeeded(t *testing.T) {
	t.Parallel()

	svc := happyAnalysis()
	svc.check.NeedsFetching = false
	f := newFixture(t, svc)
	ctx := context.Background()

	seeded := &product.Product{
		ASIN:    "B0TESTASIN",
		Country: "us",
		Reviews: []product.Review{{ID: "r1", Rating: 4}},
	}
	require.NoError(t, f.products.Upsert(ctx, seeded))

	sid := uuid.New()
	_, err := f.sessions.Create(ctx, sid)
	require.NoError(t, err)

	require.NoError(t, f.pipeline.Run(ctx, pipelineJob(t, sid, 1)))
	require.Zero(t, f.scraper.chainCalls)
	require.Zero(t, f.analysis.fetchCalls)
}

func TestPipelineSurvivesChainStartFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, happyAnalysis())
	f.scraper.chainErr = errors.New("queue at capacity")
	ctx := context.Background()
	sid := uuid.New()
	_, err := f.sessions.Create(ctx, sid)
	require.NoError(t, err)

	// The chain is background enrichment; the analysis itself completes.
	require.NoError(t, f.pipeline.Run(ctx, pipelineJob(t, sid, 1)))

	sess, err := f.sessions.Get(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, session.StatusCompleted, sess.Status)
}

func TestPipelineMissingSessionAbortsSilently(t *testing.T) {
	t.Parallel()

	f := newFixture(t, happyAnalysis())
	require.NoError(t, f.pipeline.Run(context.Background(), pipelineJob(t, uuid.New(), 1)))
	require.Empty(t, f.enqueuer.recorded())
	require.Empty(t, f.events.Published())
}

func TestPipelineGateMissMarksFailed(t *testing.T) {
	t.Parallel()

	svc := happyAnalysis()
	svc.fetched.Reviews = nil // zero reviews can never pass the gate
	f := newFixture(t, svc)
	ctx := context.Background()
	sid := uuid.New()
	_, err := f.sessions.Create(ctx, sid)
	require.NoError(t, err)

	require.NoError(t, f.pipeline.Run(ctx, pipelineJob(t, sid, 1)))

	sess, err := f.sessions.Get(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, session.StatusFailed, sess.Status)
	require.NotNil(t, sess.ErrorMessage)
	require.Empty(t, f.events.Published())
}

func TestPipelineSkipsMetadataWhenDataPresent(t *testing.T) {
	t.Parallel()

	svc := happyAnalysis()
	svc.fetched.ProductTitle = "Widget Deluxe"
	svc.fetched.ProductImageURL = "https://img.example/widget.jpg"
	f := newFixture(t, svc)
	ctx := context.Background()
	sid := uuid.New()
	_, err := f.sessions.Create(ctx, sid)
	require.NoError(t, err)

	require.NoError(t, f.pipeline.Run(ctx, pipelineJob(t, sid, 1)))
	require.Zero(t, f.scraper.calls)

	sess, err := f.sessions.Get(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, session.StatusCompleted, sess.Status)
}

func TestPipelineRetainsRetryBudgetOnTransientFailure(t *testing.T) {
	t.Parallel()

	svc := happyAnalysis()
	svc.fetchErr = errors.New("provider 502")
	f := newFixture(t, svc)
	ctx := context.Background()
	sid := uuid.New()
	_, err := f.sessions.Create(ctx, sid)
	require.NoError(t, err)

	// Attempt 1 of 3: error propagates, session not yet failed.
	err = f.pipeline.Run(ctx, pipelineJob(t, sid, 1))
	require.Error(t, err)

	sess, err := f.sessions.Get(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, session.StatusProcessing, sess.Status)

	// Final attempt: error propagates and the session is marked failed.
	err = f.pipeline.Run(ctx, pipelineJob(t, sid, 3))
	require.Error(t, err)

	sess, err = f.sessions.Get(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, session.StatusFailed, sess.Status)
	require.NotNil(t, sess.ErrorMessage)
}

func TestPipelineRerunRepublishesEarlyProgress(t *testing.T) {
	t.Parallel()

	// A retry re-runs from the top, so a client polling the session sees
	// progress re-enter at the first weight even when the prior attempt got
	// further. The dip is accepted; the terminal value is still 100 and the
	// session completes.
	f := newFixture(t, happyAnalysis())
	f.scraper.err = errors.New("provider 500")
	ctx := context.Background()
	sid := uuid.New()
	_, err := f.sessions.Create(ctx, sid)
	require.NoError(t, err)

	// Attempt 1 reaches the metadata step and fails there.
	require.Error(t, f.pipeline.Run(ctx, pipelineJob(t, sid, 1)))

	f.scraper.err = nil
	require.NoError(t, f.pipeline.Run(ctx, pipelineJob(t, sid, 2)))

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var dipped bool
	for i := 1; i < len(f.store.percentages); i++ {
		if f.store.percentages[i] < f.store.percentages[i-1] {
			dipped = true
			break
		}
	}
	require.True(t, dipped)
	require.Equal(t, float64(100), f.store.percentages[len(f.store.percentages)-1])

	sess, err := f.sessions.Get(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, session.StatusCompleted, sess.Status)
}

func TestPipelineFailureHookMarksSessionFailed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, happyAnalysis())
	ctx := context.Background()
	sid := uuid.New()
	_, err := f.sessions.Create(ctx, sid)
	require.NoError(t, err)
	require.NoError(t, f.sessions.MarkProcessing(ctx, sid))

	f.pipeline.Failed(ctx, pipelineJob(t, sid, 3), errors.New("exhausted"))

	sess, err := f.sessions.Get(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, session.StatusFailed, sess.Status)
}

func TestPipelineCancelledSessionStaysFailed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, happyAnalysis())
	ctx := context.Background()
	sid := uuid.New()
	_, err := f.sessions.Create(ctx, sid)
	require.NoError(t, err)

	// A cancellation lands before the pipeline runs; every later transition
	// must be dropped by the terminal guard.
	require.NoError(t, f.sessions.MarkFailed(ctx, sid, "Analysis was cancelled."))
	require.NoError(t, f.pipeline.Run(ctx, pipelineJob(t, sid, 1)))

	sess, err := f.sessions.Get(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, session.StatusFailed, sess.Status)
	require.Equal(t, "Analysis was cancelled.", *sess.ErrorMessage)
}

func TestPipelineIdempotentReRunSkipsDoneWork(t *testing.T) {
	t.Parallel()

	svc := happyAnalysis()
	svc.check.NeedsFetching = false
	svc.check.NeedsOpenAI = false
	f := newFixture(t, svc)
	ctx := context.Background()

	now := time.Unix(1700000000, 0).UTC()
	grade := "B"
	fake := 18.5
	seeded := &product.Product{
		ASIN:            "B0TESTASIN",
		Country:         "us",
		Status:          "completed",
		Reviews:         []product.Review{{ID: "r1", Rating: 4}},
		ProductTitle:    "Widget Deluxe",
		ProductImageURL: "https://img.example/widget.jpg",
		Grade:           &grade,
		FakePercentage:  &fake,
		AnalyzedAt:      &now,
	}
	seeded.RecomputeProductData()
	require.NoError(t, f.products.Upsert(ctx, seeded))

	sid := uuid.New()
	_, err := f.sessions.Create(ctx, sid)
	require.NoError(t, err)

	require.NoError(t, f.pipeline.Run(ctx, pipelineJob(t, sid, 1)))

	// Neither external call re-ran; the run only recomputed metrics and
	// finalized.
	require.Zero(t, f.analysis.fetchCalls)
	require.Zero(t, f.analysis.analyzeCalls)

	sess, err := f.sessions.Get(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, session.StatusCompleted, sess.Status)
}
