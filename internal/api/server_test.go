package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reviewpulse/reviewpulse/internal/config"
	iduuid "github.com/reviewpulse/reviewpulse/internal/id/uuid"
	"github.com/reviewpulse/reviewpulse/internal/metrics"
	"github.com/reviewpulse/reviewpulse/internal/session"
	sessionmemory "github.com/reviewpulse/reviewpulse/internal/session/memory"
)

type frozenClock struct {
	now time.Time
}

func (c frozenClock) Now() time.Time { return c.now }

type fakePipeline struct {
	mu      sync.Mutex
	started []uuid.UUID
	err     error
}

func (p *fakePipeline) Start(_ context.Context, sessionID uuid.UUID, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.started = append(p.started, sessionID)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		Server:   config.ServerConfig{Port: 8080},
		Sessions: config.SessionsConfig{RetentionHours: 24, CleanupIntervalMinutes: 60},
	}
}

func newTestServer(t *testing.T) (*Server, *session.StateMachine, *fakePipeline) {
	t.Helper()
	metrics.Init()
	sessions := session.NewStateMachine(
		sessionmemory.New(),
		frozenClock{now: time.Unix(1700000000, 0).UTC()},
		zap.NewNop(),
	)
	pipeline := &fakePipeline{}
	srv := NewServer(sessions, pipeline, iduuid.New(), testConfig(), zap.NewNop())
	return srv, sessions, pipeline
}

func TestStartAnalysisCreatesSessionAndEnqueuesPipeline(t *testing.T) {
	t.Parallel()

	srv, sessions, pipeline := newTestServer(t)

	body := `{"product_url":"https://www.amazon.com/dp/B0TESTASIN"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/analyses", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	sid, err := uuid.Parse(resp["session_id"])
	require.NoError(t, err)

	sess, err := sessions.Get(context.Background(), sid)
	require.NoError(t, err)
	require.Equal(t, session.StatusPending, sess.Status)

	pipeline.mu.Lock()
	defer pipeline.mu.Unlock()
	require.Equal(t, []uuid.UUID{sid}, pipeline.started)
}

func TestStartAnalysisRejectsBadURL(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)

	for _, body := range []string{
		`{}`,
		`{"product_url":"not a url"}`,
		`{"product_url":"https://www.amazon.com/gp/help"}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/v1/analyses", strings.NewReader(body))
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code, "body: %s", body)
	}
}

func TestGetProgressReturnsSessionState(t *testing.T) {
	t.Parallel()

	srv, sessions, _ := newTestServer(t)
	ctx := context.Background()
	sid := uuid.New()
	_, err := sessions.Create(ctx, sid)
	require.NoError(t, err)
	require.NoError(t, sessions.MarkProcessing(ctx, sid))
	require.NoError(t, sessions.UpdateProgress(ctx, sid, 3, 52, "Collecting customer reviews"))

	req := httptest.NewRequest(http.MethodGet, "/v1/analyses/"+sid.String(), nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var dto progressDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	require.Equal(t, "processing", dto.Status)
	require.Equal(t, 3, dto.Step)
	require.Equal(t, float64(52), dto.Percentage)
	require.Equal(t, "Collecting customer reviews", dto.Message)
}

func TestGetProgressUnknownSessionIs404(t *testing.T) {
	t.Parallel()

	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/analyses/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelMarksSessionFailed(t *testing.T) {
	t.Parallel()

	srv, sessions, _ := newTestServer(t)
	ctx := context.Background()
	sid := uuid.New()
	_, err := sessions.Create(ctx, sid)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/analyses/"+sid.String()+"/cancel", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	sess, err := sessions.Get(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, session.StatusFailed, sess.Status)
	require.Equal(t, "Analysis was cancelled.", *sess.ErrorMessage)
}

func TestCancelTerminalSessionIsConflict(t *testing.T) {
	t.Parallel()

	srv, sessions, _ := newTestServer(t)
	ctx := context.Background()
	sid := uuid.New()
	_, err := sessions.Create(ctx, sid)
	require.NoError(t, err)
	require.NoError(t, sessions.MarkCompleted(ctx, sid, map[string]any{"grade": "A"}))

	req := httptest.NewRequest(http.MethodPost, "/v1/analyses/"+sid.String()+"/cancel", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)

	// The completed state was not overwritten.
	sess, err := sessions.Get(ctx, sid)
	require.NoError(t, err)
	require.Equal(t, session.StatusCompleted, sess.Status)
}

func TestCleanupReportsPurgedCount(t *testing.T) {
	t.Parallel()
	metrics.Init()

	now := time.Unix(1700000000, 0).UTC()
	store := sessionmemory.New()
	sessions := session.NewStateMachine(store, frozenClock{now: now}, zap.NewNop())
	require.NoError(t, store.Create(context.Background(), &session.Session{
		ID:        uuid.New(),
		Status:    session.StatusCompleted,
		CreatedAt: now.Add(-48 * time.Hour),
	}))

	srv := NewServer(sessions, &fakePipeline{}, iduuid.New(), testConfig(), zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/maintenance/cleanup", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, int64(1), resp["purged"])
}

func TestAPIKeyMiddlewareGuardsRoutes(t *testing.T) {
	t.Parallel()
	metrics.Init()

	sessions := session.NewStateMachine(
		sessionmemory.New(),
		frozenClock{now: time.Unix(1700000000, 0).UTC()},
		zap.NewNop(),
	)
	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "sekret"}
	srv := NewServer(sessions, &fakePipeline{}, iduuid.New(), cfg, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "sekret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
