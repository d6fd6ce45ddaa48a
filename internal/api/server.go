// Package api exposes the client-facing HTTP surface: starting an analysis,
// polling its progress, cancelling it, and maintenance endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reviewpulse/reviewpulse/internal/config"
	iduuid "github.com/reviewpulse/reviewpulse/internal/id/uuid"
	"github.com/reviewpulse/reviewpulse/internal/metrics"
	"github.com/reviewpulse/reviewpulse/internal/scrape"
	"github.com/reviewpulse/reviewpulse/internal/session"
)

// PipelineStarter enqueues one analysis run. The api package depends on this
// narrow interface rather than the pipeline itself.
type PipelineStarter interface {
	Start(ctx context.Context, sessionID uuid.UUID, productURL string) error
}

// Server wires HTTP handlers to the session state machine and the pipeline.
type Server struct {
	router    chi.Router
	sessions  *session.StateMachine
	pipeline  PipelineStarter
	idGen     *iduuid.Generator
	retention time.Duration
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	sessions *session.StateMachine,
	pipeline PipelineStarter,
	idGen *iduuid.Generator,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		sessions:  sessions,
		pipeline:  pipeline,
		idGen:     idGen,
		retention: cfg.Retention(),
		cfg:       cfg,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/analyses", func(r chi.Router) {
			r.Post("/", s.startAnalysis)
			r.Route("/{session_id}", func(r chi.Router) {
				r.Get("/", s.getProgress)
				r.Post("/cancel", s.cancelAnalysis)
			})
		})
		r.Post("/maintenance/cleanup", s.cleanup)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type startRequest struct {
	ProductURL string `json:"product_url"`
}

func (s *Server) startAnalysis(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProductURL == "" {
		writeError(w, http.StatusBadRequest, "product_url is required")
		return
	}
	if _, _, err := scrape.ParseProductURL(req.ProductURL); err != nil {
		writeError(w, http.StatusBadRequest, "product_url is not a recognizable product page")
		return
	}

	sid, err := s.idGen.NewRawID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}
	if _, err := s.sessions.Create(r.Context(), sid); err != nil {
		s.logger.Error("create session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}
	if err := s.pipeline.Start(r.Context(), sid, req.ProductURL); err != nil {
		s.logger.Error("start pipeline failed", zap.String("session_id", sid.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not start analysis")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"session_id": sid.String()})
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	sid, err := parseSessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.sessions.Get(r.Context(), sid)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("get session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, toProgressDTO(sess))
}

func (s *Server) cancelAnalysis(w http.ResponseWriter, r *http.Request) {
	sid, err := parseSessionID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.sessions.Get(r.Context(), sid)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("get session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	if sess.IsTerminal() {
		writeJSON(w, http.StatusConflict, map[string]string{
			"session_id": sid.String(),
			"status":     string(sess.Status),
		})
		return
	}
	if err := s.sessions.MarkFailed(r.Context(), sid, "Analysis was cancelled."); err != nil {
		s.logger.Error("cancel session failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": sid.String(),
		"status":     string(session.StatusFailed),
	})
}

func (s *Server) cleanup(w http.ResponseWriter, r *http.Request) {
	purged, err := s.sessions.Cleanup(r.Context(), s.retention)
	if err != nil {
		s.logger.Error("cleanup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"purged": purged})
}

func parseSessionID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "session_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("session_id is required")
	}
	sid, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid session_id")
	}
	return sid, nil
}

type progressDTO struct {
	SessionID  string          `json:"session_id"`
	Status     string          `json:"status"`
	Step       int             `json:"step"`
	Percentage float64         `json:"percentage"`
	Message    string          `json:"message"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *string         `json:"error,omitempty"`
}

func toProgressDTO(sess *session.Session) progressDTO {
	return progressDTO{
		SessionID:  sess.ID.String(),
		Status:     string(sess.Status),
		Step:       sess.CurrentStep,
		Percentage: sess.ProgressPercentage,
		Message:    sess.CurrentMessage,
		Result:     sess.Result,
		Error:      sess.ErrorMessage,
	}
}
