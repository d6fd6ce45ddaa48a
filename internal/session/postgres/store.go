// Package postgres provides the Postgres-backed session store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reviewpulse/reviewpulse/internal/session"
)

// Config controls the connection pool used for session rows.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store persists sessions in the analysis_sessions table.
type Store struct {
	pool pool
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Create inserts a session row.
func (s *Store) Create(ctx context.Context, sess *session.Session) error {
	query := `
INSERT INTO analysis_sessions (
	id, status, current_step, progress_percentage, current_message,
	result, error_message, created_at, started_at, completed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := s.pool.Exec(ctx, query,
		sess.ID,
		sess.Status,
		sess.CurrentStep,
		sess.ProgressPercentage,
		sess.CurrentMessage,
		sess.Result,
		sess.ErrorMessage,
		sess.CreatedAt,
		sess.StartedAt,
		sess.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get retrieves a session row by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	query := `
SELECT id, status, current_step, progress_percentage, current_message,
	result, error_message, created_at, started_at, completed_at
FROM analysis_sessions
WHERE id = $1`
	var sess session.Session
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&sess.ID,
		&sess.Status,
		&sess.CurrentStep,
		&sess.ProgressPercentage,
		&sess.CurrentMessage,
		&sess.Result,
		&sess.ErrorMessage,
		&sess.CreatedAt,
		&sess.StartedAt,
		&sess.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

// Update writes the whole session row back.
func (s *Store) Update(ctx context.Context, sess *session.Session) error {
	query := `
UPDATE analysis_sessions
SET status = $2, current_step = $3, progress_percentage = $4,
	current_message = $5, result = $6, error_message = $7,
	started_at = $8, completed_at = $9
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		sess.ID,
		sess.Status,
		sess.CurrentStep,
		sess.ProgressPercentage,
		sess.CurrentMessage,
		sess.Result,
		sess.ErrorMessage,
		sess.StartedAt,
		sess.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return session.ErrNotFound
	}
	return nil
}

// Cleanup deletes sessions created before the cutoff.
func (s *Store) Cleanup(ctx context.Context, createdBefore time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM analysis_sessions WHERE created_at < $1`, createdBefore)
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
