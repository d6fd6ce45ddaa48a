package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reviewpulse/reviewpulse/internal/clock"
	"github.com/reviewpulse/reviewpulse/internal/metrics"
)

// StateMachine is the only component allowed to write session lifecycle
// fields. Every transition re-reads the persisted record first; once a
// session is terminal no further transition is applied. The refresh before
// write shrinks, but does not eliminate, the lost-update window against a
// concurrent cancellation; last-writer-wins is the accepted model.
type StateMachine struct {
	store  Store
	clock  clock.Clock
	logger *zap.Logger
}

// NewStateMachine constructs a StateMachine.
func NewStateMachine(store Store, clk clock.Clock, logger *zap.Logger) *StateMachine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateMachine{store: store, clock: clk, logger: logger}
}

// Create inserts a fresh pending session and returns it.
func (m *StateMachine) Create(ctx context.Context, id uuid.UUID) (*Session, error) {
	s := &Session{
		ID:        id,
		Status:    StatusPending,
		CreatedAt: m.clock.Now(),
	}
	if err := m.store.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// Get loads a session.
func (m *StateMachine) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// MarkProcessing moves a session into processing and records the start time.
// Terminal sessions are left untouched.
func (m *StateMachine) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.IsTerminal() {
		m.logger.Debug("skip markProcessing on terminal session", zap.String("session_id", id.String()))
		return nil
	}
	now := m.clock.Now()
	s.Status = StatusProcessing
	if s.StartedAt == nil {
		s.StartedAt = &now
	}
	if err := m.store.Update(ctx, s); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return nil
}

// UpdateProgress stores the current step, percentage, and message. The
// record is re-read immediately before the write; if the session went
// terminal in the meantime the update is dropped. Percentage monotonicity is
// the caller's discipline, not enforced here.
func (m *StateMachine) UpdateProgress(ctx context.Context, id uuid.UUID, step int, percentage float64, message string) error {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.IsTerminal() {
		m.logger.Debug("skip progress update on terminal session",
			zap.String("session_id", id.String()),
			zap.Int("step", step),
		)
		return nil
	}
	s.CurrentStep = step
	s.ProgressPercentage = percentage
	s.CurrentMessage = message
	if err := m.store.Update(ctx, s); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// MarkCompleted finalizes a processing session with its result payload and
// pins the percentage at 100.
func (m *StateMachine) MarkCompleted(ctx context.Context, id uuid.UUID, result any) error {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.IsTerminal() {
		m.logger.Debug("skip markCompleted on terminal session", zap.String("session_id", id.String()))
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	now := m.clock.Now()
	s.Status = StatusCompleted
	s.ProgressPercentage = 100
	s.Result = data
	s.CompletedAt = &now
	if err := m.store.Update(ctx, s); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	metrics.ObserveSessionTerminal(string(StatusCompleted))
	return nil
}

// MarkFailed moves any non-terminal session to failed with a sanitized
// message.
func (m *StateMachine) MarkFailed(ctx context.Context, id uuid.UUID, message string) error {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.IsTerminal() {
		m.logger.Debug("skip markFailed on terminal session", zap.String("session_id", id.String()))
		return nil
	}
	now := m.clock.Now()
	s.Status = StatusFailed
	s.ErrorMessage = &message
	s.CompletedAt = &now
	if err := m.store.Update(ctx, s); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	metrics.ObserveSessionTerminal(string(StatusFailed))
	return nil
}

// IsCompleted reports whether the session finished successfully.
func (m *StateMachine) IsCompleted(ctx context.Context, id uuid.UUID) (bool, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return s.Status == StatusCompleted, nil
}

// IsFailed reports whether the session failed.
func (m *StateMachine) IsFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return s.Status == StatusFailed, nil
}

// IsProcessing reports whether the session is still in flight (pending or
// processing).
func (m *StateMachine) IsProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return s.Status == StatusPending || s.Status == StatusProcessing, nil
}

// Cleanup purges sessions older than the retention window.
func (m *StateMachine) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := m.clock.Now().Add(-retention)
	purged, err := m.store.Cleanup(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	if purged > 0 {
		m.logger.Info("purged expired sessions", zap.Int64("count", purged))
	}
	return purged, nil
}
