// Package session holds the persisted progress record for one analysis run
// and the state machine that is the only writer of its lifecycle fields.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Session.
type Status string

// Session lifecycle states. Completed and Failed are terminal.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// Session tracks one client-visible analysis run. Clients poll it for
// progress; the analysis pipeline advances it through explicit transitions.
type Session struct {
	ID                 uuid.UUID       `json:"id"`
	Status             Status          `json:"status"`
	CurrentStep        int             `json:"current_step"`
	ProgressPercentage float64         `json:"progress_percentage"`
	CurrentMessage     string          `json:"current_message"`
	Result             json.RawMessage `json:"result,omitempty"`
	ErrorMessage       *string         `json:"error_message,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the session can no longer be transitioned.
func (s *Session) IsTerminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// Store persists Sessions. Updates are whole-record writes; the consistency
// model is last-writer-wins.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	Update(ctx context.Context, s *Session) error
	// Cleanup deletes sessions created before the cutoff and returns how
	// many were purged.
	Cleanup(ctx context.Context, createdBefore time.Time) (int64, error)
	Close()
}
