package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/reviewpulse/reviewpulse/internal/session"
)

func TestCreateInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	id := uuid.New()

	sess := &session.Session{
		ID:        id,
		Status:    session.StatusPending,
		CreatedAt: now,
	}

	mock.ExpectExec("INSERT INTO analysis_sessions").
		WithArgs(
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
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Create(context.Background(), sess))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMapsNoRowsToNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	id := uuid.New()
	mock.ExpectQuery("SELECT id, status").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "status", "current_step", "progress_percentage", "current_message",
			"result", "error_message", "created_at", "started_at", "completed_at",
		}))

	_, err = store.Get(context.Background(), id)
	require.ErrorIs(t, err, session.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMissingRowReturnsNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	sess := &session.Session{
		ID:     uuid.New(),
		Status: session.StatusProcessing,
	}

	mock.ExpectExec("UPDATE analysis_sessions").
		WithArgs(
			sess.ID,
			sess.Status,
			sess.CurrentStep,
			sess.ProgressPercentage,
			sess.CurrentMessage,
			sess.Result,
			sess.ErrorMessage,
			sess.StartedAt,
			sess.CompletedAt,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.Update(context.Background(), sess)
	require.ErrorIs(t, err, session.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanupReportsPurgedCount(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	cutoff := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("DELETE FROM analysis_sessions").
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	purged, err := store.Cleanup(context.Background(), cutoff)
	require.NoError(t, err)
	require.Equal(t, int64(7), purged)
	require.NoError(t, mock.ExpectationsWereMet())
}
