package auditlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecordInsertsRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	logger := NewPostgresWithDB(mock, zap.NewNop())

	entry := Entry{
		JobID:      "job-1",
		JobType:    "scrape_search",
		Target:     "keyword=laptop",
		Source:     "http",
		Status:     "completed",
		DurationMS: 1200,
		CreatedAt:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec("INSERT INTO scrape_audit").
		WithArgs(entry.JobID, entry.JobType, entry.Target, entry.Source, entry.Status, entry.DurationMS, entry.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, logger.Record(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordPropagatesError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	logger := NewPostgresWithDB(mock, zap.NewNop())

	mock.ExpectExec("INSERT INTO scrape_audit").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err = logger.Record(context.Background(), Entry{JobID: "job-2"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "insert audit row")
}

func TestEnsureSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	logger := NewPostgresWithDB(mock, zap.NewNop())

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS scrape_audit").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, logger.ensureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNoopLogger(t *testing.T) {
	logger := NewNoop()
	require.NoError(t, logger.Record(context.Background(), Entry{}))
	logger.Close()
}
