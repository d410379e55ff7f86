package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mockColumns = []string{
	"id", "owner_id", "event_name", "event_type", "source", "session_id", "payload", "properties",
	"ip_address", "user_agent", "event_timestamp", "created_at", "processed", "processed_at", "processing_error",
}

func mockEventRow(processed bool) *sqlmock.Rows {
	ts := time.Date(2026, 2, 25, 12, 0, 0, 0, time.UTC).Format(sqliteTime)
	var props, processedAt any
	if processed {
		props = `{"original":{"page":"/home"},"page":"/home"}`
		processedAt = ts
	}
	return sqlmock.NewRows(mockColumns).AddRow(
		"evt-1", "tenant1", "page_view", "engagement", nil, nil, `{"page":"/home"}`, props,
		nil, nil, ts, ts, processed, processedAt, nil,
	)
}

func TestSQLiteStore_BatchCommitFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewSQLiteStoreFromDB(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, owner_id")).
		WithArgs("evt-1").
		WillReturnRows(mockEventRow(false))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE events")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "evt-1").
		WillReturnRows(mockEventRow(true))
	mock.ExpectCommit().WillReturnError(errors.New("disk I/O error"))

	b, err := s.BeginBatch(ctx)
	require.NoError(t, err)

	ev, err := b.Get(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"page": "/home"}, ev.Payload)

	done, err := b.MarkProcessed(ctx, "evt-1", map[string]any{"page": "/home"}, time.Now())
	require.NoError(t, err)
	assert.True(t, done.Processed)
	assert.NotNil(t, done.ProcessedAt)

	assert.EqualError(t, b.Commit(ctx), "disk I/O error")
	assert.NoError(t, b.Rollback(ctx), "rollback after a failed commit is a no-op")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_CountUnprocessedError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewSQLiteStoreFromDB(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM events WHERE processed = 0")).
		WillReturnError(errors.New("database is locked"))

	_, err = s.CountUnprocessed(context.Background())
	assert.EqualError(t, err, "database is locked")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_RecordErrorSendsTruncatedMessage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewSQLiteStoreFromDB(db)
	long := stringOf('x', 300)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE events")).
		WithArgs(stringOf('x', MaxErrorLength), "evt-1").
		WillReturnRows(mockEventRow(false))

	_, err = s.RecordError(context.Background(), "evt-1", long)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func stringOf(r rune, n int) string {
	out := make([]rune, n)
	for i := range out {
		out[i] = r
	}
	return string(out)
}
