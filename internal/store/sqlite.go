package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/PratikDhanave/event-processing-service/internal/models"
)

//go:embed schema_sqlite.sql
var sqliteSchemaSQL string

// sqliteTime is the storage layout for timestamps. Fixed-width UTC values
// sort lexically in time order.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SQLiteStore persists events to SQLite.
// It is suitable for single-node deployments and local development.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens path (a file, or ":memory:" for tests) and applies the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection: writers are serialized and ":memory:" stays a single database.
	db.SetMaxOpenConns(1)

	s := NewSQLiteStoreFromDB(db)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

// sqliteDSN adds a busy timeout to path. The driver applies _pragma on every
// new connection, so it survives the pool replacing one.
func sqliteDSN(path string) string {
	if strings.Contains(path, "busy_timeout") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)"
}

// NewSQLiteStoreFromDB wraps an already opened database without touching the schema.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// EnsureSchema creates the events table and indexes if missing.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(sqliteSchemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() {
	_ = s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, ownerID string, in models.NewEvent) (models.Event, error) {
	return liteInsert(ctx, s.db, ownerID, in, s.now())
}

func (s *SQLiteStore) CreateBatch(ctx context.Context, ownerID string, in []models.NewEvent) ([]models.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	out := make([]models.Event, 0, len(in))
	for _, ne := range in {
		ev, err := liteInsert(ctx, tx, ownerID, ne, now)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (models.Event, error) {
	return liteGet(ctx, s.db, id)
}

func (s *SQLiteStore) MarkProcessed(ctx context.Context, id string, properties map[string]any, at time.Time) (models.Event, error) {
	return liteMarkProcessed(ctx, s.db, id, properties, at)
}

func (s *SQLiteStore) RecordError(ctx context.Context, id string, message string) (models.Event, error) {
	return liteRecordError(ctx, s.db, id, message)
}

func (s *SQLiteStore) CountUnprocessed(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE processed = 0`).Scan(&count)
	return count, err
}

func (s *SQLiteStore) CountByOwner(ctx context.Context, ownerID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE owner_id = ?`, ownerID).Scan(&count)
	return count, err
}

func (s *SQLiteStore) ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM events
		WHERE processed = 0
		  AND processing_error IS NULL
		  AND created_at < ?
		ORDER BY created_at
		LIMIT ?
	`, createdBefore.UTC().Format(sqliteTime), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) BeginBatch(ctx context.Context) (Batch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	return &liteBatch{tx: tx}, nil
}

type liteBatch struct {
	tx *sql.Tx
}

func (b *liteBatch) Get(ctx context.Context, id string) (models.Event, error) {
	return liteGet(ctx, b.tx, id)
}

func (b *liteBatch) MarkProcessed(ctx context.Context, id string, properties map[string]any, at time.Time) (models.Event, error) {
	return liteMarkProcessed(ctx, b.tx, id, properties, at)
}

func (b *liteBatch) RecordError(ctx context.Context, id string, message string) (models.Event, error) {
	return liteRecordError(ctx, b.tx, id, message)
}

func (b *liteBatch) Commit(context.Context) error {
	return b.tx.Commit()
}

func (b *liteBatch) Rollback(context.Context) error {
	err := b.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func liteInsert(ctx context.Context, q sqlQuerier, ownerID string, in models.NewEvent, now time.Time) (models.Event, error) {
	if ownerID == "" || in.EventName == "" || in.EventType == "" {
		return models.Event{}, errors.New("ownerID/eventName/eventType required")
	}

	payloadJSON, err := marshalJSON(in.Payload)
	if err != nil {
		return models.Event{}, err
	}

	ts := now
	if in.EventTimestamp != nil {
		ts = in.EventTimestamp.UTC()
	}

	row := q.QueryRowContext(ctx, `
		INSERT INTO events (id, owner_id, event_name, event_type, source, session_id, payload,
			ip_address, user_agent, event_timestamp, created_at, processed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		RETURNING `+eventColumns,
		uuid.NewString(), ownerID, in.EventName, in.EventType, in.Source, in.SessionID, nullText(payloadJSON),
		in.IPAddress, in.UserAgent, ts.Format(sqliteTime), now.UTC().Format(sqliteTime),
	)
	return scanLiteEvent(row)
}

func liteGet(ctx context.Context, q sqlQuerier, id string) (models.Event, error) {
	return scanLiteEvent(q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
}

func liteMarkProcessed(ctx context.Context, q sqlQuerier, id string, properties map[string]any, at time.Time) (models.Event, error) {
	propsJSON, err := marshalJSON(properties)
	if err != nil {
		return models.Event{}, err
	}
	row := q.QueryRowContext(ctx, `
		UPDATE events
		SET processed = 1,
		    properties = ?,
		    processed_at = ?,
		    processing_error = NULL
		WHERE id = ?
		RETURNING `+eventColumns,
		nullText(propsJSON), at.UTC().Format(sqliteTime), id,
	)
	return scanLiteEvent(row)
}

func liteRecordError(ctx context.Context, q sqlQuerier, id string, message string) (models.Event, error) {
	row := q.QueryRowContext(ctx, `
		UPDATE events
		SET processing_error = ?
		WHERE id = ?
		RETURNING `+eventColumns,
		TruncateError(message), id,
	)
	return scanLiteEvent(row)
}

// nullText stores JSON as TEXT; nil becomes NULL.
func nullText(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func scanLiteEvent(row *sql.Row) (models.Event, error) {
	var (
		e                                   models.Event
		source, sessionID, ip, ua, procErr  sql.NullString
		payloadJSON, propsJSON, processedAt sql.NullString
		eventTS, createdAt                  string
	)
	err := row.Scan(
		&e.ID,
		&e.OwnerID,
		&e.EventName,
		&e.EventType,
		&source,
		&sessionID,
		&payloadJSON,
		&propsJSON,
		&ip,
		&ua,
		&eventTS,
		&createdAt,
		&e.Processed,
		&processedAt,
		&procErr,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Event{}, ErrNotFound
		}
		return models.Event{}, err
	}

	e.Source = nullStringPtr(source)
	e.SessionID = nullStringPtr(sessionID)
	e.IPAddress = nullStringPtr(ip)
	e.UserAgent = nullStringPtr(ua)
	e.ProcessingError = nullStringPtr(procErr)

	if e.EventTimestamp, err = time.Parse(sqliteTime, eventTS); err != nil {
		return models.Event{}, fmt.Errorf("parse event_timestamp: %w", err)
	}
	if e.CreatedAt, err = time.Parse(sqliteTime, createdAt); err != nil {
		return models.Event{}, fmt.Errorf("parse created_at: %w", err)
	}
	if processedAt.Valid {
		t, err := time.Parse(sqliteTime, processedAt.String)
		if err != nil {
			return models.Event{}, fmt.Errorf("parse processed_at: %w", err)
		}
		e.ProcessedAt = &t
	}

	if payloadJSON.Valid {
		if e.Payload, err = unmarshalPayload([]byte(payloadJSON.String)); err != nil {
			return models.Event{}, err
		}
	}
	if propsJSON.Valid {
		if e.Properties, err = unmarshalProperties([]byte(propsJSON.String)); err != nil {
			return models.Event{}, err
		}
	}
	return e, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
