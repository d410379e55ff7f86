package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PratikDhanave/event-processing-service/internal/models"
)

// schemaSQL is embedded so the service can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

const eventColumns = `id, owner_id, event_name, event_type, source, session_id, payload, properties,
	ip_address, user_agent, event_timestamp, created_at, processed, processed_at, processing_error`

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is the durable persistence layer for events.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresStore creates a connection pool and fails fast if DB is unreachable.
func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schemaSQL)
	return err
}

// Ping is used by readiness endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// Create persists a new unprocessed event.
func (p *PostgresStore) Create(ctx context.Context, ownerID string, in models.NewEvent) (models.Event, error) {
	return pgInsert(ctx, p.pool, ownerID, in, p.now())
}

// CreateBatch persists all events in one transaction.
func (p *PostgresStore) CreateBatch(ctx context.Context, ownerID string, in []models.NewEvent) ([]models.Event, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := p.now()
	out := make([]models.Event, 0, len(in))
	for _, ne := range in {
		ev, err := pgInsert(ctx, tx, ownerID, ne, now)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return out, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (models.Event, error) {
	return pgGet(ctx, p.pool, id, false)
}

func (p *PostgresStore) MarkProcessed(ctx context.Context, id string, properties map[string]any, at time.Time) (models.Event, error) {
	return pgMarkProcessed(ctx, p.pool, id, properties, at)
}

func (p *PostgresStore) RecordError(ctx context.Context, id string, message string) (models.Event, error) {
	return pgRecordError(ctx, p.pool, id, message)
}

// CountUnprocessed returns the number of events not yet processed, across owners.
func (p *PostgresStore) CountUnprocessed(ctx context.Context) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM events WHERE processed = FALSE`).Scan(&count)
	return count, err
}

// CountByOwner returns the number of events submitted by ownerID.
func (p *PostgresStore) CountByOwner(ctx context.Context, ownerID string) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM events WHERE owner_id = $1`, ownerID).Scan(&count)
	return count, err
}

// ListStale returns ids of unprocessed events created before the cutoff that
// have never recorded an error, oldest first.
func (p *PostgresStore) ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id
		FROM events
		WHERE processed = FALSE
		  AND processing_error IS NULL
		  AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, createdBefore.UTC(), limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// BeginBatch opens a transaction for batch processing. Rows read through the
// batch are locked until it ends.
func (p *PostgresStore) BeginBatch(ctx context.Context) (Batch, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	return &pgBatch{tx: tx}, nil
}

type pgBatch struct {
	tx pgx.Tx
}

func (b *pgBatch) Get(ctx context.Context, id string) (models.Event, error) {
	return pgGet(ctx, b.tx, id, true)
}

func (b *pgBatch) MarkProcessed(ctx context.Context, id string, properties map[string]any, at time.Time) (models.Event, error) {
	return pgMarkProcessed(ctx, b.tx, id, properties, at)
}

func (b *pgBatch) RecordError(ctx context.Context, id string, message string) (models.Event, error) {
	return pgRecordError(ctx, b.tx, id, message)
}

func (b *pgBatch) Commit(ctx context.Context) error {
	return b.tx.Commit(ctx)
}

func (b *pgBatch) Rollback(ctx context.Context) error {
	err := b.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func pgInsert(ctx context.Context, q pgQuerier, ownerID string, in models.NewEvent, now time.Time) (models.Event, error) {
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

	row := q.QueryRow(ctx, `
		INSERT INTO events (id, owner_id, event_name, event_type, source, session_id, payload,
			ip_address, user_agent, event_timestamp, created_at, processed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, FALSE)
		RETURNING `+eventColumns,
		uuid.NewString(), ownerID, in.EventName, in.EventType, in.Source, in.SessionID, payloadJSON,
		in.IPAddress, in.UserAgent, ts, now,
	)
	return scanPgEvent(row)
}

func pgGet(ctx context.Context, q pgQuerier, id string, lock bool) (models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	return scanPgEvent(q.QueryRow(ctx, query, id))
}

func pgMarkProcessed(ctx context.Context, q pgQuerier, id string, properties map[string]any, at time.Time) (models.Event, error) {
	propsJSON, err := marshalJSON(properties)
	if err != nil {
		return models.Event{}, err
	}
	row := q.QueryRow(ctx, `
		UPDATE events
		SET processed = TRUE,
		    properties = $2,
		    processed_at = $3,
		    processing_error = NULL
		WHERE id = $1
		RETURNING `+eventColumns,
		id, propsJSON, at.UTC(),
	)
	return scanPgEvent(row)
}

func pgRecordError(ctx context.Context, q pgQuerier, id string, message string) (models.Event, error) {
	row := q.QueryRow(ctx, `
		UPDATE events
		SET processing_error = $2
		WHERE id = $1
		RETURNING `+eventColumns,
		id, TruncateError(message),
	)
	return scanPgEvent(row)
}

func scanPgEvent(row pgx.Row) (models.Event, error) {
	var (
		e                      models.Event
		payloadJSON, propsJSON []byte
	)
	err := row.Scan(
		&e.ID,
		&e.OwnerID,
		&e.EventName,
		&e.EventType,
		&e.Source,
		&e.SessionID,
		&payloadJSON,
		&propsJSON,
		&e.IPAddress,
		&e.UserAgent,
		&e.EventTimestamp,
		&e.CreatedAt,
		&e.Processed,
		&e.ProcessedAt,
		&e.ProcessingError,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Event{}, ErrNotFound
		}
		return models.Event{}, err
	}

	if e.Payload, err = unmarshalPayload(payloadJSON); err != nil {
		return models.Event{}, err
	}
	if e.Properties, err = unmarshalProperties(propsJSON); err != nil {
		return models.Event{}, err
	}
	e.EventTimestamp = e.EventTimestamp.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	if e.ProcessedAt != nil {
		t := e.ProcessedAt.UTC()
		e.ProcessedAt = &t
	}
	return e, nil
}
