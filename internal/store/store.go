package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/PratikDhanave/event-processing-service/internal/models"
)

// ErrNotFound is returned when no event has the requested id.
var ErrNotFound = errors.New("event not found")

// MaxErrorLength bounds the stored processing_error, in characters.
const MaxErrorLength = 255

// Gateway is the pipeline's view of event persistence.
//
// Mutations of different ids never conflict. Concurrent mutations of the same
// id are last-writer-wins.
type Gateway interface {
	Create(ctx context.Context, ownerID string, in models.NewEvent) (models.Event, error)
	CreateBatch(ctx context.Context, ownerID string, in []models.NewEvent) ([]models.Event, error)
	Get(ctx context.Context, id string) (models.Event, error)
	MarkProcessed(ctx context.Context, id string, properties map[string]any, at time.Time) (models.Event, error)
	RecordError(ctx context.Context, id string, message string) (models.Event, error)
	CountUnprocessed(ctx context.Context) (int64, error)
	CountByOwner(ctx context.Context, ownerID string) (int64, error)
	ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]string, error)
	BeginBatch(ctx context.Context) (Batch, error)
	Ping(ctx context.Context) error
}

// Batch groups processing mutations in one transaction. Nothing written
// through a Batch is visible to other readers until Commit succeeds.
type Batch interface {
	Get(ctx context.Context, id string) (models.Event, error)
	MarkProcessed(ctx context.Context, id string, properties map[string]any, at time.Time) (models.Event, error)
	RecordError(ctx context.Context, id string, message string) (models.Event, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TruncateError cuts message to MaxErrorLength characters.
func TruncateError(message string) string {
	if utf8.RuneCountInString(message) <= MaxErrorLength {
		return message
	}
	runes := []rune(message)
	return string(runes[:MaxErrorLength])
}

// marshalJSON encodes payload/properties for storage. nil stays SQL NULL.
func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return b, nil
}

// decodeJSON keeps numbers as json.Number so integers above 2^53 survive a
// round trip through the store.
func decodeJSON(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(v)
}

func unmarshalPayload(b []byte) (any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var v any
	if err := decodeJSON(b, &v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return v, nil
}

func unmarshalProperties(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := decodeJSON(b, &m); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	return m, nil
}
