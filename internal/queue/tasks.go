// Package queue hands stored events to the asynq task queue.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
)

// Task type names registered with the worker mux.
const (
	TypeProcessEvent = "events:process"
	TypeProcessBatch = "events:process_batch"
	TypeSweepStale   = "events:sweep_stale"
)

// ErrEmptyBatch is returned when a batch task would reference no events.
var ErrEmptyBatch = errors.New("batch has no event ids")

// ProcessEventPayload references one event. Attempt counts retries already
// performed; the first delivery carries 0.
type ProcessEventPayload struct {
	EventID string `json:"event_id"`
	Attempt int    `json:"attempt"`
}

// ProcessBatchPayload references an ordered list of events processed by one task.
type ProcessBatchPayload struct {
	EventIDs []string `json:"event_ids"`
}

// NewProcessEventTask builds the task for one processing attempt of eventID.
func NewProcessEventTask(eventID string, attempt int) (*asynq.Task, error) {
	if eventID == "" {
		return nil, errors.New("event id required")
	}
	b, err := json.Marshal(ProcessEventPayload{EventID: eventID, Attempt: attempt})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeProcessEvent, b), nil
}

// NewProcessBatchTask builds the task that processes eventIDs together.
func NewProcessBatchTask(eventIDs []string) (*asynq.Task, error) {
	if len(eventIDs) == 0 {
		return nil, ErrEmptyBatch
	}
	b, err := json.Marshal(ProcessBatchPayload{EventIDs: eventIDs})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeProcessBatch, b), nil
}

// NewSweepStaleTask builds the periodic sweep task. It carries no payload.
func NewSweepStaleTask() *asynq.Task {
	return asynq.NewTask(TypeSweepStale, nil)
}

// ParseProcessEvent decodes a single-event task. A negative attempt reads as 0.
func ParseProcessEvent(t *asynq.Task) (ProcessEventPayload, error) {
	var p ProcessEventPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return ProcessEventPayload{}, fmt.Errorf("decode %s payload: %w", t.Type(), err)
	}
	if p.EventID == "" {
		return ProcessEventPayload{}, fmt.Errorf("decode %s payload: event id missing", t.Type())
	}
	if p.Attempt < 0 {
		p.Attempt = 0
	}
	return p, nil
}

// ParseProcessBatch decodes a batch task and rejects an empty id list.
func ParseProcessBatch(t *asynq.Task) (ProcessBatchPayload, error) {
	var p ProcessBatchPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return ProcessBatchPayload{}, fmt.Errorf("decode %s payload: %w", t.Type(), err)
	}
	if len(p.EventIDs) == 0 {
		return ProcessBatchPayload{}, fmt.Errorf("decode %s payload: %w", t.Type(), ErrEmptyBatch)
	}
	return p, nil
}
