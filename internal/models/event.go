package models

import "time"

// Event is the stored unit of work.
//
// Processed, ProcessedAt and Properties move together: all three are set by the
// first successful processing and never by ingestion.
type Event struct {
	ID              string         `json:"id"`
	OwnerID         string         `json:"owner_id"`
	EventName       string         `json:"event_name"`
	EventType       string         `json:"event_type"`
	Source          *string        `json:"source,omitempty"`
	SessionID       *string        `json:"session_id,omitempty"`
	Payload         any            `json:"payload"`
	Properties      map[string]any `json:"properties"`
	IPAddress       *string        `json:"ip_address,omitempty"`
	UserAgent       *string        `json:"user_agent,omitempty"`
	EventTimestamp  time.Time      `json:"event_timestamp"`
	CreatedAt       time.Time      `json:"created_at"`
	Processed       bool           `json:"processed"`
	ProcessedAt     *time.Time     `json:"processed_at"`
	ProcessingError *string        `json:"processing_error"`
}

// NewEvent carries the fields accepted at ingestion. The store assigns the
// id and creation time.
type NewEvent struct {
	EventName      string
	EventType      string
	Source         *string
	SessionID      *string
	Payload        any
	IPAddress      *string
	UserAgent      *string
	EventTimestamp *time.Time
}

// EventIngestRequest is the POST /v1/events payload.
// Length limits mirror the storage columns.
type EventIngestRequest struct {
	EventName      string     `json:"event_name" binding:"required,max=255"`
	EventType      string     `json:"event_type" binding:"required,max=100"`
	Source         *string    `json:"source,omitempty" binding:"omitempty,max=100"`
	SessionID      *string    `json:"session_id,omitempty" binding:"omitempty,max=255"`
	Payload        any        `json:"payload,omitempty"`
	EventTimestamp *time.Time `json:"event_timestamp,omitempty"`
	IPAddress      *string    `json:"ip_address,omitempty" binding:"omitempty,max=45"`
	UserAgent      *string    `json:"user_agent,omitempty"`
}

// EventBatchIngestRequest is the POST /v1/events/batch payload.
type EventBatchIngestRequest struct {
	Events []EventIngestRequest `json:"events" binding:"required,min=1,max=100,dive"`
}

// EventIngestResponse is returned by POST /v1/events.
// Status is "enqueued" when a task was handed to the queue and "stored" when
// the queue was unavailable; the event is persisted either way.
type EventIngestResponse struct {
	EventID string `json:"event_id"`
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// EventBatchIngestResponse is returned by POST /v1/events/batch.
type EventBatchIngestResponse struct {
	EventCount int      `json:"event_count"`
	EventIDs   []string `json:"event_ids"`
	TaskID     string   `json:"task_id"`
	Status     string   `json:"status"`
	Message    string   `json:"message"`
}

// Submission labels.
const (
	SubmissionEnqueued = "enqueued"
	SubmissionStored   = "stored"

	// NoTask is reported as the task id when dispatch failed.
	NoTask = "n/a"
)

// Submission is the outcome of handing stored event ids to the dispatcher.
type Submission struct {
	Status  string `json:"status"`
	TaskRef string `json:"task_ref"`
}

// Enqueued reports whether a task reference was obtained.
func (s Submission) Enqueued() bool {
	return s.Status == SubmissionEnqueued
}
