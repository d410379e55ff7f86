package models

import "time"

// ResultStatus is the terminal (or retry) outcome of one processing attempt.
type ResultStatus string

const (
	ResultSuccess         ResultStatus = "success"
	ResultSkipped         ResultStatus = "skipped"
	ResultNotFound        ResultStatus = "not_found"
	ResultValidationError ResultStatus = "validation_error"
	ResultRetrying        ResultStatus = "retrying"
	ResultFailed          ResultStatus = "failed"

	// Per-event statuses inside a batch.
	ResultProcessed        ResultStatus = "processed"
	ResultAlreadyProcessed ResultStatus = "already_processed"
	ResultError            ResultStatus = "error"
	ResultRolledBack       ResultStatus = "rolled_back"
)

// Result is returned by single-event processing.
type Result struct {
	Status           ResultStatus `json:"status"`
	EventID          string       `json:"event_id"`
	EventName        string       `json:"event_name,omitempty"`
	EventType        string       `json:"event_type,omitempty"`
	OwnerID          string       `json:"owner_id,omitempty"`
	ProcessedAt      *time.Time   `json:"processed_at,omitempty"`
	Error            string       `json:"error,omitempty"`
	Attempt          int          `json:"attempt"`
	RetryInSeconds   float64      `json:"retry_in_seconds,omitempty"`
	RetriesExhausted bool         `json:"retries_exhausted,omitempty"`
}

// BatchStatus is the overall outcome of a batch task.
type BatchStatus string

const (
	BatchSuccess BatchStatus = "success"
	BatchPartial BatchStatus = "partial"
	BatchFailed  BatchStatus = "failed"
)

// BatchResult summarises a batch task. Results keeps the submitted order.
type BatchResult struct {
	Status      BatchStatus `json:"status"`
	TotalEvents int         `json:"total_events"`
	Processed   int         `json:"processed"`
	Failed      int         `json:"failed"`
	Error       string      `json:"error,omitempty"`
	Results     []Result    `json:"results"`
}
