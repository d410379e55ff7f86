// Package ingest stores submitted events and hands them to the dispatcher.
// A stored event is never lost because the queue is down: submission only
// downgrades its status label.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/PratikDhanave/event-processing-service/internal/models"
	"github.com/PratikDhanave/event-processing-service/internal/queue"
	"github.com/PratikDhanave/event-processing-service/internal/store"
)

var (
	// ErrForbidden is returned when an event belongs to another owner.
	ErrForbidden = errors.New("event belongs to another owner")
	// ErrAlreadyProcessed is returned when reprocessing a processed event.
	ErrAlreadyProcessed = errors.New("event already processed")
)

const maxIPLength = 45

// Store is the write/read side of the event store used at ingestion.
type Store interface {
	Create(ctx context.Context, ownerID string, in models.NewEvent) (models.Event, error)
	CreateBatch(ctx context.Context, ownerID string, in []models.NewEvent) ([]models.Event, error)
	Get(ctx context.Context, id string) (models.Event, error)
	CountUnprocessed(ctx context.Context) (int64, error)
	CountByOwner(ctx context.Context, ownerID string) (int64, error)
}

// Dispatcher never fails; a nil TaskRef means the queue was unavailable.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventID string) *queue.TaskRef
	DispatchBatch(ctx context.Context, eventIDs []string) *queue.TaskRef
}

// Client describes where a submission came from.
type Client struct {
	IP        string
	UserAgent string
}

// Status is the unprocessed backlog next to the caller's own total.
type Status struct {
	UnprocessedCount int64 `json:"unprocessed_count"`
	TotalCount       int64 `json:"total_count"`
}

// Service implements the ingestion side of the pipeline.
type Service struct {
	store      Store
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewService returns a Service that stores through st and dispatches through dispatcher.
func NewService(st Store, dispatcher Dispatcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, dispatcher: dispatcher, logger: logger.With("component", "ingest")}
}

// Submit stores one event and dispatches it. Only a store failure is an error.
func (s *Service) Submit(ctx context.Context, ownerID string, req models.EventIngestRequest, client Client) (models.EventIngestResponse, error) {
	ev, err := s.store.Create(ctx, ownerID, newEvent(req, client))
	if err != nil {
		return models.EventIngestResponse{}, fmt.Errorf("store event: %w", err)
	}

	sub := s.SubmitForProcessing(ctx, ev.ID)
	return models.EventIngestResponse{
		EventID: ev.ID,
		TaskID:  sub.TaskRef,
		Status:  sub.Status,
		Message: submissionMessage(sub, "Event"),
	}, nil
}

// SubmitBatch stores all events atomically and dispatches them as one task.
func (s *Service) SubmitBatch(ctx context.Context, ownerID string, reqs []models.EventIngestRequest, client Client) (models.EventBatchIngestResponse, error) {
	in := make([]models.NewEvent, 0, len(reqs))
	for _, r := range reqs {
		in = append(in, newEvent(r, client))
	}

	evs, err := s.store.CreateBatch(ctx, ownerID, in)
	if err != nil {
		return models.EventBatchIngestResponse{}, fmt.Errorf("store batch: %w", err)
	}

	ids := make([]string, 0, len(evs))
	for _, ev := range evs {
		ids = append(ids, ev.ID)
	}

	sub := s.SubmitBatchForProcessing(ctx, ids)
	return models.EventBatchIngestResponse{
		EventCount: len(ids),
		EventIDs:   ids,
		TaskID:     sub.TaskRef,
		Status:     sub.Status,
		Message:    submissionMessage(sub, fmt.Sprintf("%d events", len(ids))),
	}, nil
}

// SubmitForProcessing dispatches an already stored event.
func (s *Service) SubmitForProcessing(ctx context.Context, eventID string) models.Submission {
	return submission(s.dispatcher.Dispatch(ctx, eventID))
}

// SubmitBatchForProcessing dispatches already stored events as one batch task.
func (s *Service) SubmitBatchForProcessing(ctx context.Context, eventIDs []string) models.Submission {
	return submission(s.dispatcher.DispatchBatch(ctx, eventIDs))
}

// Get returns ownerID's event.
func (s *Service) Get(ctx context.Context, ownerID, eventID string) (models.Event, error) {
	ev, err := s.store.Get(ctx, eventID)
	if err != nil {
		return models.Event{}, err
	}
	if ev.OwnerID != ownerID {
		return models.Event{}, ErrForbidden
	}
	return ev, nil
}

// Reprocess re-dispatches an unprocessed event, typically one whose retries
// were exhausted.
func (s *Service) Reprocess(ctx context.Context, ownerID, eventID string) (models.EventIngestResponse, error) {
	ev, err := s.Get(ctx, ownerID, eventID)
	if err != nil {
		return models.EventIngestResponse{}, err
	}
	if ev.Processed {
		return models.EventIngestResponse{}, ErrAlreadyProcessed
	}

	s.logger.InfoContext(ctx, "reprocess requested", slog.String("event_id", ev.ID), slog.String("owner_id", ownerID))
	sub := s.SubmitForProcessing(ctx, ev.ID)
	return models.EventIngestResponse{
		EventID: ev.ID,
		TaskID:  sub.TaskRef,
		Status:  sub.Status,
		Message: submissionMessage(sub, "Event"),
	}, nil
}

// Status reports the global unprocessed backlog and ownerID's event total.
func (s *Service) Status(ctx context.Context, ownerID string) (Status, error) {
	unprocessed, err := s.store.CountUnprocessed(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("count unprocessed: %w", err)
	}
	total, err := s.store.CountByOwner(ctx, ownerID)
	if err != nil {
		return Status{}, fmt.Errorf("count by owner: %w", err)
	}
	return Status{UnprocessedCount: unprocessed, TotalCount: total}, nil
}

func submission(ref *queue.TaskRef) models.Submission {
	if ref == nil {
		return models.Submission{Status: models.SubmissionStored, TaskRef: models.NoTask}
	}
	return models.Submission{Status: models.SubmissionEnqueued, TaskRef: ref.ID}
}

func submissionMessage(sub models.Submission, what string) string {
	if sub.Enqueued() {
		return what + " queued for processing"
	}
	return what + " stored; processing will be scheduled once the queue is available"
}

func newEvent(req models.EventIngestRequest, client Client) models.NewEvent {
	ev := models.NewEvent{
		EventName:      req.EventName,
		EventType:      req.EventType,
		Source:         req.Source,
		SessionID:      req.SessionID,
		Payload:        req.Payload,
		IPAddress:      req.IPAddress,
		UserAgent:      req.UserAgent,
		EventTimestamp: req.EventTimestamp,
	}
	if ev.IPAddress == nil && client.IP != "" {
		ip := truncateRunes(client.IP, maxIPLength)
		ev.IPAddress = &ip
	}
	if ev.UserAgent == nil && client.UserAgent != "" {
		ua := client.UserAgent
		ev.UserAgent = &ua
	}
	return ev
}

// truncateRunes cuts s to at most n characters without splitting a rune.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// IsNotFound reports whether err means the event does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
