// Package processing runs the worker side of the pipeline: fetch, validate,
// normalize and persist one event, or a batch of events in one transaction.
package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PratikDhanave/event-processing-service/internal/models"
	"github.com/PratikDhanave/event-processing-service/internal/observability"
	"github.com/PratikDhanave/event-processing-service/internal/payload"
	"github.com/PratikDhanave/event-processing-service/internal/store"
)

// ErrMissingRequiredField is returned when event_name or event_type is empty.
var ErrMissingRequiredField = errors.New("missing required fields: event_name and/or event_type")

// Retrier re-queues an event after a countdown. *queue.Dispatcher satisfies it.
type Retrier interface {
	Retry(ctx context.Context, eventID string, attempt int, countdown time.Duration) error
}

// Hook is notified after an event is committed as processed. Hook errors are
// logged and never change the processing result.
type Hook interface {
	OnProcessed(ctx context.Context, ev models.Event) error
}

// Deps are the collaborators of a Processor. Only Store is required.
type Deps struct {
	Store   store.Gateway
	Retrier Retrier
	Hook    Hook
	Policy  RetryPolicy
	Metrics observability.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Processor runs single and batch processing attempts against the store.
type Processor struct {
	store   store.Gateway
	retrier Retrier
	hook    Hook
	policy  RetryPolicy
	metrics observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewProcessor fills unset dependencies with defaults.
func NewProcessor(deps Deps) *Processor {
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.Policy == (RetryPolicy{}) {
		deps.Policy = DefaultRetryPolicy()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NoopMetrics{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Processor{
		store:   deps.Store,
		retrier: deps.Retrier,
		hook:    deps.Hook,
		policy:  deps.Policy,
		metrics: deps.Metrics,
		logger:  deps.Logger.With("component", "processor"),
		now:     deps.Now,
	}
}

// ProcessEvent runs one attempt for eventID. It never returns an error:
// every outcome, including a scheduled retry, is described by the Result.
func (p *Processor) ProcessEvent(ctx context.Context, eventID string, attempt int) models.Result {
	start := time.Now()
	res := p.processOnce(ctx, eventID, attempt)
	p.metrics.RecordProcessing(ctx, "single", string(res.Status), time.Since(start))
	return res
}

func (p *Processor) processOnce(ctx context.Context, eventID string, attempt int) (res models.Result) {
	log := p.logger.With(slog.String("event_id", eventID), slog.Int("attempt", attempt))

	defer func() {
		if r := recover(); r != nil {
			res = p.fail(ctx, log, eventID, attempt, fmt.Errorf("panic: %v", r))
		}
	}()

	ev, err := p.store.Get(ctx, eventID)
	if errors.Is(err, store.ErrNotFound) {
		log.WarnContext(ctx, "event not found")
		return models.Result{Status: models.ResultNotFound, EventID: eventID, Attempt: attempt}
	}
	if err != nil {
		return p.fail(ctx, log, eventID, attempt, fmt.Errorf("fetch event: %w", err))
	}

	if ev.Processed {
		log.DebugContext(ctx, "event already processed")
		return models.Result{
			Status:      models.ResultSkipped,
			EventID:     eventID,
			ProcessedAt: ev.ProcessedAt,
			Attempt:     attempt,
		}
	}

	now := p.now()
	props, err := prepare(ev, now)
	if err != nil {
		msg := terminalMessage(err)
		if _, rerr := p.store.RecordError(ctx, eventID, msg); rerr != nil {
			log.WarnContext(ctx, "record validation error failed", slog.String("error", rerr.Error()))
		}
		log.InfoContext(ctx, "event rejected", slog.String("reason", msg))
		return models.Result{
			Status:  models.ResultValidationError,
			EventID: eventID,
			Error:   msg,
			Attempt: attempt,
		}
	}

	done, err := p.store.MarkProcessed(ctx, eventID, props, now)
	if errors.Is(err, store.ErrNotFound) {
		log.WarnContext(ctx, "event vanished before it could be marked")
		return models.Result{Status: models.ResultNotFound, EventID: eventID, Attempt: attempt}
	}
	if err != nil {
		return p.fail(ctx, log, eventID, attempt, fmt.Errorf("mark processed: %w", err))
	}

	p.notify(ctx, done)
	log.InfoContext(ctx, "event processed")

	return models.Result{
		Status:      models.ResultSuccess,
		EventID:     done.ID,
		EventName:   done.EventName,
		EventType:   done.EventType,
		OwnerID:     done.OwnerID,
		ProcessedAt: done.ProcessedAt,
		Attempt:     attempt,
	}
}

// fail records an infrastructure failure and schedules the next attempt, or
// reports the event as failed once the policy is exhausted.
func (p *Processor) fail(ctx context.Context, log *slog.Logger, eventID string, attempt int, cause error) models.Result {
	msg := "Processing error: " + cause.Error()
	res := models.Result{EventID: eventID, Error: msg, Attempt: attempt}

	// The attempt context may already be past its deadline.
	bg := context.WithoutCancel(ctx)

	if _, err := p.store.RecordError(bg, eventID, msg); err != nil {
		log.DebugContext(ctx, "record processing error failed", slog.String("error", err.Error()))
	}

	if p.policy.Exhausted(attempt) {
		log.ErrorContext(ctx, "retries exhausted", slog.String("error", cause.Error()))
		res.Status = models.ResultFailed
		res.RetriesExhausted = true
		return res
	}
	if p.retrier == nil {
		log.ErrorContext(ctx, "no retrier configured", slog.String("error", cause.Error()))
		res.Status = models.ResultFailed
		return res
	}

	delay := p.policy.Delay(attempt)
	if err := p.retrier.Retry(bg, eventID, attempt+1, delay); err != nil {
		log.ErrorContext(ctx, "schedule retry failed",
			slog.String("error", cause.Error()),
			slog.String("retry_error", err.Error()),
		)
		res.Status = models.ResultFailed
		return res
	}

	p.metrics.RecordRetry(ctx, attempt+1)
	log.WarnContext(ctx, "processing failed, retry scheduled",
		slog.String("error", cause.Error()),
		slog.Duration("retry_in", delay),
	)
	res.Status = models.ResultRetrying
	res.RetryInSeconds = delay.Seconds()
	return res
}

func (p *Processor) notify(ctx context.Context, ev models.Event) {
	if p.hook == nil {
		return
	}
	if err := p.hook.OnProcessed(ctx, ev); err != nil {
		p.logger.WarnContext(ctx, "processed hook failed",
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
	}
}

// prepare runs the terminal checks and returns the properties to store.
func prepare(ev models.Event, now time.Time) (map[string]any, error) {
	validated, err := payload.Validate(ev.Payload)
	if err != nil {
		return nil, err
	}
	// Whitespace is a legal value; only an empty field is missing.
	if ev.EventName == "" || ev.EventType == "" {
		return nil, ErrMissingRequiredField
	}
	return payload.Normalize(validated, now), nil
}

func terminalMessage(err error) string {
	if errors.Is(err, payload.ErrInvalid) {
		return "Payload validation failed: " + err.Error()
	}
	if errors.Is(err, ErrMissingRequiredField) {
		return "Missing required fields: event_name and/or event_type"
	}
	return err.Error()
}
