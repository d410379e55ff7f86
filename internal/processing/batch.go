package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PratikDhanave/event-processing-service/internal/models"
	"github.com/PratikDhanave/event-processing-service/internal/store"
)

// ProcessBatch processes eventIDs in order inside one store transaction.
// A failure on one id does not stop the others; nothing becomes visible until
// the final commit, and a failed commit reports the whole batch as failed.
// A committed batch is "success" when no id failed and "partial" otherwise;
// skipped ids (already processed or not found) do not count as failures.
// Batch tasks are not retried.
func (p *Processor) ProcessBatch(ctx context.Context, eventIDs []string) models.BatchResult {
	start := time.Now()
	res := p.processBatch(ctx, eventIDs)
	p.metrics.RecordProcessing(ctx, "batch", string(res.Status), time.Since(start))
	return res
}

func (p *Processor) processBatch(ctx context.Context, eventIDs []string) models.BatchResult {
	log := p.logger.With(slog.Int("event_count", len(eventIDs)))
	res := models.BatchResult{
		TotalEvents: len(eventIDs),
		Results:     make([]models.Result, 0, len(eventIDs)),
	}

	tx, err := p.store.BeginBatch(ctx)
	if err != nil {
		log.ErrorContext(ctx, "begin batch failed", slog.String("error", err.Error()))
		res.Status = models.BatchFailed
		res.Failed = len(eventIDs)
		res.Error = "Processing error: " + err.Error()
		return res
	}
	// no-op once committed
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	now := p.now()
	var done []models.Event
	for _, id := range eventIDs {
		r, ev := p.batchOne(ctx, tx, id, now)
		res.Results = append(res.Results, r)
		switch r.Status {
		case models.ResultProcessed:
			res.Processed++
			done = append(done, ev)
		case models.ResultValidationError, models.ResultError:
			res.Failed++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		log.ErrorContext(ctx, "batch commit failed, rolled back", slog.String("error", err.Error()))
		for i := range res.Results {
			if res.Results[i].Status == models.ResultProcessed {
				res.Results[i].Status = models.ResultRolledBack
				res.Results[i].ProcessedAt = nil
				res.Failed++
			}
		}
		res.Status = models.BatchFailed
		res.Processed = 0
		res.Error = "Processing error: commit batch: " + err.Error()
		return res
	}

	for _, ev := range done {
		p.notify(ctx, ev)
	}

	res.Status = models.BatchSuccess
	if res.Failed > 0 {
		res.Status = models.BatchPartial
	}

	log.InfoContext(ctx, "batch processed",
		slog.String("status", string(res.Status)),
		slog.Int("processed", res.Processed),
		slog.Int("failed", res.Failed),
	)
	return res
}

func (p *Processor) batchOne(ctx context.Context, tx store.Batch, eventID string, now time.Time) (res models.Result, ev models.Event) {
	defer func() {
		if r := recover(); r != nil {
			res = models.Result{
				Status:  models.ResultError,
				EventID: eventID,
				Error:   fmt.Sprintf("Processing error: panic: %v", r),
			}
		}
	}()

	ev, err := tx.Get(ctx, eventID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Result{Status: models.ResultNotFound, EventID: eventID}, ev
	}
	if err != nil {
		return models.Result{Status: models.ResultError, EventID: eventID, Error: "Processing error: " + err.Error()}, ev
	}

	if ev.Processed {
		return models.Result{Status: models.ResultAlreadyProcessed, EventID: eventID, ProcessedAt: ev.ProcessedAt}, ev
	}

	props, err := prepare(ev, now)
	if err != nil {
		msg := terminalMessage(err)
		if _, rerr := tx.RecordError(ctx, eventID, msg); rerr != nil {
			p.logger.WarnContext(ctx, "record validation error failed",
				slog.String("event_id", eventID),
				slog.String("error", rerr.Error()),
			)
		}
		return models.Result{Status: models.ResultValidationError, EventID: eventID, Error: msg}, ev
	}

	done, err := tx.MarkProcessed(ctx, eventID, props, now)
	if err != nil {
		return models.Result{Status: models.ResultError, EventID: eventID, Error: "Processing error: " + err.Error()}, ev
	}

	return models.Result{
		Status:      models.ResultProcessed,
		EventID:     done.ID,
		EventName:   done.EventName,
		EventType:   done.EventType,
		OwnerID:     done.OwnerID,
		ProcessedAt: done.ProcessedAt,
	}, done
}
