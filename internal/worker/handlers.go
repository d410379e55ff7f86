// Package worker wires event processing into an asynq server.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/PratikDhanave/event-processing-service/internal/models"
	"github.com/PratikDhanave/event-processing-service/internal/queue"
)

// EventProcessor runs processing attempts. *processing.Processor satisfies it.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, eventID string, attempt int) models.Result
	ProcessBatch(ctx context.Context, eventIDs []string) models.BatchResult
}

// Handlers adapts the processor to asynq task handlers.
type Handlers struct {
	proc    EventProcessor
	sweeper *Sweeper
	logger  *slog.Logger
}

// NewHandlers wires the task handlers. A nil sweeper disables the sweep task.
func NewHandlers(proc EventProcessor, sweeper *Sweeper, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{proc: proc, sweeper: sweeper, logger: logger.With("component", "worker")}
}

// Mux registers every task type this service enqueues.
func (h *Handlers) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessEvent, h.HandleProcessEvent)
	mux.HandleFunc(queue.TypeProcessBatch, h.HandleProcessBatch)
	if h.sweeper != nil {
		mux.HandleFunc(queue.TypeSweepStale, h.HandleSweepStale)
	}
	return mux
}

// HandleProcessEvent processes one event. Outcomes, retries included, are
// reported through the task result; only an undecodable task is an error.
func (h *Handlers) HandleProcessEvent(ctx context.Context, t *asynq.Task) error {
	p, err := queue.ParseProcessEvent(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	res := h.proc.ProcessEvent(ctx, p.EventID, p.Attempt)
	h.writeResult(ctx, t, res)
	return nil
}

// HandleProcessBatch processes a batch task in one transaction. Batches are never retried.
func (h *Handlers) HandleProcessBatch(ctx context.Context, t *asynq.Task) error {
	p, err := queue.ParseProcessBatch(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	res := h.proc.ProcessBatch(ctx, p.EventIDs)
	h.writeResult(ctx, t, res)
	return nil
}

// HandleSweepStale runs one sweep and reports how many events it re-dispatched.
func (h *Handlers) HandleSweepStale(ctx context.Context, t *asynq.Task) error {
	n, err := h.sweeper.Sweep(ctx)
	if err != nil {
		// The next scheduled sweep covers it.
		return fmt.Errorf("sweep stale events: %v: %w", err, asynq.SkipRetry)
	}
	h.writeResult(ctx, t, map[string]int{"dispatched": n})
	return nil
}

func (h *Handlers) writeResult(ctx context.Context, t *asynq.Task, v any) {
	rw := t.ResultWriter()
	if rw == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		h.logger.WarnContext(ctx, "encode task result failed", slog.String("error", err.Error()))
		return
	}
	if _, err := rw.Write(b); err != nil {
		h.logger.WarnContext(ctx, "write task result failed",
			slog.String("task_id", rw.TaskID()),
			slog.String("error", err.Error()),
		)
	}
}
