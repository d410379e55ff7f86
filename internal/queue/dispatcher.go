package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/PratikDhanave/event-processing-service/internal/observability"
)

// Enqueuer is the part of *asynq.Client the dispatcher needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Options tune every enqueue.
type Options struct {
	Queue string
	// TaskTimeout is the hard per-attempt limit enforced by the worker.
	TaskTimeout time.Duration
	// DispatchTimeout bounds how long the request path waits on the broker.
	DispatchTimeout time.Duration
}

// DefaultOptions targets the "events" queue.
func DefaultOptions() Options {
	return Options{
		Queue:           "events",
		TaskTimeout:     30 * time.Minute,
		DispatchTimeout: 2 * time.Second,
	}
}

// TaskRef identifies one successful enqueue. It is informational only.
type TaskRef struct {
	ID    string `json:"id"`
	Queue string `json:"queue"`
}

// Dispatcher enqueues processing tasks. Dispatch and DispatchBatch never fail
// their caller: broker errors are logged and reported as a nil TaskRef.
type Dispatcher struct {
	client  Enqueuer
	opts    Options
	logger  *slog.Logger
	metrics observability.Metrics
}

// NewDispatcher fills zero fields of opts from DefaultOptions.
func NewDispatcher(client Enqueuer, opts Options, logger *slog.Logger, metrics observability.Metrics) *Dispatcher {
	def := DefaultOptions()
	if opts.Queue == "" {
		opts.Queue = def.Queue
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = def.TaskTimeout
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = def.DispatchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &Dispatcher{
		client:  client,
		opts:    opts,
		logger:  logger.With("component", "dispatcher"),
		metrics: metrics,
	}
}

// Dispatch enqueues processing of one event. Returns nil if the queue is unavailable.
func (d *Dispatcher) Dispatch(ctx context.Context, eventID string) *TaskRef {
	ref, err := d.enqueue(ctx, "single", func() (*asynq.Task, error) {
		return NewProcessEventTask(eventID, 0)
	})
	if err != nil {
		d.logger.WarnContext(ctx, "dispatch failed; event stays stored",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	d.logger.DebugContext(ctx, "event dispatched", slog.String("event_id", eventID), slog.String("task_id", ref.ID))
	return ref
}

// DispatchBatch enqueues one task processing all ids in order.
// Returns nil if the queue is unavailable.
func (d *Dispatcher) DispatchBatch(ctx context.Context, eventIDs []string) *TaskRef {
	ref, err := d.enqueue(ctx, "batch", func() (*asynq.Task, error) {
		return NewProcessBatchTask(eventIDs)
	})
	if err != nil {
		d.logger.WarnContext(ctx, "batch dispatch failed; events stay stored",
			slog.Int("event_count", len(eventIDs)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	d.logger.DebugContext(ctx, "batch dispatched", slog.Int("event_count", len(eventIDs)), slog.String("task_id", ref.ID))
	return ref
}

// Retry re-queues an event after countdown. attempt is the retry number the
// new task will carry. Unlike Dispatch, the error is returned so the caller
// can decide how to report a lost retry.
func (d *Dispatcher) Retry(ctx context.Context, eventID string, attempt int, countdown time.Duration) error {
	_, err := d.enqueue(ctx, "retry", func() (*asynq.Task, error) {
		return NewProcessEventTask(eventID, attempt)
	}, asynq.ProcessIn(countdown))
	return err
}

func (d *Dispatcher) enqueue(ctx context.Context, kind string, build func() (*asynq.Task, error), extra ...asynq.Option) (ref *TaskRef, err error) {
	defer func() {
		if r := recover(); r != nil {
			ref, err = nil, fmt.Errorf("enqueue panicked: %v", r)
		}
		d.metrics.RecordDispatch(ctx, kind, err == nil)
	}()

	if d.client == nil {
		return nil, fmt.Errorf("queue client not configured")
	}

	task, err := build()
	if err != nil {
		return nil, fmt.Errorf("build task: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.opts.DispatchTimeout)
	defer cancel()

	opts := append([]asynq.Option{
		asynq.Queue(d.opts.Queue),
		asynq.Timeout(d.opts.TaskTimeout),
		// Retries are scheduled explicitly with a countdown, never by asynq.
		asynq.MaxRetry(0),
	}, extra...)

	info, err := d.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}
	if info == nil {
		return nil, fmt.Errorf("enqueue %s: no task info returned", task.Type())
	}
	return &TaskRef{ID: info.ID, Queue: info.Queue}, nil
}
