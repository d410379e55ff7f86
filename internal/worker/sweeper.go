package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PratikDhanave/event-processing-service/internal/queue"
)

// MaxBatchSize matches the ingestion batch limit.
const MaxBatchSize = 100

// StaleLister finds unprocessed events older than a cutoff.
type StaleLister interface {
	ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]string, error)
}

// BatchDispatcher enqueues a batch task; nil means the queue is unavailable.
type BatchDispatcher interface {
	DispatchBatch(ctx context.Context, eventIDs []string) *queue.TaskRef
}

// SweeperConfig tunes a Sweeper.
type SweeperConfig struct {
	// Grace is how long an event may stay unprocessed before it is re-dispatched.
	Grace time.Duration
	// Limit caps the ids picked up by one sweep.
	Limit int
}

// DefaultSweeperConfig waits ten minutes and picks up at most 500 events per sweep.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{Grace: 10 * time.Minute, Limit: 500}
}

// Sweeper re-dispatches events that were stored while the queue was down.
// Events that already recorded an error are left for manual reprocessing.
type Sweeper struct {
	store      StaleLister
	dispatcher BatchDispatcher
	cfg        SweeperConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewSweeper fills zero fields of cfg from DefaultSweeperConfig.
func NewSweeper(store StaleLister, dispatcher BatchDispatcher, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	def := DefaultSweeperConfig()
	if cfg.Grace <= 0 {
		cfg.Grace = def.Grace
	}
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:      store,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger.With("component", "sweeper"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Sweep dispatches stale events in batches and returns how many were handed
// to the queue.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ids, err := s.store.ListStale(ctx, s.now().Add(-s.cfg.Grace), s.cfg.Limit)
	if err != nil {
		return 0, fmt.Errorf("list stale events: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	dispatched := 0
	for start := 0; start < len(ids); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(ids))
		chunk := ids[start:end]
		if ref := s.dispatcher.DispatchBatch(ctx, chunk); ref == nil {
			// queue unavailable; the rest would fail the same way
			break
		}
		dispatched += len(chunk)
	}

	s.logger.InfoContext(ctx, "stale events swept",
		slog.Int("found", len(ids)),
		slog.Int("dispatched", dispatched),
	)
	return dispatched, nil
}
