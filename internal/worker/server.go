package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/PratikDhanave/event-processing-service/internal/queue"
)

// ServerConfig configures the asynq worker pool.
type ServerConfig struct {
	Queue           string
	Concurrency     int
	ShutdownTimeout time.Duration
	LogLevel        slog.Level
}

// NewServer builds the asynq worker pool consuming the events queue.
func NewServer(redis asynq.RedisConnOpt, cfg ServerConfig, logger *slog.Logger) *asynq.Server {
	if cfg.Queue == "" {
		cfg.Queue = queue.DefaultOptions().Queue
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return asynq.NewServer(redis, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          map[string]int{cfg.Queue: 1},
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          NewAsynqLogger(logger),
		LogLevel:        asynqLevel(cfg.LogLevel),
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			logger.ErrorContext(ctx, "task failed",
				slog.String("task_type", t.Type()),
				slog.String("error", err.Error()),
			)
		}),
	})
}

// NewScheduler enqueues the stale sweep every interval.
func NewScheduler(redis asynq.RedisConnOpt, queueName string, interval time.Duration, logger *slog.Logger) (*asynq.Scheduler, error) {
	if queueName == "" {
		queueName = queue.DefaultOptions().Queue
	}
	s := asynq.NewScheduler(redis, &asynq.SchedulerOpts{
		Logger:   NewAsynqLogger(logger),
		Location: time.UTC,
	})
	_, err := s.Register(fmt.Sprintf("@every %s", interval), queue.NewSweepStaleTask(),
		asynq.Queue(queueName),
		asynq.MaxRetry(0),
		asynq.Timeout(interval),
	)
	if err != nil {
		return nil, fmt.Errorf("register sweep: %w", err)
	}
	return s, nil
}

// AsynqLogger routes asynq's internal logging through slog.
type AsynqLogger struct {
	logger *slog.Logger
}

// NewAsynqLogger wraps logger for asynq.Config.Logger.
func NewAsynqLogger(logger *slog.Logger) *AsynqLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsynqLogger{logger: logger.With("component", "asynq")}
}

func (l *AsynqLogger) Debug(args ...any) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *AsynqLogger) Info(args ...any)  { l.logger.Info(fmt.Sprint(args...)) }
func (l *AsynqLogger) Warn(args ...any)  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *AsynqLogger) Error(args ...any) { l.logger.Error(fmt.Sprint(args...)) }

func (l *AsynqLogger) Fatal(args ...any) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}

func asynqLevel(level slog.Level) asynq.LogLevel {
	switch {
	case level <= slog.LevelDebug:
		return asynq.DebugLevel
	case level <= slog.LevelInfo:
		return asynq.InfoLevel
	case level <= slog.LevelWarn:
		return asynq.WarnLevel
	default:
		return asynq.ErrorLevel
	}
}
