package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/PratikDhanave/event-processing-service/internal/config"
	"github.com/PratikDhanave/event-processing-service/internal/observability"
	"github.com/PratikDhanave/event-processing-service/internal/processing"
	"github.com/PratikDhanave/event-processing-service/internal/publish"
	"github.com/PratikDhanave/event-processing-service/internal/queue"
	"github.com/PratikDhanave/event-processing-service/internal/store"
	"github.com/PratikDhanave/event-processing-service/internal/worker"
)

// main boots the worker pool: config → store → processor → asynq server + sweep scheduler.
func main() {
	if err := run(); err != nil {
		slog.Error("worker exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observability.SetupMeterProvider(ctx, "event-processing-worker", cfg.OTLPEndpoint, true)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()
	metrics := observability.NewMetrics(logger)

	st, err := store.Open(ctx, cfg.DBDriver, cfg.DBURL)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := observability.RegisterBacklogGauge(logger, st.CountUnprocessed); err != nil {
		logger.Warn("backlog gauge not registered", slog.String("error", err.Error()))
	}

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}

	// Retries and sweeps re-enter the queue through the same dispatcher the API uses.
	client := asynq.NewClient(redisOpt)
	defer client.Close()
	dispatcher := queue.NewDispatcher(client, queue.Options{
		Queue:           cfg.QueueName,
		TaskTimeout:     cfg.ProcessingTimeout,
		DispatchTimeout: cfg.DispatchTimeout,
	}, logger, metrics)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()

	policy := processing.DefaultRetryPolicy()
	policy.MaxRetries = cfg.MaxRetries
	policy.BaseDelay = cfg.RetryBaseDelay

	proc := processing.NewProcessor(processing.Deps{
		Store:   st,
		Retrier: dispatcher,
		Hook:    publish.NewRedisPublisher(rdb, cfg.PublishChannel),
		Policy:  policy,
		Metrics: metrics,
		Logger:  logger,
	})

	sweeper := worker.NewSweeper(st, dispatcher, worker.SweeperConfig{Grace: cfg.SweepGrace}, logger)
	handlers := worker.NewHandlers(proc, sweeper, logger)

	srv := worker.NewServer(redisOpt, worker.ServerConfig{
		Queue:       cfg.QueueName,
		Concurrency: cfg.WorkerConcurrency,
		LogLevel:    observability.ParseLevel(cfg.LogLevel),
	}, logger)

	scheduler, err := worker.NewScheduler(redisOpt, cfg.QueueName, cfg.SweepInterval, logger)
	if err != nil {
		return err
	}

	if err := srv.Start(handlers.Mux()); err != nil {
		return err
	}
	if err := scheduler.Start(); err != nil {
		srv.Shutdown()
		return err
	}
	logger.Info("worker started",
		slog.String("queue", cfg.QueueName),
		slog.Int("concurrency", cfg.WorkerConcurrency),
	)

	<-ctx.Done()
	logger.Info("shutting down")
	scheduler.Shutdown()
	srv.Shutdown()
	return nil
}
