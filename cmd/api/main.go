package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/PratikDhanave/event-processing-service/internal/config"
	"github.com/PratikDhanave/event-processing-service/internal/httpserver"
	"github.com/PratikDhanave/event-processing-service/internal/ingest"
	"github.com/PratikDhanave/event-processing-service/internal/observability"
	"github.com/PratikDhanave/event-processing-service/internal/queue"
	"github.com/PratikDhanave/event-processing-service/internal/store"
)

// main boots the ingestion API: config → store → queue client → HTTP server.
func main() {
	if err := run(); err != nil {
		slog.Error("api exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	// Load runtime config (env, optionally seeded from CONFIG_FILE).
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownMetrics, err := observability.SetupMeterProvider(ctx, "event-processing-api", cfg.OTLPEndpoint, true)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()
	metrics := observability.NewMetrics(logger)

	// Durable storage; the schema is created on first boot.
	st, err := store.Open(ctx, cfg.DBDriver, cfg.DBURL)
	if err != nil {
		return err
	}
	defer st.Close()

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	client := asynq.NewClient(redisOpt)
	defer client.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()

	dispatcher := queue.NewDispatcher(client, queue.Options{
		Queue:           cfg.QueueName,
		TaskTimeout:     cfg.ProcessingTimeout,
		DispatchTimeout: cfg.DispatchTimeout,
	}, logger, metrics)

	router := httpserver.NewRouter(httpserver.Deps{
		APIKeys: cfg.APIKeys,
		Service: ingest.NewService(st, dispatcher, logger),
		Checks: map[string]httpserver.Check{
			"store": st.Ping,
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
		Logger: logger,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
