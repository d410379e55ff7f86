package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

const meterName = "event-processing-service"

// Metrics records pipeline metrics.
// Use NewMetrics() for OTel metrics or NoopMetrics{} when disabled.
type Metrics interface {
	// RecordProcessing records one processing outcome and its duration.
	RecordProcessing(ctx context.Context, kind, status string, duration time.Duration)

	// RecordDispatch records an enqueue attempt.
	RecordDispatch(ctx context.Context, kind string, ok bool)

	// RecordRetry records a scheduled retry for the given attempt number.
	RecordRetry(ctx context.Context, attempt int)
}

// NoopMetrics discards all measurements.
type NoopMetrics struct{}

func (NoopMetrics) RecordProcessing(context.Context, string, string, time.Duration) {}
func (NoopMetrics) RecordDispatch(context.Context, string, bool)                     {}
func (NoopMetrics) RecordRetry(context.Context, int)                                 {}

type otelMetrics struct {
	processed metric.Int64Counter
	latency   metric.Float64Histogram
	dispatch  metric.Int64Counter
	retries   metric.Int64Counter
}

func newOtelMetrics(meter metric.Meter) (*otelMetrics, error) {
	processed, err := meter.Int64Counter("events.processed",
		metric.WithDescription("Processing outcomes by status"),
	)
	if err != nil {
		return nil, err
	}

	latency, err := meter.Float64Histogram("events.processing.duration_ms",
		metric.WithDescription("Processing attempt latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	dispatch, err := meter.Int64Counter("events.dispatch",
		metric.WithDescription("Enqueue attempts by kind and outcome"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := meter.Int64Counter("events.retries",
		metric.WithDescription("Scheduled processing retries"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{processed: processed, latency: latency, dispatch: dispatch, retries: retries}, nil
}

// NewMetrics returns a Metrics backed by the global OTel meter provider.
// If instrument creation fails it logs and returns NoopMetrics.
func NewMetrics(logger *slog.Logger) Metrics {
	m, err := newOtelMetrics(otel.Meter(meterName))
	if err != nil {
		if logger != nil {
			logger.Warn("metrics initialization failed, using no-op recorder", slog.String("error", err.Error()))
		}
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordProcessing(ctx context.Context, kind, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	)
	m.processed.Add(ctx, 1, attrs)
	m.latency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (m *otelMetrics) RecordDispatch(ctx context.Context, kind string, ok bool) {
	m.dispatch.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("ok", ok),
	))
}

func (m *otelMetrics) RecordRetry(ctx context.Context, attempt int) {
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.Int("attempt", attempt)))
}

// BacklogFunc reports the number of events still waiting to be processed.
type BacklogFunc func(ctx context.Context) (int64, error)

// RegisterBacklogGauge exposes the unprocessed backlog as an observable gauge
// read at every collection.
func RegisterBacklogGauge(logger *slog.Logger, backlog BacklogFunc) error {
	meter := otel.Meter(meterName)
	_, err := meter.Int64ObservableGauge("events.unprocessed",
		metric.WithDescription("Events stored but not yet processed"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			n, err := backlog(ctx)
			if err != nil {
				if logger != nil {
					logger.Warn("backlog gauge read failed", slog.String("error", err.Error()))
				}
				return nil
			}
			o.Observe(n)
			return nil
		}),
	)
	return err
}

// SetupMeterProvider installs a global meter provider exporting over OTLP/gRPC
// to endpoint. With an empty endpoint the global no-op provider is kept.
// The returned function flushes and shuts the provider down.
func SetupMeterProvider(ctx context.Context, serviceName, endpoint string, insecure bool) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	return provider.Shutdown, nil
}
