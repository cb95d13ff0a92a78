package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	noopLogs "go.opentelemetry.io/otel/log/noop"
	"go.opentelemetry.io/otel/metric"
	noopMetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	noopTrace "go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc/encoding/gzip"
)

// A CLI run is short, the final flush happens on Shutdown.
const metricExportPeriod = 15 * time.Second

type Client struct {
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
	LogsProvider   log.LoggerProvider

	shutdown []func(context.Context) error
}

// Enabled reports whether the client exports to a collector.
func (c *Client) Enabled() bool {
	return len(c.shutdown) > 0
}

func NewNoopClient() *Client {
	return &Client{
		MeterProvider:  noopMetric.NewMeterProvider(),
		TracerProvider: noopTrace.NewTracerProvider(),
		LogsProvider:   noopLogs.NewLoggerProvider(),
	}
}

// New exports metrics, spans and logs over OTLP/gRPC to endpoint. An empty
// endpoint returns a noop client.
func New(ctx context.Context, endpoint, serviceName, serviceVersion, sessionID string) (*Client, error) {
	if endpoint == "" {
		return NewNoopClient(), nil
	}

	res, err := newResource(ctx, serviceName, serviceVersion, sessionID)
	if err != nil {
		return nil, err
	}

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithInsecure(),
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithCompressor(gzip.Name),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	spanExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithCompressor(gzip.Name),
	)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create span exporter: %w", err), metricExporter.Shutdown(ctx))
	}

	logsExporter, err := otlploggrpc.New(ctx,
		otlploggrpc.WithInsecure(),
		otlploggrpc.WithEndpoint(endpoint),
		otlploggrpc.WithCompressor(gzip.Name),
	)
	if err != nil {
		return nil, errors.Join(
			fmt.Errorf("failed to create logs exporter: %w", err),
			metricExporter.Shutdown(ctx),
			spanExporter.Shutdown(ctx),
		)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(metricExportPeriod))),
	)

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(spanExporter),
	)

	logsProvider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logsExporter)),
	)

	return &Client{
		MeterProvider:  meterProvider,
		TracerProvider: tracerProvider,
		LogsProvider:   logsProvider,
		// Spans end before the metrics and logs describing them are flushed.
		shutdown: []func(context.Context) error{
			tracerProvider.Shutdown,
			meterProvider.Shutdown,
			logsProvider.Shutdown,
		},
	}, nil
}

// Install makes the client's providers the otel globals.
func (c *Client) Install() {
	otel.SetMeterProvider(c.MeterProvider)
	otel.SetTracerProvider(c.TracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	global.SetLoggerProvider(c.LogsProvider)
}

// Shutdown flushes and stops every provider.
func (c *Client) Shutdown(ctx context.Context) error {
	var errs []error
	for _, shutdown := range c.shutdown {
		if err := shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func newResource(ctx context.Context, serviceName, serviceVersion, sessionID string) (*resource.Resource, error) {
	attributes := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
		semconv.ServiceInstanceID(sessionID),
		semconv.TelemetrySDKName("otel"),
		semconv.TelemetrySDKLanguageGo,
	}

	hostname, err := os.Hostname()
	if err == nil {
		attributes = append(attributes, semconv.HostName(hostname))
	}

	res, err := resource.New(
		ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(attributes...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	return res, nil
}
