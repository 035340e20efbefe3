package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const meterName = "cryptoscan"

// Metrics holds the scanner's instruments. The zero value is not usable; call
// NewMetrics.
type Metrics struct {
	Scans          metric.Int64Counter
	Matches        metric.Int64Counter
	PatternErrors  metric.Int64Counter
	Fetches        metric.Int64Counter
	FetchFailures  metric.Int64Counter
	SessionsSaved  metric.Int64Counter
	ScanDurationMs metric.Float64Histogram
}

// NewMetrics creates instruments from the global meter provider. Without
// InitMetrics that provider is a no-op.
func NewMetrics() *Metrics {
	meter := otel.Meter(meterName)
	scans, _ := meter.Int64Counter("cryptoscan_scans_total")
	matches, _ := meter.Int64Counter("cryptoscan_matches_total")
	patternErrors, _ := meter.Int64Counter("cryptoscan_pattern_errors_total")
	fetches, _ := meter.Int64Counter("cryptoscan_fetches_total")
	fetchFailures, _ := meter.Int64Counter("cryptoscan_fetch_failures_total")
	sessions, _ := meter.Int64Counter("cryptoscan_sessions_saved_total")
	duration, _ := meter.Float64Histogram("cryptoscan_scan_duration_ms")
	return &Metrics{
		Scans:          scans,
		Matches:        matches,
		PatternErrors:  patternErrors,
		Fetches:        fetches,
		FetchFailures:  fetchFailures,
		SessionsSaved:  sessions,
		ScanDurationMs: duration,
	}
}

// RecordScan counts one detect call.
func (m *Metrics) RecordScan(ctx context.Context, kind string, matches int, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	m.Scans.Add(ctx, 1, attrs)
	m.Matches.Add(ctx, int64(matches), attrs)
	m.ScanDurationMs.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
}

// InitMetrics installs an OTLP/gRPC push exporter when endpoint is set. With
// an empty endpoint, or when the exporter cannot be built, the global no-op
// provider stays and shutdown does nothing.
func InitMetrics(ctx context.Context, service, endpoint string, logger *slog.Logger) (shutdown func(context.Context) error) {
	noop := func(context.Context) error { return nil }
	if endpoint == "" {
		return noop
	}

	res, _ := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
	))

	ctxInit, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exp, err := otlpmetricgrpc.New(ctxInit,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		logger.Warn("metrics exporter init failed", "error", err)
		return noop
	}

	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)
	logger.Info("metrics initialized", "endpoint", endpoint)
	return mp.Shutdown
}
