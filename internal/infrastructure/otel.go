package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"

	"emeharness/internal/config"
)

const (
	ServiceName    = config.ServiceName
	ServiceVersion = config.AppVersion
	MeterName      = "emeharness"
)

// OTelConfig holds OpenTelemetry configuration
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	TraceExporter  string // "stdout", "none"
	EnableMetrics  bool
	EnableTracing  bool
	SampleRatio    float64
}

// OTelProviders holds the OpenTelemetry providers
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Registry       *promclient.Registry
	Logger         *slog.Logger
}

// DefaultOTelConfig returns a default OpenTelemetry configuration
func DefaultOTelConfig() *OTelConfig {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	return &OTelConfig{
		ServiceName:    ServiceName,
		ServiceVersion: ServiceVersion,
		Environment:    env,
		TraceExporter:  "stdout",
		EnableMetrics:  true,
		EnableTracing:  true,
		SampleRatio:    1.0,
	}
}

// OTelConfigFrom maps the telemetry section onto an OTelConfig
func OTelConfigFrom(cfg config.TelemetryConfig) *OTelConfig {
	otelCfg := DefaultOTelConfig()
	otelCfg.ServiceName = cfg.ServiceName
	otelCfg.TraceExporter = cfg.TraceExporter
	otelCfg.EnableTracing = cfg.TracingEnabled && cfg.TraceExporter != "none"
	otelCfg.EnableMetrics = cfg.MetricsEnabled
	return otelCfg
}

// InitializeOTel sets up tracing and metrics. Disabled signals fall back to
// no-op implementations so callers never check for nil.
func InitializeOTel(cfg *OTelConfig, logger *slog.Logger) (*OTelProviders, error) {
	if cfg == nil {
		cfg = DefaultOTelConfig()
	}

	ctx := context.Background()

	logger.InfoContext(ctx, "Initializing OpenTelemetry",
		slog.String("service", cfg.ServiceName),
		slog.String("version", cfg.ServiceVersion),
		slog.String("environment", cfg.Environment),
		slog.Bool("tracing_enabled", cfg.EnableTracing),
		slog.Bool("metrics_enabled", cfg.EnableMetrics))

	res := createResource(cfg)
	providers := &OTelProviders{
		Tracer: otel.Tracer(MeterName),
		Meter:  noop.NewMeterProvider().Meter(MeterName),
		Logger: logger,
	}

	if cfg.EnableTracing {
		if err := initializeTracing(ctx, cfg, res, providers); err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	if cfg.EnableMetrics {
		if err := initializeMetrics(ctx, cfg, res, providers); err != nil {
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return providers, nil
}

// createResource creates the OpenTelemetry resource
func createResource(cfg *OTelConfig) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironmentName(cfg.Environment),
		attribute.String("service.instance.id", generateInstanceID()),
	)
}

// initializeTracing sets up OpenTelemetry tracing
func initializeTracing(ctx context.Context, cfg *OTelConfig, res *resource.Resource, providers *OTelProviders) error {
	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.TraceExporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "none":
		return nil
	default:
		return fmt.Errorf("unsupported trace exporter: %s", cfg.TraceExporter)
	}
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
	)

	providers.TracerProvider = tp
	providers.Tracer = tp.Tracer(MeterName, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	otel.SetTracerProvider(tp)

	providers.Logger.InfoContext(ctx, "Tracing initialized",
		slog.String("exporter", cfg.TraceExporter),
		slog.Float64("sample_ratio", cfg.SampleRatio))

	return nil
}

// initializeMetrics wires a Prometheus exporter on a private registry
func initializeMetrics(ctx context.Context, cfg *OTelConfig, res *resource.Resource, providers *OTelProviders) error {
	reg := promclient.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	providers.Registry = reg
	providers.PrometheusHTTP = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	providers.MeterProvider = mp
	providers.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(cfg.ServiceVersion))
	otel.SetMeterProvider(mp)

	providers.Logger.InfoContext(ctx, "Metrics initialized", slog.String("exporter", "prometheus"))
	return nil
}

// BusinessMetrics holds all application-specific metrics
type BusinessMetrics struct {
	// HTTP metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter

	// License metrics
	LicenseRequestsTotal    metric.Int64Counter
	LicenseFailuresTotal    metric.Int64Counter
	LicenseUnknownKeys      metric.Int64Counter
	LicenseMultiKeyRequests metric.Int64Counter
	LicenseDuration         metric.Float64Histogram

	// Session and media metrics
	SessionEventsTotal metric.Int64Counter
	MediaBytesFetched  metric.Int64Counter
	WebSocketClients   metric.Int64UpDownCounter

	// System metrics
	SystemErrors metric.Int64Counter
}

// CreateBusinessMetrics creates application-specific metrics
func CreateBusinessMetrics(meter metric.Meter) (*BusinessMetrics, error) {
	var (
		m   BusinessMetrics
		err error
	)
	counter := func(name, desc string, opts ...metric.Int64CounterOption) metric.Int64Counter {
		if err != nil {
			return nil
		}
		var c metric.Int64Counter
		c, err = meter.Int64Counter(name, append(opts, metric.WithDescription(desc))...)
		return c
	}
	histogram := func(name, desc string) metric.Float64Histogram {
		if err != nil {
			return nil
		}
		var h metric.Float64Histogram
		h, err = meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
		return h
	}
	upDown := func(name, desc string) metric.Int64UpDownCounter {
		if err != nil {
			return nil
		}
		var u metric.Int64UpDownCounter
		u, err = meter.Int64UpDownCounter(name, metric.WithDescription(desc))
		return u
	}

	m.HTTPRequestsTotal = counter("http_requests_total", "Total number of HTTP requests")
	m.HTTPRequestDuration = histogram("http_request_duration_seconds", "HTTP request duration in seconds")
	m.HTTPActiveRequests = upDown("http_active_requests", "Number of active HTTP requests")

	m.LicenseRequestsTotal = counter("license_requests_total", "Total number of clearkey license requests")
	m.LicenseFailuresTotal = counter("license_failures_total", "Total number of rejected license requests")
	m.LicenseUnknownKeys = counter("license_unknown_keys_total", "Total number of requests for key ids not in the key table")
	m.LicenseMultiKeyRequests = counter("license_multi_key_requests_total", "Total number of requests not carrying exactly one key id")
	m.LicenseDuration = histogram("license_duration_seconds", "License generation duration in seconds")

	m.SessionEventsTotal = counter("session_events_total", "Total number of key session events")
	m.MediaBytesFetched = counter("media_bytes_fetched_total", "Total media bytes fetched", metric.WithUnit("By"))
	m.WebSocketClients = upDown("websocket_clients", "Number of connected websocket clients")

	m.SystemErrors = counter("system_errors_total", "Total number of system errors")

	if err != nil {
		return nil, err
	}
	return &m, nil
}

// NewNoopBusinessMetrics returns metrics that record nothing
func NewNoopBusinessMetrics() *BusinessMetrics {
	m, _ := CreateBusinessMetrics(noop.NewMeterProvider().Meter(MeterName))
	return m
}

// Shutdown gracefully shuts down OpenTelemetry providers
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error

	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("opentelemetry shutdown: %w", err)
	}

	p.Logger.InfoContext(ctx, "OpenTelemetry shutdown complete")
	return nil
}

// generateInstanceID generates a unique instance identifier
func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error, options ...trace.EventOption) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.RecordError(err, options...)
	span.SetStatus(codes.Error, err.Error())
}

// LicenseOutcome describes one answered license request
type LicenseOutcome struct {
	KeyIDCount int
	Duration   time.Duration
	UnknownKey bool
	// Reason is empty for served requests
	Reason string
}

// RecordLicenseMetrics records one license request
func RecordLicenseMetrics(ctx context.Context, metrics *BusinessMetrics, outcome LicenseOutcome) {
	if metrics == nil {
		return
	}

	status := "success"
	if outcome.Reason != "" {
		status = "failure"
	}
	statusAttr := metric.WithAttributes(attribute.String("status", status))
	metrics.LicenseRequestsTotal.Add(ctx, 1, statusAttr)
	metrics.LicenseDuration.Record(ctx, outcome.Duration.Seconds(), statusAttr)

	if outcome.Reason != "" {
		metrics.LicenseFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", outcome.Reason)))
	}
	if outcome.UnknownKey {
		metrics.LicenseUnknownKeys.Add(ctx, 1)
	}
	if outcome.KeyIDCount != 1 {
		metrics.LicenseMultiKeyRequests.Add(ctx, 1, metric.WithAttributes(attribute.Int("kid_count", outcome.KeyIDCount)))
	}

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent("license.metrics_recorded",
			trace.WithAttributes(
				attribute.String("status", status),
				attribute.Int("kid_count", outcome.KeyIDCount),
				attribute.Float64("duration_seconds", outcome.Duration.Seconds()),
			),
		)
	}
}

// RecordMediaBytes records bytes fetched for a track
func RecordMediaBytes(ctx context.Context, metrics *BusinessMetrics, track string, n int64) {
	if metrics == nil {
		return
	}
	metrics.MediaBytesFetched.Add(ctx, n, metric.WithAttributes(attribute.String("track", track)))
}

// RecordSessionEvent counts a key session event by type
func RecordSessionEvent(ctx context.Context, metrics *BusinessMetrics, eventType string) {
	if metrics == nil {
		return
	}
	metrics.SessionEventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}
