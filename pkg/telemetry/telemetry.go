// Package telemetry wires up Prometheus + OpenTelemetry exporters used across
// the project.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"override-dns/pkg/config"
	"override-dns/pkg/logging"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Telemetry holds telemetry providers and exporters
type Telemetry struct {
	cfg              *config.TelemetryConfig
	meterProvider    metric.MeterProvider
	tracerProvider   trace.TracerProvider
	prometheusServer *http.Server
	logger           *logging.Logger
}

// Metrics holds all application metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// Resolution pipeline
	DNSQueriesTotal     metric.Int64Counter
	DNSQueriesOverride  metric.Int64Counter
	DNSQueriesForwarded metric.Int64Counter
	DNSQueriesServFail  metric.Int64Counter
	DNSQueriesNXDomain  metric.Int64Counter
	DNSQueryDuration    metric.Float64Histogram
	DNSQueriesActive    metric.Int64UpDownCounter

	// Upstream
	UpstreamErrors metric.Int64Counter

	// Mutation path
	MutationsApplied metric.Int64Counter
	MutationsDropped metric.Int64Counter
	OverrideRecords  metric.Int64UpDownCounter

	// Journal
	StorageDropped metric.Int64Counter
}

// New creates a new telemetry instance
func New(ctx context.Context, cfg *config.TelemetryConfig, logger *logging.Logger) (*Telemetry, error) {
	if !cfg.Enabled {
		logger.Info("Telemetry disabled")
		return &Telemetry{
			cfg:            cfg,
			meterProvider:  noop.NewMeterProvider(),
			tracerProvider: tracenoop.NewTracerProvider(),
			logger:         logger,
		}, nil
	}

	t := &Telemetry{
		cfg:    cfg,
		logger: logger,
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := t.setupMetrics(res); err != nil {
		return nil, fmt.Errorf("failed to setup metrics: %w", err)
	}
	t.setupTracing()

	logger.Info("Telemetry initialized",
		"service", cfg.ServiceName,
		"version", cfg.ServiceVersion,
		"prometheus", cfg.PrometheusEnabled,
	)

	return t, nil
}

// NewNoop returns telemetry backed by a no-op meter provider
func NewNoop(logger *logging.Logger) *Telemetry {
	return &Telemetry{
		cfg:            &config.TelemetryConfig{},
		meterProvider:  noop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
		logger:         logger,
	}
}

func (t *Telemetry) setupMetrics(res *resource.Resource) error {
	if !t.cfg.PrometheusEnabled {
		t.meterProvider = noop.NewMeterProvider()
		return nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	t.meterProvider = provider
	otel.SetMeterProvider(provider)

	t.startPrometheusServer()
	t.logger.Info("Prometheus metrics enabled", "port", t.cfg.PrometheusPort)
	return nil
}

// setupTracing installs a no-op tracer provider; no span exporter is configured yet
func (t *Telemetry) setupTracing() {
	t.tracerProvider = tracenoop.NewTracerProvider()
	otel.SetTracerProvider(t.tracerProvider)
}

func (t *Telemetry) startPrometheusServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	t.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.cfg.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := t.prometheusServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("Prometheus server failed", "error", err)
		}
	}()
}

// InitMetrics initializes and returns all application metrics
func (t *Telemetry) InitMetrics() (*Metrics, error) {
	meter := t.meterProvider.Meter("override-dns")
	m := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.DNSQueriesTotal, "dns.queries.total", "Total number of DNS queries received"},
		{&m.DNSQueriesOverride, "dns.queries.override", "Queries answered from the override zone"},
		{&m.DNSQueriesForwarded, "dns.queries.forwarded", "Queries answered by an upstream resolver"},
		{&m.DNSQueriesServFail, "dns.queries.servfail", "Queries answered with SERVFAIL"},
		{&m.DNSQueriesNXDomain, "dns.queries.nxdomain", "Queries answered with NXDOMAIN"},
		{&m.UpstreamErrors, "upstream.errors", "Upstream lookup failures by kind"},
		{&m.MutationsApplied, "mutations.applied", "Mutation instructions applied to the record store"},
		{&m.MutationsDropped, "mutations.dropped", "Mutation instructions rejected by the writer"},
		{&m.StorageDropped, "storage.entries.dropped", "Journal entries dropped due to a full buffer"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	var err error
	m.DNSQueryDuration, err = meter.Float64Histogram(
		"dns.query.duration",
		metric.WithDescription("DNS query processing duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	m.DNSQueriesActive, err = meter.Int64UpDownCounter(
		"dns.queries.active",
		metric.WithDescription("Queries currently being resolved"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active queries gauge: %w", err)
	}

	m.OverrideRecords, err = meter.Int64UpDownCounter(
		"override.records",
		metric.WithDescription("Record sets held by the override zone"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create override records gauge: %w", err)
	}

	return m, nil
}

// MeterProvider returns the meter provider
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// RecordQuery counts a finished query by outcome
func (m *Metrics) RecordQuery(ctx context.Context, source string, rcode int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.DNSQueriesTotal.Add(ctx, 1)
	switch source {
	case "override":
		m.DNSQueriesOverride.Add(ctx, 1)
	case "forward":
		m.DNSQueriesForwarded.Add(ctx, 1)
	}
	switch rcode {
	case 2: // SERVFAIL
		m.DNSQueriesServFail.Add(ctx, 1)
	case 3: // NXDOMAIN
		m.DNSQueriesNXDomain.Add(ctx, 1)
	}
	m.DNSQueryDuration.Record(ctx, float64(elapsed.Microseconds())/1000)
}

// QueryStarted tracks in-flight queries; call the returned func when done
func (m *Metrics) QueryStarted(ctx context.Context) func() {
	if m == nil {
		return func() {}
	}
	m.DNSQueriesActive.Add(ctx, 1)
	return func() { m.DNSQueriesActive.Add(ctx, -1) }
}

// AddUpstreamError counts an upstream failure of the given kind
func (m *Metrics) AddUpstreamError(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.UpstreamErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// AddMutation counts an applied (or dropped) mutation and moves the record gauge
func (m *Metrics) AddMutation(ctx context.Context, kind string, applied bool, setDelta int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	if !applied {
		m.MutationsDropped.Add(ctx, 1, attrs)
		return
	}
	m.MutationsApplied.Add(ctx, 1, attrs)
	if setDelta != 0 {
		m.OverrideRecords.Add(ctx, setDelta)
	}
}

// AddDroppedEntries implements storage.MetricsRecorder
func (m *Metrics) AddDroppedEntries(ctx context.Context, count int64) {
	if m == nil {
		return
	}
	m.StorageDropped.Add(ctx, count)
}

// TracerProvider returns the tracer provider
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	return t.tracerProvider
}

// Shutdown gracefully shuts down telemetry
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if t.prometheusServer != nil {
		if err := t.prometheusServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("prometheus server shutdown: %w", err))
		}
	}

	if provider, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		if err := provider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("telemetry shutdown: %w", err)
	}

	t.logger.Info("Telemetry shut down")
	return nil
}
