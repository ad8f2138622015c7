package audit

import (
	"context"
	"fmt"

	"github.com/itsneelabh/gateway/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// OTelConfig selects how the gateway's traces leave the process. An empty
// Endpoint means local/dev mode: traces print to stdout instead of
// shipping over OTLP, matching how this codebase already treats a missing
// collector endpoint as "local mode" rather than an error.
type OTelConfig struct {
	ServiceName string
	Endpoint    string // OTLP/gRPC collector address; empty = stdout exporter
}

// OTelTelemetry implements core.Telemetry on OTel trace and metric
// providers built once, with cached instruments and graceful shutdown:
// StartSpan opens a span on the tracer and RecordMetric records to a
// cached instrument. The only caller is TelemetrySink, which starts one
// span per audit payload from context.Background (so not a child of any
// request span) and records the audit_events_total counter; the rate
// limiter, breaker and router record no metrics through it.
type OTelTelemetry struct {
	tracer trace.Tracer
	meter  metric.Meter

	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider

	histograms map[string]metric.Float64Histogram
	counters   map[string]metric.Float64Counter
}

// NewOTelTelemetry builds trace and metric providers for serviceName. The
// metric provider uses a manual reader rather than a push exporter,
// avoiding an extra OTLP metrics dependency this module's teacher never
// carried — spans still ship via the trace exporter either way.
func NewOTelTelemetry(cfg OTelConfig) (*OTelTelemetry, error) {
	if cfg.ServiceName == "" {
		return nil, fmt.Errorf("audit: service name is required")
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(cfg.ServiceName),
	)

	traceExporter, err := newTraceExporter(cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)

	otel.SetTracerProvider(tp)

	core.SetTraceContextExtractor(func(ctx context.Context) (string, string) {
		sc := trace.SpanContextFromContext(ctx)
		if !sc.IsValid() {
			return "", ""
		}
		return sc.TraceID().String(), sc.SpanID().String()
	})

	return &OTelTelemetry{
		tracer:     tp.Tracer(cfg.ServiceName),
		meter:      mp.Meter(cfg.ServiceName),
		tp:         tp,
		mp:         mp,
		histograms: make(map[string]metric.Float64Histogram),
		counters:   make(map[string]metric.Float64Counter),
	}, nil
}

func newTraceExporter(cfg OTelConfig) (sdktrace.SpanExporter, error) {
	if cfg.Endpoint == "" {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	return otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
}

// StartSpan implements core.Telemetry.
func (o *OTelTelemetry) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := o.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric implements core.Telemetry, routing by name suffix the same
// way this codebase's existing OTel provider does: duration/latency
// measurements become histograms, counts become counters.
func (o *OTelTelemetry) RecordMetric(name string, value float64, labels map[string]string) {
	ctx := context.Background()
	attrs := attrsFromLabels(labels)

	switch {
	case hasSuffix(name, "duration_ms", "latency_ms", "_seconds"):
		o.histogram(name).Record(ctx, value, metric.WithAttributes(attrs...))
	default:
		o.counter(name).Add(ctx, value, metric.WithAttributes(attrs...))
	}
}

func (o *OTelTelemetry) histogram(name string) metric.Float64Histogram {
	if h, ok := o.histograms[name]; ok {
		return h
	}
	h, _ := o.meter.Float64Histogram(name)
	o.histograms[name] = h
	return h
}

func (o *OTelTelemetry) counter(name string) metric.Float64Counter {
	if c, ok := o.counters[name]; ok {
		return c
	}
	c, _ := o.meter.Float64Counter(name)
	o.counters[name] = c
	return c
}

// Shutdown flushes pending spans and tears down both providers.
func (o *OTelTelemetry) Shutdown(ctx context.Context) error {
	if err := o.tp.Shutdown(ctx); err != nil {
		return err
	}
	return o.mp.Shutdown(ctx)
}

func attrsFromLabels(labels map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

func hasSuffix(name string, suffixes ...string) bool {
	for _, s := range suffixes {
		if len(name) >= len(s) && name[len(name)-len(s):] == s {
			return true
		}
	}
	return false
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	s.span.RecordError(err)
}
