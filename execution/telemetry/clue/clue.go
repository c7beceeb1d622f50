// Package clue adapts the execution core's telemetry.Logger and
// telemetry.Tracer interfaces onto goa.design/clue and OpenTelemetry.
package clue

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	cluelog "goa.design/clue/log"

	"github.com/chaingraphlabs/chaingraph/execution/telemetry"
)

const tracerName = "github.com/chaingraphlabs/chaingraph/execution"

type (
	// Logger wraps goa.design/clue/log for execution-core logging.
	Logger struct{}

	// Tracer wraps an OTEL tracer for execution-core spans.
	Tracer struct {
		tracer trace.Tracer
	}

	// Metrics wraps an OTEL meter for execution-core instrumentation, an
	// alternative to telemetry/promtel for deployments that export metrics
	// through an OTLP collector instead of scraping Prometheus directly.
	Metrics struct {
		meter metric.Meter
	}

	span struct {
		span trace.Span
	}
)

// NewLogger constructs a telemetry.Logger that delegates to clue/log. The
// logger reads formatting/debug settings from the context, as set by
// log.Context and log.WithFormat/log.WithDebug at process startup.
func NewLogger() telemetry.Logger { return Logger{} }

// NewTracer constructs a telemetry.Tracer backed by the global OTEL
// TracerProvider. Configure the provider (e.g. via clue.ConfigureOpenTelemetry)
// before invoking execution-core methods.
func NewTracer() telemetry.Tracer {
	return &Tracer{tracer: otel.Tracer(tracerName)}
}

// NewMetrics constructs a telemetry.Metrics backed by the global OTEL
// MeterProvider. Configure the provider (e.g. via clue.ConfigureOpenTelemetry)
// before invoking execution-core methods.
func NewMetrics() telemetry.Metrics {
	return &Metrics{meter: otel.Meter(tracerName)}
}

// IncCounter increments a counter metric by value.
func (m *Metrics) IncCounter(name string, value float64, tags ...string) {
	counter, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

// RecordTimer records a duration on a histogram metric.
func (m *Metrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	histogram, err := m.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	histogram.Record(context.Background(), duration.Seconds(), metric.WithAttributes(tagsToAttrs(tags)...))
}

// RecordGauge records a point-in-time value. OTEL has no synchronous gauge
// instrument, so this uses a histogram named with a "_gauge" suffix as a
// stand-in.
func (m *Metrics) RecordGauge(name string, value float64, tags ...string) {
	histogram, err := m.meter.Float64Histogram(name + "_gauge")
	if err != nil {
		return
	}
	histogram.Record(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

func tagsToAttrs(tags []string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(tags); i += 2 {
		k := tags[i]
		v := ""
		if i+1 < len(tags) {
			v = tags[i+1]
		}
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

// Debug emits a debug-level log message with structured key-value pairs.
func (Logger) Debug(ctx context.Context, msg string, keyvals ...any) {
	cluelog.Debug(ctx, fielders(msg, keyvals)...)
}

// Info emits an info-level log message with structured key-value pairs.
func (Logger) Info(ctx context.Context, msg string, keyvals ...any) {
	cluelog.Info(ctx, fielders(msg, keyvals)...)
}

// Warn emits a warning-level log message with structured key-value pairs.
func (Logger) Warn(ctx context.Context, msg string, keyvals ...any) {
	fs := append(fielders(msg, keyvals), cluelog.KV{K: "severity", V: "warning"})
	cluelog.Warn(ctx, fs...)
}

// Error emits an error-level log message with structured key-value pairs.
func (Logger) Error(ctx context.Context, msg string, keyvals ...any) {
	cluelog.Error(ctx, nil, fielders(msg, keyvals)...)
}

// Start creates a new span with the given name, returning a child context
// and the span handle.
func (t *Tracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, telemetry.Span) {
	newCtx, s := t.tracer.Start(ctx, name, opts...)
	return newCtx, &span{span: s}
}

// Span retrieves the current span from the context.
func (t *Tracer) Span(ctx context.Context) telemetry.Span {
	return &span{span: trace.SpanFromContext(ctx)}
}

func (s *span) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s *span) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name, trace.WithAttributes(kvToAttrs(attrs)...))
}

func (s *span) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s *span) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

// fielders converts a message plus variadic key-value pairs (k1, v1, k2,
// v2, ...) into clue's log.Fielder slice. A dangling key without a value is
// paired with nil. Non-string keys are skipped.
func fielders(msg string, keyvals []any) []cluelog.Fielder {
	fs := []cluelog.Fielder{cluelog.KV{K: "msg", V: msg}}
	for i := 0; i < len(keyvals); i += 2 {
		k, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		fs = append(fs, cluelog.KV{K: k, V: v})
	}
	return fs
}

func kvToAttrs(keyvals []any) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for i := 0; i < len(keyvals); i += 2 {
		k, ok := keyvals[i].(string)
		if !ok {
			k = ""
		}
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, ""))
		}
	}
	return attrs
}
