package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the DizAí tracer.
const tracerName = "github.com/MrWong99/dizai"

// Span attribute keys set on exercise generation and pronunciation analysis
// spans.
const (
	AttrProfile       = attribute.Key("dizai.profile")
	AttrTheme         = attribute.Key("dizai.theme")
	AttrExerciseSetID = attribute.Key("dizai.exercise_set_id")
	AttrExerciseID    = attribute.Key("dizai.exercise_id")
	AttrOutcome       = attribute.Key("dizai.outcome")
)

// Tracer returns the DizAí tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// FailSpan records err on span and marks it failed. The outcome attribute
// carries a short label for dashboards ("timeout", "transcription", ...).
// A nil err leaves the span untouched.
func FailSpan(span trace.Span, outcome string, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(AttrOutcome.String(outcome))
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
// The same value is sent to clients in the X-Correlation-ID header.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger, enriched with trace_id and span_id when
// ctx carries a span.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
