package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName matches meterName so spans and metrics share one
// instrumentation scope.
const tracerName = "github.com/tan-res-space/rag-interface-sub006"

// Tracer returns the verification core's [trace.Tracer] from the globally
// registered provider set up by [InitProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan opens a span on the shared tracer. The processor wraps each
// correction event in one, and the HTTP middleware wraps each request, so
// the two paths carry comparable trace context. The caller must call
// span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the active trace ID, or "" when ctx carries no
// recording span. The middleware echoes it as X-Correlation-ID so clients
// can quote it in support requests.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default [slog.Logger] enriched with trace_id and
// span_id from ctx, letting handler and processor log lines be joined to
// their trace. Without an active span it is just slog.Default().
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
