package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/MrWong99/streamplay"

// StartSpan starts a span on the global tracer provider. End it when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentation).Start(ctx, name, opts...)
}

// StartStream starts the span covering one utterance stream. side names the
// end of the connection ("relay" or "transport") and becomes the span name
// prefix.
func StartStream(ctx context.Context, side, voice string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append([]attribute.KeyValue{attribute.String("voice", voice)}, attrs...)
	return StartSpan(ctx, side+".stream", trace.WithAttributes(attrs...))
}

// EndStream records how many chunks and bytes a stream carried, marks the
// span failed when err is non-nil and ends it.
func EndStream(span trace.Span, chunks int, bytes int64, err error) {
	span.SetAttributes(
		attribute.Int("chunks", chunks),
		attribute.Int64("bytes", bytes),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CorrelationID is the trace ID of the span in ctx as sent in the
// X-Correlation-ID header, or "".
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// LoggerFrom returns l tagged with the correlation and span IDs of ctx. A nil
// l means [slog.Default]. Without a span l is returned unchanged.
func LoggerFrom(ctx context.Context, l *slog.Logger) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return l
	}
	return l.With(
		slog.String("correlation_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
