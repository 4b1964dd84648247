package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/babelcall"

// StartSpan starts a span on the global babelcall tracer. The caller ends it,
// usually through [EndSpan].
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// EndSpan records err on span, if non-nil, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// ── Turn tagging ─────────────────────────────────────────────────────────────

type turnKey struct{}

type turnTag struct {
	session string
	seq     uint64
}

// WithTurn tags ctx with the call session and turn a pipeline step works
// for. [Logger] adds both to every record made under ctx.
func WithTurn(ctx context.Context, session string, seq uint64) context.Context {
	return context.WithValue(ctx, turnKey{}, turnTag{session: session, seq: seq})
}

// TurnFrom returns the tag set by [WithTurn].
func TurnFrom(ctx context.Context) (session string, seq uint64, ok bool) {
	tag, ok := ctx.Value(turnKey{}).(turnTag)
	return tag.session, tag.seq, ok
}

// StartTurnSpan tags ctx with the turn and opens the span that parents every
// backend call the turn makes.
func StartTurnSpan(ctx context.Context, session string, seq uint64) (context.Context, trace.Span) {
	ctx = WithTurn(ctx, session, seq)
	return StartSpan(ctx, "orchestrator.Turn", trace.WithAttributes(
		attribute.String("session_id", session),
		attribute.Int64("turn", int64(seq)),
	))
}

// CorrelationID returns the trace ID of the span in ctx, or "" when there is
// none. It is echoed to HTTP clients as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger enriched with the trace of ctx and the
// turn tag, when present.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if session, seq, ok := TurnFrom(ctx); ok {
		l = l.With(slog.String("session_id", session), slog.Uint64("turn", seq))
	}
	return l
}
