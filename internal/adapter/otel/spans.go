package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tiller"

// StartExecuteSpan starts a span for an action execution.
func StartExecuteSpan(ctx context.Context, actionID, actionType, mode string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "execute",
		trace.WithAttributes(
			attribute.String("action.id", actionID),
			attribute.String("action.type", actionType),
			attribute.String("action.mode", mode),
		),
	)
}

// StartUndoSpan starts a span for an undo request.
func StartUndoSpan(ctx context.Context, actionID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "undo",
		trace.WithAttributes(
			attribute.String("action.id", actionID),
		),
	)
}

// StartSweepSpan starts a span for one sweeper pass.
func StartSweepSpan(ctx context.Context) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "undo_sweep")
}
