package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "sandboxer"

// StartTurnSpan starts a span for one chat turn.
func StartTurnSpan(ctx context.Context, sessionName string, resumed bool) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "turn",
		trace.WithAttributes(
			attribute.String("session.name", sessionName),
			attribute.Bool("turn.resumed", resumed),
		),
	)
}

// StartAttachSpan starts a span for a terminal attach.
func StartAttachSpan(ctx context.Context, sessionName string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "attach",
		trace.WithAttributes(
			attribute.String("session.name", sessionName),
		),
	)
}
