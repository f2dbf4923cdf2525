package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "reactor"

// StartReactorSpan starts a span for a reactor stage ("initialize" or "start").
func StartReactorSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "reactor."+stage)
}

// StartPrepareSpan starts a span for preparing one agent.
func StartPrepareSpan(ctx context.Context, agentID, agentName string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "agent.prepare",
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("agent.name", agentName),
		),
	)
}

// StartMessageSpan starts a span for saving a message.
func StartMessageSpan(ctx context.Context, messageType, from string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "message.save",
		trace.WithAttributes(
			attribute.String("message.type", messageType),
			attribute.String("message.from", from),
		),
	)
}
