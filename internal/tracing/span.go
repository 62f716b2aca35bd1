package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartOperationSpan starts a span for a queue operation. Puts are producer
// spans and gets are consumer spans.
func StartOperationSpan(ctx context.Context, tracer trace.Tracer, operation, queue string) (context.Context, trace.Span) {
	kind := trace.SpanKindProducer
	if operation == "receive" {
		kind = trace.SpanKindConsumer
	}
	spanName := operation
	if queue != "" {
		spanName = operation + " " + queue
	}
	ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(kind))
	span.SetAttributes(
		attribute.String("messaging.system", "mqfire"),
		attribute.String("messaging.operation", operation),
	)
	if queue != "" {
		span.SetAttributes(attribute.String("messaging.destination.name", queue))
	}
	return ctx, span
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectProperties returns the W3C trace context of ctx as key/value pairs to
// carry in message properties.
func InjectProperties(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier
}

// ExtractProperties returns the span context a producer injected into
// message properties, if any.
func ExtractProperties(ctx context.Context, props map[string]string) trace.SpanContext {
	if len(props) == 0 {
		return trace.SpanContext{}
	}
	extracted := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(props))
	return trace.SpanContextFromContext(extracted)
}
