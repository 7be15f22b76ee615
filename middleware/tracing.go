package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cadencehq/cadence/item"
)

// tracerName is the instrumentation scope name for cadence tracing.
const tracerName = "github.com/cadencehq/cadence"

// Tracing returns middleware that wraps item processing in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a
// pass-through with zero overhead.
//
// Span attributes include: cadence.item.id, cadence.campaign.id,
// cadence.step_key, cadence.attempt. On error, the span status is set
// to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided
// tracer. This variant allows injecting a specific TracerProvider for
// testing or when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, it *item.Item, next Handler) error {
		ctx, span := tracer.Start(ctx, "cadence.item.deliver",
			trace.WithAttributes(
				attribute.String("cadence.item.id", it.ID.String()),
				attribute.String("cadence.campaign.id", it.CampaignID.String()),
				attribute.String("cadence.step_key", it.StepKey),
				attribute.Int("cadence.attempt", it.AttemptCount+1),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
