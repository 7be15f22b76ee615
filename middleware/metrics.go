package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cadencehq/cadence/item"
)

// meterName is the instrumentation scope name for cadence metrics.
const meterName = "github.com/cadencehq/cadence"

// Metrics returns middleware that records per-item processing metrics
// using the global OTel MeterProvider. If no MeterProvider is
// configured, noop instruments are used and this middleware becomes a
// pass-through.
//
// Instruments:
//   - cadence.item.duration (Float64Histogram): processing time in
//     seconds, with attributes: campaign_id, step_key, status ("ok" or "error")
//   - cadence.item.deliveries (Int64Counter): total processing runs,
//     with attributes: campaign_id, step_key, status ("ok" or "error")
func Metrics() Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Create instruments once at middleware construction time.
	// OTel instruments are safe for concurrent use. On error, the API
	// returns noop instruments so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"cadence.item.duration",
		metric.WithDescription("Duration of work item processing in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	deliveries, cErr := meter.Int64Counter(
		"cadence.item.deliveries",
		metric.WithDescription("Total number of work item processing runs"),
		metric.WithUnit("{delivery}"),
	)
	_ = cErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, it *item.Item, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("campaign_id", it.CampaignID.String()),
			attribute.String("step_key", it.StepKey),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		deliveries.Add(ctx, 1, attrs)

		return err
	}
}
