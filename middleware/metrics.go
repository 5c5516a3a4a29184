package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/danthegoodman1/DurableSnake/workflow"
)

const meterName = "github.com/danthegoodman1/DurableSnake"

// Metrics returns middleware that records per-attempt metrics on the global
// MeterProvider.
//
// Instruments:
//   - durablesnake.execution.duration (Float64Histogram): seconds spent in
//     the callback, by workflow_type, queue and outcome
//   - durablesnake.executions (Int64Counter): callback invocations, by
//     workflow_type, queue, outcome and resumed ("true" when the attempt
//     picked up an existing history)
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"durablesnake.execution.duration",
		metric.WithDescription("Duration of workflow callback execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"durablesnake.executions",
		metric.WithDescription("Workflow callback executions"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, inst *workflow.Instance, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		outcome := Classify(ctx, inst, err)
		base := []attribute.KeyValue{
			attribute.String("workflow_type", inst.Type),
			attribute.String("queue", inst.Queue),
			attribute.String("outcome", string(outcome)),
		}
		duration.Record(ctx, elapsed, metric.WithAttributes(base...))
		executions.Add(ctx, 1, metric.WithAttributes(
			append(base, attribute.Bool("resumed", inst.HistoryLength > 0))...,
		))
		return err
	}
}
