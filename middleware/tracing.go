package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/danthegoodman1/DurableSnake/workflow"
)

const tracerName = "github.com/danthegoodman1/DurableSnake"

// Tracing returns middleware that wraps each execution attempt in a span on
// the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
//
// Span attributes: durablesnake.workflow.id, durablesnake.workflow.type,
// durablesnake.queue, durablesnake.history_length, durablesnake.resumed,
// durablesnake.continued_from and, once the callback returns,
// durablesnake.outcome. Failed and timed out attempts mark the span as an
// error. Attempts that leave the instance open (lease lost, interrupted)
// add an event and keep the status unset.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, inst *workflow.Instance, next Handler) error {
		attrs := []attribute.KeyValue{
			attribute.String("durablesnake.workflow.id", inst.ID),
			attribute.String("durablesnake.workflow.type", inst.Type),
			attribute.String("durablesnake.queue", inst.Queue),
			attribute.Int64("durablesnake.history_length", inst.HistoryLength),
			attribute.Bool("durablesnake.resumed", inst.HistoryLength > 0),
		}
		if inst.ContinuedFrom != "" {
			attrs = append(attrs, attribute.String("durablesnake.continued_from", inst.ContinuedFrom))
		}
		ctx, span := tracer.Start(ctx, "durablesnake.workflow.execute",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)

		outcome := Classify(ctx, inst, err)
		span.SetAttributes(attribute.String("durablesnake.outcome", string(outcome)))
		switch outcome {
		case OutcomeFinished, OutcomeContinuedAsNew:
			span.SetStatus(codes.Ok, "")
		case OutcomeFailed, OutcomeTimedOut:
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		default:
			span.AddEvent(string(outcome), trace.WithAttributes(attribute.String("error", err.Error())))
		}
		return err
	}
}
