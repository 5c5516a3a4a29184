package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/danthegoodman1/DurableSnake/workflow"
)

// Logging returns middleware that logs each execution attempt and how it
// ended. Failures log at Warn; the runner logs the terminal status itself.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inst *workflow.Instance, next Handler) error {
		log := logger.With(
			slog.String("workflow_type", inst.Type),
			slog.String("workflow_id", inst.ID),
		)
		log.Debug("workflow execution started",
			slog.String("queue", inst.Queue),
			slog.Int64("history_length", inst.HistoryLength),
		)

		start := time.Now()
		err := next(ctx)

		outcome := Classify(ctx, inst, err)
		attrs := []any{
			slog.String("outcome", string(outcome)),
			slog.Duration("elapsed", time.Since(start)),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		switch outcome {
		case OutcomeFailed, OutcomeTimedOut:
			log.Warn("workflow execution returned", attrs...)
		default:
			log.Info("workflow execution returned", attrs...)
		}
		return err
	}
}
