package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/danthegoodman1/DurableSnake/workflow"
)

// Timeout returns middleware that enforces the instance's execution
// timeout. The deadline is measured from StartedAt so that a resumed
// instance does not get a fresh budget; an instance that was never started
// is measured from now. When the deadline passes the handler's context is
// cancelled and it should return context.DeadlineExceeded.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inst *workflow.Instance, next Handler) error {
		if inst.Timeout > 0 {
			start := inst.StartedAt
			if start.IsZero() {
				start = time.Now()
			}
			deadline := start.Add(inst.Timeout)
			logger.Debug("workflow deadline set",
				slog.String("workflow_id", inst.ID),
				slog.Duration("timeout", inst.Timeout),
				slog.Time("deadline", deadline),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithDeadline(ctx, deadline)
			defer cancel()
		}
		return next(ctx)
	}
}
