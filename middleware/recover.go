package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/danthegoodman1/DurableSnake/workflow"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, inst *workflow.Instance, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("workflow handler panicked",
					slog.String("workflow_type", inst.Type),
					slog.String("workflow_id", inst.ID),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic in workflow %s: %v", inst.Type, r)
			}
		}()
		return next(ctx)
	}
}
