// Package middleware provides composable middleware for workflow execution.
// Middleware wraps the execution callback synchronously and can modify
// execution (recover from panics, enforce a deadline, log, trace, etc.).
package middleware

import (
	"context"

	"github.com/danthegoodman1/DurableSnake/workflow"
)

// Handler is the terminal function that runs the workflow callback.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the instance being executed, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, inst *workflow.Instance, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, inst *workflow.Instance, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, inst, prev)
			}
		}
		return h(ctx)
	}
}
