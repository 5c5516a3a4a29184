// Package middleware provides composable middleware for workflow execution.
//
// A [Middleware] is a function that wraps the execution callback of one
// workflow instance. Middleware are composed into a chain using [Chain] and
// applied each time an execution loop invokes the callback. They are
// applied right-to-left: the first middleware in the slice is the outermost
// wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging]: logs each attempt with its [Outcome] and duration
//   - [Recover]: catches panics and converts them to errors
//   - [Timeout]: cancels the callback context at StartedAt + Timeout
//   - [Tracing]: wraps execution in an OpenTelemetry span
//   - [Metrics]: records per-attempt duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, inst *workflow.Instance, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
