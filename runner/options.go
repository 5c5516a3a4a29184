package runner

import (
	"log/slog"
	"time"

	"github.com/danthegoodman1/DurableSnake/backoff"
	"github.com/danthegoodman1/DurableSnake/ext"
	"github.com/danthegoodman1/DurableSnake/middleware"
	"github.com/danthegoodman1/DurableSnake/workflow"
)

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger for the runner and its lease manager.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithMiddleware appends middleware around every workflow callback. The
// runner always adds panic recovery and the instance timeout inside them.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(r *Runner) { r.mws = append(r.mws, mws...) }
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(r *Runner) { r.pendingExts = append(r.pendingExts, e) }
}

// WithBackoff sets the strategy used to space out retries of transient
// backend failures.
func WithBackoff(s backoff.Strategy) Option {
	return func(r *Runner) { r.backoff = s }
}

// WithContinuePolicy sets the policy reported to workflows through
// Execution.ShouldContinueAsNew.
func WithContinuePolicy(p workflow.ContinuePolicy) Option {
	return func(r *Runner) { r.policy = p }
}

// WithClock sets the runner's time source. Tests use it together with a
// store whose clock is driven the same way.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithReleaseTimeout bounds each lease handover write made during
// shutdown.
func WithReleaseTimeout(d time.Duration) Option {
	return func(r *Runner) { r.releaseTimeout = d }
}
