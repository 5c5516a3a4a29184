package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/danthegoodman1/DurableSnake/history"
	"github.com/danthegoodman1/DurableSnake/lease"
	"github.com/danthegoodman1/DurableSnake/workflow"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type leaseAcquiredEntry struct {
	name string
	hook LeaseAcquired
}

type leaseRefusedEntry struct {
	name string
	hook LeaseRefused
}

type leaseExtendedEntry struct {
	name string
	hook LeaseExtended
}

type leaseLostEntry struct {
	name string
	hook LeaseLost
}

type workflowStartedEntry struct {
	name string
	hook WorkflowStarted
}

type eventAppendedEntry struct {
	name string
	hook EventAppended
}

type workflowClosedEntry struct {
	name string
	hook WorkflowClosed
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register must complete before the runner starts; emits are then safe
// from any goroutine.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	leaseAcquired   []leaseAcquiredEntry
	leaseRefused    []leaseRefusedEntry
	leaseExtended   []leaseExtendedEntry
	leaseLost       []leaseLostEntry
	workflowStarted []workflowStartedEntry
	eventAppended   []eventAppendedEntry
	workflowClosed  []workflowClosedEntry
	shutdown        []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(LeaseAcquired); ok {
		r.leaseAcquired = append(r.leaseAcquired, leaseAcquiredEntry{name, h})
	}
	if h, ok := e.(LeaseRefused); ok {
		r.leaseRefused = append(r.leaseRefused, leaseRefusedEntry{name, h})
	}
	if h, ok := e.(LeaseExtended); ok {
		r.leaseExtended = append(r.leaseExtended, leaseExtendedEntry{name, h})
	}
	if h, ok := e.(LeaseLost); ok {
		r.leaseLost = append(r.leaseLost, leaseLostEntry{name, h})
	}
	if h, ok := e.(WorkflowStarted); ok {
		r.workflowStarted = append(r.workflowStarted, workflowStartedEntry{name, h})
	}
	if h, ok := e.(EventAppended); ok {
		r.eventAppended = append(r.eventAppended, eventAppendedEntry{name, h})
	}
	if h, ok := e.(WorkflowClosed); ok {
		r.workflowClosed = append(r.workflowClosed, workflowClosedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Lease event emitters
// ──────────────────────────────────────────────────

// EmitLeaseAcquired notifies all extensions that implement LeaseAcquired.
func (r *Registry) EmitLeaseAcquired(ctx context.Context, l lease.Lock, claim Claim) {
	for _, e := range r.leaseAcquired {
		if err := e.hook.OnLeaseAcquired(ctx, l, claim); err != nil {
			r.logHookError("OnLeaseAcquired", e.name, err)
		}
	}
}

// EmitLeaseRefused notifies all extensions that implement LeaseRefused.
func (r *Registry) EmitLeaseRefused(ctx context.Context, workflowID string, claim Claim) {
	for _, e := range r.leaseRefused {
		if err := e.hook.OnLeaseRefused(ctx, workflowID, claim); err != nil {
			r.logHookError("OnLeaseRefused", e.name, err)
		}
	}
}

// EmitLeaseExtended notifies all extensions that implement LeaseExtended.
func (r *Registry) EmitLeaseExtended(ctx context.Context, l lease.Lock) {
	for _, e := range r.leaseExtended {
		if err := e.hook.OnLeaseExtended(ctx, l); err != nil {
			r.logHookError("OnLeaseExtended", e.name, err)
		}
	}
}

// EmitLeaseLost notifies all extensions that implement LeaseLost.
func (r *Registry) EmitLeaseLost(ctx context.Context, l lease.Lock, reason error) {
	for _, e := range r.leaseLost {
		if err := e.hook.OnLeaseLost(ctx, l, reason); err != nil {
			r.logHookError("OnLeaseLost", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Workflow event emitters
// ──────────────────────────────────────────────────

// EmitWorkflowStarted notifies all extensions that implement WorkflowStarted.
func (r *Registry) EmitWorkflowStarted(ctx context.Context, inst *workflow.Instance, l lease.Lock) {
	for _, e := range r.workflowStarted {
		if err := e.hook.OnWorkflowStarted(ctx, inst, l); err != nil {
			r.logHookError("OnWorkflowStarted", e.name, err)
		}
	}
}

// EmitEventAppended notifies all extensions that implement EventAppended.
func (r *Registry) EmitEventAppended(ctx context.Context, ev *history.Event) {
	for _, e := range r.eventAppended {
		if err := e.hook.OnEventAppended(ctx, ev); err != nil {
			r.logHookError("OnEventAppended", e.name, err)
		}
	}
}

// EmitWorkflowClosed notifies all extensions that implement WorkflowClosed.
func (r *Registry) EmitWorkflowClosed(ctx context.Context, inst *workflow.Instance, elapsed time.Duration) {
	for _, e := range r.workflowClosed {
		if err := e.hook.OnWorkflowClosed(ctx, inst, elapsed); err != nil {
			r.logHookError("OnWorkflowClosed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
