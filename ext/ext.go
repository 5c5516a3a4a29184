// Package ext defines the extension system for durablesnake.
// Extensions are notified of lease and workflow lifecycle events (lease
// acquired, lost, workflow closed, etc.) and can react to them with
// logging, metrics or tracing.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/danthegoodman1/DurableSnake/history"
	"github.com/danthegoodman1/DurableSnake/lease"
	"github.com/danthegoodman1/DurableSnake/workflow"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// Claim names the path through which a runner tried to take a lease.
type Claim string

const (
	// ClaimPending is a fresh claim on a pending instance.
	ClaimPending Claim = "pending"
	// ClaimRecovered is a startup claim on a lease previously held by the
	// same runner.
	ClaimRecovered Claim = "recovered"
	// ClaimReclaimed is a claim on a lease whose holder let it expire.
	ClaimReclaimed Claim = "reclaimed"
)

// ──────────────────────────────────────────────────
// Lease lifecycle hooks
// ──────────────────────────────────────────────────

// LeaseAcquired is called after a runner is granted a lease.
type LeaseAcquired interface {
	OnLeaseAcquired(ctx context.Context, l lease.Lock, claim Claim) error
}

// LeaseRefused is called when a claim is refused because another runner
// holds the lease.
type LeaseRefused interface {
	OnLeaseRefused(ctx context.Context, workflowID string, claim Claim) error
}

// LeaseExtended is called after an owned lease is renewed.
type LeaseExtended interface {
	OnLeaseExtended(ctx context.Context, l lease.Lock) error
}

// LeaseLost is called when a runner involuntarily loses a lease it held.
type LeaseLost interface {
	OnLeaseLost(ctx context.Context, l lease.Lock, reason error) error
}

// ──────────────────────────────────────────────────
// Workflow lifecycle hooks
// ──────────────────────────────────────────────────

// WorkflowStarted is called when an execution loop begins driving an
// instance.
type WorkflowStarted interface {
	OnWorkflowStarted(ctx context.Context, inst *workflow.Instance, l lease.Lock) error
}

// EventAppended is called after an event is committed to history.
type EventAppended interface {
	OnEventAppended(ctx context.Context, e *history.Event) error
}

// WorkflowClosed is called after an instance reaches a terminal status.
// The instance's Status and Error describe the outcome.
type WorkflowClosed interface {
	OnWorkflowClosed(ctx context.Context, inst *workflow.Instance, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
