package audithook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/danthegoodman1/DurableSnake/ext"
	"github.com/danthegoodman1/DurableSnake/lease"
	"github.com/danthegoodman1/DurableSnake/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension       = (*Extension)(nil)
	_ ext.LeaseAcquired   = (*Extension)(nil)
	_ ext.LeaseRefused    = (*Extension)(nil)
	_ ext.LeaseExtended   = (*Extension)(nil)
	_ ext.LeaseLost       = (*Extension)(nil)
	_ ext.WorkflowStarted = (*Extension)(nil)
	_ ext.WorkflowClosed  = (*Extension)(nil)
	_ ext.Shutdown        = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// LogRecorder writes audit events to logger, one record per event, at a
// level derived from the event severity.
func LogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("category", evt.Category),
			slog.String("outcome", evt.Outcome),
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		meta := make([]any, 0, len(evt.Metadata))
		for k, v := range evt.Metadata {
			meta = append(meta, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("metadata", meta...))
		logger.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges lease and workflow lifecycle events to an audit trail
// backend. Each lifecycle hook emits a structured audit event through the
// [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool
	runnerID string
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided
// Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	WithActions(DefaultActions()...)(e)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Lease lifecycle hooks ───────────────────────────

// OnLeaseAcquired implements ext.LeaseAcquired.
func (e *Extension) OnLeaseAcquired(ctx context.Context, l lease.Lock, claim ext.Claim) error {
	return e.record(ctx, ActionLeaseAcquired, SeverityInfo, OutcomeSuccess,
		ResourceLease, l.WorkflowID, CategoryLease, nil,
		"claim", string(claim),
		"epoch", l.Epoch,
		"holder", l.RunnerID,
		"expires_at", l.ExpiresAt.Format(time.RFC3339Nano),
	)
}

// OnLeaseRefused implements ext.LeaseRefused.
func (e *Extension) OnLeaseRefused(ctx context.Context, workflowID string, claim ext.Claim) error {
	return e.record(ctx, ActionLeaseRefused, SeverityWarning, OutcomeFailure,
		ResourceLease, workflowID, CategoryLease, nil,
		"claim", string(claim),
	)
}

// OnLeaseExtended implements ext.LeaseExtended.
func (e *Extension) OnLeaseExtended(ctx context.Context, l lease.Lock) error {
	return e.record(ctx, ActionLeaseExtended, SeverityInfo, OutcomeSuccess,
		ResourceLease, l.WorkflowID, CategoryLease, nil,
		"epoch", l.Epoch,
		"expires_at", l.ExpiresAt.Format(time.RFC3339Nano),
	)
}

// OnLeaseLost implements ext.LeaseLost.
func (e *Extension) OnLeaseLost(ctx context.Context, l lease.Lock, reason error) error {
	return e.record(ctx, ActionLeaseLost, SeverityCritical, OutcomeFailure,
		ResourceLease, l.WorkflowID, CategoryLease, reason,
		"epoch", l.Epoch,
	)
}

// ── Workflow lifecycle hooks ────────────────────────

// OnWorkflowStarted implements ext.WorkflowStarted.
func (e *Extension) OnWorkflowStarted(ctx context.Context, inst *workflow.Instance, l lease.Lock) error {
	return e.record(ctx, ActionWorkflowStarted, SeverityInfo, OutcomeSuccess,
		ResourceWorkflow, inst.ID, CategoryWorkflow, nil,
		"workflow_type", inst.Type,
		"queue", inst.Queue,
		"epoch", l.Epoch,
		"history_length", inst.HistoryLength,
	)
}

// OnWorkflowClosed implements ext.WorkflowClosed.
func (e *Extension) OnWorkflowClosed(ctx context.Context, inst *workflow.Instance, elapsed time.Duration) error {
	severity, outcome := SeverityInfo, OutcomeSuccess
	var err error
	switch inst.Status {
	case workflow.StatusFailed, workflow.StatusTimedOut:
		severity, outcome = SeverityCritical, OutcomeFailure
		err = closeReason(inst)
	case workflow.StatusCancelled:
		severity, outcome = SeverityWarning, OutcomeFailure
		err = closeReason(inst)
	}
	return e.record(ctx, ActionWorkflowClosed, severity, outcome,
		ResourceWorkflow, inst.ID, CategoryWorkflow, err,
		"workflow_type", inst.Type,
		"status", string(inst.Status),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// ── Runner lifecycle hooks ──────────────────────────

// OnShutdown implements ext.Shutdown.
func (e *Extension) OnShutdown(ctx context.Context) error {
	return e.record(ctx, ActionRunnerShutdown, SeverityInfo, OutcomeSuccess,
		ResourceRunner, e.runnerID, CategoryRunner, nil,
	)
}

// ── Internal helpers ────────────────────────────────

func closeReason(inst *workflow.Instance) error {
	if inst.Error == "" {
		return nil
	}
	return errors.New(inst.Error)
}

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}
	if e.runnerID != "" {
		meta["runner_id"] = e.runnerID
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
