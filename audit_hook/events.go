package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionLeaseAcquired   = "lease.acquired"
	ActionLeaseRefused    = "lease.refused"
	ActionLeaseExtended   = "lease.extended"
	ActionLeaseLost       = "lease.lost"
	ActionWorkflowStarted = "workflow.started"
	ActionWorkflowClosed  = "workflow.closed"
	ActionRunnerShutdown  = "runner.shutdown"
)

// Audit event categories group related actions.
const (
	CategoryLease    = "durablesnake.lease"
	CategoryWorkflow = "durablesnake.workflow"
	CategoryRunner   = "durablesnake.runner"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceLease    = "workflow_lease"
	ResourceWorkflow = "workflow_instance"
	ResourceRunner   = "runner"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionLeaseAcquired,
		ActionLeaseRefused,
		ActionLeaseExtended,
		ActionLeaseLost,
		ActionWorkflowStarted,
		ActionWorkflowClosed,
		ActionRunnerShutdown,
	}
}

// DefaultActions returns the actions emitted when WithActions is not used.
// Lease extensions are left out; they fire every renewal interval.
func DefaultActions() []string {
	return []string{
		ActionLeaseAcquired,
		ActionLeaseRefused,
		ActionLeaseLost,
		ActionWorkflowStarted,
		ActionWorkflowClosed,
		ActionRunnerShutdown,
	}
}
