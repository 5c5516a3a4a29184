package runner

import "time"

// State is where a workflow stands from this runner's point of view.
type State string

const (
	// StateUnclaimed means the runner has no claim on the workflow. It is
	// never reported by Owned.
	StateUnclaimed State = "unclaimed"
	// StateAcquiring means a lease request is in flight.
	StateAcquiring State = "acquiring"
	// StateOwned means the runner holds the lease and an execution loop is
	// running.
	StateOwned State = "owned"
	// StateReleasing means the lease is being handed over.
	StateReleasing State = "releasing"
	// StateExpired means the lease was lost and the execution loop is
	// winding down without further writes.
	StateExpired State = "expired"
)

// TaskInfo is a read-only snapshot of one tracked workflow.
type TaskInfo struct {
	WorkflowID string    `json:"workflow_id"`
	State      State     `json:"state"`
	Epoch      int64     `json:"epoch"`
	ExpiresAt  time.Time `json:"expires_at"`
	Since      time.Time `json:"since"`
}
