package history

import (
	"fmt"
	"time"
)

// Type identifies what an Event records.
type Type string

const (
	TypeWorkflowStarted        Type = "workflow_started"
	TypeWorkflowFinished       Type = "workflow_finished"
	TypeWorkflowContinuedAsNew Type = "workflow_continued_as_new"
	TypeWorkflowTerminated     Type = "workflow_terminated"
	TypeWorkflowCanceled       Type = "workflow_canceled"
	TypeWorkflowFailed         Type = "workflow_failed"
	TypeWorkflowTimedOut       Type = "workflow_timed_out"
	TypeChildWorkflowScheduled Type = "child_workflow_scheduled"
	TypeChildWorkflowCompleted Type = "child_workflow_completed"
	TypeChildWorkflowFailed    Type = "child_workflow_failed"
	TypeActivityStarted        Type = "activity_started"
	TypeActivityCompleted      Type = "activity_completed"
	TypeActivityFailed         Type = "activity_failed"
	TypeActivityTimedOut       Type = "activity_timed_out"
	TypeTimerScheduled         Type = "timer_scheduled"
	TypeTimerFired             Type = "timer_fired"
	TypeTimerCanceled          Type = "timer_canceled"
	TypeSignalReceived         Type = "signal_received"
	TypeSideEffectResult       Type = "side_effect_result"
	TypeVersionMarker          Type = "version_marker"
)

var validTypes = map[Type]struct{}{
	TypeWorkflowStarted:        {},
	TypeWorkflowFinished:       {},
	TypeWorkflowContinuedAsNew: {},
	TypeWorkflowTerminated:     {},
	TypeWorkflowCanceled:       {},
	TypeWorkflowFailed:         {},
	TypeWorkflowTimedOut:       {},
	TypeChildWorkflowScheduled: {},
	TypeChildWorkflowCompleted: {},
	TypeChildWorkflowFailed:    {},
	TypeActivityStarted:        {},
	TypeActivityCompleted:      {},
	TypeActivityFailed:         {},
	TypeActivityTimedOut:       {},
	TypeTimerScheduled:         {},
	TypeTimerFired:             {},
	TypeTimerCanceled:          {},
	TypeSignalReceived:         {},
	TypeSideEffectResult:       {},
	TypeVersionMarker:          {},
}

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	_, ok := validTypes[t]
	return ok
}

// Terminal reports whether t closes a workflow's history.
func (t Type) Terminal() bool {
	switch t {
	case TypeWorkflowFinished, TypeWorkflowContinuedAsNew, TypeWorkflowTerminated,
		TypeWorkflowCanceled, TypeWorkflowFailed, TypeWorkflowTimedOut:
		return true
	default:
		return false
	}
}

// Event is one immutable fact in a workflow's history.
type Event struct {
	WorkflowID string    `json:"workflow_id"`
	SequenceID int64     `json:"sequence_id"`
	Type       Type      `json:"type"`
	Epoch      int64     `json:"epoch"`
	RunnerID   string    `json:"runner_id"`
	Payload    []byte    `json:"payload,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Size returns the number of bytes the event contributes to an instance's
// history_bytes counter.
func (e *Event) Size() int64 {
	return int64(len(e.Payload))
}

// String implements fmt.Stringer.
func (e *Event) String() string {
	return fmt.Sprintf("%s#%d %s", e.WorkflowID, e.SequenceID, e.Type)
}
