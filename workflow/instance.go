package workflow

import (
	"fmt"
	"time"

	durablesnake "github.com/danthegoodman1/DurableSnake"
)

// Status represents the lifecycle state of a workflow instance.
type Status string

const (
	// StatusPending means the instance waits for a runner to claim it.
	StatusPending Status = "pending"
	// StatusRunning means a runner has claimed the instance.
	StatusRunning Status = "running"
	// StatusTerminated means the workflow finished.
	StatusTerminated Status = "terminated"
	// StatusContinuedAsNew means the instance closed and a successor took
	// over its work.
	StatusContinuedAsNew Status = "continued_as_new"
	// StatusCancelled means the workflow was cancelled.
	StatusCancelled Status = "cancelled"
	// StatusFailed means the workflow's own logic failed.
	StatusFailed Status = "failed"
	// StatusTimedOut means the instance exceeded its execution timeout.
	StatusTimedOut Status = "timed_out"
)

// Terminal reports whether s is a closing status.
func (s Status) Terminal() bool {
	switch s {
	case StatusTerminated, StatusContinuedAsNew, StatusCancelled, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusRunning || s.Terminal()
}

// CanTransition reports whether an instance may move from one status to
// another. Open instances may be rewritten without a status change;
// terminal instances never move again.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusPending || to == StatusRunning || to == StatusCancelled
	case StatusRunning:
		return to == StatusRunning || to.Terminal()
	default:
		return false
	}
}

// CheckTransition returns ErrInvalidTransition when CanTransition is false.
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s → %s", durablesnake.ErrInvalidTransition, from, to)
	}
	return nil
}

// Instance is the identity and lifecycle metadata of one workflow run.
type Instance struct {
	ID            string        `json:"id"`
	Type          string        `json:"type"`
	Status        Status        `json:"status"`
	Queue         string        `json:"queue"`
	ParentID      string        `json:"parent_id,omitempty"`
	ContinuedFrom string        `json:"continued_from,omitempty"`
	Input         []byte        `json:"input,omitempty"`
	Output        []byte        `json:"output,omitempty"`
	Error         string        `json:"error,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	HistoryLength int64         `json:"history_length"`
	HistoryBytes  int64         `json:"history_bytes"`
	CreatedAt     time.Time     `json:"created_at"`
	StartedAt     time.Time     `json:"started_at"`
	ClosedAt      time.Time     `json:"closed_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Closed reports whether the instance has reached a terminal status.
func (i *Instance) Closed() bool { return i.Status.Terminal() }

// Clone returns a deep copy of the instance.
func (i *Instance) Clone() *Instance {
	cp := *i
	cp.Input = cloneBytes(i.Input)
	cp.Output = cloneBytes(i.Output)
	return &cp
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
