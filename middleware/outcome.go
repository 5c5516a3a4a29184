package middleware

import (
	"context"
	"errors"

	durablesnake "github.com/danthegoodman1/DurableSnake"
	"github.com/danthegoodman1/DurableSnake/workflow"
)

// Outcome classifies what a callback's return means for the instance.
type Outcome string

const (
	OutcomeFinished       Outcome = "finished"
	OutcomeContinuedAsNew Outcome = "continued_as_new"
	OutcomeCancelled      Outcome = "cancelled"
	OutcomeTimedOut       Outcome = "timed_out"
	OutcomeFailed         Outcome = "failed"
	// OutcomeLeaseLost means the runner lost the lease mid-execution and
	// the instance stays open for another runner.
	OutcomeLeaseLost Outcome = "lease_lost"
	// OutcomeInterrupted means the runner stopped the callback to hand the
	// instance over on shutdown.
	OutcomeInterrupted Outcome = "interrupted"
)

// Closes reports whether the outcome moves the instance to a terminal
// status.
func (o Outcome) Closes() bool {
	return o != OutcomeLeaseLost && o != OutcomeInterrupted
}

// Classify maps a callback result to its Outcome. ctx is the context the
// callback ran under; its cause distinguishes lease loss from shutdown. A
// context.Canceled the callback produced on its own while ctx is still live
// counts as a failure.
func Classify(ctx context.Context, inst *workflow.Instance, err error) Outcome {
	if _, ok := workflow.AsContinueAsNew(err); ok {
		return OutcomeContinuedAsNew
	}
	switch {
	case err == nil:
		return OutcomeFinished
	case errors.Is(err, durablesnake.ErrLeaseLost),
		errors.Is(context.Cause(ctx), durablesnake.ErrLeaseLost):
		return OutcomeLeaseLost
	case errors.Is(err, durablesnake.ErrCancelled):
		return OutcomeCancelled
	case inst.Timeout > 0 && errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimedOut
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return OutcomeInterrupted
	default:
		return OutcomeFailed
	}
}
