package history

import (
	"context"

	"github.com/danthegoodman1/DurableSnake/lease"
)

// Store defines the persistence contract for workflow event histories.
type Store interface {
	// AppendEvent inserts e if lock still matches the live, unexpired lock
	// row for e.WorkflowID. A stale lock yields false and a nil error. A
	// sequence id that is already taken returns ErrEventConflict and one
	// beyond the next free id returns ErrSequenceGap. On success the owning
	// instance's history counters are updated in the same transaction.
	AppendEvent(ctx context.Context, e *Event, lock lease.Lock) (bool, error)

	// GetHistory returns the events of a workflow with sequence id greater
	// than afterSeq, in ascending order. Pass 0 to read the whole history.
	GetHistory(ctx context.Context, workflowID string, afterSeq int64) ([]*Event, error)
}
