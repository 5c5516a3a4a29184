package workflow

import (
	"context"

	"github.com/danthegoodman1/DurableSnake/lease"
)

// Store defines the persistence contract for workflow instances.
type Store interface {
	// CreateInstance persists a new instance. An instance with the same id
	// already present yields ErrInstanceExists.
	CreateInstance(ctx context.Context, inst *Instance) error

	// GetInstance retrieves an instance by id, or ErrInstanceNotFound.
	GetInstance(ctx context.Context, instanceID string) (*Instance, error)

	// UpdateInstance persists the mutable fields of inst (status, output,
	// error and timestamps) if lock still matches the live, unexpired lock
	// row of the instance. A stale lock yields false and a nil error. A
	// status change CanTransition rejects returns ErrInvalidTransition.
	UpdateInstance(ctx context.Context, inst *Instance, lock lease.Lock) (bool, error)

	// ContinueInstance closes inst as continued-as-new and creates next in
	// one transaction, fenced by lock exactly like UpdateInstance.
	ContinueInstance(ctx context.Context, inst *Instance, next *Instance, lock lease.Lock) (bool, error)

	// ListPending returns up to limit PENDING instances on queue, oldest
	// first.
	ListPending(ctx context.Context, queue string, limit int) ([]*Instance, error)
}
