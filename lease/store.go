package lease

import "context"

// Store defines the persistence contract for workflow leases.
type Store interface {
	// AcquireOrExtendLock atomically applies the acquire-or-extend rule (see
	// Decide). next carries the workflow id, requesting runner and desired
	// expiry; its Epoch is ignored. expected is nil for a fresh acquisition.
	//
	// On success the granted lock is returned. A refusal returns a nil lock
	// and a nil error and leaves the stored row untouched. Two concurrent
	// callers racing on the same workflow must never both succeed.
	AcquireOrExtendLock(ctx context.Context, next Lock, expected *Lock) (*Lock, error)

	// ListExpiredLocks returns up to limit locks whose expiry has passed and
	// whose workflow instance is still open, oldest expiry first. The result
	// is a hint; reclaiming one still goes through AcquireOrExtendLock.
	ListExpiredLocks(ctx context.Context, limit int) ([]*Lock, error)

	// ListLocksHeldBy returns every lock whose current holder is runnerID and
	// whose workflow instance is still open, expired or not.
	ListLocksHeldBy(ctx context.Context, runnerID string) ([]*Lock, error)

	// GetLock returns the live lock row for a workflow, or nil if none
	// exists.
	GetLock(ctx context.Context, workflowID string) (*Lock, error)
}
