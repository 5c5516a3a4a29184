package durablesnake

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("durablesnake: no store configured")
	ErrMigrationFailed = errors.New("durablesnake: migration failed")

	// Not found errors.
	ErrInstanceNotFound      = errors.New("durablesnake: workflow instance not found")
	ErrWorkflowNotRegistered = errors.New("durablesnake: workflow type not registered")

	// Conflict errors.
	ErrInstanceExists = errors.New("durablesnake: workflow instance already exists")
	ErrEventConflict  = errors.New("durablesnake: event sequence already committed")

	// State errors.
	ErrInvalidTransition = errors.New("durablesnake: invalid status transition")
	ErrInvalidConfig     = errors.New("durablesnake: invalid config")
	ErrInvalidEvent      = errors.New("durablesnake: invalid event")

	// Workflow outcomes.
	ErrCancelled = errors.New("durablesnake: workflow cancelled")

	// Lease errors.
	ErrLeaseLost      = errors.New("durablesnake: lease lost")
	ErrInstanceLeased = errors.New("durablesnake: workflow instance is leased by a runner")

	// Invariant violations. These indicate a backend contract breach and
	// terminate only the affected workflow's task.
	ErrSequenceGap     = errors.New("durablesnake: event sequence gap")
	ErrHistoryGap      = errors.New("durablesnake: history is not contiguous")
	ErrEpochRegression = errors.New("durablesnake: lease epoch regressed")
)

// IsInvariantViolation reports whether err signals a backend contract breach.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrSequenceGap) ||
		errors.Is(err, ErrHistoryGap) ||
		errors.Is(err, ErrEpochRegression)
}
