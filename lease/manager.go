package lease

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	durablesnake "github.com/danthegoodman1/DurableSnake"
)

// Manager drives the lease protocol against a Store on behalf of one runner.
// It is safe for concurrent use by the runner's loops and execution tasks.
type Manager struct {
	store    Store
	runnerID string
	duration time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex
	observed map[string]int64 // workflow id → highest epoch granted to us
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock sets the time source used to stamp expiry times.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger for the manager.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a lease manager for runnerID granting leases of the
// given duration.
func NewManager(store Store, runnerID string, duration time.Duration, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		runnerID: runnerID,
		duration: duration,
		now:      time.Now,
		logger:   slog.Default(),
		observed: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunnerID returns the identity leases are granted to.
func (m *Manager) RunnerID() string { return m.runnerID }

// Duration returns the lease duration.
func (m *Manager) Duration() time.Duration { return m.duration }

// Now returns the manager's current time.
func (m *Manager) Now() time.Time { return m.now() }

// Acquire attempts a fresh claim on a workflow nobody holds. A nil lock with
// a nil error means the claim was refused.
func (m *Manager) Acquire(ctx context.Context, workflowID string) (*Lock, error) {
	next := Lock{WorkflowID: workflowID, RunnerID: m.runnerID, ExpiresAt: m.now().Add(m.duration)}
	return m.swap(ctx, next, nil)
}

// Reclaim attempts to take over a lock reported as expired. The report is a
// hint, so the claim is made without an expected lock and is refused if the
// row has since been renewed or reclaimed by someone else.
func (m *Manager) Reclaim(ctx context.Context, expired Lock) (*Lock, error) {
	granted, err := m.Acquire(ctx, expired.WorkflowID)
	if err != nil || granted == nil {
		return granted, err
	}
	m.logger.Debug("reclaimed expired lease",
		slog.String("workflow_id", expired.WorkflowID),
		slog.String("previous_runner", expired.RunnerID),
		slog.Int64("previous_epoch", expired.Epoch),
		slog.Int64("epoch", granted.Epoch),
	)
	return granted, nil
}

// Recover re-asserts a lock this runner held before a restart. It succeeds
// only if the row is unchanged and unexpired.
func (m *Manager) Recover(ctx context.Context, previous Lock) (*Lock, error) {
	if previous.RunnerID != m.runnerID {
		return nil, nil
	}
	next := Lock{WorkflowID: previous.WorkflowID, RunnerID: m.runnerID, ExpiresAt: m.now().Add(m.duration)}
	return m.swap(ctx, next, &previous)
}

// Extend renews a held lock for another full duration.
func (m *Manager) Extend(ctx context.Context, held Lock) (*Lock, error) {
	next := Lock{WorkflowID: held.WorkflowID, RunnerID: held.RunnerID, ExpiresAt: m.now().Add(m.duration)}
	return m.swap(ctx, next, &held)
}

// ExpireNow moves a held lock's expiry to the present so that another runner
// can reclaim it immediately. It is an extension like any other and bumps
// the epoch, which fences out any write still in flight under held.
func (m *Manager) ExpireNow(ctx context.Context, held Lock) (*Lock, error) {
	next := Lock{WorkflowID: held.WorkflowID, RunnerID: held.RunnerID, ExpiresAt: m.now()}
	return m.swap(ctx, next, &held)
}

// ListExpired returns up to limit reclaimable locks, oldest expiry first.
func (m *Manager) ListExpired(ctx context.Context, limit int) ([]*Lock, error) {
	return m.store.ListExpiredLocks(ctx, limit)
}

// ListHeldBy returns the open-workflow locks the store attributes to runnerID.
func (m *Manager) ListHeldBy(ctx context.Context, runnerID string) ([]*Lock, error) {
	return m.store.ListLocksHeldBy(ctx, runnerID)
}

// Forget drops the epoch bookkeeping for a workflow this runner will not
// touch again.
func (m *Manager) Forget(workflowID string) {
	m.mu.Lock()
	delete(m.observed, workflowID)
	m.mu.Unlock()
}

func (m *Manager) swap(ctx context.Context, next Lock, expected *Lock) (*Lock, error) {
	granted, err := m.store.AcquireOrExtendLock(ctx, next, expected)
	if err != nil {
		return nil, err
	}
	if granted == nil {
		m.logger.Debug("lease refused",
			slog.String("workflow_id", next.WorkflowID),
			slog.String("runner_id", next.RunnerID),
			slog.Bool("extension", expected != nil),
		)
		return nil, nil
	}
	if err := m.observe(granted, expected); err != nil {
		return nil, err
	}
	return granted, nil
}

// observe checks that granted epochs strictly increase.
func (m *Manager) observe(granted *Lock, expected *Lock) error {
	if expected != nil && granted.Epoch != expected.Epoch+1 {
		return fmt.Errorf("%w: workflow %s extended from epoch %d to %d",
			durablesnake.ErrEpochRegression, granted.WorkflowID, expected.Epoch, granted.Epoch)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if last, ok := m.observed[granted.WorkflowID]; ok && granted.Epoch <= last {
		return fmt.Errorf("%w: workflow %s granted epoch %d after %d",
			durablesnake.ErrEpochRegression, granted.WorkflowID, granted.Epoch, last)
	}
	m.observed[granted.WorkflowID] = granted.Epoch
	return nil
}
