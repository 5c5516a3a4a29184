// Package memory provides a fully in-memory backend. It is safe for
// concurrent access and intended for unit testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	durablesnake "github.com/danthegoodman1/DurableSnake"
	"github.com/danthegoodman1/DurableSnake/history"
	"github.com/danthegoodman1/DurableSnake/lease"
	"github.com/danthegoodman1/DurableSnake/workflow"
)

// Ensure Store implements each subsystem contract at compile time.
// We can't import store here (import cycle with storetest), so we verify
// each subsystem.
var (
	_ workflow.Store = (*Store)(nil)
	_ lease.Store    = (*Store)(nil)
	_ history.Store  = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store. A single mutex
// serializes every operation, which makes each compare-and-swap trivially
// serializable.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	instances map[string]*workflow.Instance
	locks     map[string]*lease.Lock
	events    map[string][]*history.Event
}

// Option configures a memory Store.
type Option func(*Store)

// WithClock sets the clock used to judge lock expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		now:       time.Now,
		instances: make(map[string]*workflow.Instance),
		locks:     make(map[string]*lease.Lock),
		events:    make(map[string][]*history.Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Workflow Store
// ──────────────────────────────────────────────────

// CreateInstance persists a new workflow instance.
func (m *Store) CreateInstance(_ context.Context, inst *workflow.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(inst)
}

func (m *Store) createLocked(inst *workflow.Instance) error {
	if _, exists := m.instances[inst.ID]; exists {
		return fmt.Errorf("%w: %s", durablesnake.ErrInstanceExists, inst.ID)
	}
	cp := inst.Clone()
	now := m.now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.Status == "" {
		cp.Status = workflow.StatusPending
	}
	cp.HistoryLength, cp.HistoryBytes = 0, 0
	cp.UpdatedAt = now
	m.instances[inst.ID] = cp
	return nil
}

// GetInstance retrieves a workflow instance by id.
func (m *Store) GetInstance(_ context.Context, instanceID string) (*workflow.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[instanceID]
	if !ok {
		return nil, durablesnake.ErrInstanceNotFound
	}
	return inst.Clone(), nil
}

// UpdateInstance persists the mutable fields of inst, fenced by lock.
func (m *Store) UpdateInstance(_ context.Context, inst *workflow.Instance, lock lease.Lock) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok, err := m.fencedInstanceLocked(inst.ID, lock)
	if !ok || err != nil {
		return false, err
	}
	if err := workflow.CheckTransition(stored.Status, inst.Status); err != nil {
		return false, err
	}
	m.applyLocked(stored, inst)
	return true, nil
}

// ContinueInstance closes inst as continued-as-new and creates next.
func (m *Store) ContinueInstance(_ context.Context, inst *workflow.Instance, next *workflow.Instance, lock lease.Lock) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok, err := m.fencedInstanceLocked(inst.ID, lock)
	if !ok || err != nil {
		return false, err
	}
	if inst.Status != workflow.StatusContinuedAsNew {
		return false, fmt.Errorf("%w: continue requires %s, got %s",
			durablesnake.ErrInvalidTransition, workflow.StatusContinuedAsNew, inst.Status)
	}
	if err := workflow.CheckTransition(stored.Status, inst.Status); err != nil {
		return false, err
	}
	if err := m.createLocked(next); err != nil {
		return false, err
	}
	m.applyLocked(stored, inst)
	return true, nil
}

func (m *Store) fencedInstanceLocked(instanceID string, lock lease.Lock) (*workflow.Instance, bool, error) {
	if lock.WorkflowID != instanceID {
		return nil, false, nil
	}
	if !lease.Matches(m.locks[instanceID], lock, m.now()) {
		return nil, false, nil
	}
	stored, ok := m.instances[instanceID]
	if !ok {
		return nil, false, durablesnake.ErrInstanceNotFound
	}
	return stored, true, nil
}

func (m *Store) applyLocked(stored, inst *workflow.Instance) {
	stored.Status = inst.Status
	stored.Output = append([]byte(nil), inst.Output...)
	stored.Error = inst.Error
	stored.StartedAt = inst.StartedAt
	stored.ClosedAt = inst.ClosedAt
	stored.UpdatedAt = m.now().UTC()
}

// ListPending returns up to limit pending instances on queue, oldest first.
func (m *Store) ListPending(_ context.Context, queue string, limit int) ([]*workflow.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := make([]*workflow.Instance, 0)
	for _, inst := range m.instances {
		if inst.Status != workflow.StatusPending || inst.Queue != queue {
			continue
		}
		candidates = append(candidates, inst)
	}

	sort.Slice(candidates, func(i, k int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[k].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
		}
		return candidates[i].ID < candidates[k].ID
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*workflow.Instance, len(candidates))
	for i, inst := range candidates {
		result[i] = inst.Clone()
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// Lease Store
// ──────────────────────────────────────────────────

// AcquireOrExtendLock applies the acquire-or-extend rule under the store
// mutex.
func (m *Store) AcquireOrExtendLock(_ context.Context, next lease.Lock, expected *lease.Lock) (*lease.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	granted, ok := lease.Decide(m.locks[next.WorkflowID], next, expected, m.now())
	if !ok {
		return nil, nil
	}
	stored := granted
	m.locks[next.WorkflowID] = &stored
	return &granted, nil
}

// ListExpiredLocks returns expired locks of open instances, oldest expiry
// first.
func (m *Store) ListExpiredLocks(_ context.Context, limit int) ([]*lease.Lock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	return m.collectLocked(limit, func(l *lease.Lock) bool { return l.Expired(now) }, func(a, b *lease.Lock) bool {
		if !a.ExpiresAt.Equal(b.ExpiresAt) {
			return a.ExpiresAt.Before(b.ExpiresAt)
		}
		return a.WorkflowID < b.WorkflowID
	}), nil
}

// ListLocksHeldBy returns the locks of open instances held by runnerID.
func (m *Store) ListLocksHeldBy(_ context.Context, runnerID string) ([]*lease.Lock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.collectLocked(0, func(l *lease.Lock) bool { return l.RunnerID == runnerID }, func(a, b *lease.Lock) bool {
		return a.WorkflowID < b.WorkflowID
	}), nil
}

func (m *Store) collectLocked(limit int, keep func(*lease.Lock) bool, less func(a, b *lease.Lock) bool) []*lease.Lock {
	result := make([]*lease.Lock, 0)
	for id, l := range m.locks {
		inst, ok := m.instances[id]
		if !ok || inst.Closed() || !keep(l) {
			continue
		}
		cp := *l
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool { return less(result[i], result[k]) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// GetLock returns the live lock row for a workflow, or nil.
func (m *Store) GetLock(_ context.Context, workflowID string) (*lease.Lock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.locks[workflowID]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

// ──────────────────────────────────────────────────
// History Store
// ──────────────────────────────────────────────────

// AppendEvent inserts e if lock matches the live lock row.
func (m *Store) AppendEvent(_ context.Context, e *history.Event, lock lease.Lock) (bool, error) {
	if !e.Type.Valid() {
		return false, fmt.Errorf("%w: unknown type %q", durablesnake.ErrInvalidEvent, e.Type)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok, err := m.fencedInstanceLocked(e.WorkflowID, lock)
	if !ok || err != nil {
		return false, err
	}

	last := int64(len(m.events[e.WorkflowID]))
	switch {
	case e.SequenceID <= last:
		return false, fmt.Errorf("%w: %s", durablesnake.ErrEventConflict, e)
	case e.SequenceID > last+1:
		return false, fmt.Errorf("%w: %s after %d", durablesnake.ErrSequenceGap, e, last)
	}

	cp := *e
	cp.Payload = append([]byte(nil), e.Payload...)
	cp.Epoch = lock.Epoch
	cp.RunnerID = lock.RunnerID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now().UTC()
	}
	m.events[e.WorkflowID] = append(m.events[e.WorkflowID], &cp)

	inst.HistoryLength++
	inst.HistoryBytes += cp.Size()
	inst.UpdatedAt = m.now().UTC()
	return true, nil
}

// GetHistory returns the events after afterSeq in ascending order.
func (m *Store) GetHistory(_ context.Context, workflowID string, afterSeq int64) ([]*history.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := m.events[workflowID]
	if afterSeq < 0 {
		afterSeq = 0
	}
	if afterSeq >= int64(len(events)) {
		return []*history.Event{}, nil
	}
	tail := events[afterSeq:]
	result := make([]*history.Event, len(tail))
	for i, e := range tail {
		cp := *e
		cp.Payload = append([]byte(nil), e.Payload...)
		result[i] = &cp
	}
	return result, nil
}
