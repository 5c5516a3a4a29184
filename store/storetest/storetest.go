// Package storetest is the conformance suite every backend runs. It
// exercises the backend contract through the composite store.Store
// interface only, so the same assertions hold for in-process and networked
// backends.
//
// Expiry is driven by requesting leases whose expiry is already in the past
// or far in the future, so the suite never sleeps and works against
// backends that judge expiry by their own server clock.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	durablesnake "github.com/danthegoodman1/DurableSnake"
	"github.com/danthegoodman1/DurableSnake/history"
	"github.com/danthegoodman1/DurableSnake/id"
	"github.com/danthegoodman1/DurableSnake/lease"
	"github.com/danthegoodman1/DurableSnake/store"
	"github.com/danthegoodman1/DurableSnake/workflow"
)

// Factory returns an empty, migrated store. It is called once per subtest.
type Factory func(t *testing.T) store.Store

// Run executes the full conformance suite against the backend built by
// newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateAndGetInstance", testCreateAndGetInstance},
		{"AcquireFresh", testAcquireFresh},
		{"ExtendRules", testExtendRules},
		{"ReclaimExpired", testReclaimExpired},
		{"ConcurrentAcquire", testConcurrentAcquire},
		{"ConcurrentExtend", testConcurrentExtend},
		{"AppendFencing", testAppendFencing},
		{"AppendSequence", testAppendSequence},
		{"HistoryAfter", testHistoryAfter},
		{"EventsImmutable", testEventsImmutable},
		{"UpdateInstanceFencing", testUpdateInstanceFencing},
		{"ContinueInstance", testContinueInstance},
		{"ListPending", testListPending},
		{"ListExpiredLocks", testListExpiredLocks},
		{"ListLocksHeldBy", testListLocksHeldBy},
		{"ScenarioContention", testScenarioContention},
		{"ScenarioStaleExtension", testScenarioStaleExtension},
		{"ScenarioIndependentReclaim", testScenarioIndependentReclaim},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

const (
	runnerA = "runner-a"
	runnerB = "runner-b"
)

func live() time.Time { return time.Now().Add(time.Hour) }

func past() time.Time { return time.Now().Add(-time.Hour) }

func newInstance(t *testing.T, s store.Store, queue string) *workflow.Instance {
	t.Helper()
	inst := &workflow.Instance{
		ID:        id.NewWorkflowID(),
		Type:      "conformance",
		Status:    workflow.StatusPending,
		Queue:     queue,
		Input:     []byte(`{"n":1}`),
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, s.CreateInstance(context.Background(), inst))
	return inst
}

func acquire(t *testing.T, s store.Store, workflowID, runnerID string, expiresAt time.Time) *lease.Lock {
	t.Helper()
	l, err := s.AcquireOrExtendLock(context.Background(), lease.Lock{
		WorkflowID: workflowID,
		RunnerID:   runnerID,
		ExpiresAt:  expiresAt,
	}, nil)
	require.NoError(t, err)
	return l
}

func extend(t *testing.T, s store.Store, held lease.Lock, expiresAt time.Time) *lease.Lock {
	t.Helper()
	next := held
	next.ExpiresAt = expiresAt
	l, err := s.AcquireOrExtendLock(context.Background(), next, &held)
	require.NoError(t, err)
	return l
}

func event(workflowID string, seq int64, l lease.Lock, payload string) *history.Event {
	return &history.Event{
		WorkflowID: workflowID,
		SequenceID: seq,
		Type:       history.TypeActivityCompleted,
		Epoch:      l.Epoch,
		RunnerID:   l.RunnerID,
		Payload:    []byte(payload),
		CreatedAt:  time.Now().UTC(),
	}
}

func requireLockUnchanged(t *testing.T, s store.Store, want lease.Lock) {
	t.Helper()
	got, err := s.GetLock(context.Background(), want.WorkflowID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Epoch, got.Epoch)
	assert.Equal(t, want.RunnerID, got.RunnerID)
	assert.WithinDuration(t, want.ExpiresAt, got.ExpiresAt, time.Millisecond)
}

func testCreateAndGetInstance(t *testing.T, s store.Store) {
	ctx := context.Background()
	inst := newInstance(t, s, "default")

	got, err := s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, inst.ID, got.ID)
	assert.Equal(t, "conformance", got.Type)
	assert.Equal(t, workflow.StatusPending, got.Status)
	assert.Equal(t, "default", got.Queue)
	assert.Equal(t, `{"n":1}`, string(got.Input))
	assert.Zero(t, got.HistoryLength)
	assert.True(t, got.StartedAt.IsZero())
	assert.True(t, got.ClosedAt.IsZero())

	dup := *inst
	dup.Type = "other"
	err = s.CreateInstance(ctx, &dup)
	require.ErrorIs(t, err, durablesnake.ErrInstanceExists)

	got, err = s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "conformance", got.Type, "duplicate create must not overwrite")

	_, err = s.GetInstance(ctx, "wf_missing")
	require.ErrorIs(t, err, durablesnake.ErrInstanceNotFound)
}

func testAcquireFresh(t *testing.T, s store.Store) {
	inst := newInstance(t, s, "default")

	l := acquire(t, s, inst.ID, runnerA, live())
	require.NotNil(t, l)
	assert.Equal(t, int64(1), l.Epoch)
	assert.Equal(t, runnerA, l.RunnerID)
	assert.Equal(t, inst.ID, l.WorkflowID)

	// A fresh claim on a live lock is refused and leaves the row alone.
	refused := acquire(t, s, inst.ID, runnerB, live())
	assert.Nil(t, refused)
	requireLockUnchanged(t, s, *l)

	// The holder itself cannot re-acquire without stating what it holds.
	assert.Nil(t, acquire(t, s, inst.ID, runnerA, live()))
}

func testExtendRules(t *testing.T, s store.Store) {
	inst := newInstance(t, s, "default")
	l := acquire(t, s, inst.ID, runnerA, live())
	require.NotNil(t, l)

	extended := extend(t, s, *l, live().Add(time.Minute))
	require.NotNil(t, extended)
	assert.Equal(t, l.Epoch+1, extended.Epoch)
	assert.Equal(t, runnerA, extended.RunnerID)

	// Stale epoch.
	assert.Nil(t, extend(t, s, *l, live()))
	requireLockUnchanged(t, s, *extended)

	// Wrong runner.
	wrong := *extended
	wrong.RunnerID = runnerB
	assert.Nil(t, extend(t, s, wrong, live()))
	requireLockUnchanged(t, s, *extended)

	// Wrong workflow.
	other := *extended
	other.WorkflowID = "wf_other"
	assert.Nil(t, extend(t, s, other, live()))

	// An expiry in the past is still an extension and bumps the epoch.
	expiring := extend(t, s, *extended, past())
	require.NotNil(t, expiring)
	assert.Equal(t, extended.Epoch+1, expiring.Epoch)

	// Once expired it can no longer be extended, even by its holder.
	assert.Nil(t, extend(t, s, *expiring, live()))
	requireLockUnchanged(t, s, *expiring)
}

func testReclaimExpired(t *testing.T, s store.Store) {
	inst := newInstance(t, s, "default")
	l := acquire(t, s, inst.ID, runnerA, past())
	require.NotNil(t, l)

	reclaimed := acquire(t, s, inst.ID, runnerB, live())
	require.NotNil(t, reclaimed)
	assert.Equal(t, l.Epoch+1, reclaimed.Epoch)
	assert.Equal(t, runnerB, reclaimed.RunnerID)

	// The previous holder's extension is now refused.
	assert.Nil(t, extend(t, s, *l, live()))
	requireLockUnchanged(t, s, *reclaimed)
}

func testConcurrentAcquire(t *testing.T, s store.Store) {
	inst := newInstance(t, s, "default")
	const contenders = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted []*lease.Lock
		errs    []error
	)
	start := make(chan struct{})
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			l, err := s.AcquireOrExtendLock(context.Background(), lease.Lock{
				WorkflowID: inst.ID,
				RunnerID:   fmt.Sprintf("runner-%d", i),
				ExpiresAt:  live(),
			}, nil)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if l != nil {
				granted = append(granted, l)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, granted, 1, "exactly one concurrent acquisition must win")
	assert.Equal(t, int64(1), granted[0].Epoch)
	requireLockUnchanged(t, s, *granted[0])
}

func testConcurrentExtend(t *testing.T, s store.Store) {
	inst := newInstance(t, s, "default")
	held := acquire(t, s, inst.ID, runnerA, live())
	require.NotNil(t, held)

	const contenders = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := *held
			next.ExpiresAt = live()
			l, err := s.AcquireOrExtendLock(context.Background(), next, held)
			if err == nil && l != nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "only one extension from the same belief may succeed")
	got, err := s.GetLock(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, held.Epoch+1, got.Epoch)
}

func testAppendFencing(t *testing.T, s store.Store) {
	ctx := context.Background()
	inst := newInstance(t, s, "default")
	l := acquire(t, s, inst.ID, runnerA, live())
	require.NotNil(t, l)

	ok, err := s.AppendEvent(ctx, event(inst.ID, 1, *l, "one"), *l)
	require.NoError(t, err)
	require.True(t, ok)

	newer := extend(t, s, *l, live())
	require.NotNil(t, newer)

	// The pre-extension epoch is stale now.
	ok, err = s.AppendEvent(ctx, event(inst.ID, 2, *l, "stale"), *l)
	require.NoError(t, err)
	assert.False(t, ok)

	// Another runner's belief is refused.
	foreign := *newer
	foreign.RunnerID = runnerB
	ok, err = s.AppendEvent(ctx, event(inst.ID, 2, foreign, "foreign"), foreign)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.AppendEvent(ctx, event(inst.ID, 2, *newer, "two"), *newer)
	require.NoError(t, err)
	require.True(t, ok)

	// An expired lock fences writes even for its holder.
	expired := extend(t, s, *newer, past())
	require.NotNil(t, expired)
	ok, err = s.AppendEvent(ctx, event(inst.ID, 3, *expired, "late"), *expired)
	require.NoError(t, err)
	assert.False(t, ok)

	events, err := s.GetHistory(ctx, inst.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "one", string(events[0].Payload))
	assert.Equal(t, "two", string(events[1].Payload))
	assert.Equal(t, l.Epoch, events[0].Epoch)
	assert.Equal(t, newer.Epoch, events[1].Epoch)
}

func testAppendSequence(t *testing.T, s store.Store) {
	ctx := context.Background()
	inst := newInstance(t, s, "default")
	l := acquire(t, s, inst.ID, runnerA, live())
	require.NotNil(t, l)

	for seq := int64(1); seq <= 3; seq++ {
		ok, err := s.AppendEvent(ctx, event(inst.ID, seq, *l, "abcd"), *l)
		require.NoError(t, err)
		require.True(t, ok)
	}

	_, err := s.AppendEvent(ctx, event(inst.ID, 2, *l, "dup"), *l)
	require.ErrorIs(t, err, durablesnake.ErrEventConflict)

	_, err = s.AppendEvent(ctx, event(inst.ID, 6, *l, "gap"), *l)
	require.ErrorIs(t, err, durablesnake.ErrSequenceGap)

	bad := event(inst.ID, 4, *l, "bad")
	bad.Type = "not_a_type"
	_, err = s.AppendEvent(ctx, bad, *l)
	require.ErrorIs(t, err, durablesnake.ErrInvalidEvent)

	got, err := s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.HistoryLength)
	assert.Equal(t, int64(12), got.HistoryBytes)

	events, err := s.GetHistory(ctx, inst.ID, 0)
	require.NoError(t, err)
	require.NoError(t, history.Validate(events, 0))
	require.Len(t, events, 3)
}

func testHistoryAfter(t *testing.T, s store.Store) {
	ctx := context.Background()
	inst := newInstance(t, s, "default")
	l := acquire(t, s, inst.ID, runnerA, live())
	require.NotNil(t, l)

	for seq := int64(1); seq <= 5; seq++ {
		ok, err := s.AppendEvent(ctx, event(inst.ID, seq, *l, fmt.Sprintf("e%d", seq)), *l)
		require.NoError(t, err)
		require.True(t, ok)
	}

	for after := int64(0); after <= 6; after++ {
		first, err := s.GetHistory(ctx, inst.ID, after)
		require.NoError(t, err)
		second, err := s.GetHistory(ctx, inst.ID, after)
		require.NoError(t, err)

		want := 5 - after
		if want < 0 {
			want = 0
		}
		require.Len(t, first, int(want))
		require.Equal(t, len(first), len(second))
		require.NoError(t, history.Validate(first, after))
		for i := range first {
			assert.Equal(t, first[i].SequenceID, second[i].SequenceID)
			assert.Equal(t, first[i].Payload, second[i].Payload)
			assert.Equal(t, inst.ID, first[i].WorkflowID)
			assert.Equal(t, runnerA, first[i].RunnerID)
		}
	}

	empty, err := s.GetHistory(ctx, "wf_unknown", 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testEventsImmutable(t *testing.T, s store.Store) {
	ctx := context.Background()
	inst := newInstance(t, s, "default")
	l := acquire(t, s, inst.ID, runnerA, live())
	require.NotNil(t, l)

	e := event(inst.ID, 1, *l, "original")
	ok, err := s.AppendEvent(ctx, e, *l)
	require.NoError(t, err)
	require.True(t, ok)
	copy(e.Payload, "appended")

	got, err := s.GetHistory(ctx, inst.ID, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, []byte("original"), got[0].Payload)
	copy(got[0].Payload, "MUTATED!")
	got[0].Type = history.TypeWorkflowFailed

	again, err := s.GetHistory(ctx, inst.ID, 0)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, []byte("original"), again[0].Payload)
	assert.Equal(t, history.TypeActivityCompleted, again[0].Type)

	read, err := s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	copy(read.Input, "XXXXXXX")
	reread, err := s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"n":1}`), reread.Input)
}

func testUpdateInstanceFencing(t *testing.T, s store.Store) {
	ctx := context.Background()
	inst := newInstance(t, s, "default")
	l := acquire(t, s, inst.ID, runnerA, live())
	require.NotNil(t, l)

	running := inst.Clone()
	running.Status = workflow.StatusRunning
	running.StartedAt = time.Now().UTC().Truncate(time.Millisecond)

	// Fenced by another runner's belief.
	foreign := *l
	foreign.RunnerID = runnerB
	ok, err := s.UpdateInstance(ctx, running, foreign)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.UpdateInstance(ctx, running, *l)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRunning, got.Status)
	assert.WithinDuration(t, running.StartedAt, got.StartedAt, time.Millisecond)

	// Running cannot go back to pending.
	back := got.Clone()
	back.Status = workflow.StatusPending
	_, err = s.UpdateInstance(ctx, back, *l)
	require.ErrorIs(t, err, durablesnake.ErrInvalidTransition)

	failed := got.Clone()
	failed.Status = workflow.StatusFailed
	failed.Error = "boom"
	failed.ClosedAt = time.Now().UTC().Truncate(time.Millisecond)
	ok, err = s.UpdateInstance(ctx, failed, *l)
	require.NoError(t, err)
	require.True(t, ok)

	got, err = s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
	assert.False(t, got.ClosedAt.IsZero())

	// Terminal instances never move again.
	again := got.Clone()
	again.Status = workflow.StatusTerminated
	_, err = s.UpdateInstance(ctx, again, *l)
	require.ErrorIs(t, err, durablesnake.ErrInvalidTransition)
}

func testContinueInstance(t *testing.T, s store.Store) {
	ctx := context.Background()
	inst := newInstance(t, s, "default")
	l := acquire(t, s, inst.ID, runnerA, live())
	require.NotNil(t, l)

	running := inst.Clone()
	running.Status = workflow.StatusRunning
	ok, err := s.UpdateInstance(ctx, running, *l)
	require.NoError(t, err)
	require.True(t, ok)

	closed := running.Clone()
	closed.Status = workflow.StatusContinuedAsNew
	closed.ClosedAt = time.Now().UTC()
	next := &workflow.Instance{
		ID:            id.NewWorkflowID(),
		Type:          inst.Type,
		Status:        workflow.StatusPending,
		Queue:         inst.Queue,
		ContinuedFrom: inst.ID,
		Input:         []byte(`{"n":2}`),
		CreatedAt:     time.Now().UTC(),
	}

	stale := *l
	stale.Epoch--
	ok, err = s.ContinueInstance(ctx, closed, next, stale)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.GetInstance(ctx, next.ID)
	require.ErrorIs(t, err, durablesnake.ErrInstanceNotFound, "refused continue must not create the successor")

	ok, err = s.ContinueInstance(ctx, closed, next, *l)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := s.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusContinuedAsNew, got.Status)

	succ, err := s.GetInstance(ctx, next.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPending, succ.Status)
	assert.Equal(t, inst.ID, succ.ContinuedFrom)
	assert.Equal(t, `{"n":2}`, string(succ.Input))
}

func testListPending(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	var ids []string
	for i := 0; i < 4; i++ {
		inst := &workflow.Instance{
			ID:        id.NewWorkflowID(),
			Type:      "conformance",
			Status:    workflow.StatusPending,
			Queue:     "orders",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.CreateInstance(ctx, inst))
		ids = append(ids, inst.ID)
	}
	newInstance(t, s, "other")

	// Claim and start the first one; it is no longer pending.
	l := acquire(t, s, ids[0], runnerA, live())
	require.NotNil(t, l)
	first, err := s.GetInstance(ctx, ids[0])
	require.NoError(t, err)
	first.Status = workflow.StatusRunning
	ok, err := s.UpdateInstance(ctx, first, *l)
	require.NoError(t, err)
	require.True(t, ok)

	pending, err := s.ListPending(ctx, "orders", 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, ids[1], pending[0].ID)
	assert.Equal(t, ids[2], pending[1].ID)
	assert.Equal(t, ids[3], pending[2].ID)

	limited, err := s.ListPending(ctx, "orders", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, ids[1], limited[0].ID)

	none, err := s.ListPending(ctx, "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testListExpiredLocks(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now()

	a := newInstance(t, s, "default")
	b := newInstance(t, s, "default")
	c := newInstance(t, s, "default")
	d := newInstance(t, s, "default")
	closed := newInstance(t, s, "default")

	require.NotNil(t, acquire(t, s, b.ID, runnerA, now.Add(-2*time.Hour)))
	require.NotNil(t, acquire(t, s, a.ID, runnerA, now.Add(-3*time.Hour)))
	require.NotNil(t, acquire(t, s, c.ID, runnerB, now.Add(-1*time.Hour)))
	require.NotNil(t, acquire(t, s, d.ID, runnerB, live()))

	// A closed instance's expired lock is not work to reclaim.
	cl := acquire(t, s, closed.ID, runnerA, live())
	require.NotNil(t, cl)
	done := closed.Clone()
	done.Status = workflow.StatusCancelled
	ok, err := s.UpdateInstance(ctx, done, *cl)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, extend(t, s, *cl, past()))

	expired, err := s.ListExpiredLocks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, expired, 3)
	assert.Equal(t, a.ID, expired[0].WorkflowID)
	assert.Equal(t, b.ID, expired[1].WorkflowID)
	assert.Equal(t, c.ID, expired[2].WorkflowID)

	limited, err := s.ListExpiredLocks(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, a.ID, limited[0].WorkflowID)
}

func testListLocksHeldBy(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := newInstance(t, s, "default")
	b := newInstance(t, s, "default")
	c := newInstance(t, s, "default")

	require.NotNil(t, acquire(t, s, a.ID, runnerA, live()))
	require.NotNil(t, acquire(t, s, b.ID, runnerA, past()))
	require.NotNil(t, acquire(t, s, c.ID, runnerB, live()))

	held, err := s.ListLocksHeldBy(ctx, runnerA)
	require.NoError(t, err)
	require.Len(t, held, 2, "expired locks still count as held for recovery")
	got := map[string]bool{held[0].WorkflowID: true, held[1].WorkflowID: true}
	assert.True(t, got[a.ID])
	assert.True(t, got[b.ID])

	none, err := s.ListLocksHeldBy(ctx, "runner-nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

// runner A acquires, B is refused, A's lease runs out, B reclaims.
func testScenarioContention(t *testing.T, s store.Store) {
	inst := newInstance(t, s, "default")

	a := acquire(t, s, inst.ID, runnerA, time.Now().Add(300*time.Millisecond))
	require.NotNil(t, a)
	assert.Equal(t, int64(1), a.Epoch)

	assert.Nil(t, acquire(t, s, inst.ID, runnerB, live()))

	// A never renews.
	time.Sleep(400 * time.Millisecond)

	b := acquire(t, s, inst.ID, runnerB, live())
	require.NotNil(t, b)
	assert.Equal(t, runnerB, b.RunnerID)
	assert.Equal(t, int64(2), b.Epoch)

	assert.Nil(t, extend(t, s, *a, live()))
}

// A holds epoch 2, appends, a stale extension is refused, A keeps writing.
func testScenarioStaleExtension(t *testing.T, s store.Store) {
	ctx := context.Background()
	inst := newInstance(t, s, "default")

	first := acquire(t, s, inst.ID, runnerA, live())
	require.NotNil(t, first)
	second := extend(t, s, *first, live())
	require.NotNil(t, second)
	require.Equal(t, int64(2), second.Epoch)

	ok, err := s.AppendEvent(ctx, event(inst.ID, 1, *second, "x"), *second)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Nil(t, extend(t, s, *first, live()))
	requireLockUnchanged(t, s, *second)

	ok, err = s.AppendEvent(ctx, event(inst.ID, 2, *second, "y"), *second)
	require.NoError(t, err)
	assert.True(t, ok)
}

// Reclaiming the oldest expired lock does not disturb the others.
func testScenarioIndependentReclaim(t *testing.T, s store.Store) {
	ctx := context.Background()
	now := time.Now()

	insts := []*workflow.Instance{newInstance(t, s, "default"), newInstance(t, s, "default"), newInstance(t, s, "default")}
	for i, inst := range insts {
		require.NotNil(t, acquire(t, s, inst.ID, runnerA, now.Add(-time.Duration(3-i)*time.Hour)))
	}

	expired, err := s.ListExpiredLocks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, expired, 3)

	var reclaimed []*lease.Lock
	for _, l := range expired {
		got := acquire(t, s, l.WorkflowID, runnerB, live())
		require.NotNil(t, got, "reclaim of %s", l.WorkflowID)
		assert.Equal(t, l.Epoch+1, got.Epoch)
		reclaimed = append(reclaimed, got)
	}
	for i, l := range reclaimed {
		assert.Equal(t, insts[i].ID, l.WorkflowID)
		requireLockUnchanged(t, s, *l)
	}

	rest, err := s.ListExpiredLocks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, rest)
}
