package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/danthegoodman1/DurableSnake/lease"
	"github.com/danthegoodman1/DurableSnake/store"
	"github.com/danthegoodman1/DurableSnake/store/sqlite"
	"github.com/danthegoodman1/DurableSnake/store/storetest"
	"github.com/danthegoodman1/DurableSnake/workflow"
)

func newStore(t *testing.T, opts ...sqlite.Option) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "durablesnake.db"), opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return newStore(t) })
}

func TestMigrateIdempotent(t *testing.T) {
	s := newStore(t)
	defer s.Close()
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestTimestampsRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 4, 5, 6, 7, 123456789, time.UTC)
	s := newStore(t, sqlite.WithClock(func() time.Time { return now }))
	defer s.Close()

	inst := &workflow.Instance{
		ID:        "wf_ts",
		Type:      "ts",
		Queue:     "default",
		Timeout:   90 * time.Second,
		CreatedAt: now.Add(-time.Minute),
	}
	if err := s.CreateInstance(ctx, inst); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	got, err := s.GetInstance(ctx, "wf_ts")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if !got.CreatedAt.Equal(inst.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, inst.CreatedAt)
	}
	if !got.StartedAt.IsZero() || !got.ClosedAt.IsZero() {
		t.Errorf("unset timestamps not zero: %v %v", got.StartedAt, got.ClosedAt)
	}
	if got.Timeout != 90*time.Second {
		t.Errorf("Timeout = %v", got.Timeout)
	}

	l, err := s.AcquireOrExtendLock(ctx, lease.Lock{WorkflowID: "wf_ts", RunnerID: "r", ExpiresAt: now.Add(time.Second)}, nil)
	if err != nil || l == nil {
		t.Fatalf("acquire = %v, %v", l, err)
	}
	stored, err := s.GetLock(ctx, "wf_ts")
	if err != nil {
		t.Fatalf("GetLock: %v", err)
	}
	if !stored.ExpiresAt.Equal(now.Add(time.Second)) {
		t.Errorf("ExpiresAt = %v, want nanosecond precision", stored.ExpiresAt)
	}
}
