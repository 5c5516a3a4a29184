package runner_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	durablesnake "github.com/danthegoodman1/DurableSnake"
	"github.com/danthegoodman1/DurableSnake/backoff"
	"github.com/danthegoodman1/DurableSnake/ext"
	"github.com/danthegoodman1/DurableSnake/history"
	"github.com/danthegoodman1/DurableSnake/lease"
	"github.com/danthegoodman1/DurableSnake/runner"
	"github.com/danthegoodman1/DurableSnake/store"
	"github.com/danthegoodman1/DurableSnake/store/memory"
	"github.com/danthegoodman1/DurableSnake/workflow"
)

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func testConfig(runnerID string, opts ...durablesnake.Option) durablesnake.Config {
	base := []durablesnake.Option{
		durablesnake.WithRunnerID(runnerID),
		durablesnake.WithLeaseDuration(time.Second),
		durablesnake.WithPendingPollInterval(10 * time.Millisecond),
		durablesnake.WithExpiredLockPollInterval(20 * time.Millisecond),
		durablesnake.WithShutdownTimeout(2 * time.Second),
	}
	return durablesnake.NewConfig(append(base, opts...)...)
}

func startRunner(t *testing.T, s store.Store, reg *workflow.Registry, cfg durablesnake.Config, opts ...runner.Option) *runner.Runner {
	t.Helper()
	opts = append([]runner.Option{
		runner.WithLogger(slog.Default()),
		runner.WithBackoff(backoff.NewConstant(5 * time.Millisecond)),
	}, opts...)
	r, err := runner.New(s, reg, cfg, opts...)
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Stop(ctx)
	})
	return r
}

func createInstance(t *testing.T, s *memory.Store, id, typ string, input []byte) {
	t.Helper()
	err := s.CreateInstance(context.Background(), &workflow.Instance{
		ID:    id,
		Type:  typ,
		Queue: "default",
		Input: input,
	})
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitForStatus(t *testing.T, s *memory.Store, id string, want workflow.Status) *workflow.Instance {
	t.Helper()
	var inst *workflow.Instance
	waitFor(t, 5*time.Second, string(want)+" status of "+id, func() bool {
		got, err := s.GetInstance(context.Background(), id)
		if err != nil {
			return false
		}
		inst = got
		return got.Status == want
	})
	return inst
}

func eventTypes(t *testing.T, s *memory.Store, id string) []history.Type {
	t.Helper()
	events, err := s.GetHistory(context.Background(), id, 0)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	types := make([]history.Type, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}

func lastEventType(t *testing.T, s *memory.Store, id string) history.Type {
	t.Helper()
	types := eventTypes(t, s, id)
	if len(types) == 0 {
		t.Fatalf("workflow %s has no history", id)
	}
	return types[len(types)-1]
}

// faultyStore wraps the memory store. Lock calls fail once their context is
// done, as they would against a networked backend, and the hooks inject
// contract violations.
type faultyStore struct {
	*memory.Store

	beforeGetInstance func(ctx context.Context, workflowID string) error
	rewriteHistory    func(workflowID string, events []*history.Event) []*history.Event
	rewriteExtension  func(next, expected lease.Lock) *lease.Lock

	mu        sync.Mutex
	handovers map[string]int
	reads     map[string]int
}

func newFaultyStore() *faultyStore {
	return &faultyStore{
		Store:     memory.New(),
		handovers: make(map[string]int),
		reads:     make(map[string]int),
	}
}

func (s *faultyStore) GetInstance(ctx context.Context, workflowID string) (*workflow.Instance, error) {
	if s.beforeGetInstance != nil {
		if err := s.beforeGetInstance(ctx, workflowID); err != nil {
			return nil, err
		}
	}
	return s.Store.GetInstance(ctx, workflowID)
}

func (s *faultyStore) GetHistory(ctx context.Context, workflowID string, afterSeq int64) ([]*history.Event, error) {
	s.mu.Lock()
	s.reads[workflowID]++
	s.mu.Unlock()

	events, err := s.Store.GetHistory(ctx, workflowID, afterSeq)
	if err != nil || s.rewriteHistory == nil {
		return events, err
	}
	return s.rewriteHistory(workflowID, events), nil
}

func (s *faultyStore) AcquireOrExtendLock(ctx context.Context, next lease.Lock, expected *lease.Lock) (*lease.Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if expected != nil && !next.ExpiresAt.After(time.Now()) {
		s.mu.Lock()
		s.handovers[next.WorkflowID]++
		s.mu.Unlock()
	}
	if expected != nil && s.rewriteExtension != nil {
		if l := s.rewriteExtension(next, *expected); l != nil {
			return l, nil
		}
	}
	return s.Store.AcquireOrExtendLock(ctx, next, expected)
}

func (s *faultyStore) handoverCount(workflowID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handovers[workflowID]
}

func (s *faultyStore) historyReads(workflowID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads[workflowID]
}

// claimAsDeadRunner takes the lease of a pending instance and moves it to
// running, as a runner that then crashed would have.
func claimAsDeadRunner(t *testing.T, s *memory.Store, runnerID, workflowID string, d time.Duration) lease.Lock {
	t.Helper()
	ctx := context.Background()
	l, err := lease.NewManager(s, runnerID, d).Acquire(ctx, workflowID)
	if err != nil || l == nil {
		t.Fatalf("Acquire(%s) = %v, %v", workflowID, l, err)
	}
	inst, err := s.GetInstance(ctx, workflowID)
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	inst.Status = workflow.StatusRunning
	inst.StartedAt = time.Now().UTC()
	if ok, err := s.UpdateInstance(ctx, inst, *l); !ok || err != nil {
		t.Fatalf("UpdateInstance = %v, %v", ok, err)
	}
	return *l
}

// ──────────────────────────────────────────────────
// Construction
// ──────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	reg := workflow.NewRegistry()

	if _, err := runner.New(nil, reg, testConfig("runner-a")); !errors.Is(err, durablesnake.ErrNoStore) {
		t.Errorf("nil store: err = %v, want ErrNoStore", err)
	}
	if _, err := runner.New(memory.New(), nil, testConfig("runner-a")); !errors.Is(err, durablesnake.ErrInvalidConfig) {
		t.Errorf("nil registry: err = %v, want ErrInvalidConfig", err)
	}
	if _, err := runner.New(memory.New(), reg, testConfig("")); !errors.Is(err, durablesnake.ErrInvalidConfig) {
		t.Errorf("empty runner id: err = %v, want ErrInvalidConfig", err)
	}
}

func TestRunner_StartStopIdempotent(t *testing.T) {
	r, err := runner.New(memory.New(), workflow.NewRegistry(), testConfig("runner-a"))
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}
	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if err := r.Start(ctx); !errors.Is(err, runner.ErrStopped) {
		t.Fatalf("Start after Stop: err = %v, want ErrStopped", err)
	}
}

// ──────────────────────────────────────────────────
// Outcomes
// ──────────────────────────────────────────────────

func TestRunner_CompletesPendingWorkflow(t *testing.T) {
	s := memory.New()
	reg := workflow.NewRegistry()
	reg.Register("greet", func(exec *workflow.Execution, input []byte) error {
		var name string
		if err := json.Unmarshal(input, &name); err != nil {
			return err
		}
		return exec.SetOutput("hello " + name)
	})
	createInstance(t, s, "wf-1", "greet", []byte(`"ada"`))

	startRunner(t, s, reg, testConfig("runner-a"))

	inst := waitForStatus(t, s, "wf-1", workflow.StatusTerminated)
	if string(inst.Output) != `"hello ada"` {
		t.Errorf("Output = %s, want %q", inst.Output, `"hello ada"`)
	}
	if inst.StartedAt.IsZero() || inst.ClosedAt.IsZero() {
		t.Errorf("timestamps not set: started %v closed %v", inst.StartedAt, inst.ClosedAt)
	}

	waitFor(t, time.Second, "terminal event", func() bool {
		return len(eventTypes(t, s, "wf-1")) == 2
	})
	types := eventTypes(t, s, "wf-1")
	if types[0] != history.TypeWorkflowStarted || types[1] != history.TypeWorkflowFinished {
		t.Errorf("history = %v, want [started finished]", types)
	}

	events, _ := s.GetHistory(context.Background(), "wf-1", 0)
	for _, e := range events {
		if e.RunnerID != "runner-a" || e.Epoch != 1 {
			t.Errorf("event %s written by %s at epoch %d, want runner-a at 1", e, e.RunnerID, e.Epoch)
		}
	}
}

func TestRunner_Outcomes(t *testing.T) {
	tests := []struct {
		name      string
		timeout   time.Duration
		fn        workflow.ExecuteFunc
		wantState workflow.Status
		wantEvent history.Type
		wantError string
	}{
		{
			name: "failed",
			fn: func(*workflow.Execution, []byte) error {
				return errors.New("card declined")
			},
			wantState: workflow.StatusFailed,
			wantEvent: history.TypeWorkflowFailed,
			wantError: "card declined",
		},
		{
			name: "panic",
			fn: func(*workflow.Execution, []byte) error {
				panic("boom")
			},
			wantState: workflow.StatusFailed,
			wantEvent: history.TypeWorkflowFailed,
			wantError: "panic in workflow outcome: boom",
		},
		{
			name: "cancelled",
			fn: func(*workflow.Execution, []byte) error {
				return durablesnake.ErrCancelled
			},
			wantState: workflow.StatusCancelled,
			wantEvent: history.TypeWorkflowCanceled,
			wantError: durablesnake.ErrCancelled.Error(),
		},
		{
			name:    "timed out",
			timeout: 50 * time.Millisecond,
			fn: func(exec *workflow.Execution, _ []byte) error {
				<-exec.Context().Done()
				return exec.Context().Err()
			},
			wantState: workflow.StatusTimedOut,
			wantEvent: history.TypeWorkflowTimedOut,
			wantError: context.DeadlineExceeded.Error(),
		},
		{
			name: "canceled by its own context",
			fn: func(exec *workflow.Execution, _ []byte) error {
				ctx, cancel := context.WithCancel(exec.Context())
				cancel()
				<-ctx.Done()
				return ctx.Err()
			},
			wantState: workflow.StatusFailed,
			wantEvent: history.TypeWorkflowFailed,
			wantError: context.Canceled.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := memory.New()
			reg := workflow.NewRegistry()
			reg.Register("outcome", tt.fn)
			err := s.CreateInstance(context.Background(), &workflow.Instance{
				ID:      "wf-1",
				Type:    "outcome",
				Queue:   "default",
				Timeout: tt.timeout,
			})
			if err != nil {
				t.Fatalf("CreateInstance: %v", err)
			}

			startRunner(t, s, reg, testConfig("runner-a"))

			inst := waitForStatus(t, s, "wf-1", tt.wantState)
			if inst.Error != tt.wantError {
				t.Errorf("Error = %q, want %q", inst.Error, tt.wantError)
			}
			waitFor(t, time.Second, "terminal event", func() bool {
				return lastEventType(t, s, "wf-1") == tt.wantEvent
			})
		})
	}
}

func TestRunner_ContinueAsNew(t *testing.T) {
	s := memory.New()
	reg := workflow.NewRegistry()
	workflow.RegisterDefinition(reg, workflow.NewWorkflow("countdown", func(exec *workflow.Execution, n int) error {
		if n > 0 {
			return workflow.ContinueAsNewWith(n - 1)
		}
		return exec.SetOutput("liftoff")
	}))
	createInstance(t, s, "wf-1", "countdown", []byte(`2`))

	startRunner(t, s, reg, testConfig("runner-a"))

	first := waitForStatus(t, s, "wf-1", workflow.StatusContinuedAsNew)
	if first.Error != "" {
		t.Errorf("Error = %q, want empty", first.Error)
	}

	waitFor(t, time.Second, "continued event", func() bool {
		return lastEventType(t, s, "wf-1") == history.TypeWorkflowContinuedAsNew
	})
	events, _ := s.GetHistory(context.Background(), "wf-1", 0)
	var link struct {
		NextID string `json:"next_id"`
	}
	if err := json.Unmarshal(events[len(events)-1].Payload, &link); err != nil || link.NextID == "" {
		t.Fatalf("continued payload = %s, err %v", events[len(events)-1].Payload, err)
	}

	second := waitForStatus(t, s, link.NextID, workflow.StatusContinuedAsNew)
	if second.ContinuedFrom != "wf-1" {
		t.Errorf("ContinuedFrom = %q, want wf-1", second.ContinuedFrom)
	}
	if string(second.Input) != "1" {
		t.Errorf("successor input = %s, want 1", second.Input)
	}
}

// ──────────────────────────────────────────────────
// Leases
// ──────────────────────────────────────────────────

func TestRunner_RenewsLeaseWhileRunning(t *testing.T) {
	s := memory.New()
	reg := workflow.NewRegistry()
	reg.Register("slow", func(exec *workflow.Execution, _ []byte) error {
		select {
		case <-time.After(400 * time.Millisecond):
			return nil
		case <-exec.Context().Done():
			return exec.Context().Err()
		}
	})
	createInstance(t, s, "wf-1", "slow", nil)

	cfg := testConfig("runner-a", durablesnake.WithLeaseDuration(100*time.Millisecond))
	startRunner(t, s, reg, cfg)

	waitForStatus(t, s, "wf-1", workflow.StatusTerminated)
	waitFor(t, time.Second, "terminal event", func() bool {
		return lastEventType(t, s, "wf-1") == history.TypeWorkflowFinished
	})

	events, _ := s.GetHistory(context.Background(), "wf-1", 0)
	last := events[len(events)-1]
	if last.Epoch < 3 {
		t.Errorf("finished event at epoch %d, want at least 3 after renewals", last.Epoch)
	}
	if last.RunnerID != "runner-a" {
		t.Errorf("finished by %s, want runner-a", last.RunnerID)
	}
}

// Runner A acquires, never renews and its lease expires; runner B reclaims
// it with a higher epoch and finishes the workflow.
func TestRunner_ReclaimsExpiredLease(t *testing.T) {
	s := memory.New()
	reg := workflow.NewRegistry()
	reg.Register("noop", func(*workflow.Execution, []byte) error { return nil })
	createInstance(t, s, "wf-1", "noop", nil)

	dead := claimAsDeadRunner(t, s, "runner-a", "wf-1", 200*time.Millisecond)
	if dead.Epoch != 1 {
		t.Fatalf("first grant epoch = %d, want 1", dead.Epoch)
	}

	// Before expiry a second claim is refused.
	if l, err := lease.NewManager(s, "runner-b", time.Second).Acquire(context.Background(), "wf-1"); l != nil || err != nil {
		t.Fatalf("Acquire before expiry = %v, %v, want refusal", l, err)
	}

	startRunner(t, s, reg, testConfig("runner-b"))

	waitForStatus(t, s, "wf-1", workflow.StatusTerminated)
	waitFor(t, time.Second, "terminal event", func() bool {
		return lastEventType(t, s, "wf-1") == history.TypeWorkflowFinished
	})
	events, _ := s.GetHistory(context.Background(), "wf-1", 0)
	for _, e := range events {
		if e.RunnerID != "runner-b" || e.Epoch != 2 {
			t.Errorf("event %s written by %s at epoch %d, want runner-b at 2", e, e.RunnerID, e.Epoch)
		}
	}
}

// Three leases expired at increasing times are reclaimed independently.
func TestRunner_ReclaimsSeveralExpiredLeases(t *testing.T) {
	s := memory.New()
	reg := workflow.NewRegistry()
	reg.Register("noop", func(*workflow.Execution, []byte) error { return nil })

	ids := []string{"wf-1", "wf-2", "wf-3"}
	for i, id := range ids {
		createInstance(t, s, id, "noop", nil)
		claimAsDeadRunner(t, s, "runner-a", id, time.Duration(i+1)*20*time.Millisecond)
	}

	startRunner(t, s, reg, testConfig("runner-b"))

	for _, id := range ids {
		waitForStatus(t, s, id, workflow.StatusTerminated)
	}
}

func TestRunner_RecoversOwnLeasesOnStartup(t *testing.T) {
	s := memory.New()
	reg := workflow.NewRegistry()
	reg.Register("noop", func(*workflow.Execution, []byte) error { return nil })
	createInstance(t, s, "wf-1", "noop", nil)

	// A previous incarnation of runner-a holds a long, still valid lease.
	claimAsDeadRunner(t, s, "runner-a", "wf-1", time.Minute)

	start := time.Now()
	startRunner(t, s, reg, testConfig("runner-a"))
	waitForStatus(t, s, "wf-1", workflow.StatusTerminated)
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("recovery took %v", elapsed)
	}

	waitFor(t, time.Second, "terminal event", func() bool {
		return lastEventType(t, s, "wf-1") == history.TypeWorkflowFinished
	})
	events, _ := s.GetHistory(context.Background(), "wf-1", 0)
	if events[0].Epoch != 2 {
		t.Errorf("first event at epoch %d, want 2 after recovery", events[0].Epoch)
	}
}

func TestRunner_LeaseLossStopsWrites(t *testing.T) {
	s := memory.New()
	reg := workflow.NewRegistry()
	var stopped atomic.Bool
	reg.Register("chatty", func(exec *workflow.Execution, _ []byte) error {
		defer stopped.Store(true)
		for {
			if err := exec.Record(history.TypeSignalReceived, []byte("tick")); err != nil {
				return err
			}
			select {
			case <-exec.Context().Done():
				return exec.Context().Err()
			case <-time.After(5 * time.Millisecond):
			}
		}
	})
	createInstance(t, s, "wf-1", "chatty", nil)

	rec := &recordingExtension{}
	startRunner(t, s, reg, testConfig("runner-a", durablesnake.WithLeaseDuration(5*time.Second)),
		runner.WithExtension(rec))

	waitFor(t, 2*time.Second, "a few events", func() bool {
		return len(eventTypes(t, s, "wf-1")) >= 3
	})

	// Another runner forces the lease to expire and takes it over.
	ctx := context.Background()
	thief := lease.NewManager(s, "runner-b", time.Minute)
	var stolen *lease.Lock
	waitFor(t, 2*time.Second, "lease takeover", func() bool {
		held, err := s.GetLock(ctx, "wf-1")
		if err != nil || held == nil {
			return false
		}
		if _, err := thief.ExpireNow(ctx, *held); err != nil {
			return false
		}
		stolen, err = thief.Acquire(ctx, "wf-1")
		return err == nil && stolen != nil
	})

	waitFor(t, 2*time.Second, "workflow to stop", stopped.Load)
	waitFor(t, 2*time.Second, "lease lost hook", func() bool { return rec.lost.Load() > 0 })

	inst, err := s.GetInstance(ctx, "wf-1")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if inst.Status != workflow.StatusRunning {
		t.Errorf("Status = %s, want running", inst.Status)
	}
	events, _ := s.GetHistory(ctx, "wf-1", 0)
	for _, e := range events {
		if e.Epoch >= stolen.Epoch {
			t.Errorf("event %s written at epoch %d after takeover at %d", e, e.Epoch, stolen.Epoch)
		}
	}
}

// ──────────────────────────────────────────────────
// Scheduling
// ──────────────────────────────────────────────────

func TestRunner_ConcurrencyLimit(t *testing.T) {
	s := memory.New()
	reg := workflow.NewRegistry()

	release := make(chan struct{})
	var running, peak atomic.Int32
	reg.Register("block", func(exec *workflow.Execution, _ []byte) error {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		select {
		case <-release:
			return nil
		case <-exec.Context().Done():
			return exec.Context().Err()
		}
	})
	for _, id := range []string{"wf-1", "wf-2", "wf-3"} {
		createInstance(t, s, id, "block", nil)
	}

	r := startRunner(t, s, reg, testConfig("runner-a", durablesnake.WithMaxConcurrent(1)))

	waitFor(t, 2*time.Second, "first workflow", func() bool { return running.Load() == 1 })
	time.Sleep(50 * time.Millisecond)
	if owned := r.Owned(); len(owned) != 1 || owned[0].State != runner.StateOwned {
		t.Fatalf("Owned() = %+v, want one owned workflow", owned)
	}

	close(release)
	for _, id := range []string{"wf-1", "wf-2", "wf-3"} {
		waitForStatus(t, s, id, workflow.StatusTerminated)
	}
	if p := peak.Load(); p != 1 {
		t.Errorf("peak concurrency = %d, want 1", p)
	}
}

func TestRunner_SkipsUnregisteredTypes(t *testing.T) {
	s := memory.New()
	reg := workflow.NewRegistry()
	reg.Register("noop", func(*workflow.Execution, []byte) error { return nil })
	createInstance(t, s, "wf-known", "noop", nil)
	createInstance(t, s, "wf-unknown", "mystery", nil)

	startRunner(t, s, reg, testConfig("runner-a"))

	waitForStatus(t, s, "wf-known", workflow.StatusTerminated)
	time.Sleep(50 * time.Millisecond)

	inst, err := s.GetInstance(context.Background(), "wf-unknown")
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if inst.Status != workflow.StatusPending {
		t.Errorf("Status = %s, want pending", inst.Status)
	}
	if l, _ := s.GetLock(context.Background(), "wf-unknown"); l != nil {
		t.Errorf("unregistered workflow was leased: %v", l)
	}
}

// Shutdown with two owned workflows, one of which ignores cancellation:
// Stop returns after the shutdown timeout and both leases expire at once.
func TestRunner_StopHandsOverLeases(t *testing.T) {
	s := memory.New()
	reg := workflow.NewRegistry()

	var started atomic.Int32
	reg.Register("cooperative", func(exec *workflow.Execution, _ []byte) error {
		started.Add(1)
		<-exec.Context().Done()
		return exec.Context().Err()
	})
	reg.Register("stubborn", func(*workflow.Execution, []byte) error {
		started.Add(1)
		time.Sleep(time.Second)
		return nil
	})
	createInstance(t, s, "wf-1", "cooperative", nil)
	createInstance(t, s, "wf-2", "stubborn", nil)

	cfg := testConfig("runner-a",
		durablesnake.WithLeaseDuration(time.Minute),
		durablesnake.WithShutdownTimeout(200*time.Millisecond),
	)
	r, err := runner.New(s, reg, cfg)
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, "both workflows", func() bool { return started.Load() == 2 })

	begin := time.Now()
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	elapsed := time.Since(begin)
	if elapsed < 150*time.Millisecond || elapsed > 800*time.Millisecond {
		t.Errorf("Stop took %v, want about the 200ms shutdown timeout", elapsed)
	}

	now := time.Now()
	for _, id := range []string{"wf-1", "wf-2"} {
		l, err := s.GetLock(context.Background(), id)
		if err != nil || l == nil {
			t.Fatalf("GetLock(%s) = %v, %v", id, l, err)
		}
		if !l.Expired(now) {
			t.Errorf("lease of %s expires at %v, want expired", id, l.ExpiresAt)
		}
		inst, _ := s.GetInstance(context.Background(), id)
		if inst.Status != workflow.StatusRunning {
			t.Errorf("%s status = %s, want running", id, inst.Status)
		}
	}
}

// Stop lands between a granted lease and the load of its instance. The
// claim must still hand the lease over even though its poll context is
// gone.
func TestRunner_StopDuringClaimHandsOverLease(t *testing.T) {
	s := newFaultyStore()
	reg := workflow.NewRegistry()
	reg.Register("noop", func(*workflow.Execution, []byte) error { return nil })
	createInstance(t, s.Store, "wf-1", "noop", nil)

	cfg := testConfig("runner-a", durablesnake.WithLeaseDuration(time.Minute))
	r, err := runner.New(s, reg, cfg, runner.WithBackoff(backoff.NewConstant(5*time.Millisecond)))
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}

	stopped := make(chan error, 1)
	var once sync.Once
	s.beforeGetInstance = func(ctx context.Context, _ string) error {
		first := false
		once.Do(func() {
			first = true
			go func() { stopped <- r.Stop(context.Background()) }()
		})
		if !first {
			return nil
		}
		<-ctx.Done()
		return ctx.Err()
	}

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	l, err := s.GetLock(context.Background(), "wf-1")
	if err != nil || l == nil {
		t.Fatalf("GetLock = %v, %v", l, err)
	}
	if !l.Expired(time.Now()) {
		t.Errorf("lease expires at %v, want expired after Stop", l.ExpiresAt)
	}
	if l.Epoch != 2 {
		t.Errorf("epoch = %d, want 2 after handover", l.Epoch)
	}
	if n := s.handoverCount("wf-1"); n != 1 {
		t.Errorf("handovers = %d, want 1", n)
	}
	if owned := r.Owned(); len(owned) != 0 {
		t.Errorf("Owned = %v, want none", owned)
	}
}

// A backend that breaks its contract for one workflow only stops that
// workflow's task. Its lease is abandoned rather than handed over and the
// runner keeps serving other workflows.
func TestRunner_InvariantViolationStopsOnlyThatWorkflow(t *testing.T) {
	tests := []struct {
		name          string
		leaseDuration time.Duration
		inject        func(s *faultyStore)
		wantStatus    workflow.Status
		wantRan       bool
	}{
		{
			name:          "history gap",
			leaseDuration: time.Minute,
			inject: func(s *faultyStore) {
				s.rewriteHistory = func(workflowID string, events []*history.Event) []*history.Event {
					if workflowID != "wf-bad" {
						return events
					}
					return []*history.Event{{
						WorkflowID: workflowID,
						SequenceID: 2,
						Type:       history.TypeWorkflowStarted,
						Epoch:      1,
						RunnerID:   "runner-a",
						CreatedAt:  time.Now().UTC(),
					}}
				}
			},
			wantStatus: workflow.StatusPending,
		},
		{
			name:          "epoch regression on extension",
			leaseDuration: 200 * time.Millisecond,
			inject: func(s *faultyStore) {
				var once sync.Once
				s.rewriteExtension = func(next, expected lease.Lock) *lease.Lock {
					if next.WorkflowID != "wf-bad" || !next.ExpiresAt.After(time.Now()) {
						return nil
					}
					var regressed *lease.Lock
					once.Do(func() {
						l := next
						l.Epoch = expected.Epoch
						regressed = &l
					})
					return regressed
				}
			},
			wantStatus: workflow.StatusRunning,
			wantRan:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newFaultyStore()
			tt.inject(s)

			reg := workflow.NewRegistry()
			reg.Register("good", func(*workflow.Execution, []byte) error { return nil })

			causes := make(chan error, 4)
			reg.Register("bad", func(exec *workflow.Execution, _ []byte) error {
				<-exec.Context().Done()
				causes <- context.Cause(exec.Context())
				return exec.Context().Err()
			})
			createInstance(t, s.Store, "wf-bad", "bad", nil)

			cfg := testConfig("runner-a", durablesnake.WithLeaseDuration(tt.leaseDuration))
			startRunner(t, s, reg, cfg)

			if tt.wantRan {
				select {
				case cause := <-causes:
					if !errors.Is(cause, durablesnake.ErrLeaseLost) {
						t.Errorf("callback stopped with %v, want ErrLeaseLost", cause)
					}
				case <-time.After(5 * time.Second):
					t.Fatal("callback was not stopped")
				}
			} else {
				waitFor(t, 2*time.Second, "history read of wf-bad", func() bool {
					return s.historyReads("wf-bad") > 0
				})
			}

			createInstance(t, s.Store, "wf-good", "good", nil)
			waitForStatus(t, s.Store, "wf-good", workflow.StatusTerminated)

			if n := s.handoverCount("wf-bad"); n != 0 {
				t.Errorf("wf-bad handed over %d times, want abandoned", n)
			}
			inst, err := s.Store.GetInstance(context.Background(), "wf-bad")
			if err != nil {
				t.Fatalf("GetInstance: %v", err)
			}
			if inst.Status != tt.wantStatus {
				t.Errorf("wf-bad status = %s, want %s", inst.Status, tt.wantStatus)
			}
			if !tt.wantRan {
				l, _ := s.GetLock(context.Background(), "wf-bad")
				if l.Epoch != 1 || l.RunnerID != "runner-a" || l.Expired(time.Now()) {
					t.Errorf("wf-bad lock = %+v, want live epoch 1 left to expire", l)
				}
			}
		})
	}
}

func TestRunner_HandsOverToNextRunner(t *testing.T) {
	s := memory.New()
	reg := workflow.NewRegistry()
	var attempts atomic.Int32
	reg.Register("resumable", func(exec *workflow.Execution, _ []byte) error {
		if attempts.Add(1) == 1 {
			if err := exec.Step("first", func(context.Context) error { return nil }); err != nil {
				return err
			}
			<-exec.Context().Done()
			return exec.Context().Err()
		}
		return exec.Step("first", func(context.Context) error {
			return errors.New("step must not run twice")
		})
	})
	createInstance(t, s, "wf-1", "resumable", nil)

	cfg := testConfig("runner-a", durablesnake.WithLeaseDuration(time.Minute))
	a, err := runner.New(s, reg, cfg)
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, "first attempt", func() bool { return attempts.Load() == 1 })
	waitFor(t, 2*time.Second, "first step", func() bool {
		return lastEventType(t, s, "wf-1") == history.TypeActivityCompleted
	})
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	startRunner(t, s, reg, testConfig("runner-b", durablesnake.WithLeaseDuration(time.Minute)))
	waitForStatus(t, s, "wf-1", workflow.StatusTerminated)
}

// ──────────────────────────────────────────────────
// Extensions
// ──────────────────────────────────────────────────

type recordingExtension struct {
	acquired atomic.Int32
	started  atomic.Int32
	appended atomic.Int32
	lost     atomic.Int32
	shutdown atomic.Int32

	mu     sync.Mutex
	closed []workflow.Status
}

func (e *recordingExtension) Name() string { return "recording" }

func (e *recordingExtension) OnLeaseAcquired(context.Context, lease.Lock, ext.Claim) error {
	e.acquired.Add(1)
	return nil
}

func (e *recordingExtension) OnWorkflowStarted(context.Context, *workflow.Instance, lease.Lock) error {
	e.started.Add(1)
	return nil
}

func (e *recordingExtension) OnEventAppended(context.Context, *history.Event) error {
	e.appended.Add(1)
	return nil
}

func (e *recordingExtension) OnLeaseLost(context.Context, lease.Lock, error) error {
	e.lost.Add(1)
	return nil
}

func (e *recordingExtension) OnWorkflowClosed(_ context.Context, inst *workflow.Instance, _ time.Duration) error {
	e.mu.Lock()
	e.closed = append(e.closed, inst.Status)
	e.mu.Unlock()
	return nil
}

func (e *recordingExtension) OnShutdown(context.Context) error {
	e.shutdown.Add(1)
	return nil
}

func TestRunner_EmitsLifecycleHooks(t *testing.T) {
	s := memory.New()
	reg := workflow.NewRegistry()
	reg.Register("noop", func(*workflow.Execution, []byte) error { return nil })
	createInstance(t, s, "wf-1", "noop", nil)

	rec := &recordingExtension{}
	r, err := runner.New(s, reg, testConfig("runner-a"), runner.WithExtension(rec))
	if err != nil {
		t.Fatalf("runner.New: %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, s, "wf-1", workflow.StatusTerminated)
	waitFor(t, time.Second, "closed hook", func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.closed) == 1
	})
	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if got := rec.acquired.Load(); got != 1 {
		t.Errorf("acquired = %d, want 1", got)
	}
	if got := rec.started.Load(); got != 1 {
		t.Errorf("started = %d, want 1", got)
	}
	if got := rec.appended.Load(); got != 2 {
		t.Errorf("appended = %d, want 2", got)
	}
	if got := rec.shutdown.Load(); got != 1 {
		t.Errorf("shutdown = %d, want 1", got)
	}
	if rec.closed[0] != workflow.StatusTerminated {
		t.Errorf("closed status = %s, want terminated", rec.closed[0])
	}
}
