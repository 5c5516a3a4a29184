// Package runner drives workflow execution. A Runner recovers the leases it
// held before a restart, polls its queue for pending instances, reclaims
// leases that other runners let expire, and runs one execution loop per
// owned workflow, renewing the lease in the background and fencing every
// write with it.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	durablesnake "github.com/danthegoodman1/DurableSnake"
	"github.com/danthegoodman1/DurableSnake/backoff"
	"github.com/danthegoodman1/DurableSnake/ext"
	"github.com/danthegoodman1/DurableSnake/lease"
	"github.com/danthegoodman1/DurableSnake/middleware"
	"github.com/danthegoodman1/DurableSnake/store"
	"github.com/danthegoodman1/DurableSnake/workflow"
)

// ErrStopped is returned by Start on a runner that has been stopped.
var ErrStopped = errors.New("durablesnake: runner stopped")

// recoveryParallelism bounds concurrent lease recoveries at startup.
const recoveryParallelism = 8

// Runner is a single workflow runner process.
type Runner struct {
	store    store.Store
	registry *workflow.Registry
	cfg      durablesnake.Config
	leases   *lease.Manager
	exts     *ext.Registry
	mw       middleware.Middleware

	logger         *slog.Logger
	mws            []middleware.Middleware
	pendingExts    []ext.Extension
	backoff        backoff.Strategy
	policy         workflow.ContinuePolicy
	now            func() time.Time
	releaseTimeout time.Duration

	sem     *semaphore.Weighted
	limiter *rate.Limiter

	// ctx is the parent of every task context. loopCtx bounds the backend
	// calls of the discovery loops.
	ctx        context.Context
	cancel     context.CancelFunc
	loopCtx    context.Context
	loopCancel context.CancelFunc
	stopCh     chan struct{}
	loops      sync.WaitGroup
	active     sync.WaitGroup

	mu      sync.Mutex
	running bool
	stopped bool
	tasks   map[string]*task
}

// New creates a runner for cfg. The registry must be fully populated before
// Start is called.
func New(s store.Store, registry *workflow.Registry, cfg durablesnake.Config, opts ...Option) (*Runner, error) {
	if s == nil {
		return nil, durablesnake.ErrNoStore
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: workflow registry is required", durablesnake.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runner{
		store:          s,
		registry:       registry,
		cfg:            cfg,
		logger:         slog.Default(),
		backoff:        backoff.DefaultStrategy(),
		policy:         workflow.NeverContinue{},
		now:            time.Now,
		releaseTimeout: 5 * time.Second,
		stopCh:         make(chan struct{}),
		tasks:          make(map[string]*task),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.leases = lease.NewManager(s, cfg.RunnerID, cfg.LeaseDuration,
		lease.WithClock(r.now),
		lease.WithLogger(r.logger),
	)
	r.exts = ext.NewRegistry(r.logger)
	for _, e := range r.pendingExts {
		r.exts.Register(e)
	}

	chain := make([]middleware.Middleware, 0, len(r.mws)+2)
	chain = append(chain, r.mws...)
	chain = append(chain, middleware.Recover(r.logger), middleware.Timeout(r.logger))
	r.mw = middleware.Chain(chain...)

	if cfg.MaxConcurrent > 0 {
		r.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	if cfg.AcquireRate > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.AcquireRate), max(cfg.AcquireBurst, 1))
	}
	return r, nil
}

// RunnerID returns the identity leases are granted to.
func (r *Runner) RunnerID() string { return r.cfg.RunnerID }

// Extensions returns the runner's extension registry.
func (r *Runner) Extensions() *ext.Registry { return r.exts }

// Start recovers the leases this runner held before a restart and then
// launches the pending-work and reclamation loops. It returns once recovery
// is done.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrStopped
	}
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	base := context.WithoutCancel(ctx)
	r.ctx, r.cancel = context.WithCancel(base)
	r.loopCtx, r.loopCancel = context.WithCancel(base)
	r.mu.Unlock()

	r.logger.Info("runner starting",
		slog.String("runner_id", r.cfg.RunnerID),
		slog.String("queue", r.cfg.Queue),
		slog.Duration("lease_duration", r.cfg.LeaseDuration),
		slog.Int("max_concurrent", r.cfg.MaxConcurrent),
	)

	r.recoverHeld(ctx)

	r.loops.Add(2)
	go r.loop("pending", r.cfg.PendingPollInterval, r.pollPending)
	go r.loop("reclaim", r.cfg.ExpiredLockPollInterval, r.reclaimExpired)
	return nil
}

// Stop stops discovering work, cancels every execution loop and waits for
// them up to the configured shutdown timeout or until ctx is done. Leases
// still held afterwards are expired immediately so that another runner can
// take over without waiting out the lease duration. Stop does not wait for
// execution loops that ignore cancellation.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.stopped = true
	r.mu.Unlock()

	r.logger.Info("runner stopping", slog.String("runner_id", r.cfg.RunnerID))

	close(r.stopCh)
	r.loopCancel()
	r.loops.Wait()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.active.Wait()
		close(done)
	}()

	timer := time.NewTimer(r.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
		r.logger.Info("runner stopped gracefully")
	case <-timer.C:
		r.logger.Warn("runner shutdown timed out, releasing leases of running workflows",
			slog.Int("running", len(r.Owned())),
		)
	case <-ctx.Done():
		r.logger.Warn("runner shutdown interrupted, releasing leases of running workflows")
	}

	r.releaseAll(ctx)
	r.exts.EmitShutdown(ctx)
	return nil
}

// Owned returns a snapshot of the workflows this runner is tracking, sorted
// by workflow id.
func (r *Runner) Owned() []TaskInfo {
	r.mu.Lock()
	tasks := make([]*task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	r.mu.Unlock()

	out := make([]TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkflowID < out[j].WorkflowID })
	return out
}

// releaseAll expires the lease of every task still tracked. Handovers run
// concurrently and are abandoned after the release timeout.
func (r *Runner) releaseAll(ctx context.Context) {
	r.mu.Lock()
	tasks := make([]*task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	r.mu.Unlock()
	if len(tasks) == 0 {
		return
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.releaseTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, t := range tasks {
		if !t.granted() {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.handOver(rctx, t)
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-rctx.Done():
		r.logger.Warn("lease handover timed out")
	}
}

// ──────────────────────────────────────────────────
// Discovery
// ──────────────────────────────────────────────────

// recoverHeld re-asserts the leases the store still attributes to this
// runner id.
func (r *Runner) recoverHeld(ctx context.Context) {
	held, err := r.leases.ListHeldBy(ctx, r.cfg.RunnerID)
	if err != nil {
		r.logger.Warn("startup recovery failed",
			slog.String("runner_id", r.cfg.RunnerID),
			slog.String("error", err.Error()),
		)
		return
	}
	if len(held) == 0 {
		return
	}
	r.logger.Info("recovering held leases", slog.Int("count", len(held)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(recoveryParallelism)
	for _, l := range held {
		previous := *l
		g.Go(func() error {
			r.claim(gctx, previous.WorkflowID, ext.ClaimRecovered, func(ctx context.Context) (*lease.Lock, error) {
				return r.leases.Recover(ctx, previous)
			})
			return nil
		})
	}
	_ = g.Wait()
}

// loop runs poll every interval until Stop. Consecutive failures stretch
// the wait with the backoff strategy.
func (r *Runner) loop(name string, interval time.Duration, poll func(ctx context.Context) error) {
	defer r.loops.Done()

	failures := 0
	for {
		if err := poll(r.loopCtx); err != nil && r.loopCtx.Err() == nil {
			failures++
			r.logger.Warn("poll failed",
				slog.String("loop", name),
				slog.Int("failures", failures),
				slog.String("error", err.Error()),
			)
		} else {
			failures = 0
		}

		wait := interval
		if failures > 0 {
			wait += r.backoff.Delay(failures)
		}
		if !r.sleep(wait) {
			return
		}
	}
}

// pollPending claims pending instances on the runner's queue.
func (r *Runner) pollPending(ctx context.Context) error {
	pending, err := r.store.ListPending(ctx, r.cfg.Queue, r.cfg.PendingBatchSize)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	for _, inst := range pending {
		if r.stopping() {
			return nil
		}
		if _, ok := r.registry.Get(inst.Type); !ok {
			r.logger.Debug("skipping pending workflow of unregistered type",
				slog.String("workflow_id", inst.ID),
				slog.String("workflow_type", inst.Type),
			)
			continue
		}
		workflowID := inst.ID
		if !r.claim(ctx, workflowID, ext.ClaimPending, func(ctx context.Context) (*lease.Lock, error) {
			return r.leases.Acquire(ctx, workflowID)
		}) {
			break
		}
	}
	return nil
}

// reclaimExpired claims expired leases of workflows this runner can serve.
// The listing is only a hint; every claim goes through the lease protocol.
func (r *Runner) reclaimExpired(ctx context.Context) error {
	expired, err := r.leases.ListExpired(ctx, r.cfg.ExpiredBatchSize)
	if err != nil {
		return fmt.Errorf("list expired locks: %w", err)
	}
	for _, l := range expired {
		if r.stopping() {
			return nil
		}
		if r.tracking(l.WorkflowID) {
			continue
		}
		inst, err := r.store.GetInstance(ctx, l.WorkflowID)
		if errors.Is(err, durablesnake.ErrInstanceNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("get instance %s: %w", l.WorkflowID, err)
		}
		if !r.serves(inst) {
			continue
		}
		stale := *l
		if !r.claim(ctx, stale.WorkflowID, ext.ClaimReclaimed, func(ctx context.Context) (*lease.Lock, error) {
			return r.leases.Reclaim(ctx, stale)
		}) {
			break
		}
	}
	return nil
}

// claim tries to take ownership of one workflow and starts its execution
// loop on success. It returns false when no further claims should be
// attempted in the current batch.
func (r *Runner) claim(ctx context.Context, workflowID string, kind ext.Claim, acquire func(context.Context) (*lease.Lock, error)) bool {
	if !r.reserve() {
		return false
	}
	t, ok := r.track(workflowID, kind)
	if !ok {
		r.unreserve()
		return true
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			r.drop(t)
			return false
		}
	}

	grantedAt := r.now()
	l, err := acquire(ctx)
	if err != nil {
		level := slog.LevelWarn
		if durablesnake.IsInvariantViolation(err) {
			level = slog.LevelError
		}
		r.logger.Log(ctx, level, "lease acquisition failed",
			slog.String("workflow_id", workflowID),
			slog.String("claim", string(kind)),
			slog.String("error", err.Error()),
		)
		r.drop(t)
		return true
	}
	if l == nil {
		r.logger.Debug("lease not acquired",
			slog.String("workflow_id", workflowID),
			slog.String("claim", string(kind)),
		)
		r.exts.EmitLeaseRefused(ctx, workflowID, kind)
		r.drop(t)
		return true
	}

	t.grant(*l, grantedAt)
	r.exts.EmitLeaseAcquired(ctx, *l, kind)

	inst, err := r.store.GetInstance(ctx, workflowID)
	if err != nil || !r.serves(inst) {
		attrs := []any{slog.String("workflow_id", workflowID), slog.Int64("epoch", l.Epoch)}
		switch {
		case err != nil && !errors.Is(err, durablesnake.ErrInstanceNotFound):
			r.logger.Warn("load claimed workflow failed", append(attrs, slog.String("error", err.Error()))...)
		case err == nil && !inst.Closed():
			r.logger.Warn("claimed workflow is not served by this runner",
				append(attrs, slog.String("workflow_type", inst.Type), slog.String("queue", inst.Queue))...)
		}
		// ctx may already be cancelled by Stop, which will not see the
		// task once it is dropped.
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.releaseTimeout)
		r.handOver(hctx, t)
		cancel()
		r.drop(t)
		return true
	}

	r.logger.Debug("lease acquired",
		slog.String("workflow_id", workflowID),
		slog.String("claim", string(kind)),
		slog.Int64("epoch", l.Epoch),
	)
	t.own(r.ctx, inst, r.now())
	r.active.Add(1)
	go r.run(t)
	return true
}

// serves reports whether inst is open and belongs to this runner's queue
// and registered types.
func (r *Runner) serves(inst *workflow.Instance) bool {
	if inst.Closed() || inst.Queue != r.cfg.Queue {
		return false
	}
	_, ok := r.registry.Get(inst.Type)
	return ok
}

// ──────────────────────────────────────────────────
// Task bookkeeping
// ──────────────────────────────────────────────────

func (r *Runner) track(workflowID string, kind ext.Claim) (*task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[workflowID]; ok {
		return nil, false
	}
	t := newTask(workflowID, kind, r.now())
	r.tasks[workflowID] = t
	return t, true
}

func (r *Runner) tracking(workflowID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[workflowID]
	return ok
}

func (r *Runner) untrack(workflowID string) {
	r.mu.Lock()
	delete(r.tasks, workflowID)
	r.mu.Unlock()
}

// drop forgets a task and returns its concurrency slot.
func (r *Runner) drop(t *task) {
	r.untrack(t.id)
	r.leases.Forget(t.id)
	r.unreserve()
}

func (r *Runner) reserve() bool {
	return r.sem == nil || r.sem.TryAcquire(1)
}

func (r *Runner) unreserve() {
	if r.sem != nil {
		r.sem.Release(1)
	}
}

func (r *Runner) stopping() bool {
	select {
	case <-r.stopCh:
		return true
	default:
		return false
	}
}

// sleep waits for d and reports false if the runner is stopping.
func (r *Runner) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.stopCh:
		return false
	}
}
