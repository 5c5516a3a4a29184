package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	durablesnake "github.com/danthegoodman1/DurableSnake"
	"github.com/danthegoodman1/DurableSnake/backoff"
	"github.com/danthegoodman1/DurableSnake/ext"
	"github.com/danthegoodman1/DurableSnake/history"
	"github.com/danthegoodman1/DurableSnake/id"
	"github.com/danthegoodman1/DurableSnake/lease"
	"github.com/danthegoodman1/DurableSnake/middleware"
	"github.com/danthegoodman1/DurableSnake/workflow"
)

var (
	errExtensionRefused = errors.New("lease extension refused")
	errWriteRefused     = errors.New("fenced write refused")
	errLocallyExpired   = errors.New("lease expired before it could be renewed")
)

// task is one tracked workflow. The execution loop, the renewal goroutine
// and shutdown share it.
type task struct {
	id     string
	claim  ext.Claim
	holder *lease.Holder
	inst   *workflow.Instance
	log    *history.Log

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
	renew  chan struct{}

	// leaseMu serializes every backend call made under the lease so that
	// an extension never bumps the epoch under an in-flight write.
	leaseMu  sync.Mutex
	released bool
	closed   bool

	// appendMu keeps Next, AppendEvent and Commit together.
	appendMu sync.Mutex

	mu    sync.Mutex
	state State
	since time.Time
}

func newTask(workflowID string, kind ext.Claim, now time.Time) *task {
	return &task{
		id:    workflowID,
		claim: kind,
		done:  make(chan struct{}),
		renew: make(chan struct{}),
		state: StateAcquiring,
		since: now,
	}
}

// own binds the task to a claimed instance.
func (t *task) own(parent context.Context, inst *workflow.Instance, now time.Time) {
	t.inst = inst
	t.ctx, t.cancel = context.WithCancelCause(parent)
	t.setState(StateOwned, now)
}

func (t *task) setState(s State, now time.Time) {
	t.mu.Lock()
	t.state = s
	t.since = now
	t.mu.Unlock()
}

// grant installs the lock returned by a successful claim.
func (t *task) grant(l lease.Lock, grantedAt time.Time) {
	t.mu.Lock()
	t.holder = lease.NewHolder(l, grantedAt)
	t.mu.Unlock()
}

// granted reports whether the claim succeeded.
func (t *task) granted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.holder != nil
}

func (t *task) info() TaskInfo {
	t.mu.Lock()
	info := TaskInfo{WorkflowID: t.id, State: t.state, Since: t.since}
	holder := t.holder
	t.mu.Unlock()
	if holder != nil {
		l := holder.Current()
		info.Epoch = l.Epoch
		info.ExpiresAt = l.ExpiresAt
	}
	return info
}

// recorder appends events on behalf of a workflow callback.
type recorder struct {
	r *Runner
	t *task
}

func (rec recorder) Record(ctx context.Context, typ history.Type, payload []byte) (*history.Event, error) {
	return rec.r.append(ctx, rec.t, typ, payload)
}

// ──────────────────────────────────────────────────
// Execution loop
// ──────────────────────────────────────────────────

// run is the per-workflow execution loop.
func (r *Runner) run(t *task) {
	defer r.active.Done()

	go r.renewLoop(t)
	err := r.execute(t)
	close(t.done)
	<-t.renew

	logger := r.logger.With(
		slog.String("workflow_id", t.id),
		slog.String("runner_id", r.cfg.RunnerID),
		slog.Int64("epoch", t.holder.Current().Epoch),
	)
	switch {
	case err == nil:
	case errors.Is(err, durablesnake.ErrLeaseLost) || t.holder.Lost():
		logger.Debug("execution stopped after lease loss")
	case durablesnake.IsInvariantViolation(err):
		// The lease is left to expire so that no further writes are made
		// under it.
		logger.Error("backend contract violated, abandoning workflow",
			slog.String("workflow_type", t.inst.Type),
			slog.String("error", err.Error()),
		)
	case errors.Is(err, context.Canceled):
		logger.Debug("execution interrupted")
		r.handOver(context.WithoutCancel(t.ctx), t)
	default:
		logger.Warn("execution aborted", slog.String("error", err.Error()))
		r.handOver(context.WithoutCancel(t.ctx), t)
	}

	t.cancel(nil)
	r.drop(t)
}

// execute loads the history, starts the instance if needed, runs the
// registered callback through the middleware chain and records the outcome.
func (r *Runner) execute(t *task) error {
	ctx := t.ctx
	inst := t.inst

	fn, ok := r.registry.Get(inst.Type)
	if !ok {
		return fmt.Errorf("%w: %s", durablesnake.ErrWorkflowNotRegistered, inst.Type)
	}

	var events []*history.Event
	err := r.retry(ctx, t, func() error {
		var err error
		events, err = r.store.GetHistory(ctx, t.id, 0)
		return err
	})
	if err != nil {
		return err
	}
	log, err := history.NewLog(t.id, events)
	if err != nil {
		return err
	}
	t.log = log

	if inst.Status == workflow.StatusPending {
		started := inst.Clone()
		started.Status = workflow.StatusRunning
		started.StartedAt = r.now().UTC()
		if err := r.fenced(ctx, t, "start instance", func(ctx context.Context, l lease.Lock) (bool, error) {
			return r.store.UpdateInstance(ctx, started, l)
		}); err != nil {
			return err
		}
		inst = started
		t.inst = started
	}
	if log.Len() == 0 {
		if _, err := r.append(ctx, t, history.TypeWorkflowStarted, inst.Input); err != nil {
			return err
		}
	}

	r.logger.Info("workflow started",
		slog.String("workflow_id", t.id),
		slog.String("workflow_type", inst.Type),
		slog.String("claim", string(t.claim)),
		slog.Int64("epoch", t.holder.Current().Epoch),
		slog.Int64("history_length", log.Len()),
	)
	r.exts.EmitWorkflowStarted(ctx, inst, t.holder.Current())

	var exec *workflow.Execution
	runErr := r.mw(ctx, inst, func(ctx context.Context) error {
		exec = workflow.NewExecution(ctx, inst.Clone(), log, recorder{r: r, t: t},
			workflow.WithContinuePolicy(r.policy),
			workflow.WithExecutionLogger(r.logger),
			workflow.WithExecutionClock(r.now),
		)
		return fn(exec, inst.Input)
	})

	var output []byte
	if exec != nil {
		output = exec.Output()
	}
	return r.conclude(t, inst, output, runErr)
}

// conclude maps the callback's result to a terminal status and writes it.
// An interrupted or fenced-out execution writes nothing and leaves the
// instance open for the next owner.
func (r *Runner) conclude(t *task, inst *workflow.Instance, output []byte, runErr error) error {
	if t.holder.Lost() {
		return durablesnake.ErrLeaseLost
	}
	if runErr != nil && t.ctx.Err() != nil {
		return context.Cause(t.ctx)
	}
	if errors.Is(runErr, durablesnake.ErrLeaseLost) || durablesnake.IsInvariantViolation(runErr) {
		return runErr
	}

	closing := inst.Clone()
	closing.ClosedAt = r.now().UTC()

	var (
		next    *workflow.Instance
		evType  history.Type
		payload []byte
	)
	outcome := middleware.Classify(t.ctx, inst, runErr)
	if !outcome.Closes() {
		return runErr
	}
	switch outcome {
	case middleware.OutcomeFinished:
		closing.Status = workflow.StatusTerminated
		closing.Output = output
		evType, payload = history.TypeWorkflowFinished, output
	case middleware.OutcomeContinuedAsNew:
		can, _ := workflow.AsContinueAsNew(runErr)
		next = r.successor(inst, can.Input)
		closing.Status = workflow.StatusContinuedAsNew
		evType = history.TypeWorkflowContinuedAsNew
		payload, _ = json.Marshal(map[string]string{"next_id": next.ID})
	case middleware.OutcomeCancelled:
		closing.Status = workflow.StatusCancelled
		closing.Error = runErr.Error()
		evType, payload = history.TypeWorkflowCanceled, []byte(closing.Error)
	case middleware.OutcomeTimedOut:
		closing.Status = workflow.StatusTimedOut
		closing.Error = runErr.Error()
		evType = history.TypeWorkflowTimedOut
	case middleware.OutcomeFailed:
		closing.Status = workflow.StatusFailed
		closing.Error = runErr.Error()
		evType, payload = history.TypeWorkflowFailed, []byte(closing.Error)
	}

	// The callback is done, so the closing writes must not be cut short by
	// a shutdown that started meanwhile. They cannot outlive the lease.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(t.ctx), r.cfg.LeaseDuration)
	defer cancel()

	var err error
	if next != nil {
		err = r.fenced(ctx, t, "continue instance", func(ctx context.Context, l lease.Lock) (bool, error) {
			return r.store.ContinueInstance(ctx, closing, next, l)
		})
	} else {
		err = r.fenced(ctx, t, "close instance", func(ctx context.Context, l lease.Lock) (bool, error) {
			return r.store.UpdateInstance(ctx, closing, l)
		})
	}
	if err != nil {
		return err
	}
	t.leaseMu.Lock()
	t.closed = true
	t.leaseMu.Unlock()

	if _, err := r.append(ctx, t, evType, payload); err != nil {
		r.logger.Warn("terminal event not recorded",
			slog.String("workflow_id", t.id),
			slog.String("type", string(evType)),
			slog.String("error", err.Error()),
		)
	}

	attrs := []any{
		slog.String("workflow_id", t.id),
		slog.String("workflow_type", inst.Type),
		slog.String("status", string(closing.Status)),
	}
	switch {
	case closing.Status == workflow.StatusFailed:
		r.logger.Error("workflow failed", append(attrs, slog.String("error", closing.Error))...)
	case next != nil:
		r.logger.Info("workflow continued as new", append(attrs, slog.String("next_id", next.ID))...)
	default:
		r.logger.Info("workflow closed", attrs...)
	}
	r.exts.EmitWorkflowClosed(ctx, closing, closing.ClosedAt.Sub(closing.StartedAt))
	return nil
}

// successor builds the PENDING instance that continues inst.
func (r *Runner) successor(inst *workflow.Instance, input []byte) *workflow.Instance {
	return &workflow.Instance{
		ID:            id.NewWorkflowID(),
		Type:          inst.Type,
		Status:        workflow.StatusPending,
		Queue:         inst.Queue,
		ParentID:      inst.ParentID,
		ContinuedFrom: inst.ID,
		Input:         input,
		Timeout:       inst.Timeout,
		CreatedAt:     r.now().UTC(),
	}
}

// append records one event under the held lease and commits it to the
// task's log.
func (r *Runner) append(ctx context.Context, t *task, typ history.Type, payload []byte) (*history.Event, error) {
	t.appendMu.Lock()
	defer t.appendMu.Unlock()

	held := t.holder.Current()
	e, err := t.log.Next(typ, payload, held.Epoch, held.RunnerID, r.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := r.fenced(ctx, t, "append event", func(ctx context.Context, l lease.Lock) (bool, error) {
		e.Epoch = l.Epoch
		return r.store.AppendEvent(ctx, e, l)
	}); err != nil {
		return nil, err
	}
	if err := t.log.Commit(e); err != nil {
		return nil, err
	}
	r.exts.EmitEventAppended(ctx, e)
	return e, nil
}

// ──────────────────────────────────────────────────
// Fencing
// ──────────────────────────────────────────────────

// fenced performs a write guarded by the held lease. A refusal, or a
// sequence collision, means another runner owns the workflow: the task is
// cancelled and ErrLeaseLost returned. Transient failures are retried until
// the lease expires locally.
func (r *Runner) fenced(ctx context.Context, t *task, op string, write func(ctx context.Context, l lease.Lock) (bool, error)) error {
	err := backoff.Retry(ctx, r.backoff, -1, r.retryable(t), func() error {
		t.leaseMu.Lock()
		defer t.leaseMu.Unlock()
		if t.released || t.holder.Lost() {
			return durablesnake.ErrLeaseLost
		}

		held := t.holder.Current()
		ok, err := write(ctx, held)
		switch {
		case errors.Is(err, durablesnake.ErrEventConflict):
			r.lose(t, held, err)
			return fmt.Errorf("%s: %w", op, durablesnake.ErrLeaseLost)
		case err != nil:
			return fmt.Errorf("%s: %w", op, err)
		case !ok:
			r.lose(t, held, errWriteRefused)
			return fmt.Errorf("%s: %w", op, durablesnake.ErrLeaseLost)
		}
		return nil
	})
	if err != nil && transient(err) {
		r.expireIfStale(t)
	}
	return err
}

// retry runs a read until it succeeds or the lease expires locally.
func (r *Runner) retry(ctx context.Context, t *task, read func() error) error {
	err := backoff.Retry(ctx, r.backoff, -1, r.retryable(t), read)
	if err != nil && transient(err) {
		r.expireIfStale(t)
	}
	return err
}

func (r *Runner) retryable(t *task) func(error) bool {
	return func(err error) bool {
		if !transient(err) || t.holder.Expired(r.now()) {
			return false
		}
		r.logger.Warn("backend call failed, retrying",
			slog.String("workflow_id", t.id),
			slog.String("error", err.Error()),
		)
		return true
	}
}

func (r *Runner) expireIfStale(t *task) {
	t.leaseMu.Lock()
	defer t.leaseMu.Unlock()
	if t.holder.Expired(r.now()) {
		r.lose(t, t.holder.Current(), errLocallyExpired)
	}
}

// lose records an involuntary loss of ownership and cancels the task. The
// caller holds leaseMu.
func (r *Runner) lose(t *task, l lease.Lock, reason error) {
	if t.holder.Lost() || t.released {
		return
	}
	t.holder.MarkLost()
	t.setState(StateExpired, r.now())
	r.logger.Info("lease lost",
		slog.String("workflow_id", t.id),
		slog.String("runner_id", l.RunnerID),
		slog.Int64("epoch", l.Epoch),
		slog.String("reason", reason.Error()),
	)
	r.exts.EmitLeaseLost(context.WithoutCancel(t.ctx), l, reason)
	if t.cancel != nil {
		t.cancel(durablesnake.ErrLeaseLost)
	}
}

// transient reports whether err is a backend failure worth retrying rather
// than a contract answer or a cancellation.
func transient(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, durablesnake.ErrLeaseLost),
		errors.Is(err, durablesnake.ErrEventConflict),
		errors.Is(err, durablesnake.ErrInvalidTransition),
		errors.Is(err, durablesnake.ErrInvalidEvent),
		errors.Is(err, durablesnake.ErrInstanceNotFound),
		errors.Is(err, durablesnake.ErrInstanceExists),
		durablesnake.IsInvariantViolation(err):
		return false
	}
	return true
}

// ──────────────────────────────────────────────────
// Renewal and handover
// ──────────────────────────────────────────────────

// renewLoop extends the lease once the configured fraction of its duration
// has elapsed, until the execution loop exits or the lease is lost.
func (r *Runner) renewLoop(t *task) {
	defer close(t.renew)

	after := r.cfg.ExtendAfter()
	failures := 0
	for {
		wait := t.holder.GrantedAt().Add(after).Sub(r.now())
		if failures > 0 {
			wait = r.backoff.Delay(failures)
		}
		timer := time.NewTimer(wait)
		select {
		case <-t.done:
			timer.Stop()
			return
		case <-timer.C:
		}
		if t.holder.Lost() {
			return
		}
		if failures == 0 && !t.holder.ShouldExtend(r.now(), after) {
			continue
		}

		again, err := r.extend(t)
		if !again {
			return
		}
		if err != nil {
			failures++
			r.logger.Warn("lease extension failed, retrying",
				slog.String("workflow_id", t.id),
				slog.Int("failures", failures),
				slog.String("error", err.Error()),
			)
			continue
		}
		failures = 0
	}
}

// extend renews the held lease once. It reports whether renewal should go
// on, along with a transient error to retry.
func (r *Runner) extend(t *task) (bool, error) {
	t.leaseMu.Lock()
	defer t.leaseMu.Unlock()
	if t.released || t.holder.Lost() {
		return false, nil
	}

	held := t.holder.Current()
	ctx, cancel := context.WithDeadline(context.WithoutCancel(t.ctx), held.ExpiresAt)
	defer cancel()

	grantedAt := r.now()
	l, err := r.leases.Extend(ctx, held)
	switch {
	case durablesnake.IsInvariantViolation(err):
		r.logger.Error("lease epoch regressed",
			slog.String("workflow_id", t.id),
			slog.String("error", err.Error()),
		)
		r.lose(t, held, err)
		return false, nil
	case err != nil:
		if held.Expired(r.now()) {
			r.lose(t, held, errLocallyExpired)
			return false, nil
		}
		return true, err
	case l == nil:
		r.lose(t, held, errExtensionRefused)
		return false, nil
	}

	t.holder.Replace(*l, grantedAt)
	r.logger.Debug("lease extended",
		slog.String("workflow_id", t.id),
		slog.Int64("epoch", l.Epoch),
		slog.Time("expires_at", l.ExpiresAt),
	)
	r.exts.EmitLeaseExtended(ctx, *l)
	return true, nil
}

// handOver expires the held lease immediately so that another runner can
// reclaim the workflow. It is a no-op once the lease was lost, released or
// the instance closed.
func (r *Runner) handOver(ctx context.Context, t *task) {
	t.leaseMu.Lock()
	defer t.leaseMu.Unlock()
	if t.released || t.closed || t.holder.Lost() {
		return
	}
	t.setState(StateReleasing, r.now())

	held := t.holder.Current()
	l, err := r.leases.ExpireNow(ctx, held)
	switch {
	case err != nil:
		// released stays false so that a later handover can retry.
		r.logger.Warn("lease handover failed",
			slog.String("workflow_id", t.id),
			slog.Int64("epoch", held.Epoch),
			slog.String("error", err.Error()),
		)
	case l == nil:
		t.released = true
		r.logger.Debug("lease handover refused", slog.String("workflow_id", t.id))
	default:
		t.released = true
		t.holder.Replace(*l, r.now())
		r.logger.Debug("lease handed over",
			slog.String("workflow_id", t.id),
			slog.Int64("epoch", l.Epoch),
		)
	}
	if t.cancel != nil {
		t.cancel(context.Canceled)
	}
}
