package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	durablesnake "github.com/danthegoodman1/DurableSnake"
	"github.com/danthegoodman1/DurableSnake/history"
)

// Recorder appends events to the history of the workflow being executed.
// The runner implements it by fencing every append with the held lease and
// committing accepted events to the execution's log.
type Recorder interface {
	Record(ctx context.Context, t history.Type, payload []byte) (*history.Event, error)
}

// Execution is the explicit context handed to a workflow callback. It is
// bound to one instance and one lease grant and must not be shared between
// goroutines other than through its own methods.
type Execution struct {
	ctx      context.Context
	inst     *Instance
	log      *history.Log
	recorder Recorder
	policy   ContinuePolicy
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	output []byte
	timers int
}

// ExecutionOption configures an Execution.
type ExecutionOption func(*Execution)

// WithContinuePolicy sets the policy behind ShouldContinueAsNew.
func WithContinuePolicy(p ContinuePolicy) ExecutionOption {
	return func(e *Execution) { e.policy = p }
}

// WithExecutionLogger sets the logger returned by Logger.
func WithExecutionLogger(l *slog.Logger) ExecutionOption {
	return func(e *Execution) { e.logger = l }
}

// WithExecutionClock sets the time source for durable timers.
func WithExecutionClock(now func() time.Time) ExecutionOption {
	return func(e *Execution) { e.now = now }
}

// NewExecution creates the execution context for inst. This is called by
// the runner, not by users.
func NewExecution(ctx context.Context, inst *Instance, log *history.Log, recorder Recorder, opts ...ExecutionOption) *Execution {
	e := &Execution{
		ctx:      ctx,
		inst:     inst,
		log:      log,
		recorder: recorder,
		policy:   NeverContinue{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Context returns the execution's context. It is cancelled when the runner
// loses the lease, shuts down or the instance times out.
func (e *Execution) Context() context.Context { return e.ctx }

// WorkflowID returns the instance id.
func (e *Execution) WorkflowID() string { return e.inst.ID }

// Instance returns a copy of the instance as it was when execution began.
func (e *Execution) Instance() *Instance { return e.inst.Clone() }

// Logger returns a logger carrying the workflow id.
func (e *Execution) Logger() *slog.Logger {
	return e.logger.With(slog.String("workflow_id", e.inst.ID))
}

// History returns the committed events.
func (e *Execution) History() []*history.Event { return e.log.Events() }

// Record appends a custom event. Workflow lifecycle events are written by
// the runner and are rejected here.
func (e *Execution) Record(t history.Type, payload []byte) error {
	if t.Terminal() || t == history.TypeWorkflowStarted {
		return fmt.Errorf("%w: %s is written by the runner", durablesnake.ErrInvalidEvent, t)
	}
	_, err := e.recorder.Record(e.ctx, t, payload)
	return err
}

// ShouldContinueAsNew reports whether the history has grown past the
// configured continue policy.
func (e *Execution) ShouldContinueAsNew() bool {
	return e.policy.ShouldContinueAsNew(e.log.Len(), e.log.Bytes())
}

// SetOutput JSON-encodes v as the instance's result.
func (e *Execution) SetOutput(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal output for workflow %s: %w", e.inst.ID, err)
	}
	e.mu.Lock()
	e.output = data
	e.mu.Unlock()
	return nil
}

// Output returns the result set with SetOutput.
func (e *Execution) Output() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.output
}

type activityRecord struct {
	Name   string          `json:"name"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type timerRecord struct {
	ID     int       `json:"id"`
	FireAt time.Time `json:"fire_at"`
}

// completed returns the recorded result of an activity that already
// completed in an earlier attempt.
func (e *Execution) completed(t history.Type, name string) (*activityRecord, bool) {
	for _, ev := range e.log.Events() {
		if ev.Type != t {
			continue
		}
		var rec activityRecord
		if json.Unmarshal(ev.Payload, &rec) == nil && rec.Name == name {
			return &rec, true
		}
	}
	return nil, false
}

func (e *Execution) recordJSON(t history.Type, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", t, err)
	}
	_, err = e.recorder.Record(e.ctx, t, data)
	return err
}

// Step executes a named activity. If an earlier attempt of this workflow
// already completed the activity, fn is skipped.
func (e *Execution) Step(name string, fn func(ctx context.Context) error) error {
	_, err := runActivity(e, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// StepWithResult executes a named activity returning a JSON-serializable
// value. A completed activity returns its recorded result without running
// fn again.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func StepWithResult[T any](e *Execution, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	return runActivity(e, name, fn)
}

func runActivity[T any](e *Execution, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if rec, ok := e.completed(history.TypeActivityCompleted, name); ok {
		var result T
		if len(rec.Result) > 0 {
			if err := json.Unmarshal(rec.Result, &result); err != nil {
				return zero, fmt.Errorf("workflow %s: decode result of %q: %w", e.inst.ID, name, err)
			}
		}
		e.logger.Debug("skipping completed activity",
			slog.String("workflow_id", e.inst.ID),
			slog.String("activity", name),
		)
		return result, nil
	}

	if err := e.recordJSON(history.TypeActivityStarted, activityRecord{Name: name}); err != nil {
		return zero, err
	}

	result, err := fn(e.ctx)
	if err != nil {
		if e.ctx.Err() != nil {
			return zero, err
		}
		if recErr := e.recordJSON(history.TypeActivityFailed, activityRecord{Name: name, Error: err.Error()}); recErr != nil {
			return zero, recErr
		}
		return zero, fmt.Errorf("workflow %s activity %q: %w", e.inst.ID, name, err)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return zero, fmt.Errorf("workflow %s: encode result of %q: %w", e.inst.ID, name, err)
	}
	if err := e.recordJSON(history.TypeActivityCompleted, activityRecord{Name: name, Result: data}); err != nil {
		return zero, err
	}
	return result, nil
}

// SideEffect runs fn once and records its result. Later attempts of the
// workflow return the recorded bytes.
func (e *Execution) SideEffect(name string, fn func() ([]byte, error)) ([]byte, error) {
	if rec, ok := e.completed(history.TypeSideEffectResult, name); ok {
		var out []byte
		if len(rec.Result) > 0 {
			if err := json.Unmarshal(rec.Result, &out); err != nil {
				return nil, fmt.Errorf("workflow %s: decode side effect %q: %w", e.inst.ID, name, err)
			}
		}
		return out, nil
	}
	out, err := fn()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	if err := e.recordJSON(history.TypeSideEffectResult, activityRecord{Name: name, Result: data}); err != nil {
		return nil, err
	}
	return out, nil
}

// Sleep blocks for d as a durable timer. Timers are numbered in the order
// the workflow creates them; a timer scheduled by an earlier attempt keeps
// its original fire time and a fired timer returns immediately.
func (e *Execution) Sleep(d time.Duration) error {
	e.mu.Lock()
	e.timers++
	timerID := e.timers
	e.mu.Unlock()

	var scheduled *timerRecord
	for _, ev := range e.log.Events() {
		if ev.Type != history.TypeTimerScheduled && ev.Type != history.TypeTimerFired {
			continue
		}
		var rec timerRecord
		if json.Unmarshal(ev.Payload, &rec) != nil || rec.ID != timerID {
			continue
		}
		if ev.Type == history.TypeTimerFired {
			return nil
		}
		scheduled = &rec
	}

	if scheduled == nil {
		scheduled = &timerRecord{ID: timerID, FireAt: e.now().Add(d)}
		if err := e.recordJSON(history.TypeTimerScheduled, scheduled); err != nil {
			return err
		}
	}

	if wait := scheduled.FireAt.Sub(e.now()); wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-e.ctx.Done():
			return e.ctx.Err()
		case <-t.C:
		}
	}
	return e.recordJSON(history.TypeTimerFired, scheduled)
}
