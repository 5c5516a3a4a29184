package workflow_test

import (
	"errors"
	"testing"

	durablesnake "github.com/danthegoodman1/DurableSnake"
	"github.com/danthegoodman1/DurableSnake/workflow"
)

func TestStatus_Terminal(t *testing.T) {
	open := []workflow.Status{workflow.StatusPending, workflow.StatusRunning}
	closed := []workflow.Status{
		workflow.StatusTerminated,
		workflow.StatusContinuedAsNew,
		workflow.StatusCancelled,
		workflow.StatusFailed,
		workflow.StatusTimedOut,
	}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true", s)
		}
		if !s.Valid() {
			t.Errorf("%s.Valid() = false", s)
		}
	}
	for _, s := range closed {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false", s)
		}
	}
	if workflow.Status("bogus").Valid() {
		t.Error("unknown status reported valid")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to workflow.Status
		want     bool
	}{
		{workflow.StatusPending, workflow.StatusRunning, true},
		{workflow.StatusPending, workflow.StatusCancelled, true},
		{workflow.StatusPending, workflow.StatusFailed, false},
		{workflow.StatusPending, workflow.StatusTerminated, false},
		{workflow.StatusRunning, workflow.StatusRunning, true},
		{workflow.StatusRunning, workflow.StatusTerminated, true},
		{workflow.StatusRunning, workflow.StatusContinuedAsNew, true},
		{workflow.StatusRunning, workflow.StatusTimedOut, true},
		{workflow.StatusRunning, workflow.StatusPending, false},
		{workflow.StatusTerminated, workflow.StatusRunning, false},
		{workflow.StatusFailed, workflow.StatusFailed, false},
		{workflow.StatusCancelled, workflow.StatusPending, false},
	}
	for _, tt := range tests {
		if got := workflow.CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
		err := workflow.CheckTransition(tt.from, tt.to)
		if tt.want && err != nil {
			t.Errorf("CheckTransition(%s, %s) = %v", tt.from, tt.to, err)
		}
		if !tt.want && !errors.Is(err, durablesnake.ErrInvalidTransition) {
			t.Errorf("CheckTransition(%s, %s) = %v, want ErrInvalidTransition", tt.from, tt.to, err)
		}
	}
}

func TestInstance_Clone(t *testing.T) {
	inst := &workflow.Instance{ID: "wf_1", Input: []byte("in"), Output: []byte("out")}
	cp := inst.Clone()
	cp.Input[0] = 'X'
	cp.Output[0] = 'Y'
	if string(inst.Input) != "in" || string(inst.Output) != "out" {
		t.Fatalf("clone shares payload buffers: %q %q", inst.Input, inst.Output)
	}
}

func TestHistoryLimits(t *testing.T) {
	tests := []struct {
		name          string
		limits        workflow.HistoryLimits
		length, bytes int64
		want          bool
	}{
		{"zero limits", workflow.HistoryLimits{}, 1000, 1 << 30, false},
		{"below length", workflow.HistoryLimits{MaxLength: 10}, 9, 0, false},
		{"at length", workflow.HistoryLimits{MaxLength: 10}, 10, 0, true},
		{"at bytes", workflow.HistoryLimits{MaxBytes: 100}, 1, 100, true},
		{"either", workflow.HistoryLimits{MaxLength: 10, MaxBytes: 100}, 2, 150, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.limits.ShouldContinueAsNew(tt.length, tt.bytes); got != tt.want {
				t.Errorf("ShouldContinueAsNew(%d, %d) = %v, want %v", tt.length, tt.bytes, got, tt.want)
			}
		})
	}
	if (workflow.NeverContinue{}).ShouldContinueAsNew(1<<40, 1<<40) {
		t.Error("NeverContinue suggested continue-as-new")
	}
}

func TestContinueAsNew(t *testing.T) {
	err := workflow.ContinueAsNewWith(map[string]int{"n": 3})
	cont, ok := workflow.AsContinueAsNew(err)
	if !ok {
		t.Fatalf("AsContinueAsNew(%v) = false", err)
	}
	if string(cont.Input) != `{"n":3}` {
		t.Errorf("Input = %s", cont.Input)
	}

	wrapped := errors.Join(errors.New("context"), err)
	if _, ok := workflow.AsContinueAsNew(wrapped); !ok {
		t.Error("wrapped continue-as-new not detected")
	}
	if _, ok := workflow.AsContinueAsNew(errors.New("plain")); ok {
		t.Error("plain error detected as continue-as-new")
	}
}
