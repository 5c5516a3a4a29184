package lease_test

import (
	"testing"
	"time"

	"github.com/danthegoodman1/DurableSnake/lease"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestLock_Expired(t *testing.T) {
	l := lease.Lock{ExpiresAt: t0}
	if l.Expired(t0.Add(-time.Nanosecond)) {
		t.Error("lock expired before its deadline")
	}
	if !l.Expired(t0) {
		t.Error("lock not expired at its deadline")
	}
	if !l.Expired(t0.Add(time.Second)) {
		t.Error("lock not expired after its deadline")
	}
}

func TestDecide(t *testing.T) {
	live := &lease.Lock{WorkflowID: "wf", Epoch: 3, RunnerID: "a", ExpiresAt: t0.Add(time.Minute)}
	dead := &lease.Lock{WorkflowID: "wf", Epoch: 3, RunnerID: "a", ExpiresAt: t0.Add(-time.Minute)}
	want := t0.Add(10 * time.Second)

	tests := []struct {
		name      string
		stored    *lease.Lock
		next      lease.Lock
		expected  *lease.Lock
		ok        bool
		wantEpoch int64
		wantOwner string
	}{
		{"first acquire", nil, lease.Lock{WorkflowID: "wf", RunnerID: "a", ExpiresAt: want}, nil, true, 1, "a"},
		{"acquire live", live, lease.Lock{WorkflowID: "wf", RunnerID: "b", ExpiresAt: want}, nil, false, 0, ""},
		{"acquire expired", dead, lease.Lock{WorkflowID: "wf", RunnerID: "b", ExpiresAt: want}, nil, true, 4, "b"},
		{"extend match", live, lease.Lock{WorkflowID: "wf", RunnerID: "a", ExpiresAt: want}, &lease.Lock{WorkflowID: "wf", Epoch: 3, RunnerID: "a"}, true, 4, "a"},
		{"extend missing row", nil, lease.Lock{WorkflowID: "wf", RunnerID: "a", ExpiresAt: want}, &lease.Lock{WorkflowID: "wf", Epoch: 3, RunnerID: "a"}, false, 0, ""},
		{"extend stale epoch", live, lease.Lock{WorkflowID: "wf", RunnerID: "a", ExpiresAt: want}, &lease.Lock{WorkflowID: "wf", Epoch: 2, RunnerID: "a"}, false, 0, ""},
		{"extend wrong runner", live, lease.Lock{WorkflowID: "wf", RunnerID: "b", ExpiresAt: want}, &lease.Lock{WorkflowID: "wf", Epoch: 3, RunnerID: "b"}, false, 0, ""},
		{"extend expired", dead, lease.Lock{WorkflowID: "wf", RunnerID: "a", ExpiresAt: want}, &lease.Lock{WorkflowID: "wf", Epoch: 3, RunnerID: "a"}, false, 0, ""},
		{"extend transfers owner", live, lease.Lock{WorkflowID: "wf", RunnerID: "b", ExpiresAt: want}, &lease.Lock{WorkflowID: "wf", Epoch: 3, RunnerID: "a"}, false, 0, ""},
		{"expire now", live, lease.Lock{WorkflowID: "wf", RunnerID: "a", ExpiresAt: t0}, &lease.Lock{WorkflowID: "wf", Epoch: 3, RunnerID: "a"}, true, 4, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var before lease.Lock
			if tt.stored != nil {
				before = *tt.stored
			}
			got, ok := lease.Decide(tt.stored, tt.next, tt.expected, t0)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if tt.stored != nil && *tt.stored != before {
				t.Fatalf("Decide mutated the stored row: %v", tt.stored)
			}
			if !ok {
				return
			}
			if got.Epoch != tt.wantEpoch {
				t.Errorf("Epoch = %d, want %d", got.Epoch, tt.wantEpoch)
			}
			if got.RunnerID != tt.wantOwner {
				t.Errorf("RunnerID = %q, want %q", got.RunnerID, tt.wantOwner)
			}
			if !got.ExpiresAt.Equal(tt.next.ExpiresAt) {
				t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, tt.next.ExpiresAt)
			}
		})
	}
}

func TestMatches(t *testing.T) {
	row := &lease.Lock{WorkflowID: "wf", Epoch: 5, RunnerID: "a", ExpiresAt: t0.Add(time.Second)}

	if !lease.Matches(row, lease.Lock{WorkflowID: "wf", Epoch: 5, RunnerID: "a"}, t0) {
		t.Error("matching fence refused")
	}
	if lease.Matches(row, lease.Lock{WorkflowID: "wf", Epoch: 4, RunnerID: "a"}, t0) {
		t.Error("stale epoch accepted")
	}
	if lease.Matches(row, lease.Lock{WorkflowID: "wf", Epoch: 5, RunnerID: "b"}, t0) {
		t.Error("foreign runner accepted")
	}
	if lease.Matches(row, lease.Lock{WorkflowID: "wf", Epoch: 5, RunnerID: "a"}, t0.Add(time.Second)) {
		t.Error("expired row accepted")
	}
	if lease.Matches(nil, lease.Lock{WorkflowID: "wf", Epoch: 5, RunnerID: "a"}, t0) {
		t.Error("missing row accepted")
	}
}
