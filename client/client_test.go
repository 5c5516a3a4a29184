package client_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	durablesnake "github.com/danthegoodman1/DurableSnake"
	"github.com/danthegoodman1/DurableSnake/client"
	"github.com/danthegoodman1/DurableSnake/history"
	"github.com/danthegoodman1/DurableSnake/id"
	"github.com/danthegoodman1/DurableSnake/lease"
	"github.com/danthegoodman1/DurableSnake/store/memory"
	"github.com/danthegoodman1/DurableSnake/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newClient(t *testing.T) (*client.Client, *memory.Store) {
	t.Helper()
	s := memory.New()
	return client.New(s, client.WithLogger(testLogger())), s
}

type emailInput struct {
	To string `json:"to"`
}

func TestClient_StartGeneratesID(t *testing.T) {
	c, s := newClient(t)
	ctx := context.Background()

	inst, err := client.StartWorkflow(ctx, c, "send-email", emailInput{To: "ada@example.com"})
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}
	if id.PrefixOf(inst.ID) != id.PrefixWorkflow {
		t.Errorf("ID = %q, want %q prefix", inst.ID, id.PrefixWorkflow)
	}
	if inst.Status != workflow.StatusPending {
		t.Errorf("Status = %s, want pending", inst.Status)
	}
	if inst.Queue != "default" {
		t.Errorf("Queue = %q, want default", inst.Queue)
	}

	stored, err := s.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if string(stored.Input) != `{"to":"ada@example.com"}` {
		t.Errorf("Input = %s", stored.Input)
	}
}

func TestClient_StartWithOptions(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	inst, err := c.Start(ctx, client.StartOptions{
		ID:       "order-42",
		Type:     "process-order",
		Queue:    "billing",
		ParentID: "order-batch-7",
		Timeout:  time.Minute,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	got, err := c.Describe(ctx, "order-42")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if got.ID != inst.ID || got.Queue != "billing" || got.ParentID != "order-batch-7" || got.Timeout != time.Minute {
		t.Errorf("Describe = %+v", got)
	}
}

func TestClient_StartRejectsDuplicateID(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	opts := client.StartOptions{ID: "wf-1", Type: "noop"}
	if _, err := c.Start(ctx, opts); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if _, err := c.Start(ctx, opts); !errors.Is(err, durablesnake.ErrInstanceExists) {
		t.Fatalf("second Start: err = %v, want ErrInstanceExists", err)
	}
}

func TestClient_StartRequiresType(t *testing.T) {
	c, _ := newClient(t)
	if _, err := c.Start(context.Background(), client.StartOptions{}); !errors.Is(err, durablesnake.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestClient_DescribeUnknown(t *testing.T) {
	c, _ := newClient(t)
	if _, err := c.Describe(context.Background(), "missing"); !errors.Is(err, durablesnake.ErrInstanceNotFound) {
		t.Fatalf("err = %v, want ErrInstanceNotFound", err)
	}
	if _, err := c.History(context.Background(), "missing", 0); !errors.Is(err, durablesnake.ErrInstanceNotFound) {
		t.Fatalf("History err = %v, want ErrInstanceNotFound", err)
	}
}

func TestClient_HistoryAfter(t *testing.T) {
	c, s := newClient(t)
	ctx := context.Background()
	if _, err := c.Start(ctx, client.StartOptions{ID: "wf-1", Type: "noop"}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	l, err := lease.NewManager(s, "runner-a", time.Minute).Acquire(ctx, "wf-1")
	if err != nil || l == nil {
		t.Fatalf("Acquire = %v, %v", l, err)
	}
	for seq, typ := range []history.Type{history.TypeWorkflowStarted, history.TypeTimerScheduled, history.TypeTimerFired} {
		e := &history.Event{WorkflowID: "wf-1", SequenceID: int64(seq + 1), Type: typ}
		if ok, err := s.AppendEvent(ctx, e, *l); !ok || err != nil {
			t.Fatalf("AppendEvent(%d) = %v, %v", seq+1, ok, err)
		}
	}

	events, err := c.History(ctx, "wf-1", 1)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(events) != 2 || events[0].SequenceID != 2 || events[1].Type != history.TypeTimerFired {
		t.Fatalf("History after 1 = %v", events)
	}
}

func TestClient_CancelPending(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	if _, err := c.Start(ctx, client.StartOptions{ID: "wf-1", Type: "noop"}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := c.Cancel(ctx, "wf-1", "no longer needed"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	inst, err := c.Describe(ctx, "wf-1")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if inst.Status != workflow.StatusCancelled || inst.Error != "no longer needed" {
		t.Errorf("instance = %s %q, want cancelled with reason", inst.Status, inst.Error)
	}

	events, err := c.History(ctx, "wf-1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(events) != 1 || events[0].Type != history.TypeWorkflowCanceled {
		t.Fatalf("history = %v, want one canceled event", events)
	}

	l, err := c.Lock(ctx, "wf-1")
	if err != nil || l == nil {
		t.Fatalf("Lock = %v, %v", l, err)
	}
	if !l.Expired(time.Now()) {
		t.Errorf("cancel lease still live until %v", l.ExpiresAt)
	}

	if err := c.Cancel(ctx, "wf-1", ""); !errors.Is(err, durablesnake.ErrInvalidTransition) {
		t.Fatalf("second Cancel: err = %v, want ErrInvalidTransition", err)
	}
}

func TestClient_CancelLeasedInstance(t *testing.T) {
	c, s := newClient(t)
	ctx := context.Background()
	if _, err := c.Start(ctx, client.StartOptions{ID: "wf-1", Type: "noop"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if l, err := lease.NewManager(s, "runner-a", time.Minute).Acquire(ctx, "wf-1"); err != nil || l == nil {
		t.Fatalf("Acquire = %v, %v", l, err)
	}

	if err := c.Cancel(ctx, "wf-1", ""); !errors.Is(err, durablesnake.ErrInstanceLeased) {
		t.Fatalf("err = %v, want ErrInstanceLeased", err)
	}
	inst, _ := c.Describe(ctx, "wf-1")
	if inst.Status != workflow.StatusPending {
		t.Errorf("Status = %s, want pending", inst.Status)
	}
}
