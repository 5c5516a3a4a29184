package workflow_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/danthegoodman1/DurableSnake/workflow"
)

type orderInput struct {
	OrderID string `json:"order_id"`
	Amount  int    `json:"amount"`
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := workflow.NewRegistry()

	var got orderInput
	def := workflow.NewWorkflow("process-order", func(_ *workflow.Execution, input orderInput) error {
		got = input
		return nil
	})
	workflow.RegisterDefinition(r, def)

	fn, ok := r.Get("process-order")
	if !ok {
		t.Fatal("expected callback to be registered")
	}

	payload, _ := json.Marshal(orderInput{OrderID: "ord_123", Amount: 100})
	// The handler above never touches the execution, so nil is fine here.
	if err := fn(nil, payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.OrderID != "ord_123" {
		t.Errorf("OrderID = %q, want %q", got.OrderID, "ord_123")
	}
	if got.Amount != 100 {
		t.Errorf("Amount = %d, want %d", got.Amount, 100)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := workflow.NewRegistry()
	if _, ok := r.Get("nonexistent"); ok {
		t.Fatal("expected no callback for unregistered workflow")
	}
}

func TestRegistry_EmptyInput(t *testing.T) {
	r := workflow.NewRegistry()
	called := false
	workflow.RegisterDefinition(r, workflow.NewWorkflow("empty", func(_ *workflow.Execution, in orderInput) error {
		called = true
		if in != (orderInput{}) {
			t.Errorf("input = %+v, want zero value", in)
		}
		return nil
	}))
	fn, _ := r.Get("empty")
	if err := fn(nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestRegistry_BadInput(t *testing.T) {
	r := workflow.NewRegistry()
	workflow.RegisterDefinition(r, workflow.NewWorkflow("strict", func(_ *workflow.Execution, _ orderInput) error {
		t.Fatal("handler must not run on undecodable input")
		return nil
	}))
	fn, _ := r.Get("strict")
	err := fn(nil, []byte("{not json"))
	if err == nil || !strings.Contains(err.Error(), `"strict"`) {
		t.Fatalf("err = %v, want unmarshal error naming the workflow", err)
	}
}

func TestRegistry_ReplaceAndNames(t *testing.T) {
	r := workflow.NewRegistry()
	noop := func(_ *workflow.Execution, _ struct{}) error { return nil }

	workflow.RegisterDefinition(r, workflow.NewWorkflow("wf-b", noop))
	workflow.RegisterDefinition(r, workflow.NewWorkflow("wf-a", noop))

	replaced := false
	r.Register("wf-b", func(_ *workflow.Execution, _ []byte) error {
		replaced = true
		return nil
	})

	names := r.Names()
	if len(names) != 2 || names[0] != "wf-a" || names[1] != "wf-b" {
		t.Fatalf("names = %v, want [wf-a wf-b]", names)
	}

	fn, _ := r.Get("wf-b")
	_ = fn(nil, nil)
	if !replaced {
		t.Fatal("expected the second registration to replace the first")
	}
}
