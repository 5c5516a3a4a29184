package id_test

import (
	"strings"
	"testing"

	"github.com/danthegoodman1/DurableSnake/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() string
		prefix string
	}{
		{"WorkflowID", id.NewWorkflowID, "wf_"},
		{"RunnerID", id.NewRunnerID, "runner_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
			if err := id.Validate(got); err != nil {
				t.Errorf("generated id %q failed validation: %v", got, err)
			}
		})
	}
}

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for range 1000 {
		v := id.NewWorkflowID()
		if _, dup := seen[v]; dup {
			t.Fatalf("duplicate id generated: %s", v)
		}
		seen[v] = struct{}{}
	}
}

func TestNew_Sortable(t *testing.T) {
	a := id.NewWorkflowID()
	b := id.NewWorkflowID()
	if a >= b {
		t.Errorf("expected %q < %q", a, b)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"caller supplied", "order-1234", false},
		{"generated", id.NewWorkflowID(), false},
		{"empty", "", true},
		{"space", "has space", true},
		{"newline", "a\nb", true},
		{"too long", strings.Repeat("x", 256), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := id.Validate(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
		})
	}
}

func TestParseWithPrefix(t *testing.T) {
	wf := id.NewWorkflowID()
	if _, err := id.ParseWithPrefix(wf, id.PrefixWorkflow); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := id.ParseWithPrefix(wf, id.PrefixRunner); err == nil {
		t.Fatal("expected prefix mismatch error")
	}
	if got := id.PrefixOf("plain"); got != "" {
		t.Errorf("PrefixOf(plain) = %q, want empty", got)
	}
}
