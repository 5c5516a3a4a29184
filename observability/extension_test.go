package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/danthegoodman1/DurableSnake/ext"
	"github.com/danthegoodman1/DurableSnake/history"
	"github.com/danthegoodman1/DurableSnake/lease"
	"github.com/danthegoodman1/DurableSnake/observability"
	"github.com/danthegoodman1/DurableSnake/workflow"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

// sumOf returns the total of an Int64 counter across all attribute sets.
func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s: unexpected data type %T", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_LeaseCounters(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()
	l := lease.Lock{WorkflowID: "wf", Epoch: 1, RunnerID: "r"}

	_ = e.OnLeaseAcquired(ctx, l, ext.ClaimPending)
	_ = e.OnLeaseAcquired(ctx, l, ext.ClaimReclaimed)
	_ = e.OnLeaseRefused(ctx, "wf", ext.ClaimPending)
	_ = e.OnLeaseExtended(ctx, l)
	_ = e.OnLeaseLost(ctx, l, errors.New("refused"))

	tests := []struct {
		name string
		want int64
	}{
		{"durablesnake.lease.acquired", 2},
		{"durablesnake.lease.refused", 1},
		{"durablesnake.lease.extended", 1},
		{"durablesnake.lease.lost", 1},
	}
	for _, tt := range tests {
		if got := sumOf(t, reader, tt.name); got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestMetricsExtension_WorkflowCounters(t *testing.T) {
	e, reader := newTestExtension()
	ctx := context.Background()
	inst := &workflow.Instance{ID: "wf", Type: "order-flow", Status: workflow.StatusTerminated}

	_ = e.OnWorkflowStarted(ctx, inst, lease.Lock{})
	_ = e.OnEventAppended(ctx, &history.Event{Type: history.TypeActivityCompleted, Payload: []byte("12345")})
	_ = e.OnEventAppended(ctx, &history.Event{Type: history.TypeWorkflowFinished, Payload: []byte("abc")})
	_ = e.OnWorkflowClosed(ctx, inst, 250*time.Millisecond)

	if got := sumOf(t, reader, "durablesnake.workflow.started"); got != 1 {
		t.Errorf("started = %d, want 1", got)
	}
	if got := sumOf(t, reader, "durablesnake.history.events"); got != 2 {
		t.Errorf("events = %d, want 2", got)
	}
	if got := sumOf(t, reader, "durablesnake.history.bytes"); got != 8 {
		t.Errorf("bytes = %d, want 8", got)
	}
	if got := sumOf(t, reader, "durablesnake.workflow.closed"); got != 1 {
		t.Errorf("closed = %d, want 1", got)
	}
}

func TestMetricsExtension_ThroughRegistry(t *testing.T) {
	e, reader := newTestExtension()
	r := ext.NewRegistry(slog.Default())
	r.Register(e)

	r.EmitLeaseAcquired(context.Background(), lease.Lock{WorkflowID: "wf"}, ext.ClaimRecovered)

	if got := sumOf(t, reader, "durablesnake.lease.acquired"); got != 1 {
		t.Errorf("acquired = %d, want 1", got)
	}
}

func TestMetricsExtension_DefaultNoopSafe(t *testing.T) {
	e := observability.NewMetricsExtension()
	if err := e.OnWorkflowClosed(context.Background(), &workflow.Instance{}, time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
