package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/danthegoodman1/DurableSnake/ext"
	"github.com/danthegoodman1/DurableSnake/history"
	"github.com/danthegoodman1/DurableSnake/lease"
	"github.com/danthegoodman1/DurableSnake/workflow"
)

// Compile-time interface checks.
var (
	_ ext.Extension       = (*MetricsExtension)(nil)
	_ ext.LeaseAcquired   = (*MetricsExtension)(nil)
	_ ext.LeaseRefused    = (*MetricsExtension)(nil)
	_ ext.LeaseExtended   = (*MetricsExtension)(nil)
	_ ext.LeaseLost       = (*MetricsExtension)(nil)
	_ ext.WorkflowStarted = (*MetricsExtension)(nil)
	_ ext.EventAppended   = (*MetricsExtension)(nil)
	_ ext.WorkflowClosed  = (*MetricsExtension)(nil)
)

// meterName is the instrumentation scope name for lifecycle metrics.
const meterName = "github.com/danthegoodman1/DurableSnake/observability"

// MetricsExtension records runner-wide lifecycle metrics through an OTel
// meter. Register it as an extension to track lease contention, lease
// losses, workflow throughput and history growth.
type MetricsExtension struct {
	LeaseAcquired    metric.Int64Counter
	LeaseRefused     metric.Int64Counter
	LeaseExtended    metric.Int64Counter
	LeaseLost        metric.Int64Counter
	WorkflowStarted  metric.Int64Counter
	WorkflowClosed   metric.Int64Counter
	WorkflowDuration metric.Float64Histogram
	EventsAppended   metric.Int64Counter
	HistoryBytes     metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. On instrument errors the OTel API hands back noop instruments.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	duration, _ := meter.Float64Histogram("durablesnake.workflow.duration",
		metric.WithDescription("Time from first start to close of a workflow instance in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		LeaseAcquired:    counter("durablesnake.lease.acquired", "Leases granted to this runner"),
		LeaseRefused:     counter("durablesnake.lease.refused", "Lease claims lost to another runner"),
		LeaseExtended:    counter("durablesnake.lease.extended", "Lease renewals"),
		LeaseLost:        counter("durablesnake.lease.lost", "Owned leases lost involuntarily"),
		WorkflowStarted:  counter("durablesnake.workflow.started", "Execution loops started"),
		WorkflowClosed:   counter("durablesnake.workflow.closed", "Instances closed by this runner"),
		WorkflowDuration: duration,
		EventsAppended:   counter("durablesnake.history.events", "History events appended"),
		HistoryBytes:     counter("durablesnake.history.bytes", "History payload bytes appended"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Lease lifecycle hooks ───────────────────────────

// OnLeaseAcquired implements ext.LeaseAcquired.
func (m *MetricsExtension) OnLeaseAcquired(ctx context.Context, _ lease.Lock, claim ext.Claim) error {
	m.LeaseAcquired.Add(ctx, 1, metric.WithAttributes(attribute.String("claim", string(claim))))
	return nil
}

// OnLeaseRefused implements ext.LeaseRefused.
func (m *MetricsExtension) OnLeaseRefused(ctx context.Context, _ string, claim ext.Claim) error {
	m.LeaseRefused.Add(ctx, 1, metric.WithAttributes(attribute.String("claim", string(claim))))
	return nil
}

// OnLeaseExtended implements ext.LeaseExtended.
func (m *MetricsExtension) OnLeaseExtended(ctx context.Context, _ lease.Lock) error {
	m.LeaseExtended.Add(ctx, 1)
	return nil
}

// OnLeaseLost implements ext.LeaseLost.
func (m *MetricsExtension) OnLeaseLost(ctx context.Context, _ lease.Lock, _ error) error {
	m.LeaseLost.Add(ctx, 1)
	return nil
}

// ── Workflow lifecycle hooks ────────────────────────

// OnWorkflowStarted implements ext.WorkflowStarted.
func (m *MetricsExtension) OnWorkflowStarted(ctx context.Context, inst *workflow.Instance, _ lease.Lock) error {
	m.WorkflowStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow_type", inst.Type)))
	return nil
}

// OnEventAppended implements ext.EventAppended.
func (m *MetricsExtension) OnEventAppended(ctx context.Context, e *history.Event) error {
	m.EventsAppended.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", string(e.Type))))
	m.HistoryBytes.Add(ctx, e.Size())
	return nil
}

// OnWorkflowClosed implements ext.WorkflowClosed.
func (m *MetricsExtension) OnWorkflowClosed(ctx context.Context, inst *workflow.Instance, elapsed time.Duration) error {
	attrs := metric.WithAttributes(
		attribute.String("workflow_type", inst.Type),
		attribute.String("status", string(inst.Status)),
	)
	m.WorkflowClosed.Add(ctx, 1, attrs)
	m.WorkflowDuration.Record(ctx, elapsed.Seconds(), attrs)
	return nil
}
