// Package client is the caller-side API for workflow instances. It creates
// PENDING instances for runners to claim and reads back their status and
// history straight from the backend.
//
// Usage:
//
//	c := client.New(store)
//
//	// Start a workflow.
//	inst, err := client.StartWorkflow(ctx, c, "send-email", emailInput{To: "ada@example.com"})
//
//	// Check on it later.
//	inst, err = c.Describe(ctx, inst.ID)
//	events, err := c.History(ctx, inst.ID, 0)
package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	durablesnake "github.com/danthegoodman1/DurableSnake"
	"github.com/danthegoodman1/DurableSnake/history"
	"github.com/danthegoodman1/DurableSnake/id"
	"github.com/danthegoodman1/DurableSnake/lease"
	"github.com/danthegoodman1/DurableSnake/store"
	"github.com/danthegoodman1/DurableSnake/workflow"
)

// Client talks to the backend on behalf of callers that start and inspect
// workflows. It never executes workflow code.
type Client struct {
	store       store.Store
	logger      *slog.Logger
	queue       string
	now         func() time.Time
	cancelLease time.Duration
	identity    string
}

// New creates a client over s. The caller owns the store's lifecycle.
func New(s store.Store, opts ...Option) *Client {
	c := &Client{
		store:       s,
		logger:      slog.Default(),
		queue:       durablesnake.DefaultConfig().Queue,
		now:         time.Now,
		cancelLease: 10 * time.Second,
		identity:    id.New("client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start creates a PENDING workflow instance. A duplicate id fails with
// ErrInstanceExists.
func (c *Client) Start(ctx context.Context, opts StartOptions) (*workflow.Instance, error) {
	if opts.Type == "" {
		return nil, fmt.Errorf("%w: workflow type is required", durablesnake.ErrInvalidConfig)
	}
	instanceID := opts.ID
	if instanceID == "" {
		instanceID = id.NewWorkflowID()
	} else if err := id.Validate(instanceID); err != nil {
		return nil, err
	}
	queue := opts.Queue
	if queue == "" {
		queue = c.queue
	}

	inst := &workflow.Instance{
		ID:        instanceID,
		Type:      opts.Type,
		Status:    workflow.StatusPending,
		Queue:     queue,
		ParentID:  opts.ParentID,
		Input:     opts.Input,
		Timeout:   opts.Timeout,
		CreatedAt: c.now().UTC(),
	}
	if err := c.store.CreateInstance(ctx, inst); err != nil {
		return nil, err
	}

	c.logger.Debug("workflow instance created",
		slog.String("workflow_id", inst.ID),
		slog.String("workflow_type", inst.Type),
		slog.String("queue", inst.Queue),
	)
	return inst, nil
}

// Describe returns the stored instance.
func (c *Client) Describe(ctx context.Context, workflowID string) (*workflow.Instance, error) {
	return c.store.GetInstance(ctx, workflowID)
}

// History returns the events of a workflow after sequence afterSeq.
func (c *Client) History(ctx context.Context, workflowID string, afterSeq int64) ([]*history.Event, error) {
	if _, err := c.store.GetInstance(ctx, workflowID); err != nil {
		return nil, err
	}
	events, err := c.store.GetHistory(ctx, workflowID, afterSeq)
	if err != nil {
		return nil, err
	}
	if err := history.Validate(events, max(afterSeq, 0)); err != nil {
		return nil, err
	}
	return events, nil
}

// Lock returns the live lease row of a workflow, or nil if it was never
// claimed.
func (c *Client) Lock(ctx context.Context, workflowID string) (*lease.Lock, error) {
	return c.store.GetLock(ctx, workflowID)
}

// Cancel closes an open instance that no runner currently owns. It takes
// the workflow's lease like any runner would, so it fails with
// ErrInstanceLeased while a runner holds a live lease.
func (c *Client) Cancel(ctx context.Context, workflowID, reason string) error {
	leases := lease.NewManager(c.store, c.identity, c.cancelLease,
		lease.WithClock(c.now),
		lease.WithLogger(c.logger),
	)
	l, err := leases.Acquire(ctx, workflowID)
	if err != nil {
		return err
	}
	if l == nil {
		return fmt.Errorf("%w: %s", durablesnake.ErrInstanceLeased, workflowID)
	}
	defer func() {
		if _, err := leases.ExpireNow(context.WithoutCancel(ctx), *l); err != nil {
			c.logger.Warn("cancel: lease release failed",
				slog.String("workflow_id", workflowID),
				slog.String("error", err.Error()),
			)
		}
	}()

	inst, err := c.store.GetInstance(ctx, workflowID)
	if err != nil {
		return err
	}
	if err := workflow.CheckTransition(inst.Status, workflow.StatusCancelled); err != nil {
		return err
	}
	events, err := c.store.GetHistory(ctx, workflowID, 0)
	if err != nil {
		return err
	}
	log, err := history.NewLog(workflowID, events)
	if err != nil {
		return err
	}

	if reason == "" {
		reason = durablesnake.ErrCancelled.Error()
	}
	inst.Status = workflow.StatusCancelled
	inst.Error = reason
	inst.ClosedAt = c.now().UTC()
	ok, err := c.store.UpdateInstance(ctx, inst, *l)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", durablesnake.ErrLeaseLost, workflowID)
	}

	e, err := log.Next(history.TypeWorkflowCanceled, []byte(reason), l.Epoch, l.RunnerID, c.now().UTC())
	if err != nil {
		return err
	}
	if ok, err := c.store.AppendEvent(ctx, e, *l); err != nil || !ok {
		c.logger.Warn("cancel: terminal event not recorded",
			slog.String("workflow_id", workflowID),
			slog.Bool("fenced_out", !ok),
			slog.Any("error", err),
		)
	}

	c.logger.Info("workflow cancelled",
		slog.String("workflow_id", workflowID),
		slog.String("reason", reason),
	)
	return nil
}
