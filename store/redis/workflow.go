package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	durablesnake "github.com/danthegoodman1/DurableSnake"
	"github.com/danthegoodman1/DurableSnake/lease"
	"github.com/danthegoodman1/DurableSnake/workflow"
)

var statuses = []workflow.Status{
	workflow.StatusPending,
	workflow.StatusRunning,
	workflow.StatusTerminated,
	workflow.StatusContinuedAsNew,
	workflow.StatusCancelled,
	workflow.StatusFailed,
	workflow.StatusTimedOut,
}

// allowedFrom lists the statuses an instance may hold before moving to to.
func allowedFrom(to workflow.Status) string {
	from := make([]string, 0, 2)
	for _, s := range statuses {
		if workflow.CanTransition(s, to) {
			from = append(from, string(s))
		}
	}
	return strings.Join(from, ",")
}

// createArgs lays out inst for the create helper shared by the scripts.
func (s *Store) createArgs(inst *workflow.Instance) []any {
	now := s.now().UTC()
	createdAt := inst.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	status := inst.Status
	if status == "" {
		status = workflow.StatusPending
	}

	fields := []any{
		"id", inst.ID,
		"type", inst.Type,
		"status", string(status),
		"queue", inst.Queue,
		"parent_id", inst.ParentID,
		"continued_from", inst.ContinuedFrom,
		"input", inst.Input,
		"output", inst.Output,
		"error", inst.Error,
		"timeout_ns", int64(inst.Timeout),
		"history_length", 0,
		"history_bytes", 0,
		"created_at", toNanos(createdAt),
		"started_at", toNanos(inst.StartedAt),
		"closed_at", toNanos(inst.ClosedAt),
		"updated_at", toNanos(now),
	}
	args := []any{inst.ID, string(status), toMicros(createdAt), len(fields)}
	return append(args, fields...)
}

func (s *Store) updateArgs(inst *workflow.Instance, lock lease.Lock) []any {
	return []any{
		lock.Epoch,
		lock.RunnerID,
		string(inst.Status),
		allowedFrom(inst.Status),
		inst.Output,
		inst.Error,
		toNanos(inst.StartedAt),
		toNanos(inst.ClosedAt),
		toNanos(s.now()),
		inst.ID,
		pendingPrefix,
	}
}

// CreateInstance persists a new workflow instance.
func (s *Store) CreateInstance(ctx context.Context, inst *workflow.Instance) error {
	err := createScript.Run(ctx, s.client,
		[]string{instanceKey(inst.ID), pendingKey(inst.Queue)},
		s.createArgs(inst)...,
	).Err()
	if err != nil {
		return scriptErr("create instance", err)
	}
	return nil
}

// GetInstance retrieves a workflow instance by id.
func (s *Store) GetInstance(ctx context.Context, instanceID string) (*workflow.Instance, error) {
	fields, err := s.client.HGetAll(ctx, instanceKey(instanceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("durablesnake/redis: get instance: %w", err)
	}
	if len(fields) == 0 {
		return nil, durablesnake.ErrInstanceNotFound
	}
	return parseInstance(fields)
}

// UpdateInstance persists the mutable fields of inst, fenced by lock.
func (s *Store) UpdateInstance(ctx context.Context, inst *workflow.Instance, lock lease.Lock) (bool, error) {
	if lock.WorkflowID != inst.ID {
		return false, nil
	}
	n, err := updateScript.Run(ctx, s.client,
		[]string{lockKey(inst.ID), instanceKey(inst.ID), openLocksKey},
		s.updateArgs(inst, lock)...,
	).Int64()
	if err != nil {
		return false, scriptErr("update instance", err)
	}
	return n == 1, nil
}

// ContinueInstance closes inst as continued-as-new and creates next in the
// same script.
func (s *Store) ContinueInstance(ctx context.Context, inst *workflow.Instance, next *workflow.Instance, lock lease.Lock) (bool, error) {
	if inst.Status != workflow.StatusContinuedAsNew {
		return false, fmt.Errorf("%w: continue requires %s, got %s",
			durablesnake.ErrInvalidTransition, workflow.StatusContinuedAsNew, inst.Status)
	}
	if lock.WorkflowID != inst.ID {
		return false, nil
	}

	args := s.updateArgs(inst, lock)
	args = append(args, s.createArgs(next)...)
	n, err := continueScript.Run(ctx, s.client,
		[]string{
			lockKey(inst.ID), instanceKey(inst.ID), openLocksKey,
			instanceKey(next.ID), pendingKey(next.Queue),
		},
		args...,
	).Int64()
	if err != nil {
		return false, scriptErr("continue instance", err)
	}
	return n == 1, nil
}

// ListPending returns up to limit pending instances on queue, oldest first.
func (s *Store) ListPending(ctx context.Context, queue string, limit int) ([]*workflow.Instance, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRange(ctx, pendingKey(queue), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("durablesnake/redis: list pending: %w", err)
	}

	pipe := s.client.Pipeline()
	for _, id := range ids {
		pipe.HGetAll(ctx, instanceKey(id))
	}
	cmds, err := pipe.Exec(ctx)
	if err != nil && !isNil(err) {
		return nil, fmt.Errorf("durablesnake/redis: list pending: %w", err)
	}

	result := make([]*workflow.Instance, 0, len(ids))
	for _, cmd := range cmds {
		fields, _ := hgetall(cmd)
		if len(fields) == 0 {
			continue
		}
		inst, err := parseInstance(fields)
		if err != nil {
			return nil, err
		}
		if inst.Status == workflow.StatusPending {
			result = append(result, inst)
		}
	}
	return result, nil
}

func parseInstance(f map[string]string) (*workflow.Instance, error) {
	inst := &workflow.Instance{
		ID:            f["id"],
		Type:          f["type"],
		Status:        workflow.Status(f["status"]),
		Queue:         f["queue"],
		ParentID:      f["parent_id"],
		ContinuedFrom: f["continued_from"],
		Input:         bytesOrNil(f["input"]),
		Output:        bytesOrNil(f["output"]),
		Error:         f["error"],
	}

	ints := map[string]*int64{
		"history_length": &inst.HistoryLength,
		"history_bytes":  &inst.HistoryBytes,
	}
	for name, dst := range ints {
		if v := f[name]; v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("durablesnake/redis: parse %s: %w", name, err)
			}
			*dst = n
		}
	}
	if v := f["timeout_ns"]; v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("durablesnake/redis: parse timeout_ns: %w", err)
		}
		inst.Timeout = time.Duration(n)
	}

	times := map[string]*time.Time{
		"created_at": &inst.CreatedAt,
		"started_at": &inst.StartedAt,
		"closed_at":  &inst.ClosedAt,
		"updated_at": &inst.UpdatedAt,
	}
	for name, dst := range times {
		t, err := fromNanos(f[name])
		if err != nil {
			return nil, fmt.Errorf("durablesnake/redis: parse %s: %w", name, err)
		}
		*dst = t
	}
	return inst, nil
}

func bytesOrNil(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}
