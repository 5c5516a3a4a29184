package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/danthegoodman1/DurableSnake/lease"
)

// AcquireOrExtendLock applies the acquire-or-extend rule in a single script
// against the server clock.
func (s *Store) AcquireOrExtendLock(ctx context.Context, next lease.Lock, expected *lease.Lock) (*lease.Lock, error) {
	expiresUS := toMicros(next.ExpiresAt)
	args := []any{next.WorkflowID, next.RunnerID, expiresUS, "0", 0, ""}
	if expected != nil {
		if expected.WorkflowID != next.WorkflowID {
			return nil, nil
		}
		args[3], args[4], args[5] = "1", expected.Epoch, expected.RunnerID
	}

	epoch, err := acquireScript.Run(ctx, s.client,
		[]string{lockKey(next.WorkflowID), instanceKey(next.WorkflowID), openLocksKey},
		args...,
	).Int64()
	if err != nil {
		if isNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("durablesnake/redis: acquire lock: %w", err)
	}
	return &lease.Lock{
		WorkflowID: next.WorkflowID,
		Epoch:      epoch,
		ExpiresAt:  fromMicros(expiresUS),
		RunnerID:   next.RunnerID,
	}, nil
}

// ListExpiredLocks returns expired locks of open instances, oldest expiry
// first. Expiry is judged by the server clock.
func (s *Store) ListExpiredLocks(ctx context.Context, limit int) ([]*lease.Lock, error) {
	now, err := s.client.Time(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("durablesnake/redis: server time: %w", err)
	}

	by := &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(toMicros(now), 10)}
	if limit > 0 {
		by.Count = int64(limit)
	}
	ids, err := s.client.ZRangeByScore(ctx, openLocksKey, by).Result()
	if err != nil {
		return nil, fmt.Errorf("durablesnake/redis: list expired locks: %w", err)
	}

	locks, err := s.getLocks(ctx, ids)
	if err != nil {
		return nil, err
	}
	result := make([]*lease.Lock, 0, len(locks))
	for _, l := range locks {
		if l.Expired(now) {
			result = append(result, l)
		}
	}
	return result, nil
}

// ListLocksHeldBy returns the locks of open instances held by runnerID.
func (s *Store) ListLocksHeldBy(ctx context.Context, runnerID string) ([]*lease.Lock, error) {
	ids, err := s.client.ZRange(ctx, openLocksKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("durablesnake/redis: list held locks: %w", err)
	}

	locks, err := s.getLocks(ctx, ids)
	if err != nil {
		return nil, err
	}
	result := make([]*lease.Lock, 0)
	for _, l := range locks {
		if l.RunnerID == runnerID {
			result = append(result, l)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].WorkflowID < result[j].WorkflowID })
	return result, nil
}

// GetLock returns the live lock row for a workflow, or nil.
func (s *Store) GetLock(ctx context.Context, workflowID string) (*lease.Lock, error) {
	vals, err := s.client.HMGet(ctx, lockKey(workflowID), "epoch", "expires_at", "runner_id").Result()
	if err != nil {
		return nil, fmt.Errorf("durablesnake/redis: get lock: %w", err)
	}
	return parseLock(workflowID, vals)
}

// getLocks fetches lock rows in one pipeline, preserving the order of ids
// and skipping rows that vanished.
func (s *Store) getLocks(ctx context.Context, ids []string) ([]*lease.Lock, error) {
	if len(ids) == 0 {
		return []*lease.Lock{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(ctx, lockKey(id), "epoch", "expires_at", "runner_id")
	}
	if _, err := pipe.Exec(ctx); err != nil && !isNil(err) {
		return nil, fmt.Errorf("durablesnake/redis: get locks: %w", err)
	}

	result := make([]*lease.Lock, 0, len(ids))
	for i, cmd := range cmds {
		l, err := parseLock(ids[i], cmd.Val())
		if err != nil {
			return nil, err
		}
		if l != nil {
			result = append(result, l)
		}
	}
	return result, nil
}

func parseLock(workflowID string, vals []any) (*lease.Lock, error) {
	if len(vals) != 3 || vals[0] == nil {
		return nil, nil
	}
	epochStr, _ := vals[0].(string)
	expiresStr, _ := vals[1].(string)
	runner, _ := vals[2].(string)

	epoch, err := strconv.ParseInt(epochStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("durablesnake/redis: parse epoch: %w", err)
	}
	expiresUS, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("durablesnake/redis: parse expires_at: %w", err)
	}
	return &lease.Lock{
		WorkflowID: workflowID,
		Epoch:      epoch,
		ExpiresAt:  fromMicros(expiresUS),
		RunnerID:   runner,
	}, nil
}

func hgetall(cmd redis.Cmder) (map[string]string, error) {
	c, ok := cmd.(*redis.MapStringStringCmd)
	if !ok {
		return nil, fmt.Errorf("durablesnake/redis: unexpected reply %T", cmd)
	}
	return c.Result()
}
