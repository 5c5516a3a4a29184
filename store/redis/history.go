package redis

import (
	"context"
	"encoding/json"
	"fmt"

	durablesnake "github.com/danthegoodman1/DurableSnake"
	"github.com/danthegoodman1/DurableSnake/history"
	"github.com/danthegoodman1/DurableSnake/lease"
)

// AppendEvent pushes e onto the workflow's history if lock matches the live
// lock row, updating the instance's history counters in the same script.
func (s *Store) AppendEvent(ctx context.Context, e *history.Event, lock lease.Lock) (bool, error) {
	if !e.Type.Valid() {
		return false, fmt.Errorf("%w: unknown type %q", durablesnake.ErrInvalidEvent, e.Type)
	}
	if lock.WorkflowID != e.WorkflowID {
		return false, nil
	}

	stored := *e
	stored.Epoch = lock.Epoch
	stored.RunnerID = lock.RunnerID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now().UTC()
	}
	data, err := json.Marshal(&stored)
	if err != nil {
		return false, fmt.Errorf("durablesnake/redis: encode event: %w", err)
	}

	n, err := appendScript.Run(ctx, s.client,
		[]string{lockKey(e.WorkflowID), instanceKey(e.WorkflowID), eventsKey(e.WorkflowID)},
		lock.Epoch, lock.RunnerID, e.SequenceID, data, e.Size(), toNanos(s.now()),
	).Int64()
	if err != nil {
		return false, scriptErr("append event", err)
	}
	return n == 1, nil
}

// GetHistory returns the events after afterSeq in ascending order.
func (s *Store) GetHistory(ctx context.Context, workflowID string, afterSeq int64) ([]*history.Event, error) {
	if afterSeq < 0 {
		afterSeq = 0
	}
	raw, err := s.client.LRange(ctx, eventsKey(workflowID), afterSeq, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("durablesnake/redis: get history: %w", err)
	}

	result := make([]*history.Event, 0, len(raw))
	for _, item := range raw {
		var e history.Event
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("durablesnake/redis: decode event: %w", err)
		}
		result = append(result, &e)
	}
	return result, nil
}
