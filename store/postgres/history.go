package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	durablesnake "github.com/danthegoodman1/DurableSnake"
	"github.com/danthegoodman1/DurableSnake/history"
	"github.com/danthegoodman1/DurableSnake/lease"
)

// AppendEvent inserts e if lock matches the live lock row and updates the
// instance's history counters in the same transaction.
func (s *Store) AppendEvent(ctx context.Context, e *history.Event, lock lease.Lock) (bool, error) {
	if !e.Type.Valid() {
		return false, fmt.Errorf("%w: unknown type %q", durablesnake.ErrInvalidEvent, e.Type)
	}
	if lock.WorkflowID != e.WorkflowID {
		return false, nil
	}

	var ok bool
	err := s.serializable(ctx, func(tx pgx.Tx) error {
		ok = false
		matched, err := lockMatches(ctx, tx, lock)
		if !matched || err != nil {
			return err
		}

		var last int64
		err = tx.QueryRow(ctx,
			`SELECT history_length FROM durablesnake_instances WHERE id = $1 FOR UPDATE`, e.WorkflowID,
		).Scan(&last)
		if err != nil {
			if isNoRows(err) {
				return durablesnake.ErrInstanceNotFound
			}
			return err
		}
		switch {
		case e.SequenceID <= last:
			return fmt.Errorf("%w: %s", durablesnake.ErrEventConflict, e)
		case e.SequenceID > last+1:
			return fmt.Errorf("%w: %s after %d", durablesnake.ErrSequenceGap, e, last)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO durablesnake_events (workflow_id, sequence_id, type, epoch, runner_id, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, clock_timestamp()))`,
			e.WorkflowID, e.SequenceID, string(e.Type), lock.Epoch, lock.RunnerID, e.Payload, nullTime(e.CreatedAt),
		)
		if err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: %s", durablesnake.ErrEventConflict, e)
			}
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE durablesnake_instances
			SET history_length = history_length + 1, history_bytes = history_bytes + $2, updated_at = clock_timestamp()
			WHERE id = $1`,
			e.WorkflowID, e.Size(),
		)
		if err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		return false, wrapErr("append event", err)
	}
	return ok, nil
}

// GetHistory returns the events after afterSeq in ascending order.
func (s *Store) GetHistory(ctx context.Context, workflowID string, afterSeq int64) ([]*history.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT workflow_id, sequence_id, type, epoch, runner_id, payload, created_at
		FROM durablesnake_events
		WHERE workflow_id = $1 AND sequence_id > $2
		ORDER BY sequence_id ASC`, workflowID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("durablesnake/postgres: get history: %w", err)
	}
	defer rows.Close()

	result := make([]*history.Event, 0)
	for rows.Next() {
		var e history.Event
		var typ string
		if err := rows.Scan(&e.WorkflowID, &e.SequenceID, &typ, &e.Epoch, &e.RunnerID, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("durablesnake/postgres: scan event: %w", err)
		}
		e.Type = history.Type(typ)
		e.CreatedAt = e.CreatedAt.UTC()
		result = append(result, &e)
	}
	return result, rows.Err()
}
