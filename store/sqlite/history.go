package sqlite

import (
	"context"
	"database/sql"
	"fmt"

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
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		matched, err := s.lockMatches(ctx, tx, lock)
		if !matched || err != nil {
			return err
		}

		var last int64
		err = tx.QueryRowContext(ctx, `
			SELECT history_length FROM durablesnake_instances WHERE id = ?`, e.WorkflowID,
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

		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = s.now()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO durablesnake_events (workflow_id, sequence_id, type, epoch, runner_id, payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.WorkflowID, e.SequenceID, string(e.Type), lock.Epoch, lock.RunnerID, e.Payload, createdAt.UnixNano(),
		)
		if err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: %s", durablesnake.ErrEventConflict, e)
			}
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE durablesnake_instances
			SET history_length = history_length + 1, history_bytes = history_bytes + ?, updated_at = ?
			WHERE id = ?`,
			e.Size(), s.now().UnixNano(), e.WorkflowID,
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT workflow_id, sequence_id, type, epoch, runner_id, payload, created_at
		FROM durablesnake_events
		WHERE workflow_id = ? AND sequence_id > ?
		ORDER BY sequence_id ASC`, workflowID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("durablesnake/sqlite: get history: %w", err)
	}
	defer rows.Close()

	result := make([]*history.Event, 0)
	for rows.Next() {
		var (
			e         history.Event
			typ       string
			createdAt int64
		)
		if err := rows.Scan(&e.WorkflowID, &e.SequenceID, &typ, &e.Epoch, &e.RunnerID, &e.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("durablesnake/sqlite: scan event: %w", err)
		}
		e.Type = history.Type(typ)
		e.CreatedAt = fromNanos(createdAt)
		result = append(result, &e)
	}
	return result, rows.Err()
}
