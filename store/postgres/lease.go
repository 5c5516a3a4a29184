package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/danthegoodman1/DurableSnake/lease"
)

const lockColumns = `workflow_id, epoch, expires_at, runner_id`

func scanLock(row pgx.Row) (*lease.Lock, error) {
	var l lease.Lock
	if err := row.Scan(&l.WorkflowID, &l.Epoch, &l.ExpiresAt, &l.RunnerID); err != nil {
		return nil, err
	}
	l.ExpiresAt = l.ExpiresAt.UTC()
	return &l, nil
}

// lockForUpdate reads the live lock row and the server clock, locking the
// row for the rest of tx.
func lockForUpdate(ctx context.Context, tx pgx.Tx, workflowID string) (*lease.Lock, time.Time, error) {
	now, err := serverNow(ctx, tx)
	if err != nil {
		return nil, time.Time{}, err
	}
	l, err := scanLock(tx.QueryRow(ctx,
		`SELECT `+lockColumns+` FROM durablesnake_locks WHERE workflow_id = $1 FOR UPDATE`, workflowID))
	if err != nil {
		if isNoRows(err) {
			return nil, now, nil
		}
		return nil, time.Time{}, err
	}
	return l, now, nil
}

func lockMatches(ctx context.Context, tx pgx.Tx, fence lease.Lock) (bool, error) {
	stored, now, err := lockForUpdate(ctx, tx, fence.WorkflowID)
	if err != nil {
		return false, err
	}
	return lease.Matches(stored, fence, now), nil
}

// AcquireOrExtendLock applies the acquire-or-extend rule in a SERIALIZABLE
// transaction against the server clock.
func (s *Store) AcquireOrExtendLock(ctx context.Context, next lease.Lock, expected *lease.Lock) (*lease.Lock, error) {
	var granted *lease.Lock
	err := s.serializable(ctx, func(tx pgx.Tx) error {
		granted = nil
		stored, now, err := lockForUpdate(ctx, tx, next.WorkflowID)
		if err != nil {
			return err
		}
		row, ok := lease.Decide(stored, next, expected, now)
		if !ok {
			return nil
		}
		granted, err = scanLock(tx.QueryRow(ctx, `
			INSERT INTO durablesnake_locks (`+lockColumns+`)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (workflow_id) DO UPDATE
			SET epoch = EXCLUDED.epoch, expires_at = EXCLUDED.expires_at, runner_id = EXCLUDED.runner_id
			RETURNING `+lockColumns,
			row.WorkflowID, row.Epoch, row.ExpiresAt, row.RunnerID,
		))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("durablesnake/postgres: acquire or extend lock: %w", err)
	}
	return granted, nil
}

// ListExpiredLocks returns expired locks of open instances, oldest expiry
// first.
func (s *Store) ListExpiredLocks(ctx context.Context, limit int) ([]*lease.Lock, error) {
	return s.queryLocks(ctx, `
		SELECT l.workflow_id, l.epoch, l.expires_at, l.runner_id
		FROM durablesnake_locks l
		JOIN durablesnake_instances i ON i.id = l.workflow_id
		WHERE l.expires_at <= clock_timestamp() AND i.status IN ('pending', 'running')
		ORDER BY l.expires_at ASC, l.workflow_id ASC
		LIMIT $1`, pgLimit(limit))
}

// ListLocksHeldBy returns the locks of open instances held by runnerID.
func (s *Store) ListLocksHeldBy(ctx context.Context, runnerID string) ([]*lease.Lock, error) {
	return s.queryLocks(ctx, `
		SELECT l.workflow_id, l.epoch, l.expires_at, l.runner_id
		FROM durablesnake_locks l
		JOIN durablesnake_instances i ON i.id = l.workflow_id
		WHERE l.runner_id = $1 AND i.status IN ('pending', 'running')
		ORDER BY l.workflow_id ASC`, runnerID)
}

func (s *Store) queryLocks(ctx context.Context, query string, args ...any) ([]*lease.Lock, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("durablesnake/postgres: list locks: %w", err)
	}
	defer rows.Close()

	result := make([]*lease.Lock, 0)
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, fmt.Errorf("durablesnake/postgres: scan lock: %w", err)
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

// GetLock returns the live lock row for a workflow, or nil.
func (s *Store) GetLock(ctx context.Context, workflowID string) (*lease.Lock, error) {
	l, err := scanLock(s.pool.QueryRow(ctx,
		`SELECT `+lockColumns+` FROM durablesnake_locks WHERE workflow_id = $1`, workflowID))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("durablesnake/postgres: get lock: %w", err)
	}
	return l, nil
}
