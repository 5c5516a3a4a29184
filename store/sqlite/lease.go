package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	durablesnake "github.com/danthegoodman1/DurableSnake"
	"github.com/danthegoodman1/DurableSnake/lease"
)

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getLock(ctx context.Context, db queryRower, workflowID string) (*lease.Lock, error) {
	var (
		l         lease.Lock
		expiresAt int64
	)
	err := db.QueryRowContext(ctx,
		`SELECT workflow_id, epoch, expires_at, runner_id FROM durablesnake_locks WHERE workflow_id = ?`,
		workflowID,
	).Scan(&l.WorkflowID, &l.Epoch, &expiresAt, &l.RunnerID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	l.ExpiresAt = fromNanos(expiresAt)
	return &l, nil
}

func (s *Store) lockMatches(ctx context.Context, tx *sql.Tx, fence lease.Lock) (bool, error) {
	stored, err := getLock(ctx, tx, fence.WorkflowID)
	if err != nil {
		return false, err
	}
	return lease.Matches(stored, fence, s.now()), nil
}

// AcquireOrExtendLock applies the acquire-or-extend rule in an immediate
// transaction.
func (s *Store) AcquireOrExtendLock(ctx context.Context, next lease.Lock, expected *lease.Lock) (*lease.Lock, error) {
	var granted *lease.Lock
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stored, err := getLock(ctx, tx, next.WorkflowID)
		if err != nil {
			return err
		}
		row, ok := lease.Decide(stored, next, expected, s.now())
		if !ok {
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO durablesnake_locks (workflow_id, epoch, expires_at, runner_id)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (workflow_id) DO UPDATE
			SET epoch = excluded.epoch, expires_at = excluded.expires_at, runner_id = excluded.runner_id`,
			row.WorkflowID, row.Epoch, row.ExpiresAt.UnixNano(), row.RunnerID,
		)
		if err != nil {
			return err
		}
		row.ExpiresAt = fromNanos(row.ExpiresAt.UnixNano())
		granted = &row
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("durablesnake/sqlite: acquire or extend lock: %w", err)
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
		WHERE l.expires_at <= ? AND i.status IN ('pending', 'running')
		ORDER BY l.expires_at ASC, l.workflow_id ASC
		LIMIT ?`, s.now().UnixNano(), sqlLimit(limit))
}

// ListLocksHeldBy returns the locks of open instances held by runnerID.
func (s *Store) ListLocksHeldBy(ctx context.Context, runnerID string) ([]*lease.Lock, error) {
	return s.queryLocks(ctx, `
		SELECT l.workflow_id, l.epoch, l.expires_at, l.runner_id
		FROM durablesnake_locks l
		JOIN durablesnake_instances i ON i.id = l.workflow_id
		WHERE l.runner_id = ? AND i.status IN ('pending', 'running')
		ORDER BY l.workflow_id ASC`, runnerID)
}

func (s *Store) queryLocks(ctx context.Context, query string, args ...any) ([]*lease.Lock, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("durablesnake/sqlite: list locks: %w", err)
	}
	defer rows.Close()

	result := make([]*lease.Lock, 0)
	for rows.Next() {
		var (
			l         lease.Lock
			expiresAt int64
		)
		if err := rows.Scan(&l.WorkflowID, &l.Epoch, &expiresAt, &l.RunnerID); err != nil {
			return nil, fmt.Errorf("durablesnake/sqlite: scan lock: %w", err)
		}
		l.ExpiresAt = fromNanos(expiresAt)
		result = append(result, &l)
	}
	return result, rows.Err()
}

// GetLock returns the live lock row for a workflow, or nil.
func (s *Store) GetLock(ctx context.Context, workflowID string) (*lease.Lock, error) {
	l, err := getLock(ctx, s.db, workflowID)
	if err != nil {
		return nil, fmt.Errorf("durablesnake/sqlite: get lock: %w", err)
	}
	return l, nil
}

// wrapErr wraps backend failures but leaves contract errors recognizable
// at the top of the chain.
func wrapErr(op string, err error) error {
	for _, sentinel := range []error{
		durablesnake.ErrInstanceExists,
		durablesnake.ErrInstanceNotFound,
		durablesnake.ErrInvalidTransition,
		durablesnake.ErrEventConflict,
		durablesnake.ErrSequenceGap,
		durablesnake.ErrInvalidEvent,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("durablesnake/sqlite: %s: %w", op, err)
}
