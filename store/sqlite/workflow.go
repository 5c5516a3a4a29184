package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	durablesnake "github.com/danthegoodman1/DurableSnake"
	"github.com/danthegoodman1/DurableSnake/lease"
	"github.com/danthegoodman1/DurableSnake/workflow"
)

const instanceColumns = `id, type, status, queue, parent_id, continued_from, input, output, error,
	timeout_ns, history_length, history_bytes, created_at, started_at, closed_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*workflow.Instance, error) {
	var inst workflow.Instance
	var status string
	var timeout, createdAt, startedAt, closedAt, updatedAt int64
	err := row.Scan(
		&inst.ID, &inst.Type, &status, &inst.Queue, &inst.ParentID, &inst.ContinuedFrom,
		&inst.Input, &inst.Output, &inst.Error, &timeout, &inst.HistoryLength, &inst.HistoryBytes,
		&createdAt, &startedAt, &closedAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	inst.Status = workflow.Status(status)
	inst.Timeout = time.Duration(timeout)
	inst.CreatedAt = fromNanos(createdAt)
	inst.StartedAt = fromNanos(startedAt)
	inst.ClosedAt = fromNanos(closedAt)
	inst.UpdatedAt = fromNanos(updatedAt)
	return &inst, nil
}

// CreateInstance persists a new workflow instance.
func (s *Store) CreateInstance(ctx context.Context, inst *workflow.Instance) error {
	return s.insertInstance(ctx, s.db, inst)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertInstance(ctx context.Context, db execer, inst *workflow.Instance) error {
	now := s.now().UTC()
	createdAt := inst.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	status := inst.Status
	if status == "" {
		status = workflow.StatusPending
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO durablesnake_instances (`+instanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?, ?, ?)`,
		inst.ID, inst.Type, string(status), inst.Queue, inst.ParentID, inst.ContinuedFrom,
		inst.Input, inst.Output, inst.Error, int64(inst.Timeout),
		toNanos(createdAt), toNanos(inst.StartedAt), toNanos(inst.ClosedAt), toNanos(now),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: %s", durablesnake.ErrInstanceExists, inst.ID)
		}
		return fmt.Errorf("durablesnake/sqlite: create instance: %w", err)
	}
	return nil
}

// GetInstance retrieves a workflow instance by id.
func (s *Store) GetInstance(ctx context.Context, instanceID string) (*workflow.Instance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM durablesnake_instances WHERE id = ?`, instanceID)
	inst, err := scanInstance(row)
	if err != nil {
		if isNoRows(err) {
			return nil, durablesnake.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("durablesnake/sqlite: get instance: %w", err)
	}
	return inst, nil
}

// UpdateInstance persists the mutable fields of inst, fenced by lock.
func (s *Store) UpdateInstance(ctx context.Context, inst *workflow.Instance, lock lease.Lock) (bool, error) {
	var ok bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		ok, err = s.fencedUpdate(ctx, tx, inst, lock)
		return err
	})
	if err != nil {
		return false, wrapErr("update instance", err)
	}
	return ok, nil
}

// ContinueInstance closes inst as continued-as-new and creates next.
func (s *Store) ContinueInstance(ctx context.Context, inst *workflow.Instance, next *workflow.Instance, lock lease.Lock) (bool, error) {
	if inst.Status != workflow.StatusContinuedAsNew {
		return false, fmt.Errorf("%w: continue requires %s, got %s",
			durablesnake.ErrInvalidTransition, workflow.StatusContinuedAsNew, inst.Status)
	}
	var ok bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		ok, err = s.fencedUpdate(ctx, tx, inst, lock)
		if !ok || err != nil {
			return err
		}
		return s.insertInstance(ctx, tx, next)
	})
	if err != nil {
		return false, wrapErr("continue instance", err)
	}
	return ok, nil
}

func (s *Store) fencedUpdate(ctx context.Context, tx *sql.Tx, inst *workflow.Instance, lock lease.Lock) (bool, error) {
	if lock.WorkflowID != inst.ID {
		return false, nil
	}
	ok, err := s.lockMatches(ctx, tx, lock)
	if !ok || err != nil {
		return false, err
	}

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM durablesnake_instances WHERE id = ?`, inst.ID).Scan(&current)
	if err != nil {
		if isNoRows(err) {
			return false, durablesnake.ErrInstanceNotFound
		}
		return false, err
	}
	if err := workflow.CheckTransition(workflow.Status(current), inst.Status); err != nil {
		return false, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE durablesnake_instances
		SET status = ?, output = ?, error = ?, started_at = ?, closed_at = ?, updated_at = ?
		WHERE id = ?`,
		string(inst.Status), inst.Output, inst.Error,
		toNanos(inst.StartedAt), toNanos(inst.ClosedAt), toNanos(s.now()), inst.ID,
	)
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListPending returns up to limit pending instances on queue, oldest first.
func (s *Store) ListPending(ctx context.Context, queue string, limit int) ([]*workflow.Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+instanceColumns+` FROM durablesnake_instances
		WHERE status = 'pending' AND queue = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`, queue, sqlLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("durablesnake/sqlite: list pending: %w", err)
	}
	defer rows.Close()

	result := make([]*workflow.Instance, 0)
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("durablesnake/sqlite: scan instance: %w", err)
		}
		result = append(result, inst)
	}
	return result, rows.Err()
}
