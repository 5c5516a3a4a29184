package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	durablesnake "github.com/danthegoodman1/DurableSnake"
	"github.com/danthegoodman1/DurableSnake/lease"
	"github.com/danthegoodman1/DurableSnake/workflow"
)

const instanceColumns = `id, type, status, queue, parent_id, continued_from, input, output, error,
	timeout_ns, history_length, history_bytes, created_at, started_at, closed_at, updated_at`

func scanInstance(row pgx.Row) (*workflow.Instance, error) {
	var inst workflow.Instance
	var status string
	var timeout int64
	var startedAt, closedAt *time.Time
	err := row.Scan(
		&inst.ID, &inst.Type, &status, &inst.Queue, &inst.ParentID, &inst.ContinuedFrom,
		&inst.Input, &inst.Output, &inst.Error, &timeout, &inst.HistoryLength, &inst.HistoryBytes,
		&inst.CreatedAt, &startedAt, &closedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inst.Status = workflow.Status(status)
	inst.Timeout = time.Duration(timeout)
	inst.CreatedAt = inst.CreatedAt.UTC()
	inst.UpdatedAt = inst.UpdatedAt.UTC()
	inst.StartedAt = fromNull(startedAt)
	inst.ClosedAt = fromNull(closedAt)
	return &inst, nil
}

// CreateInstance persists a new workflow instance.
func (s *Store) CreateInstance(ctx context.Context, inst *workflow.Instance) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return insertInstance(ctx, tx, inst)
	})
	if err != nil {
		return wrapErr("create instance", err)
	}
	return nil
}

func insertInstance(ctx context.Context, tx pgx.Tx, inst *workflow.Instance) error {
	status := inst.Status
	if status == "" {
		status = workflow.StatusPending
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO durablesnake_instances (`+instanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, 0,
			COALESCE($11, clock_timestamp()), $12, $13, clock_timestamp())`,
		inst.ID, inst.Type, string(status), inst.Queue, inst.ParentID, inst.ContinuedFrom,
		inst.Input, inst.Output, inst.Error, int64(inst.Timeout),
		nullTime(inst.CreatedAt), nullTime(inst.StartedAt), nullTime(inst.ClosedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: %s", durablesnake.ErrInstanceExists, inst.ID)
		}
		return err
	}
	return nil
}

// GetInstance retrieves a workflow instance by id.
func (s *Store) GetInstance(ctx context.Context, instanceID string) (*workflow.Instance, error) {
	inst, err := scanInstance(s.pool.QueryRow(ctx,
		`SELECT `+instanceColumns+` FROM durablesnake_instances WHERE id = $1`, instanceID))
	if err != nil {
		if isNoRows(err) {
			return nil, durablesnake.ErrInstanceNotFound
		}
		return nil, fmt.Errorf("durablesnake/postgres: get instance: %w", err)
	}
	return inst, nil
}

// UpdateInstance persists the mutable fields of inst, fenced by lock.
func (s *Store) UpdateInstance(ctx context.Context, inst *workflow.Instance, lock lease.Lock) (bool, error) {
	var ok bool
	err := s.serializable(ctx, func(tx pgx.Tx) error {
		var err error
		ok, err = fencedUpdate(ctx, tx, inst, lock)
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
	err := s.serializable(ctx, func(tx pgx.Tx) error {
		var err error
		ok, err = fencedUpdate(ctx, tx, inst, lock)
		if !ok || err != nil {
			return err
		}
		return insertInstance(ctx, tx, next)
	})
	if err != nil {
		return false, wrapErr("continue instance", err)
	}
	return ok, nil
}

func fencedUpdate(ctx context.Context, tx pgx.Tx, inst *workflow.Instance, lock lease.Lock) (bool, error) {
	if lock.WorkflowID != inst.ID {
		return false, nil
	}
	ok, err := lockMatches(ctx, tx, lock)
	if !ok || err != nil {
		return false, err
	}

	var current string
	err = tx.QueryRow(ctx,
		`SELECT status FROM durablesnake_instances WHERE id = $1 FOR UPDATE`, inst.ID).Scan(&current)
	if err != nil {
		if isNoRows(err) {
			return false, durablesnake.ErrInstanceNotFound
		}
		return false, err
	}
	if err := workflow.CheckTransition(workflow.Status(current), inst.Status); err != nil {
		return false, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE durablesnake_instances
		SET status = $2, output = $3, error = $4, started_at = $5, closed_at = $6, updated_at = clock_timestamp()
		WHERE id = $1`,
		inst.ID, string(inst.Status), inst.Output, inst.Error, nullTime(inst.StartedAt), nullTime(inst.ClosedAt),
	)
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListPending returns up to limit pending instances on queue, oldest first.
func (s *Store) ListPending(ctx context.Context, queue string, limit int) ([]*workflow.Instance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+instanceColumns+` FROM durablesnake_instances
		WHERE status = 'pending' AND queue = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2`, queue, pgLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("durablesnake/postgres: list pending: %w", err)
	}
	defer rows.Close()

	result := make([]*workflow.Instance, 0)
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("durablesnake/postgres: scan instance: %w", err)
		}
		result = append(result, inst)
	}
	return result, rows.Err()
}
