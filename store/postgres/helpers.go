package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	durablesnake "github.com/danthegoodman1/DurableSnake"
	"github.com/danthegoodman1/DurableSnake/backoff"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isRetriable returns true for Postgres error codes that indicate a
// transient conflict between concurrent transactions.
func isRetriable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001": // serialization_failure
		return true
	case "40P01": // deadlock_detected
		return true
	default:
		return false
	}
}

// serializable runs fn in a SERIALIZABLE transaction, retrying the whole
// transaction on serialization conflicts. fn must reset any state it
// captures because it may run more than once.
func (s *Store) serializable(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return backoff.Retry(ctx, s.retry, s.maxRetries, isRetriable, func() error {
		return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
	})
}

// serverNow reads the database clock inside tx.
func serverNow(ctx context.Context, tx pgx.Tx) (time.Time, error) {
	var now time.Time
	if err := tx.QueryRow(ctx, `SELECT clock_timestamp()`).Scan(&now); err != nil {
		return time.Time{}, err
	}
	return now, nil
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
	return fmt.Errorf("durablesnake/postgres: %s: %w", op, err)
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func fromNull(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

// pgLimit maps "no limit" to LIMIT NULL.
func pgLimit(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
