package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	durablesnake "github.com/danthegoodman1/DurableSnake"
	"github.com/danthegoodman1/DurableSnake/history"
	"github.com/danthegoodman1/DurableSnake/lease"
	"github.com/danthegoodman1/DurableSnake/workflow"
)

// Compile-time interface checks.
var (
	_ workflow.Store = (*Store)(nil)
	_ lease.Store    = (*Store)(nil)
	_ history.Store  = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock sets the clock used for instance and event timestamps. Lock
// expiry is always judged by the server.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client redis.Cmdable
	logger *slog.Logger
	now    func() time.Time
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// scriptErr maps error replies raised by the scripts to contract errors.
func scriptErr(op string, err error) error {
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, codeExists):
		return durablesnake.ErrInstanceExists
	case strings.HasPrefix(msg, codeNotFound):
		return durablesnake.ErrInstanceNotFound
	case strings.HasPrefix(msg, codeTransition):
		return fmt.Errorf("%w: from %s", durablesnake.ErrInvalidTransition, strings.TrimSpace(strings.TrimPrefix(msg, codeTransition)))
	case strings.HasPrefix(msg, codeConflict):
		return fmt.Errorf("%w: last %s", durablesnake.ErrEventConflict, strings.TrimSpace(strings.TrimPrefix(msg, codeConflict)))
	case strings.HasPrefix(msg, codeGap):
		return fmt.Errorf("%w: last %s", durablesnake.ErrSequenceGap, strings.TrimSpace(strings.TrimPrefix(msg, codeGap)))
	}
	return fmt.Errorf("durablesnake/redis: %s: %w", op, err)
}

func isNil(err error) bool { return errors.Is(err, redis.Nil) }

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(s string) (time.Time, error) {
	if s == "" || s == "0" {
		return time.Time{}, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n).UTC(), nil
}

func toMicros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }
