//go:build integration

package postgres_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/danthegoodman1/DurableSnake/store"
	"github.com/danthegoodman1/DurableSnake/store/postgres"
	"github.com/danthegoodman1/DurableSnake/store/storetest"
)

var (
	containerOnce sync.Once
	connString    string
	containerErr  error
)

// startPostgres boots one container for the whole package. Each store handed
// to the conformance suite starts from truncated tables.
func startPostgres(t *testing.T) string {
	t.Helper()

	containerOnce.Do(func() {
		ctx := context.Background()
		container, err := pgmodule.Run(ctx,
			"postgres:16-alpine",
			pgmodule.WithDatabase("durablesnake_test"),
			pgmodule.WithUsername("test"),
			pgmodule.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		if err != nil {
			containerErr = err
			return
		}
		connString, containerErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	if containerErr != nil {
		t.Fatalf("start postgres container: %v", containerErr)
	}
	return connString
}

func newStore(t *testing.T) *postgres.Store {
	t.Helper()

	ctx := context.Background()
	s, err := postgres.New(ctx, startPostgres(t), postgres.WithLogger(slog.Default()))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	_, err = s.Pool().Exec(ctx,
		`TRUNCATE durablesnake_events, durablesnake_locks, durablesnake_instances`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return newStore(t) })
}

func TestMigrateIdempotent(t *testing.T) {
	s := newStore(t)
	defer s.Close()

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
