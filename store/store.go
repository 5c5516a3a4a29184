package store

import (
	"context"

	"github.com/danthegoodman1/DurableSnake/history"
	"github.com/danthegoodman1/DurableSnake/lease"
	"github.com/danthegoodman1/DurableSnake/workflow"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface. A single backend
// (memory, sqlite, postgres, redis) implements all of them.
type Store interface {
	workflow.Store
	lease.Store
	history.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
