// Package durablesnake provides the coordination and recovery layer of a
// durable workflow engine for Go.
//
// Workflows are long-lived units of work whose progress survives process
// crashes. Every state transition is recorded as an immutable, ordered event
// in a backing store, and exclusive execution rights are coordinated across
// runner processes through a lease with a monotonically increasing fencing
// token (the epoch).
//
// # Quick Start
//
//	reg := workflow.NewRegistry()
//	workflow.RegisterDefinition(reg, workflow.NewWorkflow("greet", greet))
//
//	cfg := durablesnake.NewConfig(
//	    durablesnake.WithQueue("default"),
//	    durablesnake.WithLeaseDuration(10*time.Second),
//	)
//	r, err := runner.New(store, reg, cfg)
//	if err != nil { ... }
//	if err := r.Start(ctx); err != nil { ... }
//	defer r.Stop(context.Background())
//
// # Architecture
//
// Each subsystem (lease, history, workflow) defines its own store interface.
// The composite store.Store composes them, and a single backend (memory,
// sqlite, postgres, redis) implements all of them.
//
// The lease protocol is a compare-and-swap keyed on the caller's belief of
// the current (epoch, runner_id). Every downstream write (event append,
// instance update) carries the caller's lock and is rejected by the backend
// once that lock no longer matches the live row. A runner that paused past
// its lease expiry therefore cannot write stale state after another runner
// has taken over.
package durablesnake
