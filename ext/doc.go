// Package ext defines the extension system for durablesnake.
//
// Extensions are notified of lifecycle events and can react to them by
// recording metrics, writing audit logs, alerting on lost leases, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnLeaseLost(ctx context.Context, l lease.Lock, reason error) error {
//	    log.Printf("lost %s: %v", l, reason)
//	    return nil
//	}
//
// # Lease Lifecycle Hooks
//
//   - [LeaseAcquired]: a claim (pending, recovered or reclaimed) was granted
//   - [LeaseRefused]: a claim lost to another runner
//   - [LeaseExtended]: an owned lease was renewed
//   - [LeaseLost]: an owned lease was refused renewal or ran out
//
// # Workflow Lifecycle Hooks
//
//   - [WorkflowStarted]: an execution loop began driving an instance
//   - [EventAppended]: an event was committed to history
//   - [WorkflowClosed]: an instance reached a terminal status
//
// # Other Hooks
//
//   - [Shutdown]: the runner is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
