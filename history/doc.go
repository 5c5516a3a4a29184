// Package history defines the append-only event log of a workflow instance.
//
// Every state transition of a workflow is recorded as an immutable Event
// with a per-workflow sequence id that starts at 1 and has no gaps. Events
// are written only by the runner holding the workflow's lease; the Store
// contract requires each append to be fenced by that lease so that a runner
// which lost ownership can never extend the history.
package history
