package redis

// Redis key naming conventions for durablesnake data.
// All keys are prefixed with "durablesnake:" to avoid collisions.

const keyPrefix = "durablesnake:"

// ── Instance keys ──

// instanceKey returns the Hash key for a workflow instance:
// durablesnake:instance:{id}
func instanceKey(id string) string { return keyPrefix + "instance:" + id }

// pendingPrefix prefixes the per-queue pending Sorted Sets. Scripts append
// the stored queue name to it.
const pendingPrefix = keyPrefix + "pending:"

// pendingKey returns the Sorted Set of pending instance ids on a queue,
// scored by creation time in microseconds: durablesnake:pending:{queue}
func pendingKey(queue string) string { return pendingPrefix + queue }

// ── Lease keys ──

// lockKey returns the Hash key for a workflow's lock row:
// durablesnake:lock:{workflowID}
func lockKey(workflowID string) string { return keyPrefix + "lock:" + workflowID }

// openLocksKey is the Sorted Set of locks whose instance is still open,
// scored by expiry in microseconds.
const openLocksKey = keyPrefix + "open_locks"

// ── History keys ──

// eventsKey returns the List key holding a workflow's encoded events in
// sequence order: durablesnake:events:{workflowID}
func eventsKey(workflowID string) string { return keyPrefix + "events:" + workflowID }
