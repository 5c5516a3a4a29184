// Package lease implements the workflow lease (lock) model and the lease
// manager that drives it against a backend.
//
// A [Lock] grants one runner exclusive execution rights over one workflow
// until ExpiresAt. Its Epoch is a fencing token: it starts at 0 when the row
// is created and increases by exactly one on every successful acquisition or
// extension, so the first grant carries epoch 1. No two grants for the same
// workflow ever carry the same epoch.
//
// # Acquire or extend
//
// Backends expose a single compare-and-swap primitive,
// [Store.AcquireOrExtendLock]. With no expected lock it succeeds only when no
// row exists or the stored row has expired. With an expected lock it succeeds
// only when the stored (workflow_id, epoch, runner_id) equals the expected
// values and the stored row has not expired. [Decide] is the reference
// implementation of that rule and is shared by the backends that evaluate it
// in Go.
//
// A refusal is not an error. It is returned as a nil lock with a nil error
// and means "you do not hold this workflow". Callers must stop writing under
// the stale epoch.
//
// # Manager
//
// [Manager] wraps a Store for one runner. It stamps expiry times, names the
// operations the runner needs (Acquire, Reclaim, Recover, Extend, ExpireNow)
// and checks that the backend never grants an epoch lower than one it has
// already observed.
package lease
