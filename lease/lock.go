package lease

import (
	"fmt"
	"time"
)

// Lock is a lease granting exclusive execution rights over one workflow.
type Lock struct {
	WorkflowID string    `json:"workflow_id"`
	Epoch      int64     `json:"epoch"`
	ExpiresAt  time.Time `json:"expires_at"`
	RunnerID   string    `json:"runner_id"`
}

// Expired reports whether the lock's expiry is at or before now.
func (l Lock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// SameGrant reports whether l and o identify the same grant: same workflow,
// same epoch and same holder. Expiry is not compared.
func (l Lock) SameGrant(o Lock) bool {
	return l.WorkflowID == o.WorkflowID && l.Epoch == o.Epoch && l.RunnerID == o.RunnerID
}

// String implements fmt.Stringer.
func (l Lock) String() string {
	return fmt.Sprintf("%s@%d(%s until %s)", l.WorkflowID, l.Epoch, l.RunnerID, l.ExpiresAt.UTC().Format(time.RFC3339Nano))
}

// Decide applies the acquire-or-extend rule.
//
// stored is the live row (nil when none exists), next carries the requested
// runner and expiry, and expected is the caller's belief of the live row
// (nil for a fresh acquisition). It returns the row to store and true on
// success, or false when the request must be refused. The stored row must
// not be modified on refusal.
func Decide(stored *Lock, next Lock, expected *Lock, now time.Time) (Lock, bool) {
	if expected == nil {
		if stored != nil && !stored.Expired(now) {
			return Lock{}, false
		}
		var epoch int64
		if stored != nil {
			epoch = stored.Epoch
		}
		return Lock{
			WorkflowID: next.WorkflowID,
			Epoch:      epoch + 1,
			ExpiresAt:  next.ExpiresAt,
			RunnerID:   next.RunnerID,
		}, true
	}

	if stored == nil || stored.Expired(now) {
		return Lock{}, false
	}
	if !stored.SameGrant(*expected) {
		return Lock{}, false
	}
	// An extension never transfers ownership.
	if next.WorkflowID != stored.WorkflowID || next.RunnerID != stored.RunnerID {
		return Lock{}, false
	}
	return Lock{
		WorkflowID: stored.WorkflowID,
		Epoch:      stored.Epoch + 1,
		ExpiresAt:  next.ExpiresAt,
		RunnerID:   stored.RunnerID,
	}, true
}

// Matches reports whether the fence lock may write against the live row.
// The live row must exist, be unexpired and carry the same grant.
func Matches(stored *Lock, fence Lock, now time.Time) bool {
	return stored != nil && !stored.Expired(now) && stored.SameGrant(fence)
}
