package lease

import (
	"sync"
	"time"
)

// Holder tracks the lock currently held by one execution loop. The renewal
// goroutine replaces it after each extension while the loop reads it to
// fence its writes, so access is synchronized.
type Holder struct {
	mu        sync.RWMutex
	lock      Lock
	grantedAt time.Time
	lost      bool
}

// NewHolder wraps a freshly granted lock.
func NewHolder(l Lock, grantedAt time.Time) *Holder {
	return &Holder{lock: l, grantedAt: grantedAt}
}

// Current returns the lock to fence writes with.
func (h *Holder) Current() Lock {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lock
}

// GrantedAt returns when the current lock was granted.
func (h *Holder) GrantedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.grantedAt
}

// Replace installs a newly granted lock.
func (h *Holder) Replace(l Lock, grantedAt time.Time) {
	h.mu.Lock()
	h.lock = l
	h.grantedAt = grantedAt
	h.mu.Unlock()
}

// ShouldExtend reports whether at least after has elapsed since the grant.
func (h *Holder) ShouldExtend(now time.Time, after time.Duration) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.lost && now.Sub(h.grantedAt) >= after
}

// Expired reports whether the held lock has expired locally.
func (h *Holder) Expired(now time.Time) bool {
	return h.Current().Expired(now)
}

// MarkLost records an involuntary loss of ownership.
func (h *Holder) MarkLost() {
	h.mu.Lock()
	h.lost = true
	h.mu.Unlock()
}

// Lost reports whether ownership has been lost.
func (h *Holder) Lost() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lost
}
