// Package swaplock implements the per-swap lock with a bounded lease
// that serializes in-flight side effects on one swap identifier (spec.md
// §5: "operations are serialized by a per-swap lock... Timeout equals
// the operation's maximum acceptable hold... A contested swap is
// skipped and retried by the watchdog").
package swaplock

import (
	"sync"
	"time"
)

// entry tracks one key's current lease. heldUntil is the zero time when
// unlocked.
type entry struct {
	mu        sync.Mutex
	heldUntil time.Time
}

// Locker hands out leased locks keyed by swap identifier string (the
// caller derives this from models.SwapIdentity). A lock acquired with
// TryLock is automatically reclaimable once its lease expires, even if
// the holder never calls unlock — this is what lets the watchdog retry
// a swap whose previous operation died mid-flight instead of hanging
// forever on an abandoned lock.
type Locker struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// New creates an empty Locker.
func New() *Locker {
	return &Locker{entries: make(map[string]*entry), now: time.Now}
}

// TryLock attempts to acquire the lock for key with a lease of the
// given duration. ok is false if the key is already locked under an
// unexpired lease (contested). On success, unlock releases the lease
// early; letting the lease simply expire is also safe.
func (l *Locker) TryLock(key string, lease time.Duration) (unlock func(), ok bool) {
	e := l.getOrCreate(key)
	defer e.mu.Unlock()

	now := l.now()
	if now.Before(e.heldUntil) {
		return nil, false
	}

	token := now.Add(lease)
	e.heldUntil = token

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.heldUntil.Equal(token) {
			e.heldUntil = time.Time{}
		}
	}, true
}

// getOrCreate returns key's entry with e.mu held. Locking e.mu before
// l.mu is released keeps Prune from dropping the entry in between.
func (l *Locker) getOrCreate(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, found := l.entries[key]
	if !found {
		e = &entry{}
		l.entries[key] = e
	}
	e.mu.Lock()
	return e
}

// Prune drops tracked entries whose lease has been expired for longer
// than idleFor, bounding the locker's memory growth across a long-lived
// watchdog loop. Safe to call concurrently with TryLock.
func (l *Locker) Prune(idleFor time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idleFor)
	for key, e := range l.entries {
		e.mu.Lock()
		expired := e.heldUntil.Before(cutoff)
		e.mu.Unlock()
		if expired {
			delete(l.entries, key)
		}
	}
}
