// SPDX-License-Identifier: GPL-3.0-or-later

package task

import (
	"context"
	"sync"
	"sync/atomic"
)

// Mutex is a task-aware mutual-exclusion lock.
//
// spec.md §4.2 describes the fiber runtime's mutex as an atomic state word
// with three regimes (0 = unlocked, 1 = locked/uncontended, >=2 = locked
// with waiters), handing the lock off directly to the front of the waiter
// list on unlock rather than letting waiters race each other to reacquire.
// Go's goroutines cannot be parked and resumed by the application the way a
// fiber can, so here the handoff signals a channel instead of resuming a
// fiber directly, and state/waiters are mutated together under a single
// kernel mutex rather than via a lock-free CAS dance: the three regimes and
// the FIFO, direct-handoff wakeup are unchanged, only the mechanism by
// which a waiter is parked differs.
type Mutex struct {
	// state mirrors the regime for callers that want to observe it (e.g.
	// AssertNoLockHeld-style debug assertions); all transitions happen
	// under mu, so it is never read racily against waiters.
	state atomic.Int32

	mu      sync.Mutex
	waiters []chan struct{}
}

// NewMutex returns an unlocked [*Mutex].
func NewMutex() *Mutex {
	return &Mutex{}
}

// LockContext is [Mutex.Lock] preceded by [AssertNoLockHeld], for callers
// that have a ctx handy and want the debug-build suspension-point check.
func (m *Mutex) LockContext(ctx context.Context) {
	AssertNoLockHeld(ctx)
	m.Lock()
}

// Lock acquires m, blocking the calling task until it is available.
func (m *Mutex) Lock() {
	m.mu.Lock()
	if len(m.waiters) == 0 && m.state.Load() == 0 {
		m.state.Store(1)
		m.mu.Unlock()
		return
	}
	m.state.Store(2)
	ch := make(chan struct{})
	m.waiters = append(m.waiters, ch)
	m.mu.Unlock()

	<-ch
	// Unlock hands ownership directly to the waiter it wakes and leaves
	// state correctly set before closing ch, so no re-check is needed.
}

// Unlock releases m. It is a programmer error to call Unlock on an
// already-unlocked Mutex.
func (m *Mutex) Unlock() {
	m.mu.Lock()
	if len(m.waiters) == 0 {
		m.state.Store(0)
		m.mu.Unlock()
		return
	}

	next := m.waiters[0]
	m.waiters = m.waiters[1:]
	if len(m.waiters) == 0 {
		m.state.Store(1)
	} else {
		m.state.Store(2)
	}
	m.mu.Unlock()

	close(next)
}

// TryLock acquires m without blocking, reporting whether it succeeded.
func (m *Mutex) TryLock() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.waiters) == 0 && m.state.Load() == 0 {
		m.state.Store(1)
		return true
	}
	return false
}

// Locked reports whether m is currently held by any task. It exists to
// support [AssertNoLockHeld]-style debug checks and is inherently racy with
// concurrent Lock/Unlock calls; use only for assertions, never for control
// flow.
func (m *Mutex) Locked() bool {
	return m.state.Load() != 0
}
