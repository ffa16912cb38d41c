// SPDX-License-Identifier: GPL-3.0-or-later

package task

import (
	"context"
	"sync"
)

// Cond is a task-aware condition variable associated with a [*Mutex], with
// the same Wait/Signal/Broadcast contract as [sync.Cond]: Wait must be
// called with l held, and it atomically unlocks l while parking, re-locking
// it before returning. spec.md §4.2 describes the fiber runtime's condvar
// as a FIFO wake list drained one entry per Signal or all-at-once on
// Broadcast; this preserves that ordering using channels as the park/resume
// primitive in place of fiber-resume callbacks.
type Cond struct {
	L *Mutex

	mu      sync.Mutex
	waiters []chan struct{}
}

// NewCond returns a new [*Cond] with Locker l.
func NewCond(l *Mutex) *Cond {
	return &Cond{L: l}
}

// Wait atomically unlocks c.L and suspends the calling task until Signal or
// Broadcast wakes it, then re-locks c.L before returning. As with
// [sync.Cond], callers must re-check their wait condition in a loop:
// spurious wakeups are not produced internally, but the pattern is required
// because Signal can race a third party into the critical section first.
func (c *Cond) Wait() {
	c.waitImpl()
}

// WaitContext is [Cond.Wait] preceded by [AssertNoLockHeld].
func (c *Cond) WaitContext(ctx context.Context) {
	AssertNoLockHeld(ctx)
	c.waitImpl()
}

func (c *Cond) waitImpl() {
	ch := make(chan struct{})
	c.mu.Lock()
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()

	c.L.Unlock()
	<-ch
	c.L.Lock()
}

// Signal wakes one task blocked in Wait, if any, in FIFO order.
func (c *Cond) Signal() {
	c.mu.Lock()
	if len(c.waiters) == 0 {
		c.mu.Unlock()
		return
	}
	next := c.waiters[0]
	c.waiters = c.waiters[1:]
	c.mu.Unlock()

	close(next)
}

// Broadcast wakes all tasks currently blocked in Wait.
func (c *Cond) Broadcast() {
	c.mu.Lock()
	pending := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
}
