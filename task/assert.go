// SPDX-License-Identifier: GPL-3.0-or-later

package task

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Debug enables the assertions in this file. They are off by default so
// that production builds pay nothing for them, matching the
// github.com/bassosimone/runtimex convention of cheap, opt-in invariant
// checks rather than always-on ones.
var Debug bool

type kernelLockDepthKey struct{}

// WithKernelLockTracking returns a context that [KernelMutex] and
// [AssertNoLockHeld] use to track how many kernel-level locks are held on
// the call path rooted at ctx. Call this once near the top of a task's
// body; a ctx without this installed is treated as having depth zero
// (AssertNoLockHeld never fires, KernelMutex still works but does not
// contribute to any ancestor's count).
func WithKernelLockTracking(ctx context.Context) context.Context {
	var depth atomic.Int32
	return context.WithValue(ctx, kernelLockDepthKey{}, &depth)
}

func kernelLockDepth(ctx context.Context) *atomic.Int32 {
	v, _ := ctx.Value(kernelLockDepthKey{}).(*atomic.Int32)
	return v
}

// KernelMutex wraps [sync.Mutex] for the few places spec.md §5 permits an
// OS-thread-level lock (e.g. the zero-tasks/zero-pipes shutdown barriers),
// contributing to the depth [AssertNoLockHeld] inspects so that misuse
// — suspending a task at an I/O park point while one of these is held — is
// caught in debug builds.
type KernelMutex struct {
	mu sync.Mutex
}

// Lock acquires the underlying mutex and records it against ctx's tracked
// depth, if any.
func (k *KernelMutex) Lock(ctx context.Context) {
	k.mu.Lock()
	if d := kernelLockDepth(ctx); d != nil {
		d.Add(1)
	}
}

// Unlock releases the underlying mutex and decrements ctx's tracked depth.
func (k *KernelMutex) Unlock(ctx context.Context) {
	if d := kernelLockDepth(ctx); d != nil {
		d.Add(-1)
	}
	k.mu.Unlock()
}

// AssertNoLockHeld panics if [Debug] is enabled and ctx is currently inside
// a [KernelMutex] critical section. Call this at the top of every blocking
// entry point that parks a task and takes a ctx (pipe reads/writes,
// [Mutex.LockContext], [Cond.WaitContext], [Sleep]) to catch spec.md §5's "no kernel lock held at an
// I/O suspension point" invariant during tests.
func AssertNoLockHeld(ctx context.Context) {
	if !Debug {
		return
	}
	d := kernelLockDepth(ctx)
	if d == nil {
		return
	}
	if n := d.Load(); n > 0 {
		panic(fmt.Sprintf("task: kernel lock held (depth %d) at suspension point", n))
	}
}
