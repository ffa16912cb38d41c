// SPDX-License-Identifier: GPL-3.0-or-later

package task

import (
	"context"
	"time"
)

// Sleep suspends the calling task for d, or until ctx is done, whichever
// happens first. Sleep returns ctx.Err() if ctx ends the wait early.
//
// spec.md's fiber runtime schedules sleeps on the reactor's timerfd-backed
// heap so that sleeping a task never blocks the worker thread running it.
// A goroutine calling time.Sleep would block only that one goroutine (never
// an OS thread shared with other tasks), so the equivalent here is a timer
// selected against ctx.Done, which gives the same non-blocking-of-siblings
// property plus cancellation for free.
func Sleep(ctx context.Context, d time.Duration) error {
	AssertNoLockHeld(ctx)

	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
