// SPDX-License-Identifier: GPL-3.0-or-later

package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssertNoLockHeldDisabledByDefault(t *testing.T) {
	assert.False(t, Debug)
	ctx := WithKernelLockTracking(context.Background())

	var km KernelMutex
	km.Lock(ctx)
	defer km.Unlock(ctx)

	// Must not panic: Debug is off.
	AssertNoLockHeld(ctx)
}

func TestAssertNoLockHeldPanicsWhenEnabled(t *testing.T) {
	Debug = true
	defer func() { Debug = false }()

	ctx := WithKernelLockTracking(context.Background())

	var km KernelMutex
	km.Lock(ctx)

	assert.Panics(t, func() {
		AssertNoLockHeld(ctx)
	})

	km.Unlock(ctx)
	assert.NotPanics(t, func() {
		AssertNoLockHeld(ctx)
	})
}

func TestAssertNoLockHeldWithoutTracking(t *testing.T) {
	Debug = true
	defer func() { Debug = false }()

	// A context with no tracking installed never panics.
	assert.NotPanics(t, func() {
		AssertNoLockHeld(context.Background())
	})
}
