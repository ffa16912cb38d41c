// SPDX-License-Identifier: GPL-3.0-or-later

package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpawnJoin(t *testing.T) {
	rt := NewRuntime(nil)

	ran := false
	tk := rt.Spawn(context.Background(), func(ctx context.Context) {
		ran = true
	}, WithName("worker"))

	require.NoError(t, tk.Join(context.Background()))
	assert.True(t, ran)
	assert.Equal(t, "worker", tk.Name())
	assert.NoError(t, tk.Err())
}

func TestSpawnPanicIsolated(t *testing.T) {
	rt := NewRuntime(nil)

	tk := rt.Spawn(context.Background(), func(ctx context.Context) {
		panic("boom")
	})

	require.Error(t, tk.Join(context.Background()))
	require.Error(t, tk.Err())
	assert.Contains(t, tk.Err().Error(), "boom")
}

func TestJoinContextCancel(t *testing.T) {
	rt := NewRuntime(nil)

	block := make(chan struct{})
	tk := rt.Spawn(context.Background(), func(ctx context.Context) {
		<-block
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := tk.Join(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	close(block)
	require.NoError(t, tk.Join(context.Background()))
}

func TestWaitAllDone(t *testing.T) {
	rt := NewRuntime(nil)

	const n = 20
	for i := 0; i < n; i++ {
		rt.Spawn(context.Background(), func(ctx context.Context) {
			time.Sleep(time.Millisecond)
		}, Detached())
	}

	rt.WaitAllDone()
	assert.Equal(t, int64(0), rt.Count())
}

func TestSleep(t *testing.T) {
	start := time.Now()
	err := Sleep(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestSleepContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Sleep(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleepZeroDuration(t *testing.T) {
	err := Sleep(context.Background(), 0)
	assert.NoError(t, err)
}
