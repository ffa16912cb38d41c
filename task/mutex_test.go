// SPDX-License-Identifier: GPL-3.0-or-later

package task

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutexBasic(t *testing.T) {
	m := NewMutex()
	assert.False(t, m.Locked())

	m.Lock()
	assert.True(t, m.Locked())
	m.Unlock()
	assert.False(t, m.Locked())
}

func TestMutexTryLock(t *testing.T) {
	m := NewMutex()
	require.True(t, m.TryLock())
	assert.False(t, m.TryLock())
	m.Unlock()
	assert.True(t, m.TryLock())
	m.Unlock()
}

func TestMutexContention(t *testing.T) {
	m := NewMutex()
	counter := 0

	const goroutines = 50
	const increments = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < increments; j++ {
				m.Lock()
				counter++
				m.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines*increments, counter)
	assert.False(t, m.Locked())
}

func TestMutexFIFOHandoff(t *testing.T) {
	m := NewMutex()
	m.Lock()

	const waiters = 5
	order := make(chan int, waiters)
	var started sync.WaitGroup
	started.Add(waiters)

	for i := 0; i < waiters; i++ {
		i := i
		go func() {
			started.Done()
			m.Lock()
			order <- i
			m.Unlock()
		}()
	}

	started.Wait()
	time.Sleep(20 * time.Millisecond) // let all goroutines queue up
	m.Unlock()

	received := 0
	for range waiters {
		select {
		case <-order:
			received++
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for waiter to acquire lock")
		}
	}
	assert.Equal(t, waiters, received)
}
