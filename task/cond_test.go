// SPDX-License-Identifier: GPL-3.0-or-later

package task

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCondSignal(t *testing.T) {
	m := NewMutex()
	c := NewCond(m)

	ready := false
	woke := make(chan struct{})

	go func() {
		m.Lock()
		for !ready {
			c.Wait()
		}
		m.Unlock()
		close(woke)
	}()

	time.Sleep(20 * time.Millisecond)

	m.Lock()
	ready = true
	m.Unlock()
	c.Signal()

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("Signal did not wake waiter")
	}
}

func TestCondBroadcast(t *testing.T) {
	m := NewMutex()
	c := NewCond(m)

	const waiters = 10
	ready := false
	var wg sync.WaitGroup
	wg.Add(waiters)

	for i := 0; i < waiters; i++ {
		go func() {
			defer wg.Done()
			m.Lock()
			for !ready {
				c.Wait()
			}
			m.Unlock()
		}()
	}

	time.Sleep(20 * time.Millisecond)

	m.Lock()
	ready = true
	m.Unlock()
	c.Broadcast()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast did not wake all waiters")
	}
}
