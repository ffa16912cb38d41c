// SPDX-License-Identifier: GPL-3.0-or-later

package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestReactor(t *testing.T) *Reactor {
	t.Helper()
	r := New(Options{NumWorkers: 2})
	require.NoError(t, r.Start(0, false))
	t.Cleanup(func() {
		r.Stop()
		r.Join()
	})
	return r
}

func TestReactorStartStop(t *testing.T) {
	newTestReactor(t)
}

func TestReactorEpollReadiness(t *testing.T) {
	r := newTestReactor(t)

	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK))
	readFd, writeFd := fds[0], fds[1]
	defer unix.Close(writeFd)

	fired := make(chan uint32, 1)
	require.NoError(t, r.EpollCtl(unix.EPOLL_CTL_ADD, readFd, unix.EPOLLIN, func(events uint32) {
		var buf [16]byte
		unix.Read(readFd, buf[:])
		fired <- events
		unix.Close(readFd)
	}))

	_, err := unix.Write(writeFd, []byte("hi"))
	require.NoError(t, err)

	select {
	case ev := <-fired:
		assert.NotZero(t, ev&unix.EPOLLIN)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}
}

func TestReactorScheduleTask(t *testing.T) {
	r := newTestReactor(t)

	ran := make(chan struct{})
	r.ScheduleTask(func() { close(ran) }, time.Now().Add(20*time.Millisecond))

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled task never ran")
	}
}

func TestReactorRemoveTask(t *testing.T) {
	r := newTestReactor(t)

	ran := make(chan struct{})
	tok := r.ScheduleTask(func() { close(ran) }, time.Now().Add(200*time.Millisecond))

	assert.True(t, r.RemoveTask(tok))
	assert.False(t, r.RemoveTask(tok)) // already removed

	select {
	case <-ran:
		t.Fatal("removed task still ran")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestReactorWhilePaused(t *testing.T) {
	r := newTestReactor(t)

	ran := make(chan struct{})
	r.WhilePaused(func() {
		close(ran)
	})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("WhilePaused callback never ran")
	}
}

func TestReactorOnEach(t *testing.T) {
	r := New(Options{NumWorkers: 3})
	require.NoError(t, r.Start(0, false))
	defer func() {
		r.Stop()
		r.Join()
	}()

	hits := make(chan struct{}, 3)
	r.OnEach(func() { hits <- struct{}{} })

	for i := 0; i < 3; i++ {
		select {
		case <-hits:
		case <-time.After(2 * time.Second):
			t.Fatalf("OnEach did not reach all workers (got %d/3)", i)
		}
	}
}
