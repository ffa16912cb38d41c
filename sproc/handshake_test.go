package sproc

import (
	"context"
	"testing"
	"time"

	"github.com/bassosimone/corenet"
	"github.com/bassosimone/corenet/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// newSupervisorForTest builds a [*Supervisor] directly (bypassing
// [New]/tableflip, which needs no special environment but isn't the
// thing under test here) wired to one end of a socketpair standing in
// for the inherited cmd_fd; the other end is returned for the test to
// drive as the simulated supervisor.
func newSupervisorForTest(t *testing.T) (*Supervisor, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fds[1]) })

	r := newTestReactor(t)
	cn := corenet.NewConfig()
	s := &Supervisor{
		cfg:     &Config{QuiesceTimeout: 200 * time.Millisecond},
		corenet: cn,
		flags:   &Flags{HTTPFd: -1, HTTPSFd: -1, PrivateFd: -1, CmdFd: fds[0]},
		r:       r,
		rt:      task.NewRuntime(cn),
	}
	return s, fds[1]
}

func TestRunHandshakeStartupAck(t *testing.T) {
	s, supervisorFd := newSupervisorForTest(t)

	done := make(chan error, 1)
	go func() {
		done <- s.RunHandshake(context.Background(), nil)
	}()

	buf := make([]byte, 1)
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := unix.Read(supervisorFd, buf)
		if n == 1 {
			break
		}
		if err != nil && err != unix.EAGAIN {
			t.Fatalf("read ack: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for startup ack")
		}
	}
	assert.Equal(t, AckByte, buf[0])

	// stop the handshake loop cleanly
	_, err := unix.Write(supervisorFd, []byte{byte(CmdStop)})
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunHandshake never returned after CmdStop")
	}
}

func TestRunHandshakeStopCallsOnStopAndAcks(t *testing.T) {
	s, supervisorFd := newSupervisorForTest(t)

	var onStopCalled bool
	done := make(chan error, 1)
	go func() {
		done <- s.RunHandshake(context.Background(), func(ctx context.Context) error {
			onStopCalled = true
			return nil
		})
	}()

	readByte(t, supervisorFd) // startup ack
	_, err := unix.Write(supervisorFd, []byte{byte(CmdStop)})
	require.NoError(t, err)

	ack := readByte(t, supervisorFd)
	assert.Equal(t, AckByte, ack)
	assert.True(t, onStopCalled)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunHandshake never returned")
	}
}

func readByte(t *testing.T, fd int) byte {
	t.Helper()
	buf := make([]byte, 1)
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := unix.Read(fd, buf)
		if n == 1 {
			return buf[0]
		}
		if err != nil && err != unix.EAGAIN {
			t.Fatalf("read: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out reading byte")
		}
	}
}
