package sproc

import (
	"context"
	"net"
	"testing"

	"github.com/bassosimone/corenet/reactor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestReactor(t *testing.T) *reactor.Reactor {
	t.Helper()
	r := reactor.New(reactor.Options{NumWorkers: 2})
	require.NoError(t, r.Start(0, false))
	t.Cleanup(func() {
		r.Stop()
		r.Join()
	})
	return r
}

// TestWrapInheritedFDAcceptsConnection exercises the actual
// [*Supervisor.listen] fd>=0 path: a duplicated listener fd, wrapped with
// [wrapInheritedFD], accepting a connection through the reactor.
func TestWrapInheritedFDAcceptsConnection(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	fd, err := duplicateListenerFD(ln)
	require.NoError(t, err)

	r := newTestReactor(t)
	p, err := wrapInheritedFD(fd, r)
	require.NoError(t, err)
	defer p.Close()

	conn, err := net.Dial("tcp4", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	newFd, _, err := p.Accept(context.Background())
	require.NoError(t, err)
	unix.Close(newFd)
}

func TestDuplicateListenerFDIndependentOfOriginal(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	fd, err := duplicateListenerFD(ln)
	require.NoError(t, err)
	defer unix.Close(fd)

	assert.NoError(t, ln.Close())
	// the duplicated fd should still be a valid, independent descriptor
	_, err = unix.Getsockname(fd)
	assert.NoError(t, err)
}
