// SPDX-License-Identifier: GPL-3.0-or-later

package pipe

import (
	"context"
	"errors"

	"github.com/bassosimone/corenet/task"
	"golang.org/x/sys/unix"
)

// Accept accepts one connection from a listening socket wrapped as p,
// parking the calling task on EPOLLIN exactly as [*Pipe.Read] does. The
// returned fd is already NONBLOCK|CLOEXEC (inherited from accept4's flags
// argument) and has TCP_NODELAY set where the socket supports it; callers
// wrap it with [New] to get a [*Pipe] for the accepted connection.
func (p *Pipe) Accept(ctx context.Context) (int, unix.Sockaddr, error) {
	task.AssertNoLockHeld(ctx)

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return -1, nil, ErrClosed
		}
		p.mu.Unlock()

		fd, sa, err := unix.Accept4(p.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == nil {
			// not a TCP socket (e.g. Unix-domain): the option does not apply
			_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
			return fd, sa, nil
		}
		if errors.Is(err, unix.EAGAIN) {
			if perr := p.park(ctx, unix.EPOLLIN, &p.readP); perr != nil {
				return -1, nil, perr
			}
			continue
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return -1, nil, &ErrIO{Op: "accept", Err: err}
	}
}
