// SPDX-License-Identifier: GPL-3.0-or-later

package pipe

import (
	"context"

	"golang.org/x/sys/unix"
)

// WaitConnected parks the calling task until a non-blocking connect() on
// p's file descriptor completes, then reports its outcome via SO_ERROR.
// Use this after issuing connect() on a fresh non-blocking socket and
// wrapping it in [New]: the same EPOLLOUT readiness event that would wake a
// parked [Pipe.Write] signals connect completion, so this reuses the same
// park machinery rather than duplicating it.
func (p *Pipe) WaitConnected(ctx context.Context) error {
	if perr := p.park(ctx, unix.EPOLLOUT, &p.writeP); perr != nil {
		return perr
	}
	errno, err := unix.GetsockoptInt(p.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return &ErrIO{Op: "connect", Err: err}
	}
	if errno != 0 {
		return &ErrIO{Op: "connect", Err: unix.Errno(errno)}
	}
	return nil
}
