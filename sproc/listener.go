// SPDX-License-Identifier: GPL-3.0-or-later

package sproc

import (
	"fmt"
	"net"

	"github.com/bassosimone/corenet/pipe"
	"github.com/bassosimone/corenet/reactor"
	"golang.org/x/sys/unix"
)

// wrapInheritedFD adapts an fd already created and configured by the
// supervisor (dual-stack, bound, listening) into a [*pipe.Pipe], per
// spec.md §6's socket-semantics paragraph: the worker only needs to make
// sure it's non-blocking before handing it to the reactor.
func wrapInheritedFD(fd int, r *reactor.Reactor) (*pipe.Pipe, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("sproc: setnonblock fd %d: %w", fd, err)
	}
	return pipe.New(fd, pipe.KindNetwork, r), nil
}

// duplicateListenerFD extracts a private, non-blocking fd duplicate from
// ln, leaving ln itself usable by its owner (tableflip.Upgrader tracks it
// for the next generation's handoff).
func duplicateListenerFD(ln net.Listener) (int, error) {
	tln, ok := ln.(*net.TCPListener)
	if !ok {
		return -1, fmt.Errorf("sproc: listener is not a *net.TCPListener")
	}
	file, err := tln.File()
	if err != nil {
		return -1, fmt.Errorf("sproc: listener fd: %w", err)
	}
	defer file.Close()

	fd, err := unix.Dup(int(file.Fd()))
	if err != nil {
		return -1, fmt.Errorf("sproc: dup listener fd: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("sproc: setnonblock dup fd: %w", err)
	}
	return fd, nil
}
