// SPDX-License-Identifier: GPL-3.0-or-later

package cluster

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/bassosimone/corenet/pipe"
	"github.com/bassosimone/corenet/reactor"
	"github.com/bassosimone/corenet/tlspipe"
	"golang.org/x/sys/unix"
)

// dial opens a fresh non-blocking TCP connection to addr, registers it
// with r, and layers TLS over it when cfg.TLS is set. spec.md §6's socket
// semantics apply: NONBLOCK + CLOEXEC at creation, TCP_NODELAY once
// connected. On any failure the partially constructed pipe is closed and
// the raw error returned for the caller to reclassify as retryable.
func dial(ctx context.Context, cfg *Config, addr netip.AddrPort, r *reactor.Reactor) (Conn, error) {
	fd, err := unix.Socket(unix.AF_INET6, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("cluster: socket: %w", err)
	}

	sa := sockaddrInet6(addr)
	if cerr := unix.Connect(fd, sa); cerr != nil && !errors.Is(cerr, unix.EINPROGRESS) {
		unix.Close(fd)
		return nil, fmt.Errorf("cluster: connect: %w", cerr)
	}

	p := pipe.New(fd, pipe.KindNetwork, r)
	p.LimitIOBlockTime(cfg.connectTimeout())
	if werr := p.WaitConnected(ctx); werr != nil {
		p.Close()
		return nil, werr
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	p.LimitIOBlockTime(0)

	if cfg.TLS == nil {
		return &rawConn{ctx: ctx, p: p}, nil
	}

	tconn, terr := tlspipe.Client(ctx, p, cfg.TLS, tlspipe.Options{
		Config:         cfg.corenet(),
		VerifyHostname: cfg.Host,
	})
	if terr != nil {
		return nil, terr
	}
	return tconn, nil
}

// sockaddrInet6 builds a dual-stack-capable sockaddr for addr. IPv4
// addresses are represented in their IPv4-in-IPv6 mapped form, consistent
// with the canonicalization [dnscache] already applies.
func sockaddrInet6(addr netip.AddrPort) *unix.SockaddrInet6 {
	a := addr.Addr()
	var b16 [16]byte
	if a.Is4() {
		b4 := a.As4()
		b16[10], b16[11] = 0xff, 0xff
		copy(b16[12:], b4[:])
	} else {
		b16 = a.As16()
	}
	return &unix.SockaddrInet6{Port: int(addr.Port()), Addr: b16}
}
