// SPDX-License-Identifier: GPL-3.0-or-later

package pipe

import (
	"context"
	"net"
	"time"
)

// NetConn adapts a [*Pipe] to [net.Conn], binding every Read/Write to a
// fixed context. This is the exported counterpart of the adapter
// tlspipe uses internally to hand a Pipe to [crypto/tls]: anything else
// that needs a plain (non-TLS) net.Conn view of a Pipe — the HTTP server
// in [corenet/httpcore] foremost — uses this instead of duplicating the
// pattern.
type NetConn struct {
	p          *Pipe
	ctx        context.Context
	localAddr  net.Addr
	remoteAddr net.Addr
}

// NewNetConn wraps p as a [net.Conn], binding its Read/Write calls to ctx.
// local and remote may be nil.
func NewNetConn(ctx context.Context, p *Pipe, local, remote net.Addr) *NetConn {
	return &NetConn{p: p, ctx: ctx, localAddr: local, remoteAddr: remote}
}

func (c *NetConn) Read(b []byte) (int, error)  { return c.p.Read(c.ctx, b) }
func (c *NetConn) Write(b []byte) (int, error) { return c.p.Write(c.ctx, b) }
func (c *NetConn) Close() error                { return c.p.Close() }

func (c *NetConn) LocalAddr() net.Addr  { return c.localAddr }
func (c *NetConn) RemoteAddr() net.Addr { return c.remoteAddr }

// SetDeadline installs d's remaining duration as the pipe's max I/O block
// time (see [*Pipe.LimitIOBlockTime]); like tlspipe's adapter, this is an
// approximation of [net.Conn]'s true per-call absolute deadline contract.
func (c *NetConn) SetDeadline(t time.Time) error {
	c.p.LimitIOBlockTime(time.Until(t))
	return nil
}

func (c *NetConn) SetReadDeadline(t time.Time) error  { return c.SetDeadline(t) }
func (c *NetConn) SetWriteDeadline(t time.Time) error { return c.SetDeadline(t) }

// SetHibernating forwards to the underlying [*Pipe.SetHibernating].
func (c *NetConn) SetHibernating(v bool) { c.p.SetHibernating(v) }

var _ net.Conn = (*NetConn)(nil)
