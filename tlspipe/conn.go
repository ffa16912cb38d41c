// SPDX-License-Identifier: GPL-3.0-or-later

// Package tlspipe layers TLS directly over a [*pipe.Pipe]. spec.md §4.4
// describes a custom BIO whose read/write callbacks call back into a
// task-aware Pipe so that a TLS handshake, read, write, or shutdown can
// still park the calling task on transport readiness; [crypto/tls.Client]
// and [crypto/tls.Server] already accept any [net.Conn], so the custom BIO
// collapses to implementing [net.Conn] over [*pipe.Pipe] — exactly the
// shape the teacher's own TLSConn/TLSEngineStdlib pair already modeled for
// a generic net.Conn, adapted here to require a Pipe specifically.
package tlspipe

import (
	"context"
	"net"
	"time"

	"github.com/bassosimone/corenet/pipe"
)

// pipeConn adapts a [*pipe.Pipe] to [net.Conn] so the standard library's TLS
// implementation can drive it directly.
type pipeConn struct {
	p          *pipe.Pipe
	ctx        context.Context
	localAddr  net.Addr
	remoteAddr net.Addr
}

var _ net.Conn = (*pipeConn)(nil)

func newPipeConn(ctx context.Context, p *pipe.Pipe, local, remote net.Addr) *pipeConn {
	return &pipeConn{p: p, ctx: ctx, localAddr: local, remoteAddr: remote}
}

func (c *pipeConn) Read(b []byte) (int, error)  { return c.p.Read(c.ctx, b) }
func (c *pipeConn) Write(b []byte) (int, error) { return c.p.Write(c.ctx, b) }
func (c *pipeConn) Close() error                { return c.p.Close() }

func (c *pipeConn) LocalAddr() net.Addr  { return c.localAddr }
func (c *pipeConn) RemoteAddr() net.Addr { return c.remoteAddr }

// SetDeadline, SetReadDeadline, and SetWriteDeadline approximate the
// absolute-deadline contract of [net.Conn] against [*pipe.Pipe]'s single
// max-block duration (spec.md §4.3's "limit_io_block_time", not a true
// per-call absolute deadline): the duration remaining until t is installed
// as the pipe's block limit, so it applies to whichever read or write
// happens next rather than to one specific call. This matches how the
// original Pipe itself works; code needing true per-call deadlines should
// use context cancellation instead, which every Read/Write already honors
// via ctx.
func (c *pipeConn) SetDeadline(t time.Time) error {
	c.p.LimitIOBlockTime(time.Until(t))
	return nil
}

func (c *pipeConn) SetReadDeadline(t time.Time) error  { return c.SetDeadline(t) }
func (c *pipeConn) SetWriteDeadline(t time.Time) error { return c.SetDeadline(t) }
