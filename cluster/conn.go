// SPDX-License-Identifier: GPL-3.0-or-later

package cluster

import (
	"context"

	"github.com/bassosimone/corenet/pipe"
)

// Conn is the minimal surface [*Cluster.WithConnectedPipe]'s callback
// needs: both a raw [*pipe.Pipe] (via [rawConn], below) and a
// TLS-layered [*tlspipe.Conn] satisfy it, so the callback sees the same
// shape regardless of whether [Config.TLS] is set.
type Conn interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
}

// rawConn binds a ctx to a [*pipe.Pipe] so it satisfies [Conn]. This
// mirrors tlspipe's own internal pipeConn adapter: a [*pipe.Pipe]'s
// Read/Write always take a ctx, so any ctx-less interface over it needs
// one fixed at construction time.
type rawConn struct {
	ctx context.Context
	p   *pipe.Pipe
}

var _ Conn = (*rawConn)(nil)

func (c *rawConn) Read(b []byte) (int, error)  { return c.p.Read(c.ctx, b) }
func (c *rawConn) Write(b []byte) (int, error) { return c.p.Write(c.ctx, b) }
func (c *rawConn) Close() error                { return c.p.Close() }
