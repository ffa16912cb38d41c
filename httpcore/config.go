// SPDX-License-Identifier: GPL-3.0-or-later

// Package httpcore implements HTTP/1.1 framing over the runtime's
// non-blocking transports: [Server] accepts connections produced by a
// [corenet/sproc] listener (or any [net.Conn]/[*tlspipe.Conn]) and
// dispatches parsed requests to an [http.Handler]; [Client] generalizes
// the teacher's HTTPConn round-tripper to the same transports. spec.md
// §4.7 declines to specify HTTP/1.1 framing beyond "uses an external
// streaming parser" — this package fills that in concretely using
// net/http's own request parser and response writer, the only
// streaming-grade HTTP/1.1 framer available to this module (see
// DESIGN.md's stdlib-justification entry).
package httpcore

import (
	"time"

	"github.com/bassosimone/corenet"
)

// Config configures a [Server] or [Client].
type Config struct {
	// Corenet carries the shared logger/error classifier/clock. A nil
	// Corenet uses [corenet.NewConfig]'s defaults.
	Corenet *corenet.Config

	// MaxHeaderBytes bounds the size of a parsed request's header block.
	// Zero uses a 1MiB default, matching net/http.Server's own default.
	MaxHeaderBytes int64

	// MaxBodyBytes bounds the size of a request or response body this
	// package will buffer. spec.md explicitly excludes streaming request
	// bodies from scope; this is the enforced cap for that non-goal.
	// Zero uses a 8MiB default.
	MaxBodyBytes int64

	// ReadHeaderTimeout bounds how long [Server] waits for a client to
	// finish sending request headers. Zero uses a 10s default.
	ReadHeaderTimeout time.Duration

	// IdleTimeout bounds how long a keep-alive connection may sit idle
	// between requests before [Server] closes it. Zero uses a 60s
	// default.
	IdleTimeout time.Duration
}

func (c *Config) corenet() *corenet.Config {
	if c == nil || c.Corenet == nil {
		return corenet.NewConfig()
	}
	return c.Corenet
}

func (c *Config) maxHeaderBytes() int64 {
	if c == nil || c.MaxHeaderBytes <= 0 {
		return 1 << 20
	}
	return c.MaxHeaderBytes
}

func (c *Config) maxBodyBytes() int64 {
	if c == nil || c.MaxBodyBytes <= 0 {
		return 8 << 20
	}
	return c.MaxBodyBytes
}

func (c *Config) readHeaderTimeout() time.Duration {
	if c == nil || c.ReadHeaderTimeout <= 0 {
		return 10 * time.Second
	}
	return c.ReadHeaderTimeout
}

func (c *Config) idleTimeout() time.Duration {
	if c == nil || c.IdleTimeout <= 0 {
		return 60 * time.Second
	}
	return c.IdleTimeout
}
