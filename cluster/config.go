// SPDX-License-Identifier: GPL-3.0-or-later

// Package cluster implements an endpoint-pooled connection cluster: a pool
// of reusable connections to a logical (host, port, TLS?) target, one
// endpoint per resolved address, with background DNS refresh, round-robin
// dispatch, idle-connection reuse, and exponential backoff on connect
// failure (spec.md §4.6).
package cluster

import (
	"crypto/tls"
	"time"

	"github.com/bassosimone/corenet"
)

// Config configures a [Cluster].
type Config struct {
	// Corenet carries the shared logger/error classifier/clock. A nil
	// value uses [corenet.NewConfig]'s defaults.
	Corenet *corenet.Config

	// Host is the logical hostname resolved into endpoints, and the SNI /
	// verify hostname used when TLS is non-nil.
	Host string

	// Port is the TCP port dialed on every endpoint.
	Port uint16

	// TLS, when non-nil, layers a TLS handshake over every freshly dialed
	// connection using [Host] for SNI and hostname verification.
	TLS *tls.Config

	// LookupFrequency bounds how often the endpoint list is refreshed from
	// DNS; addresses unseen for 10*LookupFrequency are aged out.
	//
	// Defaults to 30s.
	LookupFrequency time.Duration

	// MaxPerEndpoint caps concurrent in-flight uses of a single endpoint;
	// [*Cluster.WithConnectedPipe] parks the calling task until a slot
	// frees up.
	//
	// Defaults to 8.
	MaxPerEndpoint int

	// MaxIdleTime is spec.md §4.6's k_max_idle_time: an idle pipe older
	// than this is redialed rather than reused.
	//
	// Defaults to 30s.
	MaxIdleTime time.Duration

	// ConnectTimeout bounds a single connect attempt (spec.md §6's "connect
	// deadline is 16s by default").
	//
	// Defaults to 16s.
	ConnectTimeout time.Duration

	// InitialBackoff and MaxBackoff bound [*Cluster.WithConnectedPipe]'s
	// retry wrapper: 50ms doubling, capped at 30s, per spec.md §4.6.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c *Config) corenet() *corenet.Config {
	if c.Corenet == nil {
		return corenet.NewConfig()
	}
	return c.Corenet
}

func (c *Config) lookupFrequency() time.Duration {
	if c.LookupFrequency <= 0 {
		return 30 * time.Second
	}
	return c.LookupFrequency
}

func (c *Config) maxPerEndpoint() int {
	if c.MaxPerEndpoint <= 0 {
		return 8
	}
	return c.MaxPerEndpoint
}

func (c *Config) maxIdleTime() time.Duration {
	if c.MaxIdleTime <= 0 {
		return 30 * time.Second
	}
	return c.MaxIdleTime
}

func (c *Config) connectTimeout() time.Duration {
	if c.ConnectTimeout <= 0 {
		return 16 * time.Second
	}
	return c.ConnectTimeout
}

func (c *Config) initialBackoff() time.Duration {
	if c.InitialBackoff <= 0 {
		return 50 * time.Millisecond
	}
	return c.InitialBackoff
}

func (c *Config) maxBackoff() time.Duration {
	if c.MaxBackoff <= 0 {
		return 30 * time.Second
	}
	return c.MaxBackoff
}
