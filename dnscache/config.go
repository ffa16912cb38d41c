// SPDX-License-Identifier: GPL-3.0-or-later

// Package dnscache provides asynchronous DNS resolution on top of
// [*reactor.Reactor]: a (host -> resolver state) map protected by a mutex,
// round-robin address delivery with a per-address cooldown, and a periodic
// sweep that drops stale entries. Queries are issued with
// github.com/miekg/dns, the DNS wire-format library already in the
// dependency tree for this purpose, rather than hand-rolling DNS message
// encoding on top of raw sockets.
package dnscache

import (
	"time"

	"github.com/bassosimone/corenet"
	"github.com/miekg/dns"
)

// Config configures a [Cache].
type Config struct {
	// Corenet carries the shared logger/error classifier/clock. A nil value
	// uses [corenet.NewConfig]'s defaults.
	Corenet *corenet.Config

	// Upstream lists the "ip:port" resolver addresses to query. A nil or
	// empty slice falls back to the system resolver configuration read from
	// /etc/resolv.conf via [dns.ClientConfigFromFile], and finally to
	// 8.8.8.8:53 if that file cannot be read.
	Upstream []string

	// DialTimeout bounds each individual upstream exchange.
	//
	// Defaults to 5s.
	DialTimeout time.Duration

	// CacheLife is how long a resolved (or failed) entry remains valid. The
	// sweeper drops entries whose snapshot age exceeds this value and runs
	// every CacheLife/2.
	//
	// Defaults to 60s.
	CacheLife time.Duration

	// Cooldown is how long a delivered address is excluded from round-robin
	// selection for the same host before it becomes eligible again.
	//
	// Defaults to 1s.
	Cooldown time.Duration
}

func (c *Config) corenet() *corenet.Config {
	if c.Corenet == nil {
		return corenet.NewConfig()
	}
	return c.Corenet
}

func (c *Config) dialTimeout() time.Duration {
	if c.DialTimeout <= 0 {
		return 5 * time.Second
	}
	return c.DialTimeout
}

func (c *Config) cacheLife() time.Duration {
	if c.CacheLife <= 0 {
		return 60 * time.Second
	}
	return c.CacheLife
}

func (c *Config) cooldown() time.Duration {
	if c.Cooldown <= 0 {
		return 1 * time.Second
	}
	return c.Cooldown
}

func (c *Config) upstream() []string {
	if len(c.Upstream) > 0 {
		return c.Upstream
	}
	if conf, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil && len(conf.Servers) > 0 {
		out := make([]string, 0, len(conf.Servers))
		for _, s := range conf.Servers {
			out = append(out, s+":"+conf.Port)
		}
		return out
	}
	return []string{"8.8.8.8:53"}
}
