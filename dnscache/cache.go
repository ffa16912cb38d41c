// SPDX-License-Identifier: GPL-3.0-or-later

package dnscache

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/bassosimone/corenet"
	"github.com/bassosimone/corenet/reactor"
	"github.com/bassosimone/corenet/task"
)

// status is the per-host resolver state spec.md §4.5 describes.
type status int

const (
	statusUninitialized status = iota
	statusInFlight
	statusResolved
	statusFailed
)

// addrRecord is one resolved address plus its round-robin cooldown.
type addrRecord struct {
	addr          netip.Addr
	lastSeen      time.Time
	cooldownUntil time.Time
}

// pendingCall is a caller waiting on an in-flight lookup.
type pendingCall struct {
	port uint16
	cb   func(netip.AddrPort, error)
}

type hostState struct {
	status   status
	records  []addrRecord
	rrIndex  int
	snapshot time.Time
	err      error
	pending  []pendingCall
}

// Cache implements spec.md §4.5's DNS cache: a (host -> resolver state) map
// guarded by a mutex, round-robin address delivery with per-address
// cooldown, and a periodic sweep dropping stale entries.
type Cache struct {
	cfg     *Config
	corenet *corenet.Config
	rt      *task.Runtime
	r       *reactor.Reactor

	mu    sync.Mutex
	hosts map[string]*hostState
}

// New creates a [*Cache] driven by r. The sweeper is armed immediately and
// re-arms itself every cfg.CacheLife/2 for the lifetime of the reactor.
func New(cfg *Config, r *reactor.Reactor) *Cache {
	if cfg == nil {
		cfg = &Config{}
	}
	c := &Cache{
		cfg:     cfg,
		corenet: cfg.corenet(),
		rt:      task.NewRuntime(cfg.corenet()),
		r:       r,
		hosts:   make(map[string]*hostState),
	}
	r.ScheduleTask(c.sweep, c.corenet.TimeNow().Add(c.cfg.cacheLife()/2))
	return c
}

// LookupAndRun implements spec.md §4.5's lookup_and_run: it delivers a
// resolved [netip.AddrPort] (or an error) to cb, never blocking the calling
// goroutine; delivery may happen synchronously on this call, from a
// spawned task once an in-flight resolution completes, or from a
// reactor-scheduled retry once a cooldown expires.
func (c *Cache) LookupAndRun(ctx context.Context, host string, port uint16, cb func(netip.AddrPort, error)) {
	c.mu.Lock()

	hs, ok := c.hosts[host]
	now := c.corenet.TimeNow()
	if ok && hs.status != statusInFlight && now.Sub(hs.snapshot) > c.cfg.cacheLife() {
		hs.status = statusUninitialized
	}
	if !ok {
		hs = &hostState{status: statusUninitialized}
		c.hosts[host] = hs
	}

	switch hs.status {
	case statusFailed:
		err := hs.err
		c.mu.Unlock()
		cb(netip.AddrPort{}, err)

	case statusResolved:
		if addr, ok := pickRoundRobin(hs, now, c.cfg.cooldown()); ok {
			c.mu.Unlock()
			cb(netip.AddrPortFrom(addr, port), nil)
		} else {
			wait := earliestCooldown(hs, now)
			c.mu.Unlock()
			c.r.ScheduleTask(func() {
				c.LookupAndRun(ctx, host, port, cb)
			}, now.Add(wait))
		}

	case statusInFlight:
		hs.pending = append(hs.pending, pendingCall{port: port, cb: cb})
		c.mu.Unlock()

	default: // statusUninitialized
		hs.status = statusInFlight
		hs.pending = []pendingCall{{port: port, cb: cb}}
		c.mu.Unlock()
		c.rt.Spawn(ctx, func(ctx context.Context) {
			c.resolve(ctx, host)
		}, task.WithName("dnscache.resolve:"+host))
	}
}
