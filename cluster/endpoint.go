// SPDX-License-Identifier: GPL-3.0-or-later

package cluster

import (
	"net/netip"
	"time"

	"github.com/bassosimone/corenet/task"
)

// idleEntry is one connection sitting in an endpoint's idle queue, keyed
// by last-use time (spec.md §3's "idle-socket FIFO (pipe + last-use
// timestamp)").
type idleEntry struct {
	c       Conn
	lastUse time.Time
}

// endpoint is one resolved address inside a [Cluster]'s pool: an idle-pipe
// queue, an outstanding-use counter bounded by Config.MaxPerEndpoint, and
// an error flag that marks it for eviction. Guarded by its own
// [*task.Mutex]/[*task.Cond] pair, not the cluster's, matching spec.md
// §5's "endpoint cluster map and each endpoint: task-level mutex" policy.
type endpoint struct {
	addr netip.Addr

	mu   *task.Mutex
	cond *task.Cond

	idle        []idleEntry
	outstanding int
	errFlag     bool
	lastSeen    time.Time
}

func newEndpoint(addr netip.Addr, now time.Time) *endpoint {
	mu := task.NewMutex()
	return &endpoint{
		addr:     addr,
		mu:       mu,
		cond:     task.NewCond(mu),
		lastSeen: now,
	}
}

// popIdle removes and returns the oldest idle connection (first in, first
// out) younger than maxAge, if any, closing each older connection it
// passes. Callers must hold e.mu.
func (e *endpoint) popIdle(now time.Time, maxAge time.Duration) (Conn, bool) {
	for len(e.idle) > 0 {
		first := e.idle[0]
		e.idle = e.idle[1:]
		if now.Sub(first.lastUse) <= maxAge {
			return first.c, true
		}
		first.c.Close()
	}
	return nil, false
}

// pushIdle returns c to the idle queue for future reuse. Callers must
// hold e.mu.
func (e *endpoint) pushIdle(c Conn, now time.Time) {
	e.idle = append(e.idle, idleEntry{c: c, lastUse: now})
}

// closeIdle closes every idle connection, used when the endpoint is
// evicted. Callers must hold e.mu.
func (e *endpoint) closeIdle() {
	for _, entry := range e.idle {
		entry.c.Close()
	}
	e.idle = nil
}
