// SPDX-License-Identifier: GPL-3.0-or-later

package dnscache

import (
	"context"
	"net/netip"
)

// GetAddrInfo is the synchronous form of [*Cache.LookupAndRun] for use
// inside tasks. spec.md §4.5 implements this with an internal delivery
// callback that signals a condvar; a buffered channel is the direct Go
// equivalent of that wake-one-waiter handoff, and composes naturally with
// ctx cancellation the way a condvar wait loop would need to poll for.
func (c *Cache) GetAddrInfo(ctx context.Context, host string, port uint16) (netip.AddrPort, error) {
	type result struct {
		addr netip.AddrPort
		err  error
	}
	ch := make(chan result, 1)
	c.LookupAndRun(ctx, host, port, func(addr netip.AddrPort, err error) {
		ch <- result{addr, err}
	})
	select {
	case r := <-ch:
		return r.addr, r.err
	case <-ctx.Done():
		return netip.AddrPort{}, ctx.Err()
	}
}
