// SPDX-License-Identifier: GPL-3.0-or-later

package dnscache

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/miekg/dns"
)

// resolve runs the blocking A+AAAA lookup for host and delivers the result
// to every pending caller. spec.md §4.5 describes this as a dedicated OS
// thread draining a socket-pair request queue; a spawned goroutine is the
// direct Go equivalent (the goroutine blocks on network I/O without
// pinning a worker thread, exactly as the dedicated-thread design intended
// to avoid blocking the reactor).
func (c *Cache) resolve(ctx context.Context, host string) {
	now := c.corenet.TimeNow()
	records, err := c.exchange(ctx, host)

	c.mu.Lock()
	hs := c.hosts[host]
	if hs == nil {
		hs = &hostState{}
		c.hosts[host] = hs
	}
	hs.snapshot = now
	var pending []pendingCall
	if err != nil && len(records) == 0 {
		hs.status = statusFailed
		hs.err = err
	} else {
		hs.status = statusResolved
		hs.err = nil
		hs.records = mergeRecords(hs.records, records, now)
	}
	pending, hs.pending = hs.pending, nil
	cooldown := c.cfg.cooldown()
	c.mu.Unlock()

	c.corenet.Logger.Info("dnscacheLookupDone",
		slog.String("host", host),
		slog.Int("numAddresses", len(records)),
		slog.Any("err", err),
		slog.String("errClass", c.corenet.ErrClassifier.Classify(err)),
	)

	for _, p := range pending {
		p := p
		c.rt.Spawn(ctx, func(ctx context.Context) {
			c.mu.Lock()
			hs := c.hosts[host]
			var (
				addr netip.Addr
				ok   bool
			)
			if hs != nil {
				addr, ok = pickRoundRobin(hs, c.corenet.TimeNow(), cooldown)
			}
			var derr error
			switch {
			case hs == nil:
				derr = fmt.Errorf("dnscache: entry for %s evicted before delivery", host)
			case hs.status == statusFailed:
				derr = hs.err
			case !ok:
				derr = fmt.Errorf("dnscache: no address available for %s", host)
			}
			c.mu.Unlock()

			if derr != nil {
				p.cb(netip.AddrPort{}, derr)
				return
			}
			p.cb(netip.AddrPortFrom(addr, p.port), nil)
		})
	}
}

// mergeRecords merges freshly resolved addresses with existing ones,
// carrying cooldown state forward for addresses still present and
// refreshing the last-seen timestamp for all resolved addresses.
func mergeRecords(existing []addrRecord, fresh []netip.Addr, now time.Time) []addrRecord {
	byAddr := make(map[netip.Addr]addrRecord, len(existing))
	for _, r := range existing {
		byAddr[r.addr] = r
	}
	out := make([]addrRecord, 0, len(fresh))
	for _, a := range fresh {
		rec, ok := byAddr[a]
		if !ok {
			rec = addrRecord{addr: a}
		}
		rec.lastSeen = now
		out = append(out, rec)
	}
	return out
}

// Resolve runs the raw A+AAAA lookup for host and returns every address
// found, without consulting or populating the round-robin cache. This is
// the "low-level lookup service" spec.md §4.5 describes as the layer
// [*Cache.LookupAndRun] and [*Cache.GetAddrInfo] are built on top of;
// callers that need the full address set for their own pooling policy
// (e.g. an endpoint cluster's DNS refresh) use this directly instead of
// the single-address round-robin delivery the other two methods provide.
func (c *Cache) Resolve(ctx context.Context, host string) ([]netip.Addr, error) {
	return c.exchange(ctx, host)
}

// exchange queries every configured upstream server for A and AAAA records
// until one answers successfully, returning the canonicalized address set.
func (c *Cache) exchange(ctx context.Context, host string) ([]netip.Addr, error) {
	var lastErr error
	for _, server := range c.cfg.upstream() {
		addrs, err := c.exchangeOne(ctx, server, host)
		if err == nil {
			return addrs, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("dnscache: no upstream servers configured")
	}
	return nil, lastErr
}

func (c *Cache) exchangeOne(ctx context.Context, server, host string) ([]netip.Addr, error) {
	client := &dns.Client{Timeout: c.cfg.dialTimeout()}
	fqdn := dns.Fqdn(host)

	var addrs []netip.Addr
	var firstErr error
	for _, qtype := range [...]uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(fqdn, qtype)
		msg.RecursionDesired = true

		c.corenet.Logger.Info("dnscacheQuery",
			slog.String("host", host),
			slog.String("server", server),
			slog.String("qtype", dns.TypeToString[qtype]),
		)

		resp, _, err := client.ExchangeContext(ctx, msg, server)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			if firstErr == nil {
				firstErr = fmt.Errorf("dnscache: server %s returned rcode %s for %s", server, dns.RcodeToString[resp.Rcode], host)
			}
			continue
		}
		for _, rr := range resp.Answer {
			switch rec := rr.(type) {
			case *dns.A:
				if a, ok := netip.AddrFromSlice(rec.A.To4()); ok {
					addrs = append(addrs, canonicalize(a))
				}
			case *dns.AAAA:
				if a, ok := netip.AddrFromSlice(rec.AAAA.To16()); ok {
					addrs = append(addrs, a)
				}
			}
		}
	}
	if len(addrs) > 0 {
		return addrs, nil
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, fmt.Errorf("dnscache: no records found for %s", host)
}

// sweep drops cache entries whose snapshot age exceeds cfg.CacheLife and
// reschedules itself every cfg.CacheLife/2, matching spec.md §4.5.
func (c *Cache) sweep() {
	now := c.corenet.TimeNow()
	life := c.cfg.cacheLife()

	c.mu.Lock()
	for host, hs := range c.hosts {
		if hs.status == statusInFlight {
			continue
		}
		if now.Sub(hs.snapshot) > life {
			delete(c.hosts, host)
		}
	}
	c.mu.Unlock()

	c.r.ScheduleTask(c.sweep, now.Add(life/2))
}
