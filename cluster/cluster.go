// SPDX-License-Identifier: GPL-3.0-or-later

package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/bassosimone/corenet"
	"github.com/bassosimone/corenet/dnscache"
	"github.com/bassosimone/corenet/reactor"
	"github.com/bassosimone/corenet/task"
)

// retryableError marks an error the outer retry wrapper in
// [*Cluster.WithConnectedPipe] should retry with backoff, matching
// spec.md §7's "transport I/O errors ... the endpoint-cluster retry
// wrapper treats these as retryable" classification.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Cluster implements spec.md §4.6's endpoint cluster: a pool of endpoints
// for one logical (host, port, TLS?) target, refreshed from DNS in the
// background, dispatched round-robin, with idle-connection reuse and
// exponential-backoff retry on connect failure.
type Cluster struct {
	cfg     *Config
	corenet *corenet.Config
	dns     *dnscache.Cache
	r       *reactor.Reactor
	rt      *task.Runtime

	mu   *task.Mutex
	cond *task.Cond

	endpoints      []*endpoint
	rrIndex        int
	lastRefresh    time.Time
	refreshPending bool
	lastErr        error

	closeOnce sync.Once
}

// New creates a [*Cluster] targeting cfg.Host:cfg.Port, resolving
// addresses through dns and dialing connections registered with r.
func New(cfg *Config, dns *dnscache.Cache, r *reactor.Reactor) *Cluster {
	mu := task.NewMutex()
	cn := cfg.corenet()
	return &Cluster{
		cfg:     cfg,
		corenet: cn,
		dns:     dns,
		r:       r,
		rt:      task.NewRuntime(cn),
		mu:      mu,
		cond:    task.NewCond(mu),
	}
}

// Close closes every idle connection held by the cluster's endpoints. It
// does not affect connections currently on loan to a running
// [*Cluster.WithConnectedPipe] callback; safe to call more than once.
func (cl *Cluster) Close() {
	cl.closeOnce.Do(func() {
		cl.mu.Lock()
		endpoints := cl.endpoints
		cl.endpoints = nil
		cl.mu.Unlock()

		for _, ep := range endpoints {
			ep.mu.Lock()
			ep.closeIdle()
			ep.mu.Unlock()
		}
	})
}

// WithConnectedPipe implements spec.md §4.6: it obtains a connection to
// one of the cluster's endpoints (dialing or reusing an idle one),
// invokes fn, and returns the connection to the idle pool or discards it
// based on fn's return value. Retryable failures (DNS with no existing
// endpoints, connect failure) are retried with exponential backoff (50ms
// doubling, capped at 30s) until the cap is exceeded, at which point the
// last error is returned.
func (cl *Cluster) WithConnectedPipe(ctx context.Context, fn func(Conn) bool) error {
	backoff := cl.cfg.initialBackoff()
	for {
		err := cl.attempt(ctx, fn)
		if err == nil {
			return nil
		}

		var retry *retryableError
		if !errors.As(err, &retry) {
			return err
		}

		cl.corenet.Logger.Info("clusterRetry",
			slog.String("host", cl.cfg.Host),
			slog.Duration("backoff", backoff),
			slog.String("err", err.Error()),
		)

		if serr := task.Sleep(ctx, backoff); serr != nil {
			return serr
		}
		backoff *= 2
		if max := cl.cfg.maxBackoff(); backoff > max {
			return retry.err
		}
	}
}

// attempt runs one end-to-end acquire/run/release cycle, per spec.md
// §4.6's numbered steps.
func (cl *Cluster) attempt(ctx context.Context, fn func(Conn) bool) error {
	ep, err := cl.acquireEndpoint(ctx)
	if err != nil {
		return err
	}

	ep.mu.LockContext(ctx)
	for ep.outstanding >= cl.cfg.maxPerEndpoint() && !ep.errFlag {
		ep.cond.WaitContext(ctx)
	}
	if ep.errFlag {
		ep.mu.Unlock()
		cl.evict(ep)
		return &retryableError{fmt.Errorf("cluster: endpoint %s flagged after acquiring slot", ep.addr)}
	}
	ep.outstanding++

	now := cl.corenet.TimeNow()
	conn, ok := ep.popIdle(now, cl.cfg.maxIdleTime())
	ep.mu.Unlock()

	if !ok {
		conn, err = dial(ctx, cl.cfg, netip.AddrPortFrom(ep.addr, cl.cfg.Port), cl.r)
		if err != nil {
			ep.mu.LockContext(ctx)
			ep.errFlag = true
			ep.outstanding--
			ep.cond.Signal()
			ep.mu.Unlock()
			cl.evict(ep)
			return &retryableError{fmt.Errorf("cluster: connect to %s: %w", ep.addr, err)}
		}
	}

	keep := cl.runCallback(fn, conn, ep)

	ep.mu.LockContext(ctx)
	if keep {
		ep.pushIdle(conn, cl.corenet.TimeNow())
	} else {
		conn.Close()
	}
	ep.outstanding--
	ep.cond.Signal()
	lastSocket := ep.outstanding == 0 && len(ep.idle) == 0
	flagged := ep.errFlag
	ep.mu.Unlock()

	if flagged && lastSocket {
		cl.evict(ep)
	}
	return nil
}

// runCallback invokes fn, recovering a panic as spec.md §4.6's "any
// exception thrown by fn flags the endpoint's error bit" — Go has no
// checked exceptions, so a panic is this runtime's closest equivalent of
// the original's "fn throws".
func (cl *Cluster) runCallback(fn func(Conn) bool, conn Conn, ep *endpoint) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			cl.corenet.Logger.Info("clusterCallbackPanic",
				slog.String("host", cl.cfg.Host),
				slog.Any("recovered", r),
			)
			ep.mu.Lock()
			ep.errFlag = true
			ep.mu.Unlock()
			keep = false
		}
	}()
	return fn(conn)
}

// acquireEndpoint implements step 1: ensure a fresh-enough endpoint list
// exists, kicking off a background refresh when needed, and round-robins
// to the next endpoint.
func (cl *Cluster) acquireEndpoint(ctx context.Context) (*endpoint, error) {
	cl.mu.LockContext(ctx)

	now := cl.corenet.TimeNow()
	stale := now.Sub(cl.lastRefresh) > cl.cfg.lookupFrequency()
	if (len(cl.endpoints) == 0 || stale) && !cl.refreshPending {
		cl.refreshPending = true
		cl.rt.Spawn(ctx, func(ctx context.Context) {
			cl.refresh(ctx)
		}, task.WithName("cluster.refresh:"+cl.cfg.Host))
	}

	for len(cl.endpoints) == 0 && cl.lastErr == nil {
		cl.cond.WaitContext(ctx)
	}
	if len(cl.endpoints) == 0 {
		err := cl.lastErr
		cl.mu.Unlock()
		return nil, fmt.Errorf("cluster: resolving %s: %w", cl.cfg.Host, err)
	}

	ep := cl.endpoints[cl.rrIndex%len(cl.endpoints)]
	cl.rrIndex = (cl.rrIndex + 1) % len(cl.endpoints)
	cl.mu.Unlock()
	return ep, nil
}

// evict removes ep from the cluster's endpoint list, closing its idle
// connections.
func (cl *Cluster) evict(ep *endpoint) {
	cl.mu.Lock()
	for i, e := range cl.endpoints {
		if e == ep {
			cl.endpoints = append(cl.endpoints[:i], cl.endpoints[i+1:]...)
			break
		}
	}
	cl.mu.Unlock()

	ep.mu.Lock()
	ep.closeIdle()
	ep.mu.Unlock()
}

// refresh resolves cl.cfg.Host via dns.Resolve, merges the result into the
// endpoint list, ages out endpoints unseen for 10*lookup_frequency, and
// wakes anyone blocked in [*Cluster.acquireEndpoint].
func (cl *Cluster) refresh(ctx context.Context) {
	addrs, err := cl.dns.Resolve(ctx, cl.cfg.Host)
	now := cl.corenet.TimeNow()

	cl.mu.Lock()
	cl.refreshPending = false
	cl.lastRefresh = now

	if err != nil {
		if len(cl.endpoints) == 0 {
			cl.lastErr = &retryableError{err}
		}
		cl.cond.Broadcast()
		cl.mu.Unlock()
		cl.corenet.Logger.Info("clusterRefreshFailed",
			slog.String("host", cl.cfg.Host),
			slog.String("err", err.Error()),
		)
		return
	}

	byAddr := make(map[netip.Addr]*endpoint, len(cl.endpoints))
	for _, ep := range cl.endpoints {
		byAddr[ep.addr] = ep
	}
	seen := make(map[netip.Addr]bool, len(addrs))
	for _, a := range addrs {
		seen[a] = true
		if ep, ok := byAddr[a]; ok {
			ep.lastSeen = now
			continue
		}
		ep := newEndpoint(a, now)
		cl.endpoints = append(cl.endpoints, ep)
		byAddr[a] = ep
	}

	ageLimit := 10 * cl.cfg.lookupFrequency()
	kept := cl.endpoints[:0]
	for _, ep := range cl.endpoints {
		if now.Sub(ep.lastSeen) > ageLimit {
			ep.mu.Lock()
			ep.closeIdle()
			ep.mu.Unlock()
			continue
		}
		kept = append(kept, ep)
	}
	cl.endpoints = kept
	cl.lastErr = nil
	cl.cond.Broadcast()
	cl.mu.Unlock()

	cl.corenet.Logger.Info("clusterRefreshDone",
		slog.String("host", cl.cfg.Host),
		slog.Int("numEndpoints", len(addrs)),
	)
}
