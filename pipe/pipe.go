// SPDX-License-Identifier: GPL-3.0-or-later

// Package pipe implements the runtime's non-blocking fd wrapper: reads and
// writes look blocking to the calling task, but a task that would block
// instead parks on reactor readiness notification and resumes when the fd
// becomes ready again (or its deadline expires). Every live pipe is tracked
// in a process-wide list the idle sweeper walks during
// [*reactor.Reactor.WhilePaused].
package pipe

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bassosimone/corenet"
	"github.com/bassosimone/corenet/reactor"
	"github.com/bassosimone/corenet/task"
	"golang.org/x/sys/unix"
)

// Kind distinguishes a network pipe (TCP/UDP socket) from a Unix-domain
// one, mirroring spec.md §3's socket-kind flag; both are driven identically
// by the reactor and the sweeper, so this is informational only: nothing
// in this package branches on it.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindUnix
)

// parked records one blocked reader or writer.
type parked struct {
	wake chan struct{}
	err  error // set by whoever closes wake, read once wake fires
}

// Pipe wraps a non-blocking file descriptor registered with a [*reactor.Reactor].
//
// At most one task is ever parked reading and at most one parked writing at
// a time (spec.md §5); Pipe does not serialize concurrent Read/Write calls
// from multiple tasks beyond that invariant — callers that need more must
// provide their own external synchronization, exactly as in the original.
type Pipe struct {
	fd   int
	kind Kind
	r    *reactor.Reactor
	cfg  *corenet.Config

	registered bool

	mu           sync.Mutex
	readP        *parked
	writeP       *parked
	maxBlock     time.Duration
	deadline     time.Time
	remoteHangup bool
	hibernating  bool
	closed       bool
	detached     bool // true once removed from the registry's live list

	elem *list.Element // this pipe's node in its registry's live list
}

// detach marks p as removed from its registry's live list, returning
// whether this call is the one that does so. The sweeper and [Close] both
// race to detach the same pipe (a sweep-timed-out pipe is usually Closed
// shortly after by its caller), so whichever gets there first performs the
// registry removal and the other is a no-op.
func (p *Pipe) detach() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.detached {
		return false
	}
	p.detached = true
	return true
}

// New wraps fd (which must already be in non-blocking mode) as a [*Pipe]
// registered with r, and adds it to r's live-pipe list for sweeping. Use
// [SetConfig] before creating pipes to override the package's logging and
// sweep-interval defaults.
func New(fd int, kind Kind, r *reactor.Reactor) *Pipe {
	p := &Pipe{fd: fd, kind: kind, r: r, cfg: currentConfig()}
	p.elem = registryFor(r).add(p)
	return p
}

// Fd returns the underlying file descriptor. Used by callers (tlspipe,
// httpcore) that need it for logging or platform-specific socket options.
func (p *Pipe) Fd() int { return p.fd }

// LimitIOBlockTime sets how long a single Read or Write call may park
// before the sweeper times it out; zero means unbounded.
func (p *Pipe) LimitIOBlockTime(d time.Duration) {
	p.mu.Lock()
	p.maxBlock = d
	p.mu.Unlock()
}

// SetHibernating marks p eligible for eager cleanup by the sweeper, used
// when the application considers a connection idle and wants it reclaimed
// under fd pressure ahead of its normal deadline.
func (p *Pipe) SetHibernating(v bool) {
	p.mu.Lock()
	p.hibernating = v
	p.mu.Unlock()
}

// Read reads into buf, parking the calling task on EPOLLIN if the fd would
// block, resuming on readiness or on the sweeper's timeout.
func (p *Pipe) Read(ctx context.Context, buf []byte) (int, error) {
	task.AssertNoLockHeld(ctx)

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return 0, ErrClosed
		}
		p.mu.Unlock()

		n, err := unix.Read(p.fd, buf)
		if err == nil {
			if n == 0 {
				return 0, &ErrIO{Op: "read", Err: errors.New("remote hangup")}
			}
			return n, nil
		}
		if errors.Is(err, unix.EAGAIN) {
			if perr := p.park(ctx, unix.EPOLLIN, &p.readP); perr != nil {
				return 0, perr
			}
			continue
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return 0, &ErrIO{Op: "read", Err: err}
	}
}

// Write writes buf in full, parking the calling task on EPOLLOUT whenever
// the fd would block.
func (p *Pipe) Write(ctx context.Context, buf []byte) (int, error) {
	task.AssertNoLockHeld(ctx)

	written := 0
	for written < len(buf) {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return written, ErrClosed
		}
		p.mu.Unlock()

		n, err := unix.Write(p.fd, buf[written:])
		if err == nil {
			written += n
			continue
		}
		if errors.Is(err, unix.EAGAIN) {
			if perr := p.park(ctx, unix.EPOLLOUT, &p.writeP); perr != nil {
				return written, perr
			}
			continue
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return written, &ErrIO{Op: "write", Err: err}
	}
	return written, nil
}

// park registers (or re-registers) fd interest for dir, suspends the
// calling task until the reactor wakes it or ctx ends, and returns nil if
// the fd should be retried, or the terminal error otherwise.
func (p *Pipe) park(ctx context.Context, dir uint32, slot **parked) error {
	w := &parked{wake: make(chan struct{})}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	*slot = w
	if p.maxBlock > 0 {
		p.deadline = time.Now().Add(p.maxBlock)
	} else {
		p.deadline = time.Time{}
	}
	firstReg := !p.registered
	p.registered = true
	p.mu.Unlock()

	events := dir | unix.EPOLLONESHOT | unix.EPOLLET | unix.EPOLLRDHUP
	op := unix.EPOLL_CTL_MOD
	if firstReg {
		op = unix.EPOLL_CTL_ADD
	}
	if err := p.r.EpollCtl(op, p.fd, events, p.onReady); err != nil {
		return &ErrIO{Op: "epoll_ctl", Err: err}
	}

	select {
	case <-w.wake:
		return w.err
	case <-ctx.Done():
		p.clearParked(slot, w)
		return ctx.Err()
	}
}

// onReady is the reactor handler registered for p.fd. It wakes whichever
// direction(s) are parked; a hangup/error wakes both, matching spec.md
// §4.1's "RDHUP-observed" bookkeeping.
func (p *Pipe) onReady(events uint32) {
	p.mu.Lock()
	if events&(unix.EPOLLRDHUP|unix.EPOLLHUP) != 0 {
		p.remoteHangup = true
	}
	var toWake []*parked
	if events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLRDHUP|unix.EPOLLERR) != 0 && p.readP != nil {
		toWake = append(toWake, p.readP)
		p.readP = nil
	}
	if events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0 && p.writeP != nil {
		toWake = append(toWake, p.writeP)
		p.writeP = nil
	}
	p.mu.Unlock()

	for _, w := range toWake {
		close(w.wake)
	}
}

// clearParked removes w from slot if it is still the current occupant,
// covering the race between ctx firing and onReady waking the same park
// concurrently.
func (p *Pipe) clearParked(slot **parked, w *parked) {
	p.mu.Lock()
	if *slot == w {
		*slot = nil
	}
	p.mu.Unlock()
}

// wakeTimeout is called by the sweeper to force-expire a pipe's current
// park with [ErrTimeout].
func (p *Pipe) wakeTimeout() {
	p.mu.Lock()
	var toWake []*parked
	if p.readP != nil {
		p.readP.err = &ErrTimeout{Op: "read"}
		toWake = append(toWake, p.readP)
		p.readP = nil
	}
	if p.writeP != nil {
		p.writeP.err = &ErrTimeout{Op: "write"}
		toWake = append(toWake, p.writeP)
		p.writeP = nil
	}
	p.mu.Unlock()

	for _, w := range toWake {
		close(w.wake)
	}
}

// deadlinePassed reports whether p's current deadline (if any) has passed,
// used by the sweeper.
func (p *Pipe) deadlinePassed(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.deadline.IsZero() && now.After(p.deadline)
}

// isHibernating reports whether the application has marked p hibernating.
func (p *Pipe) isHibernating() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hibernating
}

// Close tears down p: it is removed from its registry's live list, any
// parked reader/writer is woken with [ErrClosed], and the fd is closed.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var toWake []*parked
	if p.readP != nil {
		p.readP.err = ErrClosed
		toWake = append(toWake, p.readP)
		p.readP = nil
	}
	if p.writeP != nil {
		p.writeP.err = ErrClosed
		toWake = append(toWake, p.writeP)
		p.writeP = nil
	}
	registered := p.registered
	p.mu.Unlock()

	for _, w := range toWake {
		close(w.wake)
	}

	if registered {
		_ = p.r.EpollCtl(unix.EPOLL_CTL_DEL, p.fd, 0, nil)
	}
	if p.detach() {
		registryFor(p.r).remove(p.elem)
	}
	return unix.Close(p.fd)
}
