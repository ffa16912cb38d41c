// SPDX-License-Identifier: GPL-3.0-or-later

package pipe

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassosimone/corenet"
	"github.com/bassosimone/corenet/reactor"
)

// DefaultSweepInterval is how often the idle sweeper runs when not
// overridden by [SetConfig] (spec.md §4.3: "a recurring reactor task,
// period ≈ 10 s").
const DefaultSweepInterval = 10 * time.Second

var (
	cfgMu   sync.Mutex
	pkgCfg  *corenet.Config
	sweepIv = DefaultSweepInterval
)

// SetConfig overrides the logger/error classifier used by pipes created
// after this call, and the sweeper's recurring interval. Call once at
// startup before creating pipes; safe for concurrent use but not
// retroactive to already-created pipes.
func SetConfig(cfg *corenet.Config, sweepInterval time.Duration) {
	cfgMu.Lock()
	defer cfgMu.Unlock()
	pkgCfg = cfg
	if sweepInterval > 0 {
		sweepIv = sweepInterval
	}
}

func currentConfig() *corenet.Config {
	cfgMu.Lock()
	defer cfgMu.Unlock()
	if pkgCfg == nil {
		pkgCfg = corenet.NewConfig()
	}
	return pkgCfg
}

func currentSweepInterval() time.Duration {
	cfgMu.Lock()
	defer cfgMu.Unlock()
	return sweepIv
}

// registry is the process-wide (here, per-[*reactor.Reactor]) doubly-linked
// live-pipe list spec.md §3/§4.3 describes, guarded by a plain mutex
// standing in for the original's kernel mutex (both are short, uncontended
// critical sections: insert, remove, and the sweeper's walk).
type registry struct {
	mu   sync.Mutex
	l    *list.List
	r    *reactor.Reactor
	live atomic.Int64

	sweepOnce sync.Once
}

var (
	registriesMu sync.Mutex
	registries   = map[*reactor.Reactor]*registry{}
)

// LiveCount returns the number of pipes currently registered against r.
// [corenet/sproc] polls this during its stop quiesce window to wait for
// outstanding connections to close before stopping the reactor.
func LiveCount(r *reactor.Reactor) int64 {
	registriesMu.Lock()
	reg, ok := registries[r]
	registriesMu.Unlock()
	if !ok {
		return 0
	}
	return reg.live.Load()
}

func registryFor(r *reactor.Reactor) *registry {
	registriesMu.Lock()
	defer registriesMu.Unlock()

	reg, ok := registries[r]
	if !ok {
		reg = &registry{l: list.New(), r: r}
		registries[r] = reg
	}
	return reg
}

func (reg *registry) add(p *Pipe) *list.Element {
	reg.mu.Lock()
	elem := reg.l.PushBack(p)
	reg.mu.Unlock()

	n := reg.live.Add(1)
	if n == 1 {
		reg.sweepOnce.Do(reg.armSweeper)
	}
	return elem
}

func (reg *registry) remove(elem *list.Element) {
	reg.mu.Lock()
	reg.l.Remove(elem)
	reg.mu.Unlock()
	reg.live.Add(-1)
}

// armSweeper schedules the recurring idle/hibernating-pipe sweep. It
// reschedules itself after every run as long as any pipe is still live
// (spec.md §4.3: "the sweeper re-arms itself only while net-pipe count >
// 0"); [registry.add] re-triggers it via sweepOnce the next time the live
// count goes from zero back to one.
func (reg *registry) armSweeper() {
	reg.r.ScheduleTask(reg.sweepTick, time.Now().Add(currentSweepInterval()))
}

// sweep walks reg.l once, detaching and collecting every pipe for which
// match returns true, removing each from the live list as it goes. The caller must run
// this inside [*reactor.Reactor.WhilePaused].
func (reg *registry) sweep(match func(p *Pipe) bool) []*Pipe {
	var expired []*Pipe
	reg.mu.Lock()
	for e := reg.l.Front(); e != nil; {
		next := e.Next()
		p := e.Value.(*Pipe)
		if match(p) && p.detach() {
			expired = append(expired, p)
			reg.l.Remove(e)
			reg.live.Add(-1)
		}
		e = next
	}
	reg.mu.Unlock()
	return expired
}

// sweepTick runs one sweep pass inside [*reactor.Reactor.WhilePaused], the
// runtime's only guaranteed-quiescent window, then reschedules itself.
func (reg *registry) sweepTick() {
	reg.r.WhilePaused(func() {
		now := time.Now()
		expired := reg.sweep(func(p *Pipe) bool {
			return p.isHibernating() || p.deadlinePassed(now)
		})
		for _, p := range expired {
			p.wakeTimeout()
		}
	})

	if reg.live.Load() > 0 {
		// sweepOnce already fired; schedule the next tick directly so
		// the recurring cadence continues without resetting it.
		reg.r.ScheduleTask(reg.sweepTick, time.Now().Add(currentSweepInterval()))
		return
	}

	reg.mu.Lock()
	reg.sweepOnce = sync.Once{}
	reg.mu.Unlock()
}

// SweepHibernating runs an immediate, out-of-cycle sweep of every pipe
// registered against r that has been marked hibernating via
// [*Pipe.SetHibernating], detaching and timing each one out. Callers use
// this when `accept()` fails with EMFILE/ENFILE (spec.md §4.3, §7 item 2):
// rather than waiting up to [DefaultSweepInterval] for the next recurring
// tick, idle hibernating connections are reclaimed right away so the next
// accept attempt has a better chance of finding a free descriptor.
func SweepHibernating(r *reactor.Reactor) {
	registriesMu.Lock()
	reg, ok := registries[r]
	registriesMu.Unlock()
	if !ok {
		return
	}

	var expired []*Pipe
	reg.r.WhilePaused(func() {
		expired = reg.sweep((*Pipe).isHibernating)
	})
	for _, p := range expired {
		p.wakeTimeout()
	}
}
