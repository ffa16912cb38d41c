// SPDX-License-Identifier: GPL-3.0-or-later

package reactor

import "sync"

// pauseBarrier implements [Reactor.WhilePaused]: a request to pause blocks
// at the top of every worker's loop until all workers have checked in, then
// releases them again once the exclusive callback returns.
//
// This is one of the two places in the runtime (alongside
// [task.Runtime.WaitAllDone]) where blocking an OS thread on a kernel
// condition variable is the correct tool rather than a task-level
// primitive: the workers being paused here are exactly the goroutines that
// would otherwise be running tasks, so there is nothing task-level to wait
// on.
type pauseBarrier struct {
	mu         sync.Mutex
	cond       *sync.Cond
	numWorkers int
	requested  bool
	checkedIn  int
}

func (p *pauseBarrier) init(numWorkers int) {
	p.numWorkers = numWorkers
	p.cond = sync.NewCond(&p.mu)
}

// waitIfPaused is called by a worker between epoll_wait iterations. If a
// pause has been requested, it blocks until [pauseBarrier.resume] is
// called.
func (p *pauseBarrier) waitIfPaused(workerIdx int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.requested {
		return
	}
	p.checkedIn++
	p.cond.Broadcast()
	for p.requested {
		p.cond.Wait()
	}
}

// request marks a pause as pending; workers observe it the next time they
// call waitIfPaused.
func (p *pauseBarrier) request() {
	p.mu.Lock()
	p.requested = true
	p.checkedIn = 0
	p.mu.Unlock()
}

// waitAllPaused blocks until every worker has checked in via waitIfPaused.
func (p *pauseBarrier) waitAllPaused() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.checkedIn < p.numWorkers {
		p.cond.Wait()
	}
}

// resume releases every worker blocked in waitIfPaused.
func (p *pauseBarrier) resume() {
	p.mu.Lock()
	p.requested = false
	p.mu.Unlock()
	p.cond.Broadcast()
}
