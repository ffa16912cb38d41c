// SPDX-License-Identifier: GPL-3.0-or-later

package reactor

import "time"

// scheduledTask is one entry in the reactor's timer heap: a callback to run
// no earlier than when. Grounded on github.com/xtaci/gaio's timedHeap, which
// orders pending deadlines the same way so the soonest one is always at the
// root and the OS timer only ever needs to be armed for that one entry.
type scheduledTask struct {
	when  time.Time
	id    uint64
	fn    func()
	index int // maintained by container/heap
}

// taskHeap implements container/heap.Interface over *scheduledTask, ordered
// by when ascending.
type taskHeap []*scheduledTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*scheduledTask)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
