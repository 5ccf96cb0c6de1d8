package watermark

import (
	"sync/atomic"

	"github.com/emirpasic/gods/queues/priorityqueue"
)

// markerHeap keeps the per-timestamp outstanding begin counts in a min
// priority queue and derives doneUntil incrementally: the frontier advances
// while the smallest tracked timestamp has no begins left outstanding.
// Only the watermark's processing loop touches it; doneUntilTs is atomic so
// DoneUntil can be read from any goroutine.
type markerHeap struct {
	doneUntilTs   atomic.Uint64
	pendingTs     *priorityqueue.Queue
	pendingCounts map[uint64]int             // ts -> outstanding begins
	waiters       map[uint64][]chan struct{} // ts -> notification channels
}

func uint64Comparator(a, b interface{}) int {
	aTs := a.(uint64)
	bTs := b.(uint64)
	switch {
	case aTs < bTs:
		return -1
	case aTs > bTs:
		return 1
	default:
		return 0
	}
}

func newMarkerHeap() *markerHeap {
	return &markerHeap{
		pendingTs:     priorityqueue.NewWith(uint64Comparator),
		pendingCounts: make(map[uint64]int),
		waiters:       make(map[uint64][]chan struct{}),
	}
}

func (h *markerHeap) addBeginEvent(ts uint64) { h.addEvent(ts, 1) }

func (h *markerHeap) addDoneEvent(ts uint64) { h.addEvent(ts, -1) }

func (h *markerHeap) addEvent(ts uint64, delta int) {
	if _, ok := h.pendingCounts[ts]; !ok {
		h.pendingTs.Enqueue(ts)
	}
	h.pendingCounts[ts] += delta
}

func (h *markerHeap) addWaiter(ts uint64, ch chan struct{}) {
	h.waiters[ts] = append(h.waiters[ts], ch)
}

func (h *markerHeap) doneUntil() uint64 {
	return h.doneUntilTs.Load()
}

// recalculateDoneUntil pops fully retired timestamps off the queue and
// advances the frontier to the last one popped. A stale done for a timestamp
// already below the frontier pops straight through without moving it:
// doneUntil is monotone by construction.
func (h *markerHeap) recalculateDoneUntil() uint64 {
	doneUntil := h.doneUntilTs.Load()

	frontier := doneUntil
	for !h.pendingTs.Empty() {
		top, _ := h.pendingTs.Peek()
		ts := top.(uint64)
		if h.pendingCounts[ts] > 0 {
			break
		}
		h.pendingTs.Dequeue()
		delete(h.pendingCounts, ts)
		if ts > frontier {
			frontier = ts
		}
	}

	if frontier != doneUntil {
		h.doneUntilTs.CompareAndSwap(doneUntil, frontier)
	}
	return h.doneUntilTs.Load()
}

func (h *markerHeap) closeWaitersUntil(untilTs uint64) {
	for ts, chans := range h.waiters {
		if ts <= untilTs {
			for _, ch := range chans {
				close(ch)
			}
			delete(h.waiters, ts)
		}
	}
}

func (h *markerHeap) closeAllWaiters() {
	for ts, chans := range h.waiters {
		for _, ch := range chans {
			close(ch)
		}
		delete(h.waiters, ts)
	}
}
