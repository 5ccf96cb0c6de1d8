package watermark

import (
	"context"
)

type markTyp int

const (
	beginMark markTyp = iota
	doneMark
	doneRangeMark
	waitForMark
)

// mark is a single event on the watermark's ordered queue.
type mark struct {
	typ    markTyp
	ts     uint64
	endTs  uint64 // doneRangeMark only, inclusive
	waitCh chan struct{}
}

// WaterMark tracks begin/done events over a shared timestamp space and
// derives the largest timestamp below which everything has been retired.
// All processing happens on a single consumer loop fed by markCh, so begin
// and done events for the same timestamp are applied in arrival order.
type WaterMark struct {
	name   string
	markCh chan mark
	closer *Closer
	mHeap  *markerHeap
}

func New(name string) *WaterMark {
	return &WaterMark{
		name:   name,
		markCh: make(chan mark),
		mHeap:  newMarkerHeap(),
	}
}

// Init registers the watermark with the shared closer and starts the
// processing loop. Must be called exactly once before any other operation.
func (w *WaterMark) Init(closer *Closer) {
	w.closer = closer
	go w.process(closer)
}

// Begin registers ts as pending.
func (w *WaterMark) Begin(ts uint64) error {
	return w.send(mark{typ: beginMark, ts: ts})
}

// Done retires ts.
func (w *WaterMark) Done(ts uint64) error {
	return w.send(mark{typ: doneMark, ts: ts})
}

// DoneRange retires the closed range [from, to] in a single event. Used when
// the timestamp counter advances by more than one.
func (w *WaterMark) DoneRange(from, to uint64) error {
	if from > to {
		return nil
	}
	return w.send(mark{typ: doneRangeMark, ts: from, endTs: to})
}

// DoneUntil returns the largest T such that every timestamp <= T is done.
// Never decreases.
func (w *WaterMark) DoneUntil() uint64 {
	return w.mHeap.doneUntil()
}

// WaitForMark blocks until DoneUntil() >= ts, the context is cancelled, or
// the watermark is shut down. Returns immediately if already satisfied.
func (w *WaterMark) WaitForMark(ctx context.Context, ts uint64) error {
	if w.DoneUntil() >= ts {
		return nil
	}
	waitCh := make(chan struct{})
	if err := w.send(mark{typ: waitForMark, ts: ts, waitCh: waitCh}); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-waitCh:
		if w.DoneUntil() >= ts {
			return nil
		}
		// The processing loop closes every waiter on shutdown.
		return ErrClosed
	}
}

func (w *WaterMark) send(m mark) error {
	select {
	case w.markCh <- m:
		return nil
	case <-w.closer.HasBeenClosed():
		return ErrClosed
	}
}

func (w *WaterMark) process(closer *Closer) {
	defer closer.Done()
	for {
		select {
		case m := <-w.markCh:
			w.handle(m)
		case <-closer.HasBeenClosed():
			w.drainAndClose()
			return
		}
	}
}

func (w *WaterMark) handle(m mark) {
	switch m.typ {
	case beginMark:
		w.mHeap.addBeginEvent(m.ts)
	case doneMark:
		w.mHeap.addDoneEvent(m.ts)
	case doneRangeMark:
		for ts := m.ts; ts <= m.endTs; ts++ {
			w.mHeap.addDoneEvent(ts)
		}
	case waitForMark:
		if w.mHeap.doneUntil() >= m.ts {
			close(m.waitCh)
		} else {
			w.mHeap.addWaiter(m.ts, m.waitCh)
		}
		return
	}
	w.mHeap.closeWaitersUntil(w.mHeap.recalculateDoneUntil())
}

// drainAndClose applies every event already queued, then unblocks any
// remaining waiters so nobody hangs across shutdown.
func (w *WaterMark) drainAndClose() {
	for {
		select {
		case m := <-w.markCh:
			w.handle(m)
		default:
			w.mHeap.closeAllWaiters()
			return
		}
	}
}
