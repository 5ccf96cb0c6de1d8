package txn

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"tide_kv/pkg/watermark"
)

// committedTxn pairs a commit timestamp with the fingerprint of the keys
// written at that timestamp.
type committedTxn struct {
	ts      uint64
	checker ConflictChecker
}

// Oracle hands out read and commit timestamps and decides commit-time
// conflicts. readMark tracks reader liveness; its frontier is the floor
// below which committed records can be discarded. txnMark tracks commit
// visibility; a new read waits on it so every commit slot allocated at or
// below its snapshot has finished applying. The two marks share the
// timestamp number space and one closer but are otherwise independent.
type Oracle struct {
	sync.Mutex
	nextTxnTs     uint64
	lastCleanupTs uint64
	committedTxns []committedTxn

	readMark *watermark.WaterMark
	txnMark  *watermark.WaterMark
	closer   *watermark.Closer
	stopped  atomic.Bool
}

// NewOracle seeds the timestamp counter from the storage layer's recovered
// next sequence number, clamped to at least 1. Both marks pre-retire
// nextTs-1 so the first reader starts unblocked.
func NewOracle(nextTs uint64) *Oracle {
	if nextTs < 1 {
		nextTs = 1
	}
	o := &Oracle{
		nextTxnTs: nextTs,
		readMark:  watermark.New("pending-reads"),
		txnMark:   watermark.New("commit-visibility"),
		closer:    watermark.NewCloser(2),
	}
	o.readMark.Init(o.closer)
	o.txnMark.Init(o.closer)

	// Everything below the recovered counter was applied in a previous
	// incarnation; retire the whole range in one jump.
	mustMark(o.readMark.DoneRange(1, nextTs-1))
	mustMark(o.txnMark.DoneRange(1, nextTs-1))
	return o
}

// NewReadTs pins a snapshot at the most recently allocated commit position
// and registers it as in flight. It then blocks until every transaction
// assigned a commit timestamp at or below the snapshot has finished applying
// its writes; without the wait a fresh snapshot could reference a commit
// slot that is allocated but not yet visible.
func (o *Oracle) NewReadTs() (uint64, error) {
	if o.stopped.Load() {
		return 0, OracleStoppedErr
	}

	o.Lock()
	readTs := o.nextTxnTs - 1
	err := o.readMark.Begin(readTs)
	o.Unlock()
	if err != nil {
		return 0, err
	}

	if err := o.txnMark.WaitForMark(context.Background(), readTs); err != nil {
		return 0, err
	}
	return readTs, nil
}

// NewCommitTs runs the whole commit protocol under the oracle's lock:
// conflict scan, read-mark retirement, committed-list GC, timestamp
// allocation, and visibility registration. Timestamps are therefore issued
// in lock-acquisition order and begin events reach txnMark in increasing
// timestamp order.
func (o *Oracle) NewCommitTs(txn *Txn) (uint64, error) {
	o.Lock()
	defer o.Unlock()

	if o.hasConflictFor(txn) {
		// The caller keeps its checker: a retry reuses the accumulated
		// access history under a fresh read timestamp.
		return 0, TxnConflictErr
	}

	if err := o.doneRead(txn); err != nil {
		return 0, err
	}
	o.cleanupCommittedTxns()

	ts := o.nextTxnTs
	o.nextTxnTs++
	if ts < o.lastCleanupTs {
		panic(fmt.Sprintf("commit ts %d below cleanup floor %d", ts, o.lastCleanupTs))
	}

	if err := o.txnMark.Begin(ts); err != nil {
		return 0, err
	}

	// Policies that cannot conflict are never retained, otherwise the list
	// would grow without bound.
	if txn.checker.Retained() {
		o.committedTxns = append(o.committedTxns, committedTxn{ts: ts, checker: txn.checker})
	}
	return ts, nil
}

// DoneCommit makes commitTs visible to future readers. Called only after
// the commit's writes have been durably applied.
func (o *Oracle) DoneCommit(commitTs uint64) error {
	return o.txnMark.Done(commitTs)
}

// DoneRead retires a transaction's read timestamp. Safe to call more than
// once per transaction; only the first call reaches the watermark.
func (o *Oracle) DoneRead(txn *Txn) error {
	o.Lock()
	defer o.Unlock()
	return o.doneRead(txn)
}

// Stop shuts down both watermark loops and blocks until they exit.
// Idempotent.
func (o *Oracle) Stop() {
	if o.stopped.CompareAndSwap(false, true) {
		o.closer.SignalAndWait()
	}
}

func (o *Oracle) hasConflictFor(txn *Txn) bool {
	for _, committed := range o.committedTxns {
		// A record at or below the snapshot committed strictly before this
		// transaction started, so it cannot conflict. Skipping it relies on
		// timestamps being allocated linearizably under this same lock.
		if committed.ts <= txn.readTs {
			continue
		}
		if txn.checker.HasConflict(committed.checker) {
			return true
		}
	}
	return false
}

func (o *Oracle) doneRead(txn *Txn) error {
	if txn.doneRead {
		return nil
	}
	txn.doneRead = true
	return o.readMark.Done(txn.readTs)
}

// cleanupCommittedTxns discards records no in-flight reader can need: those
// at or below the read watermark's frontier.
func (o *Oracle) cleanupCommittedTxns() {
	floor := o.readMark.DoneUntil()
	if floor < o.lastCleanupTs {
		panic(fmt.Sprintf("read watermark %d regressed below cleanup floor %d", floor, o.lastCleanupTs))
	}
	if floor == o.lastCleanupTs {
		return
	}
	o.lastCleanupTs = floor

	retained := o.committedTxns[:0]
	for _, committed := range o.committedTxns {
		if committed.ts <= floor {
			continue
		}
		retained = append(retained, committed)
	}
	o.committedTxns = retained
}

func mustMark(err error) {
	if err != nil {
		panic(err)
	}
}
