package txn

import (
	"tide_kv/pkg/mvstore"
	"tide_kv/pkg/wal"
)

type pendingWrite struct {
	value     []byte
	tombstone bool
}

// Txn is a single serializable-snapshot transaction: reads pinned at readTs,
// writes buffered until commit, accessed keys fingerprinted by the checker.
type Txn struct {
	update   bool
	readTs   uint64
	commitTs uint64

	snapshot      *mvstore.Snapshot
	pendingWrites map[string]pendingWrite
	checker       ConflictChecker

	oracle   *Oracle
	executor *Executor

	doneRead  bool
	discarded bool
}

func NewTxn(update bool, readTs uint64, snapshot *mvstore.Snapshot, checker ConflictChecker, oracle *Oracle, executor *Executor) *Txn {
	return &Txn{
		update:        update,
		readTs:        readTs,
		snapshot:      snapshot,
		pendingWrites: make(map[string]pendingWrite),
		checker:       checker,
		oracle:        oracle,
		executor:      executor,
	}
}

func (txn *Txn) ReadTs() uint64 {
	return txn.readTs
}

// CommitTs is valid only after a successful Commit.
func (txn *Txn) CommitTs() uint64 {
	return txn.commitTs
}

// Get reads through the write buffer first, then the pinned snapshot. Reads
// by update transactions are recorded in the conflict fingerprint.
func (txn *Txn) Get(key []byte) (mvstore.Value, bool) {
	if txn.update {
		if pending, ok := txn.pendingWrites[string(key)]; ok {
			if pending.tombstone {
				return mvstore.Value{}, false
			}
			return mvstore.NewValue(pending.value), true
		}
		txn.checker.RecordRead(key)
	}
	return txn.snapshot.Get(key)
}

func (txn *Txn) Set(key, value []byte) error {
	if err := txn.checkWritable(key); err != nil {
		return err
	}
	txn.checker.RecordWrite(key)
	txn.pendingWrites[string(key)] = pendingWrite{value: value}
	return nil
}

func (txn *Txn) Delete(key []byte) error {
	if err := txn.checkWritable(key); err != nil {
		return err
	}
	txn.checker.RecordWrite(key)
	txn.pendingWrites[string(key)] = pendingWrite{tombstone: true}
	return nil
}

func (txn *Txn) checkWritable(key []byte) error {
	switch {
	case txn.discarded:
		return DiscardedTxnErr
	case !txn.update:
		return ReadOnlyTxnErr
	case len(key) == 0:
		return EmptyKeyErr
	}
	return nil
}

// Commit asks the oracle for a commit timestamp, hands the write batch to
// the executor for journaling and application, and finalizes the commit so
// it becomes visible to future readers. A conflict leaves the transaction's
// fingerprint intact for the caller's retry loop.
func (txn *Txn) Commit() error {
	switch {
	case txn.discarded:
		return DiscardedTxnErr
	case !txn.update:
		return ReadOnlyTxnErr
	case len(txn.pendingWrites) == 0:
		return EmptyTxnErr
	}

	commitTs, err := txn.oracle.NewCommitTs(txn)
	if err != nil {
		return err
	}
	txn.commitTs = commitTs
	txn.discarded = true

	applyErr := <-txn.executor.Submit(applyRequest{
		commitTs: commitTs,
		pairs:    txn.batch(),
		doneCh:   make(chan error, 1),
	})

	// The slot is finalized even when the apply failed: nothing was made
	// visible under it, and waiting readers must not hang on it.
	if err := txn.oracle.DoneCommit(commitTs); err != nil {
		return err
	}
	return applyErr
}

// Discard releases the transaction's read timestamp. Idempotent; required
// on every code path that does not commit.
func (txn *Txn) Discard() {
	if txn.discarded {
		return
	}
	txn.discarded = true
	_ = txn.oracle.DoneRead(txn)
}

func (txn *Txn) batch() []wal.Pair {
	pairs := make([]wal.Pair, 0, len(txn.pendingWrites))
	for key, pending := range txn.pendingWrites {
		pairs = append(pairs, wal.Pair{
			Key:       []byte(key),
			Value:     pending.value,
			Tombstone: pending.tombstone,
		})
	}
	return pairs
}
