package txn

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tide_kv/pkg/mvstore"
	"tide_kv/pkg/wal"
)

type harness struct {
	oracle   *Oracle
	executor *Executor
	store    *mvstore.MvStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := mvstore.NewMvStore()
	journal, err := wal.Open(filepath.Join(t.TempDir(), "journal.wal"), false)
	require.NoError(t, err)

	executor := NewExecutor(store, journal)
	oracle := NewOracle(1)
	t.Cleanup(func() {
		oracle.Stop()
		executor.Stop()
		_ = journal.Close()
	})
	return &harness{oracle: oracle, executor: executor, store: store}
}

func (h *harness) begin(t *testing.T) *Txn {
	t.Helper()
	readTs, err := h.oracle.NewReadTs()
	require.NoError(t, err)
	return NewTxn(true, readTs, h.store.Snapshot(readTs), NewKeySetChecker(), h.oracle, h.executor)
}

func TestCommitTimestampsStrictlyIncrease(t *testing.T) {
	h := newHarness(t)

	for i := uint64(1); i <= 5; i++ {
		transaction := h.begin(t)
		require.NoError(t, transaction.Set([]byte(fmt.Sprintf("key-%d", i)), []byte("v")))
		require.NoError(t, transaction.Commit())
		assert.Equal(t, i, transaction.CommitTs())
	}
}

func TestConflictWhenOverlappingTxnWroteAReadKey(t *testing.T) {
	h := newHarness(t)

	t1 := h.begin(t)
	defer t1.Discard()
	t2 := h.begin(t)

	require.NoError(t, t2.Set([]byte("hdd"), []byte("hard disk")))
	require.NoError(t, t2.Commit())

	// t1's snapshot predates t2's commit, and it reads the key t2 wrote.
	t1.Get([]byte("hdd"))
	require.NoError(t, t1.Set([]byte("ssd"), []byte("solid state drive")))
	assert.ErrorIs(t, t1.Commit(), TxnConflictErr)
}

func TestNoConflictWithCommitsAtOrBelowTheSnapshot(t *testing.T) {
	h := newHarness(t)

	t2 := h.begin(t)
	require.NoError(t, t2.Set([]byte("hdd"), []byte("hard disk")))
	require.NoError(t, t2.Commit())

	// t1 starts after the commit is visible, so the committed record is
	// skipped by the conflict scan.
	t1 := h.begin(t)
	assert.Equal(t, t2.CommitTs(), t1.ReadTs())
	_, found := t1.Get([]byte("hdd"))
	assert.True(t, found)
	require.NoError(t, t1.Set([]byte("ssd"), []byte("solid state drive")))
	assert.NoError(t, t1.Commit())
}

func TestBlindWritesDoNotConflict(t *testing.T) {
	h := newHarness(t)

	t1 := h.begin(t)
	t2 := h.begin(t)

	require.NoError(t, t2.Set([]byte("hdd"), []byte("from t2")))
	require.NoError(t, t2.Commit())

	// t1 never read the key, so serializability is not at risk.
	require.NoError(t, t1.Set([]byte("hdd"), []byte("from t1")))
	assert.NoError(t, t1.Commit())
}

func TestNewReadTsBlocksUntilAllocatedCommitIsFinalized(t *testing.T) {
	h := newHarness(t)

	t2 := h.begin(t)
	require.NoError(t, t2.Set([]byte("a"), []byte("1")))

	// Allocate the commit slot without applying it.
	commitTs, err := h.oracle.NewCommitTs(t2)
	require.NoError(t, err)

	readTsCh := make(chan uint64)
	go func() {
		readTs, err := h.oracle.NewReadTs()
		assert.NoError(t, err)
		readTsCh <- readTs
	}()

	select {
	case readTs := <-readTsCh:
		t.Fatalf("read ts %d handed out before commit %d was finalized", readTs, commitTs)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, h.oracle.DoneCommit(commitTs))

	select {
	case readTs := <-readTsCh:
		assert.Equal(t, commitTs, readTs)
	case <-time.After(time.Second):
		t.Fatal("read ts still blocked after the commit was finalized")
	}
}

func TestCommittedRecordsSurviveWhileAReaderIsPinned(t *testing.T) {
	h := newHarness(t)

	pinned := h.begin(t)

	for i := 0; i < 3; i++ {
		transaction := h.begin(t)
		require.NoError(t, transaction.Set([]byte(fmt.Sprintf("key-%d", i)), []byte("v")))
		require.NoError(t, transaction.Commit())
	}

	h.oracle.Lock()
	retained := len(h.oracle.committedTxns)
	h.oracle.Unlock()
	assert.Equal(t, 3, retained, "records must not be evicted while the pinned reader could still conflict with them")

	pinned.Discard()
	// Cleanup runs lazily on the next commit, once the read watermark has
	// caught up with the discard.
	require.Eventually(t, func() bool {
		transaction := h.begin(t)
		require.NoError(t, transaction.Set([]byte("gc-probe"), []byte("v")))
		require.NoError(t, transaction.Commit())

		h.oracle.Lock()
		defer h.oracle.Unlock()
		return len(h.oracle.committedTxns) < 3
	}, time.Second, 10*time.Millisecond)
}

func TestNoopCheckerIsNeverRetained(t *testing.T) {
	h := newHarness(t)

	begin := func() *Txn {
		readTs, err := h.oracle.NewReadTs()
		require.NoError(t, err)
		return NewTxn(true, readTs, h.store.Snapshot(readTs), NoopChecker{}, h.oracle, h.executor)
	}

	t1 := begin()
	t2 := begin()

	require.NoError(t, t2.Set([]byte("hdd"), []byte("hard disk")))
	require.NoError(t, t2.Commit())

	// Would conflict under key tracking; the no-op policy commits anyway.
	t1.Get([]byte("hdd"))
	require.NoError(t, t1.Set([]byte("ssd"), []byte("solid state drive")))
	assert.NoError(t, t1.Commit())

	h.oracle.Lock()
	defer h.oracle.Unlock()
	assert.Empty(t, h.oracle.committedTxns)
}

func TestNewReadTsAfterStop(t *testing.T) {
	h := newHarness(t)
	h.oracle.Stop()

	_, err := h.oracle.NewReadTs()
	assert.ErrorIs(t, err, OracleStoppedErr)
}

func TestOracleSeededFromRecoveredSequenceNumber(t *testing.T) {
	oracle := NewOracle(42)
	defer oracle.Stop()

	readTs, err := oracle.NewReadTs()
	require.NoError(t, err)
	assert.Equal(t, uint64(41), readTs)
}

func TestCommitGuards(t *testing.T) {
	h := newHarness(t)

	readOnly := NewTxn(false, 0, h.store.Snapshot(0), NewKeySetChecker(), h.oracle, h.executor)
	assert.ErrorIs(t, readOnly.Commit(), ReadOnlyTxnErr)

	empty := h.begin(t)
	assert.ErrorIs(t, empty.Commit(), EmptyTxnErr)
	empty.Discard()
	assert.ErrorIs(t, empty.Commit(), DiscardedTxnErr)
	assert.ErrorIs(t, empty.Set([]byte("k"), []byte("v")), DiscardedTxnErr)
}
