package keyspace

import (
	"bytes"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"tide_kv/pkg/mvstore"
	"tide_kv/pkg/txn"
	"tide_kv/pkg/wal"
)

const (
	markerFile  = "KEYSPACE"
	lockFile    = "LOCK"
	journalDir  = "journal"
	journalFile = "journal.wal"

	// Contents of the marker file; bumped on incompatible layout changes.
	formatVersion = "tide_kv.v1"
)

// Keyspace owns the on-disk layout and wires the storage pieces to the
// transaction oracle. All transaction state is rebuilt at open from the
// journal's recovered sequence number; nothing else is persisted for it.
type Keyspace struct {
	config Config
	logger *zap.Logger
	lock   *flock.Flock

	store    *mvstore.MvStore
	journal  wal.Wal
	oracle   *txn.Oracle
	executor *txn.Executor

	closed atomic.Bool
}

// Open creates or recovers a keyspace at config.Dir.
func Open(config Config) (*Keyspace, error) {
	if err := checkConfig(config); err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Join(config.Dir, journalDir), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create keyspace layout at %s", config.Dir)
	}

	lock := flock.New(filepath.Join(config.Dir, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, errors.Wrapf(err, "lock keyspace at %s", config.Dir)
	}
	if !locked {
		return nil, ErrKeyspaceInUse
	}

	if err := ensureMarker(config.Dir, logger); err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	journal, err := wal.Open(filepath.Join(config.Dir, journalDir, journalFile), config.SyncWrites)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	store := mvstore.NewMvStore()
	nextTs, err := journal.Recover(func(commitTs uint64, pair wal.Pair) error {
		key := mvstore.NewVersionedKey(pair.Key, commitTs)
		if pair.Tombstone {
			store.PutOrUpdate(key, mvstore.Tombstone())
		} else {
			store.PutOrUpdate(key, mvstore.NewValue(pair.Value))
		}
		return nil
	})
	if err != nil {
		_ = journal.Close()
		_ = lock.Unlock()
		return nil, err
	}

	logger.Info("keyspace opened",
		zap.String("dir", config.Dir),
		zap.Uint64("next_seqno", nextTs),
		zap.Int("recovered_versions", store.Len()),
	)

	return &Keyspace{
		config:   config,
		logger:   logger,
		lock:     lock,
		store:    store,
		journal:  journal,
		oracle:   txn.NewOracle(nextTs),
		executor: txn.NewExecutor(store, journal),
	}, nil
}

// NewTransaction begins a transaction pinned at a fresh read timestamp with
// an empty conflict fingerprint.
func (ks *Keyspace) NewTransaction(update bool) (*txn.Txn, error) {
	if ks.closed.Load() {
		return nil, ErrKeyspaceClosed
	}

	readTs, err := ks.oracle.NewReadTs()
	if err != nil {
		return nil, err
	}

	var checker txn.ConflictChecker = txn.NoopChecker{}
	if ks.config.DetectConflicts {
		checker = txn.NewKeySetChecker()
	}
	return txn.NewTxn(update, readTs, ks.store.Snapshot(readTs), checker, ks.oracle, ks.executor), nil
}

// View runs fn inside a read-only transaction.
func (ks *Keyspace) View(fn func(transaction *txn.Txn) error) error {
	transaction, err := ks.NewTransaction(false)
	if err != nil {
		return err
	}
	defer transaction.Discard()
	return fn(transaction)
}

// Update runs fn inside an update transaction and commits it on success.
func (ks *Keyspace) Update(fn func(transaction *txn.Txn) error) error {
	transaction, err := ks.NewTransaction(true)
	if err != nil {
		return err
	}
	defer transaction.Discard()

	if err := fn(transaction); err != nil {
		return err
	}
	return transaction.Commit()
}

// Persist forces the journal to disk. Only interesting when SyncWrites is
// off; with it on, every commit is already durable.
func (ks *Keyspace) Persist() error {
	if ks.closed.Load() {
		return ErrKeyspaceClosed
	}
	return ks.journal.Sync()
}

// Close stops background processing and releases the directory lock.
// Idempotent; must run before process exit.
func (ks *Keyspace) Close() error {
	if !ks.closed.CompareAndSwap(false, true) {
		return nil
	}

	ks.oracle.Stop()
	ks.executor.Stop()

	err := ks.journal.Close()
	if unlockErr := ks.lock.Unlock(); err == nil {
		err = unlockErr
	}
	ks.logger.Info("keyspace closed", zap.String("dir", ks.config.Dir))
	return err
}

// ensureMarker writes the versioned marker on first creation, fsyncing both
// the file and the directory so a half-created keyspace is never mistaken
// for a valid one, and verifies it on reopen.
func ensureMarker(dir string, logger *zap.Logger) error {
	path := filepath.Join(dir, markerFile)

	existing, err := os.ReadFile(path)
	if err == nil {
		if !bytes.Equal(existing, []byte(formatVersion)) {
			return errors.Wrapf(ErrInvalidMarker, "found %q, want %q", existing, formatVersion)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return errors.Wrap(err, "read keyspace marker")
	}

	logger.Info("creating keyspace", zap.String("dir", dir))

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create keyspace marker")
	}
	if _, err := file.WriteString(formatVersion); err != nil {
		_ = file.Close()
		return errors.Wrap(err, "write keyspace marker")
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return errors.Wrap(err, "sync keyspace marker")
	}
	if err := file.Close(); err != nil {
		return errors.Wrap(err, "close keyspace marker")
	}

	folder, err := os.Open(dir)
	if err != nil {
		return errors.Wrap(err, "open keyspace dir")
	}
	defer folder.Close()
	if err := folder.Sync(); err != nil {
		return errors.Wrap(err, "sync keyspace dir")
	}
	return nil
}
