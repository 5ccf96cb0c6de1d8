package txn

import (
	"sync"

	"tide_kv/pkg/mvstore"
	"tide_kv/pkg/wal"
)

type applyRequest struct {
	commitTs uint64
	pairs    []wal.Pair
	doneCh   chan error
}

// Executor persists and applies committed batches: journal append first,
// version tree second. A single loop consumes requests, so batches land in
// submission order; the submission mutex keeps channel sends serialized
// across committers.
type Executor struct {
	sync.Mutex
	requestCh chan applyRequest
	stopCh    chan struct{}

	store   *mvstore.MvStore
	journal wal.Wal
}

func NewExecutor(store *mvstore.MvStore, journal wal.Wal) *Executor {
	executor := &Executor{
		requestCh: make(chan applyRequest),
		stopCh:    make(chan struct{}),
		store:     store,
		journal:   journal,
	}
	go executor.run()
	return executor
}

func (e *Executor) Submit(req applyRequest) <-chan error {
	e.Lock()
	defer e.Unlock()
	e.requestCh <- req
	return req.doneCh
}

func (e *Executor) Stop() {
	e.stopCh <- struct{}{}
}

func (e *Executor) run() {
	for {
		select {
		case req := <-e.requestCh:
			req.doneCh <- e.apply(req)
			close(req.doneCh)
		case <-e.stopCh:
			close(e.requestCh)
			return
		}
	}
}

func (e *Executor) apply(req applyRequest) error {
	if err := e.journal.Append(req.commitTs, req.pairs); err != nil {
		return err
	}
	for _, pair := range req.pairs {
		key := mvstore.NewVersionedKey(pair.Key, req.commitTs)
		if pair.Tombstone {
			e.store.PutOrUpdate(key, mvstore.Tombstone())
		} else {
			e.store.PutOrUpdate(key, mvstore.NewValue(pair.Value))
		}
	}
	return nil
}
