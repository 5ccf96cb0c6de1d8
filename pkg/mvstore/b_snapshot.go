package mvstore

// Snapshot is a fixed point-in-time view: a copy-on-write clone of the
// version tree pinned at a read timestamp. Writes committed after the clone
// are invisible to it.
type Snapshot struct {
	ts    uint64
	store *MvStore
}

func (s *MvStore) Snapshot(ts uint64) *Snapshot {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return &Snapshot{
		ts:    ts,
		store: &MvStore{tree: s.tree.Copy()},
	}
}

func (s *Snapshot) Get(key []byte) (Value, bool) {
	return s.store.Get(key, s.ts)
}

func (s *Snapshot) Ts() uint64 {
	return s.ts
}
