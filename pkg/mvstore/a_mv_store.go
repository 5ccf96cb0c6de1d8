package mvstore

import (
	"bytes"
	"sync"

	"github.com/tidwall/btree"
)

type item struct {
	key VersionedKey
	val Value
}

// MvStore keeps every committed version of every key, ordered by
// (key, version). Reads resolve to the newest version at or below the
// requested timestamp.
type MvStore struct {
	lock sync.RWMutex
	tree *btree.BTreeG[item]
}

func NewMvStore() *MvStore {
	return &MvStore{
		tree: newVersionTree(),
	}
}

func newVersionTree() *btree.BTreeG[item] {
	return btree.NewBTreeG(func(a, b item) bool {
		return a.key.Compare(b.key) < 0
	})
}

func (s *MvStore) PutOrUpdate(key VersionedKey, value Value) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.tree.Set(item{key: key, val: value})
}

// Get returns the newest version of key at or below ts. A tombstone at that
// version reads as absent.
func (s *MvStore) Get(key []byte, ts uint64) (Value, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.get(key, ts)
}

func (s *MvStore) get(key []byte, ts uint64) (Value, bool) {
	pivot := item{key: NewVersionedKey(key, ts)}

	var value Value
	var found bool
	s.tree.Descend(pivot, func(it item) bool {
		if !bytes.Equal(it.key.Key, key) {
			return false
		}
		value, found = it.val, true
		return false
	})

	if !found || value.IsTombstone() {
		return Value{}, false
	}
	return value, true
}

// Len reports the number of stored versions, not distinct keys.
func (s *MvStore) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.tree.Len()
}
