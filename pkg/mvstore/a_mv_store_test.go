package mvstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetReturnsNewestVersionAtOrBelowTs(t *testing.T) {
	store := NewMvStore()
	store.PutOrUpdate(NewVersionedKey([]byte("k"), 2), NewValue([]byte("v2")))
	store.PutOrUpdate(NewVersionedKey([]byte("k"), 5), NewValue([]byte("v5")))

	_, found := store.Get([]byte("k"), 1)
	assert.False(t, found)

	value, found := store.Get([]byte("k"), 2)
	assert.True(t, found)
	assert.Equal(t, []byte("v2"), value.Slice())

	value, found = store.Get([]byte("k"), 4)
	assert.True(t, found)
	assert.Equal(t, []byte("v2"), value.Slice())

	value, found = store.Get([]byte("k"), 9)
	assert.True(t, found)
	assert.Equal(t, []byte("v5"), value.Slice())
}

func TestGetDoesNotBleedIntoNeighbouringKeys(t *testing.T) {
	store := NewMvStore()
	store.PutOrUpdate(NewVersionedKey([]byte("a"), 1), NewValue([]byte("va")))
	store.PutOrUpdate(NewVersionedKey([]byte("c"), 1), NewValue([]byte("vc")))

	_, found := store.Get([]byte("b"), 10)
	assert.False(t, found)
}

func TestTombstoneHidesOlderVersions(t *testing.T) {
	store := NewMvStore()
	store.PutOrUpdate(NewVersionedKey([]byte("k"), 1), NewValue([]byte("v1")))
	store.PutOrUpdate(NewVersionedKey([]byte("k"), 3), Tombstone())

	value, found := store.Get([]byte("k"), 2)
	assert.True(t, found)
	assert.Equal(t, []byte("v1"), value.Slice())

	_, found = store.Get([]byte("k"), 3)
	assert.False(t, found)
}

func TestSnapshotIsUnaffectedByLaterWrites(t *testing.T) {
	store := NewMvStore()
	store.PutOrUpdate(NewVersionedKey([]byte("k"), 1), NewValue([]byte("old")))

	snapshot := store.Snapshot(1)
	store.PutOrUpdate(NewVersionedKey([]byte("k"), 1), NewValue([]byte("overwritten")))
	store.PutOrUpdate(NewVersionedKey([]byte("k"), 2), NewValue([]byte("new")))

	value, found := snapshot.Get([]byte("k"))
	assert.True(t, found)
	assert.Equal(t, []byte("old"), value.Slice())
}
