package mvstore

import "bytes"

type VersionedKey struct {
	Key     []byte
	Version uint64
}

func NewVersionedKey(key []byte, version uint64) VersionedKey {
	return VersionedKey{Key: key, Version: version}
}

func (vk VersionedKey) Compare(other VersionedKey) int {
	if cmp := bytes.Compare(vk.Key, other.Key); cmp != 0 {
		return cmp
	}
	switch {
	case vk.Version < other.Version:
		return -1
	case vk.Version > other.Version:
		return 1
	default:
		return 0
	}
}

type Value struct {
	data      []byte
	tombstone bool
}

func NewValue(data []byte) Value {
	return Value{data: data}
}

// Tombstone marks a deletion; it shadows older versions of the key.
func Tombstone() Value {
	return Value{tombstone: true}
}

func (v Value) Slice() []byte {
	return v.data
}

func (v Value) IsTombstone() bool {
	return v.tombstone
}
