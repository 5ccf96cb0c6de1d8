package txn

import "github.com/dgryski/go-farm"

// ConflictChecker is a transaction's accumulated access fingerprint. It has
// to stay cheap to compare, because the oracle tests it against every
// retained record on each commit attempt, and it must remain usable after
// the owning transaction is gone.
type ConflictChecker interface {
	RecordRead(key []byte)
	RecordWrite(key []byte)
	// HasConflict reports whether the receiver's reads intersect other's
	// writes in a way that threatens serializability.
	HasConflict(other ConflictChecker) bool
	// Retained reports whether the oracle keeps this checker with the
	// committed record for later conflict scans.
	Retained() bool
}

// KeySetChecker fingerprints accessed keys with farm hashes: reads in
// arrival order, writes as a set.
type KeySetChecker struct {
	reads  []uint64
	writes map[uint64]struct{}
}

func NewKeySetChecker() *KeySetChecker {
	return &KeySetChecker{writes: make(map[uint64]struct{})}
}

func (c *KeySetChecker) RecordRead(key []byte) {
	c.reads = append(c.reads, farm.Fingerprint64(key))
}

func (c *KeySetChecker) RecordWrite(key []byte) {
	c.writes[farm.Fingerprint64(key)] = struct{}{}
}

func (c *KeySetChecker) HasConflict(other ConflictChecker) bool {
	committed, ok := other.(*KeySetChecker)
	if !ok || len(committed.writes) == 0 {
		return false
	}
	for _, fingerprint := range c.reads {
		if _, written := committed.writes[fingerprint]; written {
			return true
		}
	}
	return false
}

func (c *KeySetChecker) Retained() bool {
	return true
}

// NoopChecker disables conflict detection: nothing is recorded, nothing
// conflicts, and the oracle never retains it, so the committed list cannot
// grow under this policy.
type NoopChecker struct{}

func (NoopChecker) RecordRead(key []byte) {}

func (NoopChecker) RecordWrite(key []byte) {}

func (NoopChecker) HasConflict(other ConflictChecker) bool {
	return false
}

func (NoopChecker) Retained() bool {
	return false
}
