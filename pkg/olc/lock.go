// Package olc implements the versioned optimistic lock used to coordinate
// concurrent readers and writers descending the B+-tree in pkg/bptree.
//
// The lock word packs three fields into a single atomic uint64, the same
// trick the BTreeOLC design (and every optimistic-lock-coupling B-tree
// since) relies on:
//
//	bit 0: obsolete
//	bit 1: locked
//	bits 2..63: version
//
// A write unlock adds 2 to the word. If the node was locked (bit 1 set),
// that addition carries out of bit 1, clearing the lock flag and bumping
// the version field by one in a single atomic add. The same trick with
// an addend of 3 both clears the lock bit and sets the obsolete bit while
// still bumping the version.
package olc

import "sync/atomic"

const (
	obsoleteBit uint64 = 1
	lockedBit   uint64 = 2
)

// Lock is a versioned optimistic read/write lock embedded in every Node.
type Lock struct {
	word atomic.Uint64
}

func isLocked(v uint64) bool   { return v&lockedBit != 0 }
func isObsolete(v uint64) bool { return v&obsoleteBit != 0 }

// ReadLockOrRestart captures the current version for an optimistic read. It
// reports needRestart=true if the node is currently write-locked or has been
// retired; the caller must restart its traversal from the root in that case.
func (l *Lock) ReadLockOrRestart() (version uint64, needRestart bool) {
	v := l.word.Load()
	if isLocked(v) || isObsolete(v) {
		return 0, true
	}
	return v, false
}

// CheckOrRestart validates that the lock's version still matches a
// previously captured read, without altering any state. Used mid-traversal
// to confirm a descend decision was made against a stable parent.
func (l *Lock) CheckOrRestart(version uint64) (needRestart bool) {
	return l.word.Load() != version
}

// ReadUnlockOrRestart validates a completed optimistic read. The read's
// result is only trustworthy if this returns needRestart=false.
func (l *Lock) ReadUnlockOrRestart(version uint64) (needRestart bool) {
	return l.word.Load() != version
}

// UpgradeToWriteLockOrRestart attempts to transition the lock from the
// unlocked state captured by version into the locked state. It fails (with
// needRestart=true) if the version no longer matches: another writer raced
// in, or the node became obsolete.
func (l *Lock) UpgradeToWriteLockOrRestart(version uint64) (needRestart bool) {
	if isLocked(version) || isObsolete(version) {
		return true
	}
	return !l.word.CompareAndSwap(version, version+lockedBit)
}

// WriteUnlock releases a write lock acquired via UpgradeToWriteLockOrRestart,
// bumping the version so concurrent optimistic readers detect the mutation.
func (l *Lock) WriteUnlock() {
	l.word.Add(lockedBit)
}

// WriteUnlockObsolete releases a write lock and permanently retires the
// node. Any reader that later observes this lock word restarts; the node
// must never be written again.
func (l *Lock) WriteUnlockObsolete() {
	l.word.Add(lockedBit | obsoleteBit)
}

// IsObsolete reports whether the node has been retired. Safe to call
// without holding any lock; used by callers that hold a stale pointer and
// want to sanity-check it outside the normal read-lock protocol.
func (l *Lock) IsObsolete() bool {
	return isObsolete(l.word.Load())
}
