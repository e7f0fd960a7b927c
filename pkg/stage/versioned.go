// Package stage implements two staging-buffer admission strategies,
// bulk-leaf batching and per-thread ring buffering, both sitting in front
// of a pkg/bptree.Tree to absorb high-throughput inserts before they are
// moved into the tree in batches.
package stage

import "sync"

// VersionedValue is a last-writer-wins cell: an incoming write only takes
// effect if its version is strictly greater than the value currently held.
// RingBuffer uses it to reconcile multiple buffer copies of the same key,
// where "last" is decided by version number, not wall time.
type VersionedValue[V any] struct {
	mu      sync.RWMutex
	val     V
	version int64
}

// NewVersionedValue returns a cell holding val at the given version.
func NewVersionedValue[V any](val V, version int64) *VersionedValue[V] {
	return &VersionedValue[V]{val: val, version: version}
}

// Get returns the current value and its version.
func (vv *VersionedValue[V]) Get() (V, int64) {
	vv.mu.RLock()
	defer vv.mu.RUnlock()
	return vv.val, vv.version
}

// Version returns the current version without copying the value.
func (vv *VersionedValue[V]) Version() int64 {
	vv.mu.RLock()
	defer vv.mu.RUnlock()
	return vv.version
}

// Set applies (val, version) only if version is strictly greater than the
// cell's current version. Returns whether the write took effect.
func (vv *VersionedValue[V]) Set(val V, version int64) bool {
	vv.mu.Lock()
	defer vv.mu.Unlock()
	if version > vv.version {
		vv.val = val
		vv.version = version
		return true
	}
	return false
}
