package bptree

import (
	"sort"

	"golang.org/x/exp/constraints"
)

// NewStagingLeaf allocates a leaf sized for use as a bulk-insert staging
// buffer (pkg/stage): appenders race to claim disjoint slots via an external
// atomic position counter and write directly through InsertUnordered,
// bypassing the tree's own locking entirely until the filled leaf is handed
// to a Tree's InstallLeaf. Every slot's key is prefilled with fill, which
// must sit below any key the buffer admits: an unsorted scan that races
// with a claimed-but-unwritten slot then sees a key it can never be
// probing for, rather than a zero value that a real key might equal.
func NewStagingLeaf[K constraints.Ordered, V any](fill K) *LeafNode[K, V] {
	n := newLeaf[K, V]()
	for i := range n.keys {
		n.keys[i] = fill
	}
	return n
}

// InsertUnordered writes (key, val) at slot pos without taking the leaf's
// lock or maintaining sorted order. Safe only when the caller has already
// reserved pos exclusively (e.g. via an atomic fetch-and-increment) so no
// two goroutines ever write the same slot concurrently. The value is
// written before the key: an unsorted scan that matches the key therefore
// never observes the slot's value half-written.
func (n *LeafNode[K, V]) InsertUnordered(key K, val V, pos int) {
	n.vals[pos] = val
	n.keys[pos] = key
}

// SortedSnapshot copies the leaf's first count slots into a brand-new leaf,
// sorted by key with duplicates collapsed; the receiver is left untouched,
// so unsorted scans racing with a buffer rotation keep seeing stable slot
// contents. Among duplicate keys the highest original slot position wins:
// the staging buffer's position counter only ever increases, so that slot
// holds the most recent write (last-writer-wins, the same rule
// LeafNode.upsert and VersionedValue.Set apply elsewhere). Also returns the
// largest surviving key, which callers use as the high-water separator for
// the next staging round.
func (n *LeafNode[K, V]) SortedSnapshot(count int) (sorted *LeafNode[K, V], highKey K) {
	if count > len(n.keys) {
		count = len(n.keys)
	}
	idx := make([]int, count)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return n.keys[idx[a]] < n.keys[idx[b]] })

	sorted = newLeaf[K, V]()
	for i := 0; i < len(idx); i++ {
		k := n.keys[idx[i]]
		v := n.vals[idx[i]]
		if sorted.count > 0 && sorted.keys[sorted.count-1] == k {
			sorted.vals[sorted.count-1] = v
			continue
		}
		sorted.keys[sorted.count] = k
		sorted.vals[sorted.count] = v
		sorted.count++
	}

	if sorted.count == 0 {
		var zero K
		return sorted, zero
	}
	return sorted, sorted.keys[sorted.count-1]
}

// Len reports the leaf's logical entry count. Exported for callers (the
// staging buffers) that need to read it outside the package.
func (n *LeafNode[K, V]) Len() int { return n.count }

// SearchUnordered linearly scans the first count slots for key, without
// taking any lock. Used by staging buffers to probe a leaf that is still
// being filled and isn't sorted yet. If multiple slots hold the same key
// (a concurrent overwrite still mid-fill), the highest-indexed match wins,
// matching SortedSnapshot's last-writer-wins tie-break.
func (n *LeafNode[K, V]) SearchUnordered(key K, count int) (V, bool) {
	if count > len(n.keys) {
		count = len(n.keys)
	}
	var (
		val   V
		found bool
	)
	for i := 0; i < count; i++ {
		if n.keys[i] == key {
			val, found = n.vals[i], true
		}
	}
	return val, found
}
