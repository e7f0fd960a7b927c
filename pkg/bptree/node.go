// Package bptree implements an in-memory concurrent B+-tree: an ordered
// key→value index whose traversal protocol is versioned optimistic lock
// coupling (pkg/olc) with eager top-down splitting. Readers descend without
// blocking and validate captured versions as they go; writers upgrade to an
// exclusive lock only at the nodes they mutate.
package bptree

import (
	"sort"

	"golang.org/x/exp/constraints"

	"github.com/ssargent/olctree/pkg/olc"
)

// LeafCap and InnerCap bound the number of entries a single node holds.
// Chosen so a leaf fits in a small fixed number of cache lines; both are
// build-time constants since the node shape is fixed-capacity.
const (
	LeafCap  = 64
	InnerCap = 64
)

// node is implemented by *LeafNode[K, V] and *InnerNode[K, V]. It is
// intentionally unexported: callers outside this package interact with
// nodes only through Tree and the staging-buffer support surface in
// stage_support.go.
type node[K constraints.Ordered, V any] interface {
	lock() *olc.Lock
}

// LeafNode holds up to LeafCap (key, value) pairs in sorted order.
type LeafNode[K constraints.Ordered, V any] struct {
	mu    olc.Lock
	keys  []K
	vals  []V
	count int
}

func newLeaf[K constraints.Ordered, V any]() *LeafNode[K, V] {
	return &LeafNode[K, V]{
		keys: make([]K, LeafCap),
		vals: make([]V, LeafCap),
	}
}

func (n *LeafNode[K, V]) lock() *olc.Lock { return &n.mu }
func (n *LeafNode[K, V]) isFull() bool    { return n.count == LeafCap }

// lowerBound returns the index of the first key >= key, or count if none.
func (n *LeafNode[K, V]) lowerBound(key K) int {
	return sort.Search(n.count, func(i int) bool { return n.keys[i] >= key })
}

// upsert inserts (key, val) in sorted position, overwriting the existing
// value if the key is already present (last-writer-wins). The caller must
// hold the write lock.
func (n *LeafNode[K, V]) upsert(key K, val V) {
	n.upsertFunc(key, val, nil)
}

// upsertFunc is upsert with an optional merge hook: when key is already
// present and merge is non-nil, the stored value becomes merge(existing)
// instead of val. The hook runs while the caller holds the leaf's write
// lock, so it is the one place a read-modify-write on a stored value is
// atomic with respect to the rest of the tree.
func (n *LeafNode[K, V]) upsertFunc(key K, val V, merge func(V) V) {
	idx := n.lowerBound(key)
	if idx < n.count && n.keys[idx] == key {
		if merge != nil {
			n.vals[idx] = merge(n.vals[idx])
			return
		}
		n.vals[idx] = val
		return
	}
	copy(n.keys[idx+1:n.count+1], n.keys[idx:n.count])
	copy(n.vals[idx+1:n.count+1], n.vals[idx:n.count])
	n.keys[idx] = key
	n.vals[idx] = val
	n.count++
}

// get performs an unsynchronized lookup; the caller is responsible for
// validating the read against the node's lock version before trusting it.
func (n *LeafNode[K, V]) get(key K) (V, bool) {
	idx := n.lowerBound(key)
	if idx < n.count && n.keys[idx] == key {
		return n.vals[idx], true
	}
	var zero V
	return zero, false
}

// split partitions n into two sorted halves, leaving the lower half in n and
// returning the upper half as a new leaf plus the separator key (the
// largest key of the left half). Caller must hold the write lock on n.
func (n *LeafNode[K, V]) split() (sibling *LeafNode[K, V], sep K) {
	mid := n.count / 2
	right := newLeaf[K, V]()
	right.count = n.count - mid
	copy(right.keys[:right.count], n.keys[mid:n.count])
	copy(right.vals[:right.count], n.vals[mid:n.count])

	n.count = mid
	return right, n.keys[mid-1]
}

// InnerNode holds up to InnerCap separator keys and InnerCap+1 children.
type InnerNode[K constraints.Ordered, V any] struct {
	mu       olc.Lock
	keys     []K
	children []node[K, V]
	count    int // number of keys; len(children) == count+1
}

func newInner[K constraints.Ordered, V any]() *InnerNode[K, V] {
	return &InnerNode[K, V]{
		keys:     make([]K, InnerCap),
		children: make([]node[K, V], InnerCap+1),
	}
}

func (n *InnerNode[K, V]) lock() *olc.Lock { return &n.mu }
func (n *InnerNode[K, V]) isFull() bool    { return n.count == InnerCap }

// childIndex returns the index of the child that owns key. With separators
// s[0] < s[1] < ... child[i] holds exactly the keys k with s[i-1] < k <= s[i].
func (n *InnerNode[K, V]) childIndex(key K) int {
	i := sort.Search(n.count, func(i int) bool { return key <= n.keys[i] })
	return i
}

// splitLeafChild splits the full leaf child at index idx, installing the
// new sibling and separator into n. Caller must hold write locks on both n
// and the child.
func (n *InnerNode[K, V]) splitLeafChild(idx int, child *LeafNode[K, V]) {
	sibling, sep := child.split()
	n.insertChild(idx, sep, sibling)
}

// splitInnerChild splits the full inner child at index idx. The middle key
// is promoted to n and removed from both halves; it lives only in the
// parent afterwards.
func (n *InnerNode[K, V]) splitInnerChild(idx int, child *InnerNode[K, V]) {
	mid := child.count / 2
	sep := child.keys[mid]

	sibling := newInner[K, V]()
	sibling.count = child.count - mid - 1
	copy(sibling.keys[:sibling.count], child.keys[mid+1:child.count])
	copy(sibling.children[:sibling.count+1], child.children[mid+1:child.count+1])

	child.count = mid

	n.insertChild(idx, sep, sibling)
}

// insertChild inserts separator sep and new right-sibling child at position
// idx+1, assuming n is not full (guaranteed by eager top-down splitting).
func (n *InnerNode[K, V]) insertChild(idx int, sep K, sibling node[K, V]) {
	copy(n.keys[idx+1:n.count+1], n.keys[idx:n.count])
	n.keys[idx] = sep

	copy(n.children[idx+2:n.count+2], n.children[idx+1:n.count+1])
	n.children[idx+1] = sibling

	n.count++
}
