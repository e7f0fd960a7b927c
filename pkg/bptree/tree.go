package bptree

import (
	"sync/atomic"

	"golang.org/x/exp/constraints"

	"github.com/ssargent/olctree/pkg/olc"
)

// rootHolder lets the tree publish a new root atomically via a single
// consistent concrete pointer type, sidestepping atomic.Value's requirement
// that every Store call carry an identical concrete type; root legitimately
// alternates between *LeafNode and *InnerNode as the tree grows.
type rootHolder[K constraints.Ordered, V any] struct {
	n node[K, V]
}

// Stats is a point-in-time snapshot of a Tree's internal event counters.
// Counters are monotonic over the tree's lifetime; snapshots taken while
// operations are in flight are approximate.
type Stats struct {
	LookupRestarts  uint64
	InsertRestarts  uint64
	InstallRestarts uint64
	LeafSplits      uint64
	InnerSplits     uint64
	LeavesInstalled uint64
}

type treeStats struct {
	lookupRestarts  atomic.Uint64
	insertRestarts  atomic.Uint64
	installRestarts atomic.Uint64
	leafSplits      atomic.Uint64
	innerSplits     atomic.Uint64
	leavesInstalled atomic.Uint64
}

// Tree is a concurrent B+-tree: a single atomic root reference, optimistic
// lock coupling for traversal, and eager top-down splitting so that by the
// time an Insert reaches its target leaf, every ancestor already has room
// for a new separator.
type Tree[K constraints.Ordered, V any] struct {
	root  atomic.Pointer[rootHolder[K, V]]
	stats treeStats
}

// NewTree returns an empty tree, rooted at a single empty leaf.
func NewTree[K constraints.Ordered, V any]() *Tree[K, V] {
	t := &Tree[K, V]{}
	t.root.Store(&rootHolder[K, V]{n: newLeaf[K, V]()})
	return t
}

func isFull[K constraints.Ordered, V any](n node[K, V]) bool {
	switch x := n.(type) {
	case *LeafNode[K, V]:
		return x.isFull()
	case *InnerNode[K, V]:
		return x.isFull()
	default:
		panic("bptree: unknown node kind")
	}
}

// Lookup returns (v, true) if at some point during the call key mapped to
// v, and (zero, false) if at some point it was absent. No guarantee is made
// for keys whose presence races with the call.
func (t *Tree[K, V]) Lookup(key K) (V, bool) {
	var backoff olc.Backoff
	defer func() { t.stats.lookupRestarts.Add(uint64(backoff.Count())) }()
	for {
		holder := t.root.Load()
		curr := holder.n
		currVersion, needRestart := curr.lock().ReadLockOrRestart()
		if needRestart {
			backoff.Wait()
			continue
		}

		restart := false
		for {
			inner, ok := curr.(*InnerNode[K, V])
			if !ok {
				break
			}
			idx := inner.childIndex(key)
			child := inner.children[idx]
			childVersion, needRestart := child.lock().ReadLockOrRestart()
			if needRestart {
				restart = true
				break
			}
			if needRestart := inner.lock().ReadUnlockOrRestart(currVersion); needRestart {
				restart = true
				break
			}
			curr = child
			currVersion = childVersion
		}
		if restart {
			backoff.Wait()
			continue
		}

		leaf := curr.(*LeafNode[K, V])
		val, found := leaf.get(key)
		if needRestart := leaf.lock().ReadUnlockOrRestart(currVersion); needRestart {
			backoff.Wait()
			continue
		}
		return val, found
	}
}

// Insert inserts or overwrites (key, val). Duplicate concurrent inserts of
// the same key resolve to whichever write reaches the leaf last; there is
// no other ordering guarantee.
func (t *Tree[K, V]) Insert(key K, val V) {
	t.insert(key, val, nil)
}

// UpsertWith is Insert with a merge hook for already-present keys: instead
// of overwriting, the stored value becomes merge(existing). The hook runs
// under the target leaf's write lock, making the read-modify-write atomic.
// Used by callers whose values carry their own conflict-resolution rule
// (pkg/stage's versioned values).
func (t *Tree[K, V]) UpsertWith(key K, val V, merge func(existing V) V) {
	t.insert(key, val, merge)
}

func (t *Tree[K, V]) insert(key K, val V, merge func(V) V) {
	var backoff olc.Backoff
	defer func() { t.stats.insertRestarts.Add(uint64(backoff.Count())) }()
restart:
	holder := t.root.Load()
	root := holder.n
	rootVersion, needRestart := root.lock().ReadLockOrRestart()
	if needRestart {
		backoff.Wait()
		goto restart
	}

	if isFull[K, V](root) {
		if needRestart := root.lock().UpgradeToWriteLockOrRestart(rootVersion); needRestart {
			backoff.Wait()
			goto restart
		}
		if t.root.Load() != holder {
			root.lock().WriteUnlock()
			backoff.Wait()
			goto restart
		}
		t.splitRoot(root)
		root.lock().WriteUnlock()
		backoff.Wait()
		goto restart
	}

	{
		curr := root
		currVersion := rootVersion
		for {
			inner, ok := curr.(*InnerNode[K, V])
			if !ok {
				break
			}
			idx := inner.childIndex(key)
			child := inner.children[idx]
			childVersion, needRestart := child.lock().ReadLockOrRestart()
			if needRestart {
				backoff.Wait()
				goto restart
			}
			if needRestart := inner.lock().CheckOrRestart(currVersion); needRestart {
				backoff.Wait()
				goto restart
			}

			if isFull[K, V](child) {
				if needRestart := inner.lock().UpgradeToWriteLockOrRestart(currVersion); needRestart {
					backoff.Wait()
					goto restart
				}
				if needRestart := child.lock().UpgradeToWriteLockOrRestart(childVersion); needRestart {
					inner.lock().WriteUnlock()
					backoff.Wait()
					goto restart
				}
				t.splitChild(inner, idx, child)
				child.lock().WriteUnlock()
				inner.lock().WriteUnlock()
				backoff.Wait()
				goto restart
			}

			if needRestart := inner.lock().ReadUnlockOrRestart(currVersion); needRestart {
				backoff.Wait()
				goto restart
			}
			curr = child
			currVersion = childVersion
		}

		leaf := curr.(*LeafNode[K, V])
		if needRestart := leaf.lock().UpgradeToWriteLockOrRestart(currVersion); needRestart {
			backoff.Wait()
			goto restart
		}
		if leaf.isFull() {
			// Eager top-down splitting normally splits a full child before
			// descending into it; the lone root-leaf can still fill between
			// the root check and this upgrade, so restart and let the
			// root-full path handle it.
			leaf.lock().WriteUnlock()
			backoff.Wait()
			goto restart
		}
		leaf.upsertFunc(key, val, merge)
		leaf.lock().WriteUnlock()
	}
}

// splitRoot handles the no-parent case: root is full and must split, with a
// brand-new InnerNode taking its place. The old root is not marked
// obsolete: it remains a valid subtree, only its role changes.
func (t *Tree[K, V]) splitRoot(root node[K, V]) {
	var sep K
	var sibling node[K, V]
	switch n := root.(type) {
	case *LeafNode[K, V]:
		right, s := n.split()
		sep, sibling = s, right
		t.stats.leafSplits.Add(1)
	case *InnerNode[K, V]:
		mid := n.count / 2
		s := n.keys[mid]
		right := newInner[K, V]()
		right.count = n.count - mid - 1
		copy(right.keys[:right.count], n.keys[mid+1:n.count])
		copy(right.children[:right.count+1], n.children[mid+1:n.count+1])
		n.count = mid
		sep, sibling = s, right
		t.stats.innerSplits.Add(1)
	default:
		panic("bptree: unknown node kind")
	}

	newRoot := newInner[K, V]()
	newRoot.count = 1
	newRoot.keys[0] = sep
	newRoot.children[0] = root
	newRoot.children[1] = sibling
	t.root.Store(&rootHolder[K, V]{n: newRoot})
}

// splitChild splits the full child at idx under parent, which the caller
// has already verified is not itself full (guaranteed by the eager
// top-down invariant: every ancestor is split before being used to
// descend).
func (t *Tree[K, V]) splitChild(parent *InnerNode[K, V], idx int, child node[K, V]) {
	switch c := child.(type) {
	case *LeafNode[K, V]:
		parent.splitLeafChild(idx, c)
		t.stats.leafSplits.Add(1)
	case *InnerNode[K, V]:
		parent.splitInnerChild(idx, c)
		t.stats.innerSplits.Add(1)
	default:
		panic("bptree: unknown node kind")
	}
}

// Stats returns a snapshot of the tree's event counters.
func (t *Tree[K, V]) Stats() Stats {
	return Stats{
		LookupRestarts:  t.stats.lookupRestarts.Load(),
		InsertRestarts:  t.stats.insertRestarts.Load(),
		InstallRestarts: t.stats.installRestarts.Load(),
		LeafSplits:      t.stats.leafSplits.Load(),
		InnerSplits:     t.stats.innerSplits.Load(),
		LeavesInstalled: t.stats.leavesInstalled.Load(),
	}
}

// Height reports the tree's current root-to-leaf depth, counting the leaf
// level as 1. It walks the leftmost spine without locking, so the answer is
// only exact at quiescence; an empty (never-written, zero-value) tree
// reports 0.
func (t *Tree[K, V]) Height() int {
	holder := t.root.Load()
	if holder == nil {
		return 0
	}
	h := 1
	curr := holder.n
	for {
		inner, ok := curr.(*InnerNode[K, V])
		if !ok {
			return h
		}
		h++
		curr = inner.children[0]
	}
}
