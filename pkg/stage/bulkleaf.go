package stage

import (
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/constraints"

	"github.com/ssargent/olctree/pkg/bptree"
)

// DefaultBulkLoadFactor is the fraction of a tree leaf's capacity a staging
// leaf fills to before it rotates out: installing at 75% leaves the
// installed leaf with headroom before it would need splitting on its own.
const DefaultBulkLoadFactor = 0.75

// BulkLeafBuffer batches concurrent inserts of high keys into a shared
// pre-sized leaf. Inserters whose key exceeds a rotating low-key threshold
// race to claim disjoint slots in an unsorted staging leaf via an atomic
// position counter; once the leaf fills, the goroutine that claims the
// final slot sorts and dedupes it, installs it into the tree as a new
// rightmost leaf, and rotates in a fresh staging leaf. Keys at or below
// the threshold bypass the buffer and go straight to the tree, which keeps
// the staging leaf a valid right-edge candidate at all times.
type BulkLeafBuffer[K constraints.Ordered, V any] struct {
	tree *bptree.Tree[K, V]

	maxInserts int
	negInf     K // prefill key for fresh staging leaves; below every admitted key

	mu          sync.RWMutex // guards rotation of leaf/lowKey/pos together
	lowKey      atomic.Pointer[K]
	leaf        atomic.Pointer[bptree.LeafNode[K, V]]
	pos         atomic.Int64
	insertCount atomic.Int64
	drains      atomic.Uint64
}

// NewBulkLeafBuffer returns a buffer fronting tree with the default load
// factor. negInf must compare less than or equal to every key ever
// inserted; it seeds the initial low-key threshold so the first round of
// inserts route into the staging leaf rather than straight to the (empty)
// tree.
func NewBulkLeafBuffer[K constraints.Ordered, V any](tree *bptree.Tree[K, V], negInf K) *BulkLeafBuffer[K, V] {
	return NewBulkLeafBufferLoadFactor(tree, negInf, DefaultBulkLoadFactor)
}

// NewBulkLeafBufferLoadFactor is NewBulkLeafBuffer with an explicit fill
// fraction in (0, 1). Values outside that range fall back to the default.
func NewBulkLeafBufferLoadFactor[K constraints.Ordered, V any](tree *bptree.Tree[K, V], negInf K, loadFactor float64) *BulkLeafBuffer[K, V] {
	if loadFactor <= 0 || loadFactor >= 1 {
		loadFactor = DefaultBulkLoadFactor
	}
	maxInserts := int(float64(bptree.LeafCap) * loadFactor)
	if maxInserts < 1 {
		maxInserts = 1
	}
	if maxInserts > bptree.LeafCap-1 {
		// One extra slot beyond maxInserts is written by the rotating
		// goroutine, so the fill target must leave room for it.
		maxInserts = bptree.LeafCap - 1
	}

	b := &BulkLeafBuffer[K, V]{
		tree:       tree,
		maxInserts: maxInserts,
		negInf:     negInf,
	}
	b.lowKey.Store(&negInf)
	b.leaf.Store(bptree.NewStagingLeaf[K, V](negInf))
	return b
}

// Insert admits key/val either into the staging leaf (if key exceeds the
// current low-key threshold) or straight into the tree otherwise.
func (b *BulkLeafBuffer[K, V]) Insert(key K, val V) {
startInsert:
	lowKey := b.lowKey.Load()
	if key <= *lowKey {
		b.tree.Insert(key, val)
		return
	}

	b.mu.RLock()
	if key <= *b.lowKey.Load() {
		b.mu.RUnlock()
		b.tree.Insert(key, val)
		return
	}

	leaf := b.leaf.Load()
	currentPos := int(b.pos.Add(1) - 1)
	if currentPos > b.maxInserts {
		b.mu.RUnlock()
		runtime.Gosched()
		goto startInsert
	}
	b.mu.RUnlock()

	if currentPos < b.maxInserts {
		leaf.InsertUnordered(key, val, currentPos)
		b.insertCount.Add(1)
		return
	}

	// currentPos == b.maxInserts: this goroutine claimed the last slot and
	// is responsible for rotating the buffer. The spin below is the drain
	// barrier: it completes once every claimed slot has been written. The
	// rotating goroutine's own slot counts toward the sort input, so the
	// final claimed key is never lost.
	leaf.InsertUnordered(key, val, currentPos)
	b.insertCount.Add(1)
	for b.insertCount.Load() != int64(b.maxInserts+1) {
		runtime.Gosched()
	}

	// Install a sorted snapshot rather than sorting the staging leaf in
	// place: readers scanning the staging leaf concurrently keep seeing
	// stable unsorted slots until the publication below swaps it out.
	sorted, highKey := leaf.SortedSnapshot(b.maxInserts + 1)
	sep := *b.lowKey.Load()
	b.tree.InstallLeaf(sep, sorted)
	b.drains.Add(1)

	b.insertCount.Store(0)

	b.mu.Lock()
	b.lowKey.Store(&highKey)
	b.leaf.Store(bptree.NewStagingLeaf[K, V](b.negInf))
	b.pos.Store(0)
	b.mu.Unlock()
}

// Lookup returns key's value if it can be found either in the staging leaf
// or the tree. A rotation concurrent with the scan invalidates it; in that
// case the filled leaf has already been (or is about to be) installed, so
// the lookup falls back to a plain tree lookup.
func (b *BulkLeafBuffer[K, V]) Lookup(key K) (V, bool) {
	lowKey := *b.lowKey.Load()
	if key <= lowKey {
		return b.tree.Lookup(key)
	}

	leaf := b.leaf.Load()
	count := int(b.pos.Load())
	if count > b.maxInserts+1 {
		count = b.maxInserts + 1
	}
	val, found := leaf.SearchUnordered(key, count)

	if b.leaf.Load() != leaf {
		return b.tree.Lookup(key)
	}
	if !found && key <= *b.lowKey.Load() {
		// A rotation completed between the admission check and the scan:
		// the key's staging round has already been installed.
		return b.tree.Lookup(key)
	}
	return val, found
}

// Drains reports how many staging leaves have been filled and installed
// into the tree so far.
func (b *BulkLeafBuffer[K, V]) Drains() uint64 {
	return b.drains.Load()
}
