package stage

import (
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/constraints"

	"github.com/ssargent/olctree/pkg/bptree"
)

// DefaultRingBufferCount is how many insert-buffer generations the ring
// rotates through. One is active at a time; the rest are either idle
// (available for the next rotation) or mid-drain.
const DefaultRingBufferCount = 32

// DefaultRingSlotCapacity bounds how many entries a single generation holds
// before it is considered full and swapped out for drain.
const DefaultRingSlotCapacity = 2048

// maxRingThreads bounds the per-worker held-buffer registry. Worker ids
// are taken modulo this, so concurrent workers need distinct ids below it
// for the held-lock bookkeeping to stay per-worker.
const maxRingThreads = 256

type ringEntry[K constraints.Ordered, V any] struct {
	key K
	val *VersionedValue[V]
}

// insertBuffer is one generation of the ring: a fixed-capacity array of
// (key, VersionedValue) slots, claimed by fetch-and-increment, guarded by a
// shared/exclusive lock so many appenders can write concurrently while a
// single drainer waits for all of them to finish before reading the slots.
type insertBuffer[K constraints.Ordered, V any] struct {
	mu         sync.RWMutex
	entries    []ringEntry[K, V]
	pos        atomic.Int64
	minVersion atomic.Int64
}

func newInsertBuffer[K constraints.Ordered, V any](capacity int) *insertBuffer[K, V] {
	return &insertBuffer[K, V]{entries: make([]ringEntry[K, V], capacity)}
}

// reset clears a drained buffer for reuse, and records minVersion: no entry
// written before the next rotation can carry a version older than this,
// which lets Lookup bound which hits in a given generation are trustworthy.
func (b *insertBuffer[K, V]) reset(minVersion int64) {
	b.pos.Store(0)
	b.minVersion.Store(minVersion)
}

// RingBuffer gives each worker goroutine its own lane into a rotating pool
// of insert buffers: workers append into a shared-locked "active" buffer,
// and an append that finds it already full triggers a rotation (CAS active to nil,
// publish a fresh buffer, then exclusively drain the retired one into the
// tree). Every value carries a globally ordered version; readers reconcile
// hits across all buffers and the tree with a snapshot version and
// VersionedValue's last-writer-wins merge rule, so a reader never observes
// a write versioned after its snapshot, and among visible writes always
// the most recent one.
type RingBuffer[K constraints.Ordered, V any] struct {
	tree *bptree.Tree[K, *VersionedValue[V]]

	pool     []*insertBuffer[K, V]
	capacity int
	active   atomic.Pointer[insertBuffer[K, V]]

	version atomic.Int64
	drains  atomic.Uint64

	lastHeld [maxRingThreads]atomic.Pointer[insertBuffer[K, V]]
}

// NewRingBuffer returns a ring-buffered staging layer with default pool
// sizing and its own backing tree. Unlike BulkLeafBuffer, the ring variant
// cannot share a plain Tree[K, V] with the caller: every value, buffered or
// drained, must carry its version so Lookup can compare hits from
// different generations against each other.
func NewRingBuffer[K constraints.Ordered, V any]() *RingBuffer[K, V] {
	return NewRingBufferSized[K, V](DefaultRingBufferCount, DefaultRingSlotCapacity)
}

// NewRingBufferSized is NewRingBuffer with explicit pool sizing: bufferCount
// generations of slotCapacity entries each. Rotation needs a spare buffer
// to publish, so bufferCount is clamped to at least 2; non-positive
// slotCapacity falls back to the default.
func NewRingBufferSized[K constraints.Ordered, V any](bufferCount, slotCapacity int) *RingBuffer[K, V] {
	if bufferCount < 2 {
		bufferCount = 2
	}
	if slotCapacity < 1 {
		slotCapacity = DefaultRingSlotCapacity
	}

	r := &RingBuffer[K, V]{
		tree:     bptree.NewTree[K, *VersionedValue[V]](),
		pool:     make([]*insertBuffer[K, V], bufferCount),
		capacity: slotCapacity,
	}
	for i := range r.pool {
		r.pool[i] = newInsertBuffer[K, V](slotCapacity)
	}
	r.active.Store(r.pool[0])
	return r
}

// Insert appends (key, val) on behalf of worker t, tagging it with a
// freshly minted global version. t must be a stable small integer unique
// to the calling worker (e.g. a goroutine pool slot index below
// maxRingThreads): the held-lock registry is indexed by it, and two live
// workers sharing an id would release each other's shared locks.
func (r *RingBuffer[K, V]) Insert(t int, key K, val V) {
	slot := t % maxRingThreads
	for {
		b := r.spinActive()

		held := r.lastHeld[slot].Load()
		if held != b {
			r.releaseSlot(slot)
			if !b.mu.TryRLock() {
				continue
			}
			r.lastHeld[slot].Store(b)
		}

		version := r.version.Add(1)
		pos := b.pos.Add(1) - 1
		if pos < int64(r.capacity) {
			b.entries[pos] = ringEntry[K, V]{key: key, val: NewVersionedValue(val, version)}
			return
		}

		// This append missed the buffer: it filled between our spin and our
		// claim. Release our hold, try to become the rotator, and insert
		// this key straight into the tree either way.
		b.mu.RUnlock()
		r.lastHeld[slot].Store(nil)
		if r.active.CompareAndSwap(b, nil) {
			r.rotate(b)
		}
		r.treeUpsert(key, NewVersionedValue(val, version))
		return
	}
}

// Release drops worker t's held shared lock on the active buffer. The
// driver must call this when a worker finishes its share of work; skipping
// it leaves a permanent reader on some buffer's shared lock, and the next
// rotation's exclusive drain lock blocks forever.
func (r *RingBuffer[K, V]) Release(t int) {
	r.releaseSlot(t % maxRingThreads)
}

func (r *RingBuffer[K, V]) releaseSlot(slot int) {
	if held := r.lastHeld[slot].Load(); held != nil {
		held.mu.RUnlock()
		r.lastHeld[slot].Store(nil)
	}
}

func (r *RingBuffer[K, V]) spinActive() *insertBuffer[K, V] {
	for {
		if b := r.active.Load(); b != nil {
			return b
		}
		runtime.Gosched()
	}
}

// rotate publishes a free buffer as the new active generation, then
// exclusively drains old into the tree. The exclusive lock acquisition is
// the drain barrier: it blocks until every shared appender that raced in
// before the CAS has released.
func (r *RingBuffer[K, V]) rotate(old *insertBuffer[K, V]) {
	next := r.pickFreeBuffer(old)
	r.active.Store(next)

	old.mu.Lock()
	n := old.pos.Load()
	if n > int64(r.capacity) {
		n = int64(r.capacity)
	}
	for i := int64(0); i < n; i++ {
		e := old.entries[i]
		r.treeUpsert(e.key, e.val)
	}
	old.reset(r.version.Load())
	old.mu.Unlock()
	r.drains.Add(1)
}

// treeUpsert moves a versioned value into the tree. Concurrent drains of
// different generations can carry the same key, so the write goes through
// the value's own version-compare merge rather than a blind overwrite: an
// older generation landing second must not clobber a newer value.
func (r *RingBuffer[K, V]) treeUpsert(key K, vv *VersionedValue[V]) {
	r.tree.UpsertWith(key, vv, func(existing *VersionedValue[V]) *VersionedValue[V] {
		v, ver := vv.Get()
		existing.Set(v, ver)
		return existing
	})
}

// pickFreeBuffer finds a pool member currently held by no appender (the
// exclusive try-lock succeeding means no shared holders remain). Falls
// back to round-robin if every other buffer happens to be busy, which only
// costs the next appender an extra spin, never correctness.
func (r *RingBuffer[K, V]) pickFreeBuffer(exclude *insertBuffer[K, V]) *insertBuffer[K, V] {
	for _, cand := range r.pool {
		if cand == exclude {
			continue
		}
		if cand.mu.TryLock() {
			cand.mu.Unlock()
			return cand
		}
	}
	for _, cand := range r.pool {
		if cand != exclude {
			return cand
		}
	}
	return exclude
}

// Lookup returns the version-bounded union of every buffer generation and
// the tree: the reader captures a snapshot version, accepts only hits whose
// version falls in [generation's minVersion, snapshot], and among accepted
// hits the highest version wins.
func (r *RingBuffer[K, V]) Lookup(key K) (V, bool) {
	snapshot := r.version.Load()

	var best *VersionedValue[V]

	for i := range r.pool {
		b := r.pool[i]
		b.mu.RLock()
		n := b.pos.Load()
		if n > int64(r.capacity) {
			n = int64(r.capacity)
		}
		minVersion := b.minVersion.Load()
		for j := int64(0); j < n; j++ {
			e := b.entries[j]
			if e.val == nil || e.key != key {
				continue
			}
			_, ver := e.val.Get()
			if ver < minVersion || ver > snapshot {
				continue
			}
			if best == nil {
				best = e.val
				continue
			}
			if _, bestVer := best.Get(); ver > bestVer {
				best = e.val
			}
		}
		b.mu.RUnlock()
	}

	if hit, ok := r.tree.Lookup(key); ok {
		if _, ver := hit.Get(); ver <= snapshot {
			if best == nil {
				best = hit
			} else if _, bestVer := best.Get(); ver > bestVer {
				best = hit
			}
		}
	}

	if best == nil {
		var zero V
		return zero, false
	}
	v, _ := best.Get()
	return v, true
}

// Drains reports how many buffer generations have been drained into the
// tree so far.
func (r *RingBuffer[K, V]) Drains() uint64 {
	return r.drains.Load()
}

// TreeStats returns the backing tree's event counters.
func (r *RingBuffer[K, V]) TreeStats() bptree.Stats {
	return r.tree.Stats()
}

// TreeHeight reports the backing tree's current depth.
func (r *RingBuffer[K, V]) TreeHeight() int {
	return r.tree.Height()
}
