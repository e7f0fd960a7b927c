package stage

import (
	"sync"
	"testing"
)

func TestRingBuffer_InsertLookup_Basic(t *testing.T) {
	r := NewRingBuffer[int, string]()

	r.Insert(0, 1, "one")
	r.Insert(0, 2, "two")

	if v, ok := r.Lookup(1); !ok || v != "one" {
		t.Fatalf("Lookup(1) = (%q, %v), want (one, true)", v, ok)
	}
	if v, ok := r.Lookup(2); !ok || v != "two" {
		t.Fatalf("Lookup(2) = (%q, %v), want (two, true)", v, ok)
	}
	if _, ok := r.Lookup(99); ok {
		t.Fatalf("expected miss for absent key")
	}
}

func TestRingBuffer_LaterInsertWins(t *testing.T) {
	r := NewRingBuffer[int, string]()

	r.Insert(0, 5, "first")
	r.Insert(0, 5, "second")

	v, ok := r.Lookup(5)
	if !ok || v != "second" {
		t.Fatalf("Lookup(5) = (%q, %v), want (second, true)", v, ok)
	}
}

func TestRingBuffer_RotationDrainsIntoTree(t *testing.T) {
	r := NewRingBuffer[int, int]()

	const n = DefaultRingSlotCapacity + 100
	for i := 0; i < n; i++ {
		r.Insert(0, i, i*10)
	}
	r.Release(0)

	if r.Drains() == 0 {
		t.Fatalf("expected at least one drain after overfilling a generation")
	}
	for i := 0; i < n; i++ {
		v, ok := r.Lookup(i)
		if !ok || v != i*10 {
			t.Fatalf("key %d = (%d, %v), want (%d, true)", i, v, ok, i*10)
		}
	}
}

func TestRingBuffer_SizedSmallCapacityRotatesRepeatedly(t *testing.T) {
	r := NewRingBufferSized[int, int](4, 8)

	const n = 200
	for i := 0; i < n; i++ {
		r.Insert(0, i, i)
	}
	r.Release(0)

	if r.Drains() < 2 {
		t.Fatalf("Drains() = %d, want >= 2 for %d inserts at capacity 8", r.Drains(), n)
	}
	for i := 0; i < n; i++ {
		if v, ok := r.Lookup(i); !ok || v != i {
			t.Fatalf("key %d = (%d, %v), want (%d, true)", i, v, ok, i)
		}
	}
}

func TestRingBuffer_DrainKeepsNewestVersionOfDuplicateKey(t *testing.T) {
	r := NewRingBufferSized[int, int](4, 8)

	// Rewrite the same key across many generations; each rotation drains an
	// older copy into the tree after newer copies already exist, so the
	// version-compare merge is what keeps the newest value on top.
	const rounds = 100
	for i := 0; i <= rounds; i++ {
		r.Insert(0, 7, i)
	}
	r.Release(0)

	v, ok := r.Lookup(7)
	if !ok || v != rounds {
		t.Fatalf("Lookup(7) = (%d, %v), want (%d, true)", v, ok, rounds)
	}
}

func TestRingBuffer_ConcurrentInsertsEveryKeyFound(t *testing.T) {
	r := NewRingBuffer[int, int]()

	const workers = 16
	const perWorker = 2000

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			defer r.Release(id)
			for i := 0; i < perWorker; i++ {
				k := id*perWorker + i
				r.Insert(id, k, k)
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < workers; w++ {
		for i := 0; i < perWorker; i++ {
			k := w*perWorker + i
			if v, ok := r.Lookup(k); !ok || v != k {
				t.Fatalf("key %d = (%d, %v), want (%d, true)", k, v, ok, k)
			}
		}
	}
}

func TestRingBuffer_Release_FreesSlotForRotation(t *testing.T) {
	r := NewRingBuffer[int, int]()

	r.Insert(0, 1, 1)
	r.Release(0)

	if held := r.lastHeld[0].Load(); held != nil {
		t.Fatalf("expected lastHeld to be cleared after Release")
	}
}
