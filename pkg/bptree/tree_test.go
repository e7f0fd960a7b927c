package bptree

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
)

func TestTree_InsertLookup_Basic(t *testing.T) {
	tr := NewTree[int, string]()

	if _, ok := tr.Lookup(1); ok {
		t.Fatalf("expected miss on empty tree")
	}

	tr.Insert(1, "one")
	tr.Insert(2, "two")
	tr.Insert(3, "three")

	for k, want := range map[int]string{1: "one", 2: "two", 3: "three"} {
		got, ok := tr.Lookup(k)
		if !ok {
			t.Fatalf("key %d missing", k)
		}
		if got != want {
			t.Fatalf("key %d = %q, want %q", k, got, want)
		}
	}

	if _, ok := tr.Lookup(99); ok {
		t.Fatalf("expected miss for absent key")
	}
}

func TestTree_Insert_OverwritesExistingKey(t *testing.T) {
	tr := NewTree[int, string]()
	tr.Insert(5, "first")
	tr.Insert(5, "second")

	got, ok := tr.Lookup(5)
	if !ok || got != "second" {
		t.Fatalf("Lookup(5) = (%q, %v), want (second, true)", got, ok)
	}
}

func TestTree_Insert_ForcesMultipleSplits(t *testing.T) {
	tr := NewTree[int, int]()
	const n = 5000

	keys := rand.New(rand.NewSource(1)).Perm(n)
	for _, k := range keys {
		tr.Insert(k, k*2)
	}

	for k := 0; k < n; k++ {
		v, ok := tr.Lookup(k)
		if !ok {
			t.Fatalf("key %d missing after bulk insert", k)
		}
		if v != k*2 {
			t.Fatalf("key %d = %d, want %d", k, v, k*2)
		}
	}
}

func TestTree_Insert_MaintainsSortedLeafOrder(t *testing.T) {
	tr := NewTree[int, struct{}]()
	keys := rand.New(rand.NewSource(2)).Perm(2000)
	for _, k := range keys {
		tr.Insert(k, struct{}{})
	}

	var walked []int
	var walk func(n node[int, struct{}])
	walk = func(n node[int, struct{}]) {
		switch x := n.(type) {
		case *LeafNode[int, struct{}]:
			walked = append(walked, x.keys[:x.count]...)
		case *InnerNode[int, struct{}]:
			for i := 0; i <= x.count; i++ {
				walk(x.children[i])
			}
		}
	}
	walk(tr.root.Load().n)

	if !sort.IntsAreSorted(walked) {
		t.Fatalf("leaves out of order: %v", walked)
	}
	if len(walked) != 2000 {
		t.Fatalf("walked %d keys, want 2000", len(walked))
	}
}

func TestTree_ConcurrentInsertLookup(t *testing.T) {
	tr := NewTree[int, int]()
	const perWorker = 2000
	const workers = 16

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				k := base*perWorker + i
				tr.Insert(k, k)
			}
		}(w)
	}
	wg.Wait()

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		r := r
		readers.Add(1)
		go func() {
			defer readers.Done()
			rng := rand.New(rand.NewSource(int64(r)))
			for {
				select {
				case <-stop:
					return
				default:
					tr.Lookup(rng.Intn(workers * perWorker))
				}
			}
		}()
	}
	close(stop)
	readers.Wait()

	for w := 0; w < workers; w++ {
		for i := 0; i < perWorker; i++ {
			k := w*perWorker + i
			if v, ok := tr.Lookup(k); !ok || v != k {
				t.Fatalf("key %d = (%d, %v), want (%d, true)", k, v, ok, k)
			}
		}
	}
}

func TestTree_InstallLeaf_AppendsAsRightSibling(t *testing.T) {
	tr := NewTree[int, int]()
	for i := 0; i < 10; i++ {
		tr.Insert(i, i)
	}

	staged := newLeaf[int, int]()
	staged.count = 3
	staged.keys[0], staged.vals[0] = 100, 100
	staged.keys[1], staged.vals[1] = 101, 101
	staged.keys[2], staged.vals[2] = 102, 102

	tr.InstallLeaf(50, staged)

	for _, k := range []int{0, 5, 9, 100, 101, 102} {
		if v, ok := tr.Lookup(k); !ok || v != k {
			t.Fatalf("key %d = (%d, %v), want (%d, true)", k, v, ok, k)
		}
	}
}

func TestTree_InstallLeaf_OnEmptyTreeBecomesRoot(t *testing.T) {
	tr := &Tree[int, int]{}

	staged := newLeaf[int, int]()
	staged.count = 2
	staged.keys[0], staged.vals[0] = 1, 1
	staged.keys[1], staged.vals[1] = 2, 2

	var negInf int
	tr.InstallLeaf(negInf, staged)

	for _, k := range []int{1, 2} {
		if v, ok := tr.Lookup(k); !ok || v != k {
			t.Fatalf("key %d = (%d, %v), want (%d, true)", k, v, ok, k)
		}
	}
}

func TestTree_InstallLeaf_RepeatedInstallsStayOrdered(t *testing.T) {
	tr := &Tree[int, int]{}
	lowKey := -1
	const batches = 40
	const batchSize = 20

	for b := 0; b < batches; b++ {
		leaf := newLeaf[int, int]()
		leaf.count = batchSize
		for i := 0; i < batchSize; i++ {
			k := lowKey + 1 + i
			leaf.keys[i], leaf.vals[i] = k, k
		}
		tr.InstallLeaf(lowKey, leaf)
		lowKey += batchSize
	}

	for k := 0; k < batches*batchSize; k++ {
		if v, ok := tr.Lookup(k); !ok || v != k {
			t.Fatalf("key %d = (%d, %v), want (%d, true)", k, v, ok, k)
		}
	}
}

func TestTree_InstallLeaf_ManyInstallsSplitRoot(t *testing.T) {
	tr := &Tree[int, int]{}
	lowKey := -1
	const batches = InnerCap * 5
	const batchSize = 8

	for b := 0; b < batches; b++ {
		leaf := newLeaf[int, int]()
		leaf.count = batchSize
		for i := 0; i < batchSize; i++ {
			k := lowKey + 1 + i
			leaf.keys[i], leaf.vals[i] = k, k
		}
		tr.InstallLeaf(lowKey, leaf)
		lowKey += batchSize
	}

	if s := tr.Stats(); s.InnerSplits == 0 {
		t.Fatalf("expected inner splits after %d installs", batches)
	}
	for k := 0; k < batches*batchSize; k++ {
		if v, ok := tr.Lookup(k); !ok || v != k {
			t.Fatalf("key %d = (%d, %v), want (%d, true)", k, v, ok, k)
		}
	}
}

func TestTree_String_KeysSortCorrectly(t *testing.T) {
	tr := NewTree[string, int]()
	words := []string{"pear", "apple", "mango", "banana", "kiwi", "grape"}
	for i, w := range words {
		tr.Insert(w, i)
	}
	for i, w := range words {
		v, ok := tr.Lookup(w)
		if !ok || v != i {
			t.Fatalf("key %q = (%d, %v), want (%d, true)", w, v, ok, i)
		}
	}
}

func TestTree_Insert_RepeatedRoundsKeepLastValue(t *testing.T) {
	tr := NewTree[int, int]()
	for iter := 0; iter < 3; iter++ {
		for i := 0; i < 300; i++ {
			tr.Insert(i, i+iter)
		}
	}
	for i := 0; i < 300; i++ {
		v, ok := tr.Lookup(i)
		if !ok || v != i+2 {
			t.Fatalf("key %d = (%d, %v), want (%d, true)", i, v, ok, i+2)
		}
	}
}

func TestTree_ConcurrentDuplicateInserts_OneRacerWins(t *testing.T) {
	tr := NewTree[int, int]()
	const workers = 8

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			tr.Insert(1, v)
		}(w + 1)
	}
	wg.Wait()

	v, ok := tr.Lookup(1)
	if !ok {
		t.Fatalf("key 1 missing after racing inserts")
	}
	if v < 1 || v > workers {
		t.Fatalf("Lookup(1) = %d, not a value any racer inserted", v)
	}
}

func TestTree_UpsertWith_MergesUnderLeafLock(t *testing.T) {
	tr := NewTree[int, int]()

	tr.UpsertWith(1, 10, func(existing int) int { return existing + 10 })
	if v, ok := tr.Lookup(1); !ok || v != 10 {
		t.Fatalf("first upsert: Lookup(1) = (%d, %v), want (10, true)", v, ok)
	}

	tr.UpsertWith(1, 99, func(existing int) int { return existing + 10 })
	if v, ok := tr.Lookup(1); !ok || v != 20 {
		t.Fatalf("merge upsert: Lookup(1) = (%d, %v), want (20, true)", v, ok)
	}
}

func TestTree_UpsertWith_ConcurrentIncrementsAllApplied(t *testing.T) {
	tr := NewTree[int, int]()
	tr.Insert(1, 0)

	const workers = 8
	const perWorker = 500

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				tr.UpsertWith(1, 1, func(existing int) int { return existing + 1 })
			}
		}()
	}
	wg.Wait()

	if v, ok := tr.Lookup(1); !ok || v != workers*perWorker {
		t.Fatalf("Lookup(1) = (%d, %v), want (%d, true)", v, ok, workers*perWorker)
	}
}

func TestTree_StatsAndHeight_GrowWithInserts(t *testing.T) {
	tr := NewTree[int, int]()
	if h := tr.Height(); h != 1 {
		t.Fatalf("Height() = %d on fresh tree, want 1", h)
	}

	for i := 0; i < 10000; i++ {
		tr.Insert(i, i)
	}

	s := tr.Stats()
	if s.LeafSplits == 0 {
		t.Fatalf("expected leaf splits after 10000 inserts")
	}
	if h := tr.Height(); h < 2 {
		t.Fatalf("Height() = %d after 10000 inserts, want >= 2", h)
	}
}

func ExampleTree_usage() {
	tr := NewTree[int, string]()
	tr.Insert(1, "a")
	v, ok := tr.Lookup(1)
	fmt.Println(v, ok)
	// Output: a true
}
