package bench

import (
	"context"
	"math/rand"
	"testing"

	"github.com/ssargent/olctree/pkg/bptree"
	"github.com/ssargent/olctree/pkg/stage"
	"github.com/ssargent/olctree/pkg/workload"
)

func insertOps(n int64) []workload.Operation {
	ops := make([]workload.Operation, 0, n)
	for i := int64(0); i < n; i++ {
		ops = append(ops, workload.Operation{Kind: workload.Insert, Key: i})
	}
	return ops
}

func TestRun_BaselineEngine_AllInsertsFound(t *testing.T) {
	tree := bptree.NewTree[int64, string]()
	engine := TreeEngine{Tree: tree}

	const n = 2000
	result := Run(context.Background(), engine, insertOps(n), 8, nil, "baseline")
	if result.NumThreads != 8 {
		t.Fatalf("NumThreads = %d, want 8", result.NumThreads)
	}
	if result.Algorithm != "baseline" {
		t.Fatalf("Algorithm = %q, want baseline", result.Algorithm)
	}

	for i := int64(0); i < n; i++ {
		if _, ok := tree.Lookup(i); !ok {
			t.Fatalf("key %d missing after Run", i)
		}
	}

	s := engine.Stats()
	if s.TreeHeight < 2 {
		t.Fatalf("TreeHeight = %d after %d inserts, want >= 2", s.TreeHeight, n)
	}
	if s.Tree.LeafSplits == 0 {
		t.Fatalf("expected leaf splits after %d inserts", n)
	}
}

func TestRun_BulkLeafEngine_AllInsertsFound(t *testing.T) {
	tree := bptree.NewTree[int64, string]()
	buf := stage.NewBulkLeafBuffer[int64, string](tree, -1)
	engine := BulkLeafEngine{Tree: tree, Buffer: buf}

	const n = 3000
	Run(context.Background(), engine, insertOps(n), 4, nil, "bulkleaf")

	for i := int64(0); i < n; i++ {
		if _, ok := buf.Lookup(i); !ok {
			t.Fatalf("key %d missing after Run", i)
		}
	}
	if engine.Stats().Drains == 0 {
		t.Fatalf("expected staging-leaf installs after %d inserts", n)
	}
}

func TestRun_RingEngine_AllInsertsFound(t *testing.T) {
	buf := stage.NewRingBuffer[int64, string]()
	engine := RingEngine{Buffer: buf}

	const n = 3000
	Run(context.Background(), engine, insertOps(n), 8, nil, "ring")

	for i := int64(0); i < n; i++ {
		if _, ok := buf.Lookup(i); !ok {
			t.Fatalf("key %d missing after Run", i)
		}
	}
}

// TestRun_ShuffledStress drives each front end with a large pre-shuffled
// distinct key set across 32 workers, then verifies every key with a
// single-threaded read pass.
func TestRun_ShuffledStress(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress run in short mode")
	}

	const n = 1_000_000
	keys := rand.New(rand.NewSource(42)).Perm(n)
	ops := make([]workload.Operation, n)
	for i, k := range keys {
		ops[i] = workload.Operation{Kind: workload.Insert, Key: int64(k)}
	}

	build := map[string]func() Engine{
		"baseline": func() Engine {
			return TreeEngine{Tree: bptree.NewTree[int64, string]()}
		},
		"bulkleaf": func() Engine {
			tree := bptree.NewTree[int64, string]()
			return BulkLeafEngine{Tree: tree, Buffer: stage.NewBulkLeafBuffer[int64, string](tree, -1)}
		},
		"ring": func() Engine {
			return RingEngine{Buffer: stage.NewRingBuffer[int64, string]()}
		},
	}

	for name, mk := range build {
		t.Run(name, func(t *testing.T) {
			engine := mk()
			Run(context.Background(), engine, ops, 32, nil, name)
			for i := int64(0); i < n; i++ {
				if _, ok := engine.Lookup(0, i); !ok {
					t.Fatalf("key %d missing after stress run", i)
				}
			}
		})
	}
}
