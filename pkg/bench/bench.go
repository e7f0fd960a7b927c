// Package bench dispatches a parsed workload across a pool of goroutines
// against a chosen front end and reports throughput. Work assignment is
// dynamic: workers pull operation indices from a shared atomic counter
// until the workload is exhausted.
package bench

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/ssargent/olctree/pkg/bptree"
	"github.com/ssargent/olctree/pkg/metrics"
	"github.com/ssargent/olctree/pkg/workload"
)

// Engine is the common shape every front end in this repo exposes to the
// benchmark runner: Tree, BulkLeafBuffer, and RingBuffer all satisfy it via
// the adapters in engine.go. workerID identifies the calling goroutine in
// [0, threads); the baseline tree and BulkLeafBuffer ignore it, and RingBuffer
// uses it as its per-worker lane index.
type Engine interface {
	Insert(workerID int, key int64, val string)
	Lookup(workerID int, key int64) (string, bool)

	// Release runs once when a worker goroutine finishes its share of the
	// workload. Only RingBuffer's adapter does anything here: dropping the
	// worker's held shared lock so buffer rotation can drain; the others
	// are no-ops.
	Release(workerID int)

	// Stats returns the engine's internal event counters for post-run
	// diagnostics.
	Stats() EngineStats
}

// EngineStats aggregates a front end's internals for reporting: the backing
// tree's counters, its height, and how many staging-buffer generations were
// drained (zero for the baseline tree).
type EngineStats struct {
	Tree       bptree.Stats
	TreeHeight int
	Drains     uint64
}

// Result reports a completed run's throughput; this is the JSON object the
// CLI emits on stdout.
type Result struct {
	Algorithm  string  `json:"algor"`
	Workload   string  `json:"workload"`
	OpsPerSec  float64 `json:"ops_per_sec"`
	NumThreads int     `json:"num_threads"`
}

// Run dispatches ops across threads goroutines pulling work dynamically
// from a shared atomic counter, invoking Insert/Lookup on engine for each
// operation, and returns the measured throughput. The workload format
// carries only keys, so INSERT values are synthesized via ksuid.
func Run(ctx context.Context, engine Engine, ops []workload.Operation, threads int, mx *metrics.Metrics, algoLabel string) Result {
	if threads < 1 {
		threads = 1
	}

	var cursor atomic.Int64
	var wg sync.WaitGroup

	start := time.Now()
	for w := 0; w < threads; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			defer engine.Release(workerID)
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				i := cursor.Add(1) - 1
				if i >= int64(len(ops)) {
					return
				}
				op := ops[i]
				opStart := time.Now()
				switch op.Kind {
				case workload.Insert:
					engine.Insert(workerID, op.Key, ksuid.New().String())
					if mx != nil {
						mx.RecordOp("insert", algoLabel, time.Since(opStart))
					}
				case workload.Read:
					engine.Lookup(workerID, op.Key)
					if mx != nil {
						mx.RecordOp("lookup", algoLabel, time.Since(opStart))
					}
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	if mx != nil {
		mx.PublishEngineStats(algoLabel, statsSnapshot(engine))
	}

	opsPerSec := 0.0
	if elapsed > 0 {
		opsPerSec = float64(len(ops)) / elapsed.Seconds()
	}

	return Result{
		Algorithm:  algoLabel,
		OpsPerSec:  opsPerSec,
		NumThreads: threads,
	}
}

func statsSnapshot(engine Engine) metrics.EngineSnapshot {
	s := engine.Stats()
	return metrics.EngineSnapshot{
		LookupRestarts:  s.Tree.LookupRestarts,
		InsertRestarts:  s.Tree.InsertRestarts,
		InstallRestarts: s.Tree.InstallRestarts,
		LeafSplits:      s.Tree.LeafSplits,
		InnerSplits:     s.Tree.InnerSplits,
		LeavesInstalled: s.Tree.LeavesInstalled,
		BuffersDrained:  s.Drains,
		TreeHeight:      s.TreeHeight,
	}
}
