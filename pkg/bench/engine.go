package bench

import (
	"github.com/ssargent/olctree/pkg/bptree"
	"github.com/ssargent/olctree/pkg/stage"
)

// TreeEngine adapts the baseline Tree to the Engine interface. workerID is
// unused: the baseline tree has no per-thread state.
type TreeEngine struct {
	Tree *bptree.Tree[int64, string]
}

func (e TreeEngine) Insert(_ int, key int64, val string)    { e.Tree.Insert(key, val) }
func (e TreeEngine) Lookup(_ int, key int64) (string, bool) { return e.Tree.Lookup(key) }
func (e TreeEngine) Release(_ int)                          {}

func (e TreeEngine) Stats() EngineStats {
	return EngineStats{Tree: e.Tree.Stats(), TreeHeight: e.Tree.Height()}
}

// BulkLeafEngine adapts BulkLeafBuffer to the Engine interface. workerID is
// unused: appenders race on a shared atomic position counter, not
// per-thread state.
type BulkLeafEngine struct {
	Tree   *bptree.Tree[int64, string]
	Buffer *stage.BulkLeafBuffer[int64, string]
}

func (e BulkLeafEngine) Insert(_ int, key int64, val string)    { e.Buffer.Insert(key, val) }
func (e BulkLeafEngine) Lookup(_ int, key int64) (string, bool) { return e.Buffer.Lookup(key) }
func (e BulkLeafEngine) Release(_ int)                          {}

func (e BulkLeafEngine) Stats() EngineStats {
	return EngineStats{
		Tree:       e.Tree.Stats(),
		TreeHeight: e.Tree.Height(),
		Drains:     e.Buffer.Drains(),
	}
}

// RingEngine adapts RingBuffer to the Engine interface, forwarding workerID
// as the per-worker lane index and calling Release on worker exit so the
// next rotation's exclusive drain lock doesn't deadlock on an abandoned
// shared holder.
type RingEngine struct {
	Buffer *stage.RingBuffer[int64, string]
}

func (e RingEngine) Insert(workerID int, key int64, val string) { e.Buffer.Insert(workerID, key, val) }
func (e RingEngine) Lookup(_ int, key int64) (string, bool)     { return e.Buffer.Lookup(key) }
func (e RingEngine) Release(workerID int)                       { e.Buffer.Release(workerID) }

func (e RingEngine) Stats() EngineStats {
	return EngineStats{
		Tree:       e.Buffer.TreeStats(),
		TreeHeight: e.Buffer.TreeHeight(),
		Drains:     e.Buffer.Drains(),
	}
}
