package bptree

import "github.com/ssargent/olctree/pkg/olc"

// InstallLeaf installs an already-filled, already-sorted LeafNode as the
// new rightmost leaf of the tree, separated from the tree's current content
// by sep. It never touches the receiving leaf's contents; leaf simply
// becomes its right sibling.
//
// sep must be an upper bound for every key already in the tree and a
// strict lower bound for every key in leaf. The staging buffer's rotating
// high-water key satisfies this by construction (keys at or below it bypass
// the buffer), so callers pass that value rather than having InstallLeaf
// reconstruct it from the (possibly concurrently mutated) receiving leaf.
func (t *Tree[K, V]) InstallLeaf(sep K, leaf *LeafNode[K, V]) {
	var backoff olc.Backoff
	defer func() { t.stats.installRestarts.Add(uint64(backoff.Count())) }()
restart:
	holder := t.root.Load()
	if holder == nil {
		newHolder := &rootHolder[K, V]{n: leaf}
		if !t.root.CompareAndSwap(nil, newHolder) {
			backoff.Wait()
			goto restart
		}
		t.stats.leavesInstalled.Add(1)
		return
	}

	root := holder.n
	rootVersion, needRestart := root.lock().ReadLockOrRestart()
	if needRestart {
		backoff.Wait()
		goto restart
	}

	if rootLeaf, ok := root.(*LeafNode[K, V]); ok {
		if needRestart := rootLeaf.lock().UpgradeToWriteLockOrRestart(rootVersion); needRestart {
			backoff.Wait()
			goto restart
		}
		if t.root.Load() != holder {
			rootLeaf.lock().WriteUnlock()
			backoff.Wait()
			goto restart
		}
		newRoot := newInner[K, V]()
		newRoot.count = 1
		newRoot.keys[0] = sep
		newRoot.children[0] = rootLeaf
		newRoot.children[1] = leaf
		t.root.Store(&rootHolder[K, V]{n: newRoot})
		rootLeaf.lock().WriteUnlock()
		t.stats.leavesInstalled.Add(1)
		return
	}

	curr := root.(*InnerNode[K, V])
	currVersion := rootVersion

	if curr.isFull() {
		if needRestart := curr.lock().UpgradeToWriteLockOrRestart(currVersion); needRestart {
			backoff.Wait()
			goto restart
		}
		if t.root.Load() != holder {
			curr.lock().WriteUnlock()
			backoff.Wait()
			goto restart
		}
		t.splitRoot(curr)
		curr.lock().WriteUnlock()
		backoff.Wait()
		goto restart
	}

	for {
		idx := curr.childIndex(sep)
		child := curr.children[idx]

		if childInner, ok := child.(*InnerNode[K, V]); ok {
			childVersion, needRestart := childInner.lock().ReadLockOrRestart()
			if needRestart {
				backoff.Wait()
				goto restart
			}
			if needRestart := curr.lock().CheckOrRestart(currVersion); needRestart {
				backoff.Wait()
				goto restart
			}

			if childInner.isFull() {
				if needRestart := curr.lock().UpgradeToWriteLockOrRestart(currVersion); needRestart {
					backoff.Wait()
					goto restart
				}
				if needRestart := childInner.lock().UpgradeToWriteLockOrRestart(childVersion); needRestart {
					curr.lock().WriteUnlock()
					backoff.Wait()
					goto restart
				}
				curr.splitInnerChild(idx, childInner)
				t.stats.innerSplits.Add(1)
				childInner.lock().WriteUnlock()
				curr.lock().WriteUnlock()
				backoff.Wait()
				goto restart
			}

			if needRestart := curr.lock().ReadUnlockOrRestart(currVersion); needRestart {
				backoff.Wait()
				goto restart
			}
			curr = childInner
			currVersion = childVersion
			continue
		}

		// child is a leaf: curr is the parent we need to splice the new
		// sibling into. The leaf itself is never locked or mutated.
		if needRestart := curr.lock().UpgradeToWriteLockOrRestart(currVersion); needRestart {
			backoff.Wait()
			goto restart
		}
		curr.insertChild(idx, sep, leaf)
		curr.lock().WriteUnlock()
		t.stats.leavesInstalled.Add(1)
		return
	}
}
