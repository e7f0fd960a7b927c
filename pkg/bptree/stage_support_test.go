package bptree

import "testing"

func TestStagingLeaf_SortedSnapshot_SortsUnorderedSlots(t *testing.T) {
	leaf := NewStagingLeaf[int, int](-1)
	keys := []int{9, 3, 7, 1, 5}
	for i, k := range keys {
		leaf.InsertUnordered(k, k*10, i)
	}

	sorted, highKey := leaf.SortedSnapshot(len(keys))

	if highKey != 9 {
		t.Fatalf("highKey = %d, want 9", highKey)
	}
	if sorted.Len() != len(keys) {
		t.Fatalf("Len() = %d, want %d", sorted.Len(), len(keys))
	}
	want := []int{1, 3, 5, 7, 9}
	for i, k := range want {
		if sorted.keys[i] != k {
			t.Fatalf("keys[%d] = %d, want %d", i, sorted.keys[i], k)
		}
		if sorted.vals[i] != k*10 {
			t.Fatalf("vals[%d] = %d, want %d", i, sorted.vals[i], k*10)
		}
	}
}

func TestStagingLeaf_SortedSnapshot_LeavesReceiverUntouched(t *testing.T) {
	leaf := NewStagingLeaf[int, int](-1)
	leaf.InsertUnordered(5, 50, 0)
	leaf.InsertUnordered(2, 20, 1)

	sorted, _ := leaf.SortedSnapshot(2)

	if sorted == leaf {
		t.Fatalf("snapshot must be a fresh leaf")
	}
	if leaf.keys[0] != 5 || leaf.keys[1] != 2 {
		t.Fatalf("receiver slots reordered: %v", leaf.keys[:2])
	}
}

func TestStagingLeaf_SortedSnapshot_HighestSlotWinsDuplicates(t *testing.T) {
	leaf := NewStagingLeaf[int, string](-1)
	leaf.InsertUnordered(5, "early", 0)
	leaf.InsertUnordered(3, "only", 1)
	leaf.InsertUnordered(5, "late", 2)

	sorted, highKey := leaf.SortedSnapshot(3)

	if highKey != 5 {
		t.Fatalf("highKey = %d, want 5", highKey)
	}
	if sorted.Len() != 2 {
		t.Fatalf("Len() = %d after dedupe, want 2", sorted.Len())
	}
	if v, ok := sorted.get(5); !ok || v != "late" {
		t.Fatalf("get(5) = (%q, %v), want (late, true)", v, ok)
	}
}

func TestStagingLeaf_SearchUnordered_LastMatchWins(t *testing.T) {
	leaf := NewStagingLeaf[int, string](-1)
	leaf.InsertUnordered(7, "old", 0)
	leaf.InsertUnordered(7, "new", 1)

	v, ok := leaf.SearchUnordered(7, 2)
	if !ok || v != "new" {
		t.Fatalf("SearchUnordered(7) = (%q, %v), want (new, true)", v, ok)
	}
	if _, ok := leaf.SearchUnordered(8, 2); ok {
		t.Fatalf("expected miss for absent key")
	}
}
