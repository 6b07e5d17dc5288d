// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package merkle

import (
	"testing"

	"golang.org/x/exp/slices"
)

func testLeaf(i uint64) *LeafNode {
	return &LeafNode{FullKey: testKey(i), ValueHash: testValue(i), LeafIndex: i}
}

func leafPatch(manifest Manifest, version uint64, op operation, leaves ...uint64) *PatchSet {
	nodes := map[NodeKey]Node{}
	for _, i := range leaves {
		nodes[NewNibbles(testKey(i), 64).WithVersion(version)] = testLeaf(i)
	}
	return newPatchSet(manifest, version, &Root{LeafCount: 1, Node: testLeaf(leaves[0])}, nodes, nil, op)
}

func expectPanic(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("expected a panic")
		}
	}()
	f()
}

func TestPatchSet_LookupsReturnCopies(t *testing.T) {
	patch := leafPatch(Manifest{VersionCount: 1}, 0, insertOperation, 1)
	key := NewNibbles(testKey(1), 64).WithVersion(0)
	node, _ := patch.TryTreeNode(key, true)
	node.(*LeafNode).LeafIndex = 42
	again, _ := patch.TryTreeNode(key, true)
	if again.(*LeafNode).LeafIndex != 1 {
		t.Errorf("stored node was modified through a lookup")
	}
	if node, _ := patch.TryTreeNode(key.Nibbles.WithVersion(1), true); node != nil {
		t.Errorf("unexpected node for other version: %v", node)
	}
}

func TestPatchSet_NodeKindMismatchPanics(t *testing.T) {
	patch := leafPatch(Manifest{VersionCount: 1}, 0, insertOperation, 1)
	expectPanic(t, func() {
		_, _ = patch.TryTreeNode(NewNibbles(testKey(1), 64).WithVersion(0), false)
	})
}

func TestPatchSet_MergingNewVersions(t *testing.T) {
	patch := leafPatch(Manifest{VersionCount: 1}, 0, insertOperation, 1)
	if err := patch.ApplyPatch(leafPatch(Manifest{VersionCount: 2}, 1, insertOperation, 2)); err != nil {
		t.Fatalf("failed to merge: %v", err)
	}
	if got := patch.Versions(); !slices.Equal(got, []uint64{0, 1}) {
		t.Errorf("unexpected versions: %v", got)
	}
	if patch.NodeCount() != 2 {
		t.Errorf("unexpected node count: %d", patch.NodeCount())
	}
	manifest, _ := patch.TryManifest()
	if manifest.VersionCount != 2 {
		t.Errorf("unexpected version count: %d", manifest.VersionCount)
	}
}

func TestPatchSet_UpdatedVersionsAreMergedDeeply(t *testing.T) {
	manifest := Manifest{VersionCount: 4}
	patch := leafPatch(manifest, 3, updateOperation, 1)
	if err := patch.ApplyPatch(leafPatch(manifest, 3, updateOperation, 2)); err != nil {
		t.Fatalf("failed to merge: %v", err)
	}
	if patch.NodeCount() != 2 {
		t.Errorf("nodes of updated version should be merged, got %d", patch.NodeCount())
	}
	root, _ := patch.TryRoot(3)
	if root.Node.(*LeafNode).LeafIndex != 2 {
		t.Errorf("the root of the later patch should win")
	}
}

func TestPatchSet_UpdatingVersionBelowNewVersionsPanics(t *testing.T) {
	patch := leafPatch(Manifest{VersionCount: 2}, 1, insertOperation, 1)
	expectPanic(t, func() {
		_ = patch.ApplyPatch(leafPatch(Manifest{VersionCount: 2}, 1, updateOperation, 2))
	})
}

func TestPatchSet_MergingDifferentUpdatedVersionsPanics(t *testing.T) {
	patch := leafPatch(Manifest{VersionCount: 2}, 1, updateOperation, 1)
	expectPanic(t, func() {
		_ = patch.ApplyPatch(leafPatch(Manifest{VersionCount: 3}, 2, updateOperation, 2))
	})
}

func TestPatchSet_TruncationDropsVersions(t *testing.T) {
	patch := leafPatch(Manifest{VersionCount: 1}, 0, insertOperation, 1)
	second := leafPatch(Manifest{VersionCount: 2}, 1, insertOperation, 2)
	second.staleKeysByVersion[1] = []NodeKey{EmptyNibbles.WithVersion(0)}
	_ = patch.ApplyPatch(second)

	_ = patch.ApplyPatch(FromManifest(Manifest{VersionCount: 1}))
	if got := patch.Versions(); !slices.Equal(got, []uint64{0}) {
		t.Errorf("unexpected versions after truncation: %v", got)
	}
	if _, found, _ := patch.MinStaleKeyVersion(); found {
		t.Errorf("stale keys of truncated versions should be dropped")
	}
}

func TestPatchSet_PruneRemovesNodesAndStaleKeys(t *testing.T) {
	patch := leafPatch(Manifest{VersionCount: 1}, 0, insertOperation, 1, 2)
	patch.staleKeysByVersion[0] = []NodeKey{NewNibbles(testKey(1), 64).WithVersion(0)}
	patch.staleKeysByVersion[1] = []NodeKey{EmptyNibbles.WithVersion(0)}

	if version, found, _ := patch.MinStaleKeyVersion(); !found || version != 0 {
		t.Errorf("unexpected min stale key version: %d, %t", version, found)
	}
	err := patch.Prune(&PrunePatchSet{
		PrunedNodeKeys:               []NodeKey{NewNibbles(testKey(1), 64).WithVersion(0), EmptyNibbles.WithVersion(0)},
		DeletedStaleKeyVersionsStart: 0,
		DeletedStaleKeyVersionsEnd:   1,
	})
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if patch.NodeCount() != 1 {
		t.Errorf("unexpected node count: %d", patch.NodeCount())
	}
	if root, _ := patch.TryRoot(0); root != nil {
		t.Errorf("root should be pruned")
	}
	if version, found, _ := patch.MinStaleKeyVersion(); !found || version != 1 {
		t.Errorf("unexpected min stale key version: %d, %t", version, found)
	}
}

func TestPatched_ReadsCombinePatchAndDatabase(t *testing.T) {
	inner := NewPatchSet()
	tree := openTestTree(t, inner)
	extend(t, tree, []TreeEntry{{Key: testKey(1), Value: testValue(1), LeafIndex: 1}})

	patched := NewPatched(inner)
	patchedTree := openTestTree(t, patched)
	out := extend(t, patchedTree, []TreeEntry{{Key: testKey(2), Value: testValue(2), LeafIndex: 2}})
	if patched.Patch() == nil {
		t.Fatalf("changes should be kept in the patch")
	}
	if _, found, _ := tree.RootHash(1); found {
		t.Errorf("inner database should not be modified before flushing")
	}
	verify(t, patchedTree, 1)

	if err := patched.Flush(); err != nil {
		t.Fatalf("failed to flush: %v", err)
	}
	if got, _, _ := tree.RootHash(1); got != out.RootHash {
		t.Errorf("unexpected root hash after flush: got %v, want %v", got, out.RootHash)
	}
	if patched.IntoInner() != inner {
		t.Errorf("unexpected inner database")
	}
}

func TestPatched_ResetDiscardsChanges(t *testing.T) {
	patched := NewPatched(NewPatchSet())
	tree := openTestTree(t, patched)
	extend(t, tree, []TreeEntry{{Key: testKey(1), Value: testValue(1), LeafIndex: 1}})
	patched.Reset()
	if _, found, _ := tree.LatestVersion(); found {
		t.Errorf("changes should be discarded")
	}
}

func TestPatched_IntoInnerWithUncommittedChangesPanics(t *testing.T) {
	patched := NewPatched(NewPatchSet())
	extend(t, openTestTree(t, patched), nil)
	expectPanic(t, func() { patched.IntoInner() })
}
