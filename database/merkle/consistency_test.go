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
	"errors"
	"math/rand"
	"testing"
)

// buildSingleVersionTree creates a tree with a single version so that all
// nodes are stored in the patch of version 0.
func buildSingleVersionTree(t *testing.T, entries []TreeEntry) (*PatchSet, *Tree) {
	t.Helper()
	db := NewPatchSet()
	tree := openTestTree(t, db)
	extend(t, tree, entries)
	return db, tree
}

func expectConsistencyError(t *testing.T, err error, kinds ...ConsistencyErrorKind) {
	t.Helper()
	var consistencyErr *ConsistencyError
	if !errors.As(err, &consistencyErr) {
		t.Fatalf("expected a consistency error, got %v", err)
	}
	for _, kind := range kinds {
		if consistencyErr.Kind == kind {
			return
		}
	}
	t.Errorf("unexpected consistency error: %v", consistencyErr)
}

func TestConsistency_ValidTreePasses(t *testing.T) {
	_, tree := buildSingleVersionTree(t, generateEntries(rand.New(rand.NewSource(40)), 500, 1))
	verify(t, tree, 0)
}

func TestConsistency_MissingVersionIsReported(t *testing.T) {
	_, tree := buildSingleVersionTree(t, generateEntries(rand.New(rand.NewSource(41)), 5, 1))
	expectConsistencyError(t, tree.VerifyConsistency(1, false), MissingVersion)
}

func TestConsistency_CorruptedHashIsDetected(t *testing.T) {
	db, tree := buildSingleVersionTree(t, generateEntries(rand.New(rand.NewSource(42)), 100, 1))
	corrupted := false
	for _, node := range db.patchesByVersion[0].nodes {
		if internal, ok := node.(*InternalNode); ok {
			nibble, _ := internal.lastChild()
			internal.childRef(nibble).Hash[5] ^= 1
			corrupted = true
			break
		}
	}
	if !corrupted {
		t.Fatalf("no internal node found")
	}
	expectConsistencyError(t, tree.VerifyConsistency(0, false), HashMismatch)
}

func TestConsistency_MissingNodeIsDetected(t *testing.T) {
	db, tree := buildSingleVersionTree(t, generateEntries(rand.New(rand.NewSource(43)), 100, 1))
	for key, node := range db.patchesByVersion[0].nodes {
		if node.IsLeaf() {
			delete(db.patchesByVersion[0].nodes, key)
			break
		}
	}
	expectConsistencyError(t, tree.VerifyConsistency(0, false), MissingNode)
}

func TestConsistency_LeafIndexViolationsAreDetected(t *testing.T) {
	tests := map[string]struct {
		indices []uint64
		kinds   []ConsistencyErrorKind
	}{
		"zero":      {[]uint64{1, 0, 2}, []ConsistencyErrorKind{ZeroIndex}},
		"duplicate": {[]uint64{1, 2, 2}, []ConsistencyErrorKind{DuplicateLeafIndex}},
		"overflow":  {[]uint64{1, 2, 7}, []ConsistencyErrorKind{LeafIndexOverflow}},
	}
	for name, test := range tests {
		test := test
		t.Run(name, func(t *testing.T) {
			var entries []TreeEntry
			for i, index := range test.indices {
				entries = append(entries, TreeEntry{Key: testKey(uint64(i) + 1), Value: testValue(uint64(i)), LeafIndex: index})
			}
			_, tree := buildSingleVersionTree(t, entries)
			if err := tree.VerifyConsistency(0, false); err != nil {
				t.Errorf("indices should not be checked: %v", err)
			}
			expectConsistencyError(t, tree.VerifyConsistency(0, true), test.kinds...)
		})
	}
}

func TestConsistency_LeafCountMismatchIsDetected(t *testing.T) {
	db, tree := buildSingleVersionTree(t, generateEntries(rand.New(rand.NewSource(44)), 10, 1))
	db.patchesByVersion[0].root.LeafCount = 11
	expectConsistencyError(t, tree.VerifyConsistency(0, true), LeafCountMismatch)
}

func TestConsistency_KeyVersionMismatchIsDetected(t *testing.T) {
	db, tree := buildSingleVersionTree(t, generateEntries(rand.New(rand.NewSource(45)), 100, 1))
	modified := false
	for _, node := range db.patchesByVersion[0].nodes {
		internal, ok := node.(*InternalNode)
		if !ok {
			continue
		}
		internal.ForEachChild(func(nibble byte, ref ChildRef) {
			if ref.IsLeaf && !modified {
				internal.childRef(nibble).Version = 3
				modified = true
			}
		})
		if modified {
			break
		}
	}
	if !modified {
		t.Fatalf("no internal node with leaf children found")
	}
	expectConsistencyError(t, tree.VerifyConsistency(0, false), KeyVersionMismatch, MissingNode)
}

func TestConsistency_EmptyInternalNodeIsDetected(t *testing.T) {
	db, tree := buildSingleVersionTree(t, generateEntries(rand.New(rand.NewSource(46)), 10, 1))
	db.patchesByVersion[0].root.Node = &InternalNode{}
	expectConsistencyError(t, tree.VerifyConsistency(0, false), EmptyInternalNode)

	// The same node is rejected with a decoding error kind when read from storage.
	_, err := deserializeInternal((&InternalNode{}).serialize(nil))
	expectDeserializeError(t, err, NoChildren)
	if got, want := err.Kind.String(), "internal node without children"; got != want {
		t.Errorf("unexpected kind description: got %q, want %q", got, want)
	}
}

func TestConsistency_DeserializationErrorsAreReported(t *testing.T) {
	err := asConsistencyError(newDeserializeError(UnexpectedEOF, ""))
	expectConsistencyError(t, err, Deserialize)
	var deserializeErr *DeserializeError
	if !errors.As(err, &deserializeErr) {
		t.Errorf("the decoding error should be wrapped")
	}
}

func TestAtomicBitSet_SetReportsPreviousState(t *testing.T) {
	set := newAtomicBitSet(130)
	for _, index := range []uint64{0, 63, 64, 129} {
		if set.set(index) {
			t.Errorf("bit %d should not be set", index)
		}
		if !set.set(index) {
			t.Errorf("bit %d should be set", index)
		}
	}
	if set.set(1) {
		t.Errorf("bit 1 should not be set")
	}
}
