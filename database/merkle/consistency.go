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
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ConsistencyErrorKind enumerates the violations found by VerifyConsistency.
type ConsistencyErrorKind int

const (
	Deserialize ConsistencyErrorKind = iota
	MissingVersion
	MissingRoot
	MissingNode
	TerminalInternalNode
	LeafCountMismatch
	HashMismatch
	FullKeyMismatch
	ZeroIndex
	LeafIndexOverflow
	DuplicateLeafIndex
	EmptyInternalNode
	KeyVersionMismatch
	RootVersionMismatch
)

// ConsistencyError describes a violated tree invariant. Only the fields
// relevant for the kind are set.
type ConsistencyError struct {
	Kind    ConsistencyErrorKind
	Version uint64
	Key     NodeKey
	IsLeaf  bool
	Nibble  byte
	FullKey Key
	// Expected and Actual hold hashes for HashMismatch.
	Expected ValueHash
	Actual   ValueHash
	// Index is the offending leaf index.
	Index uint64
	// ExpectedCount and ActualCount hold leaf counts, ExpectedCount also the
	// leaf count bounding indices for LeafIndexOverflow.
	ExpectedCount uint64
	ActualCount   uint64
	// ExpectedVersion is the maximum child version of an internal node.
	ExpectedVersion uint64
	// Err is the underlying error for Deserialize.
	Err error
}

func (e *ConsistencyError) Error() string {
	switch e.Kind {
	case Deserialize:
		return fmt.Sprintf("failed deserializing node from database: %v", e.Err)
	case MissingVersion:
		return fmt.Sprintf("tree version %d does not exist", e.Version)
	case MissingRoot:
		return fmt.Sprintf("missing root for tree version %d", e.Version)
	case MissingNode:
		if e.IsLeaf {
			return fmt.Sprintf("missing leaf at %v", e.Key)
		}
		return fmt.Sprintf("missing internal node at %v", e.Key)
	case TerminalInternalNode:
		return fmt.Sprintf("internal node at terminal tree level %v", e.Key)
	case LeafCountMismatch:
		return fmt.Sprintf("tree root specifies that tree has %d leaves, but it actually has %d", e.ExpectedCount, e.ActualCount)
	case HashMismatch:
		return fmt.Sprintf("internal node at %v specifies that child hash at %x is %v, but it actually is %v", e.Key, e.Nibble, e.Expected, e.Actual)
	case FullKeyMismatch:
		return fmt.Sprintf("leaf at %v specifies its full key as %v, which doesn't start with the node key", e.Key, e.FullKey)
	case ZeroIndex:
		return fmt.Sprintf("leaf with key %v has zero index, while leaf indices must start with 1", e.FullKey)
	case LeafIndexOverflow:
		return fmt.Sprintf("leaf with key %v has index %d, which is greater than leaf count %d specified at tree root", e.FullKey, e.Index, e.ExpectedCount)
	case DuplicateLeafIndex:
		return fmt.Sprintf("leaf with key %v has same index %d as another key", e.FullKey, e.Index)
	case EmptyInternalNode:
		return fmt.Sprintf("internal node with key %v does not have children", e.Key)
	case KeyVersionMismatch:
		return fmt.Sprintf("internal node with key %v should have version %d (max among child ref versions)", e.Key, e.ExpectedVersion)
	case RootVersionMismatch:
		return fmt.Sprintf("root node should have version >=%d (max among child ref versions)", e.ExpectedVersion)
	}
	return fmt.Sprintf("consistency error of kind %d", int(e.Kind))
}

func (e *ConsistencyError) Unwrap() error {
	return e.Err
}

// asConsistencyError converts decoding failures into consistency errors.
// Other errors are passed through.
func asConsistencyError(err error) error {
	var deserializeErr *DeserializeError
	if errors.As(err, &deserializeErr) {
		return &ConsistencyError{Kind: Deserialize, Err: err}
	}
	return err
}

// parallelVerificationLevels is the number of tree levels whose children are
// verified concurrently.
const parallelVerificationLevels = 2

// VerifyConsistency checks the invariants of the given tree version by
// recomputing all hashes. If validateIndices is set, leaf indices are checked
// to be unique and to cover 1..leaf count. Violations are reported as
// *ConsistencyError.
func (t *Tree) VerifyConsistency(version uint64, validateIndices bool) error {
	manifest, err := t.db.TryManifest()
	if err != nil {
		return asConsistencyError(err)
	}
	if manifest == nil || version >= manifest.VersionCount {
		return &ConsistencyError{Kind: MissingVersion, Version: version}
	}
	root, err := t.db.TryRoot(version)
	if err != nil {
		return asConsistencyError(err)
	}
	if root == nil {
		return &ConsistencyError{Kind: MissingRoot, Version: version}
	}
	if root.IsEmpty() {
		return nil
	}

	var leaves *leafConsistencyData
	if validateIndices {
		leaves = newLeafConsistencyData(root.LeafCount)
	}
	h := newHasherWithStats(t.hasher)
	defer func() { t.metrics.HashedBytes(h.takeHashedBytes()) }()
	if _, err := t.validateNode(h, root.Node, EmptyNibbles.WithVersion(version), leaves); err != nil {
		return err
	}
	if leaves != nil {
		return leaves.validateCount()
	}
	return nil
}

func (t *Tree) validateNode(h Hasher, node Node, key NodeKey, leaves *leafConsistencyData) (ValueHash, error) {
	switch node := node.(type) {
	case *LeafNode:
		if NewNibbles(node.FullKey, key.Nibbles.Count()) != key.Nibbles {
			return ValueHash{}, &ConsistencyError{Kind: FullKeyMismatch, Key: key, FullKey: node.FullKey}
		}
		if leaves != nil {
			if err := leaves.insertLeaf(node); err != nil {
				return ValueHash{}, err
			}
		}

	case *InternalNode:
		expectedVersion, found := node.maxChildVersion()
		if !found {
			return ValueHash{}, &ConsistencyError{Kind: EmptyInternalNode, Key: key}
		}
		if !key.IsRoot() && expectedVersion != key.Version {
			return ValueHash{}, &ConsistencyError{Kind: KeyVersionMismatch, Key: key, ExpectedVersion: expectedVersion}
		}
		if key.IsRoot() && expectedVersion > key.Version {
			return ValueHash{}, &ConsistencyError{Kind: RootVersionMismatch, ExpectedVersion: expectedVersion}
		}

		parallel := key.Nibbles.Count() < parallelVerificationLevels
		var group errgroup.Group
		var err error
		node.ForEachChild(func(nibble byte, ref ChildRef) {
			if parallel {
				group.Go(func() error {
					return t.validateChild(h, key, nibble, ref, leaves)
				})
			} else if err == nil {
				err = t.validateChild(h, key, nibble, ref, leaves)
			}
		})
		if parallel {
			err = group.Wait()
		}
		if err != nil {
			return ValueHash{}, err
		}
	}
	return node.Hash(h, 4*key.Nibbles.Count()), nil
}

func (t *Tree) validateChild(h Hasher, parent NodeKey, nibble byte, ref ChildRef, leaves *leafConsistencyData) error {
	childNibbles, ok := parent.Nibbles.Push(nibble)
	if !ok {
		return &ConsistencyError{Kind: TerminalInternalNode, Key: parent}
	}
	childKey := childNibbles.WithVersion(ref.Version)
	child, err := t.db.TryTreeNode(childKey, ref.IsLeaf)
	if err != nil {
		return asConsistencyError(err)
	}
	if child == nil {
		return &ConsistencyError{Kind: MissingNode, Key: childKey, IsLeaf: ref.IsLeaf}
	}
	hash, err := t.validateNode(h, child, childKey, leaves)
	if err != nil {
		return err
	}
	if hash != ref.Hash {
		return &ConsistencyError{Kind: HashMismatch, Key: parent, Nibble: nibble, Expected: ref.Hash, Actual: hash}
	}
	return nil
}

// leafConsistencyData tracks the leaves seen during verification.
type leafConsistencyData struct {
	expectedLeafCount uint64
	actualLeafCount   atomic.Uint64
	indices           atomicBitSet
}

func newLeafConsistencyData(expectedLeafCount uint64) *leafConsistencyData {
	return &leafConsistencyData{
		expectedLeafCount: expectedLeafCount,
		indices:           newAtomicBitSet(expectedLeafCount),
	}
}

func (d *leafConsistencyData) insertLeaf(leaf *LeafNode) error {
	if leaf.LeafIndex == 0 {
		return &ConsistencyError{Kind: ZeroIndex, FullKey: leaf.FullKey}
	}
	if leaf.LeafIndex > d.expectedLeafCount {
		return &ConsistencyError{Kind: LeafIndexOverflow, FullKey: leaf.FullKey, Index: leaf.LeafIndex, ExpectedCount: d.expectedLeafCount}
	}
	if d.indices.set(leaf.LeafIndex - 1) {
		return &ConsistencyError{Kind: DuplicateLeafIndex, FullKey: leaf.FullKey, Index: leaf.LeafIndex}
	}
	d.actualLeafCount.Add(1)
	return nil
}

func (d *leafConsistencyData) validateCount() error {
	if actual := d.actualLeafCount.Load(); actual != d.expectedLeafCount {
		return &ConsistencyError{Kind: LeafCountMismatch, ExpectedCount: d.expectedLeafCount, ActualCount: actual}
	}
	return nil
}

// atomicBitSet is a fixed-size bit set supporting concurrent updates.
type atomicBitSet struct {
	words []atomic.Uint64
}

func newAtomicBitSet(size uint64) atomicBitSet {
	return atomicBitSet{words: make([]atomic.Uint64, (size+63)/64)}
}

// set sets the bit with the given index and reports whether it was set before.
func (s *atomicBitSet) set(index uint64) bool {
	word := &s.words[index/64]
	mask := uint64(1) << (index % 64)
	for {
		old := word.Load()
		if old&mask != 0 {
			return true
		}
		if word.CompareAndSwap(old, old|mask) {
			return false
		}
	}
}
