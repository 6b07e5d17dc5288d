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

import "fmt"

// Node is a node of the tree, either a *LeafNode or an *InternalNode.
type Node interface {
	// IsLeaf is true for leaf nodes.
	IsLeaf() bool
	// Hash computes the hash of the subtree rooted by this node, located
	// level binary levels below the root.
	Hash(h Hasher, level int) ValueHash
	// Clone creates a deep copy of this node.
	Clone() Node
}

// LeafNode is a node holding a single tree entry.
type LeafNode struct {
	FullKey   Key
	ValueHash ValueHash
	LeafIndex uint64
}

// newLeafNode creates a leaf holding the given entry.
func newLeafNode(entry TreeEntry) *LeafNode {
	return &LeafNode{
		FullKey:   entry.Key,
		ValueHash: entry.Value,
		LeafIndex: entry.LeafIndex,
	}
}

func (n *LeafNode) IsLeaf() bool {
	return true
}

func (n *LeafNode) Clone() Node {
	res := *n
	return &res
}

// entry converts the leaf into the entry it holds.
func (n *LeafNode) entry() TreeEntry {
	return TreeEntry{Key: n.FullKey, Value: n.ValueHash, LeafIndex: n.LeafIndex}
}

func (n *LeafNode) String() string {
	return fmt.Sprintf("Leaf{key: %v, value: %v, index: %d}", n.FullKey, n.ValueHash, n.LeafIndex)
}

// ChildRef is the reference of an internal node to one of its children.
type ChildRef struct {
	Hash    ValueHash
	Version uint64
	IsLeaf  bool
}

func leafRef(version uint64) ChildRef {
	return ChildRef{Version: version, IsLeaf: true}
}

func internalRef(version uint64) ChildRef {
	return ChildRef{Version: version}
}

// InternalNode is a node with up to 16 children, one per nibble. It spans
// 4 binary levels of the tree.
type InternalNode struct {
	children SmallMap[ChildRef]
}

func (n *InternalNode) IsLeaf() bool {
	return false
}

func (n *InternalNode) Clone() Node {
	return &InternalNode{children: n.children.Clone()}
}

// ChildCount returns the number of children.
func (n *InternalNode) ChildCount() int {
	return n.children.Len()
}

// Child returns the reference to the child at the given nibble.
func (n *InternalNode) Child(nibble byte) (ChildRef, bool) {
	return n.children.Get(nibble)
}

// SetChild inserts or replaces the reference to the child at the given nibble.
func (n *InternalNode) SetChild(nibble byte, ref ChildRef) {
	n.children.Set(nibble, ref)
}

// ForEachChild visits all children in ascending nibble order.
func (n *InternalNode) ForEachChild(f func(nibble byte, ref ChildRef)) {
	n.children.ForEach(f)
}

// lastChild returns the child with the greatest nibble.
func (n *InternalNode) lastChild() (byte, ChildRef) {
	nibble, ref, ok := n.children.Last()
	if !ok {
		panic("internal node without children")
	}
	return nibble, ref
}

func (n *InternalNode) childRef(nibble byte) *ChildRef {
	return n.children.GetPtr(nibble)
}

// maxChildVersion returns the greatest version of all children.
func (n *InternalNode) maxChildVersion() (uint64, bool) {
	var res uint64
	n.ForEachChild(func(_ byte, ref ChildRef) {
		if ref.Version > res {
			res = ref.Version
		}
	})
	return res, n.ChildCount() > 0
}

func (n *InternalNode) String() string {
	return fmt.Sprintf("Internal{children: %x}", n.children.Keys())
}

// Root is the root of a tree version. A root with a nil Node represents an
// empty tree.
type Root struct {
	LeafCount uint64
	Node      Node
}

// IsEmpty is true for the root of an empty tree.
func (r *Root) IsEmpty() bool {
	return r.Node == nil
}

// Hash computes the root hash of the tree.
func (r *Root) Hash(h Hasher) ValueHash {
	if r.IsEmpty() {
		return EmptyTreeHash(h)
	}
	return r.Node.Hash(h, 0)
}

func (r *Root) clone() *Root {
	if r.IsEmpty() {
		return &Root{}
	}
	return &Root{LeafCount: r.LeafCount, Node: r.Node.Clone()}
}

// TreeEntry is an entry of the tree. The leaf index is assigned by the caller
// and is 1-based; entries with a zero leaf index and value denote missing keys.
type TreeEntry struct {
	Key       Key
	Value     ValueHash
	LeafIndex uint64
}

// EmptyTreeEntry returns the entry reported for a key missing in the tree.
func EmptyTreeEntry(key Key) TreeEntry {
	return TreeEntry{Key: key}
}

// IsEmpty is true for entries of missing keys.
func (e TreeEntry) IsEmpty() bool {
	return e.LeafIndex == 0
}

// TreeInstruction is either a read of a key or a write of an entry.
type TreeInstruction struct {
	Entry   TreeEntry
	IsWrite bool
}

// ReadInstruction creates an instruction reading the value of a key.
func ReadInstruction(key Key) TreeInstruction {
	return TreeInstruction{Entry: TreeEntry{Key: key}}
}

// WriteInstruction creates an instruction writing the given entry.
func WriteInstruction(entry TreeEntry) TreeInstruction {
	return TreeInstruction{Entry: entry, IsWrite: true}
}

// TreeLogEntryKind enumerates the outcomes of tree instructions.
type TreeLogEntryKind int

const (
	// Inserted means that a new leaf was created.
	Inserted TreeLogEntryKind = iota
	// Updated means that the value of an existing leaf was replaced.
	Updated
	// Read means that an existing leaf was read.
	Read
	// ReadMissingKey means that a key without a leaf was read.
	ReadMissingKey
)

func (k TreeLogEntryKind) String() string {
	switch k {
	case Inserted:
		return "Inserted"
	case Updated:
		return "Updated"
	case Read:
		return "Read"
	case ReadMissingKey:
		return "ReadMissingKey"
	}
	return fmt.Sprintf("TreeLogEntryKind(%d)", int(k))
}

// TreeLogEntry describes the effect of a single tree instruction. For Updated
// entries Value is the previous value; for Read entries it is the read value.
type TreeLogEntry struct {
	Kind      TreeLogEntryKind
	LeafIndex uint64
	Value     ValueHash
}

func (e TreeLogEntry) String() string {
	switch e.Kind {
	case Updated, Read:
		return fmt.Sprintf("%v{index: %d, value: %v}", e.Kind, e.LeafIndex, e.Value)
	}
	return e.Kind.String()
}

// BlockOutput is the result of extending the tree with a batch of entries.
type BlockOutput struct {
	RootHash  ValueHash
	LeafCount uint64
	Logs      []TreeLogEntry
}

// TreeLogEntryWithProof is a log entry together with the Merkle path of the
// affected key and the root hash after applying the instruction.
type TreeLogEntryWithProof struct {
	Base       TreeLogEntry
	MerklePath []ValueHash
	RootHash   ValueHash
}

// BlockOutputWithProofs is the result of extending the tree with proofs.
type BlockOutputWithProofs struct {
	Logs      []TreeLogEntryWithProof
	LeafCount uint64
}

// RootHash returns the root hash after the last instruction, or nil if there
// are no instructions.
func (o *BlockOutputWithProofs) RootHash() *ValueHash {
	if len(o.Logs) == 0 {
		return nil
	}
	res := o.Logs[len(o.Logs)-1].RootHash
	return &res
}

// TreeEntryWithProof is a tree entry with its Merkle path.
type TreeEntryWithProof struct {
	Base       TreeEntry
	MerklePath []ValueHash
}

// Verify checks that the entry with its Merkle path produces the trusted
// root hash.
func (e *TreeEntryWithProof) Verify(h Hasher, key Key, trustedRootHash ValueHash) error {
	if e.Base.LeafIndex == 0 && e.Base.Value != (ValueHash{}) {
		return fmt.Errorf("invalid missing key proof for %v: value must be zero, got %v", key, e.Base.Value)
	}
	if e.Base.Key != key {
		return fmt.Errorf("proof is for key %v, not %v", e.Base.Key, key)
	}
	if len(e.MerklePath) > TreeDepth {
		return fmt.Errorf("merkle path too long: %d", len(e.MerklePath))
	}
	if rootHash := foldMerklePath(h, e.MerklePath, e.Base); rootHash != trustedRootHash {
		return fmt.Errorf("root hash mismatch: got %v, want %v", rootHash, trustedRootHash)
	}
	return nil
}
