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

// workingNode is a node modified or loaded while building a tree version.
type workingNode struct {
	node Node
	// prevVersion is the version the node was loaded from, if loaded is set.
	prevVersion uint64
	loaded      bool
	modified    bool
}

// workingSet holds the nodes touched by a batch, addressed by their nibbles.
// Internal node hash caches are kept in a side table and may be dropped at
// any time.
type workingSet struct {
	version uint64
	nodes   map[Nibbles]*workingNode
	caches  map[Nibbles]*internalNodeCache
}

func newWorkingSet(version uint64) *workingSet {
	return &workingSet{
		version: version,
		nodes:   map[Nibbles]*workingNode{},
		caches:  map[Nibbles]*internalNodeCache{},
	}
}

// load adds a node that was read from the database at the given version.
func (s *workingSet) load(nibbles Nibbles, node Node, version uint64) {
	s.nodes[nibbles] = &workingNode{node: node, prevVersion: version, loaded: true}
}

func (s *workingSet) contains(nibbles Nibbles) bool {
	_, found := s.nodes[nibbles]
	return found
}

// get returns the node at the given nibbles or nil.
func (s *workingSet) get(nibbles Nibbles) Node {
	if n, found := s.nodes[nibbles]; found {
		return n.node
	}
	return nil
}

// insert places a node at the given nibbles. A replaced node loaded from the
// database keeps its previous version so that it can be marked stale.
func (s *workingSet) insert(nibbles Nibbles, node Node) {
	delete(s.caches, nibbles)
	if existing, found := s.nodes[nibbles]; found {
		existing.node = node
		existing.modified = true
		return
	}
	s.nodes[nibbles] = &workingNode{node: node, modified: true}
}

func (s *workingSet) internal(nibbles Nibbles) *InternalNode {
	node, ok := s.get(nibbles).(*InternalNode)
	if !ok {
		panic(fmt.Sprintf("expected an internal node at %v", nibbles))
	}
	return node
}

// mutableInternal returns the internal node at the given nibbles and marks
// it as modified.
func (s *workingSet) mutableInternal(nibbles Nibbles) *InternalNode {
	node := s.internal(nibbles)
	s.nodes[nibbles].modified = true
	return node
}

// childRef returns the reference of the parent to the given child and marks
// the parent as modified.
func (s *workingSet) childRef(parent Nibbles, nibble byte) *ChildRef {
	ref := s.mutableInternal(parent).childRef(nibble)
	if ref == nil {
		panic(fmt.Sprintf("missing child %x of node %v", nibble, parent))
	}
	return ref
}

// bumpAncestorVersions raises the child ref versions on the path from the
// root to the given node to at least the working version.
func (s *workingSet) bumpAncestorVersions(nibbles Nibbles) {
	for {
		parent, last, ok := nibbles.SplitLast()
		if !ok {
			return
		}
		ref := s.childRef(parent, last)
		if ref.Version < s.version {
			ref.Version = s.version
		}
		nibbles = parent
	}
}

// cache returns the hash cache of the internal node at the given nibbles,
// creating it if necessary.
func (s *workingSet) cache(h Hasher, nibbles Nibbles, node *InternalNode) *internalNodeCache {
	if c, found := s.caches[nibbles]; found {
		return c
	}
	c := newInternalNodeCache(h, node, 4*nibbles.Count())
	s.caches[nibbles] = c
	return c
}

type traverseOutcomeKind int

const (
	leafMatch traverseOutcomeKind = iota
	leafMismatch
	missingChild
)

// traverseOutcome describes where the traversal for a key ended: at a leaf
// for the key, at a leaf for another key, or at an absent child.
type traverseOutcome struct {
	kind    traverseOutcomeKind
	nibbles Nibbles
	leaf    *LeafNode
}

// traverse walks the working set towards the key, starting at the node at
// from, which must be an ancestor of the key present in the set.
func (s *workingSet) traverse(key Key, from Nibbles) traverseOutcome {
	for count := from.Count(); count <= MaxNibbleCount; count++ {
		nibbles := NewNibbles(key, count)
		switch node := s.get(nibbles).(type) {
		case nil:
			return traverseOutcome{kind: missingChild, nibbles: nibbles}
		case *LeafNode:
			if node.FullKey == key {
				return traverseOutcome{kind: leafMatch, nibbles: nibbles, leaf: node}
			}
			return traverseOutcome{kind: leafMismatch, nibbles: nibbles, leaf: node}
		}
	}
	panic(fmt.Sprintf("internal node at full key depth on the path of %v", key))
}

// finalize hashes all modified nodes bottom-up and collects them into a
// patch. Nodes loaded from an older version and rewritten are reported as
// stale. In insert mode the root is always written, since every version
// needs a root.
func (s *workingSet) finalize(h Hasher, manifest Manifest, leafCount uint64, op operation) (ValueHash, *PatchSet) {
	rootNode, found := s.nodes[EmptyNibbles]
	if !found {
		if op == updateOperation {
			return EmptyTreeHash(h), FromManifest(manifest)
		}
		return EmptyTreeHash(h), newPatchSet(manifest, s.version, &Root{}, map[NodeKey]Node{}, nil, op)
	}

	levels := make([][]Nibbles, MaxNibbleCount+1)
	for nibbles, node := range s.nodes {
		if node.modified || nibbles.IsEmpty() {
			levels[nibbles.Count()] = append(levels[nibbles.Count()], nibbles)
		}
	}

	nodes := make(map[NodeKey]Node, len(s.nodes))
	var staleKeys []NodeKey
	var rootHash ValueHash
	for count := MaxNibbleCount; count >= 0; count-- {
		for _, nibbles := range levels[count] {
			current := s.nodes[nibbles]
			hash := current.node.Hash(h, 4*count)
			if current.modified && current.loaded && current.prevVersion != s.version {
				staleKeys = append(staleKeys, nibbles.WithVersion(current.prevVersion))
			}
			if count == 0 {
				rootHash = hash
				continue
			}
			parent, last, _ := nibbles.SplitLast()
			s.internal(parent).childRef(last).Hash = hash
			nodes[nibbles.WithVersion(s.version)] = current.node
		}
	}

	var root *Root
	if rootNode.modified || op == insertOperation {
		root = &Root{LeafCount: leafCount, Node: rootNode.node}
	}
	return rootHash, newPatchSet(manifest, s.version, root, nodes, staleKeys, op)
}
