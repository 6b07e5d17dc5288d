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

import "math/bits"

// internalNodeDepth is the number of binary levels spanned by an internal node.
const internalNodeDepth = 4

// Hash folds the leaf hash with empty subtrees up to the given level.
func (n *LeafNode) Hash(h Hasher, level int) ValueHash {
	hash := h.HashLeaf(n.ValueHash, n.LeafIndex)
	for depth := 0; depth < TreeDepth-level; depth++ {
		empty := h.EmptySubtreeHash(depth)
		if n.FullKey.Bit(depth) {
			hash = h.HashBranch(empty, hash)
		} else {
			hash = h.HashBranch(hash, empty)
		}
	}
	return hash
}

// Hash folds the child hashes through the 4 binary levels of the node.
func (n *InternalNode) Hash(h Hasher, level int) ValueHash {
	if level > TreeDepth-internalNodeDepth {
		panic("internal node below the last internal level")
	}
	var hashes [16]ValueHash
	var present [16]bool
	n.ForEachChild(func(nibble byte, ref ChildRef) {
		hashes[nibble] = ref.Hash
		present[nibble] = true
	})
	for levelInNode := internalNodeDepth; levelInNode > 0; levelInNode-- {
		depth := TreeDepth - level - levelInNode
		for i := 0; i < 1<<(levelInNode-1); i++ {
			hashes[i], present[i] = hashOptionalBranch(h, depth, hashes[2*i], present[2*i], hashes[2*i+1], present[2*i+1])
		}
	}
	if !present[0] {
		return h.EmptySubtreeHash(TreeDepth - level)
	}
	return hashes[0]
}

// internalNodeCache retains the binary subtree hashes within an internal node
// so that replacing a single child hash only needs 4 branch hashes. Entries
// are laid out as a heap: index 1 is the node itself, indices 16..31 its
// children.
type internalNodeCache struct {
	level   int
	hashes  [32]ValueHash
	present [32]bool
}

func newInternalNodeCache(h Hasher, node *InternalNode, level int) *internalNodeCache {
	c := &internalNodeCache{level: level}
	node.ForEachChild(func(nibble byte, ref ChildRef) {
		c.hashes[16+int(nibble)] = ref.Hash
		c.present[16+int(nibble)] = true
	})
	for i := 15; i > 0; i-- {
		c.recompute(h, i)
	}
	return c
}

// depth returns the depth of the subtree at the given heap index.
func (c *internalNodeCache) depth(index int) int {
	return TreeDepth - c.level - (bits.Len(uint(index)) - 1)
}

func (c *internalNodeCache) recompute(h Hasher, index int) {
	l, r := 2*index, 2*index+1
	c.hashes[index], c.present[index] = hashOptionalBranch(h, c.depth(l), c.hashes[l], c.present[l], c.hashes[r], c.present[r])
}

// update replaces the hash of a child and returns the new node hash. The
// sibling hashes on the way up are appended to path, if provided.
func (c *internalNodeCache) update(h Hasher, nibble byte, hash ValueHash, present bool, path *merklePath) ValueHash {
	i := 16 + int(nibble)
	c.hashes[i], c.present[i] = hash, present
	for ; i > 1; i /= 2 {
		if path != nil {
			path.push(h, c.hashes[i^1], c.present[i^1])
		}
		c.recompute(h, i/2)
	}
	return c.hash(h)
}

func (c *internalNodeCache) hash(h Hasher) ValueHash {
	if !c.present[1] {
		return h.EmptySubtreeHash(TreeDepth - c.level)
	}
	return c.hashes[1]
}

// merklePath collects sibling hashes from the leaf level upwards. Leading
// empty subtrees are omitted.
type merklePath struct {
	depth  int
	hashes []ValueHash
}

// push appends the sibling at the next depth.
func (p *merklePath) push(h Hasher, hash ValueHash, present bool) {
	if present {
		p.hashes = append(p.hashes, hash)
	} else if len(p.hashes) > 0 {
		p.hashes = append(p.hashes, h.EmptySubtreeHash(p.depth))
	}
	p.depth++
}

// pushEmpty appends empty siblings until the path reaches the given depth.
func (p *merklePath) pushEmpty(h Hasher, depth int) {
	for p.depth < depth {
		p.push(h, ValueHash{}, false)
	}
}
