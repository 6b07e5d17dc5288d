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
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/Sin7Y/ola-os-sub000/common"
)

// ValueHash is the hash of a value stored in the tree, as well as the hash
// of any tree node.
type ValueHash = common.Hash

// Key is the 256-bit key addressing a leaf of the tree.
type Key = common.Key

// TreeDepth is the number of binary levels between the root and a leaf.
const TreeDepth = 256

// Hasher is the hashing scheme used for computing node hashes. A hasher is
// selected once per tree and must be deterministic.
type Hasher interface {
	// Name identifies the hasher; it is persisted in the tree manifest.
	Name() string
	// HashLeaf computes the hash of a leaf with the given value and leaf index.
	HashLeaf(value ValueHash, leafIndex uint64) ValueHash
	// HashBranch computes the hash of a binary node from its children.
	HashBranch(lhs, rhs ValueHash) ValueHash
	// EmptySubtreeHash returns the hash of an empty subtree of the given
	// depth, where depth 0 is an empty leaf.
	EmptySubtreeHash(depth int) ValueHash
}

// EmptyTreeHash returns the root hash of a tree without any entries.
func EmptyTreeHash(h Hasher) ValueHash {
	return h.EmptySubtreeHash(TreeDepth)
}

// hashFunction hashes the concatenation of its arguments.
type hashFunction func(parts ...[]byte) common.Hash

// concatHasher hashes leaves as H(be64(leafIndex) || value) and branches as
// H(lhs || rhs). Empty subtree hashes are computed when the hasher is built.
type concatHasher struct {
	name  string
	hash  hashFunction
	empty [TreeDepth + 1]ValueHash
}

func newConcatHasher(name string, hash hashFunction) *concatHasher {
	h := &concatHasher{name: name, hash: hash}
	h.empty[0] = hash(make([]byte, 40))
	for depth := 1; depth <= TreeDepth; depth++ {
		h.empty[depth] = h.HashBranch(h.empty[depth-1], h.empty[depth-1])
	}
	return h
}

func (h *concatHasher) Name() string {
	return h.name
}

func (h *concatHasher) HashLeaf(value ValueHash, leafIndex uint64) ValueHash {
	var index [8]byte
	binary.BigEndian.PutUint64(index[:], leafIndex)
	return h.hash(index[:], value[:])
}

func (h *concatHasher) HashBranch(lhs, rhs ValueHash) ValueHash {
	return h.hash(lhs[:], rhs[:])
}

func (h *concatHasher) EmptySubtreeHash(depth int) ValueHash {
	return h.empty[depth]
}

// Blake2sHasher is the production hasher based on BLAKE2s-256.
var Blake2sHasher Hasher = newConcatHasher("blake2s256", common.Blake2s256)

// KeccakHasher hashes nodes using Keccak-256.
var KeccakHasher Hasher = newConcatHasher("keccak256", common.Keccak256)

// NoOpHasher produces zero hashes for everything. It is only useful for
// tests exercising the tree structure.
var NoOpHasher Hasher = noOpHasher{}

type noOpHasher struct{}

func (noOpHasher) Name() string {
	return "no_op256"
}

func (noOpHasher) HashLeaf(ValueHash, uint64) ValueHash {
	return ValueHash{}
}

func (noOpHasher) HashBranch(ValueHash, ValueHash) ValueHash {
	return ValueHash{}
}

func (noOpHasher) EmptySubtreeHash(int) ValueHash {
	return ValueHash{}
}

// GetHasher returns the hasher registered under the given name.
func GetHasher(name string) (Hasher, error) {
	for _, h := range []Hasher{Blake2sHasher, KeccakHasher, NoOpHasher} {
		if h.Name() == name {
			return h, nil
		}
	}
	return nil, fmt.Errorf("unknown hasher %q", name)
}

// hasherWithStats counts the number of bytes hashed by the wrapped hasher.
type hasherWithStats struct {
	Hasher
	hashedBytes atomic.Uint64
}

func newHasherWithStats(h Hasher) *hasherWithStats {
	return &hasherWithStats{Hasher: h}
}

func (h *hasherWithStats) HashLeaf(value ValueHash, leafIndex uint64) ValueHash {
	h.hashedBytes.Add(40)
	return h.Hasher.HashLeaf(value, leafIndex)
}

func (h *hasherWithStats) HashBranch(lhs, rhs ValueHash) ValueHash {
	h.hashedBytes.Add(64)
	return h.Hasher.HashBranch(lhs, rhs)
}

// takeHashedBytes returns the number of bytes hashed since the last call.
func (h *hasherWithStats) takeHashedBytes() uint64 {
	return h.hashedBytes.Swap(0)
}

// hashOptionalBranch hashes two optional subtrees of the given depth. The
// result is absent if both subtrees are absent.
func hashOptionalBranch(h Hasher, depth int, lhs ValueHash, hasLhs bool, rhs ValueHash, hasRhs bool) (ValueHash, bool) {
	if !hasLhs && !hasRhs {
		return ValueHash{}, false
	}
	if !hasLhs {
		lhs = h.EmptySubtreeHash(depth)
	}
	if !hasRhs {
		rhs = h.EmptySubtreeHash(depth)
	}
	return h.HashBranch(lhs, rhs), true
}

// foldMerklePath computes the root hash of a tree containing entry, using
// path as the sibling hashes from the bottom up. Missing entries at the
// bottom of the path stand for empty subtrees.
func foldMerklePath(h Hasher, path []ValueHash, entry TreeEntry) ValueHash {
	hash := h.HashLeaf(entry.Value, entry.LeafIndex)
	emptyCount := TreeDepth - len(path)
	for depth := 0; depth < TreeDepth; depth++ {
		var sibling ValueHash
		if depth < emptyCount {
			sibling = h.EmptySubtreeHash(depth)
		} else {
			sibling = path[depth-emptyCount]
		}
		if entry.Key.Bit(depth) {
			hash = h.HashBranch(sibling, hash)
		} else {
			hash = h.HashBranch(hash, sibling)
		}
	}
	return hash
}
