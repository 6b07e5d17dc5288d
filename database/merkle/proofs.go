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
	"math/bits"

	"golang.org/x/sync/errgroup"
)

// instructionOutput is the result of an instruction applied to a subtree.
// hash and present describe the subtree the instruction was proven up to.
type instructionOutput struct {
	log     TreeLogEntry
	path    merklePath
	hash    ValueHash
	present bool
}

// divergenceDepth returns the depth of the lowest subtree containing both
// keys minus one, i.e. the index of the most significant differing bit.
func divergenceDepth(a, b Key) int {
	for i := range a {
		if diff := a[i] ^ b[i]; diff != 0 {
			return TreeDepth - 1 - (8*i + bits.LeadingZeros8(diff))
		}
	}
	panic("keys are equal")
}

// prove walks from the node at the given nibbles upwards until stopCount
// nibbles remain, updating child hashes and collecting the siblings into
// path. hash and present describe the subtree at the starting nibbles.
func (u *updater) prove(nibbles Nibbles, hash ValueHash, present bool, path *merklePath, stopCount int) (ValueHash, bool) {
	path.pushEmpty(u.hasher, TreeDepth-4*nibbles.Count())
	for nibbles.Count() > stopCount {
		parent, last, _ := nibbles.SplitLast()
		node := u.ws.internal(parent)
		if present {
			node.childRef(last).Hash = hash
		}
		cache := u.ws.cache(u.hasher, parent, node)
		hash = cache.update(u.hasher, last, hash, present, path)
		present = true
		nibbles = parent
	}
	return hash, present
}

// applyWithProof executes an instruction and proves it up to the subtree at
// stopCount nibbles.
func (u *updater) applyWithProof(instruction TreeInstruction, from Nibbles, stopCount int) instructionOutput {
	var res instructionOutput
	key := instruction.Entry.Key
	if instruction.IsWrite {
		log, leafNibbles := u.insert(instruction.Entry, from)
		leaf := u.ws.get(leafNibbles).(*LeafNode)
		res.log = log
		res.hash, res.present = u.prove(leafNibbles, leaf.Hash(u.hasher, 4*leafNibbles.Count()), true, &res.path, stopCount)
		return res
	}

	outcome := u.ws.traverse(key, from)
	switch outcome.kind {
	case leafMatch:
		res.log = TreeLogEntry{Kind: Read, LeafIndex: outcome.leaf.LeafIndex, Value: outcome.leaf.ValueHash}
		leafHash := outcome.leaf.Hash(u.hasher, 4*outcome.nibbles.Count())
		res.hash, res.present = u.prove(outcome.nibbles, leafHash, true, &res.path, stopCount)
	case leafMismatch:
		// The subtree of the other leaf is the only non-empty sibling below
		// the leaf position.
		res.log = TreeLogEntry{Kind: ReadMissingKey}
		depth := divergenceDepth(key, outcome.leaf.FullKey)
		res.path.pushEmpty(u.hasher, depth)
		res.path.push(u.hasher, outcome.leaf.Hash(u.hasher, TreeDepth-depth), true)
		leafHash := outcome.leaf.Hash(u.hasher, 4*outcome.nibbles.Count())
		res.hash, res.present = u.prove(outcome.nibbles, leafHash, true, &res.path, stopCount)
	case missingChild:
		res.log = TreeLogEntry{Kind: ReadMissingKey}
		res.hash, res.present = u.prove(outcome.nibbles, ValueHash{}, false, &res.path, stopCount)
	}
	return res
}

// extendWithProofs applies the instructions in order and returns a log entry
// with proof for each of them.
func (s *storage) extendWithProofs(instructions []TreeInstruction) ([]TreeLogEntryWithProof, error) {
	keys := make([]Key, len(instructions))
	for i, instruction := range instructions {
		keys[i] = instruction.Entry.Key
	}
	prefixes, err := s.loadAncestors(keys, sortedIndices(keys))
	if err != nil {
		return nil, err
	}
	s.withProofs = true

	var logs []TreeLogEntryWithProof
	if _, ok := s.ws.get(EmptyNibbles).(*InternalNode); ok && len(instructions) > 1 {
		logs = s.extendWithProofsInParallel(instructions, prefixes)
	} else {
		logs = s.extendWithProofsSequentially(instructions, prefixes)
	}
	for _, log := range logs {
		if log.Base.Kind == Inserted {
			s.leafCount++
		}
	}
	return logs, nil
}

func (s *storage) extendWithProofsSequentially(instructions []TreeInstruction, prefixes []Nibbles) []TreeLogEntryWithProof {
	logs := make([]TreeLogEntryWithProof, len(instructions))
	for i, instruction := range instructions {
		out := s.applyWithProof(instruction, prefixes[i], 0)
		rootHash := out.hash
		if !out.present {
			rootHash = EmptyTreeHash(s.hasher)
		}
		logs[i] = TreeLogEntryWithProof{Base: out.log, MerklePath: out.path.hashes, RootHash: rootHash}
	}
	return logs
}

// subtreeOutput is the output of an instruction applied to a root subtree
// along with the resulting reference from the root to the subtree.
type subtreeOutput struct {
	instructionOutput
	ref ChildRef
}

// extendWithProofsInParallel splits the working set by the first nibble and
// processes the subtrees of the root concurrently. Each worker operates on
// its own copy of the root. The root hashes are then computed sequentially
// by replaying the subtree hashes in instruction order.
func (s *storage) extendWithProofsInParallel(instructions []TreeInstruction, prefixes []Nibbles) []TreeLogEntryWithProof {
	root := s.ws.nodes[EmptyNibbles]
	rootNode := root.node.(*InternalNode)

	var subtrees [16]*updater
	var subtreeInstructions [16][]int
	for i, instruction := range instructions {
		nibble := instruction.Entry.Key.Nibble(0)
		subtreeInstructions[nibble] = append(subtreeInstructions[nibble], i)
	}
	for nibble := range subtrees {
		if len(subtreeInstructions[nibble]) == 0 {
			continue
		}
		ws := newWorkingSet(s.ws.version)
		ws.nodes[EmptyNibbles] = &workingNode{node: rootNode.Clone()}
		subtrees[nibble] = &updater{ws: ws, hasher: s.hasher, withProofs: true}
	}
	for nibbles, node := range s.ws.nodes {
		if nibbles.IsEmpty() {
			continue
		}
		if subtree := subtrees[nibbles.At(0)]; subtree != nil {
			subtree.ws.nodes[nibbles] = node
		}
	}

	outputs := make([]subtreeOutput, len(instructions))
	var group errgroup.Group
	for nibble, subtree := range subtrees {
		if subtree == nil {
			continue
		}
		nibble, subtree := byte(nibble), subtree
		group.Go(func() error {
			for _, i := range subtreeInstructions[nibble] {
				out := subtree.applyWithProof(instructions[i], prefixes[i], 1)
				outputs[i].instructionOutput = out
				if ref, found := subtree.ws.internal(EmptyNibbles).Child(nibble); found {
					outputs[i].ref = ref
				}
			}
			return nil
		})
	}
	_ = group.Wait()

	for _, subtree := range subtrees {
		if subtree == nil {
			continue
		}
		for nibbles, node := range subtree.ws.nodes {
			if !nibbles.IsEmpty() {
				s.ws.nodes[nibbles] = node
			}
		}
	}

	cache := s.ws.cache(s.hasher, EmptyNibbles, rootNode)
	logs := make([]TreeLogEntryWithProof, len(instructions))
	for i, instruction := range instructions {
		out := &outputs[i]
		nibble := instruction.Entry.Key.Nibble(0)
		if out.present {
			ref := out.ref
			ref.Hash = out.hash
			rootNode.SetChild(nibble, ref)
		}
		if instruction.IsWrite {
			root.modified = true
		}
		rootHash := cache.update(s.hasher, nibble, out.hash, out.present, &out.path)
		logs[i] = TreeLogEntryWithProof{Base: out.log, MerklePath: out.path.hashes, RootHash: rootHash}
	}
	return logs
}
