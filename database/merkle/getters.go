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

// readStorage prepares a read-only working set for the given version.
func (t *Tree) readStorage(version uint64) (*storage, error) {
	manifest, err := t.db.TryManifest()
	if err != nil {
		return nil, err
	}
	versionCount := uint64(0)
	if manifest != nil {
		versionCount = manifest.VersionCount
	}
	if version >= versionCount {
		return nil, &NoVersionError{MissingVersion: version, VersionCount: versionCount}
	}
	root, err := t.db.TryRoot(version)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, &NoVersionError{MissingVersion: version, VersionCount: versionCount}
	}
	return newStorage(t.db, t.hasher, version, false)
}

// Entries looks up the entries for the given keys in a version of the tree.
// Missing keys are reported as empty entries.
func (t *Tree) Entries(version uint64, keys []Key) ([]TreeEntry, error) {
	s, err := t.readStorage(version)
	if err != nil {
		return nil, err
	}
	prefixes, err := s.loadAncestors(keys, sortedIndices(keys))
	if err != nil {
		return nil, err
	}
	res := make([]TreeEntry, len(keys))
	for i, key := range keys {
		res[i] = s.lookup(key, prefixes[i])
	}
	return res, nil
}

// lookup resolves a key in a working set with the ancestors loaded.
func (s *storage) lookup(key Key, from Nibbles) TreeEntry {
	outcome := s.ws.traverse(key, from)
	if outcome.kind == leafMatch {
		return outcome.leaf.entry()
	}
	return EmptyTreeEntry(key)
}

// EntriesWithProofs looks up the entries for the given keys in a version of
// the tree together with their Merkle paths.
func (t *Tree) EntriesWithProofs(version uint64, keys []Key) ([]TreeEntryWithProof, error) {
	s, err := t.readStorage(version)
	if err != nil {
		return nil, err
	}
	prefixes, err := s.loadAncestors(keys, sortedIndices(keys))
	if err != nil {
		return nil, err
	}
	res := make([]TreeEntryWithProof, len(keys))
	for i, key := range keys {
		out := s.applyWithProof(ReadInstruction(key), prefixes[i], 0)
		entry := EmptyTreeEntry(key)
		if out.log.Kind == Read {
			entry.Value = out.log.Value
			entry.LeafIndex = out.log.LeafIndex
		}
		res[i] = TreeEntryWithProof{Base: entry, MerklePath: out.path.hashes}
	}
	return res, nil
}

// ForEachEntry visits all entries of a version in ascending key order until
// the visitor returns false.
func (t *Tree) ForEachEntry(version uint64, visit func(TreeEntry) bool) error {
	if _, err := t.readStorage(version); err != nil {
		return err
	}
	root, err := t.db.TryRoot(version)
	if err != nil {
		return err
	}
	if root.IsEmpty() {
		return nil
	}
	_, err = t.visitNode(root.Node, EmptyNibbles.WithVersion(version), visit)
	return err
}

func (t *Tree) visitNode(node Node, key NodeKey, visit func(TreeEntry) bool) (bool, error) {
	switch node := node.(type) {
	case *LeafNode:
		return visit(node.entry()), nil
	case *InternalNode:
		var refs []ChildRef
		var nibbles []byte
		node.ForEachChild(func(nibble byte, ref ChildRef) {
			nibbles = append(nibbles, nibble)
			refs = append(refs, ref)
		})
		for i, ref := range refs {
			childNibbles, _ := key.Nibbles.Push(nibbles[i])
			childKey := childNibbles.WithVersion(ref.Version)
			child, err := t.db.TryTreeNode(childKey, ref.IsLeaf)
			if err != nil {
				return false, err
			}
			if child == nil {
				return false, fmt.Errorf("node %v referenced by %v is missing", childKey, key)
			}
			if more, err := t.visitNode(child, childKey, visit); err != nil || !more {
				return false, err
			}
		}
	}
	return true, nil
}
