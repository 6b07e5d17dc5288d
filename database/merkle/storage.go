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
	"fmt"

	"golang.org/x/exp/slices"
)

// updater applies entries to a working set.
type updater struct {
	ws     *workingSet
	hasher Hasher
	// withProofs keeps the child hashes of moved leaves up to date, which is
	// required to produce Merkle paths while the batch is applied.
	withProofs bool
}

// insert writes an entry into the working set, starting the search at the
// given ancestor of the key. It returns the log of the operation and the
// position of the written leaf.
func (u *updater) insert(entry TreeEntry, from Nibbles) (TreeLogEntry, Nibbles) {
	version := u.ws.version
	outcome := u.ws.traverse(entry.Key, from)

	var log TreeLogEntry
	var leafNibbles Nibbles
	switch outcome.kind {
	case leafMatch:
		log = TreeLogEntry{Kind: Updated, LeafIndex: outcome.leaf.LeafIndex, Value: outcome.leaf.ValueHash}
		leafNibbles = outcome.nibbles
		u.ws.insert(leafNibbles, newLeafNode(entry))

	case leafMismatch:
		log = TreeLogEntry{Kind: Inserted}
		if parent, last, ok := outcome.nibbles.SplitLast(); ok {
			u.ws.childRef(parent, last).IsLeaf = false
		}
		moved := outcome.leaf
		count := outcome.nibbles.Count()
		var node *InternalNode
		for {
			movedNibble, newNibble := moved.FullKey.Nibble(count), entry.Key.Nibble(count)
			node = &InternalNode{}
			if movedNibble == newNibble {
				node.SetChild(newNibble, internalRef(version))
				u.ws.insert(NewNibbles(entry.Key, count), node)
				count++
				continue
			}
			node.SetChild(newNibble, leafRef(version))
			node.SetChild(movedNibble, leafRef(version))
			u.ws.insert(NewNibbles(entry.Key, count), node)
			break
		}
		leafNibbles = NewNibbles(entry.Key, count+1)
		u.ws.insert(leafNibbles, newLeafNode(entry))
		u.ws.insert(NewNibbles(moved.FullKey, count+1), moved)
		if u.withProofs {
			node.childRef(moved.FullKey.Nibble(count)).Hash = moved.Hash(u.hasher, 4*(count+1))
		}

	case missingChild:
		log = TreeLogEntry{Kind: Inserted}
		leafNibbles = outcome.nibbles
		if parent, last, ok := leafNibbles.SplitLast(); ok {
			u.ws.mutableInternal(parent).SetChild(last, leafRef(version))
		}
		u.ws.insert(leafNibbles, newLeafNode(entry))
	}

	u.ws.bumpAncestorVersions(leafNibbles)
	return log, leafNibbles
}

// storage loads the nodes needed by a batch and turns the working set into a
// patch. All changes of a batch stay in the working set until finalize, so a
// failed batch leaves the database untouched.
type storage struct {
	db        Database
	hasher    Hasher
	manifest  Manifest
	leafCount uint64
	op        operation
	updater
}

// newStorage prepares the creation of a new version, or an in-place update of
// an existing version if createNewVersion is false.
func newStorage(db Database, h Hasher, version uint64, createNewVersion bool) (*storage, error) {
	manifest, err := db.TryManifest()
	if err != nil {
		return nil, err
	}
	if manifest == nil {
		manifest = &Manifest{}
	}

	op := insertOperation
	rootVersion, hasRoot := version, true
	if createNewVersion {
		rootVersion, hasRoot = version-1, version > 0
	} else {
		op = updateOperation
	}

	res := &storage{
		db:       db,
		hasher:   h,
		manifest: *manifest,
		op:       op,
		updater:  updater{ws: newWorkingSet(version), hasher: h},
	}
	if !hasRoot {
		return res, nil
	}
	root, err := db.TryRoot(rootVersion)
	if err != nil {
		return nil, err
	}
	if root != nil && !root.IsEmpty() {
		res.ws.load(EmptyNibbles, root.Node, rootVersion)
		res.leafCount = root.LeafCount
	}
	return res, nil
}

// sortedIndices returns the indices of the keys in ascending key order.
// Indices of equal keys keep their relative order.
func sortedIndices(keys []Key) []int {
	res := make([]int, len(keys))
	for i := range res {
		res[i] = i
	}
	slices.SortStableFunc(res, func(a, b int) int {
		return keys[a].Compare(keys[b])
	})
	return res
}

// loadAncestors loads the nodes on the paths to the given keys level by
// level, with a single batched database read per level. For each key it
// returns the longest prefix that is present in the working set afterwards.
func (s *storage) loadAncestors(keys []Key, order []int) ([]Nibbles, error) {
	res := make([]Nibbles, len(keys))
	if _, ok := s.ws.get(EmptyNibbles).(*InternalNode); !ok {
		return res, nil
	}

	active := order
	for level := 0; len(active) > 0; level++ {
		var requests []NodeLookup
		var next []int
		var lastRequested Nibbles
		for _, i := range active {
			key := keys[i]
			parent, ok := s.ws.get(NewNibbles(key, level)).(*InternalNode)
			if !ok {
				continue
			}
			ref, found := parent.Child(key.Nibble(level))
			if !found {
				continue
			}
			child := NewNibbles(key, level+1)
			res[i] = child
			if !ref.IsLeaf {
				next = append(next, i)
			}
			if s.ws.contains(child) || (len(requests) > 0 && lastRequested == child) {
				continue
			}
			requests = append(requests, NodeLookup{Key: child.WithVersion(ref.Version), IsLeaf: ref.IsLeaf})
			lastRequested = child
		}

		if len(requests) > 0 {
			nodes, err := s.db.TreeNodes(requests)
			if err != nil {
				return nil, err
			}
			for i, node := range nodes {
				key := requests[i].Key
				if node == nil {
					panic(fmt.Sprintf("inconsistent tree: node %v referenced by its parent is missing", key))
				}
				s.ws.load(key.Nibbles, node, key.Version)
			}
		}
		active = next
	}
	return res, nil
}

// extend applies the entries in key order and returns the logs in the order
// of the entries.
func (s *storage) extend(entries []TreeEntry) ([]TreeLogEntry, error) {
	keys := make([]Key, len(entries))
	for i, entry := range entries {
		keys[i] = entry.Key
	}
	order := sortedIndices(keys)
	prefixes, err := s.loadAncestors(keys, order)
	if err != nil {
		return nil, err
	}

	logs := make([]TreeLogEntry, len(entries))
	for _, i := range order {
		log, _ := s.insert(entries[i], prefixes[i])
		if log.Kind == Inserted {
			s.leafCount++
		}
		logs[i] = log
	}
	return logs, nil
}

// loadGreatestKey loads the path to the leaf with the greatest key and
// returns the leaf with its position. The flag is false for an empty tree.
func (s *storage) loadGreatestKey() (*LeafNode, Nibbles, bool, error) {
	nibbles := EmptyNibbles
	for {
		switch node := s.ws.get(nibbles).(type) {
		case nil:
			return nil, nibbles, false, nil
		case *LeafNode:
			return node, nibbles, true, nil
		case *InternalNode:
			nibble, ref := node.lastChild()
			child, _ := nibbles.Push(nibble)
			if !s.ws.contains(child) {
				loaded, err := s.db.TryTreeNode(child.WithVersion(ref.Version), ref.IsLeaf)
				if err != nil {
					return nil, nibbles, false, err
				}
				if loaded == nil {
					panic(fmt.Sprintf("inconsistent tree: node %v referenced by its parent is missing", child.WithVersion(ref.Version)))
				}
				s.ws.load(child, loaded, ref.Version)
			}
			nibbles = child
		}
	}
}

// extendLinear appends entries with keys greater than all keys in the tree.
// Only the path to the previously inserted leaf needs to be loaded, since
// every new leaf is placed next to it.
func (s *storage) extendLinear(entries []TreeEntry) error {
	leaf, prevNibbles, found, err := s.loadGreatestKey()
	if err != nil {
		return err
	}
	var prevKey Key
	if found {
		prevKey = leaf.FullKey
	}
	for _, entry := range entries {
		if found && entry.Key.Compare(prevKey) <= 0 {
			panic(fmt.Sprintf("linear recovery requires increasing keys, got %v after %v", entry.Key, prevKey))
		}
		prevKey, found = entry.Key, true

		keyNibbles := NewNibbles(entry.Key, prevNibbles.Count())
		_, prevNibbles = s.insert(entry, prevNibbles.CommonPrefix(keyNibbles))
		s.leafCount++
	}
	return nil
}

// finalize turns the working set into a patch and returns the root hash.
func (s *storage) finalize() (ValueHash, *PatchSet) {
	manifest := s.manifest.clone()
	if s.op == insertOperation {
		manifest.VersionCount = s.ws.version + 1
	}
	if manifest.Tags == nil {
		manifest.Tags = NewTreeTags(s.hasher)
	}
	return s.ws.finalize(s.hasher, manifest, s.leafCount, s.op)
}
