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

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// partialPatchSet holds the changes of a single version.
type partialPatchSet struct {
	root  *Root
	nodes map[NodeKey]Node
}

func (p *partialPatchSet) merge(other *partialPatchSet) {
	if other.root != nil {
		p.root = other.root
	}
	for key, node := range other.nodes {
		p.nodes[key] = node
	}
}

// operation distinguishes creating a new version from updating an existing
// one in place, which only happens during recovery.
type operation int

const (
	insertOperation operation = iota
	updateOperation
)

// PatchSet is a collection of in-memory tree changes covering one or more
// versions. It doubles as an in-memory Database.
//
// If an updated version is present, it is lower than all other versions of
// the patch.
type PatchSet struct {
	manifest           Manifest
	patchesByVersion   map[uint64]*partialPatchSet
	updatedVersion     uint64
	hasUpdatedVersion  bool
	staleKeysByVersion map[uint64][]NodeKey
}

// NewPatchSet creates an empty in-memory database.
func NewPatchSet() *PatchSet {
	return FromManifest(Manifest{})
}

func newPatchSet(manifest Manifest, version uint64, root *Root, nodes map[NodeKey]Node, staleKeys []NodeKey, op operation) *PatchSet {
	res := &PatchSet{
		manifest: manifest,
		patchesByVersion: map[uint64]*partialPatchSet{
			version: {root: root, nodes: nodes},
		},
		staleKeysByVersion: map[uint64][]NodeKey{},
	}
	if len(staleKeys) > 0 {
		res.staleKeysByVersion[version] = staleKeys
	}
	if op == updateOperation {
		res.updatedVersion = version
		res.hasUpdatedVersion = true
	}
	return res
}

// FromManifest creates a patch only changing the manifest.
func FromManifest(manifest Manifest) *PatchSet {
	return &PatchSet{
		manifest:           manifest,
		patchesByVersion:   map[uint64]*partialPatchSet{},
		staleKeysByVersion: map[uint64][]NodeKey{},
	}
}

// forEmptyRoot creates a patch setting an empty root for the given version.
// The root of the previous version becomes stale.
func forEmptyRoot(manifest Manifest, version uint64) *PatchSet {
	var staleKeys []NodeKey
	if version > 0 {
		staleKeys = []NodeKey{EmptyNibbles.WithVersion(version - 1)}
	}
	return newPatchSet(manifest, version, &Root{}, map[NodeKey]Node{}, staleKeys, insertOperation)
}

// isNewVersion is true if the patch fully defines the given version, so that
// it is not necessary to consult an underlying database.
func (p *PatchSet) isNewVersion(version uint64) bool {
	if version >= p.manifest.VersionCount {
		return true
	}
	_, found := p.patchesByVersion[version]
	return found && !(p.hasUpdatedVersion && p.updatedVersion == version)
}

func (p *PatchSet) isUpdatedVersion(version uint64) bool {
	return p.hasUpdatedVersion && p.updatedVersion == version
}

func (p *PatchSet) lookup(key NodeKey) Node {
	patch, found := p.patchesByVersion[key.Version]
	if !found {
		return nil
	}
	return patch.nodes[key]
}

// Versions returns the versions covered by this patch in ascending order.
func (p *PatchSet) Versions() []uint64 {
	res := maps.Keys(p.patchesByVersion)
	slices.Sort(res)
	return res
}

// NodeCount returns the total number of nodes in the patch.
func (p *PatchSet) NodeCount() int {
	count := 0
	for _, patch := range p.patchesByVersion {
		count += len(patch.nodes)
	}
	return count
}

func (p *PatchSet) TryManifest() (*Manifest, error) {
	res := p.manifest.clone()
	return &res, nil
}

func (p *PatchSet) TryRoot(version uint64) (*Root, error) {
	patch, found := p.patchesByVersion[version]
	if !found || patch.root == nil {
		return nil, nil
	}
	return patch.root.clone(), nil
}

func (p *PatchSet) TryTreeNode(key NodeKey, isLeaf bool) (Node, error) {
	node := p.lookup(key)
	if node == nil {
		return nil, nil
	}
	if node.IsLeaf() != isLeaf {
		panic(fmt.Sprintf("node %v has unexpected kind, leaf expected: %t", key, isLeaf))
	}
	return node.Clone(), nil
}

func (p *PatchSet) TreeNodes(keys []NodeLookup) ([]Node, error) {
	res := make([]Node, len(keys))
	for i, key := range keys {
		node, err := p.TryTreeNode(key.Key, key.IsLeaf)
		if err != nil {
			return nil, err
		}
		res[i] = node
	}
	return res, nil
}

// ApplyPatch merges the other patch into this one, taking ownership of it.
// Merging panics if it would break the updated version invariant.
func (p *PatchSet) ApplyPatch(other *PatchSet) error {
	if other.hasUpdatedVersion {
		if p.hasUpdatedVersion {
			if p.updatedVersion != other.updatedVersion {
				panic(fmt.Sprintf("cannot merge patches with different updated versions: %d vs %d", p.updatedVersion, other.updatedVersion))
			}
			patch := p.patchesByVersion[p.updatedVersion]
			patch.merge(other.patchesByVersion[other.updatedVersion])
			delete(other.patchesByVersion, other.updatedVersion)
		} else {
			for version := range p.patchesByVersion {
				if version <= other.updatedVersion {
					panic(fmt.Sprintf("cannot update version %d in a patch containing version %d", other.updatedVersion, version))
				}
			}
			p.updatedVersion = other.updatedVersion
			p.hasUpdatedVersion = true
		}
	}

	if newVersionCount := other.manifest.VersionCount; newVersionCount < p.manifest.VersionCount {
		for version := range p.patchesByVersion {
			if version >= newVersionCount {
				delete(p.patchesByVersion, version)
			}
		}
		for version := range p.staleKeysByVersion {
			if version >= newVersionCount {
				delete(p.staleKeysByVersion, version)
			}
		}
		if p.hasUpdatedVersion && p.updatedVersion >= newVersionCount {
			p.hasUpdatedVersion = false
		}
	}
	p.manifest = other.manifest.clone()
	for version, patch := range other.patchesByVersion {
		p.patchesByVersion[version] = patch
	}
	for version, keys := range other.staleKeysByVersion {
		p.staleKeysByVersion[version] = append(p.staleKeysByVersion[version], keys...)
	}
	return nil
}

func (p *PatchSet) MinStaleKeyVersion() (uint64, bool, error) {
	var res uint64
	found := false
	for version, keys := range p.staleKeysByVersion {
		if len(keys) > 0 && (!found || version < res) {
			res = version
			found = true
		}
	}
	return res, found, nil
}

func (p *PatchSet) StaleKeys(version uint64) ([]NodeKey, error) {
	return slices.Clone(p.staleKeysByVersion[version]), nil
}

func (p *PatchSet) Prune(patch *PrunePatchSet) error {
	for _, key := range patch.PrunedNodeKeys {
		partial, found := p.patchesByVersion[key.Version]
		if !found {
			continue
		}
		if key.IsRoot() {
			partial.root = nil
		} else {
			delete(partial.nodes, key)
		}
	}
	for version := range p.staleKeysByVersion {
		if patch.coversStaleKeyVersion(version) {
			delete(p.staleKeysByVersion, version)
		}
	}
	return nil
}
