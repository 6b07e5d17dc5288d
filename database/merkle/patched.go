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

// Patched is a database overlaying uncommitted changes over another database.
type Patched[DB Database] struct {
	inner DB
	patch *PatchSet
}

// NewPatched wraps the given database.
func NewPatched[DB Database](db DB) *Patched[DB] {
	return &Patched[DB]{inner: db}
}

// Patch returns the uncommitted changes, or nil if there are none.
func (p *Patched[DB]) Patch() *PatchSet {
	return p.patch
}

// lookupPatch returns the node from the patch. The flag is true if the patch
// is final for the node's version, so the inner database need not be queried.
func (p *Patched[DB]) lookupPatch(key NodeKey) (Node, bool) {
	if p.patch == nil {
		return nil, false
	}
	if p.patch.isNewVersion(key.Version) {
		return p.patch.lookup(key), true
	}
	if p.patch.isUpdatedVersion(key.Version) {
		return p.patch.lookup(key), false
	}
	return nil, false
}

func (p *Patched[DB]) TryManifest() (*Manifest, error) {
	if p.patch != nil {
		return p.patch.TryManifest()
	}
	return p.inner.TryManifest()
}

func (p *Patched[DB]) TryRoot(version uint64) (*Root, error) {
	if p.patch != nil {
		if p.patch.isNewVersion(version) {
			return p.patch.TryRoot(version)
		}
		if p.patch.isUpdatedVersion(version) {
			if root, _ := p.patch.TryRoot(version); root != nil {
				return root, nil
			}
		}
	}
	return p.inner.TryRoot(version)
}

func (p *Patched[DB]) TryTreeNode(key NodeKey, isLeaf bool) (Node, error) {
	node, final := p.lookupPatch(key)
	if node != nil {
		return node.Clone(), nil
	}
	if final {
		return nil, nil
	}
	return p.inner.TryTreeNode(key, isLeaf)
}

func (p *Patched[DB]) TreeNodes(keys []NodeLookup) ([]Node, error) {
	if p.patch == nil {
		return p.inner.TreeNodes(keys)
	}
	res := make([]Node, len(keys))
	var dbKeys []NodeLookup
	var dbIndices []int
	for i, key := range keys {
		node, final := p.lookupPatch(key.Key)
		switch {
		case node != nil:
			res[i] = node.Clone()
		case !final:
			dbKeys = append(dbKeys, key)
			dbIndices = append(dbIndices, i)
		}
	}
	if len(dbKeys) == 0 {
		return res, nil
	}
	nodes, err := p.inner.TreeNodes(dbKeys)
	if err != nil {
		return nil, err
	}
	for i, node := range nodes {
		res[dbIndices[i]] = node
	}
	return res, nil
}

// ApplyPatch merges the patch into the uncommitted changes.
func (p *Patched[DB]) ApplyPatch(patch *PatchSet) error {
	if p.patch == nil {
		p.patch = patch
		return nil
	}
	return p.patch.ApplyPatch(patch)
}

// Flush commits the uncommitted changes to the inner database.
func (p *Patched[DB]) Flush() error {
	if p.patch == nil {
		return nil
	}
	if err := p.inner.ApplyPatch(p.patch); err != nil {
		return err
	}
	p.patch = nil
	return nil
}

// Reset discards the uncommitted changes.
func (p *Patched[DB]) Reset() {
	p.patch = nil
}

// IntoInner returns the inner database. It panics if there are uncommitted
// changes; call Flush or Reset first.
func (p *Patched[DB]) IntoInner() DB {
	if p.patch != nil {
		panic("patched database has uncommitted changes")
	}
	return p.inner
}
