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

//go:generate mockgen -source database.go -destination database_mocks.go -package merkle

import "fmt"

// NodeLookup identifies a node to be loaded. The kind of the node is needed
// for decoding it.
type NodeLookup struct {
	Key    NodeKey
	IsLeaf bool
}

// Database provides versioned access to persisted tree nodes. Implementations
// must be safe for concurrent reads. Returned nodes are owned by the caller.
type Database interface {
	// TryManifest returns the tree manifest or nil if there is none.
	TryManifest() (*Manifest, error)
	// TryRoot returns the root of the given version or nil if there is none.
	TryRoot(version uint64) (*Root, error)
	// TryTreeNode returns the node with the given key or nil if it is missing.
	TryTreeNode(key NodeKey, isLeaf bool) (Node, error)
	// TreeNodes loads a batch of nodes. The result has an element for each
	// requested key, which is nil for missing nodes.
	TreeNodes(keys []NodeLookup) ([]Node, error)
	// ApplyPatch atomically persists all changes of the given patch.
	ApplyPatch(patch *PatchSet) error
}

// PruneDatabase is a database supporting the removal of stale nodes.
type PruneDatabase interface {
	Database
	// MinStaleKeyVersion returns the smallest version with recorded stale
	// keys; the flag is false if no stale keys are recorded.
	MinStaleKeyVersion() (uint64, bool, error)
	// StaleKeys returns the keys of nodes that became stale in the given version.
	StaleKeys(version uint64) ([]NodeKey, error)
	// Prune removes the given nodes and stale key records.
	Prune(patch *PrunePatchSet) error
}

// PrunePatchSet lists the nodes removed by a pruning step. Stale key records
// of versions in [DeletedStaleKeyVersionsStart, DeletedStaleKeyVersionsEnd)
// are removed as well.
type PrunePatchSet struct {
	PrunedNodeKeys               []NodeKey
	DeletedStaleKeyVersionsStart uint64
	DeletedStaleKeyVersionsEnd   uint64
}

func (p *PrunePatchSet) coversStaleKeyVersion(version uint64) bool {
	return p.DeletedStaleKeyVersionsStart <= version && version < p.DeletedStaleKeyVersionsEnd
}

// MustManifest returns the manifest of the database and panics on
// deserialization errors.
func MustManifest(db Database) *Manifest {
	manifest, err := db.TryManifest()
	if err != nil {
		panic(fmt.Sprintf("failed to read tree manifest: %v", err))
	}
	return manifest
}

// MustRoot returns the root of the given version and panics on
// deserialization errors.
func MustRoot(db Database, version uint64) *Root {
	root, err := db.TryRoot(version)
	if err != nil {
		panic(fmt.Sprintf("failed to read root at version %d: %v", version, err))
	}
	return root
}

// MustTreeNode returns the node with the given key and panics on
// deserialization errors.
func MustTreeNode(db Database, key NodeKey, isLeaf bool) Node {
	node, err := db.TryTreeNode(key, isLeaf)
	if err != nil {
		panic(fmt.Sprintf("failed to read node %v: %v", key, err))
	}
	return node
}
