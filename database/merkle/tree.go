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
	"time"

	"go.uber.org/zap"
)

// Tree is a versioned Merkle tree on top of a Database. A tree may be read
// concurrently, while versions must be created by a single writer at a time.
type Tree struct {
	db      Database
	hasher  Hasher
	log     *zap.Logger
	metrics Metrics
}

type treeOptions struct {
	hasher  Hasher
	log     *zap.Logger
	metrics Metrics
}

// Option customizes a Tree or a Recovery.
type Option func(*treeOptions)

// WithHasher sets the hasher used by the tree. The default is Blake2sHasher.
func WithHasher(h Hasher) Option {
	return func(o *treeOptions) {
		o.hasher = h
	}
}

// WithLogger sets the logger of the tree.
func WithLogger(log *zap.Logger) Option {
	return func(o *treeOptions) {
		o.log = log
	}
}

// WithMetrics sets the metrics sink, see NewMetrics.
func WithMetrics(metrics Metrics) Option {
	return func(o *treeOptions) {
		o.metrics = metrics
	}
}

func makeTreeOptions(opts []Option) treeOptions {
	res := treeOptions{
		hasher:  Blake2sHasher,
		log:     zap.NewNop(),
		metrics: &mockMetrics{},
	}
	for _, opt := range opts {
		opt(&res)
	}
	return res
}

// Open creates a tree on top of the given database. It panics if the tags
// stored in the database do not match the configured hasher, or if the
// database holds an unfinished recovery.
func Open(db Database, opts ...Option) (*Tree, error) {
	o := makeTreeOptions(opts)
	manifest, err := db.TryManifest()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree manifest: %w", err)
	}
	if manifest != nil && manifest.Tags != nil {
		manifest.Tags.assertConsistency(o.hasher, false)
	}
	return &Tree{db: db, hasher: o.hasher, log: o.log, metrics: o.metrics}, nil
}

// Database returns the database of the tree.
func (t *Tree) Database() Database {
	return t.db
}

// Hasher returns the hasher of the tree.
func (t *Tree) Hasher() Hasher {
	return t.hasher
}

// RootHash returns the root hash of the given version. The flag is false if
// the version does not exist.
func (t *Tree) RootHash(version uint64) (ValueHash, bool, error) {
	root, err := t.db.TryRoot(version)
	if err != nil || root == nil {
		return ValueHash{}, false, err
	}
	return root.Hash(t.hasher), true, nil
}

// LatestVersion returns the last version of the tree; the flag is false if
// the tree has no versions.
func (t *Tree) LatestVersion() (uint64, bool, error) {
	manifest, err := t.db.TryManifest()
	if err != nil || manifest == nil {
		return 0, false, err
	}
	version, found := manifest.latestVersion()
	return version, found, nil
}

// LatestRootHash returns the root hash of the latest version, or the hash of
// the empty tree if there are no versions.
func (t *Tree) LatestRootHash() (ValueHash, error) {
	version, found, err := t.LatestVersion()
	if err != nil {
		return ValueHash{}, err
	}
	if found {
		hash, found, err := t.RootHash(version)
		if err != nil || found {
			return hash, err
		}
	}
	return EmptyTreeHash(t.hasher), nil
}

// LatestRoot returns the root of the latest version, or an empty root.
func (t *Tree) LatestRoot() (*Root, error) {
	version, found, err := t.LatestVersion()
	if err != nil || !found {
		return &Root{}, err
	}
	root, err := t.db.TryRoot(version)
	if err != nil || root == nil {
		return &Root{}, err
	}
	return root, nil
}

// TruncateRecentVersions removes all versions starting from the given
// version count. The nodes of the removed versions are dropped by the next
// ApplyPatch of the database.
func (t *Tree) TruncateRecentVersions(retainedVersionCount uint64) error {
	manifest, err := t.db.TryManifest()
	if err != nil {
		return err
	}
	if manifest == nil || manifest.VersionCount <= retainedVersionCount {
		return nil
	}
	t.log.Info("truncating tree versions",
		zap.Uint64("version_count", manifest.VersionCount),
		zap.Uint64("retained_version_count", retainedVersionCount))
	updated := manifest.clone()
	updated.VersionCount = retainedVersionCount
	return t.db.ApplyPatch(FromManifest(updated))
}

func (t *Tree) nextVersion() (uint64, error) {
	manifest, err := t.db.TryManifest()
	if err != nil || manifest == nil {
		return 0, err
	}
	return manifest.VersionCount, nil
}

// Extend creates a new version of the tree containing the given entries.
// The version is persisted by a single ApplyPatch call; if loading nodes
// fails, nothing is written.
func (t *Tree) Extend(entries []TreeEntry) (*BlockOutput, error) {
	start := time.Now()
	version, err := t.nextVersion()
	if err != nil {
		return nil, err
	}
	h := newHasherWithStats(t.hasher)
	s, err := newStorage(t.db, h, version, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load tree version %d: %w", version, err)
	}
	logs, err := s.extend(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to load nodes of tree version %d: %w", version, err)
	}
	rootHash, patch := s.finalize()
	if err := t.db.ApplyPatch(patch); err != nil {
		return nil, fmt.Errorf("failed to persist tree version %d: %w", version, err)
	}

	t.metrics.HashedBytes(h.takeHashedBytes())
	t.metrics.BatchApplied(len(entries), s.leafCount)
	t.log.Debug("extended tree",
		zap.Uint64("version", version),
		zap.Int("entries", len(entries)),
		zap.Uint64("leaf_count", s.leafCount),
		zap.Stringer("root_hash", rootHash),
		zap.Duration("elapsed", time.Since(start)))
	return &BlockOutput{RootHash: rootHash, LeafCount: s.leafCount, Logs: logs}, nil
}

// ExtendWithProofs creates a new version of the tree by executing the given
// instructions in order, and produces a Merkle proof for each of them.
func (t *Tree) ExtendWithProofs(instructions []TreeInstruction) (*BlockOutputWithProofs, error) {
	start := time.Now()
	version, err := t.nextVersion()
	if err != nil {
		return nil, err
	}
	h := newHasherWithStats(t.hasher)
	s, err := newStorage(t.db, h, version, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load tree version %d: %w", version, err)
	}
	logs, err := s.extendWithProofs(instructions)
	if err != nil {
		return nil, fmt.Errorf("failed to load nodes of tree version %d: %w", version, err)
	}
	_, patch := s.finalize()
	if err := t.db.ApplyPatch(patch); err != nil {
		return nil, fmt.Errorf("failed to persist tree version %d: %w", version, err)
	}

	t.metrics.HashedBytes(h.takeHashedBytes())
	t.metrics.BatchApplied(len(instructions), s.leafCount)
	t.log.Debug("extended tree with proofs",
		zap.Uint64("version", version),
		zap.Int("instructions", len(instructions)),
		zap.Uint64("leaf_count", s.leafCount),
		zap.Duration("elapsed", time.Since(start)))
	return &BlockOutputWithProofs{Logs: logs, LeafCount: s.leafCount}, nil
}
