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

// Recovery restores a tree at a single version from a snapshot of all its
// entries without replaying its history. All nodes created during recovery
// carry the recovered version.
type Recovery struct {
	db               PruneDatabase
	hasher           Hasher
	log              *zap.Logger
	metrics          Metrics
	recoveredVersion uint64
}

// OpenRecovery starts or resumes the recovery of the given version. It
// panics if the database holds a different version or a tree that is not
// being recovered.
func OpenRecovery(db PruneDatabase, recoveredVersion uint64, opts ...Option) (*Recovery, error) {
	o := makeTreeOptions(opts)
	stored, err := db.TryManifest()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree manifest: %w", err)
	}
	var manifest Manifest
	if stored != nil {
		if stored.VersionCount > 0 && stored.VersionCount-1 != recoveredVersion {
			panic(fmt.Sprintf("requested to recover tree version %d, but it is currently being recovered for version %d",
				recoveredVersion, stored.VersionCount-1))
		}
		manifest = stored.clone()
	}
	manifest.VersionCount = recoveredVersion + 1
	if manifest.Tags != nil {
		manifest.Tags.assertConsistency(o.hasher, true)
	} else {
		manifest.Tags = NewTreeTags(o.hasher)
		manifest.Tags.IsRecovering = true
	}
	if err := db.ApplyPatch(FromManifest(manifest)); err != nil {
		return nil, fmt.Errorf("failed to write tree manifest: %w", err)
	}

	o.log.Info("opened tree recovery", zap.Uint64("version", recoveredVersion))
	return &Recovery{
		db:               db,
		hasher:           o.hasher,
		log:              o.log,
		metrics:          o.metrics,
		recoveredVersion: recoveredVersion,
	}, nil
}

// RecoveredVersion returns the version being recovered.
func (r *Recovery) RecoveredVersion() uint64 {
	return r.recoveredVersion
}

// RootHash returns the root hash of the entries recovered so far.
func (r *Recovery) RootHash() (ValueHash, error) {
	root, err := r.db.TryRoot(r.recoveredVersion)
	if err != nil {
		return ValueHash{}, err
	}
	if root == nil {
		return EmptyTreeHash(r.hasher), nil
	}
	return root.Hash(r.hasher), nil
}

// LastProcessedKey returns the greatest key recovered so far. The flag is
// false if no entries have been recovered.
func (r *Recovery) LastProcessedKey() (Key, bool, error) {
	s, err := newStorage(r.db, r.hasher, r.recoveredVersion, false)
	if err != nil {
		return Key{}, false, err
	}
	leaf, _, found, err := s.loadGreatestKey()
	if err != nil || !found {
		return Key{}, false, err
	}
	return leaf.FullKey, true, nil
}

// Entries looks up recovered entries, e.g. to check whether a chunk of the
// snapshot has already been processed.
func (r *Recovery) Entries(keys []Key) ([]TreeEntry, error) {
	s, err := newStorage(r.db, r.hasher, r.recoveredVersion, false)
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

// ExtendLinear adds entries with keys in ascending order, all greater than
// the keys recovered so far. It panics if the order is violated.
func (r *Recovery) ExtendLinear(entries []TreeEntry) error {
	return r.extend("linear", entries, func(s *storage) error {
		return s.extendLinear(entries)
	})
}

// ExtendRandom adds entries in an arbitrary order.
func (r *Recovery) ExtendRandom(entries []TreeEntry) error {
	return r.extend("random", entries, func(s *storage) error {
		_, err := s.extend(entries)
		return err
	})
}

func (r *Recovery) extend(mode string, entries []TreeEntry, apply func(*storage) error) error {
	start := time.Now()
	h := newHasherWithStats(r.hasher)
	s, err := newStorage(r.db, h, r.recoveredVersion, false)
	if err != nil {
		return err
	}
	if err := apply(s); err != nil {
		return err
	}
	_, patch := s.finalize()
	processed := time.Since(start)
	if err := r.db.ApplyPatch(patch); err != nil {
		return fmt.Errorf("failed to persist recovered entries: %w", err)
	}

	r.metrics.HashedBytes(h.takeHashedBytes())
	r.metrics.BatchApplied(len(entries), s.leafCount)
	r.log.Debug("extended recovered tree",
		zap.String("mode", mode),
		zap.Int("entries", len(entries)),
		zap.Stringer("key_range", keyRange(entries)),
		zap.Duration("processing", processed),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// keyRange renders the key range of a batch of entries sorted by key.
type keyRange []TreeEntry

func (r keyRange) String() string {
	if len(r) == 0 {
		return "(empty)"
	}
	return fmt.Sprintf("%v..=%v", r[0].Key, r[len(r)-1].Key)
}

// Finalize completes the recovery and returns the recovered tree. Stale
// nodes produced during recovery are removed.
func (r *Recovery) Finalize() (*Tree, error) {
	manifest, err := r.db.TryManifest()
	if err != nil {
		return nil, err
	}
	if manifest == nil {
		return nil, fmt.Errorf("tree manifest is missing")
	}

	root, err := r.db.TryRoot(r.recoveredVersion)
	if err != nil {
		return nil, err
	}
	leafCount := uint64(0)
	if root != nil {
		leafCount = root.LeafCount
	} else if err := r.db.ApplyPatch(forEmptyRoot(manifest.clone(), r.recoveredVersion)); err != nil {
		return nil, fmt.Errorf("failed to write empty root: %w", err)
	}

	staleKeys, err := r.db.StaleKeys(r.recoveredVersion)
	if err != nil {
		return nil, err
	}
	err = r.db.Prune(&PrunePatchSet{
		PrunedNodeKeys:               staleKeys,
		DeletedStaleKeyVersionsStart: r.recoveredVersion,
		DeletedStaleKeyVersionsEnd:   r.recoveredVersion + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to prune stale keys: %w", err)
	}

	finalized := manifest.clone()
	if finalized.Tags == nil {
		finalized.Tags = NewTreeTags(r.hasher)
	}
	finalized.Tags.IsRecovering = false
	if err := r.db.ApplyPatch(FromManifest(finalized)); err != nil {
		return nil, fmt.Errorf("failed to finalize tree manifest: %w", err)
	}
	r.log.Info("finalized tree recovery",
		zap.Uint64("version", r.recoveredVersion),
		zap.Uint64("leaf_count", leafCount),
		zap.Int("pruned_stale_keys", len(staleKeys)))

	return Open(r.db, WithHasher(r.hasher), WithLogger(r.log), WithMetrics(r.metrics))
}
