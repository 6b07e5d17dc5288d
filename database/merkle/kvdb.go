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
	"errors"
	"fmt"

	"github.com/Sin7Y/ola-os-sub000/backend"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// manifestKey is the store key of the tree manifest. Node keys are longer,
// so it cannot collide with them.
var manifestKey = backend.ToDBKey(backend.TreeKey, nil)

// encodeNodeKey produces version (8 bytes, big-endian) || nibble count || packed nibbles.
func encodeNodeKey(buf []byte, key NodeKey) []byte {
	buf = binary.BigEndian.AppendUint64(buf, key.Version)
	buf = append(buf, byte(key.Nibbles.Count()))
	return append(buf, key.Nibbles.packed()...)
}

func decodeNodeKey(data []byte) (NodeKey, error) {
	if len(data) < 9 {
		return NodeKey{}, fmt.Errorf("node key too short: %x", data)
	}
	nibbles, ok := nibblesFromBytes(data[9:], int(data[8]))
	if !ok {
		return NodeKey{}, fmt.Errorf("malformed node key: %x", data)
	}
	return nibbles.WithVersion(binary.BigEndian.Uint64(data)), nil
}

func nodeDBKey(key NodeKey) []byte {
	return encodeNodeKey(backend.TreeKey.Bytes(), key)
}

func staleVersionPrefix(version uint64) []byte {
	return binary.BigEndian.AppendUint64(backend.StaleKey.Bytes(), version)
}

func staleDBKey(version uint64, key NodeKey) []byte {
	return encodeNodeKey(staleVersionPrefix(version), key)
}

// KVDatabase is the persistent Database implementation, keeping the tree in
// an ordered key-value store. Tree rows live in the backend.TreeKey table
// space; stale keys are recorded in the backend.StaleKey table space.
type KVDatabase struct {
	store   backend.Store
	cache   *lru.Cache[NodeKey, Node]
	metrics Metrics
	log     *zap.Logger
}

// KVOption customizes a KVDatabase.
type KVOption func(*KVDatabase) error

// WithNodeCache enables an LRU cache of decoded nodes with the given capacity.
func WithNodeCache(size int) KVOption {
	return func(db *KVDatabase) error {
		if size <= 0 {
			db.cache = nil
			return nil
		}
		cache, err := lru.New[NodeKey, Node](size)
		if err != nil {
			return err
		}
		db.cache = cache
		return nil
	}
}

// WithDatabaseMetrics reports store accesses to the given metrics.
func WithDatabaseMetrics(metrics Metrics) KVOption {
	return func(db *KVDatabase) error {
		db.metrics = metrics
		return nil
	}
}

// WithDatabaseLogger sets the logger of the database.
func WithDatabaseLogger(log *zap.Logger) KVOption {
	return func(db *KVDatabase) error {
		db.log = log
		return nil
	}
}

// NewKVDatabase creates a tree database on top of the given store.
func NewKVDatabase(store backend.Store, opts ...KVOption) (*KVDatabase, error) {
	db := &KVDatabase{
		store:   store,
		metrics: &mockMetrics{},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(db); err != nil {
			return nil, err
		}
	}
	return db, nil
}

// Close closes the underlying store.
func (db *KVDatabase) Close() error {
	return db.store.Close()
}

func (db *KVDatabase) get(key []byte) ([]byte, error) {
	value, err := db.store.Get(key)
	if errors.Is(err, backend.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

func (db *KVDatabase) TryManifest() (*Manifest, error) {
	data, err := db.get(manifestKey)
	if err != nil || data == nil {
		return nil, err
	}
	manifest, deserializeErr := deserializeManifest(data)
	if deserializeErr != nil {
		return nil, deserializeErr
	}
	return manifest, nil
}

func (db *KVDatabase) TryRoot(version uint64) (*Root, error) {
	data, err := db.get(nodeDBKey(EmptyNibbles.WithVersion(version)))
	if err != nil || data == nil {
		return nil, err
	}
	root, deserializeErr := deserializeRoot(data)
	if deserializeErr != nil {
		return nil, deserializeErr.withContext(ErrorContext{kind: rootContext, version: version})
	}
	return root, nil
}

func (db *KVDatabase) TryTreeNode(key NodeKey, isLeaf bool) (Node, error) {
	if db.cache != nil {
		if node, found := db.cache.Get(key); found {
			db.metrics.NodeCacheHit()
			return node.Clone(), nil
		}
		db.metrics.NodeCacheMiss()
	}
	data, err := db.get(nodeDBKey(key))
	if err != nil || data == nil {
		return nil, err
	}
	db.metrics.DatabaseNodeRead(1)
	node, deserializeErr := deserializeNode(data, isLeaf)
	if deserializeErr != nil {
		return nil, deserializeErr.withContext(ErrorContext{kind: nodeContext, key: key})
	}
	if db.cache != nil {
		db.cache.Add(key, node.Clone())
	}
	return node, nil
}

func (db *KVDatabase) TreeNodes(keys []NodeLookup) ([]Node, error) {
	res := make([]Node, len(keys))
	for i, key := range keys {
		node, err := db.TryTreeNode(key.Key, key.IsLeaf)
		if err != nil {
			return nil, err
		}
		res[i] = node
	}
	return res, nil
}

// ApplyPatch writes all rows of the patch in a single atomic store batch.
// If the patch truncates the tree, rows of removed versions are deleted in
// the same batch.
func (db *KVDatabase) ApplyPatch(patch *PatchSet) error {
	current, err := db.TryManifest()
	if err != nil {
		return err
	}

	var batch backend.Batch
	if current != nil && patch.manifest.VersionCount < current.VersionCount {
		if err := db.deleteVersionsFrom(&batch, patch.manifest.VersionCount); err != nil {
			return err
		}
	}

	batch.Put(manifestKey, patch.manifest.serialize(nil))
	nodeCount := 0
	for _, version := range patch.Versions() {
		partial := patch.patchesByVersion[version]
		if partial.root != nil {
			batch.Put(nodeDBKey(EmptyNibbles.WithVersion(version)), partial.root.serialize(nil))
		}
		for key, node := range partial.nodes {
			batch.Put(nodeDBKey(key), serializeNode(nil, node))
		}
		nodeCount += len(partial.nodes)
	}
	staleVersions := maps.Keys(patch.staleKeysByVersion)
	slices.Sort(staleVersions)
	for _, version := range staleVersions {
		for _, key := range patch.staleKeysByVersion[version] {
			batch.Put(staleDBKey(version, key), nil)
		}
	}

	if err := db.store.Write(&batch); err != nil {
		return fmt.Errorf("failed to write tree patch: %w", err)
	}
	db.metrics.DatabaseNodeWrite(nodeCount)
	if db.cache != nil {
		for _, partial := range patch.patchesByVersion {
			for key, node := range partial.nodes {
				db.cache.Add(key, node.Clone())
			}
		}
	}
	db.log.Debug("applied tree patch",
		zap.Uint64("version_count", patch.manifest.VersionCount),
		zap.Int("nodes", nodeCount),
		zap.Int("operations", batch.Len()))
	return nil
}

// deleteVersionsFrom adds the removal of all rows of versions starting from
// the given one to the batch. Nodes of these versions cannot be referenced by
// older versions.
func (db *KVDatabase) deleteVersionsFrom(batch *backend.Batch, version uint64) error {
	start := binary.BigEndian.AppendUint64(nil, version)
	for _, space := range []backend.TableSpace{backend.TreeKey, backend.StaleKey} {
		err := db.store.Seek(backend.SeekRange{Prefix: space.Bytes(), Start: start}, func(k, _ []byte) bool {
			batch.Delete(slices.Clone(k))
			return true
		})
		if err != nil {
			return fmt.Errorf("failed to collect rows of truncated versions: %w", err)
		}
	}
	if db.cache != nil {
		for _, key := range db.cache.Keys() {
			if key.Version >= version {
				db.cache.Remove(key)
			}
		}
	}
	return nil
}

func (db *KVDatabase) MinStaleKeyVersion() (uint64, bool, error) {
	var version uint64
	found := false
	err := db.store.Seek(backend.SeekRange{Prefix: backend.StaleKey.Bytes()}, func(k, _ []byte) bool {
		if len(k) >= 9 {
			version = binary.BigEndian.Uint64(k[1:9])
			found = true
		}
		return false
	})
	return version, found, err
}

func (db *KVDatabase) StaleKeys(version uint64) ([]NodeKey, error) {
	prefix := staleVersionPrefix(version)
	var res []NodeKey
	var decodeErr error
	err := db.store.Seek(backend.SeekRange{Prefix: prefix}, func(k, _ []byte) bool {
		key, err := decodeNodeKey(k[len(prefix):])
		if err != nil {
			decodeErr = fmt.Errorf("invalid stale key record at version %d: %w", version, err)
			return false
		}
		res = append(res, key)
		return true
	})
	if err != nil {
		return nil, err
	}
	return res, decodeErr
}

func (db *KVDatabase) Prune(patch *PrunePatchSet) error {
	var batch backend.Batch
	for _, key := range patch.PrunedNodeKeys {
		batch.Delete(nodeDBKey(key))
	}
	err := db.store.Seek(backend.SeekRange{
		Prefix: backend.StaleKey.Bytes(),
		Start:  binary.BigEndian.AppendUint64(nil, patch.DeletedStaleKeyVersionsStart),
	}, func(k, _ []byte) bool {
		if len(k) < 9 || binary.BigEndian.Uint64(k[1:9]) >= patch.DeletedStaleKeyVersionsEnd {
			return false
		}
		batch.Delete(slices.Clone(k))
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to collect stale key records: %w", err)
	}
	if err := db.store.Write(&batch); err != nil {
		return fmt.Errorf("failed to prune tree nodes: %w", err)
	}
	if db.cache != nil {
		for _, key := range patch.PrunedNodeKeys {
			db.cache.Remove(key)
		}
	}
	return nil
}
