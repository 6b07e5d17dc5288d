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
	"errors"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	_ Metrics = (*mockMetrics)(nil)
	_ Metrics = (*metrics)(nil)
)

// Metrics receives diagnostic events of the tree, its database and the
// pruner. None of them affect the tree state.
type Metrics interface {
	DatabaseNodeRead(count int)
	DatabaseNodeWrite(count int)
	NodeCacheHit()
	NodeCacheMiss()
	HashedBytes(count uint64)
	BatchApplied(entries int, leafCount uint64)
	KeysPruned(count int)
	StaleKeyVersionsDeleted(count uint64)
	PrunerTargetVersion(version uint64)
}

// mockMetrics keeps counters in memory; it is used if no registerer is given.
type mockMetrics struct {
	nodeReads       atomic.Int64
	nodeWrites      atomic.Int64
	nodeCacheHits   atomic.Int64
	nodeCacheMisses atomic.Int64
	hashedBytes     atomic.Uint64
	appliedEntries  atomic.Int64
	leafCount       atomic.Uint64
	prunedKeys      atomic.Int64
	deletedVersions atomic.Uint64
	prunerTarget    atomic.Uint64
}

func (m *mockMetrics) DatabaseNodeRead(count int) {
	m.nodeReads.Add(int64(count))
}

func (m *mockMetrics) DatabaseNodeWrite(count int) {
	m.nodeWrites.Add(int64(count))
}

func (m *mockMetrics) NodeCacheHit() {
	m.nodeCacheHits.Add(1)
}

func (m *mockMetrics) NodeCacheMiss() {
	m.nodeCacheMisses.Add(1)
}

func (m *mockMetrics) HashedBytes(count uint64) {
	m.hashedBytes.Add(count)
}

func (m *mockMetrics) BatchApplied(entries int, leafCount uint64) {
	m.appliedEntries.Add(int64(entries))
	m.leafCount.Store(leafCount)
}

func (m *mockMetrics) KeysPruned(count int) {
	m.prunedKeys.Add(int64(count))
}

func (m *mockMetrics) StaleKeyVersionsDeleted(count uint64) {
	m.deletedVersions.Add(count)
}

func (m *mockMetrics) PrunerTargetVersion(version uint64) {
	m.prunerTarget.Store(version)
}

type metrics struct {
	nodeRead            prometheus.Counter
	nodeWrite           prometheus.Counter
	nodeCacheHit        prometheus.Counter
	nodeCacheMiss       prometheus.Counter
	hashedBytes         prometheus.Counter
	appliedEntries      prometheus.Counter
	leafCount           prometheus.Gauge
	prunedKeys          prometheus.Counter
	deletedVersions     prometheus.Counter
	prunerTargetVersion prometheus.Gauge
}

// NewMetrics creates metrics registered on the given registerer. With a nil
// registerer, events are only counted in memory.
func NewMetrics(namespace string, reg prometheus.Registerer) (Metrics, error) {
	if reg == nil {
		return &mockMetrics{}, nil
	}
	m := metrics{
		nodeRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_node_read",
			Help:      "cumulative number of tree nodes read from the store",
		}),
		nodeWrite: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_node_write",
			Help:      "cumulative number of tree nodes written to the store",
		}),
		nodeCacheHit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_cache_hit",
			Help:      "cumulative amount of hits on the node cache",
		}),
		nodeCacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_cache_miss",
			Help:      "cumulative amount of misses on the node cache",
		}),
		hashedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hashed_bytes",
			Help:      "cumulative number of bytes hashed while updating the tree",
		}),
		appliedEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "applied_entries",
			Help:      "cumulative number of entries and instructions applied to the tree",
		}),
		leafCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "leaf_count",
			Help:      "number of leaves in the latest tree version",
		}),
		prunedKeys: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pruned_keys",
			Help:      "cumulative number of stale nodes removed by the pruner",
		}),
		deletedVersions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pruned_stale_key_versions",
			Help:      "cumulative number of versions whose stale key records were removed",
		}),
		prunerTargetVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pruner_target_retained_version",
			Help:      "oldest version retained by the last pruning run",
		}),
	}
	err := errors.Join(
		reg.Register(m.nodeRead),
		reg.Register(m.nodeWrite),
		reg.Register(m.nodeCacheHit),
		reg.Register(m.nodeCacheMiss),
		reg.Register(m.hashedBytes),
		reg.Register(m.appliedEntries),
		reg.Register(m.leafCount),
		reg.Register(m.prunedKeys),
		reg.Register(m.deletedVersions),
		reg.Register(m.prunerTargetVersion),
	)
	return &m, err
}

func (m *metrics) DatabaseNodeRead(count int) {
	m.nodeRead.Add(float64(count))
}

func (m *metrics) DatabaseNodeWrite(count int) {
	m.nodeWrite.Add(float64(count))
}

func (m *metrics) NodeCacheHit() {
	m.nodeCacheHit.Inc()
}

func (m *metrics) NodeCacheMiss() {
	m.nodeCacheMiss.Inc()
}

func (m *metrics) HashedBytes(count uint64) {
	m.hashedBytes.Add(float64(count))
}

func (m *metrics) BatchApplied(entries int, leafCount uint64) {
	m.appliedEntries.Add(float64(entries))
	m.leafCount.Set(float64(leafCount))
}

func (m *metrics) KeysPruned(count int) {
	m.prunedKeys.Add(float64(count))
}

func (m *metrics) StaleKeyVersionsDeleted(count uint64) {
	m.deletedVersions.Add(float64(count))
}

func (m *metrics) PrunerTargetVersion(version uint64) {
	m.prunerTargetVersion.Set(float64(version))
}
