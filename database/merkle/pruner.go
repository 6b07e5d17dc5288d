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
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTargetPrunedKeyCount = 500_000
	defaultPollInterval         = time.Minute
)

// PruningStats describes a single pruning step.
type PruningStats struct {
	TargetRetainedVersion uint64
	PrunedKeyCount        int
	// Stale key records of versions in [DeletedStaleKeyVersionsStart,
	// DeletedStaleKeyVersionsEnd) were consumed.
	DeletedStaleKeyVersionsStart uint64
	DeletedStaleKeyVersionsEnd   uint64
}

// PrunerHandle controls a running pruner.
type PrunerHandle struct {
	stop    chan struct{}
	once    sync.Once
	aborted atomic.Bool
}

// Abort stops the pruner at its next check point.
func (h *PrunerHandle) Abort() {
	h.aborted.Store(true)
	h.once.Do(func() { close(h.stop) })
}

// Release gives up control of the pruner without aborting it explicitly.
// The pruner still stops, but logs a warning. Releasing an aborted handle
// has no effect.
func (h *PrunerHandle) Release() {
	h.once.Do(func() { close(h.stop) })
}

// Pruner removes nodes that are no longer reachable from the retained
// versions of the tree. Versions older than the latest version minus
// pastVersionsToKeep are not retained.
type Pruner struct {
	db                   PruneDatabase
	pastVersionsToKeep   uint64
	targetPrunedKeyCount int
	pollInterval         time.Duration
	handle               *PrunerHandle
	log                  *zap.Logger
	metrics              Metrics
}

// PrunerOption customizes a Pruner.
type PrunerOption func(*Pruner)

// WithPrunerLogger sets the logger of the pruner.
func WithPrunerLogger(log *zap.Logger) PrunerOption {
	return func(p *Pruner) {
		p.log = log
	}
}

// WithPrunerMetrics sets the metrics sink of the pruner.
func WithPrunerMetrics(metrics Metrics) PrunerOption {
	return func(p *Pruner) {
		p.metrics = metrics
	}
}

// NewPruner creates a pruner for the given database and a handle to stop it.
func NewPruner(db PruneDatabase, pastVersionsToKeep uint64, opts ...PrunerOption) (*Pruner, *PrunerHandle) {
	handle := &PrunerHandle{stop: make(chan struct{})}
	res := &Pruner{
		db:                   db,
		pastVersionsToKeep:   pastVersionsToKeep,
		targetPrunedKeyCount: defaultTargetPrunedKeyCount,
		pollInterval:         defaultPollInterval,
		handle:               handle,
		log:                  zap.NewNop(),
		metrics:              &mockMetrics{},
	}
	for _, opt := range opts {
		opt(res)
	}
	return res, handle
}

// SetTargetPrunedKeyCount sets the number of keys after which a pruning step
// is cut off. Steps may remove more keys, since stale keys of a version are
// never split.
func (p *Pruner) SetTargetPrunedKeyCount(count int) {
	p.targetPrunedKeyCount = count
}

// SetPollInterval sets the sleep time between steps without work.
func (p *Pruner) SetPollInterval(interval time.Duration) {
	p.pollInterval = interval
}

func (p *Pruner) targetRetainedVersion() (uint64, bool, error) {
	manifest, err := p.db.TryManifest()
	if err != nil || manifest == nil {
		return 0, false, err
	}
	latest, found := manifest.latestVersion()
	if !found || latest < p.pastVersionsToKeep {
		return 0, false, nil
	}
	return latest - p.pastVersionsToKeep, true, nil
}

// RunOnce performs a single pruning step. It returns nil stats if there was
// nothing to prune; hasMoreWork is set if the step was cut off.
func (p *Pruner) RunOnce() (stats *PruningStats, hasMoreWork bool, err error) {
	target, found, err := p.targetRetainedVersion()
	if err != nil || !found {
		return nil, false, err
	}
	minVersion, found, err := p.db.MinStaleKeyVersion()
	if err != nil || !found {
		return nil, false, err
	}

	var prunedKeys []NodeKey
	maxVersion := minVersion
	for version := minVersion; version <= target; version++ {
		maxVersion = version
		keys, err := p.db.StaleKeys(version)
		if err != nil {
			return nil, false, err
		}
		prunedKeys = append(prunedKeys, keys...)
		if len(prunedKeys) >= p.targetPrunedKeyCount {
			break
		}
	}
	if len(prunedKeys) == 0 {
		return nil, false, nil
	}

	patch := &PrunePatchSet{
		PrunedNodeKeys:               prunedKeys,
		DeletedStaleKeyVersionsStart: minVersion,
		DeletedStaleKeyVersionsEnd:   maxVersion + 1,
	}
	if err := p.db.Prune(patch); err != nil {
		return nil, false, err
	}

	stats = &PruningStats{
		TargetRetainedVersion:        target,
		PrunedKeyCount:               len(prunedKeys),
		DeletedStaleKeyVersionsStart: patch.DeletedStaleKeyVersionsStart,
		DeletedStaleKeyVersionsEnd:   patch.DeletedStaleKeyVersionsEnd,
	}
	p.metrics.PrunerTargetVersion(target)
	p.metrics.KeysPruned(stats.PrunedKeyCount)
	p.metrics.StaleKeyVersionsDeleted(stats.DeletedStaleKeyVersionsEnd - stats.DeletedStaleKeyVersionsStart)
	p.log.Debug("pruned stale tree nodes",
		zap.Uint64("target_retained_version", target),
		zap.Int("pruned_keys", stats.PrunedKeyCount),
		zap.Uint64("stale_versions_start", stats.DeletedStaleKeyVersionsStart),
		zap.Uint64("stale_versions_end", stats.DeletedStaleKeyVersionsEnd))
	return stats, target+1 > patch.DeletedStaleKeyVersionsEnd, nil
}

// Run prunes the database until the handle is aborted or released. Steps
// that were cut off are followed up immediately; otherwise the pruner waits
// for the poll interval.
func (p *Pruner) Run() error {
	p.log.Info("started tree pruner",
		zap.Uint64("past_versions_to_keep", p.pastVersionsToKeep),
		zap.Int("target_pruned_key_count", p.targetPrunedKeyCount),
		zap.Duration("poll_interval", p.pollInterval))
	for {
		stats, hasMoreWork, err := p.RunOnce()
		if err != nil {
			return err
		}
		timeout := p.pollInterval
		if stats == nil {
			p.log.Debug("no pruning required per specified policies; waiting")
		} else if hasMoreWork {
			timeout = 0
		}
		if p.wait(timeout) {
			return nil
		}
	}
}

// wait sleeps for the given time and reports whether the pruner should stop.
func (p *Pruner) wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-p.handle.stop:
	}
	if !p.handle.aborted.Load() {
		p.log.Warn("pruner handle was released without calling Abort; exiting")
	}
	return true
}
