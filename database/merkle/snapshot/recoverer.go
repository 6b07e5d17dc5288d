// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package snapshot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sin7Y/ola-os-sub000/common"
	"github.com/Sin7Y/ola-os-sub000/database/merkle"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultChunkSize is the desired number of entries per recovered chunk.
	// Chunks must be defined in the same way for the entire recovery, so the
	// value must not change while a recovery is in progress.
	DefaultChunkSize = 200_000

	defaultConcurrency     = 8
	defaultMaxFetchRetries = 5
)

const (
	ErrRootHashMismatch = common.ConstError("root hash of recovered tree differs from snapshot")
	ErrCorruptedChunk   = common.ConstError("snapshot chunk is corrupted")
	ErrVersionMismatch  = common.ConstError("snapshot version differs from recovered tree version")
)

// Parameters describe the snapshot a tree is recovered from.
type Parameters struct {
	Version          uint64
	ExpectedRootHash merkle.ValueHash
	EntryCount       uint64
}

// Source provides the entries of a snapshot.
type Source interface {
	// Parameters returns the parameters of the snapshot, or nil if there is
	// no snapshot to recover from.
	Parameters(ctx context.Context) (*Parameters, error)
	// ChunkStarts returns the entry with the smallest key of every range, or
	// nil for ranges without entries.
	ChunkStarts(ctx context.Context, ranges []KeyRange) ([]*merkle.TreeEntry, error)
	// Entries returns all entries with keys in the range, ordered by key.
	Entries(ctx context.Context, rng KeyRange) ([]merkle.TreeEntry, error)
}

// Events receives progress notifications of a recovery.
type Events interface {
	RecoveryStarted(chunkCount, recoveredChunkCount int)
	ChunkRecovered(rng KeyRange)
}

type noEvents struct{}

func (noEvents) RecoveryStarted(int, int) {}
func (noEvents) ChunkRecovered(KeyRange)  {}

type options struct {
	chunkSize       uint64
	concurrency     int
	maxFetchRetries uint64
	retryInterval   time.Duration
	log             *zap.Logger
	events          Events
	treeOptions     []merkle.Option
}

// Option configures a Recoverer.
type Option func(*options)

// WithChunkSize sets the desired number of entries per chunk.
func WithChunkSize(size uint64) Option {
	return func(o *options) {
		o.chunkSize = size
	}
}

// WithConcurrency limits the number of chunks fetched at the same time.
func WithConcurrency(concurrency int) Option {
	return func(o *options) {
		o.concurrency = concurrency
	}
}

// WithMaxFetchRetries sets how often a failed chunk fetch is retried, with
// exponentially growing pauses starting at the given interval.
func WithMaxFetchRetries(retries uint64, interval time.Duration) Option {
	return func(o *options) {
		o.maxFetchRetries = retries
		o.retryInterval = interval
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

func WithEvents(events Events) Option {
	return func(o *options) {
		o.events = events
	}
}

// WithTreeOptions sets the options used for opening the recovered tree.
func WithTreeOptions(opts ...merkle.Option) Option {
	return func(o *options) {
		o.treeOptions = opts
	}
}

// Recoverer restores a tree from a snapshot source in chunks. Chunks are
// fetched concurrently and applied one at a time. An interrupted recovery
// continues with the chunks not recovered yet.
type Recoverer struct {
	source Source
	opts   options
}

func NewRecoverer(source Source, opts ...Option) *Recoverer {
	o := options{
		chunkSize:       DefaultChunkSize,
		concurrency:     defaultConcurrency,
		maxFetchRetries: defaultMaxFetchRetries,
		retryInterval:   100 * time.Millisecond,
		log:             zap.NewNop(),
		events:          noEvents{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.concurrency < 1 {
		o.concurrency = 1
	}
	return &Recoverer{source: source, opts: o}
}

// EnsureReady returns a tree ready for normal operation. An empty database
// is recovered from the snapshot of the source if there is one; a
// recovery in progress is resumed. If ctx is cancelled during recovery, the
// context error is returned and the recovery can be resumed later.
func (r *Recoverer) EnsureReady(ctx context.Context, db merkle.PruneDatabase) (*merkle.Tree, error) {
	manifest, err := db.TryManifest()
	if err != nil {
		return nil, fmt.Errorf("failed to read tree manifest: %w", err)
	}
	isRecovering := manifest != nil && manifest.Tags != nil && manifest.Tags.IsRecovering
	if manifest != nil && manifest.VersionCount > 0 && !isRecovering {
		return merkle.Open(db, r.opts.treeOptions...)
	}

	params, err := r.source.Parameters(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot parameters: %w", err)
	}
	if params == nil {
		if isRecovering {
			return nil, fmt.Errorf("tree is being recovered, but there is no snapshot to recover from")
		}
		return merkle.Open(db, r.opts.treeOptions...)
	}
	if isRecovering && manifest.VersionCount-1 != params.Version {
		return nil, fmt.Errorf("%w: snapshot version %d, recovered version %d",
			ErrVersionMismatch, params.Version, manifest.VersionCount-1)
	}
	if isRecovering {
		r.opts.log.Info("resuming tree recovery", zap.Uint64("version", params.Version))
	} else {
		r.opts.log.Info("starting tree recovery", zap.Uint64("version", params.Version))
	}

	recovery, err := merkle.OpenRecovery(db, params.Version, r.opts.treeOptions...)
	if err != nil {
		return nil, err
	}
	return r.Recover(ctx, recovery, params)
}

// Recover applies all chunks of the snapshot not recovered yet, checks the
// resulting root hash and finalizes the recovery.
func (r *Recoverer) Recover(ctx context.Context, recovery *merkle.Recovery, params *Parameters) (*merkle.Tree, error) {
	log := r.opts.log
	if recovery.RecoveredVersion() != params.Version {
		return nil, fmt.Errorf("%w: snapshot version %d, recovered version %d",
			ErrVersionMismatch, params.Version, recovery.RecoveredVersion())
	}
	count := chunkCount(params.EntryCount, r.opts.chunkSize)
	chunks := SplitKeySpace(count)
	log.Info("recovering tree from snapshot",
		zap.Uint64("version", params.Version),
		zap.Uint64("entries", params.EntryCount),
		zap.Int("chunks", count))

	remaining, err := r.filterChunks(ctx, recovery, chunks)
	if err != nil {
		return nil, err
	}
	r.opts.events.RecoveryStarted(count, count-len(remaining))
	log.Info("filtered recovered chunks", zap.Int("remaining", len(remaining)), zap.Int("chunks", count))

	var (
		treeLock  sync.Mutex
		recovered atomic.Int64
		sem       = semaphore.NewWeighted(int64(r.opts.concurrency))
		start     = time.Now()
	)
	group, groupCtx := errgroup.WithContext(ctx)
	for _, chunk := range remaining {
		chunk := chunk
		group.Go(func() error {
			if err := sem.Acquire(groupCtx, 1); err != nil {
				return nil
			}
			defer sem.Release(1)
			applied, err := r.recoverChunk(groupCtx, &treeLock, recovery, chunk)
			if err != nil || !applied {
				return err
			}
			r.opts.events.ChunkRecovered(chunk)
			log.Debug("recovered chunk",
				zap.Stringer("range", chunk),
				zap.Int64("recovered", recovered.Add(1)),
				zap.Int("remaining", len(remaining)))
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		log.Info("tree recovery interrupted", zap.Int64("recovered_chunks", recovered.Load()))
		return nil, err
	}

	rootHash, err := recovery.RootHash()
	if err != nil {
		return nil, err
	}
	if rootHash != params.ExpectedRootHash {
		return nil, fmt.Errorf("%w: got %v, want %v", ErrRootHashMismatch, rootHash, params.ExpectedRootHash)
	}
	log.Info("recovered all chunks", zap.Duration("time", time.Since(start)))
	return recovery.Finalize()
}

// filterChunks removes chunks whose first entry is already present in the
// tree. A recovered first entry must match the snapshot.
func (r *Recoverer) filterChunks(ctx context.Context, recovery *merkle.Recovery, chunks []KeyRange) ([]KeyRange, error) {
	starts, err := r.source.ChunkStarts(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chunk starts: %w", err)
	}
	if len(starts) != len(chunks) {
		return nil, fmt.Errorf("unexpected number of chunk starts: got %d, want %d", len(starts), len(chunks))
	}
	var (
		keys    []merkle.Key
		indices []int
	)
	for i, start := range starts {
		if start != nil {
			keys = append(keys, start.Key)
			indices = append(indices, i)
		}
	}
	present, err := recovery.Entries(keys)
	if err != nil {
		return nil, err
	}

	var res []KeyRange
	for j, entry := range present {
		i := indices[j]
		if entry.IsEmpty() {
			res = append(res, chunks[i])
			continue
		}
		if expected := starts[i]; entry.Value != expected.Value || entry.LeafIndex != expected.LeafIndex {
			return nil, fmt.Errorf("%w: entry for key %v differs between snapshot (%v, %d) and tree (%v, %d)",
				ErrCorruptedChunk, expected.Key, expected.Value, expected.LeafIndex, entry.Value, entry.LeafIndex)
		}
	}
	return res, nil
}

// recoverChunk fetches the entries of a chunk and applies them. It reports
// false if the recovery was stopped before the chunk was applied.
func (r *Recoverer) recoverChunk(ctx context.Context, treeLock *sync.Mutex, recovery *merkle.Recovery, chunk KeyRange) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}
	entries, err := r.fetch(ctx, chunk)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("failed to fetch chunk %v: %w", chunk, err)
	}
	if ctx.Err() != nil {
		return false, nil
	}

	// Keys must be distinct, otherwise a non-final value may end up in the tree.
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Key == entries[i].Key {
			return false, fmt.Errorf("%w: duplicate key %v in chunk %v", ErrCorruptedChunk, entries[i].Key, chunk)
		}
	}
	for _, entry := range entries {
		if !chunk.Contains(entry.Key) {
			return false, fmt.Errorf("%w: key %v is outside of chunk %v", ErrCorruptedChunk, entry.Key, chunk)
		}
	}

	treeLock.Lock()
	defer treeLock.Unlock()
	if ctx.Err() != nil {
		return false, nil
	}
	if err := recovery.ExtendRandom(entries); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Recoverer) fetch(ctx context.Context, chunk KeyRange) ([]merkle.TreeEntry, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.opts.retryInterval
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, r.opts.maxFetchRetries), ctx)
	return backoff.RetryNotifyWithData(func() ([]merkle.TreeEntry, error) {
		return r.source.Entries(ctx, chunk)
	}, retry, func(err error, wait time.Duration) {
		r.opts.log.Warn("failed to fetch snapshot chunk, retrying",
			zap.Stringer("range", chunk), zap.Duration("wait", wait), zap.Error(err))
	})
}
