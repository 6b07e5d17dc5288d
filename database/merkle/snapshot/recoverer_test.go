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
	"errors"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Sin7Y/ola-os-sub000/common"
	"github.com/Sin7Y/ola-os-sub000/database/merkle"
	"go.uber.org/zap/zaptest"
)

// testSource serves a snapshot from a sorted slice of entries.
type testSource struct {
	params  *Parameters
	entries []merkle.TreeEntry

	mu      sync.Mutex
	fetches int
	// onFetch is called before every fetch and may fail it.
	onFetch func(fetch int) error
}

func newTestSource(version uint64, entries []merkle.TreeEntry) *testSource {
	sorted := append([]merkle.TreeEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Key.Compare(sorted[j].Key) < 0
	})
	tree, err := merkle.Open(merkle.NewPatchSet())
	if err != nil {
		panic(err)
	}
	out, err := tree.Extend(entries)
	if err != nil {
		panic(err)
	}
	return &testSource{
		params: &Parameters{
			Version:          version,
			ExpectedRootHash: out.RootHash,
			EntryCount:       uint64(len(entries)),
		},
		entries: sorted,
	}
}

func (s *testSource) Parameters(context.Context) (*Parameters, error) {
	return s.params, nil
}

func (s *testSource) find(key common.Key) int {
	return sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Key.Compare(key) >= 0
	})
}

func (s *testSource) ChunkStarts(_ context.Context, ranges []KeyRange) ([]*merkle.TreeEntry, error) {
	res := make([]*merkle.TreeEntry, len(ranges))
	for i, rng := range ranges {
		if j := s.find(rng.Start); j < len(s.entries) && rng.Contains(s.entries[j].Key) {
			entry := s.entries[j]
			res[i] = &entry
		}
	}
	return res, nil
}

func (s *testSource) Entries(_ context.Context, rng KeyRange) ([]merkle.TreeEntry, error) {
	s.mu.Lock()
	s.fetches++
	fetch := s.fetches
	s.mu.Unlock()
	if s.onFetch != nil {
		if err := s.onFetch(fetch); err != nil {
			return nil, err
		}
	}
	var res []merkle.TreeEntry
	for i := s.find(rng.Start); i < len(s.entries) && rng.Contains(s.entries[i].Key); i++ {
		res = append(res, s.entries[i])
	}
	return res, nil
}

type recordingEvents struct {
	mu             sync.Mutex
	chunkCount     int
	recoveredCount int
	chunks         []KeyRange
}

func (e *recordingEvents) RecoveryStarted(chunkCount, recoveredChunkCount int) {
	e.chunkCount = chunkCount
	e.recoveredCount = recoveredChunkCount
}

func (e *recordingEvents) ChunkRecovered(rng KeyRange) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chunks = append(e.chunks, rng)
}

func generateEntries(r *rand.Rand, count int) []merkle.TreeEntry {
	res := make([]merkle.TreeEntry, count)
	for i := range res {
		var key common.Key
		r.Read(key[:])
		var value merkle.ValueHash
		r.Read(value[:])
		res[i] = merkle.TreeEntry{Key: key, Value: value, LeafIndex: uint64(i) + 1}
	}
	return res
}

func newTestRecoverer(t *testing.T, source Source, opts ...Option) *Recoverer {
	opts = append([]Option{
		WithLogger(zaptest.NewLogger(t)),
		WithChunkSize(100),
		WithConcurrency(3),
		WithMaxFetchRetries(0, time.Millisecond),
	}, opts...)
	return NewRecoverer(source, opts...)
}

func checkRecoveredTree(t *testing.T, tree *merkle.Tree, source *testSource) {
	t.Helper()
	version, found, err := tree.LatestVersion()
	if err != nil || !found || version != source.params.Version {
		t.Fatalf("unexpected latest version: %d, %t, %v", version, found, err)
	}
	hash, err := tree.LatestRootHash()
	if err != nil {
		t.Fatalf("failed to read root hash: %v", err)
	}
	if hash != source.params.ExpectedRootHash {
		t.Errorf("unexpected root hash: got %v, want %v", hash, source.params.ExpectedRootHash)
	}
	if err := tree.VerifyConsistency(version, true); err != nil {
		t.Errorf("recovered tree is inconsistent: %v", err)
	}
}

func TestRecoverer_RecoversTreeFromSnapshot(t *testing.T) {
	source := newTestSource(42, generateEntries(rand.New(rand.NewSource(1)), 1000))
	events := &recordingEvents{}
	tree, err := newTestRecoverer(t, source, WithEvents(events)).EnsureReady(context.Background(), merkle.NewPatchSet())
	if err != nil {
		t.Fatalf("failed to recover tree: %v", err)
	}
	checkRecoveredTree(t, tree, source)
	if events.chunkCount != 10 || events.recoveredCount != 0 {
		t.Errorf("unexpected recovery start event: %d chunks, %d recovered", events.chunkCount, events.recoveredCount)
	}
	if len(events.chunks) != 10 {
		t.Errorf("unexpected number of recovered chunks: got %d, want 10", len(events.chunks))
	}
}

func TestRecoverer_EmptySnapshotProducesEmptyTree(t *testing.T) {
	source := newTestSource(3, nil)
	tree, err := newTestRecoverer(t, source).EnsureReady(context.Background(), merkle.NewPatchSet())
	if err != nil {
		t.Fatalf("failed to recover tree: %v", err)
	}
	checkRecoveredTree(t, tree, source)
}

func TestRecoverer_InterruptedRecoveryIsResumed(t *testing.T) {
	source := newTestSource(7, generateEntries(rand.New(rand.NewSource(2)), 1000))
	db := merkle.NewPatchSet()

	ctx, cancel := context.WithCancel(context.Background())
	source.onFetch = func(fetch int) error {
		if fetch == 4 {
			cancel()
		}
		return nil
	}
	_, err := newTestRecoverer(t, source, WithConcurrency(1)).EnsureReady(ctx, db)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if tags := merkle.MustManifest(db).Tags; tags == nil || !tags.IsRecovering {
		t.Fatalf("tree should still be recovering")
	}

	source.onFetch = nil
	events := &recordingEvents{}
	tree, err := newTestRecoverer(t, source, WithEvents(events)).EnsureReady(context.Background(), db)
	if err != nil {
		t.Fatalf("failed to resume recovery: %v", err)
	}
	checkRecoveredTree(t, tree, source)
	if events.recoveredCount == 0 || events.recoveredCount == events.chunkCount {
		t.Errorf("unexpected number of chunks recovered before resuming: %d of %d", events.recoveredCount, events.chunkCount)
	}
	if got, want := len(events.chunks), events.chunkCount-events.recoveredCount; got != want {
		t.Errorf("unexpected number of chunks recovered after resuming: got %d, want %d", got, want)
	}
}

func TestRecoverer_FailedFetchesAreRetried(t *testing.T) {
	source := newTestSource(1, generateEntries(rand.New(rand.NewSource(3)), 300))
	source.onFetch = func(fetch int) error {
		if fetch%2 == 1 {
			return errors.New("connection reset")
		}
		return nil
	}
	tree, err := newTestRecoverer(t, source, WithConcurrency(1), WithMaxFetchRetries(2, time.Millisecond)).
		EnsureReady(context.Background(), merkle.NewPatchSet())
	if err != nil {
		t.Fatalf("failed to recover tree: %v", err)
	}
	checkRecoveredTree(t, tree, source)
}

func TestRecoverer_PersistentFetchErrorsAreReported(t *testing.T) {
	source := newTestSource(1, generateEntries(rand.New(rand.NewSource(4)), 300))
	injected := errors.New("injected error")
	source.onFetch = func(int) error {
		return injected
	}
	_, err := newTestRecoverer(t, source, WithMaxFetchRetries(1, time.Millisecond)).
		EnsureReady(context.Background(), merkle.NewPatchSet())
	if !errors.Is(err, injected) {
		t.Errorf("expected injected error, got %v", err)
	}
}

func TestRecoverer_RootHashMismatchIsReported(t *testing.T) {
	source := newTestSource(1, generateEntries(rand.New(rand.NewSource(5)), 300))
	source.params.ExpectedRootHash = merkle.ValueHash{1}
	db := merkle.NewPatchSet()
	_, err := newTestRecoverer(t, source).EnsureReady(context.Background(), db)
	if !errors.Is(err, ErrRootHashMismatch) {
		t.Errorf("expected root hash mismatch, got %v", err)
	}
	if tags := merkle.MustManifest(db).Tags; tags == nil || !tags.IsRecovering {
		t.Errorf("tree with mismatching root hash must not be finalized")
	}
}

func TestRecoverer_DuplicateKeysAreRejected(t *testing.T) {
	entries := generateEntries(rand.New(rand.NewSource(6)), 50)
	source := newTestSource(1, entries)
	duplicated := append([]merkle.TreeEntry(nil), source.entries[:10]...)
	source.entries = append(duplicated, source.entries[9:]...)
	_, err := newTestRecoverer(t, source).EnsureReady(context.Background(), merkle.NewPatchSet())
	if !errors.Is(err, ErrCorruptedChunk) {
		t.Errorf("expected corrupted chunk error, got %v", err)
	}
}

func TestRecoverer_MismatchingRecoveredEntryIsRejected(t *testing.T) {
	source := newTestSource(2, generateEntries(rand.New(rand.NewSource(7)), 300))
	db := merkle.NewPatchSet()
	recovery, err := merkle.OpenRecovery(db, 2)
	if err != nil {
		t.Fatalf("failed to open recovery: %v", err)
	}
	first := source.entries[0]
	first.Value = merkle.ValueHash{0xff}
	if err := recovery.ExtendRandom([]merkle.TreeEntry{first}); err != nil {
		t.Fatalf("failed to extend recovery: %v", err)
	}
	_, err = newTestRecoverer(t, source).EnsureReady(context.Background(), db)
	if !errors.Is(err, ErrCorruptedChunk) {
		t.Errorf("expected corrupted chunk error, got %v", err)
	}
}

func TestRecoverer_VersionMismatchIsRejected(t *testing.T) {
	source := newTestSource(5, generateEntries(rand.New(rand.NewSource(8)), 10))
	db := merkle.NewPatchSet()
	if _, err := merkle.OpenRecovery(db, 4); err != nil {
		t.Fatalf("failed to open recovery: %v", err)
	}
	_, err := newTestRecoverer(t, source).EnsureReady(context.Background(), db)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("expected version mismatch, got %v", err)
	}
}

func TestRecoverer_RecoverChecksRecoveredVersion(t *testing.T) {
	source := newTestSource(5, generateEntries(rand.New(rand.NewSource(9)), 10))
	recovery, err := merkle.OpenRecovery(merkle.NewPatchSet(), 3)
	if err != nil {
		t.Fatalf("failed to open recovery: %v", err)
	}
	params, _ := source.Parameters(context.Background())
	_, err = newTestRecoverer(t, source).Recover(context.Background(), recovery, params)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("expected version mismatch, got %v", err)
	}
}

func TestRecoverer_WithoutSnapshotTreeStartsEmpty(t *testing.T) {
	source := &testSource{}
	tree, err := newTestRecoverer(t, source).EnsureReady(context.Background(), merkle.NewPatchSet())
	if err != nil {
		t.Fatalf("failed to open tree: %v", err)
	}
	if _, found, _ := tree.LatestVersion(); found {
		t.Errorf("tree should be empty")
	}
}

func TestRecoverer_ExistingTreeIsOpenedDirectly(t *testing.T) {
	db := merkle.NewPatchSet()
	tree, err := merkle.Open(db)
	if err != nil {
		t.Fatalf("failed to open tree: %v", err)
	}
	out, err := tree.Extend(generateEntries(rand.New(rand.NewSource(9)), 10))
	if err != nil {
		t.Fatalf("failed to extend tree: %v", err)
	}

	source := newTestSource(100, generateEntries(rand.New(rand.NewSource(10)), 10))
	source.onFetch = func(int) error {
		t.Errorf("existing tree must not be recovered")
		return nil
	}
	tree, err = newTestRecoverer(t, source).EnsureReady(context.Background(), db)
	if err != nil {
		t.Fatalf("failed to open tree: %v", err)
	}
	if hash, _ := tree.LatestRootHash(); hash != out.RootHash {
		t.Errorf("unexpected root hash: got %v, want %v", hash, out.RootHash)
	}
}
