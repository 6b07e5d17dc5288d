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
	"math/rand"
	"testing"

	"golang.org/x/exp/slices"
)

func openTestRecovery(t *testing.T, db PruneDatabase, version uint64) *Recovery {
	t.Helper()
	recovery, err := OpenRecovery(db, version)
	if err != nil {
		t.Fatalf("failed to open recovery: %v", err)
	}
	return recovery
}

func finalize(t *testing.T, recovery *Recovery) *Tree {
	t.Helper()
	tree, err := recovery.Finalize()
	if err != nil {
		t.Fatalf("failed to finalize recovery: %v", err)
	}
	return tree
}

func sortedByKey(entries []TreeEntry) []TreeEntry {
	res := slices.Clone(entries)
	slices.SortFunc(res, func(a, b TreeEntry) int { return a.Key.Compare(b.Key) })
	return res
}

func TestRecovery_LinearAndRandomRecoveryMatchOriginalTree(t *testing.T) {
	r := rand.New(rand.NewSource(30))
	entries := generateEntries(r, 1000, 1)

	original := openTestTree(t, NewPatchSet())
	for i := 0; i < len(entries); i += 250 {
		extend(t, original, entries[i:i+250])
	}
	const version = 3
	want, _, _ := original.RootHash(version)

	tests := map[string]func(*Recovery, []TreeEntry) error{
		"linear": (*Recovery).ExtendLinear,
		"random": (*Recovery).ExtendRandom,
	}
	for name, apply := range tests {
		apply := apply
		t.Run(name, func(t *testing.T) {
			chunks := sortedByKey(entries)
			if name == "random" {
				r.Shuffle(len(chunks), func(i, j int) { chunks[i], chunks[j] = chunks[j], chunks[i] })
			}
			db := NewPatchSet()
			recovery := openTestRecovery(t, db, version)
			for i := 0; i < len(chunks); i += 100 {
				if err := apply(recovery, chunks[i:i+100]); err != nil {
					t.Fatalf("failed to recover chunk: %v", err)
				}
			}
			if got, _ := recovery.RootHash(); got != want {
				t.Errorf("unexpected root hash during recovery: got %v, want %v", got, want)
			}

			tree := finalize(t, recovery)
			if got, _, _ := tree.RootHash(version); got != want {
				t.Errorf("unexpected root hash: got %v, want %v", got, want)
			}
			if latest, found, _ := tree.LatestVersion(); !found || latest != version {
				t.Errorf("unexpected latest version: got %d", latest)
			}
			verify(t, tree, version)

			manifest, _ := db.TryManifest()
			if manifest.Tags.IsRecovering {
				t.Errorf("recovery flag should be cleared")
			}
		})
	}
}

func TestRecovery_LastProcessedKeyIsGreatestKey(t *testing.T) {
	recovery := openTestRecovery(t, NewPatchSet(), 0)
	if _, found, _ := recovery.LastProcessedKey(); found {
		t.Errorf("fresh recovery should have no processed keys")
	}
	entries := sortedByKey(generateEntries(rand.New(rand.NewSource(31)), 100, 1))
	if err := recovery.ExtendLinear(entries[:60]); err != nil {
		t.Fatalf("failed to recover entries: %v", err)
	}
	key, found, err := recovery.LastProcessedKey()
	if err != nil || !found {
		t.Fatalf("missing last processed key: %v", err)
	}
	if key != entries[59].Key {
		t.Errorf("unexpected last processed key: got %v, want %v", key, entries[59].Key)
	}
}

func TestRecovery_CanBeResumedAfterReopening(t *testing.T) {
	entries := sortedByKey(generateEntries(rand.New(rand.NewSource(32)), 200, 1))
	db := NewPatchSet()
	first := openTestRecovery(t, db, 7)
	if err := first.ExtendLinear(entries[:120]); err != nil {
		t.Fatalf("failed to recover entries: %v", err)
	}
	second := openTestRecovery(t, db, 7)
	if err := second.ExtendLinear(entries[120:]); err != nil {
		t.Fatalf("failed to recover entries: %v", err)
	}
	tree := finalize(t, second)

	reference := openTestTree(t, NewPatchSet())
	want := extend(t, reference, entries)
	if got, _, _ := tree.RootHash(7); got != want.RootHash {
		t.Errorf("unexpected root hash: got %v, want %v", got, want.RootHash)
	}
	verify(t, tree, 7)
}

func TestRecovery_EntriesReportsRecoveredEntries(t *testing.T) {
	entries := sortedByKey(generateEntries(rand.New(rand.NewSource(33)), 50, 1))
	recovery := openTestRecovery(t, NewPatchSet(), 2)
	if err := recovery.ExtendRandom(entries); err != nil {
		t.Fatalf("failed to recover entries: %v", err)
	}
	got, err := recovery.Entries([]Key{entries[10].Key, testKey(99)})
	if err != nil {
		t.Fatalf("failed to read entries: %v", err)
	}
	if got[0] != entries[10] || !got[1].IsEmpty() {
		t.Errorf("unexpected entries: %v", got)
	}
}

func TestRecovery_EmptyRecoveryCreatesEmptyRoot(t *testing.T) {
	db := NewPatchSet()
	tree := finalize(t, openTestRecovery(t, db, 5))
	hash, found, err := tree.RootHash(5)
	if err != nil || !found {
		t.Fatalf("missing root of recovered version: %v", err)
	}
	if hash != EmptyTreeHash(Blake2sHasher) {
		t.Errorf("unexpected root hash: got %v", hash)
	}
	verify(t, tree, 5)
}

func TestRecovery_RecoveredTreeCanBeExtended(t *testing.T) {
	r := rand.New(rand.NewSource(34))
	entries := sortedByKey(generateEntries(r, 100, 1))
	recovery := openTestRecovery(t, NewPatchSet(), 0)
	if err := recovery.ExtendLinear(entries); err != nil {
		t.Fatalf("failed to recover entries: %v", err)
	}
	tree := finalize(t, recovery)
	out := extend(t, tree, generateEntries(r, 10, 101))
	if out.LeafCount != 110 {
		t.Errorf("unexpected leaf count: got %d, want 110", out.LeafCount)
	}
	verify(t, tree, 1)
}

func TestRecovery_DecreasingKeysPanic(t *testing.T) {
	recovery := openTestRecovery(t, NewPatchSet(), 0)
	defer func() {
		if recover() == nil {
			t.Errorf("linear recovery with decreasing keys should panic")
		}
	}()
	_ = recovery.ExtendLinear([]TreeEntry{
		{Key: testKey(2), Value: testValue(2), LeafIndex: 1},
		{Key: testKey(1), Value: testValue(1), LeafIndex: 2},
	})
}

func TestRecovery_MismatchingVersionPanics(t *testing.T) {
	db := NewPatchSet()
	openTestRecovery(t, db, 3)
	defer func() {
		if recover() == nil {
			t.Errorf("recovering another version should panic")
		}
	}()
	_, _ = OpenRecovery(db, 4)
}

func TestRecovery_OpeningNormalTreePanics(t *testing.T) {
	db := NewPatchSet()
	extend(t, openTestTree(t, db), generateEntries(rand.New(rand.NewSource(35)), 3, 1))
	defer func() {
		if recover() == nil {
			t.Errorf("opening a regular tree for recovery should panic")
		}
	}()
	_, _ = OpenRecovery(db, 0)
}
