// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package main

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/Sin7Y/ola-os-sub000/backend"
	"github.com/Sin7Y/ola-os-sub000/config"
	"github.com/Sin7Y/ola-os-sub000/database/merkle"
	"go.uber.org/zap"
)

// createTree stores a tree with the given number of versions in dir and
// returns the root hashes of all versions.
func createTree(t *testing.T, dir string, versions int) []merkle.ValueHash {
	t.Helper()
	storage := config.Default().Storage
	storage.Path = dir
	db, err := storage.OpenDatabase(zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()
	tree, err := merkle.Open(db)
	if err != nil {
		t.Fatalf("failed to open tree: %v", err)
	}

	r := rand.New(rand.NewSource(1))
	var entries []merkle.TreeEntry
	var hashes []merkle.ValueHash
	for v := 0; v < versions; v++ {
		batch := make([]merkle.TreeEntry, 50)
		for i := range batch {
			if len(entries) > 0 && i%2 == 0 {
				batch[i] = entries[r.Intn(len(entries))]
			} else {
				r.Read(batch[i].Key[:])
				batch[i].LeafIndex = uint64(len(entries)) + 1
				entries = append(entries, batch[i])
			}
			r.Read(batch[i].Value[:])
		}
		out, err := tree.Extend(batch)
		if err != nil {
			t.Fatalf("failed to extend tree: %v", err)
		}
		hashes = append(hashes, out.RootHash)
	}
	return hashes
}

func openTree(t *testing.T, dir string) (*merkle.Tree, *merkle.KVDatabase) {
	t.Helper()
	store, err := backend.OpenLevelDb(dir, backend.LevelDBOptions{})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	db, err := merkle.NewKVDatabase(store)
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	tree, err := merkle.Open(db)
	if err != nil {
		t.Fatalf("failed to open tree: %v", err)
	}
	return tree, db
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	return newApp().Run(append([]string{"tool", "--log-level", "warn"}, args...))
}

func TestTool_InfoAndVerify(t *testing.T) {
	dir := t.TempDir()
	createTree(t, dir, 3)
	if err := run(t, "info", dir); err != nil {
		t.Errorf("info failed: %v", err)
	}
	if err := run(t, "verify", "--indices", dir); err != nil {
		t.Errorf("verify failed: %v", err)
	}
	if err := run(t, "verify", "--version", "1", dir); err != nil {
		t.Errorf("verify of version 1 failed: %v", err)
	}
	if err := run(t, "verify", "--version", "7", dir); err == nil {
		t.Errorf("verify of a missing version should fail")
	}
}

func TestTool_MissingArgumentsAreReported(t *testing.T) {
	for _, command := range []string{"info", "verify", "export", "import"} {
		if err := run(t, command); err == nil {
			t.Errorf("%s without arguments should fail", command)
		}
	}
}

func TestTool_ExportAndImport(t *testing.T) {
	dir := t.TempDir()
	hashes := createTree(t, dir, 3)
	file := filepath.Join(t.TempDir(), "tree.gz")
	if err := run(t, "export", "--version", "1", dir, file); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	target := t.TempDir()
	if err := run(t, "import", target, file); err != nil {
		t.Fatalf("import failed: %v", err)
	}
	tree, db := openTree(t, target)
	defer db.Close()
	version, _, err := tree.LatestVersion()
	if err != nil || version != 1 {
		t.Fatalf("unexpected version of imported tree: %d, %v", version, err)
	}
	if hash, _ := tree.LatestRootHash(); hash != hashes[1] {
		t.Errorf("unexpected root hash: got %v, want %v", hash, hashes[1])
	}
}

func TestTool_TruncateAndPrune(t *testing.T) {
	dir := t.TempDir()
	hashes := createTree(t, dir, 5)
	if err := run(t, "truncate", "--keep", "4", dir); err != nil {
		t.Fatalf("truncate failed: %v", err)
	}
	if err := run(t, "prune", "--keep", "1", dir); err != nil {
		t.Fatalf("prune failed: %v", err)
	}

	tree, db := openTree(t, dir)
	defer db.Close()
	if hash, _ := tree.LatestRootHash(); hash != hashes[3] {
		t.Errorf("unexpected root hash: got %v, want %v", hash, hashes[3])
	}
	if err := tree.VerifyConsistency(3, true); err != nil {
		t.Errorf("latest version is inconsistent: %v", err)
	}
	if version, found, _ := db.MinStaleKeyVersion(); found && version < 3 {
		t.Errorf("stale keys of version %d were not pruned", version)
	}
}
