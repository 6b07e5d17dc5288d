// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package backend

import (
	"bytes"
	"sync"

	"github.com/google/btree"
)

type memoryItem struct {
	key, value []byte
}

func memoryItemLess(a, b memoryItem) bool {
	return bytes.Compare(a.key, b.key) < 0
}

// MemoryStore is an ordered in-memory Store. It is intended for tests and
// tools working on transient trees.
type MemoryStore struct {
	mu     sync.RWMutex
	tree   *btree.BTreeG[memoryItem]
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tree: btree.NewG[memoryItem](32, memoryItemLess),
	}
}

func (s *MemoryStore) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errClosed
	}
	item, found := s.tree.Get(memoryItem{key: key})
	if !found {
		return nil, ErrNotFound
	}
	return bytes.Clone(item.value), nil
}

func (s *MemoryStore) Write(batch *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	for _, op := range batch.Operations() {
		if op.Value == nil {
			s.tree.Delete(memoryItem{key: op.Key})
		} else {
			s.tree.ReplaceOrInsert(memoryItem{key: bytes.Clone(op.Key), value: bytes.Clone(op.Value)})
		}
	}
	return nil
}

func (s *MemoryStore) Seek(rng SeekRange, f func(k, v []byte) bool) error {
	// Items are collected first so that f may access the store.
	var items []memoryItem
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return errClosed
	}
	s.tree.AscendGreaterOrEqual(memoryItem{key: seekStart(rng)}, func(item memoryItem) bool {
		if !bytes.HasPrefix(item.key, rng.Prefix) {
			return false
		}
		items = append(items, item)
		return true
	})
	s.mu.RUnlock()

	for _, item := range items {
		if !f(item.key, item.value) {
			break
		}
	}
	return nil
}

// Len returns the number of entries in the store.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
