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

//go:generate mockgen -source store.go -destination store_mocks.go -package backend

import (
	"fmt"

	"github.com/Sin7Y/ola-os-sub000/common"
)

// ErrNotFound is returned by Store.Get if the requested key is not present.
const ErrNotFound = common.ConstError("key not found")

const errClosed = common.ConstError("store is closed")

// TableSpace divide key-value storage into spaces by adding a prefix to the key.
type TableSpace byte

const (
	// TreeKey is a tablespace for the tree manifest, roots and nodes
	TreeKey TableSpace = 'T'
	// StaleKey is a tablespace for the stale node keys ledger
	StaleKey TableSpace = 'S'
)

// ToDBKey converts the input key to its respective table space key.
func ToDBKey(t TableSpace, key []byte) []byte {
	dbKey := make([]byte, 1+len(key))
	dbKey[0] = byte(t)
	copy(dbKey[1:], key)
	return dbKey
}

// Bytes returns the key prefix of the table space.
func (t TableSpace) Bytes() []byte {
	return []byte{byte(t)}
}

// Store is an ordered key-value store hosting the tree. Implementations must
// be safe for concurrent use.
type Store interface {
	// Get retrieves the value stored for the given key. If the key is not
	// present, ErrNotFound is returned. The returned slice is owned by the
	// caller.
	Get(key []byte) ([]byte, error)

	// Write applies all operations of the batch atomically and in order.
	Write(batch *Batch) error

	// Seek iterates in ascending key order over all entries whose key starts
	// with rng.Prefix and is not less than rng.Prefix||rng.Start. Iteration
	// stops when f returns false. Slices passed to f are only valid during
	// the call.
	Seek(rng SeekRange, f func(k, v []byte) bool) error

	// Close releases all resources held by the store.
	Close() error
}

// SeekRange describes the key range iterated over by Store.Seek.
type SeekRange struct {
	// Prefix all iterated keys share.
	Prefix []byte
	// Start is the suffix of the first key to visit, after Prefix.
	Start []byte
}

// Batch is a sequence of put and delete operations applied atomically.
type Batch struct {
	ops []Operation
}

// Operation is a single write operation within a batch. A nil Value marks a
// deletion.
type Operation struct {
	Key   []byte
	Value []byte
}

// Put records an insertion or an overwrite of the given key.
func (b *Batch) Put(key, value []byte) {
	if value == nil {
		value = []byte{}
	}
	b.ops = append(b.ops, Operation{Key: key, Value: value})
}

// Delete records a removal of the given key.
func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, Operation{Key: key})
}

// Len returns the number of operations in the batch.
func (b *Batch) Len() int {
	return len(b.ops)
}

// Operations returns the recorded operations in insertion order.
func (b *Batch) Operations() []Operation {
	return b.ops
}

func (op Operation) String() string {
	if op.Value == nil {
		return fmt.Sprintf("delete(%x)", op.Key)
	}
	return fmt.Sprintf("put(%x, %d bytes)", op.Key, len(op.Value))
}

func seekStart(rng SeekRange) []byte {
	start := make([]byte, len(rng.Prefix)+len(rng.Start))
	copy(start, rng.Prefix)
	copy(start[len(rng.Prefix):], rng.Start)
	return start
}
