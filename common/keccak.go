// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package common

import (
	"hash"
	"sync"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/sha3"
)

// Keccak256 computes the Keccak-256 hash of the concatenation of the given parts.
func Keccak256(parts ...[]byte) Hash {
	return sum(&keccakHasherPool, parts)
}

// Blake2s256 computes the unkeyed BLAKE2s-256 hash of the concatenation of the
// given parts.
func Blake2s256(parts ...[]byte) Hash {
	return sum(&blake2sHasherPool, parts)
}

var keccakHasherPool = sync.Pool{New: func() any { return sha3.NewLegacyKeccak256() }}

var blake2sHasherPool = sync.Pool{New: func() any {
	h, err := blake2s.New256(nil)
	if err != nil {
		panic(err)
	}
	return h
}}

func sum(pool *sync.Pool, parts [][]byte) Hash {
	hasher := pool.Get().(hash.Hash)
	hasher.Reset()
	for _, part := range parts {
		hasher.Write(part)
	}
	var res Hash
	hasher.Sum(res[:0])
	pool.Put(hasher)
	return res
}
