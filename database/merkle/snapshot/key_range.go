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
	"fmt"

	"github.com/Sin7Y/ola-os-sub000/common"
	"github.com/holiman/uint256"
)

// KeyRange is an inclusive range of tree keys.
type KeyRange struct {
	Start common.Key
	End   common.Key
}

// Contains tests whether the key lies within the range.
func (r KeyRange) Contains(key common.Key) bool {
	return r.Start.Compare(key) <= 0 && key.Compare(r.End) <= 0
}

func (r KeyRange) String() string {
	return fmt.Sprintf("%v..=%v", r.Start, r.End)
}

// SplitKeySpace partitions the whole key space into count contiguous ranges
// of equal size; the last range absorbs the remainder. The partition only
// depends on count, so chunks are the same across restarts.
func SplitKeySpace(count int) []KeyRange {
	if count <= 0 {
		panic(fmt.Sprintf("invalid chunk count %d", count))
	}
	max := new(uint256.Int).SetAllOne()
	stride := new(uint256.Int).Div(max, uint256.NewInt(uint64(count)))
	strideMinusOne := new(uint256.Int).Set(stride)
	if stride.Lt(max) {
		stride.AddUint64(stride, 1)
	} else {
		// The stride is 2^256 which cannot be represented; there is a
		// single range spanning all keys.
		return []KeyRange{{End: common.MaxKey}}
	}

	res := make([]KeyRange, count)
	for i := range res {
		start := new(uint256.Int).Mul(stride, uint256.NewInt(uint64(i)))
		end, overflow := new(uint256.Int).AddOverflow(start, strideMinusOne)
		if overflow {
			end = max
		}
		res[i] = KeyRange{Start: common.KeyFromUint256(start), End: common.KeyFromUint256(end)}
	}
	return res
}

// chunkCount returns the number of chunks needed to split entryCount
// entries into chunks of about chunkSize entries.
func chunkCount(entryCount, chunkSize uint64) int {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	res := (entryCount + chunkSize - 1) / chunkSize
	if res == 0 {
		return 1
	}
	return int(res)
}
