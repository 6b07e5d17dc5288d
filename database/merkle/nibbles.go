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
	"bytes"
	"fmt"
	"strings"
)

// MaxNibbleCount is the number of nibbles in a full key.
const MaxNibbleCount = TreeDepth / 4

// Nibbles is a prefix of a key, measured in nibbles (4-bit units). Unused
// trailing nibbles are always zero, so Nibbles values can be compared with
// == and used as map keys.
type Nibbles struct {
	count uint8
	bytes [32]byte
}

// EmptyNibbles addresses the root of the tree.
var EmptyNibbles = Nibbles{}

// NewNibbles returns the prefix of key consisting of count nibbles.
func NewNibbles(key Key, count int) Nibbles {
	if count < 0 || count > MaxNibbleCount {
		panic(fmt.Sprintf("invalid nibble count %d", count))
	}
	res := Nibbles{count: uint8(count)}
	byteCount := (count + 1) / 2
	copy(res.bytes[:byteCount], key[:byteCount])
	if count%2 == 1 {
		res.bytes[byteCount-1] &= 0xf0
	}
	return res
}

// nibblesFromBytes restores nibbles from their packed byte representation.
func nibblesFromBytes(data []byte, count int) (Nibbles, bool) {
	if count > MaxNibbleCount || len(data) != (count+1)/2 {
		return Nibbles{}, false
	}
	res := Nibbles{count: uint8(count)}
	copy(res.bytes[:], data)
	if count%2 == 1 && res.bytes[len(data)-1]&0x0f != 0 {
		return Nibbles{}, false
	}
	return res, true
}

// Count returns the number of nibbles.
func (n Nibbles) Count() int {
	return int(n.count)
}

// IsEmpty is true for the prefix addressing the root.
func (n Nibbles) IsEmpty() bool {
	return n.count == 0
}

// At returns the nibble at position i.
func (n Nibbles) At(i int) byte {
	b := n.bytes[i/2]
	if i%2 == 0 {
		return b >> 4
	}
	return b & 0x0f
}

// packed returns the minimal byte representation of the nibbles.
func (n Nibbles) packed() []byte {
	return n.bytes[:(n.count+1)/2]
}

// Push appends a nibble. It fails if the nibbles already span a full key.
func (n Nibbles) Push(nibble byte) (Nibbles, bool) {
	if n.count == MaxNibbleCount {
		return n, false
	}
	res := n
	if res.count%2 == 0 {
		res.bytes[res.count/2] = nibble << 4
	} else {
		res.bytes[res.count/2] |= nibble & 0x0f
	}
	res.count++
	return res, true
}

// SplitLast splits off the last nibble, returning the parent prefix and the
// removed nibble. It fails for empty nibbles.
func (n Nibbles) SplitLast() (Nibbles, byte, bool) {
	if n.count == 0 {
		return n, 0, false
	}
	last := n.At(int(n.count) - 1)
	res := n
	res.count--
	if res.count%2 == 0 {
		res.bytes[res.count/2] = 0
	} else {
		res.bytes[res.count/2] &= 0xf0
	}
	return res, last, true
}

// CommonPrefix returns the longest common prefix of both nibbles.
func (n Nibbles) CommonPrefix(other Nibbles) Nibbles {
	count := int(n.count)
	if int(other.count) < count {
		count = int(other.count)
	}
	i := 0
	for ; i < count; i++ {
		if n.At(i) != other.At(i) {
			break
		}
	}
	return NewNibbles(Key(n.bytes), i)
}

// Compare orders nibbles by the integer value of the prefix; a prefix is
// ordered before its extensions.
func (n Nibbles) Compare(other Nibbles) int {
	if res := bytes.Compare(n.bytes[:], other.bytes[:]); res != 0 {
		return res
	}
	switch {
	case n.count < other.count:
		return -1
	case n.count > other.count:
		return 1
	}
	return 0
}

// WithVersion combines the nibbles with a version into a node key.
func (n Nibbles) WithVersion(version uint64) NodeKey {
	return NodeKey{Nibbles: n, Version: version}
}

func (n Nibbles) String() string {
	var builder strings.Builder
	for i := 0; i < int(n.count); i++ {
		builder.WriteByte("0123456789abcdef"[n.At(i)])
	}
	return builder.String()
}

// NodeKey uniquely identifies a node of a given tree version.
type NodeKey struct {
	Nibbles Nibbles
	Version uint64
}

// IsRoot is true for keys addressing a tree root.
func (k NodeKey) IsRoot() bool {
	return k.Nibbles.IsEmpty()
}

func (k NodeKey) String() string {
	return fmt.Sprintf("%d:%s", k.Version, k.Nibbles)
}
