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
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/holiman/uint256"
)

// Hash is a 256-bit hash value as produced by the tree hashers.
type Hash [32]byte

// Key is a 256-bit unsigned integer in big-endian byte order. Byte-wise
// ordering of keys equals the numeric ordering of the integers.
type Key [32]byte

// MaxKey is the greatest possible key, 2^256-1.
var MaxKey = Key{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// ParseHash parses a hex encoded hash with an optional 0x prefix.
func ParseHash(s string) (Hash, error) {
	var res Hash
	data, err := parseHex(s, len(res))
	if err != nil {
		return res, err
	}
	copy(res[:], data)
	return res, nil
}

// KeyFromUint64 returns the key representing the given integer.
func KeyFromUint64(v uint64) Key {
	return KeyFromUint256(uint256.NewInt(v))
}

// KeyFromUint256 converts an integer to a key.
func KeyFromUint256(v *uint256.Int) Key {
	return Key(v.Bytes32())
}

// ParseKey parses a hex encoded key with an optional 0x prefix.
func ParseKey(s string) (Key, error) {
	var res Key
	data, err := parseHex(s, len(res))
	if err != nil {
		return res, err
	}
	copy(res[:], data)
	return res, nil
}

// Uint256 returns the integer represented by this key.
func (k Key) Uint256() *uint256.Int {
	return new(uint256.Int).SetBytes32(k[:])
}

// Compare returns -1, 0 or 1 if k is less than, equal to or greater than o.
func (k Key) Compare(o Key) int {
	return bytes.Compare(k[:], o[:])
}

// Bit returns the i-th bit of the key, counting from the least significant bit.
func (k Key) Bit(i int) bool {
	return (k[31-i/8]>>(i%8))&1 == 1
}

// Nibble returns the i-th nibble of the key, counting from the most
// significant nibble. Valid indices are 0..63.
func (k Key) Nibble(i int) byte {
	b := k[i/2]
	if i%2 == 0 {
		return b >> 4
	}
	return b & 0x0f
}

func (k Key) String() string {
	return "0x" + hex.EncodeToString(k[:])
}

func parseHex(s string, size int) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(data) != size {
		return nil, fmt.Errorf("invalid length, wanted %d bytes, got %d", size, len(data))
	}
	return data, nil
}
