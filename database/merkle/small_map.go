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

import "math/bits"

// SmallMap is a map from nibbles (0..15) to values. Only present values are
// stored; a 16-bit bitmap records which keys are present and the dense
// values slice is ordered by key.
type SmallMap[V any] struct {
	bitmap uint16
	values []V
}

func (m *SmallMap[V]) index(key byte) int {
	return bits.OnesCount16(m.bitmap & (1<<key - 1))
}

// Len returns the number of present values.
func (m *SmallMap[V]) Len() int {
	return len(m.values)
}

// Contains tests whether a value is present for the given key.
func (m *SmallMap[V]) Contains(key byte) bool {
	return m.bitmap&(1<<key) != 0
}

// Get returns the value for the given key.
func (m *SmallMap[V]) Get(key byte) (V, bool) {
	if !m.Contains(key) {
		var zero V
		return zero, false
	}
	return m.values[m.index(key)], true
}

// GetPtr returns a pointer to the value for the given key, or nil if no
// value is present. The pointer is invalidated by Set.
func (m *SmallMap[V]) GetPtr(key byte) *V {
	if !m.Contains(key) {
		return nil
	}
	return &m.values[m.index(key)]
}

// Set inserts or overwrites the value for the given key.
func (m *SmallMap[V]) Set(key byte, value V) {
	if key > 15 {
		panic("small map key out of range")
	}
	i := m.index(key)
	if m.Contains(key) {
		m.values[i] = value
		return
	}
	var zero V
	m.values = append(m.values, zero)
	copy(m.values[i+1:], m.values[i:])
	m.values[i] = value
	m.bitmap |= 1 << key
}

// ForEach calls f for all present entries in ascending key order.
func (m *SmallMap[V]) ForEach(f func(key byte, value V)) {
	bitmap := m.bitmap
	for i := 0; bitmap != 0; i++ {
		key := byte(bits.TrailingZeros16(bitmap))
		bitmap &= bitmap - 1
		f(key, m.values[i])
	}
}

// Keys returns all present keys in ascending order.
func (m *SmallMap[V]) Keys() []byte {
	res := make([]byte, 0, len(m.values))
	m.ForEach(func(key byte, _ V) {
		res = append(res, key)
	})
	return res
}

// Last returns the entry with the greatest key.
func (m *SmallMap[V]) Last() (byte, V, bool) {
	if m.bitmap == 0 {
		var zero V
		return 0, zero, false
	}
	key := byte(15 - bits.LeadingZeros16(m.bitmap))
	return key, m.values[len(m.values)-1], true
}

// Clone returns an independent copy of the map.
func (m *SmallMap[V]) Clone() SmallMap[V] {
	return SmallMap[V]{
		bitmap: m.bitmap,
		values: append([]V(nil), m.values...),
	}
}
