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
	"encoding/binary"
	"strconv"
	"unicode/utf8"
)

const (
	internalChildKind = 0b01
	leafChildKind     = 0b10
)

const hashSize = len(ValueHash{})

func appendLeb128(buf []byte, v uint64) []byte {
	return binary.AppendUvarint(buf, v)
}

func readLeb128(data []byte) (uint64, []byte, *DeserializeError) {
	v, n := binary.Uvarint(data)
	if n == 0 {
		return 0, nil, newDeserializeError(UnexpectedEOF, "")
	}
	if n < 0 {
		return 0, nil, newDeserializeError(Leb128, "value overflows 64 bits")
	}
	return v, data[n:], nil
}

// serialize appends the encoding key || value hash || LEB128(leaf index).
func (n *LeafNode) serialize(buf []byte) []byte {
	buf = append(buf, n.FullKey[:]...)
	buf = append(buf, n.ValueHash[:]...)
	return appendLeb128(buf, n.LeafIndex)
}

func deserializeLeaf(data []byte) (*LeafNode, *DeserializeError) {
	if len(data) < 2*hashSize {
		return nil, newDeserializeError(UnexpectedEOF, "")
	}
	res := &LeafNode{}
	copy(res.FullKey[:], data[:hashSize])
	copy(res.ValueHash[:], data[hashSize:2*hashSize])
	index, _, err := readLeb128(data[2*hashSize:])
	if err != nil {
		return nil, err.withContext(ErrorContext{kind: leafIndexContext})
	}
	res.LeafIndex = index
	return res, nil
}

// serialize appends a little-endian bitmap with 2 bits per child followed by
// hash || LEB128(version) of every child in nibble order.
func (n *InternalNode) serialize(buf []byte) []byte {
	var bitmap uint32
	n.ForEachChild(func(nibble byte, ref ChildRef) {
		kind := uint32(internalChildKind)
		if ref.IsLeaf {
			kind = leafChildKind
		}
		bitmap |= kind << (2 * nibble)
	})
	buf = binary.LittleEndian.AppendUint32(buf, bitmap)
	n.ForEachChild(func(_ byte, ref ChildRef) {
		buf = append(buf, ref.Hash[:]...)
		buf = appendLeb128(buf, ref.Version)
	})
	return buf
}

func deserializeInternal(data []byte) (*InternalNode, *DeserializeError) {
	if len(data) < 4 {
		return nil, newDeserializeError(UnexpectedEOF, "").withContext(ErrorContext{kind: childrenMaskContext})
	}
	bitmap := binary.LittleEndian.Uint32(data)
	if bitmap == 0 {
		return nil, newDeserializeError(NoChildren, "")
	}
	data = data[4:]
	res := &InternalNode{}
	for nibble := byte(0); nibble < 16; nibble++ {
		var ref ChildRef
		switch (bitmap >> (2 * nibble)) & 0b11 {
		case 0:
			continue
		case internalChildKind:
		case leafChildKind:
			ref.IsLeaf = true
		default:
			return nil, newDeserializeError(InvalidChildKind, "").withContext(ErrorContext{kind: childrenMaskContext})
		}
		if len(data) < hashSize {
			return nil, newDeserializeError(UnexpectedEOF, "").withContext(ErrorContext{kind: childRefHashContext})
		}
		copy(ref.Hash[:], data[:hashSize])
		version, rest, err := readLeb128(data[hashSize:])
		if err != nil {
			return nil, err.withContext(ErrorContext{kind: versionContext})
		}
		ref.Version = version
		data = rest
		res.children.Set(nibble, ref)
	}
	return res, nil
}

// serializeNode appends the encoding of a leaf or an internal node.
func serializeNode(buf []byte, node Node) []byte {
	switch n := node.(type) {
	case *LeafNode:
		return n.serialize(buf)
	case *InternalNode:
		return n.serialize(buf)
	}
	panic("unsupported node type")
}

func deserializeNode(data []byte, isLeaf bool) (Node, *DeserializeError) {
	if isLeaf {
		leaf, err := deserializeLeaf(data)
		if err != nil {
			return nil, err
		}
		return leaf, nil
	}
	node, err := deserializeInternal(data)
	if err != nil {
		return nil, err
	}
	return node, nil
}

// serialize appends LEB128(leaf count) followed by the root node, if any.
func (r *Root) serialize(buf []byte) []byte {
	if r.IsEmpty() {
		return appendLeb128(buf, 0)
	}
	buf = appendLeb128(buf, r.LeafCount)
	return serializeNode(buf, r.Node)
}

func deserializeRoot(data []byte) (*Root, *DeserializeError) {
	leafCount, rest, err := readLeb128(data)
	if err != nil {
		return nil, err.withContext(ErrorContext{kind: leafCountContext})
	}
	if leafCount == 0 {
		return &Root{}, nil
	}
	node, err := deserializeNode(rest, leafCount == 1)
	if err != nil {
		return nil, err
	}
	return &Root{LeafCount: leafCount, Node: node}, nil
}

// serialize appends LEB128(version count) optionally followed by the tags.
func (m *Manifest) serialize(buf []byte) []byte {
	buf = appendLeb128(buf, m.VersionCount)
	if m.Tags != nil {
		buf = m.Tags.serialize(buf)
	}
	return buf
}

func (t *TreeTags) serialize(buf []byte) []byte {
	count := uint64(3)
	if t.IsRecovering {
		count++
	}
	buf = appendLeb128(buf, count)
	buf = appendTag(buf, "architecture", t.Architecture)
	buf = appendTag(buf, "depth", strconv.Itoa(t.Depth))
	buf = appendTag(buf, "hasher", t.Hasher)
	if t.IsRecovering {
		buf = appendTag(buf, "is_recovering", "true")
	}
	return buf
}

func appendTag(buf []byte, key, value string) []byte {
	buf = appendLeb128(buf, uint64(len(key)))
	buf = append(buf, key...)
	buf = appendLeb128(buf, uint64(len(value)))
	return append(buf, value...)
}

func deserializeManifest(data []byte) (*Manifest, *DeserializeError) {
	versionCount, rest, err := readLeb128(data)
	if err != nil {
		return nil, err.withContext(ErrorContext{kind: manifestContext})
	}
	res := &Manifest{VersionCount: versionCount}
	if len(rest) > 0 {
		tags, err := deserializeTags(rest)
		if err != nil {
			return nil, err.withContext(ErrorContext{kind: manifestContext})
		}
		res.Tags = tags
	}
	return res, nil
}

func deserializeTags(data []byte) (*TreeTags, *DeserializeError) {
	count, data, err := readLeb128(data)
	if err != nil {
		return nil, err
	}
	var architecture, hasher, depth *string
	res := &TreeTags{}
	for i := uint64(0); i < count; i++ {
		var key, value string
		if key, data, err = readString(data); err != nil {
			return nil, err
		}
		if value, data, err = readString(data); err != nil {
			return nil, err
		}
		switch key {
		case "architecture":
			architecture = &value
		case "depth":
			depth = &value
		case "hasher":
			hasher = &value
		case "is_recovering":
			recovering, parseErr := strconv.ParseBool(value)
			if parseErr != nil {
				return nil, newDeserializeError(MalformedTag, "is_recovering: "+parseErr.Error())
			}
			res.IsRecovering = recovering
		default:
			return nil, newDeserializeError(UnknownTag, key)
		}
	}
	if architecture == nil {
		return nil, newDeserializeError(MissingTag, "architecture")
	}
	if hasher == nil {
		return nil, newDeserializeError(MissingTag, "hasher")
	}
	if depth == nil {
		return nil, newDeserializeError(MissingTag, "depth")
	}
	parsedDepth, parseErr := strconv.Atoi(*depth)
	if parseErr != nil {
		return nil, newDeserializeError(MalformedTag, "depth: "+parseErr.Error())
	}
	res.Architecture = *architecture
	res.Hasher = *hasher
	res.Depth = parsedDepth
	return res, nil
}

func readString(data []byte) (string, []byte, *DeserializeError) {
	length, data, err := readLeb128(data)
	if err != nil {
		return "", nil, err
	}
	if uint64(len(data)) < length {
		return "", nil, newDeserializeError(UnexpectedEOF, "")
	}
	str := data[:length]
	if !utf8.Valid(str) {
		return "", nil, newDeserializeError(Utf8, "")
	}
	return string(str), data[length:], nil
}
