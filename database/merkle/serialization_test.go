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
	"errors"
	"reflect"
	"testing"
)

func testInternalNode() *InternalNode {
	node := &InternalNode{}
	node.SetChild(0, ChildRef{Hash: testValue(1), Version: 3, IsLeaf: true})
	node.SetChild(7, ChildRef{Hash: testValue(2), Version: 300})
	node.SetChild(15, ChildRef{Hash: testValue(3), Version: 0, IsLeaf: true})
	return node
}

func expectDeserializeError(t *testing.T, err *DeserializeError, kind DeserializeErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got none", kind)
	}
	if err.Kind != kind {
		t.Errorf("unexpected error kind: got %v, want %v (%v)", err.Kind, kind, err)
	}
}

func TestLeb128_Encoding(t *testing.T) {
	tests := []struct {
		value   uint64
		encoded []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xac, 0x02}},
	}
	for _, test := range tests {
		if got := appendLeb128(nil, test.value); !bytes.Equal(got, test.encoded) {
			t.Errorf("unexpected encoding of %d: got %x, want %x", test.value, got, test.encoded)
		}
		got, rest, err := readLeb128(append(test.encoded, 0xff))
		if err != nil || got != test.value || !bytes.Equal(rest, []byte{0xff}) {
			t.Errorf("failed to decode %x: got %d, %x, %v", test.encoded, got, rest, err)
		}
	}
}

func TestLeb128_MalformedInputIsRejected(t *testing.T) {
	_, _, err := readLeb128(nil)
	expectDeserializeError(t, err, UnexpectedEOF)

	_, _, err = readLeb128([]byte{0x80, 0x80})
	expectDeserializeError(t, err, UnexpectedEOF)

	overflow := bytes.Repeat([]byte{0xff}, 10)
	overflow = append(overflow, 0x01)
	_, _, err = readLeb128(overflow)
	expectDeserializeError(t, err, Leb128)
}

func TestLeafNode_SerializationLayout(t *testing.T) {
	leaf := &LeafNode{FullKey: testKey(5), ValueHash: testValue(5), LeafIndex: 128}
	data := leaf.serialize(nil)
	if len(data) != 2*hashSize+2 {
		t.Fatalf("unexpected encoding length: got %d, want %d", len(data), 2*hashSize+2)
	}
	if !bytes.Equal(data[:hashSize], leaf.FullKey[:]) {
		t.Errorf("encoding does not start with the full key")
	}
	restored, err := deserializeLeaf(data)
	if err != nil {
		t.Fatalf("failed to deserialize leaf: %v", err)
	}
	if *restored != *leaf {
		t.Errorf("unexpected leaf: got %v, want %v", restored, leaf)
	}
}

func TestLeafNode_TruncatedInputIsRejected(t *testing.T) {
	leaf := &LeafNode{FullKey: testKey(5), ValueHash: testValue(5), LeafIndex: 1}
	data := leaf.serialize(nil)
	_, err := deserializeLeaf(data[:hashSize])
	expectDeserializeError(t, err, UnexpectedEOF)
	_, err = deserializeLeaf(data[:2*hashSize])
	expectDeserializeError(t, err, UnexpectedEOF)
}

func TestInternalNode_SerializationLayout(t *testing.T) {
	node := testInternalNode()
	data := node.serialize(nil)

	// Children 0 and 15 are leaves, child 7 is an internal node.
	wantBitmap := []byte{0b10, 0b01 << 6, 0, 0b10 << 6}
	if !bytes.Equal(data[:4], wantBitmap) {
		t.Errorf("unexpected bitmap: got %08b, want %08b", data[:4], wantBitmap)
	}
	if want := 4 + 3*hashSize + 1 + 2 + 1; len(data) != want {
		t.Errorf("unexpected encoding length: got %d, want %d", len(data), want)
	}

	restored, err := deserializeInternal(data)
	if err != nil {
		t.Fatalf("failed to deserialize node: %v", err)
	}
	if !reflect.DeepEqual(restored, node) {
		t.Errorf("unexpected node: got %v, want %v", restored, node)
	}
}

func TestInternalNode_MalformedInputIsRejected(t *testing.T) {
	_, err := deserializeInternal([]byte{0, 0})
	expectDeserializeError(t, err, UnexpectedEOF)

	_, err = deserializeInternal([]byte{0, 0, 0, 0})
	expectDeserializeError(t, err, NoChildren)

	_, err = deserializeInternal([]byte{0b11, 0, 0, 0})
	expectDeserializeError(t, err, InvalidChildKind)

	data := testInternalNode().serialize(nil)
	_, err = deserializeInternal(data[:4+hashSize/2])
	expectDeserializeError(t, err, UnexpectedEOF)
	_, err = deserializeInternal(data[:4+hashSize])
	expectDeserializeError(t, err, UnexpectedEOF)
}

func TestRoot_SerializationRoundTrip(t *testing.T) {
	roots := []*Root{
		{},
		{LeafCount: 1, Node: &LeafNode{FullKey: testKey(1), ValueHash: testValue(1), LeafIndex: 1}},
		{LeafCount: 1000, Node: testInternalNode()},
	}
	for _, root := range roots {
		restored, err := deserializeRoot(root.serialize(nil))
		if err != nil {
			t.Fatalf("failed to deserialize root: %v", err)
		}
		if !reflect.DeepEqual(restored, root) {
			t.Errorf("unexpected root: got %v, want %v", restored, root)
		}
	}
	if data := (&Root{}).serialize(nil); !bytes.Equal(data, []byte{0}) {
		t.Errorf("unexpected encoding of empty root: %x", data)
	}
}

func TestManifest_SerializationRoundTrip(t *testing.T) {
	tags := NewTreeTags(Blake2sHasher)
	recovering := tags.clone()
	recovering.IsRecovering = true
	manifests := []*Manifest{
		{VersionCount: 0},
		{VersionCount: 42, Tags: tags},
		{VersionCount: 1 << 33, Tags: recovering},
	}
	for _, manifest := range manifests {
		restored, err := deserializeManifest(manifest.serialize(nil))
		if err != nil {
			t.Fatalf("failed to deserialize manifest: %v", err)
		}
		if !reflect.DeepEqual(restored, manifest) {
			t.Errorf("unexpected manifest: got %+v, want %+v", restored, manifest)
		}
	}
}

func TestManifest_TagsAreValidated(t *testing.T) {
	withTags := func(tags ...string) []byte {
		buf := appendLeb128(nil, 1)
		buf = appendLeb128(buf, uint64(len(tags)/2))
		for i := 0; i < len(tags); i += 2 {
			buf = appendTag(buf, tags[i], tags[i+1])
		}
		return buf
	}
	tests := []struct {
		name string
		data []byte
		kind DeserializeErrorKind
	}{
		{"missing hasher", withTags("architecture", "AR16MT", "depth", "256"), MissingTag},
		{"missing depth", withTags("architecture", "AR16MT", "hasher", "blake2s256"), MissingTag},
		{"unknown tag", withTags("architecture", "AR16MT", "color", "blue"), UnknownTag},
		{"malformed depth", withTags("architecture", "AR16MT", "depth", "deep", "hasher", "keccak256"), MalformedTag},
		{"malformed recovery flag", withTags("is_recovering", "maybe"), MalformedTag},
		{"invalid utf8", withTags("architecture", "\xff\xfe"), Utf8},
		{"truncated tag", withTags("architecture", "AR16MT")[:6], UnexpectedEOF},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := deserializeManifest(test.data)
			expectDeserializeError(t, err, test.kind)
		})
	}
}

func TestDeserializeError_MessageListsContexts(t *testing.T) {
	_, err := deserializeRoot([]byte{5, 0, 0})
	expectDeserializeError(t, err, UnexpectedEOF)
	var target *DeserializeError
	if !errors.As(error(err), &target) {
		t.Fatalf("error is not a deserialization error")
	}
	if len(target.Contexts) == 0 {
		t.Errorf("expected error context, got none: %v", err)
	}
}
