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
	"fmt"
	"strings"
)

// DeserializeErrorKind enumerates the reasons for failing to decode stored
// tree data.
type DeserializeErrorKind int

const (
	UnexpectedEOF DeserializeErrorKind = iota
	Leb128
	InvalidChildKind
	NoChildren
	Utf8
	MissingTag
	UnknownTag
	MalformedTag
)

func (k DeserializeErrorKind) String() string {
	switch k {
	case UnexpectedEOF:
		return "unexpected end of input"
	case Leb128:
		return "malformed LEB128 encoding"
	case InvalidChildKind:
		return "invalid child kind"
	case NoChildren:
		return "internal node without children"
	case Utf8:
		return "invalid UTF-8 string"
	case MissingTag:
		return "missing tag"
	case UnknownTag:
		return "unknown tag"
	case MalformedTag:
		return "malformed tag"
	}
	return fmt.Sprintf("DeserializeErrorKind(%d)", int(k))
}

// ErrorContext names the piece of data being decoded when an error occurred.
type ErrorContext struct {
	kind    errorContextKind
	key     NodeKey
	version uint64
}

type errorContextKind int

const (
	nodeContext errorContextKind = iota
	rootContext
	manifestContext
	leafIndexContext
	childRefHashContext
	versionContext
	childrenMaskContext
	leafCountContext
)

func (c ErrorContext) String() string {
	switch c.kind {
	case nodeContext:
		return fmt.Sprintf("node %v", c.key)
	case rootContext:
		return fmt.Sprintf("root at version %d", c.version)
	case manifestContext:
		return "tree manifest"
	case leafIndexContext:
		return "leaf index"
	case childRefHashContext:
		return "child ref hash"
	case versionContext:
		return "child ref version"
	case childrenMaskContext:
		return "children mask"
	case leafCountContext:
		return "leaf count"
	}
	return "unknown context"
}

// DeserializeError is returned when stored tree data cannot be decoded.
type DeserializeError struct {
	Kind DeserializeErrorKind
	// Detail provides the tag name or the underlying parse error, if any.
	Detail string
	// Contexts lists what was decoded, from the innermost to the outermost.
	Contexts []ErrorContext
}

func newDeserializeError(kind DeserializeErrorKind, detail string) *DeserializeError {
	return &DeserializeError{Kind: kind, Detail: detail}
}

func (e *DeserializeError) withContext(ctx ErrorContext) *DeserializeError {
	e.Contexts = append(e.Contexts, ctx)
	return e
}

func (e *DeserializeError) Error() string {
	var builder strings.Builder
	builder.WriteString(e.Kind.String())
	if e.Detail != "" {
		builder.WriteString(": ")
		builder.WriteString(e.Detail)
	}
	for _, ctx := range e.Contexts {
		builder.WriteString(", while deserializing ")
		builder.WriteString(ctx.String())
	}
	return builder.String()
}

// NoVersionError is returned when querying a version that does not exist.
type NoVersionError struct {
	MissingVersion uint64
	VersionCount   uint64
}

func (e *NoVersionError) Error() string {
	if e.MissingVersion >= e.VersionCount {
		return fmt.Sprintf("version %d does not exist in the tree with %d versions", e.MissingVersion, e.VersionCount)
	}
	return fmt.Sprintf("version %d was pruned", e.MissingVersion)
}
