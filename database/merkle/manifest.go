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

import "fmt"

const (
	// architectureTag identifies the radix-16 tree layout.
	architectureTag = "AR16MT"
)

// TreeTags describe the configuration a tree was created with. They are
// checked whenever the tree is opened.
type TreeTags struct {
	Architecture string
	Depth        int
	Hasher       string
	IsRecovering bool
}

// NewTreeTags returns the tags of a tree using the given hasher.
func NewTreeTags(h Hasher) *TreeTags {
	return &TreeTags{
		Architecture: architectureTag,
		Depth:        TreeDepth,
		Hasher:       h.Name(),
	}
}

// assertConsistency panics if the tags do not match the hasher or the
// expected recovery state.
func (t *TreeTags) assertConsistency(h Hasher, expectRecovery bool) {
	if t.Architecture != architectureTag {
		panic(fmt.Sprintf("unsupported tree architecture %q, expected %q", t.Architecture, architectureTag))
	}
	if t.Depth != TreeDepth {
		panic(fmt.Sprintf("unexpected tree depth: expected %d, got %d", TreeDepth, t.Depth))
	}
	if t.Hasher != h.Name() {
		panic(fmt.Sprintf("mismatch between the tree hasher %q and the requested hasher %q", t.Hasher, h.Name()))
	}
	if t.IsRecovering != expectRecovery {
		if t.IsRecovering {
			panic("tree is still being recovered; finalize the recovery before using the tree")
		}
		panic("tree is not being recovered; it cannot be opened for recovery")
	}
}

func (t *TreeTags) clone() *TreeTags {
	if t == nil {
		return nil
	}
	res := *t
	return &res
}

// Manifest holds the tree-wide state: the number of committed versions and
// the tree tags.
type Manifest struct {
	VersionCount uint64
	Tags         *TreeTags
}

func (m Manifest) clone() Manifest {
	return Manifest{VersionCount: m.VersionCount, Tags: m.Tags.clone()}
}

// latestVersion returns the last committed version, if any.
func (m *Manifest) latestVersion() (uint64, bool) {
	if m.VersionCount == 0 {
		return 0, false
	}
	return m.VersionCount - 1, true
}
