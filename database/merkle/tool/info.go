// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

var Info = cli.Command{
	Action:    withEnvironment(1, "directory storing the tree", info),
	Name:      "info",
	Usage:     "lists information about a stored tree",
	ArgsUsage: "<directory>",
}

func info(context *cli.Context, env *environment) error {
	manifest, err := env.db.TryManifest()
	if err != nil {
		return err
	}
	if manifest == nil {
		fmt.Printf("Directory does not contain a tree\n")
		return nil
	}
	fmt.Printf("Directory contains a tree with the following properties:\n")
	fmt.Printf("\tVersions:        %d\n", manifest.VersionCount)
	if tags := manifest.Tags; tags != nil {
		fmt.Printf("\tArchitecture:    %s\n", tags.Architecture)
		fmt.Printf("\tDepth:           %d\n", tags.Depth)
		fmt.Printf("\tHasher:          %s\n", tags.Hasher)
		if tags.IsRecovering {
			fmt.Printf("\tRecovering:      version %d\n", manifest.VersionCount-1)
			return nil
		}
	}

	tree, err := env.openTree()
	if err != nil {
		return err
	}
	root, err := tree.LatestRoot()
	if err != nil {
		return err
	}
	if root == nil {
		return nil
	}
	fmt.Printf("\tLatest root hash: %v\n", root.Hash(tree.Hasher()))
	fmt.Printf("\tLeaf count:       %d\n", root.LeafCount)

	minStale, found, err := env.db.MinStaleKeyVersion()
	if err != nil {
		return err
	}
	if found {
		fmt.Printf("\tOldest stale keys: version %d\n", minStale)
	}
	return nil
}
