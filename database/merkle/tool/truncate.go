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
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var Truncate = cli.Command{
	Action:    withEnvironment(1, "directory storing the tree", truncate),
	Name:      "truncate",
	Usage:     "removes the most recent versions of a tree",
	ArgsUsage: "<directory>",
	Flags: []cli.Flag{
		&keepFlag,
	},
}

func truncate(context *cli.Context, env *environment) error {
	tree, err := env.openTree()
	if err != nil {
		return err
	}
	keep := context.Uint64(keepFlag.Name)
	if err := tree.TruncateRecentVersions(keep); err != nil {
		return err
	}
	env.log.Info("truncated tree", zap.Uint64("retained_versions", keep))
	return nil
}
