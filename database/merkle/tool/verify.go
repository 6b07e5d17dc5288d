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
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var indicesFlag = cli.BoolFlag{
	Name:  "indices",
	Usage: "also check that leaf indices are unique and contiguous",
}

var Verify = cli.Command{
	Action:    withEnvironment(1, "directory storing the tree", verify),
	Name:      "verify",
	Usage:     "verifies the consistency of a tree version",
	ArgsUsage: "<directory>",
	Flags: []cli.Flag{
		&versionFlag,
		&indicesFlag,
	},
}

func verify(context *cli.Context, env *environment) error {
	tree, err := env.openTree()
	if err != nil {
		return err
	}
	version, err := targetVersion(context, tree)
	if err != nil {
		return err
	}
	start := time.Now()
	env.log.Info("starting verification", zap.Uint64("version", version))
	if err := tree.VerifyConsistency(version, context.Bool(indicesFlag.Name)); err != nil {
		return fmt.Errorf("tree version %d is inconsistent: %w", version, err)
	}
	env.log.Info("verification successful", zap.Uint64("version", version), zap.Duration("time", time.Since(start)))
	return nil
}
