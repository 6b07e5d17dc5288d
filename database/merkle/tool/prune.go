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
	"github.com/Sin7Y/ola-os-sub000/common/interrupt"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var Prune = cli.Command{
	Action:    withEnvironment(1, "directory storing the tree", prune),
	Name:      "prune",
	Usage:     "removes nodes not needed by the most recent versions",
	ArgsUsage: "<directory>",
	Flags: []cli.Flag{
		&keepFlag,
	},
}

func prune(context *cli.Context, env *environment) error {
	pruneCfg := env.config.Pruner
	pruneCfg.PastVersionsToKeep = context.Uint64(keepFlag.Name)
	pruner, handle := pruneCfg.NewPruner(env.db, env.log, env.metrics)
	defer handle.Abort()

	ctx, stop := interrupt.Register(context.Context, env.log)
	defer stop()
	var total int
	for !interrupt.IsCancelled(ctx) {
		stats, hasMoreWork, err := pruner.RunOnce()
		if err != nil {
			return err
		}
		if stats != nil {
			total += stats.PrunedKeyCount
		}
		if !hasMoreWork || stats == nil {
			env.log.Info("pruning done", zap.Int("pruned_keys", total))
			return nil
		}
	}
	return interrupt.ErrCanceled
}
