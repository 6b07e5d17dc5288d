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
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Sin7Y/ola-os-sub000/common/interrupt"
	"github.com/Sin7Y/ola-os-sub000/database/merkle/io"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var ExportCmd = cli.Command{
	Action:    withEnvironment(2, "tree directory and/or target file parameter", doExport),
	Name:      "export",
	Usage:     "exports the entries of a tree version into a gzip compressed file",
	ArgsUsage: "<tree directory> <target-file>",
	Flags: []cli.Flag{
		&versionFlag,
	},
}

var ImportCmd = cli.Command{
	Action:    withEnvironment(2, "tree directory and/or source file parameter", doImport),
	Name:      "import",
	Usage:     "recovers a tree from an exported file, an interrupted import can be resumed",
	ArgsUsage: "<tree directory> <source-file>",
}

func doExport(context *cli.Context, env *environment) error {
	tree, err := env.openTree()
	if err != nil {
		return err
	}
	version, err := targetVersion(context, tree)
	if err != nil {
		return err
	}

	start := time.Now()
	env.log.Info("export started", zap.Uint64("version", version))
	file, err := os.Create(context.Args().Get(1))
	if err != nil {
		return err
	}
	bufferedWriter := bufio.NewWriter(file)
	out := gzip.NewWriter(bufferedWriter)

	ctx, stop := interrupt.Register(context.Context, env.log)
	defer stop()
	header, exportErr := io.Export(ctx, tree, version, out)
	if err = errors.Join(
		exportErr,
		out.Close(),
		bufferedWriter.Flush(),
		file.Close(),
	); err != nil {
		return err
	}
	env.log.Info("export done",
		zap.Uint64("version", version),
		zap.Uint64("entries", header.LeafCount),
		zap.Stringer("root_hash", header.RootHash),
		zap.Duration("time", time.Since(start)))
	return nil
}

func doImport(context *cli.Context, env *environment) (err error) {
	file, err := os.Open(context.Args().Get(1))
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()
	in, err := gzip.NewReader(bufio.NewReader(file))
	if err != nil {
		return fmt.Errorf("failed to open compressed stream: %w", err)
	}

	start := time.Now()
	env.log.Info("import started")
	ctx, stop := interrupt.Register(context.Context, env.log)
	defer stop()
	tree, err := io.Import(ctx, env.db, in, env.log)
	if err != nil {
		return err
	}
	version, _, err := tree.LatestVersion()
	if err != nil {
		return err
	}
	if err := tree.VerifyConsistency(version, true); err != nil {
		return fmt.Errorf("imported tree is inconsistent: %w", err)
	}
	env.log.Info("import done", zap.Uint64("version", version), zap.Duration("time", time.Since(start)))
	return nil
}
