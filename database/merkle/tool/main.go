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
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime/pprof"
	"strings"

	"github.com/Sin7Y/ola-os-sub000/backend"
	"github.com/Sin7Y/ola-os-sub000/config"
	"github.com/Sin7Y/ola-os-sub000/database/merkle"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// Run using
//  go run ./database/merkle/tool <command> <flags>

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "YAML configuration file, defaults are used if empty",
	}
	storageFlag = cli.StringFlag{
		Name:  "storage",
		Usage: "type of the store holding the tree (leveldb, boltdb), overrides the configuration",
	}
	logLevelFlag = cli.StringFlag{
		Name:  "log-level",
		Usage: "minimum level of logged messages, overrides the configuration",
	}
	metricsPortFlag = cli.IntFlag{
		Name:  "metrics-port",
		Usage: "enable serving prometheus metrics on the given port",
		Value: 0,
	}
	cpuProfileFlag = cli.StringFlag{
		Name:  "cpuprofile",
		Usage: "sets the target file for storing CPU profiles to, disabled if empty",
		Value: "",
	}
	versionFlag = cli.Uint64Flag{
		Name:  "version",
		Usage: "tree version to operate on, defaults to the latest version",
	}
	keepFlag = cli.Uint64Flag{
		Name:     "keep",
		Usage:    "number of versions to keep",
		Required: true,
	}
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "tool",
		Usage: "AR16MT Merkle tree toolbox",
		Flags: []cli.Flag{
			&configFlag,
			&storageFlag,
			&logLevelFlag,
			&metricsPortFlag,
			&cpuProfileFlag,
		},
		Commands: []*cli.Command{
			&Info,
			&Verify,
			&Prune,
			&ExportCmd,
			&ImportCmd,
			&Truncate,
		},
	}
}

// environment bundles everything a command needs to work on a tree.
type environment struct {
	config  config.Config
	log     *zap.Logger
	metrics merkle.Metrics
	db      *merkle.KVDatabase
}

// openEnvironment loads the configuration, applies command line overrides
// and opens the database stored in dir.
func openEnvironment(context *cli.Context, dir string) (*environment, error) {
	cfg := config.Default()
	if path := context.String(configFlag.Name); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if storage := context.String(storageFlag.Name); storage != "" {
		cfg.Storage.Type = storage
	}
	if cfg.Storage.Type == backend.MemoryType {
		return nil, fmt.Errorf("the tool can only work on persistent storage")
	}
	cfg.Storage.Path = dir
	if level := context.String(logLevelFlag.Name); level != "" {
		cfg.Logger.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := cfg.Logger.Build()
	if err != nil {
		return nil, err
	}
	metrics, err := startMetrics(context.Int(metricsPortFlag.Name), log)
	if err != nil {
		return nil, err
	}
	db, err := cfg.Storage.OpenDatabase(log, metrics)
	if err != nil {
		return nil, err
	}
	return &environment{config: cfg, log: log, metrics: metrics, db: db}, nil
}

func (e *environment) treeOptions() ([]merkle.Option, error) {
	opts, err := e.config.Storage.TreeOptions(e.log)
	if err != nil {
		return nil, err
	}
	return append(opts, merkle.WithMetrics(e.metrics)), nil
}

func (e *environment) openTree() (*merkle.Tree, error) {
	opts, err := e.treeOptions()
	if err != nil {
		return nil, err
	}
	return merkle.Open(e.db, opts...)
}

func (e *environment) Close() error {
	// Syncing fails for console outputs, there is nothing to report.
	_ = e.log.Sync()
	return e.db.Close()
}

// withEnvironment runs a command on the database stored in the directory
// given as the first argument.
func withEnvironment(argCount int, usage string, action func(*cli.Context, *environment) error) cli.ActionFunc {
	return func(context *cli.Context) (err error) {
		if context.Args().Len() != argCount {
			return fmt.Errorf("missing %s", usage)
		}

		cpuProfileFileName := context.String(cpuProfileFlag.Name)
		if strings.TrimSpace(cpuProfileFileName) != "" {
			if err := startCpuProfiler(cpuProfileFileName); err != nil {
				return err
			}
			defer stopCpuProfiler()
		}

		env, err := openEnvironment(context, context.Args().Get(0))
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, env.Close())
		}()
		return action(context, env)
	}
}

// startMetrics serves metrics on the given port. With a port of zero,
// metrics are only counted in memory.
func startMetrics(port int, log *zap.Logger) (merkle.Metrics, error) {
	if port <= 0 || port >= (1<<16) {
		return merkle.NewMetrics("merkle_tree", nil)
	}
	registry := prometheus.NewRegistry()
	metrics, err := merkle.NewMetrics("merkle_tree", registry)
	if err != nil {
		return nil, err
	}
	addr := fmt.Sprintf("localhost:%d", port)
	log.Info("serving metrics", zap.String("address", "http://"+addr+"/metrics"))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	return metrics, nil
}

func startCpuProfiler(filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("could not create CPU profile: %s", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		return fmt.Errorf("could not start CPU profile: %s", err)
	}
	return nil
}

func stopCpuProfiler() {
	pprof.StopCPUProfile()
}

// targetVersion returns the version selected by the version flag or the
// latest version of the tree.
func targetVersion(context *cli.Context, tree *merkle.Tree) (uint64, error) {
	if context.IsSet(versionFlag.Name) {
		return context.Uint64(versionFlag.Name), nil
	}
	version, found, err := tree.LatestVersion()
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("tree is empty")
	}
	return version, nil
}
