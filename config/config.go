// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Sin7Y/ola-os-sub000/backend"
	"github.com/Sin7Y/ola-os-sub000/database/merkle"
	"github.com/Sin7Y/ola-os-sub000/database/merkle/snapshot"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the top level configuration of a tree instance.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Pruner   Pruner   `yaml:"pruner"`
	Recovery Recovery `yaml:"recovery"`
	Logger   Logger   `yaml:"logger"`
}

// Storage configures the key-value store holding the tree.
type Storage struct {
	backend.StoreConfig `yaml:",inline"`
	// Hasher names the hasher of the tree; see merkle.GetHasher.
	Hasher string `yaml:"hasher"`
	// NodeCacheSize is the number of nodes cached in memory, 0 disables the cache.
	NodeCacheSize int `yaml:"node_cache_size"`
}

type Pruner struct {
	PastVersionsToKeep   uint64        `yaml:"past_versions_to_keep"`
	TargetPrunedKeyCount int           `yaml:"target_pruned_key_count"`
	PollInterval         time.Duration `yaml:"poll_interval"`
}

type Recovery struct {
	// ChunkSize must not change while a recovery is in progress.
	ChunkSize       uint64        `yaml:"chunk_size"`
	Concurrency     int           `yaml:"concurrency"`
	MaxFetchRetries uint64        `yaml:"max_fetch_retries"`
	RetryInterval   time.Duration `yaml:"retry_interval"`
}

type Logger struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

// Default returns the configuration used for values missing in a file.
func Default() Config {
	return Config{
		Storage: Storage{
			StoreConfig: backend.StoreConfig{
				Type: backend.LevelDBType,
				Path: "tree",
			},
			Hasher:        merkle.Blake2sHasher.Name(),
			NodeCacheSize: 1 << 16,
		},
		Pruner: Pruner{
			PastVersionsToKeep:   1,
			TargetPrunedKeyCount: 500_000,
			PollInterval:         time.Minute,
		},
		Recovery: Recovery{
			ChunkSize:       snapshot.DefaultChunkSize,
			Concurrency:     8,
			MaxFetchRetries: 5,
			RetryInterval:   100 * time.Millisecond,
		},
		Logger: Logger{
			Level:    "info",
			Encoding: "console",
		},
	}
}

// Load reads the configuration from the YAML file at the given path. Values
// not present in the file keep their defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("unable to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML configuration on top of the defaults and validates it.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("unable to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot be used.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Type {
	case backend.MemoryType:
	case backend.LevelDBType, backend.BoltDBType:
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("storage path must be set for %s storage", c.Storage.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage type %q", c.Storage.Type))
	}
	if _, err := merkle.GetHasher(c.Storage.Hasher); err != nil {
		errs = append(errs, err)
	}
	if c.Storage.NodeCacheSize < 0 {
		errs = append(errs, fmt.Errorf("node cache size must not be negative"))
	}
	if c.Pruner.TargetPrunedKeyCount <= 0 {
		errs = append(errs, fmt.Errorf("target pruned key count must be positive"))
	}
	if c.Pruner.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("pruner poll interval must be positive"))
	}
	if c.Recovery.ChunkSize == 0 {
		errs = append(errs, fmt.Errorf("recovery chunk size must be positive"))
	}
	if c.Recovery.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("recovery concurrency must be positive"))
	}
	if _, err := zapcore.ParseLevel(c.Logger.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Logger.Encoding != "console" && c.Logger.Encoding != "json" {
		errs = append(errs, fmt.Errorf("unknown log encoding %q", c.Logger.Encoding))
	}
	return errors.Join(errs...)
}

// Build creates the logger described by the configuration.
func (l Logger) Build() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.Encoding = l.Encoding
	if l.Encoding == "console" {
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// OpenDatabase opens the store and wraps it into a tree database.
func (s Storage) OpenDatabase(log *zap.Logger, metrics merkle.Metrics) (*merkle.KVDatabase, error) {
	store, err := backend.OpenStore(s.StoreConfig)
	if err != nil {
		return nil, err
	}
	opts := []merkle.KVOption{merkle.WithDatabaseLogger(log)}
	if s.NodeCacheSize > 0 {
		opts = append(opts, merkle.WithNodeCache(s.NodeCacheSize))
	}
	if metrics != nil {
		opts = append(opts, merkle.WithDatabaseMetrics(metrics))
	}
	db, err := merkle.NewKVDatabase(store, opts...)
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}
	return db, nil
}

// TreeOptions returns the options for opening a tree on the configured storage.
func (s Storage) TreeOptions(log *zap.Logger) ([]merkle.Option, error) {
	hasher, err := merkle.GetHasher(s.Hasher)
	if err != nil {
		return nil, err
	}
	return []merkle.Option{merkle.WithHasher(hasher), merkle.WithLogger(log)}, nil
}

// NewPruner creates a pruner for the given database. A nil metrics sink
// disables pruner metrics.
func (p Pruner) NewPruner(db merkle.PruneDatabase, log *zap.Logger, metrics merkle.Metrics) (*merkle.Pruner, *merkle.PrunerHandle) {
	opts := []merkle.PrunerOption{merkle.WithPrunerLogger(log)}
	if metrics != nil {
		opts = append(opts, merkle.WithPrunerMetrics(metrics))
	}
	pruner, handle := merkle.NewPruner(db, p.PastVersionsToKeep, opts...)
	pruner.SetTargetPrunedKeyCount(p.TargetPrunedKeyCount)
	pruner.SetPollInterval(p.PollInterval)
	return pruner, handle
}

// Options returns the options of a snapshot recoverer.
func (r Recovery) Options(log *zap.Logger) []snapshot.Option {
	return []snapshot.Option{
		snapshot.WithChunkSize(r.ChunkSize),
		snapshot.WithConcurrency(r.Concurrency),
		snapshot.WithMaxFetchRetries(r.MaxFetchRetries, r.RetryInterval),
		snapshot.WithLogger(log),
	}
}
