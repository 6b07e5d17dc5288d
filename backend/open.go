// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package backend

import (
	"fmt"
	"path/filepath"
)

// Supported store types.
const (
	MemoryType  = "memory"
	LevelDBType = "leveldb"
	BoltDBType  = "boltdb"
)

// StoreConfig describes which Store implementation is used and where it
// keeps its data.
type StoreConfig struct {
	Type    string         `yaml:"type"`
	Path    string         `yaml:"path"`
	LevelDB LevelDBOptions `yaml:"leveldb"`
	BoltDB  BoltOptions    `yaml:"boltdb"`
}

// boltFileName is the name of the BoltDB file within the configured directory.
const boltFileName = "tree.bolt"

// OpenStore creates the store described by the given configuration.
func OpenStore(cfg StoreConfig) (Store, error) {
	switch cfg.Type {
	case MemoryType:
		return NewMemoryStore(), nil
	case LevelDBType:
		return OpenLevelDb(cfg.Path, cfg.LevelDB)
	case BoltDBType:
		return OpenBolt(filepath.Join(cfg.Path, boltFileName), cfg.BoltDB)
	default:
		return nil, fmt.Errorf("unknown storage type: %q", cfg.Type)
	}
}
