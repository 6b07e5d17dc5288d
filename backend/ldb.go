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
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBOptions configures a LevelDB backed store. Zero values keep the
// LevelDB defaults.
type LevelDBOptions struct {
	ReadOnly               bool `yaml:"read_only"`
	WriteBufferSize        int  `yaml:"write_buffer_size"`
	BlockCacheCapacity     int  `yaml:"block_cache_capacity"`
	CompactionTableSize    int  `yaml:"compaction_table_size"`
	OpenFilesCacheCapacity int  `yaml:"open_files_cache_capacity"`
}

// LevelDbStore is a Store backed by a LevelDB instance.
type LevelDbStore struct {
	db   *leveldb.DB
	path string
}

// OpenLevelDb opens or creates the LevelDB database in the given directory.
func OpenLevelDb(path string, options LevelDBOptions) (*LevelDbStore, error) {
	opts := &opt.Options{
		Filter: filter.NewBloomFilter(10),
	}
	if options.ReadOnly {
		opts.ReadOnly = true
		opts.ErrorIfMissing = true
	}
	if options.WriteBufferSize > 0 {
		opts.WriteBuffer = options.WriteBufferSize
	}
	if options.BlockCacheCapacity > 0 {
		opts.BlockCacheCapacity = options.BlockCacheCapacity
	}
	if options.CompactionTableSize > 0 {
		opts.CompactionTableSize = options.CompactionTableSize
	}
	if options.OpenFilesCacheCapacity > 0 {
		opts.OpenFilesCacheCapacity = options.OpenFilesCacheCapacity
	}
	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open LevelDB instance in %s: %w", path, err)
	}
	return &LevelDbStore{db: db, path: path}, nil
}

func (s *LevelDbStore) Get(key []byte) ([]byte, error) {
	value, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (s *LevelDbStore) Write(batch *Batch) error {
	var b leveldb.Batch
	for _, op := range batch.Operations() {
		if op.Value == nil {
			b.Delete(op.Key)
		} else {
			b.Put(op.Key, op.Value)
		}
	}
	return s.db.Write(&b, &opt.WriteOptions{Sync: true})
}

func (s *LevelDbStore) Seek(rng SeekRange, f func(k, v []byte) bool) error {
	slice := util.BytesPrefix(rng.Prefix)
	slice.Start = seekStart(rng)
	iter := s.db.NewIterator(slice, nil)
	defer iter.Release()
	for iter.Next() {
		if !f(iter.Key(), iter.Value()) {
			break
		}
	}
	return iter.Error()
}

func (s *LevelDbStore) Close() error {
	return s.db.Close()
}

func (s *LevelDbStore) String() string {
	return fmt.Sprintf("leveldb(%s)", s.path)
}
