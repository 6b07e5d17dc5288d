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
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

// BoltOptions configures a BoltDB backed store.
type BoltOptions struct {
	ReadOnly bool `yaml:"read_only"`
}

var boltBucket = []byte("tree")

// BoltStore is a Store backed by a single bucket of a BoltDB file.
type BoltStore struct {
	db *bbolt.DB
}

// OpenBolt opens or creates the BoltDB file at the given path.
func OpenBolt(file string, options BoltOptions) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(file), 0700); err != nil {
		return nil, fmt.Errorf("could not create dir for BoltDB: %w", err)
	}
	db, err := bbolt.Open(file, 0600, &bbolt.Options{ReadOnly: options.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB file %s: %w", file, err)
	}
	if !options.ReadOnly {
		err = db.Update(func(tx *bbolt.Tx) error {
			if _, err := tx.CreateBucketIfNotExists(boltBucket); err != nil {
				return fmt.Errorf("could not create root bucket: %w", err)
			}
			return nil
		})
		if err != nil {
			return nil, closeOnError(err, db)
		}
	}
	return &BoltStore{db: db}, nil
}

func closeOnError(err error, db *bbolt.DB) error {
	if closeErr := db.Close(); closeErr != nil {
		return fmt.Errorf("%w; closing failed: %v", err, closeErr)
	}
	return err
}

func (s *BoltStore) Get(key []byte) (value []byte, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltBucket)
		if b == nil {
			return nil
		}
		// Values are only valid while the transaction is open.
		value = bytes.Clone(b.Get(key))
		return nil
	})
	if err == nil && value == nil {
		err = ErrNotFound
	}
	return
}

func (s *BoltStore) Write(batch *Batch) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltBucket)
		for _, op := range batch.Operations() {
			var err error
			if op.Value == nil {
				err = b.Delete(op.Key)
			} else {
				err = b.Put(op.Key, op.Value)
			}
			if err != nil {
				return fmt.Errorf("failed to apply %v: %w", op, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) Seek(rng SeekRange, f func(k, v []byte) bool) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(boltBucket)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(seekStart(rng)); k != nil && bytes.HasPrefix(k, rng.Prefix); k, v = c.Next() {
			if !f(k, v) {
				break
			}
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
