// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package io

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/Sin7Y/ola-os-sub000/common"
	"github.com/Sin7Y/ola-os-sub000/common/interrupt"
	"github.com/Sin7Y/ola-os-sub000/database/merkle"
	"go.uber.org/zap"
)

// This file provides a pair of export and import functions serializing the
// entries of a single tree version into a data stream, which can be used to
// transfer a tree between systems or to seed a snapshot recovery.
//
// Format:
//
//  file   ::= <magic-number> <format-version> <header> [<entry>]*
//  header ::= 'H' <uvarint hasher-name-length> <hasher-name>
//             <8-byte big-endian version> <root-hash> <uvarint leaf-count>
//  entry  ::= 'E' <key> <value-hash> <uvarint leaf-index>
//
// Entries are ordered by key. The produced data stream may be further
// compressed (e.g. using Gzip) to reduce its size.

var magicNumber = []byte("AR16MT-entries")

const formatVersion = byte(1)

// ErrTreeExists is returned when importing into a database that already
// holds a tree.
const ErrTreeExists = common.ConstError("database already contains a tree")

// importBatchSize is the number of entries applied to a recovery at once.
const importBatchSize = 10_000

// Header describes the exported tree version.
type Header struct {
	Hasher    string
	Version   uint64
	RootHash  merkle.ValueHash
	LeafCount uint64
}

// Export writes all entries of the given tree version to out.
func Export(ctx context.Context, tree *merkle.Tree, version uint64, out io.Writer) (*Header, error) {
	hash, found, err := tree.RootHash(version)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("tree has no version %d", version)
	}
	header := &Header{Hasher: tree.Hasher().Name(), Version: version, RootHash: hash}

	// The leaf count is only known after visiting all entries, so entries
	// are counted in a first pass.
	if err := tree.ForEachEntry(version, func(merkle.TreeEntry) bool {
		header.LeafCount++
		return true
	}); err != nil {
		return nil, err
	}

	writer := bufio.NewWriter(out)
	if err := writeHeader(writer, header); err != nil {
		return nil, err
	}
	var (
		buffer   []byte
		writeErr error
		count    int
	)
	err = tree.ForEachEntry(version, func(entry merkle.TreeEntry) bool {
		count++
		if count%100_000 == 0 && interrupt.IsCancelled(ctx) {
			writeErr = interrupt.ErrCanceled
			return false
		}
		buffer = append(buffer[:0], 'E')
		buffer = append(buffer, entry.Key[:]...)
		buffer = append(buffer, entry.Value[:]...)
		buffer = binary.AppendUvarint(buffer, entry.LeafIndex)
		_, writeErr = writer.Write(buffer)
		return writeErr == nil
	})
	if err = errors.Join(err, writeErr); err != nil {
		return nil, err
	}
	return header, writer.Flush()
}

func writeHeader(out io.Writer, header *Header) error {
	buffer := append([]byte{}, magicNumber...)
	buffer = append(buffer, formatVersion, 'H')
	buffer = binary.AppendUvarint(buffer, uint64(len(header.Hasher)))
	buffer = append(buffer, header.Hasher...)
	buffer = binary.BigEndian.AppendUint64(buffer, header.Version)
	buffer = append(buffer, header.RootHash[:]...)
	buffer = binary.AppendUvarint(buffer, header.LeafCount)
	_, err := out.Write(buffer)
	return err
}

// ReadHeader reads and checks the beginning of an exported stream.
func ReadHeader(in *bufio.Reader) (*Header, error) {
	buffer := make([]byte, len(magicNumber))
	if _, err := io.ReadFull(in, buffer); err != nil {
		return nil, err
	} else if !bytes.Equal(buffer, magicNumber) {
		return nil, fmt.Errorf("invalid format, wrong magic number")
	}

	if _, err := io.ReadFull(in, buffer[0:2]); err != nil {
		return nil, err
	} else if buffer[0] != formatVersion {
		return nil, fmt.Errorf("invalid format, unsupported version %d", buffer[0])
	} else if buffer[1] != 'H' {
		return nil, fmt.Errorf("invalid format, missing header")
	}

	nameLength, err := binary.ReadUvarint(in)
	if err != nil {
		return nil, err
	}
	if nameLength > 64 {
		return nil, fmt.Errorf("invalid format, hasher name of %d bytes", nameLength)
	}
	name := make([]byte, nameLength)
	if _, err := io.ReadFull(in, name); err != nil {
		return nil, err
	}
	header := &Header{Hasher: string(name)}
	var version [8]byte
	if _, err := io.ReadFull(in, version[:]); err != nil {
		return nil, err
	}
	header.Version = binary.BigEndian.Uint64(version[:])
	if _, err := io.ReadFull(in, header.RootHash[:]); err != nil {
		return nil, err
	}
	if header.LeafCount, err = binary.ReadUvarint(in); err != nil {
		return nil, err
	}
	return header, nil
}

// Import recovers a tree from an exported stream. An import interrupted
// through ctx can be resumed by importing the same stream again; entries
// recovered before are skipped.
func Import(ctx context.Context, db merkle.PruneDatabase, in io.Reader, log *zap.Logger) (*merkle.Tree, error) {
	reader := bufio.NewReader(in)
	header, err := ReadHeader(reader)
	if err != nil {
		return nil, err
	}
	hasher, err := merkle.GetHasher(header.Hasher)
	if err != nil {
		return nil, err
	}
	manifest, err := db.TryManifest()
	if err != nil {
		return nil, err
	}
	if manifest != nil && manifest.VersionCount > 0 {
		if manifest.Tags == nil || !manifest.Tags.IsRecovering {
			return nil, ErrTreeExists
		}
		if recovered := manifest.VersionCount - 1; recovered != header.Version {
			return nil, fmt.Errorf("database recovers version %d, stream contains version %d", recovered, header.Version)
		}
	}
	recovery, err := merkle.OpenRecovery(db, header.Version, merkle.WithHasher(hasher), merkle.WithLogger(log))
	if err != nil {
		return nil, err
	}
	lastKey, resumed, err := recovery.LastProcessedKey()
	if err != nil {
		return nil, err
	}
	if resumed {
		log.Info("resuming import", zap.Stringer("last_key", lastKey))
	}

	var (
		batch    = make([]merkle.TreeEntry, 0, importBatchSize)
		token    [1]byte
		imported uint64
		entry    merkle.TreeEntry
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := recovery.ExtendLinear(batch); err != nil {
			return err
		}
		imported += uint64(len(batch))
		batch = batch[:0]
		if interrupt.IsCancelled(ctx) {
			return interrupt.ErrCanceled
		}
		return nil
	}
	for {
		if _, err := io.ReadFull(reader, token[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if token[0] != 'E' {
			return nil, fmt.Errorf("format error encountered, unexpected token type: %c", token[0])
		}
		if _, err := io.ReadFull(reader, entry.Key[:]); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(reader, entry.Value[:]); err != nil {
			return nil, err
		}
		if entry.LeafIndex, err = binary.ReadUvarint(reader); err != nil {
			return nil, err
		}
		if resumed && entry.Key.Compare(lastKey) <= 0 {
			continue
		}
		batch = append(batch, entry)
		if len(batch) == importBatchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	log.Info("imported entries", zap.Uint64("entries", imported), zap.Uint64("version", header.Version))

	hash, err := recovery.RootHash()
	if err != nil {
		return nil, err
	}
	if hash != header.RootHash {
		return nil, fmt.Errorf("failed to reproduce tree, root hashes do not match: got %v, want %v", hash, header.RootHash)
	}
	return recovery.Finalize()
}
