// Package database provides the header downloader's default persistence
// layer: a LevelDB-backed implementation of headerdownload.Writer, batching
// writes and flushing on Commit the way SaveStage expects.
package database

import (
	"encoding/binary"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/glyphchain/hdsync/headerdownload"
)

var (
	headerPrefix    = []byte("h") // headerPrefix + num -> header bytes
	canonicalPrefix = []byte("c") // canonicalPrefix + num -> hash
)

// LevelDBWriter implements headerdownload.Writer over a LevelDB database.
// Writes accumulate in an in-memory batch and are flushed atomically on
// Commit, matching the "managed by an enclosing stage runner" contract in
// SPEC_FULL.md §6.
type LevelDBWriter struct {
	db    *leveldb.DB
	batch *leveldb.Batch
}

// NewLevelDBWriter opens (or creates) a LevelDB database at path.
func NewLevelDBWriter(path string) (*LevelDBWriter, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDBWriter{db: db, batch: new(leveldb.Batch)}, nil
}

func headerKey(num headerdownload.BlockNumber) []byte {
	return encodedKey(headerPrefix, num)
}

func canonicalKey(num headerdownload.BlockNumber) []byte {
	return encodedKey(canonicalPrefix, num)
}

func encodedKey(prefix []byte, num headerdownload.BlockNumber) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(num))
	return key
}

// PutHeader stages a header write in the current batch.
func (w *LevelDBWriter) PutHeader(num headerdownload.BlockNumber, header *headerdownload.BlockHeader) error {
	encoded, err := encodeHeader(header)
	if err != nil {
		return err
	}
	w.batch.Put(headerKey(num), encoded)
	return nil
}

// PutCanonicalHash stages a canonical-hash write in the current batch.
func (w *LevelDBWriter) PutCanonicalHash(num headerdownload.BlockNumber, hash headerdownload.BlockHash) error {
	w.batch.Put(canonicalKey(num), hash[:])
	return nil
}

// Commit flushes the accumulated batch to disk and resets it.
func (w *LevelDBWriter) Commit() error {
	if err := w.db.Write(w.batch, nil); err != nil {
		return err
	}
	w.batch = new(leveldb.Batch)
	return nil
}

// Close releases the underlying database handle.
func (w *LevelDBWriter) Close() error {
	return w.db.Close()
}

// encodeHeader produces a minimal, self-describing encoding of the fields
// this downloader actually carries; a full node's real header codec (RLP)
// is out of this package's scope.
func encodeHeader(h *headerdownload.BlockHeader) ([]byte, error) {
	buf := make([]byte, 0, 32+8+8+32+len(h.Extra))
	buf = append(buf, h.ParentHash[:]...)
	var numBuf [8]byte
	binary.BigEndian.PutUint64(numBuf[:], uint64(h.Number))
	buf = append(buf, numBuf[:]...)
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], h.Timestamp)
	buf = append(buf, tsBuf[:]...)
	if h.Difficulty != nil {
		d := h.Difficulty.Bytes32()
		buf = append(buf, d[:]...)
	} else {
		buf = append(buf, make([]byte, 32)...)
	}
	buf = append(buf, h.Extra...)
	return buf, nil
}
