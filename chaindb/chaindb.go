// Package chaindb keeps the compact chain state on disk: the tip with its
// accumulator roots, every header seen on the main chain, and the undo
// records of the most recent blocks.
package chaindb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/utreexo/csnode/accumulator"
)

var (
	// ErrNotFound is returned when a key is not in the database.
	ErrNotFound = errors.New("not found in chain db")
)

const blockHeaderSize = 80

// key prefixes
var (
	tipKey       = []byte("tip")
	headerPrefix = []byte("h") // hash -> header, height
	heightPrefix = []byte("n") // height -> hash, main chain only
	undoPrefix   = []byte("u") // height -> undo record
)

// Tip is the chain state: the best header and the accumulator after it.
type Tip struct {
	Header    wire.BlockHeader
	Height    int32
	NumLeaves uint64
	Roots     []accumulator.Hash
}

// UndoRecord is what it takes to disconnect the block at Height.
type UndoRecord struct {
	Height int32
	Header wire.BlockHeader
	Undo   accumulator.UndoBlock
}

// Update is one atomic change to the chain state.
type Update struct {
	Tip *Tip

	// Disconnect lists main chain heights being taken off, tip first.
	Disconnect []int32
	// Connect lists blocks being added to the main chain, lowest first.
	Connect []*UndoRecord
	// Evict lists heights whose undo records are no longer kept.
	Evict []int32
}

// DB is the leveldb backed chain state store.
type DB struct {
	ldb *leveldb.DB
}

// Open opens or creates the database at path.
func Open(path string) (*DB, error) {
	ldb, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return New(ldb), nil
}

// New wraps an already open leveldb.
func New(ldb *leveldb.DB) *DB {
	return &DB{ldb: ldb}
}

// Close closes the database.
func (db *DB) Close() error {
	return db.ldb.Close()
}

func heightKey(prefix []byte, height int32) []byte {
	key := make([]byte, len(prefix)+4)
	copy(key, prefix)
	binary.BigEndian.PutUint32(key[len(prefix):], uint32(height))
	return key
}

func hashKey(hash *chainhash.Hash) []byte {
	return append(append([]byte{}, headerPrefix...), hash[:]...)
}

func (db *DB) get(key []byte) ([]byte, error) {
	val, err := db.ldb.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, fmt.Errorf("%w: key %x", ErrNotFound, key)
	}
	return val, err
}

// Apply writes an update in a single batch.
func (db *DB) Apply(u *Update) error {
	var batch leveldb.Batch
	for _, h := range u.Disconnect {
		batch.Delete(heightKey(heightPrefix, h))
		batch.Delete(heightKey(undoPrefix, h))
	}
	for _, rec := range u.Connect {
		hash := rec.Header.BlockHash()
		hb, err := serializeHeader(&rec.Header, rec.Height)
		if err != nil {
			return err
		}
		batch.Put(hashKey(&hash), hb)
		batch.Put(heightKey(heightPrefix, rec.Height), hash[:])

		var buf bytes.Buffer
		err = rec.Serialize(&buf)
		if err != nil {
			return err
		}
		batch.Put(heightKey(undoPrefix, rec.Height), buf.Bytes())
	}
	for _, h := range u.Evict {
		batch.Delete(heightKey(undoPrefix, h))
	}
	if u.Tip != nil {
		hash := u.Tip.Header.BlockHash()
		hb, err := serializeHeader(&u.Tip.Header, u.Tip.Height)
		if err != nil {
			return err
		}
		batch.Put(hashKey(&hash), hb)
		batch.Put(heightKey(heightPrefix, u.Tip.Height), hash[:])

		var buf bytes.Buffer
		err = u.Tip.Serialize(&buf)
		if err != nil {
			return err
		}
		batch.Put(tipKey, buf.Bytes())
	}

	err := db.ldb.Write(&batch, nil)
	if err != nil {
		return err
	}
	log.Debugf("wrote %d ops: -%d +%d blocks, %d undo records evicted",
		batch.Len(), len(u.Disconnect), len(u.Connect), len(u.Evict))
	return nil
}

// FetchTip returns the stored chain state, ErrNotFound if there is none.
func (db *DB) FetchTip() (*Tip, error) {
	val, err := db.get(tipKey)
	if err != nil {
		return nil, err
	}
	var tip Tip
	err = tip.Deserialize(bytes.NewReader(val))
	if err != nil {
		return nil, fmt.Errorf("corrupt tip: %v", err)
	}
	return &tip, nil
}

// FetchHeader returns a header and its height.
func (db *DB) FetchHeader(hash *chainhash.Hash) (*wire.BlockHeader, int32, error) {
	val, err := db.get(hashKey(hash))
	if err != nil {
		return nil, 0, err
	}
	if len(val) != blockHeaderSize+4 {
		return nil, 0, fmt.Errorf("corrupt header %s: %d bytes", hash, len(val))
	}
	var header wire.BlockHeader
	err = header.Deserialize(bytes.NewReader(val[:blockHeaderSize]))
	if err != nil {
		return nil, 0, err
	}
	return &header, int32(binary.BigEndian.Uint32(val[blockHeaderSize:])), nil
}

// FetchHashByHeight returns the hash of the main chain block at height.
func (db *DB) FetchHashByHeight(height int32) (*chainhash.Hash, error) {
	val, err := db.get(heightKey(heightPrefix, height))
	if err != nil {
		return nil, err
	}
	return chainhash.NewHash(val)
}

// FetchUndoRecords returns the undo records kept for heights from to to,
// lowest first. Heights without a record are skipped.
func (db *DB) FetchUndoRecords(from, to int32) ([]*UndoRecord, error) {
	if from < 0 {
		from = 0
	}
	if to < from {
		return nil, nil
	}
	rng := &util.Range{
		Start: heightKey(undoPrefix, from),
		Limit: heightKey(undoPrefix, to+1),
	}
	iter := db.ldb.NewIterator(rng, nil)
	defer iter.Release()

	var recs []*UndoRecord
	for iter.Next() {
		rec := new(UndoRecord)
		err := rec.Deserialize(bytes.NewReader(iter.Value()))
		if err != nil {
			return nil, fmt.Errorf("corrupt undo record %x: %v", iter.Key(), err)
		}
		recs = append(recs, rec)
	}
	return recs, iter.Error()
}

func serializeHeader(h *wire.BlockHeader, height int32) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(blockHeaderSize + 4)
	err := h.Serialize(&buf)
	if err != nil {
		return nil, err
	}
	err = binary.Write(&buf, binary.BigEndian, height)
	return buf.Bytes(), err
}
