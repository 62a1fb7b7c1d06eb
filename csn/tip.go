package csn

import (
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/utreexo/csnode/accumulator"
	"github.com/utreexo/csnode/chaindb"
	uwire "github.com/utreexo/csnode/wire"
)

// tip is the mutable part of the chain state. Mutations run on a clone and
// the clone replaces the live tip once it is on disk.
type tip struct {
	header wire.BlockHeader
	hash   chainhash.Hash
	height int32
	stump  accumulator.Stump

	// undo holds the records of the most recent blocks, oldest first. The
	// last one is for the block at height.
	undo []*chaindb.UndoRecord
}

func (t *tip) clone() *tip {
	return &tip{
		header: t.header,
		hash:   t.hash,
		height: t.height,
		stump:  t.stump.Clone(),
		undo:   append([]*chaindb.UndoRecord(nil), t.undo...),
	}
}

func (t *tip) dbTip() *chaindb.Tip {
	return &chaindb.Tip{
		Header:    t.header,
		Height:    t.height,
		NumLeaves: t.stump.NumLeaves,
		Roots:     append([]accumulator.Hash(nil), t.stump.Roots...),
	}
}

// same says if both tips are at the same block with the same accumulator.
func (t *tip) same(o *tip) bool {
	return t.hash == o.hash && t.height == o.height && t.stump.Equal(&o.stump)
}

// trimUndo drops records past max and returns their heights.
func (t *tip) trimUndo(max int32) []int32 {
	extra := len(t.undo) - int(max)
	if extra <= 0 {
		return nil
	}
	evicted := make([]int32, extra)
	for i, rec := range t.undo[:extra] {
		evicted[i] = rec.Height
	}
	t.undo = append([]*chaindb.UndoRecord(nil), t.undo[extra:]...)
	return evicted
}

// checkBlockSanity checks what can be checked on the block alone.
func checkBlockSanity(blk *wire.MsgBlock) error {
	hash := blk.BlockHash()
	if len(blk.Transactions) == 0 {
		return chainError(ErrMalformedBlock, nil,
			"block %s has no transactions", hash)
	}
	if !blockchain.IsCoinBaseTx(blk.Transactions[0]) {
		return chainError(ErrMalformedBlock, nil,
			"first transaction of block %s is not a coinbase", hash)
	}
	for i, tx := range blk.Transactions[1:] {
		if blockchain.IsCoinBaseTx(tx) {
			return chainError(ErrMalformedBlock, nil,
				"block %s has a second coinbase at index %d", hash, i+1)
		}
	}

	merkles := blockchain.BuildMerkleTreeStore(
		btcutil.NewBlock(blk).Transactions(), false)
	calculated := merkles[len(merkles)-1]
	if !blk.Header.MerkleRoot.IsEqual(calculated) {
		return chainError(ErrMalformedBlock, nil,
			"block %s merkle root is %s, transactions give %s",
			hash, blk.Header.MerkleRoot, calculated)
	}
	return nil
}

// connect applies ub on top of t and returns the undo record for it. t is
// left unchanged on error.
func (t *tip) connect(ub *uwire.UBlock) (*chaindb.UndoRecord, error) {
	blk := &ub.Block
	hash := blk.BlockHash()
	height := t.height + 1

	if blk.Header.PrevBlock != t.hash {
		return nil, chainError(ErrHeaderMismatch, nil,
			"block %s builds on %s, tip is %s",
			hash, blk.Header.PrevBlock, t.hash)
	}
	err := checkBlockSanity(blk)
	if err != nil {
		return nil, err
	}

	ud := &ub.UtreexoData
	if ud.Height != height {
		return nil, chainError(ErrMalformedBlock, nil,
			"block %s at height %d carries udata for height %d",
			hash, height, ud.Height)
	}
	inskip, outskip := uwire.DedupeBlock(blk)
	err = ub.ProofSanity(inskip)
	if err != nil {
		return nil, chainError(ErrMalformedBlock, err,
			"block %s spent outputs", hash)
	}
	for i := range ud.Stxos {
		if ud.Stxos[i].Height > t.height {
			return nil, chainError(ErrMalformedBlock, nil,
				"block %s spends %s created at height %d",
				hash, ud.Stxos[i].OPString(), ud.Stxos[i].Height)
		}
	}

	adds := uwire.LeafHashes(uwire.BlockToAddLeaves(blk, outskip, height))
	next := t.stump.Clone()
	undo, err := next.Modify(adds, ud.LeafHashes(), ud.AccProof)
	if err != nil {
		return nil, chainError(ErrInvalidProof, err,
			"block %s at height %d", hash, height)
	}

	rec := &chaindb.UndoRecord{Height: height, Header: blk.Header, Undo: *undo}
	t.header = blk.Header
	t.hash = hash
	t.height = height
	t.stump = next
	t.undo = append(t.undo, rec)

	log.Debugf("connected %s height %d: %d spent %d created, %d leaves",
		hash, height, len(undo.Targets), len(adds), next.NumLeaves)
	return rec, nil
}

// headerFetcher looks up a header the undo window does not hold.
type headerFetcher func(hash *chainhash.Hash) (*wire.BlockHeader, int32, error)

// disconnect takes the tip block off and returns its undo record. t is left
// unchanged on error.
func (t *tip) disconnect(fetch headerFetcher) (*chaindb.UndoRecord, error) {
	if len(t.undo) == 0 {
		return nil, chainError(ErrNoHistory, nil,
			"no undo record for block %s at height %d", t.hash, t.height)
	}
	rec := t.undo[len(t.undo)-1]
	if rec.Height != t.height || rec.Header.BlockHash() != t.hash {
		return nil, chainError(ErrUndoInconsistent, nil,
			"undo record for %s height %d does not match tip %s height %d",
			rec.Header.BlockHash(), rec.Height, t.hash, t.height)
	}

	var prev wire.BlockHeader
	if len(t.undo) > 1 {
		prev = t.undo[len(t.undo)-2].Header
	} else {
		header, height, err := fetch(&rec.Header.PrevBlock)
		if err != nil {
			return nil, fmt.Errorf("header %s below tip: %w",
				rec.Header.PrevBlock, err)
		}
		if height != t.height-1 {
			return nil, chainError(ErrUndoInconsistent, nil,
				"header %s below tip is stored at height %d, want %d",
				rec.Header.PrevBlock, height, t.height-1)
		}
		prev = *header
	}

	next := t.stump.Clone()
	err := next.Undo(&rec.Undo)
	if err != nil {
		return nil, chainError(ErrUndoInconsistent, err,
			"undo of block %s at height %d", t.hash, t.height)
	}

	t.header = prev
	t.hash = rec.Header.PrevBlock
	t.height--
	t.stump = next
	t.undo = t.undo[:len(t.undo)-1]

	log.Debugf("disconnected %s, tip now %s height %d",
		rec.Header.BlockHash(), t.hash, t.height)
	return rec, nil
}

// redo connects a block again from its undo record. Only the accumulator
// part of the record is replayed.
func (t *tip) redo(rec *chaindb.UndoRecord) error {
	if rec.Header.PrevBlock != t.hash || rec.Height != t.height+1 {
		return chainError(ErrUndoInconsistent, nil,
			"undo record %s height %d does not build on %s height %d",
			rec.Header.BlockHash(), rec.Height, t.hash, t.height)
	}
	next := t.stump.Clone()
	err := next.Redo(&rec.Undo)
	if err != nil {
		return chainError(ErrUndoInconsistent, err,
			"redo of block %s", rec.Header.BlockHash())
	}
	t.header = rec.Header
	t.hash = rec.Header.BlockHash()
	t.height = rec.Height
	t.stump = next
	t.undo = append(t.undo, rec)
	return nil
}
