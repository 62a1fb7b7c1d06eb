// Package bridgenode keeps the full accumulator forest and the data of every
// unspent output, so it can prove the outputs a block spends. It produces
// the utreexo blocks a compact state node consumes.
package bridgenode

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/utreexo/csnode/accumulator"
	"github.com/utreexo/csnode/btcacc"
	uwire "github.com/utreexo/csnode/wire"
)

var (
	// ErrUnknownUtxo is returned when a block spends an output the bridge
	// does not have.
	ErrUnknownUtxo = errors.New("spent output not in utxo set")

	// ErrNotOnTip is returned when a block does not build on the tip.
	ErrNotOnTip = errors.New("block does not build on bridge tip")

	// ErrNothingToUndo is returned by Undo at the start of the chain.
	ErrNothingToUndo = errors.New("no block to undo")
)

// blockUndo is what the bridge needs to take a block back off.
type blockUndo struct {
	prev    wire.BlockHeader
	acc     *accumulator.UndoBlock
	spent   []btcacc.LeafData
	created []wire.OutPoint
}

// Bridge is a full utreexo node: forest, utxo data and per block undo.
type Bridge struct {
	params *chaincfg.Params
	forest *accumulator.Forest
	utxos  map[wire.OutPoint]btcacc.LeafData
	undo   []blockUndo

	header wire.BlockHeader
	height int32
}

// New returns a bridge at the genesis block. The genesis outputs are not
// spendable and get no leaves.
func New(params *chaincfg.Params) *Bridge {
	return &Bridge{
		params: params,
		forest: accumulator.NewForest(),
		utxos:  make(map[wire.OutPoint]btcacc.LeafData),
		header: params.GenesisBlock.Header,
	}
}

// Height is the height of the tip.
func (b *Bridge) Height() int32 {
	return b.height
}

// Tip is the tip header.
func (b *Bridge) Tip() wire.BlockHeader {
	return b.header
}

// Stump is the accumulator state a compact node should have at the tip.
func (b *Bridge) Stump() accumulator.Stump {
	return b.forest.Stump()
}

// Utxo returns the leaf data of an unspent output.
func (b *Bridge) Utxo(op wire.OutPoint) (btcacc.LeafData, bool) {
	l, ok := b.utxos[op]
	return l, ok
}

// NumUtxos is the size of the utxo set.
func (b *Bridge) NumUtxos() int {
	return len(b.utxos)
}

// Sanity checks the forest against the utxo set.
func (b *Bridge) Sanity() error {
	err := b.forest.Sanity()
	if err != nil {
		return err
	}
	if uint64(len(b.utxos)) != b.forest.NumLeaves() {
		return fmt.Errorf("%d utxos but %d leaves", len(b.utxos),
			b.forest.NumLeaves())
	}
	return nil
}

// Prove builds the utreexo data for blk at the tip without changing
// anything.
func (b *Bridge) Prove(blk *wire.MsgBlock) (*btcacc.UData, error) {
	inskip, _ := uwire.DedupeBlock(blk)
	delOPs := uwire.BlockToDelOPs(blk, inskip)

	ud := &btcacc.UData{
		Height: b.height + 1,
		Stxos:  make([]btcacc.LeafData, len(delOPs)),
	}
	for i, op := range delOPs {
		l, ok := b.utxos[op]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownUtxo, op)
		}
		ud.Stxos[i] = l
	}

	var err error
	ud.AccProof, err = b.forest.Prove(ud.LeafHashes())
	if err != nil {
		return nil, fmt.Errorf("prove block %s at height %d: %w",
			blk.BlockHash(), ud.Height, err)
	}
	return ud, nil
}

// ProcessBlock proves the outputs blk spends, applies blk, and returns it
// as a utreexo block.
func (b *Bridge) ProcessBlock(blk *wire.MsgBlock) (*uwire.UBlock, error) {
	prevHash := b.header.BlockHash()
	if blk.Header.PrevBlock != prevHash {
		return nil, fmt.Errorf("%w: %s builds on %s, tip is %s", ErrNotOnTip,
			blk.BlockHash(), blk.Header.PrevBlock, prevHash)
	}
	ud, err := b.Prove(blk)
	if err != nil {
		return nil, err
	}

	_, outskip := uwire.DedupeBlock(blk)
	leaves := uwire.BlockToAddLeaves(blk, outskip, ud.Height)
	acc, err := b.forest.Modify(uwire.LeafHashes(leaves), ud.LeafHashes())
	if err != nil {
		return nil, fmt.Errorf("block %s at height %d: %w",
			blk.BlockHash(), ud.Height, err)
	}

	bu := blockUndo{
		prev:    b.header,
		acc:     acc,
		spent:   ud.Stxos,
		created: make([]wire.OutPoint, len(leaves)),
	}
	for i := range ud.Stxos {
		delete(b.utxos, ud.Stxos[i].OutPoint())
	}
	for i := range leaves {
		op := leaves[i].OutPoint()
		b.utxos[op] = leaves[i]
		bu.created[i] = op
	}
	b.undo = append(b.undo, bu)
	b.header = blk.Header
	b.height = ud.Height

	log.Debugf("bridge height %d: %d spent %d created, %d utxos",
		b.height, len(ud.Stxos), len(leaves), len(b.utxos))
	return &uwire.UBlock{UtreexoData: *ud, Block: *blk}, nil
}

// Undo takes the tip block off.
func (b *Bridge) Undo() error {
	if len(b.undo) == 0 {
		return ErrNothingToUndo
	}
	bu := b.undo[len(b.undo)-1]
	err := b.forest.Undo(bu.acc)
	if err != nil {
		return fmt.Errorf("undo height %d: %w", b.height, err)
	}
	for _, op := range bu.created {
		delete(b.utxos, op)
	}
	for i := range bu.spent {
		b.utxos[bu.spent[i].OutPoint()] = bu.spent[i]
	}
	b.undo = b.undo[:len(b.undo)-1]
	b.header = bu.prev
	b.height--
	log.Debugf("bridge undid block, tip now %s height %d",
		b.header.BlockHash(), b.height)
	return nil
}

// TipHash is the hash of the tip header.
func (b *Bridge) TipHash() chainhash.Hash {
	return b.header.BlockHash()
}
