package bridgenode

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"golang.org/x/exp/slices"
)

// anyoneCanSpend is the output script of generated outputs.
var anyoneCanSpend = []byte{txscript.OP_TRUE}

// sortedUtxos lists the utxo set in a fixed order so generation only
// depends on the rng.
func (b *Bridge) sortedUtxos() []wire.OutPoint {
	ops := make([]wire.OutPoint, 0, len(b.utxos))
	for op := range b.utxos {
		ops = append(ops, op)
	}
	slices.SortFunc(ops, func(x, y wire.OutPoint) bool {
		if c := bytes.Compare(x.Hash[:], y.Hash[:]); c != 0 {
			return c < 0
		}
		return x.Index < y.Index
	})
	return ops
}

func coinbase(height int32, tag uint32, value int64) *wire.MsgTx {
	sig := make([]byte, 9)
	sig[0] = 8
	binary.LittleEndian.PutUint32(sig[1:5], uint32(height))
	binary.LittleEndian.PutUint32(sig[5:9], tag)

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex), sig, nil))
	tx.AddTxOut(wire.NewTxOut(value, anyoneCanSpend))
	tx.AddTxOut(wire.NewTxOut(0, []byte{txscript.OP_RETURN, 0x01, byte(tag)}))
	return tx
}

// NextBlock makes a block on top of the tip with spends inputs taken at
// random from the utxo set. The first spending transaction also gets spent
// inside the block. Blocks with a different tag at the same height have
// different outputs, which is how forks are made. The bridge is not changed.
func (b *Bridge) NextBlock(rng *rand.Rand, spends int, tag uint32) *wire.MsgBlock {
	height := b.height + 1
	prevHash := b.header.BlockHash()
	blk := wire.NewMsgBlock(wire.NewBlockHeader(1, &prevHash,
		&chainhash.Hash{}, b.params.PowLimitBits, tag))
	blk.Header.Timestamp = b.header.Timestamp.Add(10 * time.Minute)
	blk.AddTransaction(coinbase(height, tag, 50*btcutil.SatoshiPerBitcoin))

	ops := b.sortedUtxos()
	rng.Shuffle(len(ops), func(i, j int) { ops[i], ops[j] = ops[j], ops[i] })
	if spends > len(ops) {
		spends = len(ops)
	}
	ops = ops[:spends]

	for len(ops) > 0 {
		n := 1 + rng.Intn(2)
		if n > len(ops) {
			n = len(ops)
		}
		tx := wire.NewMsgTx(wire.TxVersion)
		var in int64
		for _, op := range ops[:n] {
			op := op
			tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
			in += b.utxos[op].Amt
		}
		ops = ops[n:]
		tx.AddTxOut(wire.NewTxOut(in/2, anyoneCanSpend))
		tx.AddTxOut(wire.NewTxOut(in-in/2, anyoneCanSpend))
		blk.AddTransaction(tx)
	}

	if len(blk.Transactions) > 1 {
		first := blk.Transactions[1]
		tx := wire.NewMsgTx(wire.TxVersion)
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(ptr(first.TxHash()), 0),
			nil, nil))
		tx.AddTxOut(wire.NewTxOut(first.TxOut[0].Value, anyoneCanSpend))
		blk.AddTransaction(tx)
	}

	merkles := blockchain.BuildMerkleTreeStore(
		btcutil.NewBlock(blk).Transactions(), false)
	blk.Header.MerkleRoot = *merkles[len(merkles)-1]
	return blk
}

func ptr(h chainhash.Hash) *chainhash.Hash {
	return &h
}
