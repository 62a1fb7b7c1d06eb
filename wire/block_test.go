package wire

import (
	"bytes"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"github.com/utreexo/csnode/accumulator"
	"github.com/utreexo/csnode/btcacc"
)

var (
	p2pkScript     = []byte{0x51}
	opReturnScript = []byte{0x6a, 0x01, 0x02}
)

func coinbaseTx(height int32) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex),
		[]byte{byte(height), 0x51}, nil))
	tx.AddTxOut(wire.NewTxOut(50e8, p2pkScript))
	tx.AddTxOut(wire.NewTxOut(0, opReturnScript))
	return tx
}

func spendTx(outs int, prev ...wire.OutPoint) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	for i := range prev {
		tx.AddTxIn(wire.NewTxIn(&prev[i], nil, nil))
	}
	for i := 0; i < outs; i++ {
		tx.AddTxOut(wire.NewTxOut(int64(1000+i), []byte{0x51, 0x52 + byte(i)}))
	}
	return tx
}

// testBlock has a coinbase, a tx spending two outside outputs, and a tx
// spending the first output of the tx before it.
func testBlock() (*wire.MsgBlock, []wire.OutPoint) {
	outside := []wire.OutPoint{
		{Hash: chainhash.Hash{0xaa}, Index: 3},
		{Hash: chainhash.Hash{0xbb}, Index: 0},
	}
	tx1 := spendTx(2, outside...)
	tx1.AddTxOut(wire.NewTxOut(0, opReturnScript))
	tx2 := spendTx(1, wire.OutPoint{Hash: tx1.TxHash(), Index: 0})

	blk := wire.NewMsgBlock(wire.NewBlockHeader(1, &chainhash.Hash{0x01},
		&chainhash.Hash{}, 0x207fffff, 0))
	blk.Header.Timestamp = time.Unix(1600000000, 0)
	blk.AddTransaction(coinbaseTx(5))
	blk.AddTransaction(tx1)
	blk.AddTransaction(tx2)
	return blk, outside
}

func TestDedupeBlock(t *testing.T) {
	blk, outside := testBlock()
	inskip, outskip := DedupeBlock(blk)
	// inputs: coinbase 0, tx1 1 and 2, tx2 3
	require.Equal(t, []uint32{3}, inskip)
	// outputs: coinbase 0 and 1, tx1 2, 3 and 4
	require.Equal(t, []uint32{2}, outskip)

	require.Equal(t, outside, BlockToDelOPs(blk, inskip))
}

func TestDedupeBlockOrdering(t *testing.T) {
	blk, outside := testBlock()
	tx1 := blk.Transactions[1]
	tx2 := blk.Transactions[2]
	cb := blk.Transactions[0].TxHash()

	// spends tx2's output, then tx1's second output, then a coinbase output
	tx3 := spendTx(1,
		wire.OutPoint{Hash: tx2.TxHash(), Index: 0},
		wire.OutPoint{Hash: tx1.TxHash(), Index: 1},
		wire.OutPoint{Hash: cb, Index: 0})
	blk.AddTransaction(tx3)

	inskip, outskip := DedupeBlock(blk)
	// inputs: coinbase 0, tx1 1 and 2, tx2 3, tx3 4, 5 and 6
	require.Equal(t, []uint32{3, 4, 5}, inskip)
	// outputs: tx1 2, 3 and 4, tx2 5
	require.Equal(t, []uint32{2, 3, 5}, outskip)

	want := append(append([]wire.OutPoint{}, outside...),
		wire.OutPoint{Hash: cb, Index: 0})
	require.Equal(t, want, BlockToDelOPs(blk, inskip))

	// a coinbase on its own has nothing to dedupe
	only := wire.NewMsgBlock(&blk.Header)
	only.AddTransaction(coinbaseTx(5))
	inskip, outskip = DedupeBlock(only)
	require.Empty(t, inskip)
	require.Empty(t, outskip)
	require.Empty(t, BlockToDelOPs(only, nil))
}

func TestBlockToAddLeaves(t *testing.T) {
	blk, _ := testBlock()
	_, outskip := DedupeBlock(blk)
	leaves := BlockToAddLeaves(blk, outskip, 5)

	// coinbase p2pk, tx1 output 1, tx2 output 0. OP_RETURNs and the output
	// spent inside the block get no leaf.
	require.Len(t, leaves, 3)
	require.True(t, leaves[0].Coinbase)
	require.Equal(t, blk.Transactions[0].TxHash(), leaves[0].TxHash)
	require.Equal(t, blk.Transactions[1].TxHash(), leaves[1].TxHash)
	require.Equal(t, uint32(1), leaves[1].Index)
	require.Equal(t, blk.Transactions[2].TxHash(), leaves[2].TxHash)
	for _, l := range leaves {
		require.Equal(t, blk.BlockHash(), l.BlockHash)
		require.Equal(t, int32(5), l.Height)
	}
	require.Len(t, LeafHashes(leaves), 3)
}

func TestUBlockSerialize(t *testing.T) {
	blk, outside := testBlock()
	stxos := []btcacc.LeafData{
		{TxHash: outside[0].Hash, Index: outside[0].Index, Height: 2,
			Amt: 10, PkScript: p2pkScript},
		{TxHash: outside[1].Hash, Index: outside[1].Index, Height: 3,
			Amt: 20, PkScript: p2pkScript},
	}
	f := accumulator.NewForest()
	require.NoError(t, f.Add(append(testLeafHashes(), LeafHashes(stxos)...)))
	proof, err := f.Prove(LeafHashes(stxos))
	require.NoError(t, err)

	ub := UBlock{
		Block: *blk,
		UtreexoData: btcacc.UData{
			Height:   5,
			AccProof: proof,
			Stxos:    stxos,
		},
	}
	inskip, _ := DedupeBlock(&ub.Block)
	require.NoError(t, ub.ProofSanity(inskip))

	var buf bytes.Buffer
	require.NoError(t, ub.Serialize(&buf))
	require.Equal(t, ub.SerializeSize(), buf.Len())
	raw := append([]byte{}, buf.Bytes()...)

	var got UBlock
	require.NoError(t, got.Deserialize(&buf))
	require.Equal(t, ub.Hash(), got.Hash())
	require.Equal(t, ub.UtreexoData, got.UtreexoData)

	var again bytes.Buffer
	require.NoError(t, got.Serialize(&again))
	require.Equal(t, raw, again.Bytes())

	// leaf data out of order no longer matches the inputs
	got.UtreexoData.Stxos[0], got.UtreexoData.Stxos[1] =
		got.UtreexoData.Stxos[1], got.UtreexoData.Stxos[0]
	require.Error(t, got.ProofSanity(inskip))
}

func testLeafHashes() []accumulator.Hash {
	var hashes []accumulator.Hash
	for i := byte(1); i < 6; i++ {
		hashes = append(hashes, accumulator.Hash{0xee, i})
	}
	return hashes
}
