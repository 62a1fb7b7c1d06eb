package bridgenode

import (
	"math/rand"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"github.com/utreexo/csnode/accumulator"
	uwire "github.com/utreexo/csnode/wire"
)

func TestBridgeProcessUndo(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	b := New(&chaincfg.RegressionNetParams)

	var stump accumulator.Stump
	stumps := []accumulator.Stump{stump.Clone()}
	for i := 0; i < 60; i++ {
		blk := b.NextBlock(rng, rng.Intn(8), 0)
		ub, err := b.ProcessBlock(blk)
		require.NoError(t, err)
		require.Equal(t, int32(i+1), ub.UtreexoData.Height)

		inskip, outskip := uwire.DedupeBlock(&ub.Block)
		require.NoError(t, ub.ProofSanity(inskip))
		require.NoError(t, ub.UtreexoData.Verify(&stump))

		adds := uwire.LeafHashes(
			uwire.BlockToAddLeaves(&ub.Block, outskip, ub.UtreexoData.Height))
		_, err = stump.Modify(adds, ub.UtreexoData.LeafHashes(),
			ub.UtreexoData.AccProof)
		require.NoError(t, err)

		bs := b.Stump()
		require.True(t, stump.Equal(&bs), "height %d", i+1)
		require.NoError(t, b.Sanity())
		stumps = append(stumps, stump.Clone())
	}

	for i := 60; i > 40; i-- {
		require.NoError(t, b.Undo())
		require.NoError(t, b.Sanity())
		bs := b.Stump()
		require.True(t, stumps[i-1].Equal(&bs), "undo to height %d", i-1)
	}
	require.Equal(t, int32(40), b.Height())
}

func TestBridgeRejects(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	b := New(&chaincfg.RegressionNetParams)
	require.ErrorIs(t, b.Undo(), ErrNothingToUndo)

	blk := b.NextBlock(rng, 0, 0)
	_, err := b.ProcessBlock(blk)
	require.NoError(t, err)

	// same block again no longer builds on the tip
	_, err = b.ProcessBlock(blk)
	require.ErrorIs(t, err, ErrNotOnTip)

	// spending an output that does not exist
	next := b.NextBlock(rng, 1, 0)
	next.Transactions[1].TxIn[0].PreviousOutPoint.Index = 99
	_, err = b.Prove(next)
	require.ErrorIs(t, err, ErrUnknownUtxo)

	cb := blk.Transactions[0].TxHash()
	_, ok := b.Utxo(wire.OutPoint{Hash: cb, Index: 0})
	require.True(t, ok)
	// the OP_RETURN output has no leaf
	_, ok = b.Utxo(wire.OutPoint{Hash: cb, Index: 1})
	require.False(t, ok)
	require.Equal(t, 1, b.NumUtxos())
}

func TestNextBlockDeterministic(t *testing.T) {
	build := func(tag uint32) []wire.MsgBlock {
		rng := rand.New(rand.NewSource(3))
		b := New(&chaincfg.RegressionNetParams)
		var blks []wire.MsgBlock
		for i := 0; i < 10; i++ {
			blk := b.NextBlock(rng, 4, tag)
			_, err := b.ProcessBlock(blk)
			require.NoError(t, err)
			blks = append(blks, *blk)
		}
		return blks
	}
	a, again := build(0), build(0)
	for i := range a {
		require.Equal(t, a[i].BlockHash(), again[i].BlockHash())
	}
	other := build(1)
	require.NotEqual(t, a[0].BlockHash(), other[0].BlockHash())
}
