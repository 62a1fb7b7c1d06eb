package wire

import (
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/utreexo/csnode/accumulator"
	"github.com/utreexo/csnode/btcacc"
	"golang.org/x/exp/slices"
)

// DedupeBlock finds the outputs a block creates and spends again itself.
// They never reach the accumulator. It returns the indexes of those inputs
// and of those outputs, both counted over the whole block starting with the
// coinbase, and both ascending. Coinbase outputs are never matched.
func DedupeBlock(blk *wire.MsgBlock) (inskip []uint32, outskip []uint32) {
	created := make(map[wire.OutPoint]uint32)
	var outIdx uint32
	for i, tx := range blk.Transactions {
		if i == 0 {
			outIdx += uint32(len(tx.TxOut))
			continue
		}
		txid := tx.TxHash()
		for n := range tx.TxOut {
			created[wire.OutPoint{Hash: txid, Index: uint32(n)}] = outIdx
			outIdx++
		}
	}

	// the coinbase counts as one input
	inIdx := uint32(1)
	for _, tx := range blk.Transactions[min(1, len(blk.Transactions)):] {
		for _, in := range tx.TxIn {
			if out, ok := created[in.PreviousOutPoint]; ok {
				inskip = append(inskip, inIdx)
				outskip = append(outskip, out)
			}
			inIdx++
		}
	}
	slices.Sort(outskip)
	return inskip, outskip
}

// BlockToDelOPs lists the outpoints a block spends that have to be proven:
// every input but the coinbase and the ones on skiplist.
func BlockToDelOPs(blk *wire.MsgBlock, skiplist []uint32) []wire.OutPoint {
	var delOPs []wire.OutPoint
	inIdx := uint32(1)
	for _, tx := range blk.Transactions[min(1, len(blk.Transactions)):] {
		for _, in := range tx.TxIn {
			if len(skiplist) > 0 && skiplist[0] == inIdx {
				skiplist = skiplist[1:]
			} else {
				delOPs = append(delOPs, in.PreviousOutPoint)
			}
			inIdx++
		}
	}
	return delOPs
}

// IsUnspendable says if an output can never be spent and so never gets a
// leaf.
func IsUnspendable(o *wire.TxOut) bool {
	return len(o.PkScript) > btcacc.MaxPkScriptSize ||
		txscript.IsUnspendable(o.PkScript)
}

// BlockToAddLeaves turns all the new utxos in a block into leaf data.
// Outputs on the skiplist are spent in the same block and get no leaf.
func BlockToAddLeaves(blk *wire.MsgBlock, skiplist []uint32,
	height int32) (leaves []btcacc.LeafData) {

	blockHash := blk.BlockHash()
	var txonum uint32
	for coinbaseif0, tx := range blk.Transactions {
		// cache txid aka txhash
		txid := tx.TxHash()
		for i, out := range tx.TxOut {
			// Skip txos on the skip list
			if len(skiplist) > 0 && skiplist[0] == txonum {
				skiplist = skiplist[1:]
				txonum++
				continue
			}
			// Skip all the OP_RETURNs
			if IsUnspendable(out) {
				txonum++
				continue
			}

			leaves = append(leaves, btcacc.LeafData{
				BlockHash: blockHash,
				TxHash:    txid,
				Index:     uint32(i),
				Height:    height,
				Coinbase:  coinbaseif0 == 0,
				Amt:       out.Value,
				PkScript:  out.PkScript,
			})
			txonum++
		}
	}
	return
}

// LeafHashes hashes leaf data into accumulator leaves.
func LeafHashes(leaves []btcacc.LeafData) []accumulator.Hash {
	hashes := make([]accumulator.Hash, len(leaves))
	for i := range leaves {
		hashes[i] = leaves[i].LeafHash()
	}
	return hashes
}
