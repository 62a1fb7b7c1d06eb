package wire

import (
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/utreexo/csnode/btcacc"
)

// UBlock is a regular block, with Udata stuck on
type UBlock struct {
	UtreexoData btcacc.UData
	Block       wire.MsgBlock
}

// Hash is the hash of the block header.
func (ub *UBlock) Hash() chainhash.Hash {
	return ub.Block.BlockHash()
}

// ProofSanity checks that the udata brings leaf data for exactly the
// outpoints the block spends, in the same order.
func (ub *UBlock) ProofSanity(inputSkipList []uint32) error {
	proveOPs := BlockToDelOPs(&ub.Block, inputSkipList)

	if len(proveOPs) != len(ub.UtreexoData.Stxos) {
		return fmt.Errorf("height %d: %d outpoints need proofs but %d proven",
			ub.UtreexoData.Height, len(proveOPs), len(ub.UtreexoData.Stxos))
	}
	if len(ub.UtreexoData.AccProof.Targets) != len(ub.UtreexoData.Stxos) {
		return fmt.Errorf("height %d: %d targets for %d leaves",
			ub.UtreexoData.Height, len(ub.UtreexoData.AccProof.Targets),
			len(ub.UtreexoData.Stxos))
	}
	for i := range ub.UtreexoData.Stxos {
		if proveOPs[i] != ub.UtreexoData.Stxos[i].OutPoint() {
			return fmt.Errorf("block/utxoData mismatch %s v %s",
				proveOPs[i].String(), ub.UtreexoData.Stxos[i].OPString())
		}
	}
	return nil
}

/*
Ublock serialization

A "Ublock" is a regular bitcoin block, along with Utreexo-specific data.
The block comes first, then the udata.
*/

// Deserialize a UBlock.  It's just a block then udata.
func (ub *UBlock) Deserialize(r io.Reader) error {
	err := ub.Block.Deserialize(r)
	if err != nil {
		return err
	}
	return ub.UtreexoData.Deserialize(r)
}

// Serialize writes the block then the udata.
func (ub *UBlock) Serialize(w io.Writer) error {
	err := ub.Block.Serialize(w)
	if err != nil {
		return err
	}
	return ub.UtreexoData.Serialize(w)
}

// SerializeSize: how big is it, in bytes.
func (ub *UBlock) SerializeSize() int {
	return ub.Block.SerializeSize() + ub.UtreexoData.SerializeSize()
}
