package btcacc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/utreexo/csnode/accumulator"
)

// UData is the utreexo data that comes along with a block: a proof for
// every output the block spends, and the data of those outputs.
type UData struct {
	Height   int32
	AccProof accumulator.BatchProof
	Stxos    []LeafData
}

// LeafHashes hashes the spent outputs, in the order of AccProof.Targets.
func (ud *UData) LeafHashes() []accumulator.Hash {
	hashes := make([]accumulator.Hash, len(ud.Stxos))
	for i := range ud.Stxos {
		hashes[i] = ud.Stxos[i].LeafHash()
	}
	return hashes
}

// Verify checks that every spent output is in the accumulator s.
func (ud *UData) Verify(s *accumulator.Stump) error {
	if len(ud.AccProof.Targets) != len(ud.Stxos) {
		return fmt.Errorf("%w: %d targets but %d leafdatas",
			accumulator.ErrProofMismatch, len(ud.AccProof.Targets),
			len(ud.Stxos))
	}
	return accumulator.Verify(s, ud.LeafHashes(), ud.AccProof)
}

/*
UData serialization is:
4bytes height
batch proof (see accumulator.BatchProof)
one LeafData per proof target
*/

// Serialize writes the udata.
func (ud *UData) Serialize(w io.Writer) error {
	if len(ud.AccProof.Targets) != len(ud.Stxos) {
		return fmt.Errorf("udata height %d: %d targets but %d leafdatas",
			ud.Height, len(ud.AccProof.Targets), len(ud.Stxos))
	}
	err := binary.Write(w, binary.BigEndian, ud.Height)
	if err != nil {
		return err
	}
	err = ud.AccProof.Serialize(w)
	if err != nil {
		return err
	}
	for i := range ud.Stxos {
		err = ud.Stxos[i].Serialize(w)
		if err != nil {
			return err
		}
	}
	return nil
}

// SerializeSize is how many bytes Serialize writes.
func (ud *UData) SerializeSize() int {
	size := 4 + ud.AccProof.SerializeSize()
	for i := range ud.Stxos {
		size += ud.Stxos[i].SerializeSize()
	}
	return size
}

// Deserialize reads udata written by Serialize.
func (ud *UData) Deserialize(r io.Reader) error {
	err := binary.Read(r, binary.BigEndian, &ud.Height)
	if err != nil {
		return err
	}
	err = ud.AccProof.Deserialize(r)
	if err != nil {
		return fmt.Errorf("udata height %d proof: %v", ud.Height, err)
	}
	ud.Stxos = make([]LeafData, len(ud.AccProof.Targets))
	for i := range ud.Stxos {
		err = ud.Stxos[i].Deserialize(r)
		if err != nil {
			return fmt.Errorf("udata height %d leaf %d: %v", ud.Height, i, err)
		}
	}
	return nil
}
