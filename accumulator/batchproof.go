package accumulator

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxProofElements caps the targets and hashes a serialized proof may claim.
const maxProofElements = 1 << 16

// BatchProof proves a set of leaves at once. Targets are the leaf positions,
// aligned with the leaf hashes that are handed in next to the proof. Proof
// holds the hashes of the positions returned by ProofPositions for the
// sorted targets, in that order.
type BatchProof struct {
	Targets []uint64
	Proof   []Hash
}

// Position addresses a node in the forest.
type Position struct {
	Row    uint8
	Offset uint64
}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.Row, p.Offset)
}

/*
Batchproof serialization is:
4bytes numTargets
4bytes numHashes
[]Targets (8 bytes each)
[]Hashes (32 bytes each)
*/

// Serialize a batchproof to a writer.
func (bp *BatchProof) Serialize(w io.Writer) error {
	if len(bp.Targets) > maxProofElements || len(bp.Proof) > maxProofElements {
		return fmt.Errorf("batchproof too big: %d targets, %d hashes",
			len(bp.Targets), len(bp.Proof))
	}
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[:4], uint32(len(bp.Targets)))
	binary.BigEndian.PutUint32(buf[4:], uint32(len(bp.Proof)))
	_, err := w.Write(buf[:])
	if err != nil {
		return err
	}

	for _, t := range bp.Targets {
		binary.BigEndian.PutUint64(buf[:], t)
		_, err = w.Write(buf[:])
		if err != nil {
			return err
		}
	}

	for _, h := range bp.Proof {
		_, err = w.Write(h[:])
		if err != nil {
			return err
		}
	}
	return nil
}

// SerializeSize is how many bytes Serialize writes.
func (bp *BatchProof) SerializeSize() int {
	// 8B for numTargets and numHashes, 8B per target, 32B per hash
	return 8 + (8 * len(bp.Targets)) + (32 * len(bp.Proof))
}

// Deserialize gives a block proof back from the serialized bytes
func (bp *BatchProof) Deserialize(r io.Reader) error {
	var buf [8]byte
	_, err := io.ReadFull(r, buf[:])
	if err != nil {
		return err
	}
	numTargets := binary.BigEndian.Uint32(buf[:4])
	numHashes := binary.BigEndian.Uint32(buf[4:])
	if numTargets > maxProofElements {
		return fmt.Errorf("%d targets - too many", numTargets)
	}
	if numHashes > maxProofElements {
		return fmt.Errorf("%d hashes - too many", numHashes)
	}

	bp.Targets = make([]uint64, numTargets)
	for i := range bp.Targets {
		_, err = io.ReadFull(r, buf[:])
		if err != nil {
			return err
		}
		bp.Targets[i] = binary.BigEndian.Uint64(buf[:])
	}

	bp.Proof = make([]Hash, numHashes)
	for i := range bp.Proof {
		_, err = io.ReadFull(r, bp.Proof[i][:])
		if err != nil {
			return err
		}
	}
	return nil
}

// String for debugging, shows the blockproof
func (bp *BatchProof) String() string {
	s := fmt.Sprintf("%d targets: ", len(bp.Targets))
	for _, t := range bp.Targets {
		s += fmt.Sprintf("%d ", t)
	}
	s += fmt.Sprintf("\n%d proofs: ", len(bp.Proof))
	for _, p := range bp.Proof {
		s += fmt.Sprintf("%04x\t", p[:4])
	}
	s += "\n"
	return s
}

// ProofPositions returns the positions whose hashes are needed to hash the
// targets up to their roots, in proof order: row by row from the bottom,
// left to right inside a row. Targets must be sorted and unique.
func ProofPositions(targets []uint64, numLeaves uint64) []Position {
	proof, _ := walkTargets(targets, numLeaves)
	return proof
}

// walkTargets does the work for ProofPositions. It also returns the rows of
// the roots the targets reach, in the order they are reached.
func walkTargets(targets []uint64, numLeaves uint64) ([]Position, []uint8) {
	var proof []Position
	var touched []uint8

	cur := append([]uint64(nil), targets...)
	for row := uint8(0); len(cur) > 0; row++ {
		next := make([]uint64, 0, len(cur))
		for i := 0; i < len(cur); i++ {
			off := cur[i]
			if isRoot(row, off, numLeaves) {
				touched = append(touched, row)
				continue
			}
			if i+1 < len(cur) && cur[i+1] == off^1 {
				// sibling is known too; skip it
				i++
			} else {
				proof = append(proof, Position{Row: row, Offset: off ^ 1})
			}
			next = append(next, off>>1)
		}
		cur = next
	}
	return proof, touched
}
