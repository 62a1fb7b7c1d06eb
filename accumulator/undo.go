package accumulator

import (
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/exp/slices"
)

// maxUndoAdds caps the adds a serialized undo block may claim.
const maxUndoAdds = 1 << 20

// UndoBlock is all the data needed to undo a block: the roots and leaf count
// from before the block, the leaves that got deleted and where they were,
// the proof that was used to delete them, and the leaves that were added.
type UndoBlock struct {
	NumLeaves uint64
	PreRoots  []Hash
	Targets   []uint64 // sorted
	DelHashes []Hash   // aligned with Targets
	Proof     []Hash
	Adds      []Hash
}

func newUndoBlock(pre *Stump, deleted []LeafPosition,
	proof, adds []Hash) *UndoBlock {

	ub := &UndoBlock{
		NumLeaves: pre.NumLeaves,
		PreRoots:  slices.Clone(pre.Roots),
		Targets:   make([]uint64, len(deleted)),
		DelHashes: make([]Hash, len(deleted)),
		Proof:     slices.Clone(proof),
		Adds:      slices.Clone(adds),
	}
	for i, d := range deleted {
		ub.Targets[i] = d.Position
		ub.DelHashes[i] = d.Hash
	}
	return ub
}

// PostNumLeaves is the leaf count after the block.
func (u *UndoBlock) PostNumLeaves() uint64 {
	return u.NumLeaves - uint64(len(u.Targets)) + uint64(len(u.Adds))
}

// Deleted returns the deleted leaves with their positions.
func (u *UndoBlock) Deleted() []LeafPosition {
	lps := make([]LeafPosition, len(u.Targets))
	for i := range u.Targets {
		lps[i] = LeafPosition{Position: u.Targets[i], Hash: u.DelHashes[i]}
	}
	return lps
}

// preStump gives the accumulator before the block.
func (u *UndoBlock) preStump() (Stump, error) {
	if len(u.PreRoots) != numRoots(u.NumLeaves) {
		return Stump{}, fmt.Errorf("%w: %d pre-roots for %d leaves",
			ErrUndoMismatch, len(u.PreRoots), u.NumLeaves)
	}
	if len(u.Targets) != len(u.DelHashes) ||
		uint64(len(u.Targets)) > u.NumLeaves {
		return Stump{}, fmt.Errorf("%w: %d targets, %d hashes, %d leaves",
			ErrUndoMismatch, len(u.Targets), len(u.DelHashes), u.NumLeaves)
	}
	return Stump{Roots: slices.Clone(u.PreRoots), NumLeaves: u.NumLeaves}, nil
}

// String returns a string
func (u *UndoBlock) String() string {
	s := fmt.Sprintf("- uuuu undo block %d leaves %d adds\t", u.NumLeaves,
		len(u.Adds))
	s += fmt.Sprintf("%d dels:\t", len(u.Targets))
	if len(u.Targets) != len(u.DelHashes) {
		s += "error"
		return s
	}
	for i := range u.Targets {
		s += fmt.Sprintf("%d %x,\t", u.Targets[i], u.DelHashes[i][:4])
	}
	s += "\n"
	return s
}

/*
UndoBlock serialization is:
8bytes numLeaves
1byte numRoots, []roots (32 bytes each)
4bytes numTargets, []targets (8 bytes each), []delHashes (32 bytes each)
4bytes numProof, []proof (32 bytes each)
4bytes numAdds, []adds (32 bytes each)
*/

// SerializeSize returns how many bytes it would take to serialize this undoblock.
func (u *UndoBlock) SerializeSize() int {
	size := 8 + 1 + len(u.PreRoots)*32
	size += 4 + len(u.Targets)*(8+32)
	size += 4 + len(u.Proof)*32
	size += 4 + len(u.Adds)*32
	return size
}

// Serialize encodes the undoblock into the given writer.
func (u *UndoBlock) Serialize(w io.Writer) error {
	if len(u.Targets) != len(u.DelHashes) {
		return fmt.Errorf("UndoBlock Serialize: %d targets but %d hashes",
			len(u.Targets), len(u.DelHashes))
	}
	if len(u.PreRoots) > 64 {
		return fmt.Errorf("UndoBlock Serialize: %d roots", len(u.PreRoots))
	}

	err := binary.Write(w, binary.BigEndian, u.NumLeaves)
	if err != nil {
		return err
	}
	_, err = w.Write([]byte{uint8(len(u.PreRoots))})
	if err != nil {
		return err
	}
	err = writeHashes(w, u.PreRoots)
	if err != nil {
		return err
	}

	err = binary.Write(w, binary.BigEndian, uint32(len(u.Targets)))
	if err != nil {
		return err
	}
	err = binary.Write(w, binary.BigEndian, u.Targets)
	if err != nil {
		return err
	}
	err = writeHashes(w, u.DelHashes)
	if err != nil {
		return err
	}

	err = binary.Write(w, binary.BigEndian, uint32(len(u.Proof)))
	if err != nil {
		return err
	}
	err = writeHashes(w, u.Proof)
	if err != nil {
		return err
	}

	err = binary.Write(w, binary.BigEndian, uint32(len(u.Adds)))
	if err != nil {
		return err
	}
	return writeHashes(w, u.Adds)
}

// Deserialize decodes an undoblock from the reader.
func (u *UndoBlock) Deserialize(r io.Reader) error {
	err := binary.Read(r, binary.BigEndian, &u.NumLeaves)
	if err != nil {
		return err
	}

	var rootCount [1]byte
	_, err = io.ReadFull(r, rootCount[:])
	if err != nil {
		return err
	}
	if rootCount[0] > 64 {
		return fmt.Errorf("UndoBlock Deserialize: %d roots", rootCount[0])
	}
	u.PreRoots, err = readHashes(r, uint32(rootCount[0]))
	if err != nil {
		return err
	}

	var count uint32
	err = binary.Read(r, binary.BigEndian, &count)
	if err != nil {
		return err
	}
	if count > maxProofElements {
		return fmt.Errorf("UndoBlock Deserialize: %d targets - too many", count)
	}
	u.Targets = make([]uint64, count)
	err = binary.Read(r, binary.BigEndian, u.Targets)
	if err != nil {
		return err
	}
	u.DelHashes, err = readHashes(r, count)
	if err != nil {
		return err
	}

	err = binary.Read(r, binary.BigEndian, &count)
	if err != nil {
		return err
	}
	if count > maxProofElements {
		return fmt.Errorf("UndoBlock Deserialize: %d proof hashes - too many",
			count)
	}
	u.Proof, err = readHashes(r, count)
	if err != nil {
		return err
	}

	err = binary.Read(r, binary.BigEndian, &count)
	if err != nil {
		return err
	}
	if count > maxUndoAdds {
		return fmt.Errorf("UndoBlock Deserialize: %d adds - too many", count)
	}
	u.Adds, err = readHashes(r, count)
	return err
}

func writeHashes(w io.Writer, hashes []Hash) error {
	for _, h := range hashes {
		_, err := w.Write(h[:])
		if err != nil {
			return err
		}
	}
	return nil
}

func readHashes(r io.Reader, count uint32) ([]Hash, error) {
	hashes := make([]Hash, count)
	for i := range hashes {
		_, err := io.ReadFull(r, hashes[i][:])
		if err != nil {
			return nil, err
		}
	}
	return hashes, nil
}
