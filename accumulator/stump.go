package accumulator

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// Stump is an accumulator that only keeps its roots. It is all a compact
// state node needs: leaves are proven by the block supplier, checked against
// the roots, and deleted by repacking the hashes the proof brought along.
type Stump struct {
	// Roots are ordered tallest tree first.
	Roots     []Hash
	NumLeaves uint64
}

// Clone returns a copy that shares nothing with s.
func (s *Stump) Clone() Stump {
	return Stump{Roots: slices.Clone(s.Roots), NumLeaves: s.NumLeaves}
}

// Equal says if both stumps describe the same accumulator.
func (s *Stump) Equal(o *Stump) bool {
	return s.NumLeaves == o.NumLeaves && slices.Equal(s.Roots, o.Roots)
}

func (s *Stump) String() string {
	str := fmt.Sprintf("%d leaves %s:", s.NumLeaves, BinString(s.NumLeaves))
	for _, r := range s.Roots {
		str += fmt.Sprintf(" %x", r[:4])
	}
	return str
}

// Add appends leaves to the accumulator. Empty hashes are refused and
// nothing is added in that case.
func (s *Stump) Add(adds []Hash) error {
	for i, add := range adds {
		if add == empty {
			return fmt.Errorf("add %d of %d is an empty hash", i, len(adds))
		}
	}
	for _, add := range adds {
		h := add
		for row := uint8(0); hasRoot(row, s.NumLeaves); row++ {
			h = parentHash(s.Roots[len(s.Roots)-1], h)
			s.Roots = s.Roots[:len(s.Roots)-1]
		}
		s.Roots = append(s.Roots, h)
		s.NumLeaves++
	}
	return nil
}

// VerifyAndDelete checks the proof for delHashes and removes those leaves.
// The whole batch is checked before anything changes; on error s is left as
// it was. Returns the deleted leaves sorted by position.
func (s *Stump) VerifyAndDelete(delHashes []Hash,
	proof BatchProof) ([]LeafPosition, error) {

	targets, hashes, err := sortTargets(proof.Targets, delHashes, s.NumLeaves)
	if err != nil {
		return nil, err
	}
	positions, touched, err := verifySorted(s, targets, hashes, proof.Proof)
	if err != nil {
		return nil, err
	}

	pieces := repackPieces(positions, touched, s.NumLeaves)
	roots := mergePieces(pieces, func(p piece) Hash {
		if p.proofIdx >= 0 {
			return proof.Proof[p.proofIdx]
		}
		return s.Roots[rootIndex(p.Row, s.NumLeaves)]
	})

	deleted := make([]LeafPosition, len(targets))
	for i := range targets {
		deleted[i] = LeafPosition{Position: targets[i], Hash: hashes[i]}
	}
	s.Roots = roots
	s.NumLeaves -= uint64(len(targets))
	return deleted, nil
}

// Modify deletes then adds, as one step. It returns what is needed to undo
// the step later.
func (s *Stump) Modify(adds, delHashes []Hash,
	proof BatchProof) (*UndoBlock, error) {

	next := s.Clone()
	deleted, err := next.VerifyAndDelete(delHashes, proof)
	if err != nil {
		return nil, err
	}
	err = next.Add(adds)
	if err != nil {
		return nil, err
	}

	ub := newUndoBlock(s, deleted, proof.Proof, adds)
	*s = next
	return ub, nil
}

// Undo takes s back to the state before the block recorded in ub. The
// record has to replay from its pre-state to exactly s, otherwise
// ErrUndoMismatch is returned and s is unchanged.
func (s *Stump) Undo(ub *UndoBlock) error {
	pre, err := ub.preStump()
	if err != nil {
		return err
	}
	replay := pre.Clone()
	err = replay.apply(ub)
	if err != nil {
		return fmt.Errorf("%w: replay failed: %v", ErrUndoMismatch, err)
	}
	if !replay.Equal(s) {
		return fmt.Errorf("%w: replay gives %s, have %s",
			ErrUndoMismatch, replay.String(), s.String())
	}
	*s = pre
	return nil
}

// Redo applies the block recorded in ub again. s must be the pre-state
// of the record.
func (s *Stump) Redo(ub *UndoBlock) error {
	pre, err := ub.preStump()
	if err != nil {
		return err
	}
	if !pre.Equal(s) {
		return fmt.Errorf("%w: record starts at %s, have %s",
			ErrUndoMismatch, pre.String(), s.String())
	}
	next := s.Clone()
	err = next.apply(ub)
	if err != nil {
		return fmt.Errorf("%w: redo failed: %v", ErrUndoMismatch, err)
	}
	*s = next
	return nil
}

// apply runs the deletions and additions of ub on s.
func (s *Stump) apply(ub *UndoBlock) error {
	_, err := s.VerifyAndDelete(ub.DelHashes,
		BatchProof{Targets: ub.Targets, Proof: ub.Proof})
	if err != nil {
		return err
	}
	return s.Add(ub.Adds)
}
