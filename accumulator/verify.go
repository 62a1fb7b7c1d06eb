package accumulator

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

// known is a node whose hash has been computed or given.
type known struct {
	offset uint64
	hash   Hash
}

// treeBatch is the part of a proof that falls in one tree.
type treeBatch struct {
	row     uint8
	targets []known
	proof   []Hash
}

// Verify checks that the leaves delHashes sit at proof.Targets in the
// accumulator described by s. It does not modify s.
func Verify(s *Stump, delHashes []Hash, proof BatchProof) error {
	targets, hashes, err := sortTargets(proof.Targets, delHashes, s.NumLeaves)
	if err != nil {
		return err
	}
	_, _, err = verifySorted(s, targets, hashes, proof.Proof)
	return err
}

// verifySorted checks a proof with already sorted targets. On success it
// returns the proof positions and the rows of the roots the targets reach.
func verifySorted(s *Stump, targets []uint64, hashes []Hash,
	proof []Hash) ([]Position, []uint8, error) {

	if len(s.Roots) != numRoots(s.NumLeaves) {
		return nil, nil, fmt.Errorf("%w: %d roots for %d leaves",
			ErrProofMismatch, len(s.Roots), s.NumLeaves)
	}
	for i, h := range hashes {
		if h == empty {
			return nil, nil, fmt.Errorf("%w: empty leaf hash at target %d",
				ErrProofMismatch, targets[i])
		}
	}
	for i, h := range proof {
		if h == empty {
			return nil, nil, fmt.Errorf("%w: empty proof hash %d",
				ErrProofMismatch, i)
		}
	}

	positions, touched := walkTargets(targets, s.NumLeaves)
	if len(positions) != len(proof) {
		return nil, nil, fmt.Errorf("%w: need %d proof hashes, got %d",
			ErrProofMismatch, len(positions), len(proof))
	}

	batches, err := splitByTree(targets, hashes, positions, proof, s.NumLeaves)
	if err != nil {
		return nil, nil, err
	}

	// trees don't share any nodes so they can be hashed independently
	var g errgroup.Group
	for _, b := range batches {
		b := b
		g.Go(func() error {
			root, err := b.calculateRoot(s.NumLeaves)
			if err != nil {
				return err
			}
			want := s.Roots[rootIndex(b.row, s.NumLeaves)]
			if root != want {
				return fmt.Errorf("%w: computed root %x at row %d, have %x",
					ErrProofMismatch, root[:4], b.row, want[:4])
			}
			return nil
		})
	}
	err = g.Wait()
	if err != nil {
		return nil, nil, err
	}
	return positions, touched, nil
}

// splitByTree groups sorted targets and proof hashes by the tree they are in.
// Trees are returned tallest first.
func splitByTree(targets []uint64, hashes []Hash, positions []Position,
	proof []Hash, numLeaves uint64) ([]*treeBatch, error) {

	var batches []*treeBatch
	byRow := make(map[uint8]*treeBatch)
	for i, t := range targets {
		row, err := treeOf(t, numLeaves)
		if err != nil {
			return nil, err
		}
		b, ok := byRow[row]
		if !ok {
			b = &treeBatch{row: row}
			byRow[row] = b
			batches = append(batches, b)
		}
		b.targets = append(b.targets, known{offset: t, hash: hashes[i]})
	}
	for i, p := range positions {
		row, err := treeOf(p.Offset<<p.Row, numLeaves)
		if err != nil {
			return nil, err
		}
		b, ok := byRow[row]
		if !ok {
			return nil, fmt.Errorf("%w: proof position %s in a tree with no targets",
				ErrProofMismatch, p)
		}
		b.proof = append(b.proof, proof[i])
	}
	return batches, nil
}

// calculateRoot hashes the targets of one tree up to its root.
func (b *treeBatch) calculateRoot(numLeaves uint64) (Hash, error) {
	cur := b.targets
	proof := b.proof
	for row := uint8(0); row < b.row; row++ {
		next := make([]known, 0, len(cur))
		for i := 0; i < len(cur); i++ {
			n := cur[i]
			var sib Hash
			if i+1 < len(cur) && cur[i+1].offset == n.offset^1 {
				sib = cur[i+1].hash
				i++
			} else {
				if len(proof) == 0 {
					return empty, fmt.Errorf("%w: ran out of proof hashes",
						ErrProofMismatch)
				}
				sib, proof = proof[0], proof[1:]
			}
			var parent Hash
			if n.offset&1 == 0 {
				parent = parentHash(n.hash, sib)
			} else {
				parent = parentHash(sib, n.hash)
			}
			next = append(next, known{offset: n.offset >> 1, hash: parent})
		}
		cur = next
	}
	if len(cur) != 1 || !isRoot(b.row, cur[0].offset, numLeaves) {
		return empty, fmt.Errorf("%w: targets did not meet at the row %d root",
			ErrProofMismatch, b.row)
	}
	if len(proof) != 0 {
		return empty, fmt.Errorf("%w: %d unused proof hashes",
			ErrProofMismatch, len(proof))
	}
	return cur[0].hash, nil
}
