package accumulator

import (
	"golang.org/x/exp/slices"
)

// After a batch of leaves is deleted, what is left of the forest is a set of
// perfect subtrees whose hashes are already known: the proof positions, and
// the roots of trees that had no targets. These pieces are laid back down
// tallest first, left to right, and merged with the same carry rule Add uses.
// The outcome only depends on the set of targets, not on their order, and
// deleting the most recently added leaves gives back the previous forest.

// piece is a surviving subtree, addressed by where it was before the
// deletion. proofIdx is its index in the proof, or -1 for an untouched root.
type piece struct {
	Position
	proofIdx int
}

// leaves is how many leaves are under the piece.
func (p piece) leaves() uint64 {
	return 1 << p.Row
}

// repackPieces lists the pieces left after deleting targets that reached
// the roots at touched rows, in the order they are laid down.
func repackPieces(positions []Position, touched []uint8,
	numLeaves uint64) []piece {

	pieces := make([]piece, 0, len(positions)+numRoots(numLeaves))
	for i, p := range positions {
		pieces = append(pieces, piece{Position: p, proofIdx: i})
	}
	for _, r := range rootRows(numLeaves) {
		if slices.Contains(touched, r) {
			continue
		}
		pieces = append(pieces, piece{
			Position: Position{Row: r, Offset: rowWidth(r, numLeaves) - 1},
			proofIdx: -1,
		})
	}

	slices.SortFunc(pieces, func(a, b piece) bool {
		if a.Row != b.Row {
			return a.Row > b.Row
		}
		return a.Offset < b.Offset
	})
	return pieces
}

// mergePieces returns the roots built from the pieces, tallest first.
func mergePieces(pieces []piece, hashOf func(piece) Hash) []Hash {
	roots := make([]Hash, 0, len(pieces))
	rows := make([]uint8, 0, len(pieces))
	for _, p := range pieces {
		h, row := hashOf(p), p.Row
		for len(rows) > 0 && rows[len(rows)-1] == row {
			h = parentHash(roots[len(roots)-1], h)
			roots = roots[:len(roots)-1]
			rows = rows[:len(rows)-1]
			row++
		}
		roots = append(roots, h)
		rows = append(rows, row)
	}
	return roots
}
