package accumulator

import (
	"fmt"
	"math/bits"

	"golang.org/x/exp/slices"
)

// Nodes are addressed by (row, offset). Row 0 holds the leaves and row r
// holds numLeaves>>r nodes. The root of the tree of height r exists iff bit r
// of numLeaves is set, and is always the last node of that row.

// numRoots returns how many roots a forest with numLeaves leaves has.
func numRoots(numLeaves uint64) int {
	return bits.OnesCount64(numLeaves)
}

// treeRows returns the number of rows of the tallest tree, not counting
// row 0. treeRows(1) is 0, treeRows(8) is 3, treeRows(9) is 3.
func treeRows(numLeaves uint64) uint8 {
	if numLeaves == 0 {
		return 0
	}
	return uint8(63 - bits.LeadingZeros64(numLeaves))
}

// rowWidth is the number of nodes on the given row.
func rowWidth(row uint8, numLeaves uint64) uint64 {
	return numLeaves >> row
}

// hasRoot says if there is a tree of height row.
func hasRoot(row uint8, numLeaves uint64) bool {
	return numLeaves&(1<<row) != 0
}

// isRoot says if (row, offset) is a root.
func isRoot(row uint8, offset, numLeaves uint64) bool {
	return hasRoot(row, numLeaves) && offset == rowWidth(row, numLeaves)-1
}

// rootIndex gives the index in the root slice of the root at row. Roots are
// kept tallest first.
func rootIndex(row uint8, numLeaves uint64) int {
	return bits.OnesCount64(numLeaves >> (row + 1))
}

// rootRows lists the rows that have roots, tallest first, in the same order
// as the root slice.
func rootRows(numLeaves uint64) []uint8 {
	rows := make([]uint8, 0, numRoots(numLeaves))
	for r := int(treeRows(numLeaves)); r >= 0; r-- {
		if hasRoot(uint8(r), numLeaves) {
			rows = append(rows, uint8(r))
		}
	}
	return rows
}

// treeOf returns the row of the root of the tree that holds leaf offset.
func treeOf(leaf, numLeaves uint64) (uint8, error) {
	if leaf >= numLeaves {
		return 0, fmt.Errorf("%w: leaf %d, %d leaves", ErrUnknownPosition,
			leaf, numLeaves)
	}
	var start uint64
	for _, r := range rootRows(numLeaves) {
		start += 1 << r
		if leaf < start {
			return r, nil
		}
	}
	// unreachable, the rows add up to numLeaves
	return 0, fmt.Errorf("%w: leaf %d has no tree", ErrUnknownPosition, leaf)
}

// sortTargets sorts targets ascending, keeping the hashes aligned.  Returns
// an error if a target repeats or is out of range.
func sortTargets(targets []uint64, hashes []Hash,
	numLeaves uint64) ([]uint64, []Hash, error) {

	if len(targets) != len(hashes) {
		return nil, nil, fmt.Errorf("%w: %d targets but %d leaf hashes",
			ErrProofMismatch, len(targets), len(hashes))
	}
	leaves := make([]LeafPosition, len(targets))
	for i, t := range targets {
		if t >= numLeaves {
			return nil, nil, fmt.Errorf("%w: target %d, %d leaves",
				ErrUnknownPosition, t, numLeaves)
		}
		leaves[i] = LeafPosition{Position: t, Hash: hashes[i]}
	}
	slices.SortFunc(leaves, func(a, b LeafPosition) bool {
		return a.Position < b.Position
	})

	sortedTargets := make([]uint64, len(leaves))
	sortedHashes := make([]Hash, len(leaves))
	for i, l := range leaves {
		if i > 0 && leaves[i-1].Position == l.Position {
			return nil, nil, fmt.Errorf("%w: target %d repeats",
				ErrProofMismatch, l.Position)
		}
		sortedTargets[i] = l.Position
		sortedHashes[i] = l.Hash
	}
	return sortedTargets, sortedHashes, nil
}

// BinString prints the leaf count as binary with the root rows marked.
func BinString(numLeaves uint64) string {
	return fmt.Sprintf("%b (%d roots)", numLeaves, numRoots(numLeaves))
}
