package accumulator

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// Forest is the full accumulator: every node of every tree is kept, so it
// can prove any leaf. Bridge nodes use it to build proofs for compact nodes.
//
// rows[r] holds exactly numLeaves>>r hashes; rows[r][i] is node (r, i).
type Forest struct {
	rows      [][]Hash
	numLeaves uint64

	// positionMap maps a leaf hash to its position in the bottom row
	positionMap map[MiniHash]uint64
}

// NewForest returns an empty forest.
func NewForest() *Forest {
	return &Forest{
		rows:        make([][]Hash, 1),
		positionMap: make(map[MiniHash]uint64),
	}
}

// NumLeaves is how many leaves the forest holds.
func (f *Forest) NumLeaves() uint64 {
	return f.numLeaves
}

// Roots returns the roots, tallest tree first.
func (f *Forest) Roots() []Hash {
	roots := make([]Hash, 0, numRoots(f.numLeaves))
	for _, r := range rootRows(f.numLeaves) {
		roots = append(roots, f.rows[r][rowWidth(r, f.numLeaves)-1])
	}
	return roots
}

// Stump returns the roots-only view of the forest.
func (f *Forest) Stump() Stump {
	return Stump{Roots: f.Roots(), NumLeaves: f.numLeaves}
}

// FindLeaf returns the position of a leaf.
func (f *Forest) FindLeaf(h Hash) (uint64, bool) {
	pos, ok := f.positionMap[h.Mini()]
	if !ok || pos >= f.numLeaves || f.rows[0][pos] != h {
		return 0, false
	}
	return pos, true
}

// Add appends leaves to the forest.
func (f *Forest) Add(adds []Hash) error {
	err := f.checkAdds(adds, nil)
	if err != nil {
		return err
	}
	f.addLeaves(adds)
	return nil
}

// checkAdds refuses empty and duplicate leaves. Leaves in leaving are about
// to be deleted and may be added back.
func (f *Forest) checkAdds(adds []Hash, leaving map[MiniHash]struct{}) error {
	seen := make(map[MiniHash]struct{}, len(adds))
	for i, add := range adds {
		if add == empty {
			return fmt.Errorf("add %d of %d is an empty hash", i, len(adds))
		}
		m := add.Mini()
		_, present := f.positionMap[m]
		_, goes := leaving[m]
		_, dup := seen[m]
		if (present && !goes) || dup {
			return fmt.Errorf("add %x: leaf already in the forest", add[:4])
		}
		seen[m] = struct{}{}
	}
	return nil
}

func (f *Forest) addLeaves(adds []Hash) {
	for _, add := range adds {
		f.positionMap[add.Mini()] = f.numLeaves
		f.rows[0] = append(f.rows[0], add)
		f.numLeaves++
		f.carry(0)
	}
}

// carry hashes up from row while the row has an even number of nodes, which
// means its last two nodes just became siblings.
func (f *Forest) carry(row uint8) {
	for r := row; len(f.rows[r])%2 == 0; r++ {
		f.ensureRows(r + 1)
		w := len(f.rows[r])
		f.rows[r+1] = append(f.rows[r+1],
			parentHash(f.rows[r][w-2], f.rows[r][w-1]))
	}
}

// ensureRows makes sure row exists.
func (f *Forest) ensureRows(row uint8) {
	for len(f.rows) <= int(row) {
		f.rows = append(f.rows, nil)
	}
}

// targetsOf looks up the positions of leaves.
func (f *Forest) targetsOf(delHashes []Hash) ([]uint64, error) {
	targets := make([]uint64, len(delHashes))
	for i, h := range delHashes {
		pos, ok := f.FindLeaf(h)
		if !ok {
			return nil, fmt.Errorf("%w: %x", ErrLeafNotFound, h[:4])
		}
		targets[i] = pos
	}
	return targets, nil
}

// Prove returns a proof for the leaves. Targets are in the same order as
// delHashes.
func (f *Forest) Prove(delHashes []Hash) (BatchProof, error) {
	targets, err := f.targetsOf(delHashes)
	if err != nil {
		return BatchProof{}, err
	}
	sorted, _, err := sortTargets(targets, delHashes, f.numLeaves)
	if err != nil {
		return BatchProof{}, err
	}
	positions := ProofPositions(sorted, f.numLeaves)
	proof := make([]Hash, len(positions))
	for i, p := range positions {
		proof[i] = f.rows[p.Row][p.Offset]
	}
	return BatchProof{Targets: targets, Proof: proof}, nil
}

// Modify deletes delHashes then adds adds. It returns the undo block, which
// is the same one a Stump would return for this step.
func (f *Forest) Modify(adds, delHashes []Hash) (*UndoBlock, error) {
	proof, err := f.Prove(delHashes)
	if err != nil {
		return nil, err
	}
	leaving := make(map[MiniHash]struct{}, len(delHashes))
	for _, h := range delHashes {
		leaving[h.Mini()] = struct{}{}
	}
	err = f.checkAdds(adds, leaving)
	if err != nil {
		return nil, err
	}
	targets, hashes, err := sortTargets(proof.Targets, delHashes, f.numLeaves)
	if err != nil {
		return nil, err
	}

	pre := f.Stump()
	deleted := make([]LeafPosition, len(targets))
	for i := range targets {
		deleted[i] = LeafPosition{Position: targets[i], Hash: hashes[i]}
	}
	ub := newUndoBlock(&pre, deleted, proof.Proof, adds)

	f.remove(targets, hashes)
	f.addLeaves(adds)
	return ub, nil
}

// layout gives the bottom row start of every piece after repacking, and
// how many leading pieces do not move.
func layout(pieces []piece) ([]uint64, int) {
	starts := make([]uint64, len(pieces))
	var start uint64
	inPlace := 0
	for i, p := range pieces {
		starts[i] = start
		if inPlace == i && p.Offset<<p.Row == start {
			inPlace++
		}
		start += p.leaves()
	}
	return starts, inPlace
}

// copySubtree copies out the nodes of the subtree at (row, offset).
func (f *Forest) copySubtree(row uint8, offset uint64) [][]Hash {
	sub := make([][]Hash, row+1)
	for k := uint8(0); k <= row; k++ {
		lo := offset << (row - k)
		width := uint64(1) << (row - k)
		sub[k] = slices.Clone(f.rows[k][lo : lo+width])
	}
	return sub
}

// cutRows trims every row to what a forest of numLeaves holds.
func (f *Forest) cutRows(numLeaves uint64) {
	for k := range f.rows {
		w := numLeaves >> k
		if uint64(len(f.rows[k])) > w {
			f.rows[k] = f.rows[k][:w]
		}
	}
}

// remove deletes sorted targets and repacks what is left.
func (f *Forest) remove(targets []uint64, hashes []Hash) {
	if len(targets) == 0 {
		return
	}
	for _, h := range hashes {
		delete(f.positionMap, h.Mini())
	}

	positions, touched := walkTargets(targets, f.numLeaves)
	pieces := repackPieces(positions, touched, f.numLeaves)
	starts, inPlace := layout(pieces)

	// copy out everything that moves before the rows get cut
	moved := make([][][]Hash, len(pieces))
	for i := inPlace; i < len(pieces); i++ {
		moved[i] = f.copySubtree(pieces[i].Row, pieces[i].Offset)
	}

	var kept uint64
	if inPlace > 0 {
		kept = starts[inPlace-1] + pieces[inPlace-1].leaves()
	}
	f.cutRows(kept)
	f.numLeaves = kept

	for i := inPlace; i < len(pieces); i++ {
		p := pieces[i]
		for k := uint8(0); k <= p.Row; k++ {
			f.rows[k] = append(f.rows[k], moved[i][k]...)
		}
		for j, h := range moved[i][0] {
			f.positionMap[h.Mini()] = starts[i] + uint64(j)
		}
		f.numLeaves += p.leaves()
		f.carry(p.Row)
	}
}

// Undo takes the forest back to before the block recorded in ub. Deleted
// leaves go back to their old positions. The record is checked against the
// roots and the newest leaves before anything changes, and a record that
// does not match leaves the forest as it was. The roots check at the end
// can only fail on a forest that was already corrupt, and then the forest
// is left partly rewritten.
func (f *Forest) Undo(ub *UndoBlock) error {
	cur := f.Stump()
	check := cur.Clone()
	err := check.Undo(ub)
	if err != nil {
		return err
	}
	mid := f.numLeaves - uint64(len(ub.Adds))
	for i, add := range ub.Adds {
		if f.rows[0][mid+uint64(i)] != add {
			return fmt.Errorf("%w: leaf %d is %x, record adds %x",
				ErrUndoMismatch, mid+uint64(i), f.rows[0][mid+uint64(i)][:4],
				add[:4])
		}
	}

	// take the adds off
	for _, add := range ub.Adds {
		delete(f.positionMap, add.Mini())
	}
	f.cutRows(mid)
	f.numLeaves = mid
	if len(ub.Targets) == 0 {
		return nil
	}

	// move the pieces back to where they were before the deletion
	n := ub.NumLeaves
	positions, touched := walkTargets(ub.Targets, n)
	pieces := repackPieces(positions, touched, n)
	starts, inPlace := layout(pieces)

	moved := make([][][]Hash, len(pieces))
	for i := inPlace; i < len(pieces); i++ {
		p := pieces[i]
		moved[i] = f.copySubtree(p.Row, starts[i]>>p.Row)
	}
	var kept uint64
	if inPlace > 0 {
		kept = starts[inPlace-1] + pieces[inPlace-1].leaves()
	}
	f.cutRows(kept)

	f.ensureRows(treeRows(n))
	for k := range f.rows {
		w := n >> k
		if have := uint64(len(f.rows[k])); have < w {
			f.rows[k] = append(f.rows[k], make([]Hash, w-have)...)
		}
	}
	for i := inPlace; i < len(pieces); i++ {
		p := pieces[i]
		for k := uint8(0); k <= p.Row; k++ {
			copy(f.rows[k][p.Offset<<(p.Row-k):], moved[i][k])
		}
		for j, h := range moved[i][0] {
			f.positionMap[h.Mini()] = p.Offset<<p.Row + uint64(j)
		}
	}
	for i, t := range ub.Targets {
		f.rows[0][t] = ub.DelHashes[i]
		f.positionMap[ub.DelHashes[i].Mini()] = t
	}
	f.numLeaves = n
	f.rehash(ub.Targets)

	if !slices.Equal(f.Roots(), ub.PreRoots) {
		return fmt.Errorf("%w: forest roots differ after undo", ErrUndoMismatch)
	}
	return nil
}

// rehash recomputes every node above the sorted targets.
func (f *Forest) rehash(targets []uint64) {
	cur := slices.Clone(targets)
	for row := uint8(0); len(cur) > 0; row++ {
		next := make([]uint64, 0, len(cur))
		for _, off := range cur {
			if isRoot(row, off, f.numLeaves) {
				continue
			}
			parent := off >> 1
			if len(next) > 0 && next[len(next)-1] == parent {
				continue
			}
			f.rows[row+1][parent] = parentHash(
				f.rows[row][parent<<1], f.rows[row][parent<<1|1])
			next = append(next, parent)
		}
		cur = next
	}
}

// Sanity checks that every node is the hash of its children and that the
// position map points at the right leaves.
func (f *Forest) Sanity() error {
	for k := range f.rows {
		if uint64(len(f.rows[k])) != f.numLeaves>>k {
			return fmt.Errorf("row %d has %d nodes, want %d",
				k, len(f.rows[k]), f.numLeaves>>k)
		}
		if k == 0 {
			continue
		}
		for i := range f.rows[k] {
			want := parentHash(f.rows[k-1][2*i], f.rows[k-1][2*i+1])
			if f.rows[k][i] != want {
				return fmt.Errorf("node (%d,%d) is %x, children hash to %x",
					k, i, f.rows[k][i][:4], want[:4])
			}
		}
	}
	if uint64(len(f.positionMap)) != f.numLeaves {
		return fmt.Errorf("position map has %d leaves, forest has %d",
			len(f.positionMap), f.numLeaves)
	}
	for m, pos := range f.positionMap {
		if pos >= f.numLeaves || f.rows[0][pos].Mini() != m {
			return fmt.Errorf("position map has %x at %d", m[:4], pos)
		}
	}
	return nil
}

// String prints the forest, bottom row last. Only meant for small forests.
func (f *Forest) String() string {
	if f.numLeaves > 64 {
		return fmt.Sprintf("forest with %d leaves", f.numLeaves)
	}
	var s string
	for k := len(f.rows) - 1; k >= 0; k-- {
		s += fmt.Sprintf("%02d:", k)
		for _, h := range f.rows[k] {
			s += fmt.Sprintf(" %x", h[:2])
		}
		s += "\n"
	}
	return s
}
