package accumulator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestForestAddRoots(t *testing.T) {
	f := NewForest()
	leaves := testHashes(0, 7)
	require.NoError(t, f.Add(leaves))
	require.NoError(t, f.Sanity())

	l01 := parentHash(leaves[0], leaves[1])
	l23 := parentHash(leaves[2], leaves[3])
	l45 := parentHash(leaves[4], leaves[5])
	require.Equal(t, []Hash{parentHash(l01, l23), l45, leaves[6]}, f.Roots())

	var s Stump
	require.NoError(t, s.Add(leaves))
	require.Equal(t, f.Roots(), s.Roots)
}

func TestForestAddDuplicate(t *testing.T) {
	f := NewForest()
	leaves := testHashes(0, 3)
	require.NoError(t, f.Add(leaves))
	require.Error(t, f.Add(leaves[1:2]))
	require.Error(t, f.Add([]Hash{leaves[0], leaves[0]}))
	require.Equal(t, uint64(3), f.NumLeaves())

	// a leaf deleted in the same step may come back
	_, err := f.Modify(leaves[1:2], leaves[1:2])
	require.NoError(t, err)
	require.NoError(t, f.Sanity())
}

func TestForestDeleteRepack(t *testing.T) {
	f := NewForest()
	leaves := testHashes(0, 8)
	require.NoError(t, f.Add(leaves))

	// delete leaf 2: the pieces are (2,1) (1,0) and (0,3)
	_, err := f.Modify(nil, leaves[2:3])
	require.NoError(t, err)
	require.NoError(t, f.Sanity())
	require.Equal(t, uint64(7), f.NumLeaves())

	want := []Hash{
		parentHash(
			parentHash(leaves[4], leaves[5]),
			parentHash(leaves[6], leaves[7])),
		parentHash(leaves[0], leaves[1]),
		leaves[3],
	}
	require.Equal(t, want, f.Roots())

	pos, ok := f.FindLeaf(leaves[3])
	require.True(t, ok)
	require.Equal(t, uint64(6), pos)
	pos, ok = f.FindLeaf(leaves[4])
	require.True(t, ok)
	require.Equal(t, uint64(0), pos)
	_, ok = f.FindLeaf(leaves[2])
	require.False(t, ok)
}

func TestForestDeleteAll(t *testing.T) {
	f := NewForest()
	leaves := testHashes(0, 6)
	require.NoError(t, f.Add(leaves))
	ub, err := f.Modify(nil, leaves)
	require.NoError(t, err)
	require.Zero(t, f.NumLeaves())
	require.Empty(t, f.Roots())
	require.NoError(t, f.Sanity())

	require.NoError(t, f.Add(testHashes(10, 3)))
	require.NoError(t, f.Sanity())
	_, err = f.Modify(nil, testHashes(10, 3))
	require.NoError(t, err)

	require.NoError(t, f.Undo(ub))
	require.NoError(t, f.Sanity())
	require.Equal(t, uint64(6), f.NumLeaves())
	for i, l := range leaves {
		pos, ok := f.FindLeaf(l)
		require.True(t, ok)
		require.Equal(t, uint64(i), pos)
	}
}

func TestForestProveMissing(t *testing.T) {
	f := NewForest()
	require.NoError(t, f.Add(testHashes(0, 4)))
	_, err := f.Prove(testHashes(4, 1))
	require.ErrorIs(t, err, ErrLeafNotFound)
	_, err = f.Modify(nil, testHashes(4, 1))
	require.ErrorIs(t, err, ErrLeafNotFound)
}

func TestForestUndoRestoresPositions(t *testing.T) {
	f := NewForest()
	leaves := testHashes(0, 21)
	require.NoError(t, f.Add(leaves))
	pre := f.Stump()

	dels := []Hash{leaves[20], leaves[0], leaves[7], leaves[8], leaves[9]}
	ub, err := f.Modify(testHashes(100, 5), dels)
	require.NoError(t, err)
	require.NoError(t, f.Sanity())
	require.Equal(t, uint64(21), f.NumLeaves())
	post := f.Stump()

	// a record that does not lead to this forest changes nothing
	for _, tamper := range []func(u *UndoBlock){
		func(u *UndoBlock) { u.Adds[4][0] ^= 1 },
		func(u *UndoBlock) { u.DelHashes[1][0] ^= 1 },
		func(u *UndoBlock) { u.PreRoots[0][0] ^= 1 },
		func(u *UndoBlock) { u.Targets[0]++ },
	} {
		bad := *ub
		bad.Adds = append([]Hash{}, ub.Adds...)
		bad.DelHashes = append([]Hash{}, ub.DelHashes...)
		bad.PreRoots = append([]Hash{}, ub.PreRoots...)
		bad.Targets = append([]uint64{}, ub.Targets...)
		tamper(&bad)
		require.ErrorIs(t, f.Undo(&bad), ErrUndoMismatch)
		require.NoError(t, f.Sanity())
		got := f.Stump()
		require.True(t, got.Equal(&post))
		for _, h := range testHashes(100, 5) {
			_, ok := f.FindLeaf(h)
			require.True(t, ok)
		}
	}

	require.NoError(t, f.Undo(ub))
	require.NoError(t, f.Sanity())
	got := f.Stump()
	require.True(t, got.Equal(&pre))
	for i, l := range leaves {
		pos, ok := f.FindLeaf(l)
		require.True(t, ok)
		require.Equal(t, uint64(i), pos)
	}
	_, ok := f.FindLeaf(testHashes(100, 1)[0])
	require.False(t, ok)

	// the forest is not at the record's post-state any more
	require.ErrorIs(t, f.Undo(ub), ErrUndoMismatch)
	require.NoError(t, f.Sanity())
}
