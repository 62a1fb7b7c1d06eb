package accumulator

import (
	"crypto/sha512"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// testHashes makes count distinct leaf hashes starting at seed.
func testHashes(seed, count int) []Hash {
	hashes := make([]Hash, count)
	for i := range hashes {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(seed+i))
		hashes[i] = sha512.Sum512_256(b[:])
	}
	return hashes
}

func TestTreeRows(t *testing.T) {
	require.Equal(t, uint8(0), treeRows(0))
	require.Equal(t, uint8(0), treeRows(1))
	require.Equal(t, uint8(1), treeRows(2))
	require.Equal(t, uint8(1), treeRows(3))
	require.Equal(t, uint8(3), treeRows(8))
	require.Equal(t, uint8(3), treeRows(15))
	require.Equal(t, uint8(63), treeRows(1<<63))
}

func TestRootLayout(t *testing.T) {
	// 13 = 1101: trees of 8, 4 and 1 leaves
	n := uint64(13)
	require.Equal(t, []uint8{3, 2, 0}, rootRows(n))
	require.Equal(t, 0, rootIndex(3, n))
	require.Equal(t, 1, rootIndex(2, n))
	require.Equal(t, 2, rootIndex(0, n))

	require.True(t, isRoot(3, 0, n))
	require.True(t, isRoot(2, 2, n))
	require.True(t, isRoot(0, 12, n))
	require.False(t, isRoot(1, 5, n))
	require.False(t, isRoot(0, 11, n))

	for leaf, want := range map[uint64]uint8{0: 3, 7: 3, 8: 2, 11: 2, 12: 0} {
		row, err := treeOf(leaf, n)
		require.NoError(t, err)
		require.Equal(t, want, row, "leaf %d", leaf)
	}
	_, err := treeOf(13, n)
	require.ErrorIs(t, err, ErrUnknownPosition)
}

func TestProofPositions(t *testing.T) {
	tests := []struct {
		name      string
		targets   []uint64
		numLeaves uint64
		want      []Position
	}{
		{
			name:      "single leaf in a tree of 8",
			targets:   []uint64{0},
			numLeaves: 8,
			want:      []Position{{0, 1}, {1, 1}, {2, 1}},
		},
		{
			name:      "siblings need no hash of each other",
			targets:   []uint64{0, 1},
			numLeaves: 8,
			want:      []Position{{1, 1}, {2, 1}},
		},
		{
			name:      "two trees",
			targets:   []uint64{2, 9},
			numLeaves: 12,
			want:      []Position{{0, 3}, {0, 8}, {1, 0}, {1, 5}, {2, 1}},
		},
		{
			name:      "lone leaf root needs nothing",
			targets:   []uint64{6},
			numLeaves: 7,
			want:      nil,
		},
		{
			name:      "whole tree",
			targets:   []uint64{0, 1, 2, 3},
			numLeaves: 4,
			want:      nil,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.want,
				ProofPositions(test.targets, test.numLeaves))
		})
	}
}

func TestSortTargets(t *testing.T) {
	hashes := testHashes(0, 3)
	targets, sorted, err := sortTargets([]uint64{5, 1, 3}, hashes, 6)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 3, 5}, targets)
	require.Equal(t, []Hash{hashes[1], hashes[2], hashes[0]}, sorted)

	_, _, err = sortTargets([]uint64{1, 1}, hashes[:2], 6)
	require.ErrorIs(t, err, ErrProofMismatch)

	_, _, err = sortTargets([]uint64{6}, hashes[:1], 6)
	require.ErrorIs(t, err, ErrUnknownPosition)

	_, _, err = sortTargets([]uint64{1}, hashes, 6)
	require.ErrorIs(t, err, ErrProofMismatch)
}
