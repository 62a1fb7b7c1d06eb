package accumulator

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUndoSerializeDeserialize(t *testing.T) {
	f := NewForest()
	leaves := testHashes(0, 19)
	require.NoError(t, f.Add(leaves))

	ub, err := f.Modify(testHashes(40, 4), []Hash{leaves[3], leaves[18]})
	require.NoError(t, err)
	require.Equal(t, []uint64{3, 18}, ub.Targets)
	require.Equal(t, uint64(19), ub.NumLeaves)
	require.Equal(t, uint64(21), ub.PostNumLeaves())

	var buf bytes.Buffer
	require.NoError(t, ub.Serialize(&buf))
	require.Equal(t, ub.SerializeSize(), buf.Len())

	var got UndoBlock
	require.NoError(t, got.Deserialize(&buf))
	require.Equal(t, *ub, got)

	// the decoded record still undoes the block
	require.NoError(t, f.Undo(&got))
	require.NoError(t, f.Sanity())
	require.Equal(t, uint64(19), f.NumLeaves())
}

func TestUndoDeserializeTruncated(t *testing.T) {
	f := NewForest()
	require.NoError(t, f.Add(testHashes(0, 5)))
	ub, err := f.Modify(testHashes(9, 1), testHashes(1, 1))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, ub.Serialize(&buf))
	raw := buf.Bytes()

	var got UndoBlock
	require.Error(t, got.Deserialize(bytes.NewReader(raw[:len(raw)-1])))
}

func TestUndoBlockShape(t *testing.T) {
	bad := &UndoBlock{NumLeaves: 3, PreRoots: testHashes(0, 1)}
	var s Stump
	require.ErrorIs(t, s.Undo(bad), ErrUndoMismatch)
}
