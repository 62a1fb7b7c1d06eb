package csn

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/utreexo/csnode/bridgenode"
	uwire "github.com/utreexo/csnode/wire"
)

func TestReorg(t *testing.T) {
	rng := rand.New(rand.NewSource(20))
	b := bridgenode.New(testParams)
	db := newTestDB(t)
	c := newTestChain(t, db, 0)
	main := extend(t, b, rng, 12, 0)
	for _, ub := range main {
		require.NoError(t, c.ConnectBlock(ub))
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Undo())
	}
	branch := extend(t, b, rng, 4, 1)
	require.NoError(t, c.Reorg(branch))
	requireMatches(t, c, b)
	require.Equal(t, StateSynced, c.State())
	require.Equal(t, 13, c.BestSnapshot().UndoDepth)

	for i, ub := range branch {
		hash, err := c.HashByHeight(int32(10 + i))
		require.NoError(t, err)
		require.Equal(t, ub.Hash(), *hash)
	}
	// headers of the replaced blocks stay known
	oldHash := main[11].Hash()
	_, height, err := c.HeaderByHash(&oldHash)
	require.NoError(t, err)
	require.Equal(t, int32(12), height)

	// persisted in full
	again := newTestChain(t, db, 0)
	require.Equal(t, c.BestSnapshot(), again.BestSnapshot())

	// the new branch can be taken back off block by block
	for i := 0; i < 6; i++ {
		require.NoError(t, c.DisconnectBlock())
		require.NoError(t, b.Undo())
		requireMatches(t, c, b)
	}
}

func TestReorgExtendsTip(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	b := bridgenode.New(testParams)
	c := newTestChain(t, newTestDB(t), 0)
	require.NoError(t, c.Reorg(extend(t, b, rng, 5, 0)))
	requireMatches(t, c, b)
}

func TestReorgRejects(t *testing.T) {
	rng := rand.New(rand.NewSource(22))
	b := bridgenode.New(testParams)
	c := newTestChain(t, newTestDB(t), 5)
	for _, ub := range extend(t, b, rng, 10, 0) {
		require.NoError(t, c.ConnectBlock(ub))
	}
	before := c.BestSnapshot()

	require.ErrorIs(t, c.Reorg(nil), ErrMalformedBlock)

	// same length is not more work
	for i := 0; i < 2; i++ {
		require.NoError(t, b.Undo())
	}
	err := c.Reorg(extend(t, b, rng, 2, 1))
	require.ErrorIs(t, err, ErrInsufficientWork)
	require.Equal(t, before, c.BestSnapshot())

	// forks below the undo window
	for i := 0; i < 6; i++ {
		require.NoError(t, b.Undo())
	}
	err = c.Reorg(extend(t, b, rng, 9, 2))
	require.ErrorIs(t, err, ErrUnknownForkPoint)
	require.Equal(t, before, c.BestSnapshot())
}

func TestReorgAtomic(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	b := bridgenode.New(testParams)
	db := newTestDB(t)
	c := newTestChain(t, db, 0)
	for _, ub := range extend(t, b, rng, 15, 0) {
		require.NoError(t, c.ConnectBlock(ub))
	}
	before := c.BestSnapshot()
	beforeStump := c.Stump()

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Undo())
	}
	branch := extend(t, b, rng, 6, 1)

	// the fifth branch block carries a bad proof
	var bad *uwire.UBlock
	for _, ub := range branch[4:] {
		if len(ub.UtreexoData.Stxos) > 0 {
			bad = ub
			break
		}
	}
	if bad == nil {
		bad = branch[4]
		bad.UtreexoData.Height++
	} else {
		bad.UtreexoData.Stxos[0].Amt++
	}

	err := c.Reorg(branch)
	require.Error(t, err)
	require.False(t, IsFatal(err))
	require.Equal(t, before, c.BestSnapshot())
	s := c.Stump()
	require.True(t, beforeStump.Equal(&s))
	require.Equal(t, StateSynced, c.State())

	// nothing of the branch reached the database
	again := newTestChain(t, db, 0)
	require.Equal(t, before, again.BestSnapshot())
	for i := 0; i < 4; i++ {
		_, err := db.FetchHashByHeight(12 + int32(i))
		require.NoError(t, err)
	}
	hash, err := db.FetchHashByHeight(16)
	require.Error(t, err)
	require.Nil(t, hash)

	// and the old chain keeps going
	require.NoError(t, c.DisconnectBlock())
}
