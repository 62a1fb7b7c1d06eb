package main

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/utreexo/csnode/bridgenode"
	"github.com/utreexo/csnode/chaindb"
	"github.com/utreexo/csnode/csn"
	uwire "github.com/utreexo/csnode/wire"
)

var testParams = &chaincfg.RegressionNetParams

func TestImportFile(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	b := bridgenode.New(testParams)
	path := filepath.Join(t.TempDir(), "ublocks.dat")
	f, err := os.Create(path)
	require.NoError(t, err)

	write := func(n int, tag uint32) {
		for i := 0; i < n; i++ {
			ub, err := b.ProcessBlock(b.NextBlock(rng, rng.Intn(5), tag))
			require.NoError(t, err)
			require.NoError(t, uwire.WriteUBlockRecord(f, testParams.Net, ub))
		}
	}
	write(20, 0)
	// a fork 3 deep that overtakes the tip on its fourth block
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Undo())
	}
	write(4, 1)
	require.NoError(t, f.Close())

	ldb, err := leveldb.Open(storage.NewMemStorage(), nil)
	require.NoError(t, err)
	db := chaindb.New(ldb)
	defer db.Close()
	chain, err := csn.New(&csn.Config{Params: testParams, Store: db})
	require.NoError(t, err)

	require.NoError(t, importFile(context.Background(), chain, path,
		testParams.Net))
	best := chain.BestSnapshot()
	require.Equal(t, b.Height(), best.Height)
	require.Equal(t, b.TipHash(), best.Hash)
	bs := b.Stump()
	s := chain.Stump()
	require.True(t, bs.Equal(&s))

	// importing again skips everything
	require.NoError(t, importFile(context.Background(), chain, path,
		testParams.Net))
	require.Equal(t, best, chain.BestSnapshot())

	// wrong network
	require.Error(t, importFile(context.Background(), chain, path,
		chaincfg.SimNetParams.Net))
}

func TestImportStaleSibling(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	b := bridgenode.New(testParams)
	path := filepath.Join(t.TempDir(), "ublocks.dat")
	f, err := os.Create(path)
	require.NoError(t, err)
	write := func(ub *uwire.UBlock) {
		require.NoError(t, uwire.WriteUBlockRecord(f, testParams.Net, ub))
	}

	var tenth *uwire.UBlock
	for i := 0; i < 10; i++ {
		tenth, err = b.ProcessBlock(b.NextBlock(rng, rng.Intn(5), 0))
		require.NoError(t, err)
		write(tenth)
	}
	// a sibling of block 10 with the same work, then 11 on top of 10
	require.NoError(t, b.Undo())
	stale, err := b.ProcessBlock(b.NextBlock(rng, 2, 1))
	require.NoError(t, err)
	write(stale)
	require.NoError(t, b.Undo())
	_, err = b.ProcessBlock(&tenth.Block)
	require.NoError(t, err)
	eleventh, err := b.ProcessBlock(b.NextBlock(rng, 2, 0))
	require.NoError(t, err)
	write(eleventh)
	require.NoError(t, f.Close())

	ldb, err := leveldb.Open(storage.NewMemStorage(), nil)
	require.NoError(t, err)
	db := chaindb.New(ldb)
	defer db.Close()
	chain, err := csn.New(&csn.Config{Params: testParams, Store: db})
	require.NoError(t, err)

	require.NoError(t, importFile(context.Background(), chain, path,
		testParams.Net))
	best := chain.BestSnapshot()
	require.Equal(t, int32(11), best.Height)
	require.Equal(t, eleventh.Hash(), best.Hash)
	bs := b.Stump()
	s := chain.Stump()
	require.True(t, bs.Equal(&s))
}
