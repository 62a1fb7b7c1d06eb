package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
	"github.com/utreexo/csnode/btcacc"
)

func TestUBlockFile(t *testing.T) {
	blk, _ := testBlock()
	ubs := []*UBlock{
		{Block: *blk, UtreexoData: btcacc.UData{Height: 1}},
		{Block: *blk, UtreexoData: btcacc.UData{Height: 2}},
	}
	ubs[1].Block.Header.Nonce = 7

	var file bytes.Buffer
	for _, ub := range ubs {
		require.NoError(t, WriteUBlockRecord(&file, wire.TestNet, ub))
	}
	raw := file.Bytes()

	r := NewUBlockReader(bytes.NewReader(raw), wire.TestNet)
	for _, want := range ubs {
		got, err := r.Next()
		require.NoError(t, err)
		require.Equal(t, want.Hash(), got.Hash())
		require.Equal(t, want.UtreexoData.Height, got.UtreexoData.Height)
	}
	_, err := r.Next()
	require.Equal(t, io.EOF, err)

	// wrong network
	r = NewUBlockReader(bytes.NewReader(raw), wire.MainNet)
	_, err = r.Next()
	require.Error(t, err)

	// cut short
	r = NewUBlockReader(bytes.NewReader(raw[:len(raw)-1]), wire.TestNet)
	_, err = r.Next()
	require.NoError(t, err)
	_, err = r.Next()
	require.Error(t, err)
	require.NotEqual(t, io.EOF, err)
}

func TestUBlockFileSizeLimit(t *testing.T) {
	blk, _ := testBlock()
	big := *blk
	big.Transactions = append([]*wire.MsgTx{}, blk.Transactions...)
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(1, make([]byte, maxUBlockSize)))
	big.Transactions = append(big.Transactions, tx)
	ub := &UBlock{Block: big, UtreexoData: btcacc.UData{Height: 1}}
	require.Greater(t, ub.SerializeSize(), maxUBlockSize)

	var file bytes.Buffer
	require.Error(t, WriteUBlockRecord(&file, wire.TestNet, ub))
	require.Zero(t, file.Len())
}
