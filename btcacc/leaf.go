package btcacc

import (
	"bytes"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/utreexo/csnode/accumulator"
)

// MaxPkScriptSize is the longest pkScript a leaf can carry.
const MaxPkScriptSize = 10000

// LeafData is all the data that goes into a leaf in the utreexo accumulator.
// Everything here is enough data to verify the bitcoin signatures
type LeafData struct {
	BlockHash chainhash.Hash // block the output was created in
	TxHash    chainhash.Hash
	Index     uint32 // txout index
	Height    int32
	Coinbase  bool
	Amt       int64
	PkScript  []byte
}

// OutPoint returns the outpoint this leaf was created at.
func (l *LeafData) OutPoint() wire.OutPoint {
	return wire.OutPoint{Hash: l.TxHash, Index: l.Index}
}

// String turns a LeafData into a string
func (l *LeafData) String() (s string) {
	s = l.OPString()
	s += fmt.Sprintf(" h %d ", l.Height)
	s += fmt.Sprintf("cb %v ", l.Coinbase)
	s += fmt.Sprintf("amt %d ", l.Amt)
	s += fmt.Sprintf("pks %x ", l.PkScript)
	h := l.LeafHash()
	s += fmt.Sprintf("%x ", h[:4])
	s += fmt.Sprintf("size %d", l.SerializeSize())
	return
}

// OPString returns just the outpoint of this leafdata as a string
func (l *LeafData) OPString() string {
	// hash string, colon, and up to 10 digits for the index
	buf := make([]byte, 2*chainhash.HashSize+1, 2*chainhash.HashSize+1+10)
	copy(buf, l.TxHash.String())
	buf[2*chainhash.HashSize] = ':'
	buf = strconv.AppendUint(buf, uint64(l.Index), 10)
	return string(buf)
}

/*
LeafData serialization is:
32bytes block hash
32bytes txid
4bytes index
4bytes height<<1 | coinbase
8bytes amount
2bytes pkScript length
pkScript
*/

// Serialize puts LeafData onto a writer
func (l *LeafData) Serialize(w io.Writer) error {
	if len(l.PkScript) > MaxPkScriptSize {
		return fmt.Errorf("%s pkscript %d bytes - too long",
			l.OPString(), len(l.PkScript))
	}
	hcb := uint32(l.Height) << 1
	if l.Coinbase {
		hcb |= 1
	}

	var buf [82]byte
	copy(buf[0:32], l.BlockHash[:])
	copy(buf[32:64], l.TxHash[:])
	binary.BigEndian.PutUint32(buf[64:68], l.Index)
	binary.BigEndian.PutUint32(buf[68:72], hcb)
	binary.BigEndian.PutUint64(buf[72:80], uint64(l.Amt))
	binary.BigEndian.PutUint16(buf[80:82], uint16(len(l.PkScript)))
	_, err := w.Write(buf[:])
	if err != nil {
		return err
	}
	_, err = w.Write(l.PkScript)
	return err
}

// SerializeSize says how big a leafdata is
func (l *LeafData) SerializeSize() int {
	// 32B blockhash, 36B outpoint, 4B h/coinbase, 8B amt, 2B pkslen, pks
	// so 82B + pks
	return 82 + len(l.PkScript)
}

// Deserialize reads a LeafData written by Serialize.
func (l *LeafData) Deserialize(r io.Reader) error {
	var buf [82]byte
	_, err := io.ReadFull(r, buf[:])
	if err != nil {
		return err
	}
	copy(l.BlockHash[:], buf[0:32])
	copy(l.TxHash[:], buf[32:64])
	l.Index = binary.BigEndian.Uint32(buf[64:68])
	hcb := binary.BigEndian.Uint32(buf[68:72])
	l.Coinbase = hcb&1 == 1
	l.Height = int32(hcb >> 1)
	l.Amt = int64(binary.BigEndian.Uint64(buf[72:80]))

	pkSize := binary.BigEndian.Uint16(buf[80:82])
	if pkSize > MaxPkScriptSize {
		return fmt.Errorf("bh %s op %s pksize %d byte too long",
			l.BlockHash, l.OPString(), pkSize)
	}
	l.PkScript = make([]byte, pkSize)
	_, err = io.ReadFull(r, l.PkScript)
	return err
}

// LeafHash turns a LeafData into a leaf of the accumulator. If the leaf
// can't be serialized it returns the empty hash, which the accumulator
// refuses to add or prove.
func (l *LeafData) LeafHash() accumulator.Hash {
	var buf bytes.Buffer
	buf.Grow(l.SerializeSize())
	err := l.Serialize(&buf)
	if err != nil {
		return accumulator.Hash{}
	}
	return sha512.Sum512_256(buf.Bytes())
}
