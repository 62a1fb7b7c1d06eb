package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/wire"
)

/*
UBlock file format is like the blk*.dat files: every ublock is prefixed by
4 bytes network magic (little endian, as in blk*.dat) and 4 bytes big endian
length of the serialized ublock.
*/

// maxUBlockSize caps the length a ublock record may claim.
const maxUBlockSize = 32 * 1024 * 1024

// WriteUBlockRecord appends ub to a ublock file.
// Records the reader would refuse are not written.
func WriteUBlockRecord(w io.Writer, net wire.BitcoinNet, ub *UBlock) error {
	size := ub.SerializeSize()
	if size > maxUBlockSize {
		return fmt.Errorf("ublock %s is %d bytes, limit %d", ub.Hash(), size,
			maxUBlockSize)
	}
	var buf bytes.Buffer
	buf.Grow(8 + size)
	var prefix [8]byte
	binary.LittleEndian.PutUint32(prefix[0:4], uint32(net))
	binary.BigEndian.PutUint32(prefix[4:8], uint32(size))
	buf.Write(prefix[:])
	err := ub.Serialize(&buf)
	if err != nil {
		return err
	}
	_, err = w.Write(buf.Bytes())
	return err
}

// UBlockReader reads a ublock file.
type UBlockReader struct {
	r   *bufio.Reader
	net wire.BitcoinNet
	n   int
}

// NewUBlockReader reads ublocks for net from r.
func NewUBlockReader(r io.Reader, net wire.BitcoinNet) *UBlockReader {
	return &UBlockReader{r: bufio.NewReader(r), net: net}
}

// Next returns the next ublock, or io.EOF at a clean end of file.
func (ur *UBlockReader) Next() (*UBlock, error) {
	var prefix [8]byte
	_, err := io.ReadFull(ur.r, prefix[:])
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("ublock %d prefix: %v", ur.n, err)
	}
	magic := wire.BitcoinNet(binary.LittleEndian.Uint32(prefix[0:4]))
	if magic != ur.net {
		return nil, fmt.Errorf("ublock %d is for network %s, want %s",
			ur.n, magic, ur.net)
	}
	size := binary.BigEndian.Uint32(prefix[4:8])
	if size > maxUBlockSize {
		return nil, fmt.Errorf("ublock %d claims %d bytes", ur.n, size)
	}

	raw := make([]byte, size)
	_, err = io.ReadFull(ur.r, raw)
	if err != nil {
		return nil, fmt.Errorf("ublock %d: %v", ur.n, err)
	}
	ub := new(UBlock)
	rd := bytes.NewReader(raw)
	err = ub.Deserialize(rd)
	if err != nil {
		return nil, fmt.Errorf("ublock %d: %v", ur.n, err)
	}
	if rd.Len() != 0 {
		return nil, fmt.Errorf("ublock %d has %d trailing bytes", ur.n, rd.Len())
	}
	ur.n++
	return ub, nil
}
