package chaindb

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/utreexo/csnode/accumulator"
)

/*
Tip serialization is:
80bytes header
4bytes height
8bytes numLeaves
1byte numRoots, []roots (32 bytes each)
*/

// Serialize writes the tip.
func (t *Tip) Serialize(w io.Writer) error {
	if len(t.Roots) > 64 {
		return fmt.Errorf("tip has %d roots", len(t.Roots))
	}
	err := t.Header.Serialize(w)
	if err != nil {
		return err
	}
	var buf [13]byte
	binary.BigEndian.PutUint32(buf[0:4], uint32(t.Height))
	binary.BigEndian.PutUint64(buf[4:12], t.NumLeaves)
	buf[12] = uint8(len(t.Roots))
	_, err = w.Write(buf[:])
	if err != nil {
		return err
	}
	for _, r := range t.Roots {
		_, err = w.Write(r[:])
		if err != nil {
			return err
		}
	}
	return nil
}

// Deserialize reads a tip written by Serialize.
func (t *Tip) Deserialize(r io.Reader) error {
	err := t.Header.Deserialize(r)
	if err != nil {
		return err
	}
	var buf [13]byte
	_, err = io.ReadFull(r, buf[:])
	if err != nil {
		return err
	}
	t.Height = int32(binary.BigEndian.Uint32(buf[0:4]))
	t.NumLeaves = binary.BigEndian.Uint64(buf[4:12])
	numRoots := int(buf[12])
	if numRoots > 64 {
		return fmt.Errorf("tip has %d roots", numRoots)
	}
	t.Roots = make([]accumulator.Hash, numRoots)
	for i := range t.Roots {
		_, err = io.ReadFull(r, t.Roots[i][:])
		if err != nil {
			return err
		}
	}
	return nil
}

// Stump is the accumulator at the tip.
func (t *Tip) Stump() accumulator.Stump {
	return accumulator.Stump{
		Roots:     append([]accumulator.Hash(nil), t.Roots...),
		NumLeaves: t.NumLeaves,
	}
}

/*
UndoRecord serialization is:
4bytes height
80bytes header
undo block (see accumulator.UndoBlock)
*/

// Serialize writes the undo record.
func (u *UndoRecord) Serialize(w io.Writer) error {
	err := binary.Write(w, binary.BigEndian, u.Height)
	if err != nil {
		return err
	}
	err = u.Header.Serialize(w)
	if err != nil {
		return err
	}
	return u.Undo.Serialize(w)
}

// Deserialize reads an undo record written by Serialize.
func (u *UndoRecord) Deserialize(r io.Reader) error {
	err := binary.Read(r, binary.BigEndian, &u.Height)
	if err != nil {
		return err
	}
	err = u.Header.Deserialize(r)
	if err != nil {
		return err
	}
	return u.Undo.Deserialize(r)
}
