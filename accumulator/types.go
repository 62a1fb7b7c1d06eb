package accumulator

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
)

// Hash is the 32 bytes of a sha512/256 hash
type Hash [32]byte

var empty Hash

// String returns the hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Prefix for printfs
func (h Hash) Prefix() []byte {
	return h[:4]
}

// Mini takes the first 12 bytes of a hash and outputs a MiniHash
func (h Hash) Mini() (m MiniHash) {
	copy(m[:], h[:12])
	return
}

// MiniHash is the first 12 bytes of a hash. Used as a map key for leaves.
type MiniHash [12]byte

// LeafPosition is a leaf hash together with its bottom row offset.
type LeafPosition struct {
	Position uint64
	Hash     Hash
}

func (lp LeafPosition) String() string {
	return fmt.Sprintf("%d:%x", lp.Position, lp.Hash[:4])
}

// parentHash gets you the merkle parent of two children hashes.
func parentHash(l, r Hash) Hash {
	if l == empty || r == empty {
		panic("parentHash: got an empty child")
	}
	var buf [64]byte
	copy(buf[:32], l[:])
	copy(buf[32:], r[:])
	return sha512.Sum512_256(buf[:])
}
