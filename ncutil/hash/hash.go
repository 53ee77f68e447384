// Package hash defines the 256-bit hash type used throughout the node:
// block and transaction identity, merkle nodes, and UTXO shard keys.
package hash

import (
	"encoding/hex"
	"fmt"
)

// Size is the number of bytes in a Hash.
const Size = 32

// Hash is a 32-byte value, stored internally little-endian (as it
// appears on the wire) and displayed big-endian hex (as block
// explorers and the reference client show it).
type Hash [Size]byte

// Zero is the all-zeros hash used by coinbase outpoints.
var Zero Hash

// String returns the big-endian hex encoding of the hash, matching
// conventional block/tx id display.
func (h Hash) String() string {
	var reversed Hash
	for i := 0; i < Size; i++ {
		reversed[i] = h[Size-1-i]
	}
	return hex.EncodeToString(reversed[:])
}

// NewFromStr parses a big-endian hex string into a Hash.
func NewFromStr(s string) (*Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("hash: invalid hex string %q: %w", s, err)
	}
	if len(b) != Size {
		return nil, fmt.Errorf("hash: invalid hash length %d, want %d", len(b), Size)
	}
	var h Hash
	for i := 0; i < Size; i++ {
		h[i] = b[Size-1-i]
	}
	return &h, nil
}

// NewFromSlice builds a Hash from wire-order (little-endian) bytes.
func NewFromSlice(b []byte) (*Hash, error) {
	if len(b) != Size {
		return nil, fmt.Errorf("hash: invalid hash length %d, want %d", len(b), Size)
	}
	var h Hash
	copy(h[:], b)
	return &h, nil
}

// Clone returns a copy of the hash.
func (h *Hash) Clone() *Hash {
	c := *h
	return &c
}

// IsZero reports whether the hash is the all-zeros value, as used by
// the null outpoint of a coinbase input.
func (h *Hash) IsZero() bool {
	return *h == Zero
}

// Equal reports whether h and other represent the same hash. Either
// may be nil.
func (h *Hash) Equal(other *Hash) bool {
	if h == nil || other == nil {
		return h == other
	}
	return *h == *other
}

// Less provides a total order over hashes, used to keep block-file
// locks and shard iteration deterministic.
func (h Hash) Less(other Hash) bool {
	for i := Size - 1; i >= 0; i-- {
		if h[i] != other[i] {
			return h[i] < other[i]
		}
	}
	return false
}

// ShardPrefix returns the low 16 bits of the hash's numeric value (its
// first two wire-order bytes, read little-endian), used to bucket the
// UTXO store into 65 536 shards.
func (h Hash) ShardPrefix() uint16 {
	return uint16(h[0]) | uint16(h[1])<<8
}
