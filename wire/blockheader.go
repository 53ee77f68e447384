package wire

import (
	"io"

	"github.com/ncnode/ncnode/ncutil/hash"
)

// BlockHeaderSize is the serialized byte length of a block header
// (spec §3): version, previous-hash, merkle-root, timestamp, bits,
// nonce.
const BlockHeaderSize = 80

// BlockHeader is the 80-byte block header. Its identity (BlockHash)
// is the double-SHA-256 of its serialization, and must satisfy
// hash <= target(Bits) for the block to be valid proof of work.
type BlockHeader struct {
	Version    int32
	PrevBlock  hash.Hash
	MerkleRoot hash.Hash
	Timestamp  uint32
	Bits       uint32
	Nonce      uint32
}

// BlockHash returns the double-SHA-256 of the header's serialization.
func (h *BlockHeader) BlockHash() hash.Hash {
	var buf [BlockHeaderSize]byte
	w := fixedWriter{buf: buf[:0]}
	_ = h.Encode(&w)
	return hash.DoubleSHA256(w.buf)
}

// Encode writes the 80-byte header serialization to w.
func (h *BlockHeader) Encode(w io.Writer) error {
	if err := writeInt32(w, h.Version); err != nil {
		return errFmt("version", err)
	}
	if err := writeHash(w, &h.PrevBlock); err != nil {
		return errFmt("prevBlock", err)
	}
	if err := writeHash(w, &h.MerkleRoot); err != nil {
		return errFmt("merkleRoot", err)
	}
	if err := writeUint32(w, h.Timestamp); err != nil {
		return errFmt("timestamp", err)
	}
	if err := writeUint32(w, h.Bits); err != nil {
		return errFmt("bits", err)
	}
	if err := writeUint32(w, h.Nonce); err != nil {
		return errFmt("nonce", err)
	}
	return nil
}

// Decode reads the 80-byte header serialization from r.
func (h *BlockHeader) Decode(r io.Reader) error {
	var err error
	if h.Version, err = readInt32(r); err != nil {
		return errFmt("version", err)
	}
	if err = readHash(r, &h.PrevBlock); err != nil {
		return errFmt("prevBlock", err)
	}
	if err = readHash(r, &h.MerkleRoot); err != nil {
		return errFmt("merkleRoot", err)
	}
	if h.Timestamp, err = readUint32(r); err != nil {
		return errFmt("timestamp", err)
	}
	if h.Bits, err = readUint32(r); err != nil {
		return errFmt("bits", err)
	}
	if h.Nonce, err = readUint32(r); err != nil {
		return errFmt("nonce", err)
	}
	return nil
}

// fixedWriter is a tiny io.Writer over a pre-sized byte slice, used
// to avoid a bytes.Buffer allocation when hashing an 80-byte header.
type fixedWriter struct {
	buf []byte
}

func (w *fixedWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}
