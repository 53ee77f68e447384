package wire

import (
	"io"

	"github.com/pkg/errors"

	"github.com/ncnode/ncnode/ncutil/hash"
)

// MaxFilterLoadHashFuncs / MaxFilterLoadFilterSize bound a loaded
// bloom filter's size, guarding against a peer forcing unbounded
// matching work.
const (
	MaxFilterLoadHashFuncs  = 50
	MaxFilterLoadFilterSize = 36000
)

// BloomUpdateType controls how matching a filter updates it in place
// (spec §4.4/§4.8, SPV service).
type BloomUpdateType uint8

// Recognized update types.
const (
	BloomUpdateNone         BloomUpdateType = 0
	BloomUpdateAll          BloomUpdateType = 1
	BloomUpdateP2PubkeyOnly BloomUpdateType = 2
)

// MsgFilterLoad installs a bloom filter on the connection, after
// which only matching transactions and merkle blocks are sent.
type MsgFilterLoad struct {
	Filter    []byte
	HashFuncs uint32
	Tweak     uint32
	Flags     BloomUpdateType
}

func (msg *MsgFilterLoad) Command() string { return CmdFilterLoad }

func (msg *MsgFilterLoad) Encode(w io.Writer) error {
	if err := WriteVarBytes(w, msg.Filter); err != nil {
		return err
	}
	if err := writeUint32(w, msg.HashFuncs); err != nil {
		return err
	}
	if err := writeUint32(w, msg.Tweak); err != nil {
		return err
	}
	_, err := w.Write([]byte{byte(msg.Flags)})
	return err
}

func (msg *MsgFilterLoad) Decode(r io.Reader) error {
	filter, err := ReadVarBytes(r, MaxFilterLoadFilterSize, "filter")
	if err != nil {
		return err
	}
	msg.Filter = filter
	if msg.HashFuncs, err = readUint32(r); err != nil {
		return err
	}
	if msg.HashFuncs > MaxFilterLoadHashFuncs {
		return errors.Errorf("too many filter hash functions [count %d, max %d]", msg.HashFuncs, MaxFilterLoadHashFuncs)
	}
	if msg.Tweak, err = readUint32(r); err != nil {
		return err
	}
	var flagBuf [1]byte
	if _, err := io.ReadFull(r, flagBuf[:]); err != nil {
		return err
	}
	msg.Flags = BloomUpdateType(flagBuf[0])
	return nil
}

// MsgFilterAdd adds a single element to the peer's loaded filter.
type MsgFilterAdd struct {
	Data []byte
}

func (msg *MsgFilterAdd) Command() string { return CmdFilterAdd }
func (msg *MsgFilterAdd) Encode(w io.Writer) error {
	return WriteVarBytes(w, msg.Data)
}
func (msg *MsgFilterAdd) Decode(r io.Reader) error {
	data, err := ReadVarBytes(r, 520, "data")
	msg.Data = data
	return err
}

// MsgFilterClear removes any filter previously loaded for the
// connection.
type MsgFilterClear struct{}

func (msg *MsgFilterClear) Command() string         { return CmdFilterClear }
func (msg *MsgFilterClear) Encode(w io.Writer) error { return nil }
func (msg *MsgFilterClear) Decode(r io.Reader) error { return nil }

// MsgMerkleBlock is the SPV proof response: a header plus the
// partial-merkle-tree encoding produced by the merkle package for
// the transactions matching the requester's filter.
type MsgMerkleBlock struct {
	Header       BlockHeader
	Transactions uint32
	Hashes       []*hash.Hash
	Flags        []byte
}

func (msg *MsgMerkleBlock) Command() string { return CmdMerkleBlock }

func (msg *MsgMerkleBlock) Encode(w io.Writer) error {
	if err := msg.Header.Encode(w); err != nil {
		return err
	}
	if err := writeUint32(w, msg.Transactions); err != nil {
		return err
	}
	if err := WriteVarInt(w, uint64(len(msg.Hashes))); err != nil {
		return err
	}
	for _, h := range msg.Hashes {
		if err := writeHash(w, h); err != nil {
			return err
		}
	}
	return WriteVarBytes(w, msg.Flags)
}

func (msg *MsgMerkleBlock) Decode(r io.Reader) error {
	if err := msg.Header.Decode(r); err != nil {
		return err
	}
	txs, err := readUint32(r)
	if err != nil {
		return err
	}
	msg.Transactions = txs
	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	msg.Hashes = make([]*hash.Hash, 0, count)
	for i := uint64(0); i < count; i++ {
		var h hash.Hash
		if err := readHash(r, &h); err != nil {
			return err
		}
		msg.Hashes = append(msg.Hashes, &h)
	}
	flags, err := ReadVarBytes(r, MaxMessagePayload, "flags")
	msg.Flags = flags
	return err
}
