package wire

import (
	"io"

	"github.com/pkg/errors"

	"github.com/ncnode/ncnode/ncutil/hash"
)

// InvType identifies what an inventory vector's hash refers to.
type InvType uint32

// Recognized inventory types.
const (
	InvTypeError InvType = 0
	InvTypeTx    InvType = 1
	InvTypeBlock InvType = 2
)

// MaxInvPerMsg bounds how many inventory vectors a single message may
// carry, matching the classic Bitcoin wire limit.
const MaxInvPerMsg = 50000

// InvVect pairs a type with the hash of the object it announces or
// requests.
type InvVect struct {
	Type InvType
	Hash hash.Hash
}

func readInvVect(r io.Reader) (*InvVect, error) {
	typ, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	var h hash.Hash
	if err := readHash(r, &h); err != nil {
		return nil, err
	}
	return &InvVect{Type: InvType(typ), Hash: h}, nil
}

func writeInvVect(w io.Writer, iv *InvVect) error {
	if err := writeUint32(w, uint32(iv.Type)); err != nil {
		return err
	}
	return writeHash(w, &iv.Hash)
}

func readInvList(r io.Reader) ([]*InvVect, error) {
	count, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if count > MaxInvPerMsg {
		return nil, errors.Errorf("too many inventory vectors [count %d, max %d]", count, MaxInvPerMsg)
	}
	list := make([]*InvVect, 0, count)
	for i := uint64(0); i < count; i++ {
		iv, err := readInvVect(r)
		if err != nil {
			return nil, err
		}
		list = append(list, iv)
	}
	return list, nil
}

func writeInvList(w io.Writer, list []*InvVect) error {
	if err := WriteVarInt(w, uint64(len(list))); err != nil {
		return err
	}
	for _, iv := range list {
		if err := writeInvVect(w, iv); err != nil {
			return err
		}
	}
	return nil
}

// MsgInv announces objects (blocks or transactions) the sender has
// available (spec §4.8).
type MsgInv struct {
	InvList []*InvVect
}

func (msg *MsgInv) Command() string          { return CmdInv }
func (msg *MsgInv) Encode(w io.Writer) error { return writeInvList(w, msg.InvList) }
func (msg *MsgInv) Decode(r io.Reader) error {
	list, err := readInvList(r)
	msg.InvList = list
	return err
}

// AddInvVect appends an inventory vector, rejecting the add once the
// per-message cap is reached.
func (msg *MsgInv) AddInvVect(iv *InvVect) error {
	if len(msg.InvList)+1 > MaxInvPerMsg {
		return errors.Errorf("inv message exceeds max inv entries of %d", MaxInvPerMsg)
	}
	msg.InvList = append(msg.InvList, iv)
	return nil
}

// MsgGetData requests the full objects named by InvList (spec §4.8).
type MsgGetData struct {
	InvList []*InvVect
}

func (msg *MsgGetData) Command() string          { return CmdGetData }
func (msg *MsgGetData) Encode(w io.Writer) error { return writeInvList(w, msg.InvList) }
func (msg *MsgGetData) Decode(r io.Reader) error {
	list, err := readInvList(r)
	msg.InvList = list
	return err
}

// MsgNotFound is returned in place of the objects requested by
// MsgGetData that the replying peer does not hold.
type MsgNotFound struct {
	InvList []*InvVect
}

func (msg *MsgNotFound) Command() string          { return CmdNotFound }
func (msg *MsgNotFound) Encode(w io.Writer) error { return writeInvList(w, msg.InvList) }
func (msg *MsgNotFound) Decode(r io.Reader) error {
	list, err := readInvList(r)
	msg.InvList = list
	return err
}

// MsgGetHeaders requests headers extending from a block-locator,
// stopping at hashStop (or the peer's tip if hashStop is zero).
type MsgGetHeaders struct {
	ProtocolVersion    uint32
	BlockLocatorHashes []*hash.Hash
	HashStop           hash.Hash
}

func (msg *MsgGetHeaders) Command() string { return CmdGetHeaders }

func (msg *MsgGetHeaders) Encode(w io.Writer) error {
	if err := writeUint32(w, msg.ProtocolVersion); err != nil {
		return err
	}
	if err := WriteVarInt(w, uint64(len(msg.BlockLocatorHashes))); err != nil {
		return err
	}
	for _, h := range msg.BlockLocatorHashes {
		if err := writeHash(w, h); err != nil {
			return err
		}
	}
	return writeHash(w, &msg.HashStop)
}

func (msg *MsgGetHeaders) Decode(r io.Reader) error {
	var err error
	if msg.ProtocolVersion, err = readUint32(r); err != nil {
		return err
	}
	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	msg.BlockLocatorHashes = make([]*hash.Hash, 0, count)
	for i := uint64(0); i < count; i++ {
		var h hash.Hash
		if err := readHash(r, &h); err != nil {
			return err
		}
		msg.BlockLocatorHashes = append(msg.BlockLocatorHashes, &h)
	}
	return readHash(r, &msg.HashStop)
}

// MsgGetBlocks requests block hashes (via inv) extending from a
// block-locator, the same locator convention as MsgGetHeaders.
type MsgGetBlocks struct {
	ProtocolVersion    uint32
	BlockLocatorHashes []*hash.Hash
	HashStop           hash.Hash
}

func (msg *MsgGetBlocks) Command() string { return CmdGetBlocks }

func (msg *MsgGetBlocks) Encode(w io.Writer) error {
	gh := MsgGetHeaders(*msg)
	return gh.Encode(w)
}

func (msg *MsgGetBlocks) Decode(r io.Reader) error {
	var gh MsgGetHeaders
	if err := gh.Decode(r); err != nil {
		return err
	}
	*msg = MsgGetBlocks(gh)
	return nil
}
