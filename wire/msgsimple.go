package wire

import "io"

// MsgPing carries a nonce the peer must echo back in a MsgPong, used
// to measure liveness (spec §4.8).
type MsgPing struct {
	Nonce uint64
}

func (msg *MsgPing) Command() string { return CmdPing }
func (msg *MsgPing) Encode(w io.Writer) error {
	return writeUint64(w, msg.Nonce)
}
func (msg *MsgPing) Decode(r io.Reader) error {
	n, err := readUint64(r)
	msg.Nonce = n
	return err
}

// MsgPong echoes the nonce of the MsgPing it answers.
type MsgPong struct {
	Nonce uint64
}

func (msg *MsgPong) Command() string { return CmdPong }
func (msg *MsgPong) Encode(w io.Writer) error {
	return writeUint64(w, msg.Nonce)
}
func (msg *MsgPong) Decode(r io.Reader) error {
	n, err := readUint64(r)
	msg.Nonce = n
	return err
}

// MsgGetAddr requests a snapshot of known peer addresses.
type MsgGetAddr struct{}

func (msg *MsgGetAddr) Command() string         { return CmdGetAddr }
func (msg *MsgGetAddr) Encode(w io.Writer) error { return nil }
func (msg *MsgGetAddr) Decode(r io.Reader) error { return nil }

// MsgMemPool requests an inv snapshot of the peer's mempool, filtered
// by the requester's bloom filter if one is loaded (spec §4.8).
type MsgMemPool struct{}

func (msg *MsgMemPool) Command() string         { return CmdMemPool }
func (msg *MsgMemPool) Encode(w io.Writer) error { return nil }
func (msg *MsgMemPool) Decode(r io.Reader) error { return nil }

// MsgSendHeaders requests that new block announcements use headers
// messages rather than inv.
type MsgSendHeaders struct{}

func (msg *MsgSendHeaders) Command() string         { return CmdSendHeaders }
func (msg *MsgSendHeaders) Encode(w io.Writer) error { return nil }
func (msg *MsgSendHeaders) Decode(r io.Reader) error { return nil }

// MsgFeeFilter tells the peer not to announce transactions below
// this fee rate (satoshis per 1000 bytes).
type MsgFeeFilter struct {
	MinFeeRate int64
}

func (msg *MsgFeeFilter) Command() string { return CmdFeeFilter }
func (msg *MsgFeeFilter) Encode(w io.Writer) error {
	return writeInt64(w, msg.MinFeeRate)
}
func (msg *MsgFeeFilter) Decode(r io.Reader) error {
	v, err := readInt64(r)
	msg.MinFeeRate = v
	return err
}

// RejectCode classifies why a message was rejected.
type RejectCode uint8

// Recognized reject codes, mirroring the policy-reject kind of
// spec §7.
const (
	RejectMalformed       RejectCode = 0x01
	RejectInvalid         RejectCode = 0x10
	RejectObsolete        RejectCode = 0x11
	RejectDuplicate       RejectCode = 0x12
	RejectNonStandard     RejectCode = 0x40
	RejectInsufficientFee RejectCode = 0x42
)

// MsgReject informs a peer why one of its messages was not accepted
// (spec §7, Policy reject kind).
type MsgReject struct {
	Cmd    string
	Code   RejectCode
	Reason string
	Hash   [32]byte
}

func (msg *MsgReject) Command() string { return CmdReject }

func (msg *MsgReject) Encode(w io.Writer) error {
	if err := WriteVarString(w, msg.Cmd); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(msg.Code)}); err != nil {
		return err
	}
	if err := WriteVarString(w, msg.Reason); err != nil {
		return err
	}
	switch msg.Cmd {
	case CmdBlock, CmdTx:
		_, err := w.Write(msg.Hash[:])
		return err
	default:
		return nil
	}
}

func (msg *MsgReject) Decode(r io.Reader) error {
	var err error
	if msg.Cmd, err = ReadVarString(r); err != nil {
		return err
	}
	var codeBuf [1]byte
	if _, err := io.ReadFull(r, codeBuf[:]); err != nil {
		return err
	}
	msg.Code = RejectCode(codeBuf[0])
	if msg.Reason, err = ReadVarString(r); err != nil {
		return err
	}
	switch msg.Cmd {
	case CmdBlock, CmdTx:
		_, err := io.ReadFull(r, msg.Hash[:])
		return err
	default:
		return nil
	}
}
