package wire

import (
	"io"

	"github.com/pkg/errors"
)

// MaxAddrPerMsg bounds how many addresses a single addr message may
// carry.
const MaxAddrPerMsg = 1000

// TimestampedAddress is a peer address record with the time it was
// last seen, as exchanged by the addr/getaddr pair.
type TimestampedAddress struct {
	Timestamp uint32
	NetAddress
}

// MsgAddr relays known peer addresses in response to MsgGetAddr.
type MsgAddr struct {
	AddrList []*TimestampedAddress
}

func (msg *MsgAddr) Command() string { return CmdAddr }

func (msg *MsgAddr) Encode(w io.Writer) error {
	if len(msg.AddrList) > MaxAddrPerMsg {
		return errors.Errorf("too many addresses for message [count %d, max %d]", len(msg.AddrList), MaxAddrPerMsg)
	}
	if err := WriteVarInt(w, uint64(len(msg.AddrList))); err != nil {
		return err
	}
	for _, a := range msg.AddrList {
		if err := writeUint32(w, a.Timestamp); err != nil {
			return err
		}
		if err := a.NetAddress.encode(w); err != nil {
			return err
		}
	}
	return nil
}

func (msg *MsgAddr) Decode(r io.Reader) error {
	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > MaxAddrPerMsg {
		return errors.Errorf("too many addresses for message [count %d, max %d]", count, MaxAddrPerMsg)
	}
	msg.AddrList = make([]*TimestampedAddress, 0, count)
	for i := uint64(0); i < count; i++ {
		ts, err := readUint32(r)
		if err != nil {
			return err
		}
		a := &TimestampedAddress{Timestamp: ts}
		if err := a.NetAddress.decode(r); err != nil {
			return err
		}
		msg.AddrList = append(msg.AddrList, a)
	}
	return nil
}

// AddAddress appends an address, enforcing the per-message cap.
func (msg *MsgAddr) AddAddress(a *TimestampedAddress) error {
	if len(msg.AddrList)+1 > MaxAddrPerMsg {
		return errors.Errorf("addr message exceeds max addresses of %d", MaxAddrPerMsg)
	}
	msg.AddrList = append(msg.AddrList, a)
	return nil
}
