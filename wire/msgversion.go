package wire

import (
	"io"

	"github.com/pkg/errors"
)

// MaxUserAgentLen bounds the user-agent var-string to guard against a
// peer forcing an unbounded allocation.
const MaxUserAgentLen = 256

// ProtocolVersion is the protocol version implemented by this node.
const ProtocolVersion uint32 = 70015

// ServiceFlag is a bitfield of services advertised by a peer in its
// version message (spec §6).
type ServiceFlag uint64

// Recognized service bits.
const (
	ServiceFullNode ServiceFlag = 1 << 0
	ServiceBloom    ServiceFlag = 1 << 2
	ServiceWitness  ServiceFlag = 1 << 3
	ServiceXThin    ServiceFlag = 1 << 4
	ServiceCash     ServiceFlag = 1 << 5
)

// NetAddress is the 26-byte (for version payloads; timestamp-prefixed
// variant used by MsgAddr) peer address record: services, IPv6
// address, and port.
type NetAddress struct {
	Services ServiceFlag
	IP       [16]byte
	Port     uint16
}

func (na *NetAddress) encode(w io.Writer) error {
	if err := writeUint64(w, uint64(na.Services)); err != nil {
		return err
	}
	if _, err := w.Write(na.IP[:]); err != nil {
		return err
	}
	var portBuf [2]byte
	bigEndianPutUint16(portBuf[:], na.Port)
	_, err := w.Write(portBuf[:])
	return err
}

func (na *NetAddress) decode(r io.Reader) error {
	services, err := readUint64(r)
	if err != nil {
		return err
	}
	na.Services = ServiceFlag(services)
	if _, err := io.ReadFull(r, na.IP[:]); err != nil {
		return err
	}
	var portBuf [2]byte
	if _, err := io.ReadFull(r, portBuf[:]); err != nil {
		return err
	}
	na.Port = bigEndianUint16(portBuf[:])
	return nil
}

func bigEndianPutUint16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func bigEndianUint16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

// MsgVersion is the first message exchanged on a new connection: each
// side advertises its protocol version, services, and chain tip
// height so the pair can negotiate relay behavior (spec §6).
type MsgVersion struct {
	ProtocolVersion int32
	Services        ServiceFlag
	Timestamp       int64
	ReceiverAddress NetAddress
	SenderAddress   NetAddress
	Nonce           uint64
	UserAgent       string
	StartHeight     int32
	RelayFlag       bool
}

// Command implements Message.
func (msg *MsgVersion) Command() string { return CmdVersion }

// Encode implements Message.
func (msg *MsgVersion) Encode(w io.Writer) error {
	if len(msg.UserAgent) > MaxUserAgentLen {
		return errors.Errorf("user agent too long [len %d, max %d]", len(msg.UserAgent), MaxUserAgentLen)
	}
	if err := writeInt32(w, msg.ProtocolVersion); err != nil {
		return err
	}
	if err := writeUint64(w, uint64(msg.Services)); err != nil {
		return err
	}
	if err := writeInt64(w, msg.Timestamp); err != nil {
		return err
	}
	if err := msg.ReceiverAddress.encode(w); err != nil {
		return err
	}
	if err := msg.SenderAddress.encode(w); err != nil {
		return err
	}
	if err := writeUint64(w, msg.Nonce); err != nil {
		return err
	}
	if err := WriteVarString(w, msg.UserAgent); err != nil {
		return err
	}
	if err := writeInt32(w, msg.StartHeight); err != nil {
		return err
	}
	return WriteElementBool(w, msg.RelayFlag)
}

// Decode implements Message.
func (msg *MsgVersion) Decode(r io.Reader) error {
	var err error
	if msg.ProtocolVersion, err = readInt32(r); err != nil {
		return err
	}
	services, err := readUint64(r)
	if err != nil {
		return err
	}
	msg.Services = ServiceFlag(services)
	if msg.Timestamp, err = readInt64(r); err != nil {
		return err
	}
	if err = msg.ReceiverAddress.decode(r); err != nil {
		return err
	}
	if err = msg.SenderAddress.decode(r); err != nil {
		return err
	}
	if msg.Nonce, err = readUint64(r); err != nil {
		return err
	}
	if msg.UserAgent, err = ReadVarString(r); err != nil {
		return err
	}
	if len(msg.UserAgent) > MaxUserAgentLen {
		return errors.Errorf("user agent too long [len %d, max %d]", len(msg.UserAgent), MaxUserAgentLen)
	}
	if msg.StartHeight, err = readInt32(r); err != nil {
		return err
	}
	msg.RelayFlag, err = ReadElementBool(r)
	return err
}

// WriteElementBool writes a single-byte boolean.
func WriteElementBool(w io.Writer, b bool) error {
	v := byte(0)
	if b {
		v = 1
	}
	_, err := w.Write([]byte{v})
	return err
}

// ReadElementBool reads a single-byte boolean.
func ReadElementBool(r io.Reader) (bool, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return false, err
	}
	return buf[0] != 0, nil
}

// MsgVerAck acknowledges a received MsgVersion; it carries no payload.
type MsgVerAck struct{}

func (msg *MsgVerAck) Command() string          { return CmdVerAck }
func (msg *MsgVerAck) Encode(w io.Writer) error  { return nil }
func (msg *MsgVerAck) Decode(r io.Reader) error  { return nil }
