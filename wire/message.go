package wire

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// CommandSize is the fixed, null-padded width of a message's command
// string in the 24-byte header.
const CommandSize = 12

// Network identifies which network's magic bytes frame a message.
type Network uint32

// Known networks.
const (
	MainNet Network = 0xe8f3e1e3
	TestNet Network = 0xf4f3e5f4
	RegTest Network = 0xdab5bffa
)

// Command names of the wire protocol (spec §6). MakeEmptyMessage
// decodes all of them except getblocks, sendcmpct, cmpctblock,
// getblocktxn and blocktxn.
const (
	CmdVersion     = "version"
	CmdVerAck      = "verack"
	CmdPing        = "ping"
	CmdPong        = "pong"
	CmdGetAddr     = "getaddr"
	CmdAddr        = "addr"
	CmdInv         = "inv"
	CmdGetData     = "getdata"
	CmdNotFound    = "notfound"
	CmdGetBlocks   = "getblocks"
	CmdGetHeaders  = "getheaders"
	CmdHeaders     = "headers"
	CmdBlock       = "block"
	CmdTx          = "tx"
	CmdMemPool     = "mempool"
	CmdFilterLoad  = "filterload"
	CmdFilterAdd   = "filteradd"
	CmdFilterClear = "filterclear"
	CmdMerkleBlock = "merkleblock"
	CmdSendHeaders = "sendheaders"
	CmdFeeFilter   = "feefilter"
	CmdReject      = "reject"
	CmdSendCmpct   = "sendcmpct"
	CmdCmpctBlock  = "cmpctblock"
	CmdGetBlockTxn = "getblocktxn"
	CmdBlockTxn    = "blocktxn"
)

// Message is implemented by every payload type exchanged over the
// wire.
type Message interface {
	Command() string
	Encode(w io.Writer) error
	Decode(r io.Reader) error
}

// messageHeader is the 24-byte framing: magic, null-padded command,
// payload length, and a 4-byte checksum (the first four bytes of
// double-SHA-256 of the payload).
type messageHeader struct {
	magic    Network
	command  string
	length   uint32
	checksum [4]byte
}

func commandToBytes(command string) ([CommandSize]byte, error) {
	var buf [CommandSize]byte
	if len(command) > CommandSize {
		return buf, errors.Errorf("command %q longer than max length %d", command, CommandSize)
	}
	copy(buf[:], command)
	return buf, nil
}

func commandFromBytes(buf [CommandSize]byte) string {
	i := bytes.IndexByte(buf[:], 0)
	if i == -1 {
		i = CommandSize
	}
	return string(buf[:i])
}

// WriteMessage serializes msg with a header framed for the given
// network and writes it to w.
func WriteMessage(w io.Writer, msg Message, net Network) error {
	var payload bytes.Buffer
	if err := msg.Encode(&payload); err != nil {
		return errors.Wrap(err, "wire: failed to encode payload")
	}
	if payload.Len() > MaxMessagePayload {
		return errors.Errorf("message payload of %d bytes exceeds max of %d", payload.Len(), MaxMessagePayload)
	}

	cmdBytes, err := commandToBytes(msg.Command())
	if err != nil {
		return err
	}

	checksum := doubleSHA256Checksum(payload.Bytes())

	hdr := make([]byte, 24)
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(net))
	copy(hdr[4:16], cmdBytes[:])
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(payload.Len()))
	copy(hdr[20:24], checksum[:])

	if _, err := w.Write(hdr); err != nil {
		return errors.Wrap(err, "wire: failed to write header")
	}
	if _, err := w.Write(payload.Bytes()); err != nil {
		return errors.Wrap(err, "wire: failed to write payload")
	}
	return nil
}

// ReadMessageHeader reads and validates the 24-byte framing header,
// returning the command name, declared payload length, and checksum.
// It is the caller's responsibility to reject a length beyond what it
// is willing to buffer before reading the payload, and to confirm the
// payload against checksum with VerifyChecksum once read.
func ReadMessageHeader(r io.Reader, net Network) (command string, length uint32, checksum [4]byte, err error) {
	var buf [24]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return "", 0, checksum, errors.Wrap(err, "wire: failed to read message header")
	}

	magic := Network(binary.LittleEndian.Uint32(buf[0:4]))
	if magic != net {
		return "", 0, checksum, errors.Errorf("message from wrong network [magic %x, want %x]", magic, net)
	}

	var cmdBytes [CommandSize]byte
	copy(cmdBytes[:], buf[4:16])
	command = commandFromBytes(cmdBytes)
	length = binary.LittleEndian.Uint32(buf[16:20])
	copy(checksum[:], buf[20:24])
	return command, length, checksum, nil
}

// VerifyChecksum reports whether checksum matches the first four
// bytes of double-SHA-256(payload); checksum is read by the caller
// from the remaining four bytes of the header.
func VerifyChecksum(payload []byte, checksum [4]byte) bool {
	return doubleSHA256Checksum(payload) == checksum
}

func doubleSHA256Checksum(payload []byte) [4]byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	var out [4]byte
	copy(out[:], second[:4])
	return out
}

// MakeEmptyMessage allocates a zero-value Message for the given
// command name, or an error if the command is unrecognized. The
// per-peer message loop uses this to decode an inbound payload once
// it knows which command it received.
func MakeEmptyMessage(command string) (Message, error) {
	switch command {
	case CmdVersion:
		return &MsgVersion{}, nil
	case CmdVerAck:
		return &MsgVerAck{}, nil
	case CmdPing:
		return &MsgPing{}, nil
	case CmdPong:
		return &MsgPong{}, nil
	case CmdGetAddr:
		return &MsgGetAddr{}, nil
	case CmdAddr:
		return &MsgAddr{}, nil
	case CmdInv:
		return &MsgInv{}, nil
	case CmdGetData:
		return &MsgGetData{}, nil
	case CmdNotFound:
		return &MsgNotFound{}, nil
	case CmdGetHeaders:
		return &MsgGetHeaders{}, nil
	case CmdHeaders:
		return &MsgHeaders{}, nil
	case CmdBlock:
		return &MsgBlock{}, nil
	case CmdTx:
		return &MsgTx{}, nil
	case CmdMemPool:
		return &MsgMemPool{}, nil
	case CmdFeeFilter:
		return &MsgFeeFilter{}, nil
	case CmdReject:
		return &MsgReject{}, nil
	case CmdFilterLoad:
		return &MsgFilterLoad{}, nil
	case CmdFilterAdd:
		return &MsgFilterAdd{}, nil
	case CmdFilterClear:
		return &MsgFilterClear{}, nil
	case CmdMerkleBlock:
		return &MsgMerkleBlock{}, nil
	case CmdSendHeaders:
		return &MsgSendHeaders{}, nil
	default:
		return nil, errors.Errorf("unhandled command %q", command)
	}
}
