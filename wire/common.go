// Package wire implements the Bitcoin Cash peer-to-peer wire protocol:
// the 24-byte message header framing, the compact-integer and
// var-string/var-bytes codecs, and the typed message payloads
// exchanged between peers.
package wire

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/ncnode/ncnode/ncutil/hash"
)

// MaxMessagePayload is the maximum bytes a message payload may be,
// guarding decoders against memory-exhaustion from a malicious length
// prefix.
const MaxMessagePayload = 32 * 1024 * 1024

var littleEndian = binary.LittleEndian

// ReadVarInt reads a CompactSize-encoded integer: single byte for
// values below 0xfd, or a 0xfd/0xfe/0xff discriminant followed by a
// fixed-width little-endian integer. Encodings that could have used a
// smaller form are rejected as non-canonical.
func ReadVarInt(r io.Reader) (uint64, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}

	switch b[0] {
	case 0xff:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		v := littleEndian.Uint64(buf[:])
		if v < 0x100000000 {
			return 0, errors.Errorf("non-canonical varint %x with discriminant 0xff", v)
		}
		return v, nil
	case 0xfe:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		v := uint64(littleEndian.Uint32(buf[:]))
		if v < 0x10000 {
			return 0, errors.Errorf("non-canonical varint %x with discriminant 0xfe", v)
		}
		return v, nil
	case 0xfd:
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		v := uint64(littleEndian.Uint16(buf[:]))
		if v < 0xfd {
			return 0, errors.Errorf("non-canonical varint %x with discriminant 0xfd", v)
		}
		return v, nil
	default:
		return uint64(b[0]), nil
	}
}

// WriteVarInt writes val using the minimal CompactSize encoding.
func WriteVarInt(w io.Writer, val uint64) error {
	switch {
	case val < 0xfd:
		_, err := w.Write([]byte{byte(val)})
		return err
	case val <= math.MaxUint16:
		buf := make([]byte, 3)
		buf[0] = 0xfd
		littleEndian.PutUint16(buf[1:], uint16(val))
		_, err := w.Write(buf)
		return err
	case val <= math.MaxUint32:
		buf := make([]byte, 5)
		buf[0] = 0xfe
		littleEndian.PutUint32(buf[1:], uint32(val))
		_, err := w.Write(buf)
		return err
	default:
		buf := make([]byte, 9)
		buf[0] = 0xff
		littleEndian.PutUint64(buf[1:], val)
		_, err := w.Write(buf)
		return err
	}
}

// VarIntSerializeSize returns the number of bytes WriteVarInt would
// emit for val.
func VarIntSerializeSize(val uint64) int {
	switch {
	case val < 0xfd:
		return 1
	case val <= math.MaxUint16:
		return 3
	case val <= math.MaxUint32:
		return 5
	default:
		return 9
	}
}

// ReadVarString reads a length-prefixed UTF-8 string.
func ReadVarString(r io.Reader) (string, error) {
	count, err := ReadVarInt(r)
	if err != nil {
		return "", err
	}
	if count > MaxMessagePayload {
		return "", errors.Errorf("var string too long: %d", count)
	}
	buf := make([]byte, count)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteVarString writes a length-prefixed UTF-8 string.
func WriteVarString(w io.Writer, s string) error {
	if err := WriteVarInt(w, uint64(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

// ReadVarBytes reads a length-prefixed byte slice, rejecting a length
// above maxAllowed (fieldName appears in the resulting error, for
// context).
func ReadVarBytes(r io.Reader, maxAllowed uint64, fieldName string) ([]byte, error) {
	count, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if count > maxAllowed {
		return nil, errors.Errorf("%s is larger than max allowed size [count %d, max %d]",
			fieldName, count, maxAllowed)
	}
	buf := make([]byte, count)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteVarBytes writes a length-prefixed byte slice.
func WriteVarBytes(w io.Writer, b []byte) error {
	if err := WriteVarInt(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// readHash reads a 32-byte hash in wire (little-endian) order.
func readHash(r io.Reader, h *hash.Hash) error {
	_, err := io.ReadFull(r, h[:])
	return err
}

func writeHash(w io.Writer, h *hash.Hash) error {
	_, err := w.Write(h[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return littleEndian.Uint32(buf[:]), nil
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	littleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readInt32(r io.Reader) (int32, error) {
	v, err := readUint32(r)
	return int32(v), err
}

func writeInt32(w io.Writer, v int32) error {
	return writeUint32(w, uint32(v))
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return littleEndian.Uint64(buf[:]), nil
}

func writeUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	littleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readInt64(r io.Reader) (int64, error) {
	v, err := readUint64(r)
	return int64(v), err
}

func writeInt64(w io.Writer, v int64) error {
	return writeUint64(w, uint64(v))
}

// errFmt is a helper used by message decoders to attach field context
// to a low-level decode error.
func errFmt(field string, err error) error {
	return errors.Wrapf(err, "wire: failed to read %s", field)
}
