package wire

import (
	"bytes"
	"testing"

	"github.com/davecgh/go-spew/spew"
)

func TestVarIntRoundTrip(t *testing.T) {
	tests := []uint64{
		0, 1, 0xfc, 0xfd, 0xfe, 0xffff, 0x10000, 0xffffffff, 0x100000000, 0xffffffffffffffff,
	}
	for _, v := range tests {
		var buf bytes.Buffer
		if err := WriteVarInt(&buf, v); err != nil {
			t.Fatalf("WriteVarInt(%d): %v", v, err)
		}
		if buf.Len() != VarIntSerializeSize(v) {
			t.Errorf("VarIntSerializeSize(%d) = %d, want %d", v, VarIntSerializeSize(v), buf.Len())
		}
		got, err := ReadVarInt(&buf)
		if err != nil {
			t.Fatalf("ReadVarInt(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("round trip mismatch: got %s want %s", spew.Sdump(got), spew.Sdump(v))
		}
	}
}

func TestVarIntNonCanonical(t *testing.T) {
	// 0xfd discriminant followed by a value that fits in one byte is
	// a non-canonical encoding and must be rejected.
	buf := bytes.NewBuffer([]byte{0xfd, 0x0a, 0x00})
	if _, err := ReadVarInt(buf); err == nil {
		t.Fatal("expected non-canonical varint to be rejected")
	}
}

func TestVarStringRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	const s = "ncnode full node reference implementation"
	if err := WriteVarString(&buf, s); err != nil {
		t.Fatal(err)
	}
	got, err := ReadVarString(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != s {
		t.Errorf("got %q, want %q", got, s)
	}
}

func TestMessageHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	ping := &MsgPing{Nonce: 0xdeadbeefcafebabe}
	if err := WriteMessage(&buf, ping, MainNet); err != nil {
		t.Fatal(err)
	}

	command, length, checksum, err := ReadMessageHeader(&buf, MainNet)
	if err != nil {
		t.Fatal(err)
	}
	if command != CmdPing {
		t.Errorf("command = %q, want %q", command, CmdPing)
	}
	if int(length) != buf.Len() {
		t.Errorf("declared length %d does not match remaining payload %d", length, buf.Len())
	}

	payload := make([]byte, length)
	if _, err := buf.Read(payload); err != nil {
		t.Fatal(err)
	}

	if !VerifyChecksum(payload, checksum) {
		t.Fatal("checksum did not verify against the written payload")
	}

	var decoded MsgPing
	if err := decoded.Decode(bytes.NewReader(payload)); err != nil {
		t.Fatal(err)
	}
	if decoded.Nonce != ping.Nonce {
		t.Errorf("nonce = %d, want %d", decoded.Nonce, ping.Nonce)
	}
}

func TestMessageHeaderWrongNetwork(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, &MsgVerAck{}, TestNet); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := ReadMessageHeader(&buf, MainNet); err == nil {
		t.Fatal("expected wrong-network header to be rejected")
	}
}
