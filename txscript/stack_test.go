package txscript

import "testing"

func TestScriptNumRoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, 127, 128, -128, 255, 256, 32767, 32768, -32768}
	for _, c := range cases {
		n := scriptNumFromInt(c)
		b := n.Bytes()
		got, err := makeScriptNum(b, true, 8)
		if err != nil {
			t.Fatalf("makeScriptNum(%d): %v", c, err)
		}
		if got.Int64() != c {
			t.Fatalf("round trip mismatch: got %d, want %d", got.Int64(), c)
		}
	}
}

func TestScriptNumRejectsNonMinimal(t *testing.T) {
	if _, err := makeScriptNum([]byte{0x00, 0x80}, true, 8); err == nil {
		t.Fatal("expected rejection of a non-minimally-encoded number")
	}
}

func TestStackRotN(t *testing.T) {
	s := &stack{}
	s.PushByteArray([]byte{1})
	s.PushByteArray([]byte{2})
	s.PushByteArray([]byte{3})
	if err := s.RotN(1); err != nil {
		t.Fatalf("RotN: %v", err)
	}
	top, _ := s.PopByteArray()
	if top[0] != 1 {
		t.Fatalf("expected top item 1 after rotation, got %d", top[0])
	}
}

func TestParseScriptPushData(t *testing.T) {
	script := append([]byte{OP_PUSHDATA1, 3}, []byte{0xaa, 0xbb, 0xcc}...)
	parsed, err := parseScript(script)
	if err != nil {
		t.Fatalf("parseScript: %v", err)
	}
	if len(parsed) != 1 || len(parsed[0].data) != 3 {
		t.Fatalf("unexpected parse result: %+v", parsed)
	}
}

func TestParseScriptRejectsTruncatedPush(t *testing.T) {
	script := []byte{0x05, 0x01, 0x02}
	if _, err := parseScript(script); err == nil {
		t.Fatal("expected error for a push opcode claiming more data than the script contains")
	}
}
