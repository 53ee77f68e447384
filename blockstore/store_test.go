package blockstore

import (
	"testing"

	"github.com/ncnode/ncnode/wire"
)

func testBlock(nonce uint32) *wire.MsgBlock {
	return &wire.MsgBlock{
		Header: wire.BlockHeader{
			Version: 1,
			Bits:    0x207fffff,
			Nonce:   nonce,
		},
		Transactions: []*wire.MsgTx{
			{
				Version: 1,
				TxIn: []*wire.TxIn{
					{PreviousOutpoint: wire.Outpoint{Index: 0xffffffff}, Sequence: 0xffffffff},
				},
				TxOut: []*wire.TxOut{
					{Value: 5000000000, ScriptPubKey: []byte{0x51}},
				},
			},
		},
	}
}

func TestAppendAndReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	for h := uint64(0); h < 3; h++ {
		if err := s.Append(h, testBlock(uint32(h))); err != nil {
			t.Fatalf("Append(%d): %v", h, err)
		}
	}

	got, err := s.ReadBlock(1)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if got.Header.Nonce != 1 {
		t.Fatalf("nonce = %d, want 1", got.Header.Nonce)
	}

	header, err := s.ReadHeader(2)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if header.Nonce != 2 {
		t.Fatalf("header nonce = %d, want 2", header.Nonce)
	}

	out, err := s.ReadOutput(0, 0, 0)
	if err != nil {
		t.Fatalf("ReadOutput: %v", err)
	}
	if out.Value != 5000000000 {
		t.Fatalf("output value = %d, want 5000000000", out.Value)
	}
}

func TestAppendRejectsOutOfOrderSlot(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Append(0, testBlock(0)); err != nil {
		t.Fatalf("Append(0): %v", err)
	}
	if err := s.Append(2, testBlock(2)); err == nil {
		t.Fatal("expected error appending out of sequence")
	}
}

func TestRevertAboveTruncates(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	for h := uint64(0); h < 5; h++ {
		if err := s.Append(h, testBlock(uint32(h))); err != nil {
			t.Fatalf("Append(%d): %v", h, err)
		}
	}
	if err := s.RevertAbove(3); err != nil {
		t.Fatalf("RevertAbove: %v", err)
	}
	if _, err := s.ReadBlock(3); err == nil {
		t.Fatal("expected height 3 to be reverted")
	}
	got, err := s.ReadBlock(2)
	if err != nil {
		t.Fatalf("ReadBlock(2) after revert: %v", err)
	}
	if got.Header.Nonce != 2 {
		t.Fatalf("nonce = %d, want 2", got.Header.Nonce)
	}
}

func TestReopenDetectsGoodCRC(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Append(0, testBlock(7)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.ReadBlock(0)
	if err != nil {
		t.Fatalf("ReadBlock after reopen: %v", err)
	}
	if got.Header.Nonce != 7 {
		t.Fatalf("nonce = %d, want 7", got.Header.Nonce)
	}
}
