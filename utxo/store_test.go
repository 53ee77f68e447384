package utxo

import (
	"testing"

	"github.com/ncnode/ncnode/wire"
)

func TestSetAddSpendGet(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	op := wire.Outpoint{Index: 0}
	entry := &Entry{Value: 1000, PkScript: []byte{0x51}, BlockHeight: 10}

	if err := s.Add(10, op, entry); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, ok, err := s.Get(op)
	if err != nil || !ok {
		t.Fatalf("Get after Add: ok=%v err=%v", ok, err)
	}
	if got.Value != 1000 {
		t.Fatalf("value = %d, want 1000", got.Value)
	}

	if _, err := s.Spend(11, op); err != nil {
		t.Fatalf("Spend: %v", err)
	}
	if _, ok, err := s.Get(op); err != nil || ok {
		t.Fatalf("Get after Spend: ok=%v err=%v, want ok=false", ok, err)
	}
	if err := s.Commit(11); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestSetRevertUndoesAddAndSpend(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	opA := wire.Outpoint{Index: 0}
	opB := wire.Outpoint{Index: 1}

	if err := s.Add(10, opA, &Entry{Value: 1, BlockHeight: 10}); err != nil {
		t.Fatalf("Add A: %v", err)
	}
	if err := s.Commit(10); err != nil {
		t.Fatalf("Commit 10: %v", err)
	}

	if err := s.Add(11, opB, &Entry{Value: 2, BlockHeight: 11}); err != nil {
		t.Fatalf("Add B: %v", err)
	}
	if _, err := s.Spend(11, opA); err != nil {
		t.Fatalf("Spend A: %v", err)
	}
	if err := s.Commit(11); err != nil {
		t.Fatalf("Commit 11: %v", err)
	}

	if err := s.Revert(11); err != nil {
		t.Fatalf("Revert(11): %v", err)
	}

	if _, ok, err := s.Get(opB); err != nil || ok {
		t.Fatalf("opB should be gone after revert: ok=%v err=%v", ok, err)
	}
	entry, ok, err := s.Get(opA)
	if err != nil || !ok {
		t.Fatalf("opA should be restored after revert: ok=%v err=%v", ok, err)
	}
	if entry.Value != 1 {
		t.Fatalf("restored value = %d, want 1", entry.Value)
	}
}
