package mempool

import (
	"testing"

	"github.com/ncnode/ncnode/ncutil/hash"
	"github.com/ncnode/ncnode/utxo"
	"github.com/ncnode/ncnode/wire"
)

type fakeUTXOSource struct {
	entries map[wire.Outpoint]*utxo.Entry
}

func newFakeUTXOSource() *fakeUTXOSource {
	return &fakeUTXOSource{entries: make(map[wire.Outpoint]*utxo.Entry)}
}

func (f *fakeUTXOSource) Get(op wire.Outpoint) (*utxo.Entry, bool, error) {
	e, ok := f.entries[op]
	return e, ok, nil
}

func newTestPool(src *fakeUTXOSource) *TxPool {
	cfg := Config{
		Policy:           DefaultPolicy(),
		UTXOSource:       src,
		BestHeight:       func() int32 { return 100 },
		CoinbaseMaturity: 100,
	}
	cfg.Policy.MinRelayFeeRate = 0
	return New(cfg)
}

// anyoneCanSpendTx builds a transaction spending op (value in) with a
// single OP_TRUE output, needing no signature to satisfy.
func anyoneCanSpendTx(op wire.Outpoint, value int64) *wire.MsgTx {
	return &wire.MsgTx{
		Version: 1,
		TxIn: []*wire.TxIn{{
			PreviousOutpoint: op,
			Sequence:         wire.MaxTxInSequenceNum,
		}},
		TxOut: []*wire.TxOut{{
			Value:        value,
			ScriptPubKey: []byte{0x51}, // OP_TRUE
		}},
	}
}

func TestProcessTransactionAcceptsSpendableInput(t *testing.T) {
	src := newFakeUTXOSource()
	op := wire.Outpoint{TxID: hash.Hash{1}, Index: 0}
	src.entries[op] = &utxo.Entry{Value: 1000, PkScript: []byte{0x51}}

	p := newTestPool(src)
	tx := anyoneCanSpendTx(op, 900)

	accepted, err := p.ProcessTransaction(tx)
	if err != nil {
		t.Fatalf("ProcessTransaction: %v", err)
	}
	if len(accepted) != 1 {
		t.Fatalf("accepted = %d txs, want 1", len(accepted))
	}
	id := tx.TxHash()
	if !p.Have(id) {
		t.Fatalf("pool should contain the accepted transaction")
	}
	candidates := p.MiningCandidates()
	if len(candidates) != 1 || *candidates[0].Tx.ID() != id {
		t.Fatalf("expected tx as the sole mining candidate")
	}
}

func TestProcessTransactionOrphansUnknownInput(t *testing.T) {
	src := newFakeUTXOSource()
	p := newTestPool(src)

	op := wire.Outpoint{TxID: hash.Hash{2}, Index: 0}
	tx := anyoneCanSpendTx(op, 500)

	_, err := p.ProcessTransaction(tx)
	if !IsOrphanError(err) {
		t.Fatalf("expected orphan error, got %v", err)
	}
	if !p.Have(tx.TxHash()) {
		t.Fatalf("orphaned transaction should still be resident")
	}
}

func TestPullPromotesDependentAndConfirmsParent(t *testing.T) {
	src := newFakeUTXOSource()
	op := wire.Outpoint{TxID: hash.Hash{3}, Index: 0}
	src.entries[op] = &utxo.Entry{Value: 2000, PkScript: []byte{0x51}}

	p := newTestPool(src)
	parent := anyoneCanSpendTx(op, 1900)
	if _, err := p.ProcessTransaction(parent); err != nil {
		t.Fatalf("ProcessTransaction(parent): %v", err)
	}

	childOp := wire.Outpoint{TxID: parent.TxHash(), Index: 0}
	child := anyoneCanSpendTx(childOp, 1800)
	if _, err := p.ProcessTransaction(child); err != nil {
		t.Fatalf("ProcessTransaction(child): %v", err)
	}

	childID := child.TxHash()
	desc := p.pool[childID]
	if desc == nil || desc.DepCount != 1 {
		t.Fatalf("child should depend on the still-unconfirmed parent")
	}
	if candidates := p.MiningCandidates(); len(candidates) != 1 {
		t.Fatalf("only the parent should be minable before it confirms, got %d candidates", len(candidates))
	}

	p.Pull([]*wire.MsgTx{parent})

	if p.Have(parent.TxHash()) {
		t.Fatalf("parent should be gone from the pool once confirmed")
	}
	desc = p.pool[childID]
	if desc == nil || desc.DepCount != 0 {
		t.Fatalf("child should be ready once its parent confirms, got %+v", desc)
	}
}

func TestPullRemovesConflictingSpend(t *testing.T) {
	src := newFakeUTXOSource()
	op := wire.Outpoint{TxID: hash.Hash{4}, Index: 0}
	src.entries[op] = &utxo.Entry{Value: 3000, PkScript: []byte{0x51}}

	p := newTestPool(src)
	local := anyoneCanSpendTx(op, 2900)
	if _, err := p.ProcessTransaction(local); err != nil {
		t.Fatalf("ProcessTransaction(local): %v", err)
	}

	// A competing spend of the same outpoint lands in a block instead.
	winner := anyoneCanSpendTx(op, 2800)
	p.Pull([]*wire.MsgTx{winner})

	if p.Have(local.TxHash()) {
		t.Fatalf("locally-held conflicting spend should be evicted once the competing spend confirms")
	}
}
