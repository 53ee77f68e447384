package chain

import (
	"context"
	"testing"

	"github.com/ncnode/ncnode/blockstore"
	"github.com/ncnode/ncnode/chaincfg"
	"github.com/ncnode/ncnode/utxo"
	"github.com/ncnode/ncnode/wire"
)

func newTestChain(t *testing.T) (*Chain, *wire.BlockHeader) {
	t.Helper()
	params := chaincfg.RegressionNetParams

	genesis := &wire.BlockHeader{
		Version:   1,
		Bits:      params.PowLimitBits,
		Timestamp: 1,
	}
	mineHeader(t, genesis)

	blocks, err := blockstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("blockstore.Open: %v", err)
	}
	t.Cleanup(func() { blocks.Close() })

	utxoSet, err := utxo.Open(t.TempDir())
	if err != nil {
		t.Fatalf("utxo.Open: %v", err)
	}
	t.Cleanup(func() { utxoSet.Close() })

	c, err := New(&params, genesis, blocks, utxoSet, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, genesis
}

// mineHeader searches for a nonce satisfying the header's own target,
// which regtest's generous PowLimit makes cheap.
func mineHeader(t *testing.T, h *wire.BlockHeader) {
	t.Helper()
	target := CompactToBig(h.Bits)
	for nonce := uint32(0); ; nonce++ {
		h.Nonce = nonce
		blockHash := h.BlockHash()
		if hashToBig(&blockHash).Cmp(target) <= 0 {
			return
		}
		if nonce > 1<<20 {
			t.Fatalf("failed to mine a header satisfying target")
		}
	}
}

// coinbaseBlock builds a single-transaction block paying the full
// subsidy to an anyone-can-spend output, parented on parent.
func coinbaseBlock(t *testing.T, parent *wire.BlockHeader, bits uint32, height int32, seed uint32) *wire.MsgBlock {
	t.Helper()
	coinbase := &wire.MsgTx{
		Version: 1,
		TxIn: []*wire.TxIn{{
			PreviousOutpoint: wire.Outpoint{Index: wire.MaxTxInSequenceNum},
			SignatureScript:  []byte{byte(seed)},
			Sequence:         wire.MaxTxInSequenceNum,
		}},
		TxOut: []*wire.TxOut{{
			Value:        chaincfg.RegressionNetParams.CalcBlockSubsidy(height),
			ScriptPubKey: []byte{0x51},
		}},
	}

	parentHash := parent.BlockHash()
	block := &wire.MsgBlock{
		Header: wire.BlockHeader{
			Version:    1,
			PrevBlock:  parentHash,
			MerkleRoot: coinbase.TxHash(),
			Timestamp:  parent.Timestamp + 1,
			Bits:       bits,
		},
		Transactions: []*wire.MsgTx{coinbase},
	}
	mineHeader(t, &block.Header)
	return block
}

func TestAcceptHeaderAndConnectSingleBranch(t *testing.T) {
	c, genesis := newTestChain(t)
	ctx := context.Background()

	b1 := coinbaseBlock(t, genesis, genesis.Bits, 1, 1)
	stat1, err := c.AcceptHeader(&b1.Header)
	if err != nil {
		t.Fatalf("AcceptHeader b1: %v", err)
	}
	if err := c.SubmitBlock(ctx, b1); err != nil {
		t.Fatalf("SubmitBlock b1: %v", err)
	}
	if c.connected.Hash != stat1.Hash {
		t.Fatalf("connected tip = %s, want %s", c.connected.Hash, stat1.Hash)
	}

	op := wire.Outpoint{TxID: b1.Transactions[0].TxHash(), Index: 0}
	entry, ok, err := c.utxo.Get(op)
	if err != nil || !ok {
		t.Fatalf("coinbase output missing after connect: ok=%v err=%v", ok, err)
	}
	if !entry.IsCoinBase || entry.BlockHeight != 1 {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

func TestReorgConnectsEveryIntermediateBlock(t *testing.T) {
	c, genesis := newTestChain(t)
	ctx := context.Background()

	// Branch A: a single block extending genesis.
	a1 := coinbaseBlock(t, genesis, genesis.Bits, 1, 0xA1)
	if _, err := c.AcceptHeader(&a1.Header); err != nil {
		t.Fatalf("AcceptHeader a1: %v", err)
	}
	if err := c.SubmitBlock(ctx, a1); err != nil {
		t.Fatalf("SubmitBlock a1: %v", err)
	}
	if c.connected.Hash != a1.BlockHash() {
		t.Fatalf("expected branch A connected after a1")
	}

	// Branch B: two blocks extending genesis, outweighing branch A once
	// both headers are admitted.
	b1 := coinbaseBlock(t, genesis, genesis.Bits, 1, 0xB1)
	if _, err := c.AcceptHeader(&b1.Header); err != nil {
		t.Fatalf("AcceptHeader b1: %v", err)
	}
	b2 := coinbaseBlock(t, &b1.Header, genesis.Bits, 2, 0xB2)
	b2Stat, err := c.AcceptHeader(&b2.Header)
	if err != nil {
		t.Fatalf("AcceptHeader b2: %v", err)
	}
	if c.index.Tip().Hash != b2Stat.Hash {
		t.Fatalf("header tip should have moved to b2 once both headers landed")
	}

	// Submit b2's body first: its parent's body hasn't arrived, so
	// tryAdvance can revert branch A but can't yet connect anything.
	if err := c.SubmitBlock(ctx, b2); err != nil {
		t.Fatalf("SubmitBlock b2: %v", err)
	}
	if c.connected.Hash != genesis.BlockHash() {
		t.Fatalf("connected should sit at the fork point with b1's body still missing, got %s", c.connected.Hash)
	}

	// Now b1's body arrives; tryAdvance should connect b1 then b2.
	if err := c.SubmitBlock(ctx, b1); err != nil {
		t.Fatalf("SubmitBlock b1: %v", err)
	}
	if c.connected.Hash != b2Stat.Hash {
		t.Fatalf("connected = %s, want branch B tip %s", c.connected.Hash, b2Stat.Hash)
	}
	if len(c.pending) != 0 {
		t.Fatalf("pending should be drained once the whole branch connects, got %d entries", len(c.pending))
	}

	// Branch A's coinbase output must have been reverted...
	aOp := wire.Outpoint{TxID: a1.Transactions[0].TxHash(), Index: 0}
	if _, ok, err := c.utxo.Get(aOp); err != nil || ok {
		t.Fatalf("branch A output should be gone after reorg: ok=%v err=%v", ok, err)
	}
	// ...and branch B's two coinbase outputs must both be present.
	b1Op := wire.Outpoint{TxID: b1.Transactions[0].TxHash(), Index: 0}
	if _, ok, err := c.utxo.Get(b1Op); err != nil || !ok {
		t.Fatalf("b1 output missing after reorg: ok=%v err=%v", ok, err)
	}
	b2Op := wire.Outpoint{TxID: b2.Transactions[0].TxHash(), Index: 0}
	if _, ok, err := c.utxo.Get(b2Op); err != nil || !ok {
		t.Fatalf("b2 output missing after reorg: ok=%v err=%v", ok, err)
	}
}
