// Package txmodel wraps wire.MsgTx with a lazily-computed, cached
// identity hash and the fee/coinbase helpers the chain, mempool, and
// script packages all need, grounded on the teacher's util.Tx
// wrapper idiom (hash computed once, cached across repeated callers).
package txmodel

import (
	"github.com/pkg/errors"

	"github.com/ncnode/ncnode/ncutil/hash"
	"github.com/ncnode/ncnode/wire"
)

// Tx wraps a decoded wire.MsgTx together with its cached id and, once
// assigned, its index within the containing block.
type Tx struct {
	msgTx   *wire.MsgTx
	txID    *hash.Hash
	index   int
	hasIdx  bool
}

// NewTx wraps msgTx, computing nothing eagerly.
func NewTx(msgTx *wire.MsgTx) *Tx {
	return &Tx{msgTx: msgTx, index: -1}
}

// MsgTx returns the underlying wire transaction.
func (t *Tx) MsgTx() *wire.MsgTx { return t.msgTx }

// ID returns the transaction's identity hash, computing and caching
// it on first call.
func (t *Tx) ID() *hash.Hash {
	if t.txID != nil {
		return t.txID
	}
	h := t.msgTx.TxHash()
	t.txID = &h
	return t.txID
}

// Index returns the transaction's position within its containing
// block, or -1 if it has not been assigned one (e.g. a mempool
// transaction not yet included in a block).
func (t *Tx) Index() int { return t.index }

// SetIndex records the transaction's position within its containing
// block.
func (t *Tx) SetIndex(index int) { t.index = index; t.hasIdx = true }

// IsCoinbase reports whether the transaction is the block's coinbase
// (spec §3): exactly one input with the null outpoint.
func (t *Tx) IsCoinbase() bool { return t.msgTx.IsCoinBase() }

// Fee computes Σ inputValues − Σ outputValues given the resolved
// value of each input's previous output, in the order of t.MsgTx().TxIn.
// Per spec §3 this is non-negative for a well-formed non-coinbase
// transaction; callers must not invoke it for a coinbase (use
// CoinbaseOutputValue instead).
func (t *Tx) Fee(inputValues []int64) (int64, error) {
	if t.IsCoinbase() {
		return 0, errors.New("txmodel: Fee is undefined for a coinbase transaction")
	}
	if len(inputValues) != len(t.msgTx.TxIn) {
		return 0, errors.Errorf("txmodel: have %d input values for %d inputs", len(inputValues), len(t.msgTx.TxIn))
	}
	var in, out int64
	for _, v := range inputValues {
		in += v
	}
	for _, o := range t.msgTx.TxOut {
		out += o.Value
	}
	if in < out {
		return 0, errors.Errorf("txmodel: transaction %s spends more (%d) than its inputs provide (%d)", t.ID(), out, in)
	}
	return in - out, nil
}

// CoinbaseOutputValue sums a coinbase transaction's outputs — the
// amount that must not exceed subsidy(height) + Σ fees (spec §4.6).
func (t *Tx) CoinbaseOutputValue() (int64, error) {
	if !t.IsCoinbase() {
		return 0, errors.New("txmodel: CoinbaseOutputValue called on a non-coinbase transaction")
	}
	var out int64
	for _, o := range t.msgTx.TxOut {
		out += o.Value
	}
	return out, nil
}

// NullOutpoint is the outpoint used by every coinbase input.
func NullOutpoint() wire.Outpoint {
	return wire.Outpoint{TxID: hash.Zero, Index: wire.MaxTxInSequenceNum}
}
