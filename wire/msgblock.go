package wire

import (
	"io"

	"github.com/pkg/errors"

	"github.com/ncnode/ncnode/ncutil/hash"
)

// MaxBlockTxCount bounds the number of transactions MsgBlock will
// decode before its fork-specific size ceiling is enforced by the
// caller (chain package).
const MaxBlockTxCount = 4_000_000

// MsgBlock is a full block: header plus its transactions. The first
// transaction must be coinbase (spec §3).
type MsgBlock struct {
	Header       BlockHeader
	Transactions []*MsgTx
}

func (msg *MsgBlock) Command() string { return CmdBlock }

func (msg *MsgBlock) Encode(w io.Writer) error {
	if err := msg.Header.Encode(w); err != nil {
		return err
	}
	if err := WriteVarInt(w, uint64(len(msg.Transactions))); err != nil {
		return err
	}
	for _, tx := range msg.Transactions {
		if err := tx.Encode(w); err != nil {
			return err
		}
	}
	return nil
}

func (msg *MsgBlock) Decode(r io.Reader) error {
	if err := msg.Header.Decode(r); err != nil {
		return err
	}
	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > MaxBlockTxCount {
		return errors.Errorf("block claims too many transactions [count %d]", count)
	}
	msg.Transactions = make([]*MsgTx, 0, count)
	for i := uint64(0); i < count; i++ {
		tx := &MsgTx{}
		if err := tx.Decode(r); err != nil {
			return err
		}
		msg.Transactions = append(msg.Transactions, tx)
	}
	return nil
}

// BlockHash returns the header's double-SHA-256.
func (msg *MsgBlock) BlockHash() hash.Hash {
	return msg.Header.BlockHash()
}

// TxHashes returns the ids of the block's transactions in order, the
// leaves fed to merkle-root construction.
func (msg *MsgBlock) TxHashes() []hash.Hash {
	hashes := make([]hash.Hash, len(msg.Transactions))
	for i, tx := range msg.Transactions {
		hashes[i] = tx.TxHash()
	}
	return hashes
}

// SerializeSize returns the byte length of the block's encoding.
func (msg *MsgBlock) SerializeSize() int {
	n := BlockHeaderSize + VarIntSerializeSize(uint64(len(msg.Transactions)))
	for _, tx := range msg.Transactions {
		n += tx.SerializeSize()
	}
	return n
}
