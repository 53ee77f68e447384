package txscript

import (
	"bytes"

	"github.com/ncnode/ncnode/ncutil/hash"
	"github.com/ncnode/ncnode/wire"
)

// Sighash types, combined with the fork-id bits (spec §4.1,
// SPEC_FULL.md §5.2 replay protection).
const (
	SigHashAll          = 0x1
	SigHashNone         = 0x2
	SigHashSingle       = 0x3
	SigHashAnyOneCanPay = 0x80

	sigHashMask = 0x1f

	// ForkID identifies this chain in the replay-protected sighash
	// preimage so a signature valid here cannot be replayed on the
	// legacy chain the fork split from.
	ForkID         = 0x000000
	SigHashForkID  = 0x40
)

// sigHashes holds the three rolling digests of the replay-protected
// sighash. calcSigHashes computes them afresh on every call and
// nothing caches them, so each input's signature hash re-hashes the
// whole transaction's inputs and outputs.
type sigHashes struct {
	hashPrevouts hash.Hash
	hashSequence hash.Hash
	hashOutputs  hash.Hash
}

func calcSigHashes(tx *wire.MsgTx) *sigHashes {
	var prevouts, sequence, outputs bytes.Buffer
	for _, in := range tx.TxIn {
		prevouts.Write(in.PreviousOutpoint.TxID[:])
		var idx [4]byte
		littleEndianPutUint32(idx[:], in.PreviousOutpoint.Index)
		prevouts.Write(idx[:])

		var seq [4]byte
		littleEndianPutUint32(seq[:], in.Sequence)
		sequence.Write(seq[:])
	}
	for _, out := range tx.TxOut {
		_ = out.Encode(&outputs)
	}

	return &sigHashes{
		hashPrevouts: hash.DoubleSHA256(prevouts.Bytes()),
		hashSequence: hash.DoubleSHA256(sequence.Bytes()),
		hashOutputs:  hash.DoubleSHA256(outputs.Bytes()),
	}
}

// CalcSignatureHash computes the digest a signature over txIdx
// commits to. When hashType carries SigHashForkID it uses the
// replay-protected preimage (amount-committing);
// otherwise it falls back to the legacy whole-previous-script
// preimage every pre-fork signature was computed over.
func CalcSignatureHash(subScript []byte, hashType uint32, tx *wire.MsgTx, txIdx int, amount int64) (hash.Hash, error) {
	if hashType&SigHashForkID != 0 {
		return calcReplayProtectedSigHash(subScript, hashType, tx, txIdx, amount), nil
	}
	return calcLegacySigHash(subScript, hashType, tx, txIdx)
}

func calcReplayProtectedSigHash(subScript []byte, hashType uint32, tx *wire.MsgTx, txIdx int, amount int64) hash.Hash {
	hashes := calcSigHashes(tx)
	in := tx.TxIn[txIdx]

	var buf bytes.Buffer
	writeInt32LE(&buf, tx.Version)

	zero := hash.Zero
	if hashType&SigHashAnyOneCanPay == 0 {
		buf.Write(hashes.hashPrevouts[:])
	} else {
		buf.Write(zero[:])
	}
	if hashType&SigHashAnyOneCanPay == 0 && hashType&sigHashMask != SigHashSingle && hashType&sigHashMask != SigHashNone {
		buf.Write(hashes.hashSequence[:])
	} else {
		buf.Write(zero[:])
	}

	buf.Write(in.PreviousOutpoint.TxID[:])
	writeUint32LE(&buf, in.PreviousOutpoint.Index)
	_ = wire.WriteVarBytes(&buf, removeOpcode(subScript, OP_CODESEPARATOR))
	writeInt64LE(&buf, amount)
	writeUint32LE(&buf, in.Sequence)

	if hashType&sigHashMask != SigHashSingle && hashType&sigHashMask != SigHashNone {
		buf.Write(hashes.hashOutputs[:])
	} else if hashType&sigHashMask == SigHashSingle && txIdx < len(tx.TxOut) {
		var outBuf bytes.Buffer
		_ = tx.TxOut[txIdx].Encode(&outBuf)
		digest := hash.DoubleSHA256(outBuf.Bytes())
		buf.Write(digest[:])
	} else {
		buf.Write(zero[:])
	}

	writeUint32LE(&buf, tx.LockTime)
	writeUint32LE(&buf, hashType)

	return hash.DoubleSHA256(buf.Bytes())
}

func calcLegacySigHash(subScript []byte, hashType uint32, tx *wire.MsgTx, txIdx int) (hash.Hash, error) {
	if txIdx >= len(tx.TxIn) {
		return hash.Hash{}, scriptError(ErrInvalidIndex, "signature hash index out of range")
	}

	txCopy := *tx
	txCopy.TxIn = make([]*wire.TxIn, len(tx.TxIn))
	for i, in := range tx.TxIn {
		cp := *in
		cp.SignatureScript = nil
		txCopy.TxIn[i] = &cp
	}
	txCopy.TxIn[txIdx].SignatureScript = removeOpcode(subScript, OP_CODESEPARATOR)

	switch hashType & sigHashMask {
	case SigHashNone:
		txCopy.TxOut = nil
		for i := range txCopy.TxIn {
			if i != txIdx {
				txCopy.TxIn[i].Sequence = 0
			}
		}
	case SigHashSingle:
		if txIdx >= len(tx.TxOut) {
			return hash.Hash{}, scriptError(ErrInvalidIndex, "SIGHASH_SINGLE index exceeds the output count")
		}
		txCopy.TxOut = make([]*wire.TxOut, txIdx+1)
		for i := 0; i < txIdx; i++ {
			txCopy.TxOut[i] = &wire.TxOut{Value: -1}
		}
		txCopy.TxOut[txIdx] = tx.TxOut[txIdx]
		for i := range txCopy.TxIn {
			if i != txIdx {
				txCopy.TxIn[i].Sequence = 0
			}
		}
	}

	if hashType&SigHashAnyOneCanPay != 0 {
		txCopy.TxIn = []*wire.TxIn{txCopy.TxIn[txIdx]}
	}

	var buf bytes.Buffer
	_ = txCopy.Encode(&buf)
	writeUint32LE(&buf, hashType)

	return hash.DoubleSHA256(buf.Bytes()), nil
}

// removeOpcode strips every occurrence of op from script, the
// historical FindAndDelete step applied to the subscript before
// hashing (spec §4.1).
func removeOpcode(script []byte, op byte) []byte {
	parsed, err := parseScript(script)
	if err != nil {
		return script
	}
	out := make([]byte, 0, len(script))
	for _, pop := range parsed {
		if pop.opcode == op {
			continue
		}
		out = append(out, reconstructOpcode(pop)...)
	}
	return out
}

func reconstructOpcode(pop parsedOpcode) []byte {
	switch {
	case pop.opcode > OP_0 && pop.opcode < OP_PUSHDATA1:
		return append([]byte{pop.opcode}, pop.data...)
	case pop.opcode == OP_PUSHDATA1:
		return append([]byte{pop.opcode, byte(len(pop.data))}, pop.data...)
	case pop.opcode == OP_PUSHDATA2:
		b := []byte{pop.opcode, byte(len(pop.data)), byte(len(pop.data) >> 8)}
		return append(b, pop.data...)
	case pop.opcode == OP_PUSHDATA4:
		n := len(pop.data)
		b := []byte{pop.opcode, byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
		return append(b, pop.data...)
	default:
		return []byte{pop.opcode}
	}
}

func littleEndianPutUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func writeUint32LE(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	littleEndianPutUint32(b[:], v)
	buf.Write(b[:])
}

func writeInt32LE(buf *bytes.Buffer, v int32) { writeUint32LE(buf, uint32(v)) }

func writeInt64LE(buf *bytes.Buffer, v int64) {
	var b [8]byte
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u >> (8 * i))
	}
	buf.Write(b[:])
}
