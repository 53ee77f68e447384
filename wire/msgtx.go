package wire

import (
	"io"

	"github.com/pkg/errors"

	"github.com/ncnode/ncnode/ncutil/hash"
)

// MaxTxInSequenceNum is the high sequence value; an input with this
// sequence has its BIP-68 relative lock disabled (spec §3).
const MaxTxInSequenceNum uint32 = 0xffffffff

// SequenceLockTimeDisabled is the bit that, when set in an input's
// sequence, disables relative-locktime semantics for that input.
const SequenceLockTimeDisabled = 1 << 31

// SequenceLockTimeIsSeconds marks a relative lock as a 512-second
// granularity time span rather than a block count.
const SequenceLockTimeIsSeconds = 1 << 22

// MaxTxInPerMessage / MaxTxOutPerMessage bound decode allocations
// against a malicious var-int count.
const (
	MaxTxInPerMessage  = (MaxMessagePayload / 41) + 1
	MaxTxOutPerMessage = (MaxMessagePayload / 9) + 1
)

// Outpoint identifies a specific output: the id of the transaction
// that created it and its index within that transaction's outputs.
// The coinbase outpoint uses the all-zero hash and index 0xFFFFFFFF
// (spec §3).
type Outpoint struct {
	TxID  hash.Hash
	Index uint32
}

// IsCoinbase reports whether the outpoint is the null outpoint used
// by a coinbase input.
func (o *Outpoint) IsCoinbase() bool {
	return o.Index == MaxTxInSequenceNum && o.TxID.IsZero()
}

func (o *Outpoint) encode(w io.Writer) error {
	if err := writeHash(w, &o.TxID); err != nil {
		return err
	}
	return writeUint32(w, o.Index)
}

func (o *Outpoint) decode(r io.Reader) error {
	if err := readHash(r, &o.TxID); err != nil {
		return err
	}
	idx, err := readUint32(r)
	o.Index = idx
	return err
}

// TxIn is a transaction input: the outpoint it spends, the unlocking
// script that authorizes the spend, and a sequence number (spec §3).
type TxIn struct {
	PreviousOutpoint Outpoint
	SignatureScript  []byte
	Sequence         uint32
}

func (ti *TxIn) encode(w io.Writer) error {
	if err := ti.PreviousOutpoint.encode(w); err != nil {
		return err
	}
	if err := WriteVarBytes(w, ti.SignatureScript); err != nil {
		return err
	}
	return writeUint32(w, ti.Sequence)
}

func (ti *TxIn) decode(r io.Reader) error {
	if err := ti.PreviousOutpoint.decode(r); err != nil {
		return err
	}
	script, err := ReadVarBytes(r, MaxMessagePayload, "signature script")
	if err != nil {
		return err
	}
	ti.SignatureScript = script
	seq, err := readUint32(r)
	ti.Sequence = seq
	return err
}

// SerializeSize returns the byte length of the input's encoding.
func (ti *TxIn) SerializeSize() int {
	return hash.Size + 4 + VarIntSerializeSize(uint64(len(ti.SignatureScript))) + len(ti.SignatureScript) + 4
}

// TxOut is a transaction output: an amount in satoshis and the
// locking script that must be satisfied to spend it (spec §3).
type TxOut struct {
	Value        int64
	ScriptPubKey []byte
}

func (to *TxOut) encode(w io.Writer) error {
	if err := writeInt64(w, to.Value); err != nil {
		return err
	}
	return WriteVarBytes(w, to.ScriptPubKey)
}

// Encode writes the output's canonical serialization. Exported so
// callers outside this package (signature-hash construction) can
// serialize a single output without building a whole MsgTx.
func (to *TxOut) Encode(w io.Writer) error { return to.encode(w) }

func (to *TxOut) decode(r io.Reader) error {
	v, err := readInt64(r)
	if err != nil {
		return err
	}
	to.Value = v
	script, err := ReadVarBytes(r, MaxMessagePayload, "pk script")
	if err != nil {
		return err
	}
	to.ScriptPubKey = script
	return nil
}

// SerializeSize returns the byte length of the output's encoding.
func (to *TxOut) SerializeSize() int {
	return 8 + VarIntSerializeSize(uint64(len(to.ScriptPubKey))) + len(to.ScriptPubKey)
}

// MsgTx is the canonical transaction encoding. Its id is the
// double-SHA-256 of this serialization (spec §3). A transaction is
// coinbase iff it has exactly one input whose outpoint is null.
type MsgTx struct {
	Version  int32
	TxIn     []*TxIn
	TxOut    []*TxOut
	LockTime uint32
}

func (msg *MsgTx) Command() string { return CmdTx }

// Encode writes the canonical transaction serialization.
func (msg *MsgTx) Encode(w io.Writer) error {
	if err := writeInt32(w, msg.Version); err != nil {
		return err
	}
	if err := WriteVarInt(w, uint64(len(msg.TxIn))); err != nil {
		return err
	}
	for _, in := range msg.TxIn {
		if err := in.encode(w); err != nil {
			return err
		}
	}
	if err := WriteVarInt(w, uint64(len(msg.TxOut))); err != nil {
		return err
	}
	for _, out := range msg.TxOut {
		if err := out.encode(w); err != nil {
			return err
		}
	}
	return writeUint32(w, msg.LockTime)
}

// Decode reads the canonical transaction serialization.
func (msg *MsgTx) Decode(r io.Reader) error {
	var err error
	if msg.Version, err = readInt32(r); err != nil {
		return err
	}

	inCount, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if inCount > MaxTxInPerMessage {
		return errors.Errorf("too many transaction inputs to fit into max message size [count %d]", inCount)
	}
	msg.TxIn = make([]*TxIn, 0, inCount)
	for i := uint64(0); i < inCount; i++ {
		ti := &TxIn{}
		if err := ti.decode(r); err != nil {
			return err
		}
		msg.TxIn = append(msg.TxIn, ti)
	}

	outCount, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if outCount > MaxTxOutPerMessage {
		return errors.Errorf("too many transaction outputs to fit into max message size [count %d]", outCount)
	}
	msg.TxOut = make([]*TxOut, 0, outCount)
	for i := uint64(0); i < outCount; i++ {
		to := &TxOut{}
		if err := to.decode(r); err != nil {
			return err
		}
		msg.TxOut = append(msg.TxOut, to)
	}

	msg.LockTime, err = readUint32(r)
	return err
}

// TxHash returns the double-SHA-256 of the transaction's canonical
// serialization — its identity.
func (msg *MsgTx) TxHash() hash.Hash {
	var buf fixedWriter
	// A transaction is rarely larger than a few KB; this rough
	// preallocation avoids most reallocations during encode.
	buf.buf = make([]byte, 0, 256)
	_ = msg.Encode(&buf)
	return hash.DoubleSHA256(buf.buf)
}

// IsCoinBase reports whether msg is a coinbase transaction: exactly
// one input, whose outpoint is null (spec §3).
func (msg *MsgTx) IsCoinBase() bool {
	return len(msg.TxIn) == 1 && msg.TxIn[0].PreviousOutpoint.IsCoinbase()
}

// SerializeSize returns the byte length of the transaction's
// canonical encoding.
func (msg *MsgTx) SerializeSize() int {
	n := 4 + 4 // version + locktime
	n += VarIntSerializeSize(uint64(len(msg.TxIn)))
	for _, in := range msg.TxIn {
		n += in.SerializeSize()
	}
	n += VarIntSerializeSize(uint64(len(msg.TxOut)))
	for _, out := range msg.TxOut {
		n += out.SerializeSize()
	}
	return n
}
