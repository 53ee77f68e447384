package txscript

import (
	"testing"

	"github.com/ncnode/ncnode/ncutil/ecc"
	"github.com/ncnode/ncnode/ncutil/hash"
	"github.com/ncnode/ncnode/wire"
)

type staticPrevOut struct {
	value  int64
	script []byte
}

func (s staticPrevOut) PrevOut(idx int) (int64, []byte) { return s.value, s.script }

func buildSpendTx(prevOutScript []byte, value int64) *wire.MsgTx {
	tx := &wire.MsgTx{
		Version: 1,
		TxIn: []*wire.TxIn{{
			PreviousOutpoint: wire.Outpoint{TxID: hash.Zero, Index: 0},
			Sequence:         wire.MaxTxInSequenceNum,
		}},
		TxOut: []*wire.TxOut{{
			Value:        value - 1000,
			ScriptPubKey: prevOutScript,
		}},
	}
	return tx
}

func signP2PKH(t *testing.T, priv *ecc.PrivateKey, tx *wire.MsgTx, idx int, subScript []byte, value int64) []byte {
	t.Helper()
	digest, err := CalcSignatureHash(subScript, SigHashAll|SigHashForkID, tx, idx, value)
	if err != nil {
		t.Fatalf("CalcSignatureHash: %v", err)
	}
	sig, err := ecc.Sign(priv, digest[:])
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	der := sig.SerializeDER()
	return append(der, byte(SigHashAll|SigHashForkID))
}

func pushData(b []byte) []byte {
	if len(b) < OP_PUSHDATA1 {
		return append([]byte{byte(len(b))}, b...)
	}
	return append([]byte{OP_PUSHDATA1, byte(len(b))}, b...)
}

func TestP2PKHRoundTrip(t *testing.T) {
	priv, err := ecc.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	pubKeyBytes := priv.PublicKey.SerializeCompressed()
	pkHash := hash.Hash160(pubKeyBytes)
	pkScript := PayToPubKeyHashScript(pkHash)

	const value = int64(5000000000)
	tx := buildSpendTx([]byte{OP_RETURN}, value)

	sig := signP2PKH(t, priv, tx, 0, pkScript, value)

	var sigScript []byte
	sigScript = append(sigScript, pushData(sig)...)
	sigScript = append(sigScript, pushData(pubKeyBytes)...)
	tx.TxIn[0].SignatureScript = sigScript

	fetcher := staticPrevOut{value: value, script: pkScript}
	vm, err := NewEngine(sigScript, pkScript, tx, 0, StandardVerifyFlags, fetcher, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := vm.Execute(); err != nil {
		t.Fatalf("script execution failed: %v", err)
	}
}

func TestP2PKHWrongKeyFails(t *testing.T) {
	priv, _ := ecc.NewPrivateKey()
	other, _ := ecc.NewPrivateKey()
	pkHash := hash.Hash160(priv.PublicKey.SerializeCompressed())
	pkScript := PayToPubKeyHashScript(pkHash)

	const value = int64(1000000)
	tx := buildSpendTx([]byte{OP_RETURN}, value)
	sig := signP2PKH(t, priv, tx, 0, pkScript, value)

	otherPub := other.PublicKey.SerializeCompressed()
	var sigScript []byte
	sigScript = append(sigScript, pushData(sig)...)
	sigScript = append(sigScript, pushData(otherPub)...)
	tx.TxIn[0].SignatureScript = sigScript

	fetcher := staticPrevOut{value: value, script: pkScript}
	vm, err := NewEngine(sigScript, pkScript, tx, 0, StandardVerifyFlags, fetcher, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := vm.Execute(); err == nil {
		t.Fatal("expected script failure for mismatched public key hash")
	}
}

func TestCheckMultiSigDummyElementConsumed(t *testing.T) {
	priv1, _ := ecc.NewPrivateKey()
	priv2, _ := ecc.NewPrivateKey()
	pub1 := priv1.PublicKey.SerializeCompressed()
	pub2 := priv2.PublicKey.SerializeCompressed()

	var redeem []byte
	redeem = append(redeem, OP_1)
	redeem = append(redeem, pushData(pub1)...)
	redeem = append(redeem, pushData(pub2)...)
	redeem = append(redeem, OP_2, OP_CHECKMULTISIG)

	const value = int64(1000000)
	tx := buildSpendTx([]byte{OP_RETURN}, value)
	sig := signP2PKH(t, priv1, tx, 0, redeem, value)

	var sigScript []byte
	sigScript = append(sigScript, OP_0) // dummy element consumed by the historical bug
	sigScript = append(sigScript, pushData(sig)...)
	tx.TxIn[0].SignatureScript = sigScript

	fetcher := staticPrevOut{value: value, script: redeem}
	vm, err := NewEngine(sigScript, redeem, tx, 0, StandardVerifyFlags, fetcher, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := vm.Execute(); err != nil {
		t.Fatalf("1-of-2 multisig script failed: %v", err)
	}
}

func TestGetScriptClass(t *testing.T) {
	priv, _ := ecc.NewPrivateKey()
	pkHash := hash.Hash160(priv.PublicKey.SerializeCompressed())
	p2pkh := PayToPubKeyHashScript(pkHash)
	if class := GetScriptClass(p2pkh); class != PubKeyHashTy {
		t.Fatalf("expected PubKeyHashTy, got %v", class)
	}

	p2sh := PayToScriptHashScript(pkHash)
	if class := GetScriptClass(p2sh); class != ScriptHashTy {
		t.Fatalf("expected ScriptHashTy, got %v", class)
	}

	nullData := []byte{OP_RETURN, 0x04, 'a', 'b', 'c', 'd'}
	if class := GetScriptClass(nullData); class != NullDataTy {
		t.Fatalf("expected NullDataTy, got %v", class)
	}
}

func TestCheckLockTimeVerifyRejectsUnsatisfiedHeight(t *testing.T) {
	script := []byte{0x03, 0xe8, 0x03, 0x00, OP_CHECKLOCKTIMEVERIFY, OP_DROP, OP_1}
	tx := &wire.MsgTx{
		Version:  1,
		LockTime: 500, // below the 1000 required by the script
		TxIn: []*wire.TxIn{{
			PreviousOutpoint: wire.Outpoint{TxID: hash.Zero, Index: 0},
			Sequence:         0,
		}},
	}
	fetcher := staticPrevOut{value: 0, script: script}
	vm, err := NewEngine(nil, script, tx, 0, ScriptVerifyCheckLockTimeVerify, fetcher, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := vm.Execute(); err == nil {
		t.Fatal("expected OP_CHECKLOCKTIMEVERIFY to reject an unsatisfied lock time")
	}
}
