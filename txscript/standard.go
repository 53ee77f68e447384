package txscript

import "github.com/ncnode/ncnode/ncutil/hash"

// ScriptClass identifies the standard output-script template a
// locking script matches, used by mempool policy and wallet logic to
// decide what counts as a "standard" transaction (spec §4.1).
type ScriptClass int

const (
	NonStandardTy ScriptClass = iota
	PubKeyTy
	PubKeyHashTy
	ScriptHashTy
	MultiSigTy
	NullDataTy
)

func (c ScriptClass) String() string {
	switch c {
	case PubKeyTy:
		return "pubkey"
	case PubKeyHashTy:
		return "pubkeyhash"
	case ScriptHashTy:
		return "scripthash"
	case MultiSigTy:
		return "multisig"
	case NullDataTy:
		return "nulldata"
	default:
		return "nonstandard"
	}
}

// GetScriptClass classifies script against the recognized standard
// templates.
func GetScriptClass(script []byte) ScriptClass {
	parsed, err := parseScript(script)
	if err != nil {
		return NonStandardTy
	}
	switch {
	case isPubKeyHash(parsed):
		return PubKeyHashTy
	case isScriptHashParsed(parsed):
		return ScriptHashTy
	case isPubKey(parsed):
		return PubKeyTy
	case isMultiSig(parsed):
		return MultiSigTy
	case isNullData(parsed):
		return NullDataTy
	default:
		return NonStandardTy
	}
}

func isPubKeyHash(p []parsedOpcode) bool {
	return len(p) == 5 &&
		p[0].opcode == OP_DUP &&
		p[1].opcode == OP_HASH160 &&
		len(p[2].data) == 20 &&
		p[3].opcode == OP_EQUALVERIFY &&
		p[4].opcode == OP_CHECKSIG
}

func isScriptHashParsed(p []parsedOpcode) bool {
	return len(p) == 3 &&
		p[0].opcode == OP_HASH160 &&
		len(p[1].data) == 20 &&
		p[2].opcode == OP_EQUAL
}

func isPubKey(p []parsedOpcode) bool {
	return len(p) == 2 &&
		(len(p[0].data) == 33 || len(p[0].data) == 65) &&
		p[1].opcode == OP_CHECKSIG
}

func isSmallInt(op byte) bool {
	return op == OP_0 || (op >= OP_1 && op <= OP_16)
}

func asSmallInt(op byte) int {
	if op == OP_0 {
		return 0
	}
	return int(op - (OP_1 - 1))
}

func isMultiSig(p []parsedOpcode) bool {
	if len(p) < 4 {
		return false
	}
	if !isSmallInt(p[0].opcode) {
		return false
	}
	numSigs := asSmallInt(p[0].opcode)

	numKeys := 0
	i := 1
	for ; i < len(p)-2; i++ {
		if len(p[i].data) != 33 && len(p[i].data) != 65 {
			break
		}
		numKeys++
	}
	if numKeys == 0 || !isSmallInt(p[i].opcode) {
		return false
	}
	declaredKeys := asSmallInt(p[i].opcode)
	if declaredKeys != numKeys {
		return false
	}
	if numSigs > numKeys {
		return false
	}
	return p[i+1].opcode == OP_CHECKMULTISIG && i+2 == len(p)
}

func isNullData(p []parsedOpcode) bool {
	return len(p) >= 1 && p[0].opcode == OP_RETURN
}

// PayToPubKeyHashScript builds a standard P2PKH locking script for
// the given 20-byte public key hash.
func PayToPubKeyHashScript(pkHash []byte) []byte {
	b := make([]byte, 0, 25)
	b = append(b, OP_DUP, OP_HASH160, byte(len(pkHash)))
	b = append(b, pkHash...)
	b = append(b, OP_EQUALVERIFY, OP_CHECKSIG)
	return b
}

// PayToScriptHashScript builds a standard P2SH locking script for the
// given 20-byte redeem-script hash.
func PayToScriptHashScript(scriptHash []byte) []byte {
	b := make([]byte, 0, 23)
	b = append(b, OP_HASH160, byte(len(scriptHash)))
	b = append(b, scriptHash...)
	b = append(b, OP_EQUAL)
	return b
}

// ExtractPubKeyHash returns the 20-byte hash embedded in a P2PKH
// script, or nil if script is not P2PKH.
func ExtractPubKeyHash(script []byte) []byte {
	parsed, err := parseScript(script)
	if err != nil || !isPubKeyHash(parsed) {
		return nil
	}
	return parsed[2].data
}

// ExtractScriptHash returns the 20-byte hash embedded in a P2SH
// script, or nil if script is not P2SH.
func ExtractScriptHash(script []byte) []byte {
	parsed, err := parseScript(script)
	if err != nil || !isScriptHashParsed(parsed) {
		return nil
	}
	return parsed[1].data
}

// CalcScriptHash returns the Hash160 of script, the value embedded
// in a P2SH output committing to it.
func CalcScriptHash(script []byte) []byte {
	return hash.Hash160(script)
}
