package txscript

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"

	"github.com/ncnode/ncnode/ncutil/ecc"
	"github.com/ncnode/ncnode/ncutil/hash"
)

// executeOpcode dispatches a single non-push opcode against the
// engine's current stack state.
func (vm *Engine) executeOpcode(pop *parsedOpcode) error {
	vm.numOps++
	if vm.numOps > maxOpsPerScript {
		return scriptError(ErrTooManyOperations, "script exceeds the maximum operation count")
	}

	switch pop.opcode {
	case OP_NOP, OP_NOP1, OP_NOP4, OP_NOP5, OP_NOP6, OP_NOP7, OP_NOP8, OP_NOP9, OP_NOP10:
		return nil
	case OP_VER, OP_RESERVED:
		return scriptError(ErrReservedOpcode, "attempt to execute a reserved opcode")

	case OP_IF, OP_NOTIF:
		return vm.opIf(pop)
	case OP_ELSE:
		return vm.opElse()
	case OP_ENDIF:
		return vm.opEndif()
	case OP_VERIFY:
		ok, err := vm.dstack.PopBool()
		if err != nil {
			return err
		}
		if !ok {
			return scriptError(ErrVerify, "OP_VERIFY failed")
		}
		return nil
	case OP_RETURN:
		return scriptError(ErrEarlyReturn, "OP_RETURN encountered")

	case OP_TOALTSTACK:
		v, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}
		vm.astack.PushByteArray(v)
		return nil
	case OP_FROMALTSTACK:
		v, err := vm.astack.PopByteArray()
		if err != nil {
			return err
		}
		vm.dstack.PushByteArray(v)
		return nil

	case OP_2DROP:
		return vm.dstack.DropN(2)
	case OP_2DUP:
		return vm.dstack.DupN(2)
	case OP_3DUP:
		return vm.dstack.DupN(3)
	case OP_2OVER:
		return vm.dstack.OverN(2)
	case OP_2ROT:
		return vm.dstack.RotN(2)
	case OP_2SWAP:
		return vm.dstack.SwapN(2)
	case OP_IFDUP:
		v, err := vm.dstack.PeekByteArray(0)
		if err != nil {
			return err
		}
		if asBool(v) {
			vm.dstack.PushByteArray(v)
		}
		return nil
	case OP_DEPTH:
		vm.dstack.PushInt(scriptNumFromInt(int64(vm.dstack.Depth())))
		return nil
	case OP_DROP:
		_, err := vm.dstack.PopByteArray()
		return err
	case OP_DUP:
		return vm.dstack.DupN(1)
	case OP_NIP:
		v, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}
		if _, err := vm.dstack.PopByteArray(); err != nil {
			return err
		}
		vm.dstack.PushByteArray(v)
		return nil
	case OP_OVER:
		return vm.dstack.OverN(1)
	case OP_PICK, OP_ROLL:
		n, err := vm.dstack.PopInt()
		if err != nil {
			return err
		}
		idx := int(n.Int32())
		v, err := vm.dstack.PeekByteArray(idx)
		if err != nil {
			return err
		}
		if pop.opcode == OP_ROLL {
			removeNth(&vm.dstack, idx)
		}
		vm.dstack.PushByteArray(v)
		return nil
	case OP_ROT:
		return vm.dstack.RotN(1)
	case OP_SWAP:
		return vm.dstack.SwapN(1)
	case OP_TUCK:
		return vm.dstack.Tuck()

	case OP_SIZE:
		v, err := vm.dstack.PeekByteArray(0)
		if err != nil {
			return err
		}
		vm.dstack.PushInt(scriptNumFromInt(int64(len(v))))
		return nil

	case OP_CAT:
		b, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}
		a, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}
		if len(a)+len(b) > MaxScriptElementSize {
			return scriptError(ErrElementTooBig, "OP_CAT result exceeds the maximum element size")
		}
		vm.dstack.PushByteArray(append(append([]byte{}, a...), b...))
		return nil
	case OP_SPLIT:
		n, err := vm.dstack.PopInt()
		if err != nil {
			return err
		}
		v, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}
		idx := int(n.Int32())
		if idx < 0 || idx > len(v) {
			return scriptError(ErrInvalidStackOperation, "OP_SPLIT index out of range")
		}
		vm.dstack.PushByteArray(append([]byte{}, v[:idx]...))
		vm.dstack.PushByteArray(append([]byte{}, v[idx:]...))
		return nil
	case OP_AND, OP_OR, OP_XOR:
		b, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}
		a, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}
		if len(a) != len(b) {
			return scriptError(ErrInvalidStackOperation, "bitwise operands must be the same length")
		}
		out := make([]byte, len(a))
		for i := range a {
			switch pop.opcode {
			case OP_AND:
				out[i] = a[i] & b[i]
			case OP_OR:
				out[i] = a[i] | b[i]
			case OP_XOR:
				out[i] = a[i] ^ b[i]
			}
		}
		vm.dstack.PushByteArray(out)
		return nil

	case OP_EQUAL, OP_EQUALVERIFY:
		b, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}
		a, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}
		eq := bytes.Equal(a, b)
		if pop.opcode == OP_EQUALVERIFY {
			if !eq {
				return scriptError(ErrEqualVerify, "OP_EQUALVERIFY failed")
			}
			return nil
		}
		vm.dstack.PushBool(eq)
		return nil

	case OP_1ADD, OP_1SUB, OP_NEGATE, OP_ABS, OP_NOT, OP_0NOTEQUAL:
		return vm.opUnaryNum(pop.opcode)
	case OP_ADD, OP_SUB, OP_BOOLAND, OP_BOOLOR, OP_NUMEQUAL, OP_NUMEQUALVERIFY,
		OP_NUMNOTEQUAL, OP_LESSTHAN, OP_GREATERTHAN, OP_LESSTHANOREQUAL,
		OP_GREATERTHANOREQUAL, OP_MIN, OP_MAX, OP_MUL, OP_DIV, OP_MOD:
		return vm.opBinaryNum(pop.opcode)
	case OP_WITHIN:
		return vm.opWithin()

	case OP_RIPEMD160:
		return vm.opHash(hash.Ripemd160)
	case OP_SHA1:
		return vm.opHash(func(b []byte) []byte { h := sha1.Sum(b); return h[:] })
	case OP_SHA256:
		return vm.opHash(func(b []byte) []byte { h := sha256.Sum256(b); return h[:] })
	case OP_HASH160:
		return vm.opHash(hash.Hash160)
	case OP_HASH256:
		return vm.opHash(func(b []byte) []byte { h := hash.DoubleSHA256(b); return h[:] })
	case OP_CODESEPARATOR:
		return nil

	case OP_CHECKSIG, OP_CHECKSIGVERIFY:
		return vm.opCheckSig(pop.opcode == OP_CHECKSIGVERIFY)
	case OP_CHECKMULTISIG, OP_CHECKMULTISIGVERIFY:
		return vm.opCheckMultiSig(pop.opcode == OP_CHECKMULTISIGVERIFY)

	case OP_CHECKLOCKTIMEVERIFY:
		if vm.flags&ScriptVerifyCheckLockTimeVerify == 0 {
			return nil
		}
		return vm.opCheckLockTimeVerify()
	case OP_CHECKSEQUENCEVERIFY:
		if vm.flags&ScriptVerifyCheckSequenceVerify == 0 {
			return nil
		}
		return vm.opCheckSequenceVerify()

	default:
		return scriptError(ErrInternal, "unsupported opcode")
	}
}

func removeNth(s *stack, idx int) {
	i := len(s.items) - idx - 1
	s.items = append(s.items[:i], s.items[i+1:]...)
}

func (vm *Engine) opIf(pop *parsedOpcode) error {
	cond := condFalse
	if vm.isBranchExecuting() {
		ok, err := vm.dstack.PopBool()
		if err != nil {
			return err
		}
		if pop.opcode == OP_NOTIF {
			ok = !ok
		}
		if ok {
			cond = condTrue
		}
	} else {
		cond = condSkip
	}
	vm.condStack = append(vm.condStack, cond)
	return nil
}

func (vm *Engine) opElse() error {
	if len(vm.condStack) == 0 {
		return scriptError(ErrUnbalancedConditional, "OP_ELSE without matching OP_IF")
	}
	top := len(vm.condStack) - 1
	switch vm.condStack[top] {
	case condTrue:
		vm.condStack[top] = condFalse
	case condFalse:
		vm.condStack[top] = condTrue
	}
	return nil
}

func (vm *Engine) opEndif() error {
	if len(vm.condStack) == 0 {
		return scriptError(ErrUnbalancedConditional, "OP_ENDIF without matching OP_IF")
	}
	vm.condStack = vm.condStack[:len(vm.condStack)-1]
	return nil
}

func (vm *Engine) opHash(f func([]byte) []byte) error {
	v, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}
	vm.dstack.PushByteArray(f(v))
	return nil
}

func (vm *Engine) opUnaryNum(opcode byte) error {
	n, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	switch opcode {
	case OP_1ADD:
		vm.dstack.PushInt(n.add(scriptNumFromInt(1)))
	case OP_1SUB:
		vm.dstack.PushInt(n.sub(scriptNumFromInt(1)))
	case OP_NEGATE:
		vm.dstack.PushInt(n.neg())
	case OP_ABS:
		if n.cmp(scriptNumFromInt(0)) < 0 {
			vm.dstack.PushInt(n.neg())
		} else {
			vm.dstack.PushInt(n)
		}
	case OP_NOT:
		vm.dstack.PushBool(n.cmp(scriptNumFromInt(0)) == 0)
	case OP_0NOTEQUAL:
		vm.dstack.PushBool(n.cmp(scriptNumFromInt(0)) != 0)
	}
	return nil
}

func (vm *Engine) opBinaryNum(opcode byte) error {
	b, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	a, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}

	switch opcode {
	case OP_ADD:
		vm.dstack.PushInt(a.add(b))
	case OP_SUB:
		vm.dstack.PushInt(a.sub(b))
	case OP_MUL:
		vm.dstack.PushInt(&scriptNum{val: mulBig(a, b)})
	case OP_DIV:
		if b.val.Sign() == 0 {
			return scriptError(ErrNumberTooBig, "division by zero")
		}
		vm.dstack.PushInt(&scriptNum{val: divBig(a, b)})
	case OP_MOD:
		if b.val.Sign() == 0 {
			return scriptError(ErrNumberTooBig, "modulo by zero")
		}
		vm.dstack.PushInt(&scriptNum{val: modBig(a, b)})
	case OP_BOOLAND:
		vm.dstack.PushBool(a.cmp(scriptNumFromInt(0)) != 0 && b.cmp(scriptNumFromInt(0)) != 0)
	case OP_BOOLOR:
		vm.dstack.PushBool(a.cmp(scriptNumFromInt(0)) != 0 || b.cmp(scriptNumFromInt(0)) != 0)
	case OP_NUMEQUAL:
		vm.dstack.PushBool(a.cmp(b) == 0)
	case OP_NUMEQUALVERIFY:
		if a.cmp(b) != 0 {
			return scriptError(ErrNumEqualVerify, "OP_NUMEQUALVERIFY failed")
		}
	case OP_NUMNOTEQUAL:
		vm.dstack.PushBool(a.cmp(b) != 0)
	case OP_LESSTHAN:
		vm.dstack.PushBool(a.cmp(b) < 0)
	case OP_GREATERTHAN:
		vm.dstack.PushBool(a.cmp(b) > 0)
	case OP_LESSTHANOREQUAL:
		vm.dstack.PushBool(a.cmp(b) <= 0)
	case OP_GREATERTHANOREQUAL:
		vm.dstack.PushBool(a.cmp(b) >= 0)
	case OP_MIN:
		if a.cmp(b) < 0 {
			vm.dstack.PushInt(a)
		} else {
			vm.dstack.PushInt(b)
		}
	case OP_MAX:
		if a.cmp(b) > 0 {
			vm.dstack.PushInt(a)
		} else {
			vm.dstack.PushInt(b)
		}
	}
	return nil
}

func (vm *Engine) opWithin() error {
	max, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	min, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	x, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	vm.dstack.PushBool(x.cmp(min) >= 0 && x.cmp(max) < 0)
	return nil
}

// opCheckSig implements OP_CHECKSIG / OP_CHECKSIGVERIFY: pops a
// pubkey and a DER-plus-hashtype signature, verifies it over the
// current subscript, and pushes the boolean result (verify variants
// turn a false result into a script failure).
func (vm *Engine) opCheckSig(verify bool) error {
	pubKeyBytes, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}
	fullSig, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}

	ok, err := vm.verifySignature(fullSig, pubKeyBytes)
	if err != nil {
		return err
	}
	if verify {
		if !ok {
			return scriptError(ErrCheckSigVerify, "OP_CHECKSIGVERIFY failed")
		}
		return nil
	}
	vm.dstack.PushBool(ok)
	return nil
}

// verifySignature checks fullSig (DER signature with trailing hash
// type byte) against pubKeyBytes over the current input, honoring
// the NULLFAIL rule: an invalid non-empty signature is a hard
// failure, not merely a false result (spec §4.1).
func (vm *Engine) verifySignature(fullSig, pubKeyBytes []byte) (bool, error) {
	if len(fullSig) == 0 {
		return false, nil
	}
	hashType := uint32(fullSig[len(fullSig)-1])
	derSig := fullSig[:len(fullSig)-1]

	if vm.flags&ScriptEnableSighashForkID != 0 && hashType&SigHashForkID == 0 {
		return false, scriptError(ErrInvalidSignature, "signature is missing the mandatory fork-id bit")
	}

	strict := vm.flags&ScriptVerifyDERSignatures != 0
	sig, err := ecc.ParseDERSignature(derSig, strict)
	if err != nil {
		if vm.flags&ScriptVerifyNullFail != 0 {
			return false, scriptError(ErrInvalidSignature, "malformed signature with NULLFAIL active")
		}
		return false, nil
	}
	if vm.flags&ScriptVerifyLowS != 0 && !sig.IsLowS() {
		return false, scriptError(ErrNonCanonicalSignature, "signature S value is not canonical")
	}

	pubKey, err := ecc.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false, nil
	}

	subScript := vm.currentSubScript()
	value, _ := vm.prevOuts.PrevOut(vm.txIdx)
	digest, err := CalcSignatureHash(subScript, hashType, vm.tx, vm.txIdx, value)
	if err != nil {
		return false, err
	}

	valid := ecc.Verify(pubKey, digest[:], sig)
	if !valid && vm.flags&ScriptVerifyNullFail != 0 && len(fullSig) != 0 {
		return false, scriptError(ErrNullFail, "signature verification failed with NULLFAIL active")
	}
	return valid, nil
}

func (vm *Engine) currentSubScript() []byte {
	return reconstructScript(vm.scripts[vm.scriptIdx])
}

func reconstructScript(parsed []parsedOpcode) []byte {
	var out []byte
	for _, pop := range parsed {
		out = append(out, reconstructOpcode(pop)...)
	}
	return out
}

// opCheckMultiSig implements OP_CHECKMULTISIG, preserving the
// historical off-by-one bug that consumes one extra stack element
// (the "dummy" element, conventionally OP_0) beyond the declared
// signature count — removing it would be a consensus change, not a
// bug fix (spec §4.1 edge cases).
func (vm *Engine) opCheckMultiSig(verify bool) error {
	pubKeyCount, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	numPubKeys := int(pubKeyCount.Int32())
	if numPubKeys < 0 || numPubKeys > 20 {
		return scriptError(ErrInvalidPubKeyCount, "public key count out of range")
	}
	pubKeys := make([][]byte, numPubKeys)
	for i := numPubKeys - 1; i >= 0; i-- {
		pk, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}
		pubKeys[i] = pk
	}

	sigCount, err := vm.dstack.PopInt()
	if err != nil {
		return err
	}
	numSigs := int(sigCount.Int32())
	if numSigs < 0 || numSigs > numPubKeys {
		return scriptError(ErrInvalidSignatureCount, "signature count out of range")
	}
	sigs := make([][]byte, numSigs)
	for i := numSigs - 1; i >= 0; i-- {
		sig, err := vm.dstack.PopByteArray()
		if err != nil {
			return err
		}
		sigs[i] = sig
	}

	// The extra pop below is the historical dummy-element bug.
	dummy, err := vm.dstack.PopByteArray()
	if err != nil {
		return err
	}
	if vm.flags&ScriptVerifyNullFail != 0 && len(dummy) != 0 {
		return scriptError(ErrNullFail, "multisig dummy element must be empty with NULLFAIL active")
	}

	pubKeyIdx := 0
	sigIdx := 0
	success := true
	for sigIdx < numSigs {
		if pubKeyIdx >= numPubKeys {
			success = false
			break
		}
		ok, err := vm.verifySignature(sigs[sigIdx], pubKeys[pubKeyIdx])
		if err != nil {
			return err
		}
		if ok {
			sigIdx++
		}
		pubKeyIdx++
		if numSigs-sigIdx > numPubKeys-pubKeyIdx {
			success = false
			break
		}
	}

	if verify {
		if !success {
			return scriptError(ErrCheckMultiSigVerify, "OP_CHECKMULTISIGVERIFY failed")
		}
		return nil
	}
	vm.dstack.PushBool(success)
	return nil
}

// opCheckLockTimeVerify implements BIP-0065: the top stack element
// must be a lock time (block height or Unix time, matching the
// transaction's own LockTime domain) no later than the transaction's
// nLockTime, and the input must not have a final sequence number.
func (vm *Engine) opCheckLockTimeVerify() error {
	v, err := vm.dstack.PeekByteArray(0)
	if err != nil {
		return err
	}
	n, err := makeScriptNum(v, vm.flags&ScriptVerifyMinimalData != 0, 5)
	if err != nil {
		return err
	}
	if n.val.Sign() < 0 {
		return scriptError(ErrNegativeLockTime, "negative lock time")
	}
	locktime := n.Int64()

	txLockTime := int64(vm.tx.LockTime)
	if !((locktime < lockTimeThreshold) == (txLockTime < lockTimeThreshold)) {
		return scriptError(ErrUnsatisfiedLockTime, "lock time type mismatch between stack and transaction")
	}
	if locktime > txLockTime {
		return scriptError(ErrUnsatisfiedLockTime, "lock time has not yet passed")
	}
	if vm.tx.TxIn[vm.txIdx].Sequence == 0xffffffff {
		return scriptError(ErrUnsatisfiedLockTime, "input sequence finalizes the transaction")
	}
	return nil
}

// opCheckSequenceVerify implements BIP-0112: the top stack element
// encodes a relative lock (block count or 512-second span) that the
// spending input's own sequence number must already satisfy.
func (vm *Engine) opCheckSequenceVerify() error {
	v, err := vm.dstack.PeekByteArray(0)
	if err != nil {
		return err
	}
	n, err := makeScriptNum(v, vm.flags&ScriptVerifyMinimalData != 0, 5)
	if err != nil {
		return err
	}
	if n.val.Sign() < 0 {
		return scriptError(ErrNegativeLockTime, "negative sequence")
	}
	sequence := uint32(n.Int64())
	if sequence&uint32(1<<31) != 0 {
		return nil
	}

	inputSequence := vm.tx.TxIn[vm.txIdx].Sequence
	if inputSequence&uint32(1<<31) != 0 {
		return scriptError(ErrUnsatisfiedLockTime, "input relative lock is disabled")
	}

	const typeMask = uint32(1 << 22)
	const valueMask = uint32(0x0000ffff)
	if sequence&typeMask != inputSequence&typeMask {
		return scriptError(ErrUnsatisfiedLockTime, "relative lock type mismatch")
	}
	if sequence&valueMask > inputSequence&valueMask {
		return scriptError(ErrUnsatisfiedLockTime, "relative lock has not yet been satisfied")
	}
	return nil
}
