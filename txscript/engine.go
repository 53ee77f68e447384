// Package txscript implements the script interpreter (spec §4.1):
// parsing, evaluation, standard-template classification, and
// signature-hash construction for transaction scripts. Grounded on
// the Engine/executeOpcode/Step structure of the teacher's
// txscript/engine.go, extended with the replay-protected sighash
// variant and non-strict DER tolerance SPEC_FULL.md §5.2 adds.
package txscript

import (
	"github.com/ncnode/ncnode/wire"
)

// ScriptFlags enables or disables specific verification behaviors,
// letting the same engine evaluate both pre- and post-activation
// consensus rules during a soft-fork transition (spec §4.1).
type ScriptFlags uint32

const (
	ScriptBip16 ScriptFlags = 1 << iota
	ScriptVerifyDERSignatures
	ScriptVerifyLowS
	ScriptVerifyCleanStack
	ScriptVerifyCheckLockTimeVerify
	ScriptVerifyCheckSequenceVerify
	ScriptVerifyMinimalData
	ScriptVerifyNullFail
	ScriptEnableSighashForkID
)

// StandardVerifyFlags is the flag set applied to transactions
// relayed and mined by this node.
const StandardVerifyFlags = ScriptBip16 | ScriptVerifyDERSignatures | ScriptVerifyLowS |
	ScriptVerifyCleanStack | ScriptVerifyCheckLockTimeVerify | ScriptVerifyCheckSequenceVerify |
	ScriptVerifyMinimalData | ScriptVerifyNullFail | ScriptEnableSighashForkID

const maxOpsPerScript = 201
const maxScriptSize = 10000
const lockTimeThreshold = 500000000

// SigCache verifies signatures and is satisfied by the shared
// verification cache so repeated checks of the same (sig, pubkey,
// hash) triple during mempool and block validation skip the curve
// operation entirely.
type SigCache interface {
	Exists(sig, pubKey, hash []byte) bool
	Add(sig, pubKey, hash []byte)
}

// PrevOutFetcher supplies the value and script of the output a given
// input spends, needed for signature hashing and OP_CHECKSIG.
type PrevOutFetcher interface {
	PrevOut(idx int) (value int64, script []byte)
}

// Engine executes one input script followed by the output script it
// spends (and, for P2SH, the embedded redeem script), tracking the
// data/alt stacks and branch-condition state across that sequence.
type Engine struct {
	scripts  [][]parsedOpcode
	scriptIdx int
	scriptOff int

	dstack stack
	astack stack

	condStack []int

	numOps int
	flags  ScriptFlags

	tx     *wire.MsgTx
	txIdx  int
	prevOuts PrevOutFetcher

	sigCache SigCache

	isP2SH          bool
	savedFirstStack [][]byte

	bip16 bool
}

const (
	condFalse = 0
	condTrue  = 1
	condSkip  = 2
)

// NewEngine builds and validates an Engine ready to evaluate the
// signature script against the referenced output script.
func NewEngine(scriptSig, scriptPubKey []byte, tx *wire.MsgTx, txIdx int, flags ScriptFlags, prevOuts PrevOutFetcher, sigCache SigCache) (*Engine, error) {
	if len(scriptSig) > maxScriptSize || len(scriptPubKey) > maxScriptSize {
		return nil, scriptError(ErrScriptTooBig, "script exceeds the maximum allowed size")
	}
	if txIdx < 0 || txIdx >= len(tx.TxIn) {
		return nil, scriptError(ErrInvalidIndex, "transaction input index out of range")
	}

	sigScript, err := parseScript(scriptSig)
	if err != nil {
		return nil, err
	}
	pkScript, err := parseScript(scriptPubKey)
	if err != nil {
		return nil, err
	}

	vm := &Engine{
		scripts:  [][]parsedOpcode{sigScript, pkScript},
		tx:       tx,
		txIdx:    txIdx,
		flags:    flags,
		prevOuts: prevOuts,
		sigCache: sigCache,
	}

	if flags&ScriptBip16 != 0 && isScriptHash(scriptPubKey) {
		if !isPushOnly(sigScript) {
			return nil, scriptError(ErrScriptUnfinished, "P2SH signature script must be push-only")
		}
		vm.bip16 = true
	}

	return vm, nil
}

// Execute runs the engine to completion and reports whether the
// final stack state evaluates the script as successful (spec §4.1).
func (vm *Engine) Execute() error {
	for {
		done, err := vm.Step()
		if err != nil {
			return err
		}
		if done {
			break
		}
	}
	return vm.CheckErrorCondition(true)
}

// Step executes the next opcode, returning true once all scripts in
// the sequence have been consumed.
func (vm *Engine) Step() (bool, error) {
	if vm.scriptOff >= len(vm.scripts[vm.scriptIdx]) {
		done, err := vm.advanceScript()
		if done || err != nil {
			return done, err
		}
		return vm.Step()
	}

	opcode := &vm.scripts[vm.scriptIdx][vm.scriptOff]

	executing := vm.isBranchExecuting()
	if !executing && !opcode.isConditional() {
		vm.scriptOff++
	} else {
		if executing && opcode.isDisabled() {
			return false, scriptError(ErrDisabledOpcode, "attempt to execute a disabled opcode")
		}
		if executing && opcode.opcode >= OP_1 && opcode.opcode <= OP_16 {
			vm.dstack.PushInt(scriptNumFromInt(int64(opcode.opcode - (OP_1 - 1))))
			vm.scriptOff++
		} else if executing && opcode.opcode == OP_1NEGATE {
			vm.dstack.PushInt(scriptNumFromInt(-1))
			vm.scriptOff++
		} else if executing && opcode.opcode < OP_PUSHDATA4+1 && opcode.opcode != OP_RESERVED {
			if err := vm.executePush(opcode); err != nil {
				return false, err
			}
			vm.scriptOff++
		} else {
			if err := vm.executeOpcode(opcode); err != nil {
				return false, err
			}
			vm.scriptOff++
		}

		combined := vm.dstack.Depth() + vm.astack.Depth()
		if combined > 1000 {
			return false, scriptError(ErrStackOverflow, "combined stack size exceeds the limit")
		}
	}

	if vm.scriptOff >= len(vm.scripts[vm.scriptIdx]) {
		return vm.advanceScript()
	}
	return false, nil
}

// advanceScript closes out the current script segment (clearing the
// alt stack, checking for a dangling conditional, handling the P2SH
// redeem-script hand-off) and moves to the next one, reporting true
// once every segment has run.
func (vm *Engine) advanceScript() (bool, error) {
	if len(vm.condStack) != 0 {
		return false, scriptError(ErrUnbalancedConditional, "unbalanced conditional at end of script")
	}

	vm.astack = stack{}

	if vm.scriptIdx == 0 && vm.bip16 {
		vm.savedFirstStack = append([][]byte{}, vm.dstack.items...)
	}

	vm.scriptIdx++
	vm.scriptOff = 0

	if vm.scriptIdx == 2 && vm.bip16 {
		redeemScriptBytes := vm.savedFirstStack[len(vm.savedFirstStack)-1]
		redeem, err := parseScript(redeemScriptBytes)
		if err != nil {
			return false, err
		}
		vm.scripts = append(vm.scripts, redeem)
		vm.dstack.items = append([][]byte{}, vm.savedFirstStack[:len(vm.savedFirstStack)-1]...)
	}

	if vm.scriptIdx >= len(vm.scripts) {
		return true, nil
	}
	return false, nil
}

func (vm *Engine) executePush(pop *parsedOpcode) error {
	if vm.flags&ScriptVerifyMinimalData != 0 {
		if err := checkMinimalPush(pop); err != nil {
			return err
		}
	}
	if pop.opcode == OP_0 {
		vm.dstack.PushByteArray(nil)
		return nil
	}
	vm.dstack.PushByteArray(pop.data)
	return nil
}

func checkMinimalPush(pop *parsedOpcode) error {
	data := pop.data
	op := int(pop.opcode)
	if op == OP_0 {
		return nil
	}
	if len(data) == 1 && data[0] >= 1 && data[0] <= 16 {
		return scriptError(ErrMinimalData, "data push of a small int should use OP_1..OP_16")
	}
	if len(data) == 1 && data[0] == 0x81 {
		return scriptError(ErrMinimalData, "data push of -1 should use OP_1NEGATE")
	}
	if len(data) <= 75 && op != len(data) {
		return scriptError(ErrMinimalData, "data push should use the minimal direct push opcode")
	}
	if len(data) <= 255 && len(data) > 75 && op != OP_PUSHDATA1 {
		return scriptError(ErrMinimalData, "data push should use OP_PUSHDATA1")
	}
	if len(data) <= 65535 && len(data) > 255 && op != OP_PUSHDATA2 {
		return scriptError(ErrMinimalData, "data push should use OP_PUSHDATA2")
	}
	return nil
}

func (vm *Engine) isBranchExecuting() bool {
	if len(vm.condStack) == 0 {
		return true
	}
	return vm.condStack[len(vm.condStack)-1] == condTrue
}

// CheckErrorCondition reports whether the final stack satisfies
// success: a non-empty stack with a truthy top element, and (under
// ScriptVerifyCleanStack) exactly one remaining element.
func (vm *Engine) CheckErrorCondition(finalScript bool) error {
	if vm.scriptIdx < len(vm.scripts) {
		return scriptError(ErrScriptUnfinished, "execution has not reached the end of the script")
	}
	if vm.dstack.Depth() < 1 {
		return scriptError(ErrEmptyStack, "stack is empty after script execution")
	}
	if vm.flags&ScriptVerifyCleanStack != 0 && vm.dstack.Depth() != 1 {
		return scriptError(ErrCleanStack, "stack must contain exactly one element")
	}
	v, err := vm.dstack.PeekByteArray(0)
	if err != nil {
		return err
	}
	if !asBool(v) {
		return scriptError(ErrEvalFalse, "script evaluated to false")
	}
	return nil
}

func isScriptHash(script []byte) bool {
	return len(script) == 23 && script[0] == OP_HASH160 && script[1] == 0x14 && script[22] == OP_EQUAL
}

func isPushOnly(parsed []parsedOpcode) bool {
	for _, pop := range parsed {
		if pop.opcode > OP_16 {
			return false
		}
	}
	return true
}
