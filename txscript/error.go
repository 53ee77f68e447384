package txscript

// ErrorCode identifies the specific way a script failed, so callers
// can distinguish "invalid by consensus" from "malformed input"
// without parsing the error string (spec §7).
type ErrorCode int

// Recognized script error codes.
const (
	ErrInternal ErrorCode = iota
	ErrInvalidFlags
	ErrInvalidIndex
	ErrUnsupportedAddress
	ErrNotMultisigScript
	ErrEarlyReturn
	ErrEmptyStack
	ErrEvalFalse
	ErrScriptUnfinished
	ErrInvalidProgramCounter
	ErrScriptTooBig
	ErrElementTooBig
	ErrTooManyOperations
	ErrStackOverflow
	ErrInvalidPubKeyCount
	ErrInvalidSignatureCount
	ErrNumberTooBig
	ErrVerify
	ErrEqualVerify
	ErrNumEqualVerify
	ErrCheckSigVerify
	ErrCheckMultiSigVerify
	ErrDisabledOpcode
	ErrReservedOpcode
	ErrMalformedPush
	ErrInvalidStackOperation
	ErrUnbalancedConditional
	ErrMinimalData
	ErrInvalidSignature
	ErrInvalidPubKey
	ErrCleanStack
	ErrNullFail
	ErrNegativeLockTime
	ErrUnsatisfiedLockTime
	ErrNonCanonicalSignature
)

// Error wraps a script-evaluation failure with its ErrorCode. Per
// spec §4.1 a script failure is never fatal to the node: it marks
// only the containing transaction invalid.
type Error struct {
	Code        ErrorCode
	Description string
}

func (e Error) Error() string { return e.Description }

func scriptError(c ErrorCode, desc string) Error {
	return Error{Code: c, Description: desc}
}

// IsErrorCode reports whether err is a script Error with the given
// code.
func IsErrorCode(err error, c ErrorCode) bool {
	serr, ok := err.(Error)
	return ok && serr.Code == c
}
