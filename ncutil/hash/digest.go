package hash

import (
	"crypto/sha256"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required for HASH160, matching consensus history
)

// DoubleSHA256 computes SHA-256(SHA-256(b)), the digest used for
// block and transaction identity and for block-file record hashing.
func DoubleSHA256(b []byte) Hash {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return Hash(second)
}

// Hash160 computes RIPEMD160(SHA256(b)), used to derive P2PKH and
// P2SH script hashes from a public key or redeem script.
func Hash160(b []byte) []byte {
	shaSum := sha256.Sum256(b)
	return Ripemd160(shaSum[:])
}

// Ripemd160 computes the plain RIPEMD160 digest, used directly by
// OP_RIPEMD160 (spec §4.1) where HASH160's extra SHA-256 step is not
// wanted.
func Ripemd160(b []byte) []byte {
	r := ripemd160.New()
	r.Write(b) //nolint:errcheck // hash.Hash.Write never errors
	return r.Sum(nil)
}
