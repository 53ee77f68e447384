// Package ecc implements secp256k1 elliptic-curve key generation and
// ECDSA signing/verification, the curve used for every public key
// and signature in the script interpreter (spec §2, Primitives).
// Grounded in the teacher's own hand-rolled btcec/ecc package idiom
// rather than an imported curve implementation, since the teacher
// itself vendors this rather than depending on an external module.
package ecc

import (
	"crypto/elliptic"
	"math/big"
)

// curveParams holds the secp256k1 domain parameters.
type curveParams struct {
	*elliptic.CurveParams
}

// S256 returns the secp256k1 curve.
func S256() elliptic.Curve {
	return secp256k1
}

var secp256k1 = newSecp256k1()

func newSecp256k1() *curveParams {
	p := new(big.Int)
	p.SetString("fffffffffffffffffffffffffffffffffffffffffffffffffffffffefffffc2f", 16)

	n := new(big.Int)
	n.SetString("fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141", 16)

	b := new(big.Int)
	b.SetInt64(7)

	gx := new(big.Int)
	gx.SetString("79be667ef9dcbbac55a06295ce870b07029bfcdb2dce28d959f2815b16f81798", 16)

	gy := new(big.Int)
	gy.SetString("483ada7726a3c4655da4fbfc0e1108a8fd17b448a68554199c47d08ffb10d4b8", 16)

	return &curveParams{
		CurveParams: &elliptic.CurveParams{
			P:       p,
			N:       n,
			B:       b,
			Gx:      gx,
			Gy:      gy,
			BitSize: 256,
			Name:    "secp256k1",
		},
	}
}

// Params returns secp256k1's domain parameters; their order N is the
// modulus used for signature scalar arithmetic (nonce, s-value
// normalization).
func Params() *elliptic.CurveParams {
	return secp256k1.CurveParams
}
