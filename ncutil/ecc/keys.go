package ecc

import (
	"crypto/rand"
	"math/big"

	"github.com/pkg/errors"
)

// PrivKeyBytesLen is the length of a serialized private key scalar.
const PrivKeyBytesLen = 32

// PublicKey is a point on secp256k1.
type PublicKey struct {
	X, Y *big.Int
}

// PrivateKey is a secp256k1 scalar together with its derived public
// point.
type PrivateKey struct {
	D *big.Int
	PublicKey
}

// NewPrivateKey generates a new random private key.
func NewPrivateKey() (*PrivateKey, error) {
	b := make([]byte, PrivKeyBytesLen)
	for {
		if _, err := rand.Read(b); err != nil {
			return nil, errors.Wrap(err, "ecc: failed to read randomness")
		}
		d := new(big.Int).SetBytes(b)
		if d.Sign() != 0 && d.Cmp(Params().N) < 0 {
			return PrivKeyFromScalar(d), nil
		}
	}
}

// PrivKeyFromScalar derives a key pair from an existing scalar.
func PrivKeyFromScalar(d *big.Int) *PrivateKey {
	x, y := S256().ScalarBaseMult(d.Bytes())
	return &PrivateKey{D: d, PublicKey: PublicKey{X: x, Y: y}}
}

// Serialize returns the 32-byte big-endian scalar encoding.
func (p *PrivateKey) Serialize() []byte {
	b := p.D.Bytes()
	if len(b) == PrivKeyBytesLen {
		return b
	}
	out := make([]byte, PrivKeyBytesLen)
	copy(out[PrivKeyBytesLen-len(b):], b)
	return out
}

// SerializeCompressed returns the 33-byte compressed public key
// encoding: a parity-prefixed X coordinate.
func (pub *PublicKey) SerializeCompressed() []byte {
	b := make([]byte, 33)
	if pub.Y.Bit(0) == 0 {
		b[0] = 0x02
	} else {
		b[0] = 0x03
	}
	xBytes := pub.X.Bytes()
	copy(b[33-len(xBytes):], xBytes)
	return b
}

// SerializeUncompressed returns the 65-byte uncompressed public key
// encoding: 0x04 || X || Y.
func (pub *PublicKey) SerializeUncompressed() []byte {
	b := make([]byte, 65)
	b[0] = 0x04
	xBytes := pub.X.Bytes()
	yBytes := pub.Y.Bytes()
	copy(b[33-len(xBytes):33], xBytes)
	copy(b[65-len(yBytes):], yBytes)
	return b
}

// ParsePubKey decodes a compressed (33-byte) or uncompressed
// (65-byte) public key, the two forms accepted by
// OP_CHECKSIG-family opcodes.
func ParsePubKey(data []byte) (*PublicKey, error) {
	switch {
	case len(data) == 33 && (data[0] == 0x02 || data[0] == 0x03):
		x := new(big.Int).SetBytes(data[1:])
		y, err := decompressY(x, data[0] == 0x03)
		if err != nil {
			return nil, err
		}
		return &PublicKey{X: x, Y: y}, nil
	case len(data) == 65 && data[0] == 0x04:
		x := new(big.Int).SetBytes(data[1:33])
		y := new(big.Int).SetBytes(data[33:65])
		if !S256().IsOnCurve(x, y) {
			return nil, errors.New("ecc: uncompressed public key is not on the curve")
		}
		return &PublicKey{X: x, Y: y}, nil
	default:
		return nil, errors.Errorf("ecc: invalid public key encoding of length %d", len(data))
	}
}

func decompressY(x *big.Int, odd bool) (*big.Int, error) {
	params := Params()
	// y^2 = x^3 + 7 mod p
	rhs := new(big.Int).Mul(x, x)
	rhs.Mul(rhs, x)
	rhs.Add(rhs, big.NewInt(7))
	rhs.Mod(rhs, params.P)

	// p ≡ 3 (mod 4) for secp256k1, so the square root is rhs^((p+1)/4).
	exp := new(big.Int).Add(params.P, big.NewInt(1))
	exp.Rsh(exp, 2)
	y := new(big.Int).Exp(rhs, exp, params.P)

	check := new(big.Int).Mul(y, y)
	check.Mod(check, params.P)
	if check.Cmp(rhs) != 0 {
		return nil, errors.New("ecc: x coordinate is not on the curve")
	}

	if y.Bit(0) == 1 != odd {
		y.Sub(params.P, y)
	}
	return y, nil
}
