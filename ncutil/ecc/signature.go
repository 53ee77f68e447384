package ecc

import (
	"crypto/hmac"
	"crypto/sha256"
	"math/big"

	"github.com/pkg/errors"
)

// Signature is an ECDSA (r, s) pair.
type Signature struct {
	R, S *big.Int
}

// halfOrder is used to enforce low-S signatures (BIP-0062), the
// canonical form required by strict verification.
var halfOrder = new(big.Int).Rsh(Params().N, 1)

// Sign produces a deterministic (RFC 6979) ECDSA signature over
// hash, normalized to low-S form.
func Sign(priv *PrivateKey, hashBytes []byte) (*Signature, error) {
	n := Params().N
	z := hashToInt(hashBytes, n)

	for {
		k := deterministicK(priv.D, hashBytes)
		if k.Sign() == 0 {
			continue
		}
		x, _ := S256().ScalarBaseMult(k.Bytes())
		r := new(big.Int).Mod(x, n)
		if r.Sign() == 0 {
			continue
		}

		kInv := new(big.Int).ModInverse(k, n)
		s := new(big.Int).Mul(priv.D, r)
		s.Add(s, z)
		s.Mul(s, kInv)
		s.Mod(s, n)
		if s.Sign() == 0 {
			continue
		}
		if s.Cmp(halfOrder) > 0 {
			s.Sub(n, s)
		}
		return &Signature{R: r, S: s}, nil
	}
}

// Verify reports whether sig is a valid signature by pub over hash.
func Verify(pub *PublicKey, hashBytes []byte, sig *Signature) bool {
	n := Params().N
	if sig.R.Sign() <= 0 || sig.R.Cmp(n) >= 0 {
		return false
	}
	if sig.S.Sign() <= 0 || sig.S.Cmp(n) >= 0 {
		return false
	}

	z := hashToInt(hashBytes, n)
	sInv := new(big.Int).ModInverse(sig.S, n)

	u1 := new(big.Int).Mul(z, sInv)
	u1.Mod(u1, n)
	u2 := new(big.Int).Mul(sig.R, sInv)
	u2.Mod(u2, n)

	x1, y1 := S256().ScalarBaseMult(u1.Bytes())
	x2, y2 := S256().ScalarMult(pub.X, pub.Y, u2.Bytes())
	if x1.Sign() == 0 && y1.Sign() == 0 {
		return false
	}
	x, y := S256().Add(x1, y1, x2, y2)
	if x.Sign() == 0 && y.Sign() == 0 {
		return false
	}

	x.Mod(x, n)
	return x.Cmp(sig.R) == 0
}

// IsLowS reports whether sig.S is at most half the curve order, the
// canonical form strict verification requires (spec §4.1).
func (sig *Signature) IsLowS() bool {
	return sig.S.Cmp(halfOrder) <= 0
}

func hashToInt(hashBytes []byte, n *big.Int) *big.Int {
	z := new(big.Int).SetBytes(hashBytes)
	bitLen := n.BitLen()
	if excess := len(hashBytes)*8 - bitLen; excess > 0 {
		z.Rsh(z, uint(excess))
	}
	return z
}

// deterministicK implements RFC 6979 nonce generation, the same
// derivation btcec-lineage signers use to avoid relying on a fresh
// random source for every signature.
func deterministicK(d *big.Int, hashBytes []byte) *big.Int {
	n := Params().N
	qlen := n.BitLen()
	holen := sha256.Size

	privBytes := make([]byte, 32)
	dBytes := d.Bytes()
	copy(privBytes[32-len(dBytes):], dBytes)

	v := make([]byte, holen)
	for i := range v {
		v[i] = 0x01
	}
	k := make([]byte, holen)

	hmacK := func(key []byte) func([]byte) []byte {
		return func(data []byte) []byte {
			mac := hmac.New(sha256.New, key)
			mac.Write(data)
			return mac.Sum(nil)
		}
	}

	mac := hmacK(k)
	k = mac(append(append(append([]byte{}, v...), 0x00), append(privBytes, hashBytes...)...))
	mac = hmacK(k)
	v = mac(v)
	k = mac(append(append(append([]byte{}, v...), 0x01), append(privBytes, hashBytes...)...))
	mac = hmacK(k)
	v = mac(v)

	for {
		var t []byte
		for len(t) < (qlen+7)/8 {
			v = mac(v)
			t = append(t, v...)
		}
		k0 := hashToInt(t, n)
		if k0.Sign() != 0 && k0.Cmp(n) < 0 {
			return k0
		}
		k = mac(append(append([]byte{}, v...), 0x00))
		mac = hmacK(k)
		v = mac(v)
	}
}

// ParseDERSignature parses a DER-encoded signature: a sequence of two
// integers whose length bytes must match the buffer exactly. R and S
// are read as unsigned big-endian values; leading zero bytes and a set
// high bit are not rejected in either mode. If strict is false,
// repairDER first rewrites a sequence length byte that disagrees with
// the buffer length; no other encoding defect is repaired.
func ParseDERSignature(sig []byte, strict bool) (*Signature, error) {
	if !strict {
		sig = repairDER(sig)
	}
	if len(sig) < 8 {
		return nil, errors.New("ecc: DER signature too short")
	}
	if sig[0] != 0x30 {
		return nil, errors.New("ecc: DER signature missing sequence tag")
	}
	total := int(sig[1])
	if total+2 != len(sig) {
		return nil, errors.Errorf("ecc: DER sequence length %d does not match buffer of %d", total, len(sig)-2)
	}

	offset := 2
	r, n, err := parseDERInt(sig, offset)
	if err != nil {
		return nil, err
	}
	offset += n

	s, n, err := parseDERInt(sig, offset)
	if err != nil {
		return nil, err
	}
	offset += n

	if offset != len(sig) {
		return nil, errors.New("ecc: trailing bytes after DER signature")
	}

	return &Signature{R: r, S: s}, nil
}

func parseDERInt(buf []byte, offset int) (*big.Int, int, error) {
	if offset+2 > len(buf) || buf[offset] != 0x02 {
		return nil, 0, errors.New("ecc: DER integer missing tag")
	}
	length := int(buf[offset+1])
	start := offset + 2
	if start+length > len(buf) {
		return nil, 0, errors.New("ecc: DER integer length exceeds buffer")
	}
	v := new(big.Int).SetBytes(buf[start : start+length])
	return v, 2 + length, nil
}

// repairDER rewrites the sequence length byte to the true remaining
// length when the two disagree. Integer length bytes and zero padding
// on R or S are left as they are. Signatures shorter than 8 bytes or
// without the sequence tag are returned unchanged.
func repairDER(sig []byte) []byte {
	if len(sig) < 8 || sig[0] != 0x30 {
		return sig
	}
	fixed := make([]byte, len(sig))
	copy(fixed, sig)
	if int(fixed[1])+2 != len(fixed) {
		fixed[1] = byte(len(fixed) - 2)
	}
	return fixed
}

// SerializeDER encodes sig in strict DER form.
func (sig *Signature) SerializeDER() []byte {
	rBytes := canonicalDERInt(sig.R)
	sBytes := canonicalDERInt(sig.S)

	body := make([]byte, 0, len(rBytes)+len(sBytes)+4)
	body = append(body, 0x02, byte(len(rBytes)))
	body = append(body, rBytes...)
	body = append(body, 0x02, byte(len(sBytes)))
	body = append(body, sBytes...)

	out := make([]byte, 0, len(body)+2)
	out = append(out, 0x30, byte(len(body)))
	out = append(out, body...)
	return out
}

func canonicalDERInt(v *big.Int) []byte {
	b := v.Bytes()
	if len(b) == 0 {
		return []byte{0x00}
	}
	if b[0]&0x80 != 0 {
		out := make([]byte, len(b)+1)
		copy(out[1:], b)
		return out
	}
	return b
}
