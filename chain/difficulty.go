// Package chain implements the header/block chain state machine (spec
// §4.3, §6): header admission, accumulated-work best-chain selection,
// 2016-block retargeting, reorg, soft-fork activation tracking, and
// the per-block validation driver tying the UTXO store and script
// interpreter together.
//
// No generation of the teacher carries a single-best-chain equivalent
// of this package (the DAG model it implements instead selects by a
// "blue score" over a block-parent set, not a linear chain by
// accumulated work), so its structure is grounded piecewise: header
// admission and accumulated work on the shape described by spec §3's
// HeaderStat, retargeting on the standard compact-target encoding
// every Bitcoin-family node implements, and fork activation on the
// version-bits scan spec §4.3 describes directly.
package chain

import "math/big"

// CompactToBig expands a block's compact ("nBits") target encoding
// into a big.Int: the high byte is an exponent, the low three bytes
// are a mantissa, following the historical OpenSSL BN_mpi format
// every Bitcoin-family chain inherited for this field.
func CompactToBig(compact uint32) *big.Int {
	mantissa := compact & 0x007fffff
	exponent := uint(compact >> 24)

	var bn *big.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		bn = big.NewInt(int64(mantissa))
	} else {
		bn = big.NewInt(int64(mantissa))
		bn.Lsh(bn, 8*(exponent-3))
	}

	if compact&0x00800000 != 0 {
		bn.Neg(bn)
	}
	return bn
}

// BigToCompact reduces n to the compact target encoding, the inverse
// of CompactToBig.
func BigToCompact(n *big.Int) uint32 {
	if n.Sign() == 0 {
		return 0
	}

	var mantissa uint32
	exponent := uint(len(n.Bytes()))

	tmp := new(big.Int).Set(n)
	if exponent <= 3 {
		mantissa = uint32(tmp.Bits()[0])
		mantissa <<= 8 * (3 - exponent)
	} else {
		shifted := new(big.Int).Rsh(tmp, 8*(exponent-3))
		mantissa = uint32(shifted.Bits()[0])
	}

	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}

	compact := uint32(exponent)<<24 | mantissa
	if n.Sign() < 0 {
		compact |= 0x00800000
	}
	return compact
}

// oneLsh256 is 2^256, the numerator of the per-header work formula.
var oneLsh256 = new(big.Int).Lsh(big.NewInt(1), 256)

// CalcWork returns a single header's contribution to accumulated
// work: floor(2^256 / (target+1)), so a lower target (harder
// difficulty) contributes more work.
func CalcWork(bits uint32) *big.Int {
	target := CompactToBig(bits)
	if target.Sign() <= 0 {
		return big.NewInt(0)
	}
	denom := new(big.Int).Add(target, big.NewInt(1))
	return new(big.Int).Div(oneLsh256, denom)
}
