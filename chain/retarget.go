package chain

import (
	"math/big"

	"github.com/ncnode/ncnode/chaincfg"
)

// NextRequiredDifficulty returns the target bits for the block
// immediately following tip. Off the retarget boundary it simply
// repeats the tip's bits; at a boundary it retargets against the
// actual elapsed time over the preceding interval.
//
// This preserves the historical off-by-one verbatim, per spec's
// explicit instruction not to "fix" it: the timespan is measured
// between the header at (tip.Height - RetargetInterval + 1) and tip,
// which spans RetargetInterval-1 intervals rather than
// RetargetInterval, because the retarget window's start block is
// itself included as one of the samples instead of being the block
// immediately before it.
func NextRequiredDifficulty(idx *Index, params *chaincfg.Params, tip *HeaderStat) uint32 {
	nextHeight := tip.Height + 1
	if nextHeight%params.RetargetInterval != 0 {
		return tip.Header.Bits
	}

	firstHeight := tip.Height - (params.RetargetInterval - 1)
	if firstHeight < 0 {
		firstHeight = 0
	}
	first := idx.AncestorAt(tip, firstHeight)
	if first == nil {
		return tip.Header.Bits
	}

	targetTimespan := int64(params.TargetTimespan / 1e9)
	actualTimespan := int64(tip.Header.Timestamp) - int64(first.Header.Timestamp)

	minTimespan := targetTimespan / params.RetargetAdjustFactor
	maxTimespan := targetTimespan * params.RetargetAdjustFactor
	if actualTimespan < minTimespan {
		actualTimespan = minTimespan
	}
	if actualTimespan > maxTimespan {
		actualTimespan = maxTimespan
	}

	newTarget := CompactToBig(tip.Header.Bits)
	newTarget.Mul(newTarget, big.NewInt(actualTimespan))
	newTarget.Div(newTarget, big.NewInt(targetTimespan))

	if newTarget.Cmp(params.PowLimit) > 0 {
		newTarget = params.PowLimit
	}
	return BigToCompact(newTarget)
}
