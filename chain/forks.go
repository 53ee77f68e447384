package chain

import (
	"github.com/ncnode/ncnode/chaincfg"
)

// Rule names Forks.Requires accepts, matching chaincfg's deployment
// bit positions.
const (
	RuleCheckLockTimeVerify = chaincfg.DeploymentCheckLockTimeVerify
	RuleCheckSequenceVerify = chaincfg.DeploymentCheckSequenceVerify
)

// Forks tracks soft-fork activation height per rule (spec §4.3): at
// each retarget boundary the trailing MinerConfirmationWindow headers'
// version bits are scanned, and once a rule's bit has been set in at
// least RuleChangeActivationThreshold of them, the rule activates at
// that boundary height and remains active for every subsequent block.
// The activation height is the sole input to Requires.
type Forks struct {
	params     *chaincfg.Params
	activation map[int]int32 // rule -> height at which it became mandatory, or unset if never activated
}

// NewForks seeds a tracker using heights fixed by chaincfg (CSVHeight/
// CLTVHeight) as a starting point, letting ScanBoundary refine or
// confirm them as headers are admitted.
func NewForks(params *chaincfg.Params) *Forks {
	f := &Forks{params: params, activation: make(map[int]int32)}
	f.activation[chaincfg.DeploymentCheckLockTimeVerify] = params.CLTVHeight
	f.activation[chaincfg.DeploymentCheckSequenceVerify] = params.CSVHeight
	return f
}

// Requires reports whether rule is mandatory for a block at height.
func (f *Forks) Requires(rule int, height int32) bool {
	activatedAt, ok := f.activation[rule]
	if !ok {
		return false
	}
	return height >= activatedAt
}

// ScanBoundary re-evaluates every deployment's activation state at a
// retarget boundary, counting set bits across the trailing
// MinerConfirmationWindow headers ending at tip.
func (f *Forks) ScanBoundary(idx *Index, tip *HeaderStat) {
	window := int32(f.params.MinerConfirmationWindow)
	if tip.Height+1 < window {
		return
	}
	if (tip.Height+1)%f.params.RetargetInterval != 0 {
		return
	}

	counts := make(map[int]uint32)
	cur := tip
	for i := int32(0); i < window && cur != nil; i++ {
		for rule, dep := range f.params.Deployments {
			if cur.Header.Version&(1<<dep.BitNumber) != 0 {
				counts[rule]++
			}
		}
		if cur.Height == 0 {
			break
		}
		cur = idx.mustParent(cur)
	}

	for rule, count := range counts {
		if count >= f.params.RuleChangeActivationThreshold {
			if existing, ok := f.activation[rule]; !ok || tip.Height+1 < existing {
				f.activation[rule] = tip.Height + 1
			}
		}
	}
}
