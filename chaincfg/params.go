// Package chaincfg defines the consensus parameters distinguishing
// mainnet, testnet, and regtest: proof-of-work limits, the subsidy
// schedule, retargeting constants, checkpoints, and soft-fork
// deployments (spec §4.3, §6). Grounded on the shape of
// dagconfig/params.go, with the DAG-specific phantomK/
// difficultyAdjustmentWindowSize fields generalized away to the
// single-best-chain model this node implements.
package chaincfg

import (
	"math/big"
	"time"

	"github.com/ncnode/ncnode/ncutil/hash"
)

var bigOne = big.NewInt(1)

// Checkpoint pins a known-good block at a given height, letting
// initial header sync reject conflicting chains outright rather than
// by accumulated work alone.
type Checkpoint struct {
	Height int32
	Hash   hash.Hash
}

// ConsensusDeployment describes a version-bits soft-fork vote (BIP
// 0009): the bit position, and the time window voting is open.
type ConsensusDeployment struct {
	BitNumber  uint8
	StartTime  uint64
	ExpireTime uint64
}

// Deployment bit positions recognized by this node.
const (
	DeploymentCheckLockTimeVerify = iota
	DeploymentCheckSequenceVerify
)

// Params collects every network-specific consensus constant.
type Params struct {
	Name        string
	Net         uint32 // matches wire.Network
	DefaultPort string

	PowLimit             *big.Int
	PowLimitBits         uint32
	RetargetInterval     int32
	TargetTimespan       time.Duration
	TargetTimePerBlock   time.Duration
	RetargetAdjustFactor int64

	SubsidyHalvingInterval int32
	CoinbaseMaturity       int32

	RuleChangeActivationThreshold uint32
	MinerConfirmationWindow       uint32
	Deployments                   map[int]ConsensusDeployment

	Checkpoints []Checkpoint

	CSVHeight  int32
	CLTVHeight int32
}

// BlocksPerRetarget returns the number of blocks between difficulty
// adjustments.
func (p *Params) BlocksPerRetarget() int32 { return p.RetargetInterval }

// MainNetParams are the production network parameters.
var MainNetParams = Params{
	Name:        "mainnet",
	Net:         0xe8f3e1e3,
	DefaultPort: "8333",

	PowLimit:             new(big.Int).Sub(new(big.Int).Lsh(bigOne, 224), bigOne),
	PowLimitBits:         0x1d00ffff,
	RetargetInterval:     2016,
	TargetTimespan:       time.Hour * 24 * 14,
	TargetTimePerBlock:   time.Minute * 10,
	RetargetAdjustFactor: 4,

	SubsidyHalvingInterval: 210000,
	CoinbaseMaturity:       100,

	RuleChangeActivationThreshold: 1916, // 95% of MinerConfirmationWindow
	MinerConfirmationWindow:       2016,
	Deployments: map[int]ConsensusDeployment{
		DeploymentCheckLockTimeVerify: {BitNumber: 0, StartTime: 1462060800, ExpireTime: 1493596800},
		DeploymentCheckSequenceVerify: {BitNumber: 0, StartTime: 1462060800, ExpireTime: 1493596800},
	},

	CSVHeight:  419328,
	CLTVHeight: 388381,
}

// TestNetParams are the public test network parameters.
var TestNetParams = Params{
	Name:        "testnet",
	Net:         0xf4f3e5f4,
	DefaultPort: "18333",

	PowLimit:             new(big.Int).Sub(new(big.Int).Lsh(bigOne, 224), bigOne),
	PowLimitBits:         0x1d00ffff,
	RetargetInterval:     2016,
	TargetTimespan:       time.Hour * 24 * 14,
	TargetTimePerBlock:   time.Minute * 10,
	RetargetAdjustFactor: 4,

	SubsidyHalvingInterval: 210000,
	CoinbaseMaturity:       100,

	RuleChangeActivationThreshold: 1512,
	MinerConfirmationWindow:       2016,
	Deployments: map[int]ConsensusDeployment{
		DeploymentCheckLockTimeVerify: {BitNumber: 0, StartTime: 0, ExpireTime: 999999999999},
		DeploymentCheckSequenceVerify: {BitNumber: 0, StartTime: 0, ExpireTime: 999999999999},
	},

	CSVHeight:  770112,
	CLTVHeight: 581885,
}

// RegressionNetParams are the local regression-test network
// parameters: trivial proof of work, no checkpoints, deployments
// always active.
var RegressionNetParams = Params{
	Name:        "regtest",
	Net:         0xfabfb5da,
	DefaultPort: "18444",

	PowLimit:             new(big.Int).Sub(new(big.Int).Lsh(bigOne, 255), bigOne),
	PowLimitBits:         0x207fffff,
	RetargetInterval:     2016,
	TargetTimespan:       time.Hour * 24 * 14,
	TargetTimePerBlock:   time.Minute * 10,
	RetargetAdjustFactor: 4,

	SubsidyHalvingInterval: 150,
	CoinbaseMaturity:       100,

	RuleChangeActivationThreshold: 108,
	MinerConfirmationWindow:       144,
	Deployments: map[int]ConsensusDeployment{
		DeploymentCheckLockTimeVerify: {BitNumber: 0, StartTime: 0, ExpireTime: 999999999999},
		DeploymentCheckSequenceVerify: {BitNumber: 0, StartTime: 0, ExpireTime: 999999999999},
	},
}

// CalcBlockSubsidy returns the block reward in satoshis at height,
// halving every SubsidyHalvingInterval blocks down to zero.
func (p *Params) CalcBlockSubsidy(height int32) int64 {
	halvings := height / p.SubsidyHalvingInterval
	if halvings >= 64 {
		return 0
	}
	return (50 * 1e8) >> uint(halvings)
}
