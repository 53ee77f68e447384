// Package mempool holds transactions that have been relayed but not
// yet mined: the source a miner pulls from to build a candidate
// block, and the set a peer consults before relaying an inv onward
// (spec §5). Grounded on domain/mempool/mempool.go's TxPool, carrying
// its pool/depends/dependsByPrev/orphan bookkeeping over to this
// node's single-best-chain model.
package mempool

import (
	"time"

	"github.com/ncnode/ncnode/txmodel"
	"github.com/ncnode/ncnode/txscript"
	"github.com/ncnode/ncnode/utxo"
	"github.com/ncnode/ncnode/wire"
)

// Policy houses the configuration parameters controlling what this
// pool will accept and for how long it will hold it.
type Policy struct {
	MaxTxVersion      int32
	AcceptNonStandard bool

	MaxOrphanTxs    int
	MaxOrphanTxSize int
	OrphanTTL       time.Duration

	MaxPoolSize       int   // transactions; above this, lowest fee rate is evicted
	MinRelayFeeRate   int64 // satoshis per 1000 bytes
	TxExpiry          time.Duration
	RejectFIFOSize    int
	MaxRequestRetries int
}

// DefaultPolicy mirrors the teacher's defaults (15-minute orphan TTL)
// scaled to this node's simpler pool shape, holding at most 100
// orphans.
func DefaultPolicy() Policy {
	return Policy{
		MaxTxVersion:      2,
		AcceptNonStandard: false,
		MaxOrphanTxs:      100,
		MaxOrphanTxSize:   100_000,
		OrphanTTL:         15 * time.Minute,
		MaxPoolSize:       50_000,
		MinRelayFeeRate:   1000,
		TxExpiry:          24 * time.Hour,
		RejectFIFOSize:    1024,
		MaxRequestRetries: 3,
	}
}

// UTXOSource resolves a transaction's inputs against the confirmed
// chain state; the pool layers its own unconfirmed outputs on top of
// whatever this returns.
type UTXOSource interface {
	Get(op wire.Outpoint) (*utxo.Entry, bool, error)
}

// Config bundles everything the pool needs from the rest of the node:
// confirmed UTXO lookups, script verification, and the current chain
// height (for coinbase maturity, and recorded as each TxDesc's Height;
// expiry itself is measured from TxDesc.Added).
type Config struct {
	Policy           Policy
	UTXOSource       UTXOSource
	SigCache         txscript.SigCache
	BestHeight       func() int32
	CoinbaseMaturity int32
}

// TxDesc describes one transaction resident in the pool, ready or
// dependent.
type TxDesc struct {
	Tx       *txmodel.Tx
	Added    time.Time
	Height   int32 // chain height at acceptance
	Fee      int64
	FeeRate  float64 // satoshis per byte
	DepCount int     // number of unconfirmed parents still in the pool
}
