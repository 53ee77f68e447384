package mempool

import (
	"time"

	"github.com/ncnode/ncnode/ncutil/hash"
	"github.com/ncnode/ncnode/txmodel"
	"github.com/ncnode/ncnode/wire"
)

// orphanExpireScanInterval bounds how often addOrphanLocked will walk
// the whole orphan set looking for expired entries; doing it on every
// insert would turn a burst of orphans into quadratic work.
const orphanExpireScanInterval = 5 * time.Minute

// orphanTx is a transaction that references an input the pool doesn't
// yet have, held in case the missing parent arrives shortly (spec
// §5's pending set).
type orphanTx struct {
	tx         *txmodel.Tx
	expiration time.Time
}

// removeOrphanLocked drops id from the orphan pool and its
// by-previous-outpoint index. If removeRedeemers is set, any orphan
// that spends one of id's outputs is removed too — used when id's
// parent is now known to be permanently missing rather than merely
// not-yet-arrived.
func (p *TxPool) removeOrphanLocked(id hash.Hash, removeRedeemers bool) {
	otx, ok := p.orphans[id]
	if !ok {
		return
	}
	for _, in := range otx.tx.MsgTx().TxIn {
		siblings, ok := p.orphansByPrev[in.PreviousOutpoint]
		if !ok {
			continue
		}
		delete(siblings, id)
		if len(siblings) == 0 {
			delete(p.orphansByPrev, in.PreviousOutpoint)
		}
	}

	if removeRedeemers {
		prevOut := wire.Outpoint{TxID: id}
		for outIdx := range otx.tx.MsgTx().TxOut {
			prevOut.Index = uint32(outIdx)
			for redeemerID := range p.orphansByPrev[prevOut] {
				p.removeOrphanLocked(redeemerID, true)
			}
		}
	}

	delete(p.orphans, id)
}

// limitOrphansLocked expires stale orphans (periodically, not on
// every call) and, if the pool would still be over capacity, evicts
// one arbitrary orphan — the iteration order of a Go map range over
// p.orphans is effectively random and not worth replacing with an
// explicit RNG for an eviction this low-stakes.
func (p *TxPool) limitOrphansLocked(now time.Time) {
	if now.After(p.nextOrphanScan) {
		for id, otx := range p.orphans {
			if now.After(otx.expiration) {
				p.removeOrphanLocked(id, true)
			}
		}
		p.nextOrphanScan = now.Add(orphanExpireScanInterval)
	}

	if len(p.orphans)+1 <= p.cfg.Policy.MaxOrphanTxs {
		return
	}
	for id := range p.orphans {
		p.removeOrphanLocked(id, false)
		break
	}
}

// addOrphanLocked inserts tx into the orphan pool, indexed by every
// input it is still waiting on.
func (p *TxPool) addOrphanLocked(tx *txmodel.Tx) {
	if p.cfg.Policy.MaxOrphanTxs <= 0 {
		return
	}
	p.limitOrphansLocked(time.Now())

	id := *tx.ID()
	p.orphans[id] = &orphanTx{tx: tx, expiration: time.Now().Add(p.cfg.Policy.OrphanTTL)}
	for _, in := range tx.MsgTx().TxIn {
		siblings, ok := p.orphansByPrev[in.PreviousOutpoint]
		if !ok {
			siblings = make(map[hash.Hash]struct{})
			p.orphansByPrev[in.PreviousOutpoint] = siblings
		}
		siblings[id] = struct{}{}
	}
}

// orphansSpending returns every orphan currently waiting on op, the
// set to re-try once op's transaction lands in the ready pool.
func (p *TxPool) orphansSpending(op wire.Outpoint) []*txmodel.Tx {
	siblings, ok := p.orphansByPrev[op]
	if !ok {
		return nil
	}
	out := make([]*txmodel.Tx, 0, len(siblings))
	for id := range siblings {
		out = append(out, p.orphans[id].tx)
	}
	return out
}
