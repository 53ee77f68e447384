package mempool

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ncnode/ncnode/ncutil/hash"
	"github.com/ncnode/ncnode/txmodel"
	"github.com/ncnode/ncnode/txscript"
	"github.com/ncnode/ncnode/wire"
)

// TxPool is the node's source of truth for unconfirmed transactions:
// what a miner pulls from to build a candidate block, and what a peer
// consults before relaying an inv onward. Grounded on
// domain/mempool/mempool.go's TxPool, narrowed to this node's
// single-best-chain model (no UTXO-diff-per-tip bookkeeping).
//
// Three logical sets make up the pool (spec §5): ready transactions
// (DepCount == 0, every input resolvable against the confirmed chain
// right now), transactions still waiting on an unconfirmed parent
// (DepCount > 0, tracked via childrenOf so a parent's confirmation or
// removal can update every dependent at once), and orphans (a
// transaction whose parent is entirely unknown, neither confirmed nor
// in the pool).
type TxPool struct {
	mtx sync.RWMutex
	cfg Config

	pool        map[hash.Hash]*TxDesc
	poolOutputs map[wire.Outpoint]hash.Hash          // outpoint -> id of the pool tx that created it
	spentBy     map[wire.Outpoint]hash.Hash          // outpoint -> id of the pool tx currently spending it
	childrenOf  map[hash.Hash]map[hash.Hash]struct{} // parent id -> pool tx ids spending one of its outputs

	orphans        map[hash.Hash]*orphanTx
	orphansByPrev  map[wire.Outpoint]map[hash.Hash]struct{}
	nextOrphanScan time.Time

	invalidFIFO     *rejectFIFO
	lowFeeFIFO      *rejectFIFO
	nonStandardFIFO *rejectFIFO

	requested map[hash.Hash]map[string]int // tx id -> peer -> attempts
}

// New creates an empty pool using cfg. A zero Config.Policy is
// replaced with DefaultPolicy.
func New(cfg Config) *TxPool {
	if cfg.Policy == (Policy{}) {
		cfg.Policy = DefaultPolicy()
	}
	return &TxPool{
		cfg:             cfg,
		pool:            make(map[hash.Hash]*TxDesc),
		poolOutputs:     make(map[wire.Outpoint]hash.Hash),
		spentBy:         make(map[wire.Outpoint]hash.Hash),
		childrenOf:      make(map[hash.Hash]map[hash.Hash]struct{}),
		orphans:         make(map[hash.Hash]*orphanTx),
		orphansByPrev:   make(map[wire.Outpoint]map[hash.Hash]struct{}),
		invalidFIFO:     newRejectFIFO(cfg.Policy.RejectFIFOSize),
		lowFeeFIFO:      newRejectFIFO(cfg.Policy.RejectFIFOSize),
		nonStandardFIFO: newRejectFIFO(cfg.Policy.RejectFIFOSize),
		requested:       make(map[hash.Hash]map[string]int),
	}
}

// resolvedInput is what processLocked resolves each of a candidate's
// inputs to before admitting it.
type resolvedInput struct {
	value  int64
	script []byte
}

var errOrphan = errors.New("mempool: transaction is an orphan")

// IsOrphanError reports whether err is the sentinel processLocked
// returns when a transaction was filed as an orphan rather than
// rejected outright.
func IsOrphanError(err error) bool { return errors.Is(err, errOrphan) }

// Have reports whether id is already resident in the pool (ready,
// dependent, or orphaned).
func (p *TxPool) Have(id hash.Hash) bool {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	_, inPool := p.pool[id]
	_, isOrphan := p.orphans[id]
	return inPool || isOrphan
}

// Tx returns the raw transaction for id if it is resident in the pool
// (ready or dependent; not an orphan), for serving a peer's getdata.
func (p *TxPool) Tx(id hash.Hash) (*wire.MsgTx, bool) {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	desc, ok := p.pool[id]
	if !ok {
		return nil, false
	}
	return desc.Tx.MsgTx(), true
}

// WasRejected reports whether id was already turned away as invalid,
// underpriced, or non-standard, so a peer re-announcing it can be
// ignored without re-validating from scratch.
func (p *TxPool) WasRejected(id hash.Hash) bool {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return p.invalidFIFO.contains(id) || p.lowFeeFIFO.contains(id) || p.nonStandardFIFO.contains(id)
}

// ProcessTransaction validates tx and, if acceptable, admits it (and
// any orphan it happens to unblock, transitively) to the pool. A
// transaction with an unresolvable input is filed as an orphan rather
// than rejected; callers can distinguish that case with
// IsOrphanError.
func (p *TxPool) ProcessTransaction(tx *wire.MsgTx) ([]*txmodel.Tx, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	wrapped := txmodel.NewTx(tx)
	if err := p.processLocked(wrapped); err != nil {
		return nil, err
	}

	accepted := []*txmodel.Tx{wrapped}
	for i := 0; i < len(accepted); i++ {
		id := *accepted[i].ID()
		for outIdx := range accepted[i].MsgTx().TxOut {
			op := wire.Outpoint{TxID: id, Index: uint32(outIdx)}
			for _, orphan := range p.orphansSpending(op) {
				p.removeOrphanLocked(*orphan.ID(), false)
				if err := p.processLocked(orphan); err == nil {
					accepted = append(accepted, orphan)
				}
			}
		}
	}
	return accepted, nil
}

// processLocked validates and admits a single transaction.
func (p *TxPool) processLocked(tx *txmodel.Tx) error {
	id := *tx.ID()
	if _, ok := p.pool[id]; ok {
		return errors.New("mempool: transaction already in pool")
	}
	if p.invalidFIFO.contains(id) || p.nonStandardFIFO.contains(id) {
		return errors.New("mempool: transaction previously rejected")
	}
	msgTx := tx.MsgTx()
	if msgTx.IsCoinBase() {
		return errors.New("mempool: coinbase transactions are not relayed individually")
	}
	if msgTx.Version > p.cfg.Policy.MaxTxVersion && !p.cfg.Policy.AcceptNonStandard {
		p.nonStandardFIFO.add(id)
		return errors.Errorf("mempool: transaction version %d rejected as non-standard", msgTx.Version)
	}

	ins := make([]resolvedInput, len(msgTx.TxIn))
	parents := make(map[hash.Hash]struct{})
	var inSum int64
	for i, in := range msgTx.TxIn {
		if owner, conflict := p.spentBy[in.PreviousOutpoint]; conflict && owner != id {
			return errors.Errorf("mempool: input %d double-spends an outpoint already spent by %s", i, owner)
		}

		if ownerID, ok := p.poolOutputs[in.PreviousOutpoint]; ok {
			owner := p.pool[ownerID]
			out := owner.Tx.MsgTx().TxOut[in.PreviousOutpoint.Index]
			ins[i] = resolvedInput{value: out.Value, script: out.ScriptPubKey}
			parents[ownerID] = struct{}{}
			inSum += out.Value
			continue
		}

		entry, ok, err := p.cfg.UTXOSource.Get(in.PreviousOutpoint)
		if err != nil {
			return err
		}
		if !ok {
			p.addOrphanLocked(tx)
			return errOrphan
		}
		if entry.IsCoinBase && p.cfg.BestHeight()-entry.BlockHeight < p.cfg.CoinbaseMaturity {
			p.invalidFIFO.add(id)
			return errors.Errorf("mempool: input %d spends an immature coinbase", i)
		}
		ins[i] = resolvedInput{value: entry.Value, script: entry.PkScript}
		inSum += entry.Value
	}

	var outSum int64
	for _, out := range msgTx.TxOut {
		outSum += out.Value
	}
	if inSum < outSum {
		p.invalidFIFO.add(id)
		return errors.Errorf("mempool: transaction %s spends more than its inputs provide", id)
	}
	fee := inSum - outSum

	size := int64(msgTx.SerializeSize())
	if fee*1000 < p.cfg.Policy.MinRelayFeeRate*size {
		p.lowFeeFIFO.add(id)
		return errors.Errorf("mempool: transaction %s pays below the minimum relay fee", id)
	}

	if err := p.verifyScripts(msgTx, ins); err != nil {
		p.invalidFIFO.add(id)
		return err
	}

	desc := &TxDesc{
		Tx:       tx,
		Added:    time.Now(),
		Height:   p.cfg.BestHeight(),
		Fee:      fee,
		FeeRate:  float64(fee) / float64(size),
		DepCount: len(parents),
	}
	p.insertLocked(id, desc, parents)
	p.evictIfOverCapacityLocked()
	return nil
}

func (p *TxPool) insertLocked(id hash.Hash, desc *TxDesc, parents map[hash.Hash]struct{}) {
	p.pool[id] = desc
	for i, out := range desc.Tx.MsgTx().TxOut {
		p.poolOutputs[wire.Outpoint{TxID: id, Index: uint32(i)}] = id
	}
	for _, in := range desc.Tx.MsgTx().TxIn {
		p.spentBy[in.PreviousOutpoint] = id
	}
	for parentID := range parents {
		children, ok := p.childrenOf[parentID]
		if !ok {
			children = make(map[hash.Hash]struct{})
			p.childrenOf[parentID] = children
		}
		children[id] = struct{}{}
	}
}

// removeLocked drops id from the ready/dependent pool and its
// indexes, without touching anything that depended on it — callers
// decide separately whether dependents should be promoted (id
// confirmed) or removed in turn (id conflicted or expired).
func (p *TxPool) removeLocked(id hash.Hash) {
	desc, ok := p.pool[id]
	if !ok {
		return
	}
	for i := range desc.Tx.MsgTx().TxOut {
		delete(p.poolOutputs, wire.Outpoint{TxID: id, Index: uint32(i)})
	}
	for _, in := range desc.Tx.MsgTx().TxIn {
		if p.spentBy[in.PreviousOutpoint] == id {
			delete(p.spentBy, in.PreviousOutpoint)
		}
	}
	delete(p.pool, id)
	delete(p.childrenOf, id)
}

// removeWithDescendantsLocked removes id and, recursively, every pool
// transaction that depends on it — used when id itself is leaving the
// pool for a reason other than confirmation (a conflicting spend,
// expiry), so nothing is left referencing an input that no longer
// exists anywhere.
func (p *TxPool) removeWithDescendantsLocked(id hash.Hash) {
	for childID := range p.childrenOf[id] {
		p.removeWithDescendantsLocked(childID)
	}
	p.removeLocked(id)
}

// confirmLocked removes id because a block just confirmed it,
// decrementing the DepCount of anything still in the pool that was
// waiting on it.
func (p *TxPool) confirmLocked(id hash.Hash) {
	children := p.childrenOf[id]
	p.removeLocked(id)
	for childID := range children {
		if child, ok := p.pool[childID]; ok && child.DepCount > 0 {
			child.DepCount--
		}
	}
}

// evictIfOverCapacityLocked drops the lowest fee-rate transactions
// (and anything that depended on them) once the pool grows past its
// configured size, the bound spec §5 names to keep a flood of
// low-value relay from growing the pool without limit.
func (p *TxPool) evictIfOverCapacityLocked() {
	for len(p.pool) > p.cfg.Policy.MaxPoolSize {
		var worst hash.Hash
		var worstRate float64
		first := true
		for id, desc := range p.pool {
			if first || desc.FeeRate < worstRate {
				worst, worstRate, first = id, desc.FeeRate, false
			}
		}
		if first {
			return
		}
		p.removeWithDescendantsLocked(worst)
	}
}

// verifyScripts runs every input of tx through the script
// interpreter sequentially — a single relayed transaction does not
// carry enough work to justify a worker pool the way a whole block's
// transactions do in the chain package.
func (p *TxPool) verifyScripts(tx *wire.MsgTx, ins []resolvedInput) error {
	flags := txscript.StandardVerifyFlags
	fe := &fetcher{ins: ins}
	for i, in := range tx.TxIn {
		engine, err := txscript.NewEngine(in.SignatureScript, ins[i].script, tx, i, flags, fe, p.cfg.SigCache)
		if err != nil {
			return errors.Wrapf(err, "mempool: input %d", i)
		}
		if err := engine.Execute(); err != nil {
			return errors.Wrapf(err, "mempool: input %d script failed", i)
		}
	}
	return nil
}

type fetcher struct{ ins []resolvedInput }

func (f *fetcher) PrevOut(idx int) (int64, []byte) { return f.ins[idx].value, f.ins[idx].script }

// Pull reconciles the pool against a block that just connected: every
// included transaction is confirmed out of the pool (promoting its
// dependents), and any remaining pool transaction left double-spending
// one of the block's now-confirmed inputs is removed along with its
// own dependents. Orphans waiting on one of the block's transactions
// are retried (spec §5's pool/chain interaction).
func (p *TxPool) Pull(blockTxs []*wire.MsgTx) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	for _, tx := range blockTxs {
		if tx.IsCoinBase() {
			continue
		}
		id := tx.TxHash()

		for _, in := range tx.TxIn {
			if conflictID, ok := p.spentBy[in.PreviousOutpoint]; ok && conflictID != id {
				p.removeWithDescendantsLocked(conflictID)
			}
		}
		p.confirmLocked(id)

		for outIdx := range tx.TxOut {
			op := wire.Outpoint{TxID: id, Index: uint32(outIdx)}
			for _, orphan := range p.orphansSpending(op) {
				p.removeOrphanLocked(*orphan.ID(), false)
				p.processLocked(orphan)
			}
		}
	}
}

// Expire drops every pool transaction older than the configured
// expiry (and anything depending on it), a bound against a
// transaction that will plausibly never confirm — its fee was
// adequate when relayed but the pool's minimum has since risen —
// sitting in memory forever.
func (p *TxPool) Expire(now time.Time) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	for id, desc := range p.pool {
		if _, stillPresent := p.pool[id]; stillPresent && now.Sub(desc.Added) > p.cfg.Policy.TxExpiry {
			p.removeWithDescendantsLocked(id)
		}
	}
}

// Stats summarizes the pool's current population for reporting
// (the query channel's stat command).
type Stats struct {
	Ready   int
	Pending int
	Orphans int
}

// Stats returns a snapshot count of the pool's three logical sets.
func (p *TxPool) Stats() Stats {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	stats := Stats{Orphans: len(p.orphans)}
	for _, desc := range p.pool {
		if desc.DepCount == 0 {
			stats.Ready++
		} else {
			stats.Pending++
		}
	}
	return stats
}

// MiningCandidates returns every ready (DepCount == 0) pool
// transaction, the set a block template may draw from without further
// ordering constraints.
func (p *TxPool) MiningCandidates() []*TxDesc {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	out := make([]*TxDesc, 0, len(p.pool))
	for _, desc := range p.pool {
		if desc.DepCount == 0 {
			out = append(out, desc)
		}
	}
	return out
}

// ShouldRequest reports whether a getdata should be sent to peer for
// id, capping retries at the configured limit (spec §5's per-peer
// requested-set bound) and incrementing the attempt count as a side
// effect when it returns true.
func (p *TxPool) ShouldRequest(peer string, id hash.Hash) bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	attempts := p.requested[id]
	if attempts == nil {
		attempts = make(map[string]int)
		p.requested[id] = attempts
	}
	if attempts[peer] >= p.cfg.Policy.MaxRequestRetries {
		return false
	}
	attempts[peer]++
	return true
}

// ForgetRequest clears id's retry bookkeeping once it has been
// accepted, rejected for cause, or is simply no longer interesting.
func (p *TxPool) ForgetRequest(id hash.Hash) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	delete(p.requested, id)
}
