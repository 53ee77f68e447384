package chain

import (
	"context"
	"math/big"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/ncnode/ncnode/blockstore"
	"github.com/ncnode/ncnode/chaincfg"
	"github.com/ncnode/ncnode/ncutil/hash"
	"github.com/ncnode/ncnode/ncutil/merkle"
	"github.com/ncnode/ncnode/txmodel"
	"github.com/ncnode/ncnode/txscript"
	"github.com/ncnode/ncnode/utxo"
	"github.com/ncnode/ncnode/wire"
)

// Mempool is the subset of *mempool.TxPool's surface the chain needs
// to keep mempool contents consistent with the active chain (spec §3:
// "mempool never contains a transaction already committed in the
// active chain"): Pull drops newly confirmed transactions out of the
// pool when a block connects (spec §4.7), and ProcessTransaction
// re-offers a disconnected block's transactions for revalidation when
// a reorg reverts it (spec §4.5 step iv). Declared here, rather than
// taking *mempool.TxPool directly, so this package doesn't import
// mempool just to name its type.
type Mempool interface {
	Pull(blockTxs []*wire.MsgTx)
	ProcessTransaction(tx *wire.MsgTx) ([]*txmodel.Tx, error)
}

var errOrphanHeader = errors.New("chain: header's parent is unknown")

// IsOrphanHeaderError reports whether err is the sentinel AcceptHeader
// returns when a header's parent hasn't been admitted yet — ordinary
// during initial sync, and not itself evidence of misbehavior the way
// a header with a bad proof-of-work or retarget value is.
func IsOrphanHeaderError(err error) bool { return errors.Is(err, errOrphanHeader) }

// Chain ties the header index, the durable block store, and the UTXO
// set together into the single accept/reorg surface the rest of the
// node drives (spec §4.3's invariant that the active chain is always
// the path of maximum accumulated work rooted at genesis).
type Chain struct {
	params *chaincfg.Params
	index  *Index
	forks  *Forks

	blocks *blockstore.Store
	utxo   *utxo.Set
	pool   Mempool

	sigCache txscript.SigCache

	mu        sync.Mutex
	connected *HeaderStat // tip of the branch actually reflected in blocks/utxo
	pending   map[hash.Hash]*wire.MsgBlock
}

// New opens a Chain rooted at genesis, using blocks/utxo as the
// backing stores. If the block store is empty, a genesis block made of
// the header alone, with no transactions, is recorded at height 0 so
// that every later height lines up
// with the store's append order one-for-one. pool may be nil, in
// which case connecting and reverting blocks never touches the
// mempool (tests that don't care about that interaction).
func New(params *chaincfg.Params, genesis *wire.BlockHeader, blocks *blockstore.Store, utxoSet *utxo.Set, sigCache txscript.SigCache, pool Mempool) (*Chain, error) {
	idx := NewIndex(genesis)
	if _, err := blocks.ReadHeader(0); err != nil {
		if err := blocks.Append(0, &wire.MsgBlock{Header: *genesis}); err != nil {
			return nil, errors.Wrap(err, "chain: failed to seed genesis block")
		}
	}
	return &Chain{
		params:    params,
		index:     idx,
		forks:     NewForks(params),
		blocks:    blocks,
		utxo:      utxoSet,
		pool:      pool,
		sigCache:  sigCache,
		connected: idx.Tip(),
		pending:   make(map[hash.Hash]*wire.MsgBlock),
	}, nil
}

// Tip returns the current best header, which may be ahead of the
// branch actually reflected in blocks/utxo if bodies are still in
// flight; see ConnectedTip.
func (c *Chain) Tip() *HeaderStat { return c.index.Tip() }

// HaveHeader reports whether h has already been admitted to the
// header index, the test a peer's inv classification relies on to
// decide whether an announced block is worth a headers request.
func (c *Chain) HaveHeader(h hash.Hash) bool {
	_, ok := c.index.Lookup(h)
	return ok
}

// Header returns the HeaderStat admitted for h, if any.
func (c *Chain) Header(h hash.Hash) (*HeaderStat, bool) {
	return c.index.Lookup(h)
}

// HeaderAtHeight returns the header index's tip's ancestor at height,
// for scheduling block-body requests during initial sync.
func (c *Chain) HeaderAtHeight(height int32) (*wire.BlockHeader, bool) {
	stat := c.index.AncestorAt(c.index.Tip(), height)
	if stat == nil {
		return nil, false
	}
	return stat.Header, true
}

// ConnectedTip returns the tip of the branch actually reflected in the
// block store and UTXO set.
func (c *Chain) ConnectedTip() *HeaderStat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Locator builds a block-locator (spec §4.8's getheaders/getblocks
// convention) from the connected tip: consecutive heights near the
// tip, then exponentially sparser hashes back to genesis, letting a
// peer find the most recent common point in a single round trip.
func (c *Chain) Locator() []hash.Hash {
	tip := c.ConnectedTip()
	hashes := make([]hash.Hash, 0, 32)
	step := int32(1)
	for cur := tip; ; {
		hashes = append(hashes, cur.Hash)
		if cur.Height == 0 {
			break
		}
		target := cur.Height - step
		if target < 0 {
			target = 0
		}
		next := c.index.AncestorAt(tip, target)
		if next == nil {
			break
		}
		cur = next
		if len(hashes) >= 10 {
			step *= 2
		}
	}
	return hashes
}

// HeadersAfter returns up to max headers extending the header index's
// tip from the first locator hash it recognizes (genesis if none
// match), stopping once stop is reached.
func (c *Chain) HeadersAfter(locator []hash.Hash, stop hash.Hash, max int) []*wire.BlockHeader {
	tip := c.index.Tip()
	matchHeight := int32(0)
	for _, h := range locator {
		if stat, ok := c.index.Lookup(h); ok {
			matchHeight = stat.Height
			break
		}
	}
	stats := c.index.Range(tip, matchHeight)
	if len(stats) > max {
		stats = stats[:max]
	}
	headers := make([]*wire.BlockHeader, 0, len(stats))
	for _, s := range stats {
		headers = append(headers, s.Header)
		if s.Hash == stop {
			break
		}
	}
	return headers
}

// Block reads the connected block body at height from the durable
// block store, for serving a peer's getdata.
func (c *Chain) Block(height int32) (*wire.MsgBlock, error) {
	return c.blocks.ReadBlock(uint64(height))
}

// BlockByHash resolves h to a height in the connected branch and reads
// its body, or reports an error if h is unknown or not yet connected.
func (c *Chain) BlockByHash(h hash.Hash) (*wire.MsgBlock, error) {
	stat, ok := c.index.Lookup(h)
	if !ok {
		return nil, errors.Errorf("chain: unknown block %s", h)
	}
	block, err := c.Block(stat.Height)
	if err != nil {
		return nil, err
	}
	if block.BlockHash() != h {
		return nil, errors.Errorf("chain: block %s is not on the connected branch", h)
	}
	return block, nil
}

// AcceptHeader validates and admits a single header: proof of work
// against the target its height requires, then insertion into the
// index. It does not touch the UTXO set or block store — those only
// change when the corresponding block body is accepted.
func (c *Chain) AcceptHeader(header *wire.BlockHeader) (*HeaderStat, error) {
	parent, ok := c.index.Lookup(header.PrevBlock)
	if !ok {
		return nil, errOrphanHeader
	}

	wantBits := NextRequiredDifficulty(c.index, c.params, parent)
	if !sameDifficultyClass(header.Bits, wantBits) {
		return nil, errors.Errorf("chain: header at height %d has bits %08x, want %08x", parent.Height+1, header.Bits, wantBits)
	}

	h := header.BlockHash()
	if target := CompactToBig(header.Bits); hashToBig(&h).Cmp(target) > 0 {
		return nil, errors.Errorf("chain: header hash %s exceeds its target", h.String())
	}
	if target := CompactToBig(wantBits); hashToBig(&h).Cmp(target) > 0 {
		return nil, errors.Errorf("chain: header hash %s exceeds the required target", h.String())
	}

	stat, err := c.index.Add(header)
	if err != nil {
		return nil, err
	}
	c.forks.ScanBoundary(c.index, stat)
	return stat, nil
}

// sameDifficultyClass allows headers within a factor of 4 of the
// locally computed requirement, the tolerance spec's misbehavior
// example (§6, edge case 6) names explicitly; anything looser is
// scored against the sending peer rather than treated as valid.
func sameDifficultyClass(got, want uint32) bool {
	gotTarget := CompactToBig(got)
	wantTarget := CompactToBig(want)
	if gotTarget.Sign() <= 0 || wantTarget.Sign() <= 0 {
		return got == want
	}
	lo := new(big.Int).Div(wantTarget, big.NewInt(4))
	hi := new(big.Int).Mul(wantTarget, big.NewInt(4))
	return gotTarget.Cmp(lo) >= 0 && gotTarget.Cmp(hi) <= 0
}

// SubmitBlock records block's body (spec §3: "a block body ... lives
// in memory until committed") and connects as much of the
// greatest-accumulated-work branch as the currently held bodies allow.
// A block whose header is not yet the tip of the best-known branch,
// or whose ancestors' bodies have not all arrived yet, is simply held
// in pending until a later call can make further progress.
func (c *Chain) SubmitBlock(ctx context.Context, block *wire.MsgBlock) error {
	h := block.BlockHash()
	stat, ok := c.index.Lookup(h)
	if !ok {
		return errors.New("chain: block's header was never admitted")
	}
	if len(block.Transactions) == 0 || !block.Transactions[0].IsCoinBase() {
		return errors.New("chain: block's first transaction is not coinbase")
	}
	if got, want := merkle.Root(block.TxHashes()), stat.Header.MerkleRoot; got != want {
		return errors.Errorf("chain: merkle root mismatch at height %d", stat.Height)
	}

	c.mu.Lock()
	c.pending[h] = block
	c.mu.Unlock()

	return c.tryAdvance(ctx)
}

// tryAdvance connects bodies along the path from the connected tip
// toward the best-known header tip for as far as pending bodies allow,
// reverting first if that path requires a reorg.
func (c *Chain) tryAdvance(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		target := c.index.Tip()
		if target.Hash == c.connected.Hash || target.Work.Cmp(c.connected.Work) <= 0 {
			return nil
		}

		forkPoint := c.index.ForkPoint(c.connected, target)
		if forkPoint.Hash != c.connected.Hash {
			if err := c.revertTo(forkPoint); err != nil {
				return err
			}
			c.connected = forkPoint
		}

		next := c.index.AncestorAt(target, c.connected.Height+1)
		if next == nil {
			return nil
		}
		block, ok := c.pending[next.Hash]
		if !ok {
			return nil // body for the next block in the branch hasn't arrived yet
		}

		if err := c.connectBlock(ctx, next, block); err != nil {
			return err
		}
		delete(c.pending, next.Hash)
		c.connected = next
	}
}

// connectBlock validates every transaction (in parallel) and applies
// the block's effects to the UTXO set and block store. Spec §4.6 step
// 3 requires every output the block creates to be inserted before any
// input is resolved, so a later transaction in the block may spend an
// earlier one's output; inputs are only actually marked spent (step 4)
// once every transaction has been validated against that fully
// populated view.
func (c *Chain) connectBlock(ctx context.Context, stat *HeaderStat, block *wire.MsgBlock) error {
	for i, tx := range block.Transactions {
		txHash := tx.TxHash()
		for outIdx, out := range tx.TxOut {
			op := wire.Outpoint{TxID: txHash, Index: uint32(outIdx)}
			entry := &utxo.Entry{
				Value:       out.Value,
				PkScript:    out.ScriptPubKey,
				BlockHeight: stat.Height,
				IsCoinBase:  i == 0,
			}
			if err := c.utxo.Add(stat.Height, op, entry); err != nil {
				return err
			}
		}
	}

	var totalFees int64
	resolved := make([][]resolvedInput, len(block.Transactions))

	for i, tx := range block.Transactions {
		if i == 0 {
			continue
		}
		ins := make([]resolvedInput, len(tx.TxIn))
		var inSum int64
		for j, in := range tx.TxIn {
			entry, ok, err := c.utxo.Get(in.PreviousOutpoint)
			if err != nil {
				return err
			}
			if !ok {
				return errors.Errorf("chain: tx %s input %d spends unknown or already-spent outpoint", tx.TxHash(), j)
			}
			if entry.IsCoinBase && stat.Height-entry.BlockHeight < c.params.CoinbaseMaturity {
				return errors.Errorf("chain: tx %s spends immature coinbase output", tx.TxHash())
			}
			ins[j] = resolvedInput{value: entry.Value, script: entry.PkScript}
			inSum += entry.Value
		}
		var outSum int64
		for _, out := range tx.TxOut {
			outSum += out.Value
		}
		if inSum < outSum {
			return errors.Errorf("chain: tx %s outputs exceed inputs", tx.TxHash())
		}
		totalFees += inSum - outSum
		resolved[i] = ins
	}

	var coinbaseOut int64
	for _, out := range block.Transactions[0].TxOut {
		coinbaseOut += out.Value
	}
	if subsidy := c.params.CalcBlockSubsidy(stat.Height); coinbaseOut > subsidy+totalFees {
		return errors.Errorf("chain: coinbase pays %d, exceeds subsidy+fees %d", coinbaseOut, subsidy+totalFees)
	}

	if err := c.verifyScripts(ctx, block, resolved); err != nil {
		return err
	}

	for i, tx := range block.Transactions {
		if i == 0 {
			continue
		}
		for _, in := range tx.TxIn {
			if _, err := c.utxo.Spend(stat.Height, in.PreviousOutpoint); err != nil {
				return err
			}
		}
	}

	if err := c.blocks.Append(uint64(stat.Height), block); err != nil {
		return err
	}
	if err := c.utxo.Commit(stat.Height); err != nil {
		return err
	}
	if c.pool != nil {
		c.pool.Pull(block.Transactions)
	}
	return nil
}

type resolvedInput struct {
	value  int64
	script []byte
}

type fetcher struct{ ins []resolvedInput }

func (f *fetcher) PrevOut(idx int) (int64, []byte) { return f.ins[idx].value, f.ins[idx].script }

// verifyScripts runs every non-coinbase transaction's inputs through
// the script interpreter concurrently, one worker per CPU, stopping at
// the first failure (spec §4.1's failure semantics: a failing script
// marks the transaction invalid, which for a block under validation
// means the whole block is rejected).
func (c *Chain) verifyScripts(ctx context.Context, block *wire.MsgBlock, resolved [][]resolvedInput) error {
	flags := c.standardFlags(block)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for i, tx := range block.Transactions {
		if i == 0 {
			continue
		}
		tx := tx
		ins := resolved[i]
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
			}
			fe := &fetcher{ins: ins}
			for j, in := range tx.TxIn {
				engine, err := txscript.NewEngine(in.SignatureScript, ins[j].script, tx, j, flags, fe, c.sigCache)
				if err != nil {
					return errors.Wrapf(err, "tx %s input %d", tx.TxHash(), j)
				}
				if err := engine.Execute(); err != nil {
					return errors.Wrapf(err, "tx %s input %d script failed", tx.TxHash(), j)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// standardFlags selects the active rule set for a block at stat's
// height from the fork tracker (spec §4.1's "active fork set").
func (c *Chain) standardFlags(block *wire.MsgBlock) txscript.ScriptFlags {
	stat, _ := c.index.Lookup(block.BlockHash())
	flags := txscript.StandardVerifyFlags
	if stat != nil {
		if c.forks.Requires(RuleCheckLockTimeVerify, stat.Height) {
			flags |= txscript.ScriptVerifyCheckLockTimeVerify
		}
		if c.forks.Requires(RuleCheckSequenceVerify, stat.Height) {
			flags |= txscript.ScriptVerifyCheckSequenceVerify
		}
	}
	return flags
}

// revertTo undoes blocks down to and including forkPoint+1, restoring
// the UTXO set and block store to their state at forkPoint (spec
// §4.2/§4.3's revert operations), in preparation for replaying the
// new best branch. The disconnected blocks' non-coinbase transactions
// are handed back to the mempool for revalidation (spec §4.5 step iv):
// whichever of them are still valid against the reverted UTXO set
// reappear as unconfirmed, the rest are silently dropped.
func (c *Chain) revertTo(forkPoint *HeaderStat) error {
	var disconnected []*wire.MsgTx
	for height := uint64(forkPoint.Height) + 1; height <= uint64(c.connected.Height); height++ {
		block, err := c.blocks.ReadBlock(height)
		if err != nil {
			return err
		}
		disconnected = append(disconnected, block.Transactions[1:]...)
	}

	if err := c.utxo.Revert(forkPoint.Height + 1); err != nil {
		return err
	}
	if err := c.blocks.RevertAbove(uint64(forkPoint.Height) + 1); err != nil {
		return err
	}

	if c.pool != nil {
		for _, tx := range disconnected {
			c.pool.ProcessTransaction(tx)
		}
	}
	return nil
}

// hashToBig interprets a hash's wire-order (little-endian) bytes as a
// big-endian magnitude, the convention used everywhere a hash is
// compared against a difficulty target.
func hashToBig(h *hash.Hash) *big.Int {
	buf := make([]byte, hash.Size)
	for i := 0; i < hash.Size; i++ {
		buf[i] = h[hash.Size-1-i]
	}
	return new(big.Int).SetBytes(buf)
}
