package chain

import (
	"math/big"

	"github.com/ncnode/ncnode/ncutil/hash"
	"github.com/ncnode/ncnode/wire"
)

// HeaderStat is the information derived for every admitted header
// (spec §3): its fields, its height, and the work accumulated along
// its chain back to genesis. The chain tip is whichever HeaderStat has
// the greatest Work.
type HeaderStat struct {
	Header *wire.BlockHeader
	Hash   hash.Hash
	Height int32
	Work   *big.Int // cumulative, including this header
}

// Index is the in-memory header tree: every admitted header, keyed by
// hash, with parent/child navigation. Orphan headers (unknown parent)
// are never inserted (spec §3's header lifecycle).
type Index struct {
	byHash map[hash.Hash]*HeaderStat
	tip    *HeaderStat
}

// NewIndex creates an Index seeded with the genesis header at height 0.
func NewIndex(genesis *wire.BlockHeader) *Index {
	h := genesis.BlockHash()
	stat := &HeaderStat{
		Header: genesis,
		Hash:   h,
		Height: 0,
		Work:   CalcWork(genesis.Bits),
	}
	return &Index{
		byHash: map[hash.Hash]*HeaderStat{h: stat},
		tip:    stat,
	}
}

// Lookup returns the HeaderStat for hash h, if known.
func (idx *Index) Lookup(h hash.Hash) (*HeaderStat, bool) {
	s, ok := idx.byHash[h]
	return s, ok
}

// Tip returns the header with the greatest accumulated work.
func (idx *Index) Tip() *HeaderStat { return idx.tip }

// Add admits header into the index. The caller must have already
// checked the header's proof of work and that the parent is known;
// Add itself only computes height/work and updates the tip.
func (idx *Index) Add(header *wire.BlockHeader) (*HeaderStat, error) {
	parent, ok := idx.byHash[header.PrevBlock]
	if !ok {
		return nil, errOrphanHeader
	}
	h := header.BlockHash()
	if existing, ok := idx.byHash[h]; ok {
		return existing, nil
	}

	stat := &HeaderStat{
		Header: header,
		Hash:   h,
		Height: parent.Height + 1,
		Work:   new(big.Int).Add(parent.Work, CalcWork(header.Bits)),
	}
	idx.byHash[h] = stat

	if stat.Work.Cmp(idx.tip.Work) > 0 {
		idx.tip = stat
	}
	return stat, nil
}

// AncestorAt walks back from from to the header at the given height,
// used both by retargeting (height-2016 and height-1 lookups) and by
// reorg (finding the fork point between two branches).
func (idx *Index) AncestorAt(from *HeaderStat, height int32) *HeaderStat {
	cur := from
	for cur != nil && cur.Height > height {
		parent, ok := idx.byHash[cur.Header.PrevBlock]
		if !ok {
			return nil
		}
		cur = parent
	}
	if cur != nil && cur.Height == height {
		return cur
	}
	return nil
}

// ForkPoint returns the most recent common ancestor of a and b, the
// height a reorg must revert the active chain down to before
// replaying the new branch.
func (idx *Index) ForkPoint(a, b *HeaderStat) *HeaderStat {
	for a.Height > b.Height {
		a = idx.mustParent(a)
	}
	for b.Height > a.Height {
		b = idx.mustParent(b)
	}
	for a.Hash != b.Hash {
		a = idx.mustParent(a)
		b = idx.mustParent(b)
	}
	return a
}

func (idx *Index) mustParent(s *HeaderStat) *HeaderStat {
	return idx.byHash[s.Header.PrevBlock]
}

// Range returns every HeaderStat strictly above downToHeight, walking
// back from from along its own ancestry and returned in increasing
// height order — the slice a headers response serves once the peer's
// locator match point is known.
func (idx *Index) Range(from *HeaderStat, downToHeight int32) []*HeaderStat {
	if from.Height <= downToHeight {
		return nil
	}
	out := make([]*HeaderStat, 0, from.Height-downToHeight)
	for cur := from; cur.Height > downToHeight; cur = idx.mustParent(cur) {
		out = append(out, cur)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
