// Package merkle computes block merkle roots and builds/verifies the
// partial-merkle-tree proofs used by the SPV service (spec §4.4).
// The tree is a flattened, pre-order-indexed vector rather than a
// recursive node type, per the spec's design note on eliminating the
// double-free bug visible in the original recursive implementation.
package merkle

import (
	"github.com/pkg/errors"

	"github.com/ncnode/ncnode/ncutil/hash"
)

// Root computes the merkle root of a list of leaf hashes (transaction
// ids), pairing an odd trailing node with itself at each level. The
// root of a single-leaf tree is that leaf itself.
func Root(leaves []hash.Hash) hash.Hash {
	if len(leaves) == 0 {
		return hash.Zero
	}
	level := make([]hash.Hash, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]hash.Hash, len(level)/2)
		for i := range next {
			next[i] = hashPair(level[2*i], level[2*i+1])
		}
		level = next
	}
	return level[0]
}

func hashPair(left, right hash.Hash) hash.Hash {
	buf := make([]byte, 0, 2*hash.Size)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return hash.DoubleSHA256(buf)
}

// nodeCount returns the number of nodes at a given tree height for n
// leaves (classic Bitcoin partial-merkle-tree sizing: ceil(n / 2^height)).
func nodeCount(n, height int) int {
	return (n + (1 << uint(height)) - 1) >> uint(height)
}

func treeHeight(n int) int {
	h := 0
	for nodeCount(n, h) > 1 {
		h++
	}
	return h
}

// PartialTree is the flattened pre-order traversal result: one bit
// per visited node (does its subtree contain a match) and the hashes
// of nodes whose subtree is a matching leaf or contains no matches.
type PartialTree struct {
	NumTransactions uint32
	Bits            []bool
	Hashes          []hash.Hash
}

// Build constructs the full merkle tree over txIDs and traverses it
// pre-order, producing the partial proof that reveals exactly the
// transactions for which matches[i] is true (spec §4.4).
func Build(txIDs []hash.Hash, matches []bool) (*PartialTree, error) {
	if len(txIDs) != len(matches) {
		return nil, errors.Errorf("merkle: %d tx ids but %d match flags", len(txIDs), len(matches))
	}

	height := treeHeight(len(txIDs))
	levels := make([][]hash.Hash, height+1)
	levels[0] = txIDs
	for h := 1; h <= height; h++ {
		prev := levels[h-1]
		count := nodeCount(len(txIDs), h)
		cur := make([]hash.Hash, count)
		for i := 0; i < count; i++ {
			left := prev[2*i]
			var right hash.Hash
			if 2*i+1 < len(prev) {
				right = prev[2*i+1]
			} else {
				right = left
			}
			cur[i] = hashPair(left, right)
		}
		levels[h] = cur
	}

	matchedAtLevel := make([][]bool, height+1)
	matchedAtLevel[0] = matches
	for h := 1; h <= height; h++ {
		prevMatched := matchedAtLevel[h-1]
		count := nodeCount(len(txIDs), h)
		cur := make([]bool, count)
		for i := 0; i < count; i++ {
			left := prevMatched[2*i]
			right := false
			if 2*i+1 < len(prevMatched) {
				right = prevMatched[2*i+1]
			}
			cur[i] = left || right
		}
		matchedAtLevel[h] = cur
	}

	pt := &PartialTree{NumTransactions: uint32(len(txIDs))}
	var visit func(h, pos int)
	visit = func(h, pos int) {
		anyMatch := matchedAtLevel[h][pos]
		pt.Bits = append(pt.Bits, anyMatch)
		if h == 0 || !anyMatch {
			pt.Hashes = append(pt.Hashes, levels[h][pos])
			return
		}
		left := 2 * pos
		visit(h-1, left)
		if left+1 < len(levels[h-1]) {
			visit(h-1, left+1)
		}
	}
	visit(height, 0)

	return pt, nil
}

// Verify reconstructs the root and matching transaction ids from a
// PartialTree. The caller must compare the returned root against the
// block header's MerkleRoot.
func (pt *PartialTree) Verify() (root hash.Hash, matchedTxIDs []hash.Hash, err error) {
	if pt.NumTransactions == 0 {
		return hash.Zero, nil, errors.New("merkle: empty partial tree")
	}
	height := treeHeight(int(pt.NumTransactions))

	bitPos, hashPos := 0, 0
	var matched []hash.Hash

	var traverse func(h, pos int) (hash.Hash, error)
	traverse = func(h, pos int) (hash.Hash, error) {
		if bitPos >= len(pt.Bits) {
			return hash.Zero, errors.New("merkle: bit stream exhausted")
		}
		bit := pt.Bits[bitPos]
		bitPos++

		if h == 0 || !bit {
			if hashPos >= len(pt.Hashes) {
				return hash.Zero, errors.New("merkle: hash stream exhausted")
			}
			leafHash := pt.Hashes[hashPos]
			hashPos++
			if h == 0 && bit {
				matched = append(matched, leafHash)
			}
			return leafHash, nil
		}

		left, err := traverse(h-1, 2*pos)
		if err != nil {
			return hash.Zero, err
		}
		count := nodeCount(int(pt.NumTransactions), h-1)
		right := left
		if 2*pos+1 < count {
			right, err = traverse(h-1, 2*pos+1)
			if err != nil {
				return hash.Zero, err
			}
		}
		return hashPair(left, right), nil
	}

	root, err = traverse(height, 0)
	if err != nil {
		return hash.Zero, nil, err
	}
	return root, matched, nil
}
