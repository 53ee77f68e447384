package merkle

import (
	"testing"

	"github.com/ncnode/ncnode/ncutil/hash"
)

func leafFromByte(b byte) hash.Hash {
	var h hash.Hash
	h[0] = b
	return h
}

func TestRootSingleLeaf(t *testing.T) {
	leaf := leafFromByte(1)
	if got := Root([]hash.Hash{leaf}); got != leaf {
		t.Errorf("single-leaf root = %s, want %s", got, leaf)
	}
}

func TestRootOddLevelDuplicatesLast(t *testing.T) {
	a, b, c := leafFromByte(1), leafFromByte(2), leafFromByte(3)
	got := Root([]hash.Hash{a, b, c})
	want := hashPair(hashPair(a, b), hashPair(c, c))
	if got != want {
		t.Errorf("odd-leaf-count root = %s, want %s", got, want)
	}
}

func TestPartialMerkleRoundTrip(t *testing.T) {
	leaves := []hash.Hash{leafFromByte(1), leafFromByte(2), leafFromByte(3), leafFromByte(4), leafFromByte(5)}
	matches := []bool{false, true, false, false, true}

	pt, err := Build(leaves, matches)
	if err != nil {
		t.Fatal(err)
	}

	root, matchedIDs, err := pt.Verify()
	if err != nil {
		t.Fatal(err)
	}

	wantRoot := Root(leaves)
	if root != wantRoot {
		t.Errorf("reconstructed root = %s, want %s", root, wantRoot)
	}

	if len(matchedIDs) != 2 || matchedIDs[0] != leaves[1] || matchedIDs[1] != leaves[4] {
		t.Errorf("matched ids = %v, want [%s %s]", matchedIDs, leaves[1], leaves[4])
	}
}

func TestPartialMerkleNoMatches(t *testing.T) {
	leaves := []hash.Hash{leafFromByte(1), leafFromByte(2)}
	matches := []bool{false, false}

	pt, err := Build(leaves, matches)
	if err != nil {
		t.Fatal(err)
	}
	root, matchedIDs, err := pt.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if root != Root(leaves) {
		t.Errorf("root mismatch with no matches")
	}
	if len(matchedIDs) != 0 {
		t.Errorf("expected no matched ids, got %d", len(matchedIDs))
	}
}
