package netpeer

import (
	"testing"
	"time"

	"github.com/ncnode/ncnode/ncutil/hash"
)

func testHash(b byte) hash.Hash {
	var h hash.Hash
	h[0] = b
	return h
}

func TestRequestTableSingleRequester(t *testing.T) {
	rt := NewRequestTable()
	id := testHash(1)

	if !rt.TryBlock("peerA", id) {
		t.Fatal("expected first reservation to succeed")
	}
	if rt.TryBlock("peerB", id) {
		t.Fatal("expected second peer to be refused the same hash")
	}
	if !rt.TryBlock("peerA", id) {
		t.Fatal("same peer re-requesting its own reservation should succeed")
	}
}

func TestRequestTableFulfillReleases(t *testing.T) {
	rt := NewRequestTable()
	id := testHash(2)

	rt.TryBlock("peerA", id)
	rt.Fulfill(id)

	if !rt.TryBlock("peerB", id) {
		t.Fatal("expected reservation to be free after Fulfill")
	}
}

func TestRequestTableMaxBlockRequest(t *testing.T) {
	rt := NewRequestTable()
	for i := 0; i < MaxBlockRequest; i++ {
		if !rt.TryBlock("peerA", testHash(byte(i))) {
			t.Fatalf("expected reservation %d to succeed under the cap", i)
		}
	}
	if rt.TryBlock("peerA", testHash(200)) {
		t.Fatal("expected reservation beyond MaxBlockRequest to be refused")
	}
}

func TestRequestTableExpiry(t *testing.T) {
	rt := NewRequestTable()
	id := testHash(3)
	rt.TryBlock("peerA", id)

	rt.mu.Lock()
	req := rt.objs[id]
	req.expires = time.Now().Add(-time.Millisecond)
	rt.objs[id] = req
	rt.mu.Unlock()

	if !rt.TryBlock("peerB", id) {
		t.Fatal("expected expired reservation to be reassignable")
	}
}

func TestRequestTableReleaseAll(t *testing.T) {
	rt := NewRequestTable()
	a, b := testHash(4), testHash(5)
	rt.TryBlock("peerA", a)
	rt.TryTx("peerA", b)

	rt.ReleaseAll("peerA")

	if !rt.TryBlock("peerB", a) {
		t.Fatal("expected block reservation to be released")
	}
	if !rt.TryTx("peerB", b) {
		t.Fatal("expected tx reservation to be released")
	}
}
