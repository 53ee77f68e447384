package netpeer

import (
	"sync"
	"time"

	"github.com/ncnode/ncnode/ncutil/hash"
)

// requestExpiry is how long an entry in the shared requested-hash
// table survives without an answer before a slow peer is bypassed
// (spec §4.8).
const requestExpiry = 4 * time.Second

// MaxBlockRequest bounds how many block bodies may be outstanding to
// distinct peers at once (spec §4.8's MAX_BLOCK_REQUEST).
const MaxBlockRequest = 16

// RequestTable is the table every peer consults before asking for an
// object, so two peers are never asked for the same hash at once. A
// single table is shared across all of a node's peers.
type RequestTable struct {
	mu   sync.Mutex
	objs map[hash.Hash]pendingRequest

	blocksOut int
}

type pendingRequest struct {
	peer    string
	expires time.Time
	isBlock bool
}

// NewRequestTable creates an empty shared request table.
func NewRequestTable() *RequestTable {
	return &RequestTable{objs: make(map[hash.Hash]pendingRequest)}
}

// TryBlock reserves id for peer's outstanding block request, subject to
// the global MaxBlockRequest bound and the single-requester rule. It
// reports whether the reservation succeeded.
func (t *RequestTable) TryBlock(peer string, id hash.Hash) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expireLocked()

	if existing, ok := t.objs[id]; ok && existing.peer != peer {
		return false
	}
	if t.blocksOut >= MaxBlockRequest {
		return false
	}
	t.objs[id] = pendingRequest{peer: peer, expires: time.Now().Add(requestExpiry), isBlock: true}
	t.blocksOut++
	return true
}

// TryTx reserves id for peer's outstanding transaction request.
func (t *RequestTable) TryTx(peer string, id hash.Hash) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expireLocked()

	if existing, ok := t.objs[id]; ok && existing.peer != peer {
		return false
	}
	t.objs[id] = pendingRequest{peer: peer, expires: time.Now().Add(requestExpiry)}
	return true
}

// Fulfill releases id's reservation once the object arrives (from any
// peer — a different peer answering first still satisfies the need).
func (t *RequestTable) Fulfill(id hash.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releaseLocked(id)
}

// ReleaseAll drops every reservation held by peer, called when a
// connection enters Closing so its in-flight requests don't block
// other peers until their 4s expiry.
func (t *RequestTable) ReleaseAll(peer string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, req := range t.objs {
		if req.peer == peer {
			t.releaseLocked(id)
		}
	}
}

func (t *RequestTable) releaseLocked(id hash.Hash) {
	if req, ok := t.objs[id]; ok {
		if req.isBlock {
			t.blocksOut--
		}
		delete(t.objs, id)
	}
}

// expireLocked drops reservations whose 4s window has passed, freeing
// a stalled peer's claim so another peer can be asked instead.
func (t *RequestTable) expireLocked() {
	now := time.Now()
	for id, req := range t.objs {
		if now.After(req.expires) {
			if req.isBlock {
				t.blocksOut--
			}
			delete(t.objs, id)
		}
	}
}
