package mempool

import "github.com/ncnode/ncnode/ncutil/hash"

// rejectFIFO remembers the last N transaction ids rejected for a
// particular reason (invalid, below the relay fee, or non-standard),
// so a peer re-announcing the same bad transaction doesn't cause it
// to be re-validated from scratch every time. New entries evict the
// oldest once the ring is full; this is a cache, not a ban list.
type rejectFIFO struct {
	cap   int
	order []hash.Hash
	set   map[hash.Hash]struct{}
}

func newRejectFIFO(capacity int) *rejectFIFO {
	return &rejectFIFO{
		cap: capacity,
		set: make(map[hash.Hash]struct{}, capacity),
	}
}

func (f *rejectFIFO) contains(id hash.Hash) bool {
	_, ok := f.set[id]
	return ok
}

func (f *rejectFIFO) add(id hash.Hash) {
	if f.contains(id) {
		return
	}
	if len(f.order) >= f.cap {
		oldest := f.order[0]
		f.order = f.order[1:]
		delete(f.set, oldest)
	}
	f.order = append(f.order, id)
	f.set[id] = struct{}{}
}

func (f *rejectFIFO) remove(id hash.Hash) {
	if !f.contains(id) {
		return
	}
	delete(f.set, id)
	for i, h := range f.order {
		if h == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}
