// Package bloom implements the Bitcoin bloom filter used by the SPV
// service (spec §4.4): a per-peer filter loaded via filterload,
// refined via filteradd, and consulted when deciding which
// transactions and merkle-block proofs to push to that peer.
package bloom

import (
	"encoding/binary"
	"math"
	"sync"
)

const (
	// maxFilterSize is the maximum serialized byte size of a loaded
	// filter, matching wire.MaxFilterLoadFilterSize.
	maxFilterSize = 36000

	// maxHashFuncs is the maximum number of hash functions a filter
	// may use, matching wire.MaxFilterLoadHashFuncs.
	maxHashFuncs = 50

	// ln2Squared is used when sizing a filter from a target false
	// positive rate.
	ln2Squared = 0.4804530139182014246671025263266649717305529515945455
	ln2        = 0.6931471805599453094172321214581765680755001343602552
)

// UpdateType controls how a filter is updated when a transaction it
// matches is observed, mirroring wire.BloomUpdateType.
type UpdateType uint8

// Recognized update types.
const (
	UpdateNone UpdateType = iota
	UpdateAll
	UpdateP2PubkeyOnly
)

// Filter is a thread-safe bloom filter over opaque byte-string
// elements (hashes, pubkeys, outpoints) used to select data of
// interest to an SPV subscriber.
type Filter struct {
	mtx       sync.RWMutex
	filter    []byte
	hashFuncs uint32
	tweak     uint32
	update    UpdateType
}

// NewFilter creates an empty filter sized for elements items with a
// false-positive rate fp, tweaked with the given nonce.
func NewFilter(elements uint32, tweak uint32, fp float64, update UpdateType) *Filter {
	dataLen := uint32(-1 / ln2Squared * float64(elements) * math.Log(fp))
	if dataLen > maxFilterSize*8 {
		dataLen = maxFilterSize * 8
	} else if dataLen < 8 {
		dataLen = 8
	}
	dataLen = (dataLen + 7) / 8 * 8 / 8 // round up to whole bytes

	hashFuncs := uint32(float64(dataLen*8) / float64(elements) * ln2)
	if hashFuncs > maxHashFuncs {
		hashFuncs = maxHashFuncs
	} else if hashFuncs < 1 {
		hashFuncs = 1
	}

	return &Filter{
		filter:    make([]byte, dataLen),
		hashFuncs: hashFuncs,
		tweak:     tweak,
		update:    update,
	}
}

// LoadFilter wraps an already-serialized filter received in a
// filterload message.
func LoadFilter(filter []byte, hashFuncs, tweak uint32, update UpdateType) *Filter {
	return &Filter{filter: filter, hashFuncs: hashFuncs, tweak: tweak, update: update}
}

// hash computes the i-th of the filter's k hash functions over data,
// the classic rolling-murmur3 construction with a per-index seed.
func (f *Filter) hash(hashNum uint32, data []byte) uint32 {
	seed := hashNum*0xfba4c795 + f.tweak
	return murmur3(seed, data) % uint32(len(f.filter)*8)
}

// Matches reports whether data is a member of the filter.
func (f *Filter) Matches(data []byte) bool {
	f.mtx.RLock()
	defer f.mtx.RUnlock()
	return f.matches(data)
}

func (f *Filter) matches(data []byte) bool {
	if len(f.filter) == 0 {
		return false
	}
	for i := uint32(0); i < f.hashFuncs; i++ {
		idx := f.hash(i, data)
		if f.filter[idx/8]&(1<<(idx%8)) == 0 {
			return false
		}
	}
	return true
}

// Add inserts data into the filter.
func (f *Filter) Add(data []byte) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if len(f.filter) == 0 {
		return
	}
	for i := uint32(0); i < f.hashFuncs; i++ {
		idx := f.hash(i, data)
		f.filter[idx/8] |= 1 << (idx % 8)
	}
}

// MatchesOutpoint reports whether the filter contains the 36-byte
// outpoint serialization (txid || little-endian index), used to
// track a previously-matched output's later spend.
func (f *Filter) MatchesOutpoint(txID []byte, index uint32) bool {
	var buf [36]byte
	copy(buf[:32], txID)
	binary.LittleEndian.PutUint32(buf[32:], index)
	return f.Matches(buf[:])
}

// UpdateType returns the filter's configured update behavior.
func (f *Filter) UpdateType() UpdateType {
	f.mtx.RLock()
	defer f.mtx.RUnlock()
	return f.update
}

// Serialize returns the raw filter bits for inclusion in a filterload
// message.
func (f *Filter) Serialize() (filterBits []byte, hashFuncs, tweak uint32) {
	f.mtx.RLock()
	defer f.mtx.RUnlock()
	out := make([]byte, len(f.filter))
	copy(out, f.filter)
	return out, f.hashFuncs, f.tweak
}

// murmur3 is the 32-bit murmur3 hash used by the bloom filter
// specification, with a fixed tail-mixing constant of 0x00000000.
func murmur3(seed uint32, data []byte) uint32 {
	const c1, c2 = 0xcc9e2d51, 0x1b873593
	h := seed
	nblocks := len(data) / 4

	for i := 0; i < nblocks; i++ {
		k := binary.LittleEndian.Uint32(data[i*4:])
		k *= c1
		k = (k << 15) | (k >> 17)
		k *= c2

		h ^= k
		h = (h << 13) | (h >> 19)
		h = h*5 + 0xe6546b64
	}

	tail := data[nblocks*4:]
	var k uint32
	switch len(tail) {
	case 3:
		k ^= uint32(tail[2]) << 16
		fallthrough
	case 2:
		k ^= uint32(tail[1]) << 8
		fallthrough
	case 1:
		k ^= uint32(tail[0])
		k *= c1
		k = (k << 15) | (k >> 17)
		k *= c2
		h ^= k
	}

	h ^= uint32(len(data))
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16

	return h
}
