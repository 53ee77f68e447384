// Package utxo implements the unspent-output set (spec §4.2):
// sharding by the low 16 bits of the outpoint's txid into 65,536
// leveldb-backed buckets, with a write-ahead journal giving the
// chain layer a commit/revert boundary across reorgs. Grounded on
// the Database/Transaction split of database2/database.go and
// database2/ffldb/transaction.go, with the DataAccessor surface
// narrowed to the get/put/delete operations a UTXO set actually
// needs.
package utxo

import (
	"encoding/binary"

	"github.com/ncnode/ncnode/ncutil/hash"
)

// Entry is one unspent output: its value, locking script, the height
// it was created at, and whether that creating transaction was a
// coinbase (coinbase outputs carry an extra maturity rule).
type Entry struct {
	Value       int64
	PkScript    []byte
	BlockHeight int32
	IsCoinBase  bool
}

// packedFlags bit layout, matching the teacher's UTXOEntry convention
// of packing booleans alongside the height into a single varint-sized
// field rather than a struct of bools (spec §4.2).
const (
	flagCoinBase = 1 << 0
)

// Serialize encodes the entry for storage: varint height+flags,
// varint value, then the raw script.
func (e *Entry) Serialize() []byte {
	flags := uint64(uint32(e.BlockHeight)) << 1
	if e.IsCoinBase {
		flags |= flagCoinBase
	}

	buf := make([]byte, 0, 10+10+len(e.PkScript))
	buf = appendUvarint(buf, flags)
	buf = appendUvarint(buf, uint64(e.Value))
	buf = append(buf, e.PkScript...)
	return buf
}

// DeserializeEntry reverses Serialize.
func DeserializeEntry(data []byte) (*Entry, error) {
	flags, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, errInvalidEntry
	}
	data = data[n:]

	value, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, errInvalidEntry
	}
	data = data[n:]

	return &Entry{
		Value:       int64(value),
		PkScript:    append([]byte{}, data...),
		BlockHeight: int32(flags >> 1),
		IsCoinBase:  flags&flagCoinBase != 0,
	}, nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(buf, tmp[:n]...)
}

// shardCount is the number of leveldb-backed buckets the set is split
// across, keyed by the low 16 bits of the outpoint's txid (spec §4.2).
const shardCount = 1 << 16

func shardIndex(txID *hash.Hash) uint16 {
	return txID.ShardPrefix()
}

// outpointKey builds the per-shard storage key: the full txid
// followed by the big-endian output index, so that all outputs of one
// transaction sort contiguously within their shard.
func outpointKey(txID *hash.Hash, index uint32) []byte {
	key := make([]byte, hash.Size+4)
	copy(key, txID[:])
	binary.BigEndian.PutUint32(key[hash.Size:], index)
	return key
}
