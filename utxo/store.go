package utxo

import (
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/ncnode/ncnode/wire"
)

var errInvalidEntry = errors.New("utxo: malformed entry encoding")
var errNotFound = errors.New("utxo: outpoint not found")

// shard is one of the 65,536 leveldb-backed buckets the set is split
// into, each independently lockable. Revert holds one shard's lock at
// a time, so it cannot deadlock against concurrent lookups.
type shard struct {
	mu sync.RWMutex
	db *leveldb.DB
}

// Set is the node-wide UTXO set: one shard per low-16-bits-of-txid
// bucket, opened lazily so a fresh node doesn't pay for 65,536 open
// file handles up front.
type Set struct {
	dir    string
	mu     sync.Mutex
	shards map[uint16]*shard

	journal *journal
}

// Open opens (creating if absent) the UTXO set rooted at dir.
func Open(dir string) (*Set, error) {
	j, err := openJournal(filepath.Join(dir, "journal"))
	if err != nil {
		return nil, err
	}
	return &Set{
		dir:     dir,
		shards:  make(map[uint16]*shard),
		journal: j,
	}, nil
}

func (s *Set) shardFor(idx uint16) (*shard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sh, ok := s.shards[idx]; ok {
		return sh, nil
	}
	path := filepath.Join(s.dir, shardDirName(idx))
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "utxo: failed to open shard %d", idx)
	}
	sh := &shard{db: db}
	s.shards[idx] = sh
	return sh, nil
}

func shardDirName(idx uint16) string {
	return "shard-" + hexByte(byte(idx>>8)) + hexByte(byte(idx))
}

func hexByte(b byte) string {
	const hex = "0123456789abcdef"
	return string([]byte{hex[b>>4], hex[b&0xf]})
}

// Get looks up the unspent entry for outpoint. The bool return is
// false if the output is unknown or already spent.
func (s *Set) Get(op wire.Outpoint) (*Entry, bool, error) {
	sh, err := s.shardFor(shardIndex(&op.TxID))
	if err != nil {
		return nil, false, err
	}
	key := outpointKey(&op.TxID, op.Index)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	data, err := sh.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	entry, err := DeserializeEntry(data)
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

// Add records a new unspent output created at height, journaling its
// addition so a later Revert can undo it.
func (s *Set) Add(height int32, op wire.Outpoint, entry *Entry) error {
	sh, err := s.shardFor(shardIndex(&op.TxID))
	if err != nil {
		return err
	}
	key := outpointKey(&op.TxID, op.Index)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if err := s.journal.recordAdd(height, op); err != nil {
		return err
	}
	return sh.db.Put(key, entry.Serialize(), nil)
}

// Spend removes an unspent output as of height, journaling its prior
// value so a later Revert can restore it. Fails if the outpoint is
// unknown or already spent.
func (s *Set) Spend(height int32, op wire.Outpoint) (*Entry, error) {
	sh, err := s.shardFor(shardIndex(&op.TxID))
	if err != nil {
		return nil, err
	}
	key := outpointKey(&op.TxID, op.Index)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	data, err := sh.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	entry, err := DeserializeEntry(data)
	if err != nil {
		return nil, err
	}
	if err := s.journal.recordSpend(height, op, entry); err != nil {
		return nil, err
	}
	return entry, sh.db.Delete(key, nil)
}

// Commit makes every spend/add up to and including height durable: it
// fsyncs the journal so a crash right after this call cannot lose
// them. It intentionally does not discard journal entries — a later
// reorg may still need to revert this height (spec §4.2).
func (s *Set) Commit(height int32) error {
	return s.journal.commit()
}

// Revert undoes every Add/Spend recorded at height >= height,
// restoring the set to its state immediately before that height was
// applied (spec §4.2/§4.3's reorg contract).
func (s *Set) Revert(height int32) error {
	ops := s.journal.reversedAbove(height)
	for _, op := range ops {
		sh, err := s.shardFor(shardIndex(&op.outpoint.TxID))
		if err != nil {
			return err
		}
		key := outpointKey(&op.outpoint.TxID, op.outpoint.Index)

		sh.mu.Lock()
		var opErr error
		if op.wasAdd {
			opErr = sh.db.Delete(key, nil)
		} else {
			opErr = sh.db.Put(key, op.entry.Serialize(), nil)
		}
		sh.mu.Unlock()
		if opErr != nil {
			return opErr
		}
	}
	return s.journal.dropAbove(height)
}

// Purge drops journal entries at or below floor, the bound past which
// this node no longer supports reverting a reorg (spec §4.2).
func (s *Set) Purge(floor int32) error {
	return s.journal.purge(floor)
}

// Close releases every open shard handle.
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, sh := range s.shards {
		if err := sh.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
