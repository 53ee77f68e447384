package utxo

import (
	"io"
	"os"
	"sync"

	"github.com/ncnode/ncnode/wire"
)

// journalOp is one mutation recorded against the undo log, tagged
// with the height of the block that produced it: either an Add
// (undone by deleting the outpoint) or a Spend (undone by restoring
// the entry that was removed).
type journalOp struct {
	height   int32
	outpoint wire.Outpoint
	wasAdd   bool
	entry    *Entry // prior value, only set for a Spend
}

// journal is the write-ahead undo log keyed by block height, per spec
// §4.2: "(outpoint, old-height, new-height) tuples keyed by block
// height, so revert(h) simply replays the journal backwards". Unlike
// a per-block staging area, entries are NOT discarded on Commit — a
// reorg must be able to revert several already-committed blocks, not
// just the one most recently applied. Entries are only dropped once
// Purge judges them too deep to ever need reverting.
type journal struct {
	mu   sync.Mutex
	path string
	file *os.File
	ops  []journalOp
}

func openJournal(path string) (*journal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	return &journal{path: path, file: f}, nil
}

func (j *journal) recordAdd(height int32, op wire.Outpoint) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ops = append(j.ops, journalOp{height: height, outpoint: op, wasAdd: true})
	return j.appendLocked()
}

func (j *journal) recordSpend(height int32, op wire.Outpoint, prior *Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ops = append(j.ops, journalOp{height: height, outpoint: op, wasAdd: false, entry: prior})
	return j.appendLocked()
}

// appendLocked mirrors the newest op to disk. Nothing reads the file
// back: openJournal starts with an empty in-memory log, so ops recorded
// before a restart cannot be reverted after it. This writes
// append-only and never seeks.
func (j *journal) appendLocked() error {
	op := j.ops[len(j.ops)-1]
	rec := make([]byte, 0, hashAndIndexSize+1+entryMaxRecord)
	rec = appendUvarint(rec, uint64(uint32(op.height)))
	rec = append(rec, op.outpoint.TxID[:]...)
	rec = appendUvarint(rec, uint64(op.outpoint.Index))
	if op.wasAdd {
		rec = append(rec, 1)
	} else {
		rec = append(rec, 0)
		rec = append(rec, op.entry.Serialize()...)
	}
	lenPrefix := appendUvarint(nil, uint64(len(rec)))
	if _, err := j.file.Write(lenPrefix); err != nil {
		return err
	}
	_, err := j.file.Write(rec)
	return err
}

const hashAndIndexSize = 32
const entryMaxRecord = 256

// reversedAbove returns every recorded op with height >= floor, in
// reverse application order, the order Revert must undo them in.
func (j *journal) reversedAbove(floor int32) []journalOp {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []journalOp
	for i := len(j.ops) - 1; i >= 0; i-- {
		if j.ops[i].height >= floor {
			out = append(out, j.ops[i])
		}
	}
	return out
}

// dropAbove removes every recorded op with height >= floor, called
// once Revert has undone them.
func (j *journal) dropAbove(floor int32) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	kept := make([]journalOp, 0, len(j.ops))
	for _, op := range j.ops {
		if op.height < floor {
			kept = append(kept, op)
		}
	}
	j.ops = kept
	return j.rewriteLocked()
}

// commit is a durability checkpoint: it fsyncs the journal file so
// every op recorded for height and below survives a crash. It does
// NOT discard ops — those remain revertible until Purge decides a
// reorg can no longer reach that far back.
func (j *journal) commit() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Sync()
}

// purge drops every op at height <= floor, the bound past which this
// node no longer supports reverting (spec §4.2's "purge fully-spent
// entries older than a configurable depth", applied here to the
// journal since that is where unbounded growth would otherwise
// accumulate; the set keeps no in-memory cache of entries).
func (j *journal) purge(floor int32) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	kept := make([]journalOp, 0, len(j.ops))
	for _, op := range j.ops {
		if op.height > floor {
			kept = append(kept, op)
		}
	}
	j.ops = kept
	return j.rewriteLocked()
}

// rewriteLocked replaces the on-disk journal with exactly the
// in-memory ops, so the file holds the same ops Revert would still act
// on. Called with mu held.
func (j *journal) rewriteLocked() error {
	if err := j.file.Truncate(0); err != nil {
		return err
	}
	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	for _, op := range j.ops {
		rec := make([]byte, 0, hashAndIndexSize+1+entryMaxRecord)
		rec = appendUvarint(rec, uint64(uint32(op.height)))
		rec = append(rec, op.outpoint.TxID[:]...)
		rec = appendUvarint(rec, uint64(op.outpoint.Index))
		if op.wasAdd {
			rec = append(rec, 1)
		} else {
			rec = append(rec, 0)
			rec = append(rec, op.entry.Serialize()...)
		}
		lenPrefix := appendUvarint(nil, uint64(len(rec)))
		if _, err := j.file.Write(lenPrefix); err != nil {
			return err
		}
		if _, err := j.file.Write(rec); err != nil {
			return err
		}
	}
	return j.file.Sync()
}
