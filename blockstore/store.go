package blockstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/ncnode/ncnode/wire"
)

// maxOpenFiles bounds the small LRU of open block files the store
// keeps resident; a full node's active working set is a handful of
// files near the tip plus whatever historical range is being served.
const maxOpenFiles = 16

// Store is the durable, append-mostly block/header archive (spec
// §4.3): one blockFile per 100 heights, opened lazily and cached in a
// small LRU.
type Store struct {
	dir string

	mu    sync.Mutex
	files map[uint32]*blockFile
	order []uint32 // LRU order, oldest first
}

// Open opens (creating if absent) the block store rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Store{
		dir:   dir,
		files: make(map[uint32]*blockFile),
	}, nil
}

func fileIDAndSlot(height uint64) (uint32, int) {
	return uint32(height / indexEntryCount), int(height % indexEntryCount)
}

func (s *Store) path(fileID uint32) string {
	return filepath.Join(s.dir, fmt.Sprintf("blk%08d.dat", fileID))
}

// get returns the blockFile for fileID, opening and caching it if
// necessary, evicting the least recently used entry if the cache is
// full.
func (s *Store) get(fileID uint32) (*blockFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bf, ok := s.files[fileID]; ok {
		s.touchLocked(fileID)
		return bf, nil
	}

	if len(s.files) >= maxOpenFiles {
		if err := s.evictOldestLocked(); err != nil {
			return nil, err
		}
	}

	bf, err := openBlockFile(s.path(fileID), fileID)
	if err != nil {
		return nil, err
	}
	s.files[fileID] = bf
	s.order = append(s.order, fileID)
	return bf, nil
}

func (s *Store) touchLocked(fileID uint32) {
	for i, id := range s.order {
		if id == fileID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.order = append(s.order, fileID)
}

func (s *Store) evictOldestLocked() error {
	if len(s.order) == 0 {
		return nil
	}
	oldest := s.order[0]
	s.order = s.order[1:]
	bf := s.files[oldest]
	delete(s.files, oldest)
	return bf.close()
}

// Append stores block at height, which must equal the store's current
// block count (spec §4.3's "height == file.count" rule applies per
// file, carried here to the whole store via the fileID/slot split).
func (s *Store) Append(height uint64, block *wire.MsgBlock) error {
	fileID, slot := fileIDAndSlot(height)
	bf, err := s.get(fileID)
	if err != nil {
		return err
	}
	return bf.append(slot, block)
}

// ReadBlock returns the full block at height.
func (s *Store) ReadBlock(height uint64) (*wire.MsgBlock, error) {
	fileID, slot := fileIDAndSlot(height)
	bf, err := s.get(fileID)
	if err != nil {
		return nil, err
	}
	return bf.readBlockAt(slot)
}

// ReadHeader returns only the 80-byte header at height, without
// decoding the block's transactions.
func (s *Store) ReadHeader(height uint64) (*wire.BlockHeader, error) {
	fileID, slot := fileIDAndSlot(height)
	bf, err := s.get(fileID)
	if err != nil {
		return nil, err
	}
	return bf.readHeaderAt(slot)
}

// ReadOutput returns a single transaction output from the block at
// height, seeking directly to it rather than decoding the whole
// block.
func (s *Store) ReadOutput(height uint64, txIdx, outIdx int) (*wire.TxOut, error) {
	fileID, slot := fileIDAndSlot(height)
	bf, err := s.get(fileID)
	if err != nil {
		return nil, err
	}
	return bf.readOutputAt(slot, txIdx, outIdx)
}

// RevertAbove discards every block at height >= keepHeight: whole
// files past the one containing keepHeight are removed outright, and
// the file straddling keepHeight is truncated in place by truncateTo;
// no swap file is written and the truncation is not an atomic rename.
// Files are visited in ascending fileID order
// per the store's lock-ordering discipline (spec §4.3).
func (s *Store) RevertAbove(keepHeight uint64) error {
	floorFileID, floorSlot := fileIDAndSlot(keepHeight)

	s.mu.Lock()
	toRemove := make([]uint32, 0, len(s.files))
	for id := range s.files {
		if id > floorFileID {
			toRemove = append(toRemove, id)
		}
	}
	s.mu.Unlock()
	sort.Slice(toRemove, func(i, j int) bool { return toRemove[i] < toRemove[j] })

	for _, id := range toRemove {
		if err := s.Remove(id); err != nil {
			return err
		}
	}

	// Also drop any on-disk files past the floor that were never
	// opened this run.
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		var id uint32
		if _, err := fmt.Sscanf(ent.Name(), "blk%08d.dat", &id); err != nil {
			continue
		}
		if id > floorFileID {
			if err := s.Remove(id); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}

	bf, err := s.get(floorFileID)
	if err != nil {
		return err
	}
	return bf.truncateTo(floorSlot)
}

// Remove closes and deletes fileID entirely.
func (s *Store) Remove(fileID uint32) error {
	s.mu.Lock()
	if bf, ok := s.files[fileID]; ok {
		delete(s.files, fileID)
		for i, id := range s.order {
			if id == fileID {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		if err := bf.close(); err != nil {
			return err
		}
	} else {
		s.mu.Unlock()
	}
	err := os.Remove(s.path(fileID))
	if os.IsNotExist(err) {
		return nil
	}
	return errors.Wrapf(err, "blockstore: remove file %d", fileID)
}

// Close flushes and closes every open file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for id, bf := range s.files {
		if err := bf.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.files, id)
	}
	s.order = nil
	return firstErr
}
