// Package blockstore implements the append-mostly, CRC-protected
// block/header file layout (spec §4.3): files are grouped by
// height/100, each holding a fixed 100-entry index (block hash +
// payload offset) followed by the concatenated block payloads.
//
// Grounded on the writeCursor/maxBlockFileSize/handleRollback shape
// exposed by database2/drivers/ffldb/blockio_test.go — the only
// surviving trace of the teacher's flat-file block store, since the
// implementation file itself (blockio.go) was not retrieved. The
// fixed-index-plus-payload-region layout and its CRC recovery
// procedure are this node's own design per spec §4.3, since the
// teacher's ffldb generation does not use this format.
package blockstore

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/ncnode/ncnode/ncutil/hash"
)

const (
	magicString = "NCBLKS01"

	indexEntryCount = 100
	indexEntrySize  = hash.Size + 4 // hash + little-endian uint32 offset

	indexSize  = indexEntryCount * indexEntrySize
	headerSize = len(magicString) + 4 + indexSize // magic + crc + index

	crcOffset = len(magicString)
)

// indexEntry is one slot of a file's fixed index: the hash of the
// block stored at Offset, or the zero value if the slot is unfilled.
type indexEntry struct {
	Hash   hash.Hash
	Offset uint32
}

func (e *indexEntry) encode(buf []byte) {
	copy(buf, e.Hash[:])
	binary.LittleEndian.PutUint32(buf[hash.Size:], e.Offset)
}

func (e *indexEntry) decode(buf []byte) {
	copy(e.Hash[:], buf[:hash.Size])
	e.Offset = binary.LittleEndian.Uint32(buf[hash.Size:])
}

// crcOf computes the CRC-32 covering everything in the file after the
// CRC field itself: the index plus the payload region.
func crcOf(indexBytes []byte, payload []byte) uint32 {
	c := crc32.NewIEEE()
	c.Write(indexBytes)
	c.Write(payload)
	return c.Sum32()
}
