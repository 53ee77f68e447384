package utxo

import (
	"bytes"
	"testing"

	"github.com/ncnode/ncnode/ncutil/hash"
)

func TestEntrySerializeRoundTrip(t *testing.T) {
	entry := &Entry{
		Value:       5000000000,
		PkScript:    []byte{0x76, 0xa9, 0x14},
		BlockHeight: 654321,
		IsCoinBase:  true,
	}

	got, err := DeserializeEntry(entry.Serialize())
	if err != nil {
		t.Fatalf("DeserializeEntry: %v", err)
	}
	if got.Value != entry.Value || got.BlockHeight != entry.BlockHeight || got.IsCoinBase != entry.IsCoinBase {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, entry)
	}
	if !bytes.Equal(got.PkScript, entry.PkScript) {
		t.Fatalf("script mismatch: got %x, want %x", got.PkScript, entry.PkScript)
	}
}

func TestDeserializeEntryRejectsTruncated(t *testing.T) {
	if _, err := DeserializeEntry(nil); err == nil {
		t.Fatal("expected error on empty buffer")
	}
}

func TestShardIndexUsesLowTxIDBytes(t *testing.T) {
	var id hash.Hash
	id[0] = 0x34
	id[1] = 0x12
	if got, want := shardIndex(&id), uint16(0x1234); got != want {
		t.Fatalf("shardIndex = %#x, want %#x", got, want)
	}
}

func TestOutpointKeyOrdersByIndex(t *testing.T) {
	var id hash.Hash
	k0 := outpointKey(&id, 0)
	k1 := outpointKey(&id, 1)
	if bytes.Equal(k0, k1) {
		t.Fatal("keys for different indexes must differ")
	}
	if len(k0) != hash.Size+4 {
		t.Fatalf("key length = %d, want %d", len(k0), hash.Size+4)
	}
}
