package queryrpc

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ncnode/ncnode/blockstore"
	"github.com/ncnode/ncnode/chain"
	"github.com/ncnode/ncnode/chaincfg"
	"github.com/ncnode/ncnode/mempool"
	"github.com/ncnode/ncnode/ncutil/hash"
	"github.com/ncnode/ncnode/netpeer"
	"github.com/ncnode/ncnode/utxo"
	"github.com/ncnode/ncnode/wire"
)

func hashToBigForTest(h *hash.Hash) *big.Int {
	buf := make([]byte, hash.Size)
	for i := 0; i < hash.Size; i++ {
		buf[i] = h[hash.Size-1-i]
	}
	return new(big.Int).SetBytes(buf)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	params := chaincfg.RegressionNetParams

	genesis := &wire.BlockHeader{
		Version:   1,
		Bits:      params.PowLimitBits,
		Timestamp: 1,
	}
	target := chain.CompactToBig(genesis.Bits)
	for nonce := uint32(0); ; nonce++ {
		genesis.Nonce = nonce
		blockHash := genesis.BlockHash()
		if hashToBigForTest(&blockHash).Cmp(target) <= 0 {
			break
		}
	}

	blocks, err := blockstore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("blockstore.Open: %v", err)
	}
	t.Cleanup(func() { blocks.Close() })

	utxoSet, err := utxo.Open(t.TempDir())
	if err != nil {
		t.Fatalf("utxo.Open: %v", err)
	}
	t.Cleanup(func() { utxoSet.Close() })

	c, err := chain.New(&params, genesis, blocks, utxoSet, nil, nil)
	if err != nil {
		t.Fatalf("chain.New: %v", err)
	}

	pool := mempool.New(mempool.Config{})

	scores, err := netpeer.OpenScoreboard(t.TempDir())
	if err != nil {
		t.Fatalf("OpenScoreboard: %v", err)
	}
	t.Cleanup(func() { scores.Close() })
	peers := netpeer.NewManager(netpeer.DefaultConfig(), c, pool, scores)

	return &Server{chain: c, pool: pool, peers: peers, notifier: newNotifier()}
}

func TestDispatchStatAndHead(t *testing.T) {
	s := newTestServer(t)

	stat := s.dispatch([]string{"stat"})
	if !strings.Contains(stat, "bestHeight=0") {
		t.Fatalf("unexpected stat reply: %q", stat)
	}

	head := s.dispatch([]string{"head"})
	if !strings.Contains(head, "height=0") {
		t.Fatalf("unexpected head reply: %q", head)
	}
}

func TestDispatchUnrecognized(t *testing.T) {
	s := newTestServer(t)
	reply := s.dispatch([]string{"bogus"})
	if !strings.HasPrefix(reply, "error: unrecognized command") {
		t.Fatalf("expected error reply, got %q", reply)
	}
}

func TestDispatchAddrUnsupported(t *testing.T) {
	s := newTestServer(t)
	reply := s.dispatch([]string{"addr", "1BoatSLRHtKNngkdXEeobR76b53LETtpyT"})
	if !strings.Contains(reply, "no address index") {
		t.Fatalf("expected no-address-index error, got %q", reply)
	}
}

func TestDispatchBlockByHeight(t *testing.T) {
	s := newTestServer(t)
	reply := s.dispatch([]string{"blok", "0"})
	if strings.HasPrefix(reply, "error") || reply == "" {
		t.Fatalf("expected hex-encoded genesis block, got %q", reply)
	}
}

func TestDispatchMempoolEmpty(t *testing.T) {
	s := newTestServer(t)
	reply := s.dispatch([]string{"trxn"})
	if !strings.Contains(reply, "ready=0") {
		t.Fatalf("unexpected mempool reply: %q", reply)
	}
}
