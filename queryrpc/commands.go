package queryrpc

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ncnode/ncnode/ncutil/hash"
	"github.com/ncnode/ncnode/wire"
)

// dispatch routes a parsed command line to its handler, mirroring
// rpcserver.go's rpcHandlers dispatch table generalized to this
// channel's plain-text request/response shape instead of JSON-RPC.
func (s *Server) dispatch(fields []string) string {
	if len(fields) == 0 {
		return "error: empty command"
	}
	name, args := fields[0], fields[1:]

	var (
		reply string
		err   error
	)
	switch name {
	case "stat":
		reply, err = s.cmdStat(args)
	case "addr":
		reply, err = s.cmdAddr(args)
	case "blkd":
		reply, err = s.cmdBlockData(args)
	case "bkst":
		reply, err = s.cmdBlockStats(args)
	case "trxn":
		reply, err = s.cmdMempool(args)
	case "head":
		reply, err = s.cmdHead(args)
	case "blok":
		reply, err = s.cmdBlockByHeight(args)
	case "blkn":
		reply, err = s.cmdBlockByHash(args)
	default:
		return "error: unrecognized command " + name
	}
	if err != nil {
		return "error: " + err.Error()
	}
	return reply
}

// cmdStat reports a one-line overview of chain, mempool, and peer
// state.
func (s *Server) cmdStat(_ []string) (string, error) {
	tip := s.chain.Tip()
	connected := s.chain.ConnectedTip()
	mp := s.pool.Stats()
	return fmt.Sprintf(
		"bestHeight=%d bestHash=%s connectedHeight=%d peers=%d mempoolReady=%d mempoolPending=%d mempoolOrphans=%d",
		tip.Height, tip.Hash, connected.Height, s.peers.PeerCount(),
		mp.Ready, mp.Pending, mp.Orphans,
	), nil
}

// cmdAddr is unimplemented by design: this node's UTXO store is
// sharded by transaction id, not by output address (spec §4.2), and
// address-to-output resolution belongs to the wallet/key-management
// front end spec §1 treats as an external collaborator. The command
// name is still recognized so a client gets a clear answer rather than
// "unrecognized command".
func (s *Server) cmdAddr(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: addr <base58>")
	}
	return "", fmt.Errorf("no address index maintained by this node")
}

// cmdBlockData replies with n header hashes starting at height, the
// compact form for a client paging through the chain without pulling
// full blocks.
func (s *Server) cmdBlockData(args []string) (string, error) {
	if len(args) != 2 {
		return "", fmt.Errorf("usage: blkd <height> <n>")
	}
	height, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return "", fmt.Errorf("malformed height: %w", err)
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n <= 0 {
		return "", fmt.Errorf("malformed count")
	}

	var hashes []string
	for h := int32(height); h < int32(height)+int32(n); h++ {
		header, ok := s.chain.HeaderAtHeight(h)
		if !ok {
			break
		}
		bh := header.BlockHash()
		hashes = append(hashes, bh.String())
	}
	return strings.Join(hashes, " "), nil
}

// cmdBlockStats reports the block count and average spacing over the
// given number of hours starting at height, walking forward until the
// window is exhausted or the chain runs out of headers.
func (s *Server) cmdBlockStats(args []string) (string, error) {
	if len(args) != 2 {
		return "", fmt.Errorf("usage: bkst <height> <hours>")
	}
	height, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return "", fmt.Errorf("malformed height: %w", err)
	}
	hours, err := strconv.ParseInt(args[1], 10, 32)
	if err != nil || hours <= 0 {
		return "", fmt.Errorf("malformed hours")
	}

	start, ok := s.chain.HeaderAtHeight(int32(height))
	if !ok {
		return "", fmt.Errorf("unknown height %d", height)
	}
	startTime := int64(start.Timestamp)
	windowEnd := startTime + hours*3600

	count := 0
	last := startTime
	for h := int32(height); ; h++ {
		header, ok := s.chain.HeaderAtHeight(h)
		if !ok || int64(header.Timestamp) > windowEnd {
			break
		}
		count++
		last = int64(header.Timestamp)
	}

	avgSpacing := float64(0)
	if count > 1 {
		avgSpacing = float64(last-startTime) / float64(count-1)
	}
	return fmt.Sprintf("blocks=%d avgSpacingSeconds=%.1f", count, avgSpacing), nil
}

// cmdMempool summarizes the pool's population and lists ready
// transaction ids.
func (s *Server) cmdMempool(_ []string) (string, error) {
	stats := s.pool.Stats()
	candidates := s.pool.MiningCandidates()
	ids := make([]string, 0, len(candidates))
	for _, desc := range candidates {
		id := desc.Tx.ID()
		ids = append(ids, id.String())
	}
	return fmt.Sprintf("ready=%d pending=%d orphans=%d ids=%s",
		stats.Ready, stats.Pending, stats.Orphans, strings.Join(ids, ",")), nil
}

// cmdHead reports the current best header.
func (s *Server) cmdHead(_ []string) (string, error) {
	tip := s.chain.Tip()
	return fmt.Sprintf("height=%d hash=%s bits=%08x time=%d",
		tip.Height, tip.Hash, tip.Header.Bits, tip.Header.Timestamp), nil
}

// cmdBlockByHeight replies with the hex-encoded serialized block at
// the given height.
func (s *Server) cmdBlockByHeight(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: blok <height>")
	}
	height, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return "", fmt.Errorf("malformed height: %w", err)
	}
	block, err := s.chain.Block(int32(height))
	if err != nil {
		return "", err
	}
	return encodeBlock(block)
}

// cmdBlockByHash replies with the hex-encoded serialized block for the
// given header hash.
func (s *Server) cmdBlockByHash(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: blkn <hash>")
	}
	h, err := hash.NewFromStr(args[0])
	if err != nil {
		return "", fmt.Errorf("malformed hash: %w", err)
	}
	block, err := s.chain.BlockByHash(*h)
	if err != nil {
		return "", err
	}
	return encodeBlock(block)
}

func encodeBlock(block *wire.MsgBlock) (string, error) {
	var buf bytes.Buffer
	if err := block.Encode(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}
