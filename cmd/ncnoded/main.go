// Command ncnoded runs the full node: chain state machine, mempool,
// peer-to-peer manager, and authenticated query channel, wired
// together the way daglabs-btcd's cmd/kaspad entrypoint assembles its
// equivalent pieces — parse config, open the stores, build the
// services, serve until a signal arrives.
package main

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ncnode/ncnode/blockstore"
	"github.com/ncnode/ncnode/chain"
	"github.com/ncnode/ncnode/chaincfg"
	"github.com/ncnode/ncnode/internal/config"
	"github.com/ncnode/ncnode/logger"
	"github.com/ncnode/ncnode/mempool"
	"github.com/ncnode/ncnode/netpeer"
	"github.com/ncnode/ncnode/queryrpc"
	"github.com/ncnode/ncnode/utxo"
	"github.com/ncnode/ncnode/wire"
)

var log = logger.Get(logger.TagNode)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "ncnoded:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	if err := logger.InitLogRotator(cfg.LogFile()); err != nil {
		return err
	}
	logger.SetLogLevels(cfg.LogLevel)
	log.Infof("starting ncnoded on %s", cfg.Params.Name)

	blocks, err := blockstore.Open(filepath.Join(cfg.DataDir(), "blocks"))
	if err != nil {
		return fmt.Errorf("opening block store: %w", err)
	}
	defer blocks.Close()

	utxoSet, err := utxo.Open(filepath.Join(cfg.DataDir(), "utxo"))
	if err != nil {
		return fmt.Errorf("opening utxo set: %w", err)
	}
	defer utxoSet.Close()

	// pool and c reference each other (the chain pulls confirmed
	// transactions out of the pool, the pool reads the chain's tip
	// height), so the pool is built first against a closure and wired
	// into the chain once c exists.
	var c *chain.Chain
	pool := mempool.New(mempool.Config{
		UTXOSource: utxoSet,
		BestHeight: func() int32 {
			if c == nil {
				return 0
			}
			return c.Tip().Height
		},
		CoinbaseMaturity: cfg.Params.CoinbaseMaturity,
	})

	genesis := chaincfg.Genesis(cfg.Params.Name)
	c, err = chain.New(&cfg.Params, &genesis, blocks, utxoSet, nil, pool)
	if err != nil {
		return fmt.Errorf("initializing chain: %w", err)
	}

	scores, err := netpeer.OpenScoreboard(filepath.Join(cfg.DataDir(), "scoreboard"))
	if err != nil {
		return fmt.Errorf("opening peer scoreboard: %w", err)
	}
	defer scores.Close()

	peerCfg := netpeer.DefaultConfig()
	peerCfg.Net = wire.Network(cfg.Params.Net)
	peerCfg.StartHeight = func() int32 { return c.Tip().Height }
	peerCfg.Nonce = randomNonce()
	peers := netpeer.NewManager(peerCfg, c, pool, scores)

	go mempoolMaintenance(pool)

	go peers.Run()
	defer peers.Stop()

	if err := peers.Listen(cfg.Listen); err != nil {
		return fmt.Errorf("listening for peers on %s: %w", cfg.Listen, err)
	}
	log.Infof("listening for peers on %s", cfg.Listen)

	for _, addr := range cfg.ConnectPeers {
		addr := addr
		go func() {
			if err := peers.Connect(addr); err != nil {
				log.Warnf("connect %s: %v", addr, err)
			}
		}()
	}

	if err := queryrpc.EnsureServerKey(cfg.PrivateKeyFile); err != nil {
		return err
	}
	if err := queryrpc.EnsureKeysFile(cfg.KeysFile); err != nil {
		return err
	}

	rpc, err := queryrpc.New(queryrpc.Config{
		CommandAddr:    cfg.CommandAddr,
		HTTPAddr:       cfg.HTTPAddr,
		KeysFile:       cfg.KeysFile,
		PrivateKeyFile: cfg.PrivateKeyFile,
	}, c, pool, peers)
	if err != nil {
		return fmt.Errorf("starting query channel: %w", err)
	}
	defer rpc.Close()

	go func() {
		if err := rpc.Serve(); err != nil {
			log.Errorf("query channel stopped: %v", err)
		}
	}()
	log.Infof("query channel listening on %s (command) and %s (http/ws)", cfg.CommandAddr, cfg.HTTPAddr)

	go notifyOnNewTip(rpc, c)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Infof("shutting down")
	return nil
}

// randomNonce picks this run's version-message nonce, letting a peer
// that connects to itself (spec §4.8) recognize and drop the loop.
func randomNonce() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(buf[:])
}

// mempoolMaintenance periodically expires transactions that have sat
// unconfirmed longer than the pool's policy allows (spec §5's
// mempool-maintenance background thread). Ten minutes comfortably
// resolves the default 24-hour expiry without busy-polling.
func mempoolMaintenance(pool *mempool.TxPool) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for now := range ticker.C {
		pool.Expire(now)
	}
}

// notifyOnNewTip polls the chain for height changes and pushes them to
// the query channel's websocket subscribers. The chain itself has no
// subscriber hook (spec §4.3 treats tip advancement as a pure state
// transition); polling keeps that package free of the query channel's
// concerns rather than threading a callback through every accept path.
func notifyOnNewTip(rpc *queryrpc.Server, c *chain.Chain) {
	var lastHeight int32 = -1
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		tip := c.Tip()
		if tip.Height == lastHeight {
			continue
		}
		lastHeight = tip.Height
		rpc.NotifyTip(tip.Height, tip.Hash.String())
	}
}
