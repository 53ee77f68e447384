package netpeer

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ncnode/ncnode/chain"
	"github.com/ncnode/ncnode/mempool"
	"github.com/ncnode/ncnode/ncutil/hash"
	"github.com/ncnode/ncnode/wire"
)

// sweepInterval is how often Manager's background loop checks every
// connected peer against Overlimit.
const sweepInterval = 10 * time.Second

// headersBatchSize bounds how many headers a single reply message
// carries, matching wire.MaxHeadersPerMsg.
const headersBatchSize = wire.MaxHeadersPerMsg

// Manager owns every connected peer and dispatches their application
// messages into the chain and mempool, generalizing
// network/protocol/protocol.go's Manager (there, one goroutine per
// registered flow per peer; here, one goroutine pair — read and write
// loop — per peer, all driven by the single state machine in peer.go).
type Manager struct {
	cfg      Config
	chain    *chain.Chain
	pool     *mempool.TxPool
	requests *RequestTable
	scores   *Scoreboard

	mu    sync.Mutex
	peers map[string]*Peer
	wg    sync.WaitGroup

	stopCh chan struct{}
}

// NewManager creates a Manager backed by chain and pool, using scores
// to persist misbehavior and back-off decisions.
func NewManager(cfg Config, c *chain.Chain, pool *mempool.TxPool, scores *Scoreboard) *Manager {
	return &Manager{
		cfg:      cfg,
		chain:    c,
		pool:     pool,
		requests: NewRequestTable(),
		scores:   scores,
		peers:    make(map[string]*Peer),
		stopCh:   make(chan struct{}),
	}
}

// PeerCount returns the number of currently connected peers.
func (m *Manager) PeerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peers)
}

// Peers returns a snapshot of every currently connected peer.
func (m *Manager) Peers() []*Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}

// Run starts the background liveness sweep; it blocks until Stop is
// called.
func (m *Manager) Run() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}

// Stop ends the background sweep and disconnects every peer.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.mu.Lock()
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.mu.Unlock()
	for _, p := range peers {
		p.Close(errors.New("netpeer: manager stopping"))
	}
	m.wg.Wait()
}

func (m *Manager) sweep() {
	m.mu.Lock()
	peers := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	m.mu.Unlock()

	now := time.Now()
	for _, p := range peers {
		if over, reason := p.Overlimit(now); over {
			p.Close(errors.New(reason))
		}
	}

	m.scheduleBlockRequests(peers)
}

// scheduleBlockRequests issues getdata for any header in the best-known
// branch whose body has not yet connected, round-robining across
// Ready peers and bounded by the shared request table's
// MaxBlockRequest (spec §4.8).
func (m *Manager) scheduleBlockRequests(peers []*Peer) {
	connected := m.chain.ConnectedTip()
	tip := m.chain.Tip()
	if tip.Height <= connected.Height {
		return
	}

	ready := make([]*Peer, 0, len(peers))
	for _, p := range peers {
		if p.State() == StateReady {
			ready = append(ready, p)
		}
	}
	if len(ready) == 0 {
		return
	}

	for h, i := connected.Height+1, 0; h <= tip.Height; h++ {
		header, ok := m.chain.HeaderAtHeight(h)
		if !ok {
			break
		}
		blockHash := header.BlockHash()
		peer := ready[i%len(ready)]
		i++

		if !m.requests.TryBlock(peer.Addr(), blockHash) {
			continue
		}
		getData := &wire.MsgGetData{}
		if err := getData.AddInvVect(&wire.InvVect{Type: wire.InvTypeBlock, Hash: blockHash}); err != nil {
			continue
		}
		if err := peer.Send(getData); err != nil {
			m.requests.Fulfill(blockHash)
			continue
		}
		peer.MarkBlockRequested()
	}
}

// Listen accepts inbound connections on addr until Stop is called,
// running each one with Serve in its own goroutine.
func (m *Manager) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer ln.Close()
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-m.stopCh:
					return
				default:
					continue
				}
			}
			remote := conn.RemoteAddr().String()
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.Serve(conn, remote, false)
			}()
		}
	}()
	return nil
}

// Connect dials addr and runs the resulting connection until it
// closes. It blocks for the lifetime of the connection; callers
// typically invoke it in its own goroutine per outbound dial.
func (m *Manager) Connect(addr string) error {
	if banned, err := m.scores.IsBanned(addr); err != nil {
		return err
	} else if banned {
		return errors.Errorf("netpeer: %s is backed off", addr)
	}

	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return err
	}
	return m.Serve(conn, addr, true)
}

// Serve registers conn as a peer at addr and runs its read/write
// loops until the connection ends, cleaning up the shared request
// table and peer registry on exit. outbound is true for a connection
// this node dialed, false for one it accepted.
func (m *Manager) Serve(conn net.Conn, addr string, outbound bool) error {
	if banned, err := m.scores.IsBanned(addr); err != nil {
		conn.Close()
		return err
	} else if banned {
		conn.Close()
		return errors.Errorf("netpeer: %s is backed off", addr)
	}

	p := NewPeer(conn, addr, outbound, m.cfg)
	m.mu.Lock()
	m.peers[addr] = p
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.peers, addr)
		m.mu.Unlock()
		m.requests.ReleaseAll(addr)
	}()

	if err := p.Start(); err != nil {
		p.Close(err)
		return err
	}

	m.wg.Add(1)
	writeErrCh := make(chan error, 1)
	go func() {
		defer m.wg.Done()
		writeErrCh <- p.WriteLoop()
	}()

	readErr := p.ReadLoop(m.dispatch)
	p.Close(readErr)
	if penalty, shouldPenalize := misbehaviorPenalty(readErr); shouldPenalize {
		if _, err := m.scores.Penalize(addr, penalty, defaultBackoff); err != nil {
			return err
		}
	}
	<-writeErrCh
	return readErr
}

// misbehaviorPenalty classifies a peer's terminal error as either
// ordinary connection loss (EOF, reset, our own shutdown) or evidence
// of protocol misbehavior worth scoring.
func misbehaviorPenalty(err error) (int32, bool) {
	switch {
	case err == nil:
		return 0, false
	case errors.Is(err, errSelfConnect):
		return 0, false
	case errors.Is(err, errMisbehavedBlock):
		return PenaltyInvalidBlock, true
	case errors.Is(err, errMisbehavedTx):
		return PenaltyInvalidTx, true
	case errors.Is(err, errMisbehavedHeader):
		return PenaltyBadHeader, true
	default:
		return 0, false
	}
}

var (
	errMisbehavedHeader = errors.New("netpeer: peer announced an invalid header")
	errMisbehavedBlock  = errors.New("netpeer: peer announced an invalid block")
	errMisbehavedTx     = errors.New("netpeer: peer relayed an invalid transaction")
)

// dispatch interprets every application-level message a peer's
// ReadLoop hands it (spec §4.8's "Ready operations").
func (m *Manager) dispatch(p *Peer, msg wire.Message) error {
	switch v := msg.(type) {
	case *wire.MsgInv:
		return m.handleInv(p, v)
	case *wire.MsgGetData:
		return m.handleGetData(p, v)
	case *wire.MsgHeaders:
		return m.handleHeaders(p, v)
	case *wire.MsgGetHeaders:
		return m.handleGetHeaders(p, v)
	case *wire.MsgBlock:
		return m.handleBlock(p, v)
	case *wire.MsgTx:
		return m.handleTx(p, v)
	case *wire.MsgMemPool:
		return m.handleMemPool(p)
	case *wire.MsgNotFound:
		for _, iv := range v.InvList {
			m.requests.Fulfill(iv.Hash)
		}
		return nil
	default:
		return nil // addr exchange and other ambient messages are not wired to chain/mempool state
	}
}

// handleInv classifies each announced object and requests whatever is
// unknown and not already claimed by another peer in the shared
// request table.
func (m *Manager) handleInv(p *Peer, inv *wire.MsgInv) error {
	var needHeaders bool
	getData := &wire.MsgGetData{}

	for _, iv := range inv.InvList {
		switch iv.Type {
		case wire.InvTypeBlock:
			if !m.chain.HaveHeader(iv.Hash) {
				needHeaders = true
			}
		case wire.InvTypeTx:
			if m.pool.Have(iv.Hash) || m.pool.WasRejected(iv.Hash) {
				continue
			}
			if !m.pool.ShouldRequest(p.Addr(), iv.Hash) {
				continue
			}
			if !m.requests.TryTx(p.Addr(), iv.Hash) {
				continue
			}
			if err := getData.AddInvVect(iv); err != nil {
				return err
			}
		}
	}

	if needHeaders {
		if err := p.Send(&wire.MsgGetHeaders{
			ProtocolVersion:    p.cfg.ProtocolVersion,
			BlockLocatorHashes: toPtrSlice(m.chain.Locator()),
		}); err != nil {
			return err
		}
	}
	if len(getData.InvList) > 0 {
		return p.Send(getData)
	}
	return nil
}

// handleGetData serves a peer's explicit request for objects by hash,
// replying notfound for anything this node doesn't hold.
func (m *Manager) handleGetData(p *Peer, req *wire.MsgGetData) error {
	notFound := &wire.MsgNotFound{}
	for _, iv := range req.InvList {
		switch iv.Type {
		case wire.InvTypeBlock:
			block, err := m.chain.BlockByHash(iv.Hash)
			if err != nil {
				if err := notFound.AddInvVect(iv); err != nil {
					return err
				}
				continue
			}
			if err := p.Send(block); err != nil {
				return err
			}
		case wire.InvTypeTx:
			tx, ok := m.pool.Tx(iv.Hash)
			if !ok {
				if err := notFound.AddInvVect(iv); err != nil {
					return err
				}
				continue
			}
			if err := p.Send(tx); err != nil {
				return err
			}
		}
	}
	if len(notFound.InvList) > 0 {
		return p.Send(notFound)
	}
	return nil
}

// handleHeaders admits every header offered, scoring and disconnecting
// the peer if one is invalid for a reason other than its parent simply
// not having arrived yet, and immediately requesting the next batch on
// progress (spec §4.8).
func (m *Manager) handleHeaders(p *Peer, msg *wire.MsgHeaders) error {
	admitted := 0
	for _, h := range msg.Headers {
		if m.chain.HaveHeader(h.BlockHash()) {
			continue
		}
		if _, err := m.chain.AcceptHeader(h); err != nil {
			if chain.IsOrphanHeaderError(err) {
				continue
			}
			return errors.Wrap(errMisbehavedHeader, err.Error())
		}
		admitted++
	}
	if admitted == 0 {
		return nil
	}
	return p.Send(&wire.MsgGetHeaders{
		ProtocolVersion:    p.cfg.ProtocolVersion,
		BlockLocatorHashes: toPtrSlice(m.chain.Locator()),
	})
}

// handleGetHeaders replies with up to headersBatchSize headers
// extending the peer's locator.
func (m *Manager) handleGetHeaders(p *Peer, req *wire.MsgGetHeaders) error {
	locator := make([]hash.Hash, 0, len(req.BlockLocatorHashes))
	for _, h := range req.BlockLocatorHashes {
		locator = append(locator, *h)
	}
	headers := m.chain.HeadersAfter(locator, req.HashStop, headersBatchSize)
	reply := &wire.MsgHeaders{Headers: headers}
	return p.Send(reply)
}

// handleBlock hands a received block body to the chain, releasing the
// request reservation regardless of outcome.
func (m *Manager) handleBlock(p *Peer, block *wire.MsgBlock) error {
	h := block.BlockHash()
	m.requests.Fulfill(h)
	p.ClearBlockRequested()

	if err := m.chain.SubmitBlock(context.Background(), block); err != nil {
		return errors.Wrap(errMisbehavedBlock, err.Error())
	}
	return nil
}

// handleTx hands a received transaction to the mempool. An orphan
// (unresolvable input) is not misbehavior — it is ordinary during
// relay races — but any other rejection counts against the peer.
func (m *Manager) handleTx(p *Peer, tx *wire.MsgTx) error {
	id := tx.TxHash()
	m.requests.Fulfill(id)
	m.pool.ForgetRequest(id)

	if _, err := m.pool.ProcessTransaction(tx); err != nil {
		if mempool.IsOrphanError(err) {
			return nil
		}
		return errors.Wrap(errMisbehavedTx, err.Error())
	}
	return nil
}

// handleMemPool replies with an inv snapshot of every ready mempool
// transaction that passes the peer's loaded bloom filter, if any.
func (m *Manager) handleMemPool(p *Peer) error {
	inv := &wire.MsgInv{}
	for _, desc := range m.pool.MiningCandidates() {
		id := *desc.Tx.ID()
		outputs := make([][]byte, 0, len(desc.Tx.MsgTx().TxOut))
		for _, out := range desc.Tx.MsgTx().TxOut {
			outputs = append(outputs, out.ScriptPubKey)
		}
		if !p.MatchesFilter(id[:], outputs) {
			continue
		}
		if err := inv.AddInvVect(&wire.InvVect{Type: wire.InvTypeTx, Hash: id}); err != nil {
			return err
		}
	}
	return p.Send(inv)
}

func toPtrSlice(hashes []hash.Hash) []*hash.Hash {
	out := make([]*hash.Hash, len(hashes))
	for i := range hashes {
		out[i] = &hashes[i]
	}
	return out
}
