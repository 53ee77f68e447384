// Package netpeer implements the per-peer connection state machine
// and request scheduling of spec §4.8: a single state machine per
// socket (rather than the teacher's one-goroutine-per-flow design),
// a shared requested-hash table bounding in-flight block/transaction
// requests, and persisted misbehavior scoring.
package netpeer

import (
	"bytes"
	"io"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/ncnode/ncnode/ncutil/bloom"
	"github.com/ncnode/ncnode/wire"
)

// State is a position in the per-peer handshake/liveness state
// machine (spec §4.8).
type State int32

// Recognized states.
const (
	StateConnecting State = iota
	StateHandshakeSent
	StateHandshake
	StateReady
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshakeSent:
		return "handshake-sent"
	case StateHandshake:
		return "handshake"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// errSelfConnect is returned from handling a version message whose
// nonce matches this node's own, meaning the socket looped back to
// itself (a listener accepting its own outbound dial, or two nodes
// racing to connect to each other).
var errSelfConnect = errors.New("netpeer: connected to self")

// Config carries the fields a peer advertises in its own version
// message and the timeouts governing liveness (spec §4.8).
type Config struct {
	Net             wire.Network
	ProtocolVersion uint32
	Services        wire.ServiceFlag
	UserAgent       string
	Nonce           uint64
	StartHeight     func() int32

	HandshakeTimeout time.Duration
	StallTimeout     time.Duration
	MaxMessages      uint64
	MaxLifetime      time.Duration
}

// DefaultConfig fills in the timeouts and limits spec §4.8 names
// explicitly: a peer that fails the initial ping within a reasonable
// cutoff, stalls an in-progress block request for 30s, or exceeds
// 5000 messages or 1800s of lifetime, is disconnected.
func DefaultConfig() Config {
	return Config{
		Net:              wire.MainNet,
		ProtocolVersion:  wire.ProtocolVersion,
		Services:         wire.ServiceFullNode,
		UserAgent:        "/ncnode:0.1.0/",
		HandshakeTimeout: 30 * time.Second,
		StallTimeout:     30 * time.Second,
		MaxMessages:      5000,
		MaxLifetime:      1800 * time.Second,
	}
}

// Peer wraps one socket and its handshake/liveness state. It does not
// know how to interpret application messages (inv, headers, block,
// tx, ...); that dispatch lives in Manager, which owns the chain and
// mempool this peer's messages ultimately feed.
type Peer struct {
	cfg      Config
	conn     net.Conn
	addr     string
	outbound bool

	mu              sync.Mutex
	state           State
	services        wire.ServiceFlag
	userAgent       string
	peerVersion     int32
	peerStartHeight int32
	remoteNonce     uint64

	created      time.Time
	lastRecv     time.Time
	messageCount uint64
	byteCount    uint64

	pingNonce      uint64
	pingSent       time.Time
	verackReceived bool
	pongReceived   bool

	blockReqSince time.Time

	filter *bloom.Filter

	sendCh    chan wire.Message
	closeCh   chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewPeer wraps conn, whose handshake has not yet begun.
func NewPeer(conn net.Conn, addr string, outbound bool, cfg Config) *Peer {
	now := time.Now()
	return &Peer{
		cfg:      cfg,
		conn:     conn,
		addr:     addr,
		outbound: outbound,
		state:    StateConnecting,
		created:  now,
		lastRecv: now,
		sendCh:   make(chan wire.Message, 64),
		closeCh:  make(chan struct{}),
	}
}

// Addr is the peer's dial/accept address, used as its key in the
// shared request table and scoreboard.
func (p *Peer) Addr() string { return p.addr }

// Outbound reports whether this node dialed the connection.
func (p *Peer) Outbound() bool { return p.outbound }

// State returns the peer's current position in the state machine.
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// StartHeight is the block height the peer advertised in its version
// message.
func (p *Peer) StartHeight() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peerStartHeight
}

// UserAgent is the peer's advertised user agent string.
func (p *Peer) UserAgent() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userAgent
}

// MatchesFilter reports whether tx passes the peer's loaded bloom
// filter, testing its id and each output script (BIP37's simplified
// case, since this node does not track a wallet-style watch list
// requiring the full input/outpoint matching rules). A peer with no
// filter loaded matches everything.
func (p *Peer) MatchesFilter(id []byte, outputScripts [][]byte) bool {
	p.mu.Lock()
	f := p.filter
	p.mu.Unlock()
	if f == nil {
		return true
	}
	if f.Matches(id) {
		return true
	}
	for _, script := range outputScripts {
		if f.Matches(script) {
			return true
		}
	}
	return false
}

func (p *Peer) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Start sends this node's version message, the universal first step
// of the state machine on either side of a new connection (Connecting
// -> HandshakeSent).
func (p *Peer) Start() error {
	msg := &wire.MsgVersion{
		ProtocolVersion: int32(p.cfg.ProtocolVersion),
		Services:        p.cfg.Services,
		Timestamp:       time.Now().Unix(),
		Nonce:           p.cfg.Nonce,
		UserAgent:       p.cfg.UserAgent,
		StartHeight:     p.cfg.StartHeight(),
		RelayFlag:       true,
	}
	if err := p.Send(msg); err != nil {
		return err
	}
	p.setState(StateHandshakeSent)
	return nil
}

// Send enqueues msg for delivery; it does not block on the network
// write. It returns an error only if the peer's send queue is full or
// already closing.
func (p *Peer) Send(msg wire.Message) error {
	select {
	case p.sendCh <- msg:
		return nil
	case <-p.closeCh:
		return errors.New("netpeer: peer is closing")
	default:
		return errors.New("netpeer: send queue full")
	}
}

// WriteLoop drains the send queue onto the socket until the peer is
// closed; callers run it in its own goroutine.
func (p *Peer) WriteLoop() error {
	for {
		select {
		case msg := <-p.sendCh:
			if err := wire.WriteMessage(p.conn, msg, p.cfg.Net); err != nil {
				return err
			}
		case <-p.closeCh:
			return nil
		}
	}
}

// ReadLoop blocks reading and decoding messages until the socket
// fails or the peer is closed. Handshake and liveness messages
// (version, verack, ping, pong) and bloom-filter messages (filterload,
// filteradd, filterclear) are handled internally; everything else is
// handed to dispatch for the Manager to interpret.
func (p *Peer) ReadLoop(dispatch func(*Peer, wire.Message) error) error {
	for {
		msg, err := p.readOne()
		if err != nil {
			return err
		}

		p.mu.Lock()
		p.messageCount++
		p.lastRecv = time.Now()
		p.mu.Unlock()

		switch m := msg.(type) {
		case *wire.MsgVersion:
			if err := p.handleVersion(m); err != nil {
				return err
			}
		case *wire.MsgVerAck:
			p.handleVerAck()
		case *wire.MsgPing:
			if err := p.Send(&wire.MsgPong{Nonce: m.Nonce}); err != nil {
				return err
			}
		case *wire.MsgPong:
			p.handlePong(m)
		case *wire.MsgFilterLoad:
			p.mu.Lock()
			p.filter = bloom.LoadFilter(m.Filter, m.HashFuncs, m.Tweak, bloom.UpdateType(m.Flags))
			p.mu.Unlock()
		case *wire.MsgFilterAdd:
			p.mu.Lock()
			if p.filter != nil {
				p.filter.Add(m.Data)
			}
			p.mu.Unlock()
		case *wire.MsgFilterClear:
			p.mu.Lock()
			p.filter = nil
			p.mu.Unlock()
		default:
			if err := dispatch(p, msg); err != nil {
				return err
			}
		}
	}
}

func (p *Peer) readOne() (wire.Message, error) {
	command, length, checksum, err := wire.ReadMessageHeader(p.conn, p.cfg.Net)
	if err != nil {
		return nil, err
	}
	if length > wire.MaxMessagePayload {
		return nil, errors.Errorf("netpeer: message payload of %d bytes exceeds max", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(p.conn, payload); err != nil {
		return nil, errors.Wrap(err, "netpeer: failed to read payload")
	}
	p.mu.Lock()
	p.byteCount += uint64(24 + length)
	p.mu.Unlock()

	if !wire.VerifyChecksum(payload, checksum) {
		return nil, errors.Errorf("netpeer: checksum mismatch for %q", command)
	}

	msg, err := wire.MakeEmptyMessage(command)
	if err != nil {
		return nil, err
	}
	if err := msg.Decode(bytes.NewReader(payload)); err != nil {
		return nil, errors.Wrapf(err, "netpeer: failed to decode %q", command)
	}
	return msg, nil
}

// handleVersion completes the receiving side of the handshake: the
// local state moves to Handshake and a verack and the liveness ping
// are sent.
func (p *Peer) handleVersion(v *wire.MsgVersion) error {
	p.mu.Lock()
	if p.state != StateHandshakeSent && p.state != StateConnecting {
		p.mu.Unlock()
		return errors.New("netpeer: unexpected version message")
	}
	if v.Nonce == p.cfg.Nonce {
		p.mu.Unlock()
		return errSelfConnect
	}
	p.services = v.Services
	p.userAgent = v.UserAgent
	p.peerVersion = v.ProtocolVersion
	p.peerStartHeight = v.StartHeight
	p.remoteNonce = v.Nonce
	p.state = StateHandshake
	p.mu.Unlock()

	if err := p.Send(&wire.MsgVerAck{}); err != nil {
		return err
	}
	return p.sendPing()
}

func (p *Peer) sendPing() error {
	nonce := rand.Uint64()
	p.mu.Lock()
	p.pingNonce = nonce
	p.pingSent = time.Now()
	p.mu.Unlock()
	return p.Send(&wire.MsgPing{Nonce: nonce})
}

// handleVerAck records the peer's acknowledgement of this node's
// version; Ready requires both this and a matching pong (spec §4.8).
func (p *Peer) handleVerAck() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateHandshake {
		return
	}
	p.verackReceived = true
	if p.verackReceived && p.pongReceived {
		p.state = StateReady
	}
}

func (p *Peer) handlePong(pong *wire.MsgPong) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pong.Nonce != p.pingNonce {
		return
	}
	p.pongReceived = true
	if p.state == StateHandshake && p.verackReceived && p.pongReceived {
		p.state = StateReady
	}
}

// MarkBlockRequested records that a block request is now outstanding
// to this peer, starting the 30s stall clock.
func (p *Peer) MarkBlockRequested() {
	p.mu.Lock()
	p.blockReqSince = time.Now()
	p.mu.Unlock()
}

// ClearBlockRequested clears the stall clock once the block arrives
// (or the request is abandoned).
func (p *Peer) ClearBlockRequested() {
	p.mu.Lock()
	p.blockReqSince = time.Time{}
	p.mu.Unlock()
}

// Overlimit reports whether the peer has violated one of the bounds
// spec §4.8 names — initial ping cutoff, stalled block request,
// message count, or connection lifetime — and a description of which.
func (p *Peer) Overlimit(now time.Time) (bool, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateReady && !p.pingSent.IsZero() && now.Sub(p.pingSent) > p.cfg.HandshakeTimeout {
		return true, "did not complete handshake ping within cutoff"
	}
	if !p.blockReqSince.IsZero() && now.Sub(p.blockReqSince) > p.cfg.StallTimeout {
		return true, "block request stalled"
	}
	if p.messageCount > p.cfg.MaxMessages {
		return true, "exceeded maximum message count"
	}
	if now.Sub(p.created) > p.cfg.MaxLifetime {
		return true, "exceeded maximum connection lifetime"
	}
	return false, ""
}

// Close transitions the peer to Closing and releases its socket. It
// is safe to call more than once and from any goroutine; only the
// first call's reason is retained.
func (p *Peer) Close(reason error) {
	p.closeOnce.Do(func() {
		p.setState(StateClosing)
		p.closeErr = reason
		close(p.closeCh)
		p.conn.Close()
	})
}

// CloseErr returns the reason passed to the first Close call, if any.
func (p *Peer) CloseErr() error { return p.closeErr }
