package netpeer

import (
	"net"
	"testing"
	"time"

	"github.com/ncnode/ncnode/wire"
)

func testConfig(nonce uint64) Config {
	cfg := DefaultConfig()
	cfg.Net = wire.RegTest
	cfg.Nonce = nonce
	cfg.StartHeight = func() int32 { return 0 }
	cfg.HandshakeTimeout = time.Second
	return cfg
}

func noopDispatch(*Peer, wire.Message) error { return nil }

func TestHandshakeReachesReady(t *testing.T) {
	connA, connB := net.Pipe()

	a := NewPeer(connA, "a", true, testConfig(1))
	b := NewPeer(connB, "b", false, testConfig(2))

	go a.WriteLoop()
	go b.WriteLoop()

	// Both sides send their version before reading, as Manager.Serve does.
	if err := a.Start(); err != nil {
		t.Fatalf("a.Start: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("b.Start: %v", err)
	}

	doneA := make(chan error, 1)
	doneB := make(chan error, 1)
	go func() { doneA <- a.ReadLoop(noopDispatch) }()
	go func() { doneB <- b.ReadLoop(noopDispatch) }()

	deadline := time.After(2 * time.Second)
	for a.State() != StateReady || b.State() != StateReady {
		select {
		case <-deadline:
			t.Fatalf("handshake did not reach Ready: a=%s b=%s", a.State(), b.State())
		case <-time.After(10 * time.Millisecond):
		}
	}

	a.Close(nil)
	b.Close(nil)
	<-doneA
	<-doneB
}

func TestHandshakeRejectsSelfConnect(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	a := NewPeer(connA, "a", true, testConfig(7))
	b := NewPeer(connB, "b", false, testConfig(7))

	go a.WriteLoop()
	go b.WriteLoop()

	doneB := make(chan error, 1)
	go func() { doneB <- b.ReadLoop(noopDispatch) }()
	go a.ReadLoop(noopDispatch)

	if err := a.Start(); err != nil {
		t.Fatalf("a.Start: %v", err)
	}

	select {
	case err := <-doneB:
		if err != errSelfConnect {
			t.Fatalf("expected errSelfConnect, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected b's ReadLoop to exit on matching nonce")
	}
}

func TestOverlimitHandshakeTimeout(t *testing.T) {
	connA, connB := net.Pipe()
	defer connA.Close()
	defer connB.Close()

	cfg := testConfig(1)
	cfg.HandshakeTimeout = 10 * time.Millisecond
	p := NewPeer(connA, "a", true, cfg)

	p.mu.Lock()
	p.pingSent = time.Now().Add(-time.Second)
	p.mu.Unlock()

	over, reason := p.Overlimit(time.Now())
	if !over || reason == "" {
		t.Fatalf("expected overlimit due to handshake timeout, got over=%v reason=%q", over, reason)
	}
	_ = connB
}
