package queryrpc

import (
	"bufio"
	"encoding/hex"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/ncnode/ncnode/ncutil/ecc"
)

func TestCandidateDigestsDeterministicWindow(t *testing.T) {
	now := time.Unix(1_700_000_005, 0)
	digests := candidateDigests(now)

	base := quantize(now)
	if base%10 != 0 {
		t.Fatalf("expected quantized base to be a multiple of 10, got %d", base)
	}

	seen := make(map[[32]byte]bool)
	for _, d := range digests {
		seen[d] = true
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 distinct candidate digests, got %d", len(seen))
	}
}

func TestAuthenticateAcceptsValidSignature(t *testing.T) {
	clientKey, err := ecc.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	serverKey, err := ecc.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}

	s := &Server{
		authorizedKeys: []*ecc.PublicKey{&clientKey.PublicKey},
		serverKey:      serverKey,
	}

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	serverDone := make(chan error, 1)
	go func() {
		rw := bufio.NewReadWriter(bufio.NewReader(serverConn), bufio.NewWriter(serverConn))
		serverDone <- s.authenticate(rw)
	}()

	clientRW := bufio.NewReadWriter(bufio.NewReader(clientConn), bufio.NewWriter(clientConn))
	challengeLine, err := clientRW.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read challenge: %v", err)
	}
	digestHexes := strings.Fields(strings.TrimSpace(challengeLine))
	if len(digestHexes) != 5 {
		t.Fatalf("expected 5 candidate digests, got %d", len(digestHexes))
	}

	digestBytes, err := hex.DecodeString(digestHexes[0])
	if err != nil {
		t.Fatalf("failed to decode digest: %v", err)
	}
	sig, err := ecc.Sign(clientKey, digestBytes)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	pubHex := hex.EncodeToString(clientKey.PublicKey.SerializeCompressed())
	sigHex := hex.EncodeToString(sig.SerializeDER())
	if _, err := clientRW.WriteString(pubHex + " " + sigHex + "\n"); err != nil {
		t.Fatalf("failed to write response: %v", err)
	}
	if err := clientRW.Flush(); err != nil {
		t.Fatalf("failed to flush response: %v", err)
	}

	// net.Pipe is unbuffered: the server's reply write completes only
	// once the client reads it, so read before waiting on serverDone.
	reply, err := clientRW.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read server reply: %v", err)
	}
	if err := <-serverDone; err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(reply), "ok ") {
		t.Fatalf("expected an ok reply, got %q", reply)
	}
}

func TestAuthenticateRejectsUnknownKey(t *testing.T) {
	strangerKey, err := ecc.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	authorizedKey, err := ecc.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	serverKey, err := ecc.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}

	s := &Server{
		authorizedKeys: []*ecc.PublicKey{&authorizedKey.PublicKey},
		serverKey:      serverKey,
	}

	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	serverDone := make(chan error, 1)
	go func() {
		rw := bufio.NewReadWriter(bufio.NewReader(serverConn), bufio.NewWriter(serverConn))
		serverDone <- s.authenticate(rw)
	}()

	clientRW := bufio.NewReadWriter(bufio.NewReader(clientConn), bufio.NewWriter(clientConn))
	challengeLine, err := clientRW.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read challenge: %v", err)
	}
	digestHexes := strings.Fields(strings.TrimSpace(challengeLine))
	digestBytes, _ := hex.DecodeString(digestHexes[0])

	sig, err := ecc.Sign(strangerKey, digestBytes)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	pubHex := hex.EncodeToString(strangerKey.PublicKey.SerializeCompressed())
	sigHex := hex.EncodeToString(sig.SerializeDER())
	clientRW.WriteString(pubHex + " " + sigHex + "\n")
	clientRW.Flush()
	// Drain the "denied" line so the server's write on the pipe completes.
	clientRW.ReadString('\n')

	if err := <-serverDone; err == nil {
		t.Fatal("expected authenticate to reject an unauthorized key")
	}
}
