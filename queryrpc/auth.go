package queryrpc

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ncnode/ncnode/ncutil/ecc"
)

// challengeOffsets are the five candidate digest offsets, in seconds,
// from the current 10-second-quantized Unix time (spec §6): far
// enough back and forward to absorb clock skew between node and
// client without widening the window a replayed signature could abuse.
var challengeOffsets = [5]int64{-30, -20, -10, 0, 10}

func quantize(t time.Time) int64 {
	return (t.Unix() / 10) * 10
}

// candidateDigests returns the five SHA-256 digests of the
// 10-second-quantized current time a client may sign to authenticate.
func candidateDigests(now time.Time) [5][32]byte {
	base := quantize(now)
	var out [5][32]byte
	for i, off := range challengeOffsets {
		out[i] = sha256.Sum256([]byte(strconv.FormatInt(base+off, 10)))
	}
	return out
}

// LoadAuthorizedKeys reads one compressed-hex secp256k1 public key per
// non-empty, non-comment line from the keys file (spec §6).
func LoadAuthorizedKeys(path string) ([]*ecc.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "queryrpc: failed to read keys file")
	}
	var keys []*ecc.PublicKey
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raw, err := hex.DecodeString(line)
		if err != nil {
			return nil, errors.Wrapf(err, "queryrpc: malformed key %q", line)
		}
		pub, err := ecc.ParsePubKey(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "queryrpc: malformed key %q", line)
		}
		keys = append(keys, pub)
	}
	return keys, nil
}

// LoadServerKey reads the node's own 32-byte hex-encoded scalar from
// path (".private_key" per spec §6), the key the server counter-signs
// an accepted challenge digest with.
func LoadServerKey(path string) (*ecc.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "queryrpc: failed to read private key file")
	}
	raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, errors.Wrap(err, "queryrpc: malformed private key file")
	}
	return ecc.PrivKeyFromScalar(new(big.Int).SetBytes(raw)), nil
}

// EnsureServerKey loads the node's signing key from path, generating
// and persisting a fresh one on first run, mirroring the
// generate-if-absent treatment serverutils.GenCertPair gives the
// teacher's RPC TLS cert pair.
func EnsureServerKey(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return errors.Wrap(err, "queryrpc: failed to stat private key file")
	}

	priv, err := ecc.NewPrivateKey()
	if err != nil {
		return errors.Wrap(err, "queryrpc: failed to generate private key")
	}
	encoded := hex.EncodeToString(priv.Serialize())
	if err := os.WriteFile(path, []byte(encoded+"\n"), 0600); err != nil {
		return errors.Wrap(err, "queryrpc: failed to persist private key")
	}
	return nil
}

// EnsureKeysFile creates an empty keys file at path if one doesn't
// already exist, so a fresh node starts with a query channel no
// client can yet authenticate against rather than failing to start.
func EnsureKeysFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return errors.Wrap(err, "queryrpc: failed to stat keys file")
	}
	header := "# one compressed-hex secp256k1 public key per line\n"
	if err := os.WriteFile(path, []byte(header), 0600); err != nil {
		return errors.Wrap(err, "queryrpc: failed to create keys file")
	}
	return nil
}

func (s *Server) isAuthorizedKey(pub *ecc.PublicKey) bool {
	for _, k := range s.authorizedKeys {
		if k.X.Cmp(pub.X) == 0 && k.Y.Cmp(pub.Y) == 0 {
			return true
		}
	}
	return false
}

// authenticate runs the spec §6 challenge/response handshake on a
// freshly accepted command-channel connection: the server offers five
// candidate digests, the client signs one with a key from the
// authorized list, and the server counter-signs the accepted digest so
// the client can confirm it reached the right node before sending it
// anything sensitive.
func (s *Server) authenticate(rw *bufio.ReadWriter) error {
	digests := candidateDigests(time.Now())
	lines := make([]string, len(digests))
	for i, d := range digests {
		lines[i] = hex.EncodeToString(d[:])
	}
	if _, err := rw.WriteString(strings.Join(lines, " ") + "\n"); err != nil {
		return err
	}
	if err := rw.Flush(); err != nil {
		return err
	}

	line, err := rw.ReadString('\n')
	if err != nil {
		return errors.Wrap(err, "queryrpc: failed to read auth response")
	}
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return errors.New("queryrpc: malformed auth response")
	}

	pubBytes, err := hex.DecodeString(fields[0])
	if err != nil {
		return errors.Wrap(err, "queryrpc: malformed auth public key")
	}
	pub, err := ecc.ParsePubKey(pubBytes)
	if err != nil {
		return err
	}
	if !s.isAuthorizedKey(pub) {
		writeLine(rw, "denied")
		return errors.New("queryrpc: unrecognized key")
	}

	sigBytes, err := hex.DecodeString(fields[1])
	if err != nil {
		return errors.Wrap(err, "queryrpc: malformed auth signature")
	}
	sig, err := ecc.ParseDERSignature(sigBytes, true)
	if err != nil {
		return err
	}

	var accepted *[32]byte
	for i := range digests {
		if ecc.Verify(pub, digests[i][:], sig) {
			accepted = &digests[i]
			break
		}
	}
	if accepted == nil {
		writeLine(rw, "denied")
		return errors.New("queryrpc: signature did not match any candidate digest")
	}

	reply, err := ecc.Sign(s.serverKey, accepted[:])
	if err != nil {
		return err
	}
	return writeLine(rw, "ok "+hex.EncodeToString(reply.SerializeDER()))
}

func writeLine(rw *bufio.ReadWriter, s string) error {
	if _, err := rw.WriteString(s + "\n"); err != nil {
		return err
	}
	return rw.Flush()
}
