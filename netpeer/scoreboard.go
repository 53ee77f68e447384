package netpeer

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
)

// banScoreThreshold is the accumulated misbehavior score past which an
// address is refused a dial until its back-off expires (spec §4.8's
// "persisted per-address score is decremented so that repeat offenders
// are not re-dialed").
const banScoreThreshold = 100

// defaultBackoff is how long a banned address is withheld from the
// dialer once its score crosses the threshold.
const defaultBackoff = time.Hour

// Misbehavior penalties named by spec §4.8 and its edge cases.
const (
	PenaltyBadHeader    = 5  // header's targetBits violates retargeting by >4x (edge case 6)
	PenaltyInvalidBlock = 20
	PenaltyInvalidTx    = 10
	PenaltyProtocol     = 100 // immediate-ban score; misbehaviorPenalty assigns it to no error, so malformed framing and oversized messages close the connection unscored
)

// Scoreboard is the persisted per-address misbehavior record, grounded
// on addressmanager.go's Ban/Unban/IsBanned address bookkeeping,
// generalized here to an accumulating numeric score (the teacher's
// AddressManager itself only tracks a boolean ban, not a score) and
// made durable across restarts with a leveldb backend, the same
// persistence idiom utxo.Set uses for its shards.
type Scoreboard struct {
	db *leveldb.DB
}

// OpenScoreboard opens (creating if absent) the scoreboard at dir.
func OpenScoreboard(dir string) (*Scoreboard, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, errors.Wrap(err, "netpeer: failed to open scoreboard")
	}
	return &Scoreboard{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Scoreboard) Close() error { return s.db.Close() }

type record struct {
	score      int32
	bannedFrom int64 // unix seconds; zero means not banned
	backoff    int64 // seconds
}

func (r record) serialize() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(r.score))
	binary.LittleEndian.PutUint64(buf[4:12], uint64(r.bannedFrom))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(r.backoff))
	return buf
}

func deserializeRecord(data []byte) (record, error) {
	if len(data) != 16 {
		return record{}, errors.New("netpeer: malformed scoreboard record")
	}
	return record{
		score:      int32(binary.LittleEndian.Uint32(data[0:4])),
		bannedFrom: int64(binary.LittleEndian.Uint64(data[4:12])),
		backoff:    int64(binary.LittleEndian.Uint32(data[12:16])),
	}, nil
}

func (s *Scoreboard) get(addr string) (record, error) {
	data, err := s.db.Get([]byte(addr), nil)
	if err == leveldb.ErrNotFound {
		return record{}, nil
	}
	if err != nil {
		return record{}, err
	}
	return deserializeRecord(data)
}

// Penalize adds penalty to addr's accumulated score, banning it (with
// the given back-off duration) once the threshold is crossed. Returns
// whether the address is now banned.
func (s *Scoreboard) Penalize(addr string, penalty int32, backoff time.Duration) (banned bool, err error) {
	rec, err := s.get(addr)
	if err != nil {
		return false, err
	}
	rec.score += penalty
	if rec.score >= banScoreThreshold && rec.bannedFrom == 0 {
		rec.bannedFrom = time.Now().Unix()
		if backoff <= 0 {
			backoff = defaultBackoff
		}
		rec.backoff = int64(backoff / time.Second)
	}
	if err := s.db.Put([]byte(addr), rec.serialize(), nil); err != nil {
		return false, err
	}
	return rec.bannedFrom != 0, nil
}

// IsBanned reports whether addr is currently withheld from dialing.
// A ban whose back-off has elapsed is cleared (score reset) and
// reports false.
func (s *Scoreboard) IsBanned(addr string) (bool, error) {
	rec, err := s.get(addr)
	if err != nil {
		return false, err
	}
	if rec.bannedFrom == 0 {
		return false, nil
	}
	if time.Now().Unix() >= rec.bannedFrom+rec.backoff {
		return false, s.db.Delete([]byte(addr), nil)
	}
	return true, nil
}

// Forgive clears addr's record outright, used when an operator
// manually unbans a peer.
func (s *Scoreboard) Forgive(addr string) error {
	return s.db.Delete([]byte(addr), nil)
}
